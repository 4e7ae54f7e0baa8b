package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/export"
	"github.com/TobiSchelling/nscreview/internal/legacy"
	"github.com/TobiSchelling/nscreview/internal/notify"
	"github.com/TobiSchelling/nscreview/internal/review"
)

// --- token command ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage delivery receipt tokens",
}

var tokenAddCmd = &cobra.Command{
	Use:   "add [label]",
	Short: "Generate a receipt token",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		label := ""
		if len(args) > 0 {
			label = args[0]
		}
		token, err := notify.GenerateToken()
		if err != nil {
			return fmt.Errorf("generating token: %w", err)
		}
		rt, err := db.CreateReceiptToken(cmd.Context(), token, label)
		if err != nil {
			return err
		}
		fmt.Printf("Added token [%d]: %s\n", rt.ID, rt.Token)
		fmt.Println("Configure Notify to send callbacks with: Authorization: bearer <token>")
		return nil
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List receipt tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.ListReceiptTokens(cmd.Context())
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No tokens. Add one with: nscreview token add")
			return nil
		}
		for _, t := range items {
			fmt.Printf("  [%d] %s  %s  %s\n", t.ID, truncate(t.Token, 8), t.CreatedAt, t.Label)
		}
		return nil
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke [id]",
	Short: "Revoke a receipt token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid token ID: %s", args[0])
		}
		ok, err := db.DeleteReceiptToken(cmd.Context(), id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("token %d not found", id)
		}
		fmt.Printf("Revoked token [%d]\n", id)
		return nil
	},
}

// --- stakeholders command ---

var stakeholdersCmd = &cobra.Command{
	Use:   "stakeholders",
	Short: "Manage stakeholders and their contacts",
}

var stakeholdersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stakeholders with their conditions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		items, err := db.ListStakeholders(ctx)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No stakeholders. Add one with: nscreview stakeholders add")
			return nil
		}
		names, err := db.StakeholderPolicyNames(ctx)
		if err != nil {
			return err
		}
		fmt.Println(headingStyle.Render("Stakeholders"))
		for _, st := range items {
			fmt.Printf("  [%d] %s  %s\n", st.ID, labelStyle.Render(truncate(st.Name, 48)),
				database.ChoiceLabel(database.StakeholderTypes, st.Type))
			if len(names[st.ID]) > 0 {
				fmt.Printf("      %s\n", strings.Join(names[st.ID], ", "))
			}
		}
		return nil
	},
}

var (
	stakeholderType       string
	stakeholderCountries  []string
	stakeholderPublic     bool
	stakeholderConditions []string
)

var stakeholdersAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add a stakeholder interested in one or more conditions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		var ids []int64
		for _, slug := range stakeholderConditions {
			p, err := a.db.GetPolicyBySlug(ctx, slug)
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("condition %q not found", slug)
			}
			ids = append(ids, p.ID)
		}
		st, err := a.reviews().CreateStakeholder(ctx, review.StakeholderInput{
			Name:      args[0],
			Type:      stakeholderType,
			Countries: stakeholderCountries,
			IsPublic:  &stakeholderPublic,
			PolicyIDs: ids,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Added stakeholder [%d]: %s\n", st.ID, st.Name)
		return nil
	},
}

var (
	contactRole  string
	contactEmail string
	contactPhone string
)

var stakeholdersContactCmd = &cobra.Command{
	Use:   "contact [stakeholder-id] [name]",
	Short: "Add a contact to a stakeholder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stakeholder ID: %s", args[0])
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.reviews().AddContact(cmd.Context(), id, review.ContactInput{
			Name:  args[1],
			Role:  contactRole,
			Email: contactEmail,
			Phone: contactPhone,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Added contact [%d] to %s\n", c.ID, c.StakeholderName)
		return nil
	},
}

// --- reviews command ---

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "Inspect reviews",
}

var reviewsSearch string

var reviewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reviews with their derived status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		q := db.Reviews()
		if reviewsSearch != "" {
			q = q.Search(reviewsSearch)
		}
		items, err := q.List(ctx)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No reviews.")
			return nil
		}

		memo := review.NewStatusMemo(db, db.Today())
		fmt.Println(headingStyle.Render("Reviews"))
		for i := range items {
			r := &items[i]
			status, err := memo.Status(ctx, r)
			if err != nil {
				return err
			}
			name := truncate(r.Name, 48)
			if r.IsLegacy {
				name += " (imported)"
			}
			fmt.Printf("  %s %s  %s\n", labelStyle.Render(status.Label()), name, r.Slug)
		}
		return nil
	},
}

// --- export command ---

var exportOutput string

var exportCmd = &cobra.Command{
	Use:       "export [conditions|individual]",
	Short:     "Export stakeholders as CSV",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{export.Conditions, export.Individual},
	RunE: func(cmd *cobra.Command, args []string) error {
		if !database.IsChoice(export.Types, args[0]) {
			return fmt.Errorf("unknown export type %q", args[0])
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		var w io.Writer = os.Stdout
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return export.New(db).Write(cmd.Context(), w, args[0], export.Filter{})
	},
}

// --- import-legacy command ---

var importLegacyCmd = &cobra.Command{
	Use:   "import-legacy",
	Short: "Import conditions and reviews from the legacy feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		im := legacy.New(db, cfg.Legacy.FeedURL, cfg.Legacy.Timeout, logger)
		conditions, err := im.ImportConditions(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Conditions: %d created, %d skipped, %d failed\n", conditions.Created, conditions.Skipped, conditions.Failed)

		reviews, err := im.ImportReviews(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Reviews: %d created, %d skipped, %d failed\n", reviews.Created, reviews.Skipped, reviews.Failed)
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenAddCmd)
	tokenCmd.AddCommand(tokenListCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)

	stakeholdersAddCmd.Flags().StringVarP(&stakeholderType, "type", "t", database.StakeholderOther, "Stakeholder type")
	stakeholdersAddCmd.Flags().StringSliceVar(&stakeholderCountries, "country", nil, "Country the stakeholder operates in (repeatable)")
	stakeholdersAddCmd.Flags().BoolVar(&stakeholderPublic, "public", false, "Publish the stakeholder on condition pages")
	stakeholdersAddCmd.Flags().StringSliceVarP(&stakeholderConditions, "condition", "c", nil, "Slug of a condition of interest (repeatable)")
	stakeholdersContactCmd.Flags().StringVar(&contactRole, "role", "", "Contact's role")
	stakeholdersContactCmd.Flags().StringVar(&contactEmail, "email", "", "Contact's email address")
	stakeholdersContactCmd.Flags().StringVar(&contactPhone, "phone", "", "Contact's phone number")
	stakeholdersCmd.AddCommand(stakeholdersListCmd)
	stakeholdersCmd.AddCommand(stakeholdersAddCmd)
	stakeholdersCmd.AddCommand(stakeholdersContactCmd)

	reviewsListCmd.Flags().StringVarP(&reviewsSearch, "search", "s", "", "Only reviews whose name contains this text")
	reviewsCmd.AddCommand(reviewsListCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to a file instead of stdout")

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(stakeholdersCmd)
	rootCmd.AddCommand(reviewsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importLegacyCmd)
}
