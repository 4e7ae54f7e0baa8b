// Package export writes stakeholder CSV exports.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/TobiSchelling/nscreview/internal/database"
)

// Export types.
const (
	Conditions = "conditions"
	Individual = "individual"
)

// Types lists the supported export types with their labels.
var Types = []database.Choice{
	{Value: Conditions, Label: "Conditions"},
	{Value: Individual, Label: "Individual contacts"},
}

// Filter narrows the exported stakeholders. Empty fields match everything.
type Filter struct {
	Name      string
	Condition string
	Country   string
}

func (f Filter) match(s database.Stakeholder, policies []string) bool {
	if f.Name != "" && !containsFold(s.Name, f.Name) {
		return false
	}
	if f.Country != "" && !s.InCountry(f.Country) {
		return false
	}
	if f.Condition != "" {
		for _, p := range policies {
			if containsFold(p, f.Condition) {
				return true
			}
		}
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(strings.TrimSpace(sub)))
}

// Filename returns the download name for an export type.
func Filename(exportType string) string {
	return fmt.Sprintf("stakeholders-%s.csv", exportType)
}

// Exporter reads stakeholders from the database and writes CSV.
type Exporter struct {
	db *database.DB
}

// New creates an exporter.
func New(db *database.DB) *Exporter {
	return &Exporter{db: db}
}

// Write writes the export of the given type to w.
func (e *Exporter) Write(ctx context.Context, w io.Writer, exportType string, f Filter) error {
	switch exportType {
	case Conditions:
		return e.writeConditions(ctx, w, f)
	case Individual:
		return e.writeIndividual(ctx, w, f)
	default:
		return fmt.Errorf("unknown export type %q", exportType)
	}
}

func (e *Exporter) stakeholders(ctx context.Context, f Filter) ([]database.Stakeholder, map[int64][]string, error) {
	all, err := e.db.ListStakeholders(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing stakeholders: %w", err)
	}
	policies, err := e.db.StakeholderPolicyNames(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing stakeholder conditions: %w", err)
	}
	var out []database.Stakeholder
	for _, s := range all {
		if f.match(s, policies[s.ID]) {
			out = append(out, s)
		}
	}
	return out, policies, nil
}

func (e *Exporter) writeConditions(ctx context.Context, w io.Writer, f Filter) error {
	stakeholders, policies, err := e.stakeholders(ctx, f)
	if err != nil {
		return err
	}

	header := []string{"Stakeholder name", "Stakeholder Type"}
	for _, c := range database.Countries {
		header = append(header, "Country: "+c.Label)
	}
	header = append(header, "Website", "Twitter", "Comments", "Show on website", "Conditions interested in")

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, s := range stakeholders {
		row := []string{s.Name, database.ChoiceLabel(database.StakeholderTypes, s.Type)}
		for _, c := range database.Countries {
			row = append(row, flag(s.InCountry(c.Value)))
		}
		row = append(row, s.URL, s.Twitter, s.Comments, flag(s.IsPublic), strings.Join(policies[s.ID], ", "))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (e *Exporter) writeIndividual(ctx context.Context, w io.Writer, f Filter) error {
	stakeholders, _, err := e.stakeholders(ctx, f)
	if err != nil {
		return err
	}
	keep := make(map[int64]bool, len(stakeholders))
	for _, s := range stakeholders {
		keep[s.ID] = true
	}
	contacts, err := e.db.ListContacts(ctx)
	if err != nil {
		return fmt.Errorf("listing contacts: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Stakeholder name", "Contact Name", "Contact Email", "Contact Role", "Contact Phone"}); err != nil {
		return err
	}
	for _, c := range contacts {
		if !keep[c.StakeholderID] {
			continue
		}
		if err := cw.Write([]string{c.StakeholderName, c.Name, c.Email, c.Role, c.Phone}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func flag(b bool) string {
	if b {
		return "y"
	}
	return ""
}
