package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/nscreview/internal/cache"
	"github.com/TobiSchelling/nscreview/internal/config"
	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/events"
	"github.com/TobiSchelling/nscreview/internal/export"
	"github.com/TobiSchelling/nscreview/internal/health"
	"github.com/TobiSchelling/nscreview/internal/logging"
	"github.com/TobiSchelling/nscreview/internal/notify"
	"github.com/TobiSchelling/nscreview/internal/review"
	"github.com/TobiSchelling/nscreview/internal/scan"
	"github.com/TobiSchelling/nscreview/internal/scheduler"
	"github.com/TobiSchelling/nscreview/internal/server"
	"github.com/TobiSchelling/nscreview/internal/signer"
	"github.com/TobiSchelling/nscreview/internal/storage"
	"github.com/TobiSchelling/nscreview/internal/tasks"
)

var version = "dev"

var (
	verbose      bool
	configPath   string
	resolvedPath string
	cfg          *config.Config
	logger       zerolog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "nscreview",
	Short:   "Screening policy review service",
	Long:    "nscreview manages screening policy reviews, public consultations and the emails that go with them.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			logger = logging.New(logging.Config{Level: "info", Service: "nscreview", Version: version})
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		resolvedPath = path

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger = logging.New(logging.Config{
			Level:   level,
			Format:  cfg.Logging.Format,
			Service: "nscreview",
			Version: version,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("nscreview", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/nscreview/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the database, Notify templates and the admin allow-list.")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		fmt.Printf("Database is up to date (%s).\n", cfg.Database.Driver)
		return nil
	},
}

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle   = lipgloss.NewStyle().Width(22).Foreground(lipgloss.Color("#AAAAAA"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E0A030"))
)

func printRow(label string, value any) {
	fmt.Println("  " + labelStyle.Render(label) + fmt.Sprint(value))
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and email status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Today: %s\n\n", db.Today())
		fmt.Println(headingStyle.Render("Reviews"))
		printRow("Total", stats.Reviews)
		printRow("Imported", stats.LegacyReviews)
		fmt.Println(headingStyle.Render("Conditions"))
		printRow("Total", stats.Policies)
		printRow("Active", stats.ActivePolicies)
		fmt.Println(headingStyle.Render("Stakeholders"))
		printRow("Organisations", stats.Stakeholders)
		printRow("Contacts", stats.Contacts)
		printRow("Subscriptions", stats.Subscriptions)

		fmt.Println(headingStyle.Render("Emails"))
		if len(stats.EmailsByStatus) == 0 {
			fmt.Println("  none")
		}
		statuses := make([]string, 0, len(stats.EmailsByStatus))
		for s := range stats.EmailsByStatus {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			label := s
			if notify.Status(s) == notify.TooManyAttempts || notify.Status(s) == notify.PermanentFailure {
				label = warnStyle.Render(s)
			}
			printRow(label, stats.EmailsByStatus[s])
		}
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sig, err := a.requireSigner()
		if err != nil {
			return err
		}
		client, err := a.notifyClient()
		if err != nil {
			return err
		}

		srv, err := server.New(server.Deps{
			DB:       a.db,
			Reviews:  a.reviews(),
			Store:    a.store,
			Notify:   client,
			Signer:   sig,
			Pages:    a.pages,
			Exporter: export.New(a.db),
			Config:   cfg,
			Log:      logger,
		})
		if err != nil {
			return err
		}

		stopListen, err := events.Listen(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger, a.invalidate)
		if err != nil {
			return fmt.Errorf("subscribing to events: %w", err)
		}
		defer stopListen()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error { return srv.ListenAndServe(ctx) })
		g.Go(func() error {
			return config.Watch(ctx, resolvedPath, logger, func(next *config.Config) {
				if err := srv.SetAdminAllowList(next.AdminAllowedIPs()); err != nil {
					logger.Warn().Err(err).Msg("keeping previous admin allow-list")
					return
				}
				logger.Info().Strs("allowed_ips", next.AdminAllowedIPs()).Msg("admin allow-list updated")
			})
		})

		logger.Info().Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).Msg("server starting")
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
}

// --- worker command ---

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the scheduled email tasks until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		runner, err := a.taskRunner()
		if err != nil {
			return err
		}
		sched, err := scheduler.New(cfg.Worker.Schedule, runner, 10*time.Minute, logger)
		if err != nil {
			return err
		}
		hs := health.New(logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error { return sched.Run(ctx) })
		g.Go(func() error {
			hs.Monitor(ctx, 15*time.Second, a.db.Ping)
			return nil
		})
		if cfg.Worker.GRPCPort > 0 {
			g.Go(func() error { return hs.ListenAndServe(ctx, cfg.Worker.GRPCPort) })
		}
		return g.Wait()
	},
}

// app holds the collaborators shared by the commands.
type app struct {
	db         *database.DB
	store      *storage.Store
	pages      *cache.Cache
	pub        events.Publisher
	closeEvent func()
}

func newApp() (*app, error) {
	db, err := openDB()
	if err != nil {
		return nil, err
	}
	pub, closeEvents, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return &app{
		db:         db,
		store:      storage.New(cfg.GetStorageRoot()),
		pages:      cache.New(cfg.Cache.Size, cfg.Cache.TTL),
		pub:        pub,
		closeEvent: closeEvents,
	}, nil
}

func (a *app) Close() {
	a.closeEvent()
	a.db.Close()
}

// invalidate drops cached pages for the policies of the review named in an
// event published by another process, typically the worker.
func (a *app) invalidate(subject string, ev events.Event) {
	if ev.Review == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := a.db.GetReviewBySlug(ctx, ev.Review)
	if err != nil || r == nil {
		a.pages.Purge()
		return
	}
	links, err := a.db.GetReviewPolicies(ctx, r.ID)
	if err != nil {
		a.pages.Purge()
		return
	}
	slugs := make([]string, 0, len(links))
	for _, l := range links {
		slugs = append(slugs, l.PolicySlug)
	}
	n := a.pages.InvalidatePolicies(slugs...)
	logger.Debug().Str("subject", subject).Str("review", ev.Review).Int("count", n).Msg("cache invalidated")
}

func (a *app) scanner() scan.Scanner {
	if !cfg.Scanner.Enabled {
		return scan.Disabled{}
	}
	return scan.NewClamAV(cfg.Scanner.Address, cfg.Scanner.Timeout, logger)
}

func (a *app) reviews() *review.Service {
	return review.NewService(a.db, a.store, a.scanner(), a.pub, a.pages, logger)
}

func (a *app) requireSigner() (*signer.Signer, error) {
	secret := cfg.SecretKey()
	if secret == "" {
		return nil, fmt.Errorf("no signing secret: set $%s", cfg.Security.SecretKeyEnv)
	}
	return signer.New(secret), nil
}

// notifyClient returns the GOV.UK Notify client, or a client that only logs
// when sending is disabled.
func (a *app) notifyClient() (notify.Client, error) {
	if !cfg.Notify.Enabled {
		return notify.NewLogClient(logger), nil
	}
	client, err := notify.NewNotifyClient(cfg.Notify.BaseURL, cfg.NotifyAPIKey(), cfg.Notify.Timeout)
	if err != nil {
		return nil, fmt.Errorf("notify client: %w", err)
	}
	return client, nil
}

func (a *app) reviewTasks() (*review.Tasks, error) {
	sig, err := a.requireSigner()
	if err != nil {
		return nil, err
	}
	d := review.NewDispatcher(a.db, sig, cfg.Notify, cfg.Server.BaseURL, a.pub, logger)
	return review.NewTasks(a.db, d, a.pages, a.pub, logger), nil
}

func (a *app) taskRunner() (*tasks.Runner, error) {
	client, err := a.notifyClient()
	if err != nil {
		return nil, err
	}
	notifier, err := a.reviewTasks()
	if err != nil {
		return nil, err
	}
	sender := notify.NewSender(a.db, client, cfg.Notify, logger)
	return tasks.New(a.db, sender, notifier, cfg.Notify.StaleAfter, logger), nil
}

func openDB() (*database.DB, error) {
	db, err := database.Open(cfg.Database.Driver, cfg.GetDSN(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func printResult(res *tasks.Result) error {
	for i, t := range res.Tasks {
		fmt.Printf("\nTask %d/%d: %s\n", i+1, len(res.Tasks), t.Name)
		if t.Err != nil {
			fmt.Printf("  Error: %v\n", t.Err)
		} else {
			fmt.Printf("  %s\n", t.Summary)
		}
	}
	if res.Failed() {
		return errors.New("one or more tasks failed")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
