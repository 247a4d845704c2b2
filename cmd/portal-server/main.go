package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/portal/internal/config"
	"github.com/ehr/portal/internal/domain/patient"
	"github.com/ehr/portal/internal/flows"
	"github.com/ehr/portal/internal/platform/auth"
	"github.com/ehr/portal/internal/platform/db"
	"github.com/ehr/portal/internal/tui"
	"github.com/ehr/portal/internal/wizard"
	"github.com/ehr/portal/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "portal-server",
		Short:         "Clinical portal wizard API",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(flowsCmd())
	root.AddCommand(wizardCmd())
	return root
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg))
		},
	}
}

func openPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	}, logger)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	migrator := func(cmd *cobra.Command) (*db.Migrator, func(), error) {
		dir, _ := cmd.Flags().GetString("dir")
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		pool, err := openPool(cmd.Context(), cfg, newLogger(cfg))
		if err != nil {
			return nil, nil, err
		}
		if dir == "" {
			return db.NewMigrator(pool, migrations.FS, "."), pool.Close, nil
		}
		return db.NewMigrator(pool, os.DirFS(dir), "."), pool.Close, nil
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeFn, err := migrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := m.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeFn, err := migrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the demo patients into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			pool, err := openPool(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			created := seedPatients(cmd.Context(), patient.NewService(patient.NewRepo(pool)), logger)
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d patient(s).\n", created)
			return nil
		},
	}
}

// seedPatients creates the fixture patients, skipping any that fail (usually
// because they already exist).
func seedPatients(ctx context.Context, svc *patient.Service, logger zerolog.Logger) int {
	created := 0
	for _, p := range patient.Fixtures() {
		if err := svc.CreatePatient(ctx, p); err != nil {
			logger.Warn().Err(err).Str("patient_id", p.ID).Msg("skipping patient")
			continue
		}
		created++
	}
	return created
}

func flowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flows",
		Short: "Inspect the configured wizards",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List wizards with their steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			reg, err := registry(cfg, mockBackend(), flows.Options{})
			if err != nil {
				return err
			}
			printFlows(cmd, reg)
			return nil
		},
	})
	return cmd
}

func printFlows(cmd *cobra.Command, reg *flows.Registry) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-12s %-22s %-10s %s\n", "FLOW", "TITLE", "ROLE", "STEPS")
	for _, f := range reg.List() {
		keys := f.Engine.Flow().Keys()
		steps := make([]string, len(keys))
		for i, k := range keys {
			steps[i] = string(k)
		}
		fmt.Fprintf(out, "%-12s %-22s %-10s %s\n", f.Name(), f.Title(), f.Role, strings.Join(steps, " > "))
	}
}

func registry(cfg *config.Config, backend flows.Backend, opts flows.Options) (*flows.Registry, error) {
	catalog, err := flows.LoadCatalogFile(cfg.FlowCatalog)
	if err != nil {
		return nil, err
	}
	opts.IncludePrescriptions = cfg.IncludePrescriptions
	return flows.NewRegistry(backend, catalog, opts)
}

func wizardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wizard",
		Short: "Run a wizard in the terminal",
	}

	runCmd := &cobra.Command{
		Use:   "run <flow>",
		Short: "Walk through a wizard interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, _ := cmd.Flags().GetString("patient")
			user, _ := cmd.Flags().GetString("user")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			accessible, _ := cmd.Flags().GetBool("accessible")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// Console output belongs to the forms; keep the log quiet.
			logger := newLogger(cfg).Level(zerolog.WarnLevel)
			ctx := auth.WithIdentity(cmd.Context(), user, roles)

			d, err := buildDeps(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer d.close()

			out := cmd.OutOrStdout()
			reg, err := registry(cfg, d.backend, flows.Options{
				Logger: logger,
				Navigation: wizard.NavigationFunc(func(path string) {
					fmt.Fprintf(out, "→ %s\n", path)
				}),
			})
			if err != nil {
				return err
			}
			f, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			if !f.Allows(roles) {
				return fmt.Errorf("%s requires the %s role", f.Name(), f.Role)
			}

			var pre wizard.Precondition
			if patientID != "" {
				p, err := d.backend.GetPatient(ctx, patientID)
				if err != nil {
					return fmt.Errorf("patient %s: %w", patientID, err)
				}
				pre = wizard.Precondition{ID: p.ID, Label: p.FullName()}
			}

			runner := tui.NewRunner(f.Engine, tui.HuhPrompter{Accessible: accessible}, out,
				tui.WithUpload(flows.StepUpload, fileUploader(d.files, user)))
			res, err := runner.Run(ctx, pre)
			if err != nil {
				return err
			}
			if res.Cancelled {
				return nil
			}
			fmt.Fprintln(out, tui.Summary(f.Engine.Flow(), res.State))
			return nil
		},
	}
	runCmd.Flags().String("patient", "", "Patient ID to start with")
	runCmd.Flags().String("user", "terminal", "User the records are created as")
	runCmd.Flags().StringSlice("roles", []string{auth.RoleDoctor, auth.RoleLabStaff}, "Roles of the user")
	runCmd.Flags().Bool("accessible", false, "Use plain line prompts")
	cmd.AddCommand(runCmd)
	return cmd
}
