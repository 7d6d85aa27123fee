package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/refiner/internal/config"
	"github.com/ehr/refiner/internal/domain/condition"
	"github.com/ehr/refiner/internal/platform/ccda"
	"github.com/ehr/refiner/internal/platform/db"
	"github.com/ehr/refiner/internal/refiner"
	"github.com/ehr/refiner/internal/refiner/codeset"
	"github.com/ehr/refiner/internal/refiner/section"
	"github.com/ehr/refiner/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "refiner-server",
		Short:         "eCR document refiner",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(refineCmd())
	rootCmd.AddCommand(normalizeCmd())
	rootCmd.AddCommand(sectionsCmd())
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger.Level(cfg.Level())
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the refiner API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if len(cfg.SearchScope) > 0 {
				if _, err := codeset.BuildPredicate(codeset.New(), cfg.SearchScope); err != nil {
					return fmt.Errorf("SEARCH_SCOPE: %w", err)
				}
			}
			return runServer(cfg, newLogger(cfg))
		},
	}
}

func refineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refine",
		Short: "Refine an eICR and RR pair offline against a YAML configuration store",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			eicrPath, _ := flags.GetString("eicr")
			rrPath, _ := flags.GetString("rr")
			storePath, _ := flags.GetString("config")
			jurisdiction, _ := flags.GetString("jurisdiction")
			sections, _ := flags.GetStringSlice("section")
			scope, _ := flags.GetStringSlice("scope")
			outDir, _ := flags.GetString("out")
			workers, _ := flags.GetInt("workers")

			eicr, err := os.ReadFile(eicrPath)
			if err != nil {
				return err
			}
			rr, err := os.ReadFile(rrPath)
			if err != nil {
				return err
			}
			store, err := condition.LoadStoreFile(storePath)
			if err != nil {
				return err
			}

			logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger().Level(zerolog.WarnLevel)
			r := refiner.New(condition.NewService(store, store, store), refiner.Options{Workers: workers}, logger, nil)

			docs, err := r.Refine(cmd.Context(), refiner.Request{
				EICR:          string(eicr),
				RR:            string(rr),
				Jurisdiction:  jurisdiction,
				ForceSections: sections,
				Scope:         scope,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(docs) == 0 {
				fmt.Fprintln(out, "No reportable conditions matched.")
				return nil
			}

			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return err
				}
				for _, d := range docs {
					if err := os.WriteFile(filepath.Join(outDir, d.ConditionCode+"_eicr.xml"), []byte(d.RefinedEICR), 0o644); err != nil {
						return err
					}
					if err := os.WriteFile(filepath.Join(outDir, d.ConditionCode+"_rr.xml"), []byte(d.RefinedRR), 0o644); err != nil {
						return err
					}
				}
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CONDITION\tNAME\tSIZE DELTA")
			for _, d := range docs {
				fmt.Fprintf(w, "%s\t%s\t%d%%\n", d.ConditionCode, d.DisplayName, d.SizeDeltaPercent)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("eicr", "", "Path to the eICR document")
	cmd.Flags().String("rr", "", "Path to the reportability response")
	cmd.Flags().String("config", "config/conditions.yaml", "Path to the YAML condition store")
	cmd.Flags().String("jurisdiction", "", "Jurisdiction whose custom codes and section policies apply")
	cmd.Flags().StringSlice("section", nil, "LOINC section code to keep unfiltered (repeatable)")
	cmd.Flags().StringSlice("scope", nil, "Element names searched for codes (defaults to the clinical entry elements)")
	cmd.Flags().String("out", "", "Directory for <condition>_eicr.xml and <condition>_rr.xml")
	cmd.Flags().Int("workers", 1, "Condition passes to run at once")
	_ = cmd.MarkFlagRequired("eicr")
	_ = cmd.MarkFlagRequired("rr")
	return cmd
}

func normalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <file>",
		Short: "Print the normalized form of a CDA document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			out, err := ccda.Normalize(string(raw))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
}

func sectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sections",
		Short: "Print the effective section policy table",
		RunE: func(cmd *cobra.Command, args []string) error {
			storePath, _ := cmd.Flags().GetString("config")
			policyPath, _ := cmd.Flags().GetString("policies")
			jurisdiction, _ := cmd.Flags().GetString("jurisdiction")

			table, err := effectivePolicies(cmd.Context(), storePath, policyPath, jurisdiction)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME\tACTION\tREQUIRED")
			for _, p := range table.Policies() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", p.Code, p.Name, p.Action, p.Required)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("config", "", "Path to the YAML condition store")
	cmd.Flags().String("policies", "", "Path to a standalone section policy YAML file")
	cmd.Flags().String("jurisdiction", "", "Jurisdiction to resolve policies for")
	return cmd
}

// effectivePolicies resolves a standalone policy file first, then a
// jurisdiction in the store, then the default table.
func effectivePolicies(ctx context.Context, storePath, policyPath, jurisdiction string) (section.PolicyTable, error) {
	if policyPath != "" {
		f, err := os.Open(policyPath)
		if err != nil {
			return section.PolicyTable{}, err
		}
		defer f.Close()
		return section.LoadPolicyTable(f)
	}
	if storePath == "" {
		return section.DefaultPolicyTable(), nil
	}
	store, err := condition.LoadStoreFile(storePath)
	if err != nil {
		return section.PolicyTable{}, err
	}
	return condition.NewService(store, store, store).SectionPolicies(ctx, jurisdiction)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run configuration database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
				fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
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
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
		cmd.AddCommand(c)
	}
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator, schema string) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}
	schema, _ := cmd.Flags().GetString("schema")
	if schema == "" {
		schema = cfg.DBSchema
	}

	ctx := cmd.Context()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrations.FS), schema)
}
