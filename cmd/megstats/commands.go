package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"megstats/app"
	"megstats/domain/cluster"
	"megstats/domain/core"
	"megstats/domain/run"
	"megstats/internal"
	"megstats/internal/config"
	"megstats/internal/container"
	"megstats/internal/migration"
	"megstats/internal/rejection"
	"megstats/ports"
	"megstats/ui"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string

	config *config.Config
	logger *internal.Logger
}

// init loads the dotenv file, then the configuration it may override
func (o *rootOptions) init() error {
	if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", o.envFile, err)
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	o.config = cfg
	o.logger = internal.NewLogger(internal.ParseLogLevel(level))
	return nil
}

func (o *rootOptions) container(ctx context.Context) (*container.Container, error) {
	return container.New(ctx, o.config, o.logger)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAssembleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "assemble",
		Short: "Write every group average the cohort design defines",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			out, err := c.AssemblyService().Run(ctx)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newClusterCmd(opts *rootOptions) *cobra.Command {
	var (
		group, groupB, timepoint, name string
		all                            bool
	)

	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Run spatio-temporal cluster permutation tests",
		Long: `Run one cluster test, or with --all a one-sample test for every
post-pre and condition-contrast average the design defines.

Example: megstats cluster --group GrandAvg --timepoint post-pre --name letter-language
         megstats cluster --group LanguageIntervention --group-b LetterIntervention --timepoint post-pre --name letter`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			svc, err := c.ClusterService()
			if err != nil {
				return err
			}

			if all {
				outcomes, err := svc.RunAll(ctx, c.Config.ClusterParams(cluster.KindOneSample))
				for _, o := range outcomes {
					opts.logger.Info("%s", o)
				}
				if err != nil {
					return err
				}
				return printJSON(outcomes)
			}

			if group == "" || timepoint == "" || name == "" {
				return fmt.Errorf("--group, --timepoint and --name are required without --all")
			}
			tp, err := core.ParseTimepoint(timepoint)
			if err != nil {
				return err
			}
			kind := cluster.KindOneSample
			if groupB != "" {
				kind = cluster.KindTwoSample
			}
			out, err := svc.Run(ctx, app.ClusterRequest{
				Params:    c.Config.ClusterParams(kind),
				Group:     core.GroupName(group),
				GroupB:    core.GroupName(groupB),
				Timepoint: tp,
				Name:      core.Condition(name),
			})
			if err != nil {
				return err
			}
			opts.logger.Info("%s", out)
			return printJSON(out)
		},
	}

	cmd.Flags().StringVar(&group, "group", "", "group (sample A for two-sample tests)")
	cmd.Flags().StringVar(&groupB, "group-b", "", "second group; selects a two-sample test")
	cmd.Flags().StringVar(&timepoint, "timepoint", "", "pre, post or post-pre")
	cmd.Flags().StringVar(&name, "name", "", "condition or condition contrast")
	cmd.Flags().BoolVar(&all, "all", false, "test every post-pre and contrast average")
	return cmd
}

func newExtractCmd(opts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "extract [stems...]",
		Short: "Extract significant clusters into workbooks, plots and reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			stems := args
			if all {
				if stems, err = c.Layout.ClusterStems(); err != nil {
					return err
				}
			}
			if len(stems) == 0 {
				return fmt.Errorf("no cluster stems given; pass stems or --all")
			}

			outcomes, err := c.ExtractionService().ExtractAll(ctx, stems)
			if err != nil {
				return err
			}
			return printJSON(outcomes)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "extract every cluster archive in the output directory")
	return cmd
}

func newRejectCmd(opts *rootOptions) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "reject <epochs.npy>...",
		Short: "Select a peak-to-peak rejection threshold by cross-validation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			cfg := rejection.Config{
				Thresholds: c.Config.Reject.Thresholds,
				Folds:      c.Config.Reject.Folds,
				Workers:    workers,
			}
			svc := c.RejectionService()
			var outcomes []*app.RejectionOutcome
			for _, path := range args {
				out, err := svc.Select(ctx, path, cfg)
				if err != nil {
					return err
				}
				outcomes = append(outcomes, out)
			}
			return printJSON(outcomes)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "parallel threshold evaluations (0 = GOMAXPROCS)")
	return cmd
}

func newRunsCmd(opts *rootOptions) *cobra.Command {
	var (
		stage, label string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if len(args) == 1 {
				m, err := c.Ledger.GetRun(ctx, core.RunID(args[0]))
				if err != nil {
					return err
				}
				return printJSON(m)
			}
			runs, err := c.Ledger.ListRuns(ctx, ports.RunFilters{Stage: run.Stage(stage), Label: label, Limit: limit})
			if err != nil {
				return err
			}
			for _, m := range runs {
				fmt.Printf("%s  %-8s  %s  %s  %d\n", m.CreatedAt, m.Stage, m.RunID, m.Label, m.Significant)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "assemble, cluster, extract or reject")
	cmd.Flags().StringVar(&label, "label", "", "only runs with this label")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum runs listed")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Browse runs and extraction reports over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if port == "" {
				port = c.Config.UI.Port
			}
			browser, err := ui.NewApp(ui.Config{Port: port}, c.Ledger, c.Layout, opts.logger)
			if err != nil {
				return err
			}
			return browser.Start()
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (default ui.port)")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the run ledger tables in postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if dsn == "" {
				dsn = opts.config.Ledger.DSN
			}
			if dsn == "" {
				return fmt.Errorf("no database: set ledger.dsn or pass --dsn")
			}
			db, err := container.Connect(ctx, dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			runner := migration.NewRunner()
			if err := runner.Run(ctx, db); err != nil {
				return err
			}
			opts.logger.Info("run ledger schema at version %s", runner.Version())
			return nil
		},
	}

	cmd.Flags().StringVar(&dsn, "dsn", "", "postgres connection string (default ledger.dsn)")
	return cmd
}
