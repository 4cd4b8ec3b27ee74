package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "megstats",
		Short:         "Group averaging and cluster permutation statistics for source-space MEG",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "megstats.yaml", "study configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log_level (error, warn, info, debug, trace)")

	rootCmd.AddCommand(
		newAssembleCmd(opts),
		newClusterCmd(opts),
		newExtractCmd(opts),
		newRejectCmd(opts),
		newRunsCmd(opts),
		newServeCmd(opts),
		newMigrateCmd(opts),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
