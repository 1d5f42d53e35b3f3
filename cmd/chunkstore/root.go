package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chunkstore/internal/config"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	out := &outputOptions{}
	var logLevel string

	cmd := &cobra.Command{
		Use:           "chunkstore",
		Short:         "Chunkstore is a content-addressed, chunked blob store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if out.JSON && out.YAML {
				return fmt.Errorf("--json and --yaml are mutually exclusive")
			}
			warning, err := configureLoggerForCLI(logLevel, cfg.LogLevel)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&out.JSON, "json", false, "output JSON")
	cmd.PersistentFlags().BoolVar(&out.YAML, "yaml", false, "output YAML")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newBlobCmd(cfg, out),
		newPutCmd(cfg, out),
		newAssembleCmd(cfg, out),
		newCatCmd(cfg),
		newGetCmd(cfg, out),
		newListCmd(cfg, out),
		newShowCmd(cfg, out),
		newRmCmd(cfg, out),
		newInfoCmd(cfg, out),
		newGCCmd(cfg, out),
		newWorkerCmd(cfg),
		newSrvCmd(cfg),
		newPushCmd(cfg, out),
		newTokenCmd(),
		newConfigCmd(cfg, out),
		newMigrateCmd(cfg, out),
	)

	return cmd
}
