package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chunkstore/internal/config"
)

type configEntry struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

func newConfigCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or change configuration",
	}

	cmd.AddCommand(
		newConfigGetCmd(cfg),
		newConfigListCmd(cfg, out),
		newConfigSetCmd(),
	)
	return cmd
}

func newConfigGetCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:       "get <key>",
		Short:     "Print the effective value of one key",
		Args:      cobra.ExactArgs(1),
		ValidArgs: config.AllowedKeys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := effectiveValue(cfg, args[0])
			if err != nil {
				return err
			}
			return writePlain("%s\n", value)
		},
	}
}

func newConfigListCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every key with its effective value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := config.AllowedKeys()
			entries := make([]configEntry, 0, len(keys))
			for _, key := range keys {
				value, err := cfg.Get(key)
				if err != nil {
					return err
				}
				entries = append(entries, configEntry{Key: key, Value: value})
			}
			if out.structured() {
				return out.write(entries)
			}
			for _, entry := range entries {
				if err := writePlain("%s = %s\n", entry.Key, entry.Value); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:       "set <key> <value>",
		Short:     "Write one key to the project or global config file",
		Args:      cobra.ExactArgs(2),
		ValidArgs: config.AllowedKeys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			pathFn := config.ProjectPath
			if global {
				pathFn = config.GlobalPath
			}
			path, err := pathFn()
			if err != nil {
				return err
			}
			return config.SetKey(path, args[0], args[1])
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "write to the global config (~/.chunkstore.toml)")
	return cmd
}

func effectiveValue(cfg *config.Config, key string) (string, error) {
	if !config.IsAllowedKey(key) {
		return "", fmt.Errorf("unknown key: %s (allowed: %v)", key, config.AllowedKeys())
	}
	return cfg.Get(key)
}
