package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ayusman/watchpost/internal/config"
)

// configCommand prints or writes the effective configuration.
func configCommand(opts *options) *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long:  "Print the configuration after applying defaults, the config file and WATCHPOST_* environment variables. With --write, save it as the default config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.load()
			if err != nil {
				return err
			}
			if write {
				path := opts.configPath
				if path == "" {
					dir, err := config.DefaultDir()
					if err != nil {
						return err
					}
					path = filepath.Join(dir, "config.yaml")
				}
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config file %s already exists", path)
				}
				if err := s.WriteFile(path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
				return nil
			}

			data, err := s.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "Write the configuration to the config file instead of printing it")
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "watchpost %s\n", version)
		},
	}
}
