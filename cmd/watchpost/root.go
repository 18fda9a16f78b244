package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ayusman/watchpost/internal/config"
)

// options are the values shared by every subcommand.
type options struct {
	v          *viper.Viper
	configPath string
}

// load reads the effective configuration: defaults, file, environment and
// bound flags, in increasing precedence.
func (o *options) load() (*config.Settings, error) {
	return config.Load(o.v, o.configPath)
}

func rootCommand() *cobra.Command {
	opts := &options{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "watchpost",
		Short:         "Camera object detection with remote control",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config.yaml (default: ./config.yaml or ~/.watchpost/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json")

	if err := bindFlags(opts.v, rootCmd, map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
	}); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		runCommand(opts),
		configCommand(opts),
		versionCommand(),
	)
	return rootCmd
}

// bindFlags binds config keys to persistent or local flags of cmd.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			flag = cmd.PersistentFlags().Lookup(name)
		}
		if flag == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("error binding flag %q: %w", name, err)
		}
	}
	return nil
}
