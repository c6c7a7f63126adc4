// Package cmd assembles the audiostream command tree.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/audiostream/cmd/bench"
	"github.com/tphakala/audiostream/cmd/config"
	"github.com/tphakala/audiostream/cmd/devices"
	"github.com/tphakala/audiostream/cmd/play"
	"github.com/tphakala/audiostream/internal/app"
)

// flagKeys maps command-line flags to the settings they override.
var flagKeys = map[string]string{
	"debug":   "debug",
	"workers": "scheduler.workers",
	"virtual": "device.virtual",
	"loop":    "stream.loop",
	"backend": "device.backend",
	"device":  "device.name",
}

// RootCommand creates and returns the root command
func RootCommand(rt *app.Runtime) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "audiostream",
		Short:        "Lock-free audio streaming engine",
		Version:      rt.Info.Version(),
		SilenceUsage: true,
	}

	// Set up the global flags for the root command.
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file, default searches the user config directory")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().IntP("workers", "w", 0, "Worker goroutines, 0 sizes the pool from the CPU")

	rootCmd.AddCommand(
		play.Command(rt),
		bench.Command(rt),
		devices.Command(rt),
		config.Command(rt),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if err := bindFlags(cmd); err != nil {
			return err
		}
		return rt.Init(configFile)
	}

	return rootCmd
}

// bindFlags makes flags set on the command line take precedence over the
// config file and the environment.
func bindFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	for flag, key := range flagKeys {
		f := flags.Lookup(flag)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}
