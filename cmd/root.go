package cmd

import (
	"context"
	"errors"

	"github.com/bnema/wl-clicker/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version is set during build
	Version = "0.1.0-dev"

	// startClicker runs the clicker once the configuration is known
	startClicker = runClicker
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "wl-clicker [clicks-per-second]",
		Short: "wl-clicker - keypress autoclicker for Wayland",
		Long: `wl-clicker clicks the mouse while F8 is held, or between two presses of F8
in toggle mode. Clicks are sent through the wlr virtual pointer protocol and
land wherever the pointer currently is.

The rate defaults to one click per second. Reading the keyboard requires
access to /dev/input, usually through membership of the 'input' group.`,
		Example: `  wl-clicker 20           # 20 clicks per second while F8 is held
  wl-clicker 10 -t -b 1   # toggle right clicks at 10 per second`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
				return usageError(cmd, err)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, args)
			if err != nil {
				if errors.Is(err, config.ErrInvalidArgument) {
					return usageError(cmd, err)
				}
				return err
			}
			return startClicker(cmd.Context(), cfg)
		},
	}

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)
	rootCmd.SetFlagErrorFunc(usageError)

	flags := rootCmd.Flags()
	flags.IntP("button", "b", 0, "mouse button to click: 0 left, 1 right, 2 middle")
	flags.BoolP("toggle", "t", false, "toggle clicking on each F8 press instead of holding F8")
	flags.StringP("device", "d", "", "keyboard event device (default: detect)")
	flags.String("log-level", "", "log level: debug, info, warn or error (default: $LOG_LEVEL or info)")

	_ = v.BindPFlag("button", flags.Lookup("button"))
	_ = v.BindPFlag("toggle", flags.Lookup("toggle"))
	_ = v.BindPFlag("device", flags.Lookup("device"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = config.BindEnv(v)

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return newRootCmd().ExecuteContext(context.Background())
}

// usageError prints the usage text to stderr and passes err through
func usageError(cmd *cobra.Command, err error) error {
	cmd.PrintErr(cmd.UsageString())
	return err
}
