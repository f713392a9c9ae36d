// Command sensorbridge streams the color camera, infrared camera and
// microphone of a multi-modal sensor to WebSocket subscribers.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCommand().Execute(); err != nil {
		return 1
	}
	return 0
}

// newRootCommand builds the command tree. Without a subcommand the root
// behaves like serve.
func newRootCommand() *cobra.Command {
	opts := &ServeOptions{}

	root := &cobra.Command{
		Use:           "sensorbridge",
		Short:         "Bridge a color/infrared/audio sensor to streaming subscribers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportErr(runServe(cmd.Context(), opts))
		},
	}
	root.Flags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(NewServeCommand())
	root.AddCommand(NewLUTCommand())
	return root
}

// reportErr logs err, if any, and passes it through so the exit code is set.
func reportErr(err error) error {
	if err != nil {
		slog.Error("sensorbridge failed", "err", err)
	}
	return err
}

// newLogger returns the process logger. Its level follows lv, so a config
// reload can change verbosity without a restart.
func newLogger(lv *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}
