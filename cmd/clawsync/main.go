package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

const longHelp = `clawsync ships OpenClaw agent logs to the Pixan logging API.

Each sync run reads the lines appended to today's log file since the last
run, classifies them into events, posts every event to the API and records
how far it got in a checkpoint file.

Commands:
  sync     run once and exit
  watch    run on every change to the log file and on a fixed interval
  serve    run the logging API that receives the events
  replay   re-deliver events from the dead letter file`

var exampleUsage = strings.TrimSpace(`
  clawsync sync
  clawsync watch --config /etc/clawsync/config.yaml
  DATABASE_URL=postgres://localhost/pixan clawsync serve
  clawsync replay --log-level debug
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "clawsync",
		Short:         "Ship OpenClaw agent logs to the Pixan logging API",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", os.Getenv("CLAWSYNC_CONFIG"), "path to the YAML configuration file (defaults apply when absent)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format: json or console")

	root.AddCommand(
		newSyncCommand(flags),
		newWatchCommand(flags),
		newServeCommand(flags),
		newReplayCommand(flags),
	)
	return root
}

func main() {
	root := newRootCommand(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
