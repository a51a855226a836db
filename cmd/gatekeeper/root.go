package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"clearpath-hq/gatekeeper/pkg/cli"
	"clearpath-hq/gatekeeper/pkg/config"
	"clearpath-hq/gatekeeper/pkg/control"
)

var (
	// Global flags
	cfgFile       string
	serverAddress string
	outputFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Gatekeeper - endpoint binary-authorization agent",
	Long: `Gatekeeper is an endpoint binary-authorization agent.

It decides, per execution attempt, whether a binary may run based on a local
rule database, with a single-flight decision cache so each binary is
evaluated exactly once no matter how many processes race to launch it.

The daemon (gatekeeper run) exposes a loopback control API; the other
subcommands talk to it:
  - Rule management (add, remove, lookup, count, export, import)
  - Decision cache inspection and flushing
  - Daemon status`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&serverAddress, "server", "", "control API address (default: from config)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json)")
}

// controlAddress resolves the control API address for client subcommands:
// the --server flag wins, then the config file if readable, then the
// built-in default.
func controlAddress() string {
	if serverAddress != "" {
		return serverAddress
	}
	if cfg, err := config.LoadConfig(cfgFile); err == nil {
		return cfg.Control.ListenAddress
	}
	return config.DefaultConfig().Control.ListenAddress
}

// controlClient builds the control API client for client subcommands.
func controlClient() *control.Client {
	return control.NewClient(controlAddress())
}

// formatter returns the output formatter selected by --output.
func formatter() cli.Formatter {
	return cli.NewFormatter(cli.OutputFormat(outputFormat))
}
