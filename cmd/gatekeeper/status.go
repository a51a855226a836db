package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"clearpath-hq/gatekeeper/pkg/cli"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := clientContext()
		defer cancel()

		status, err := controlClient().Status(ctx)
		if err != nil {
			return cli.NewCommandError("status", err)
		}
		if outputFormat == "json" {
			return formatter().FormatTo(os.Stdout, status)
		}

		fmt.Printf("mode        %s\n", status.Mode)
		fmt.Printf("watch mode  %t\n", status.WatchMode)
		fmt.Printf("cache size  %d\n", status.CacheSize)
		if status.EventCount >= 0 {
			fmt.Printf("events      %d\n", status.EventCount)
		}
		fmt.Printf("version     %s\n", status.Version)
		fmt.Printf("uptime      %s\n", time.Duration(status.UptimeSeconds*float64(time.Second)).Round(time.Second))
		fmt.Println("rules:")
		fmt.Printf("  binary       %d\n", status.RuleCounts.Binary)
		fmt.Printf("  certificate  %d\n", status.RuleCounts.Certificate)
		fmt.Printf("  compiler     %d\n", status.RuleCounts.Compiler)
		fmt.Printf("  transitive   %d\n", status.RuleCounts.Transitive)
		fmt.Printf("  teamid       %d\n", status.RuleCounts.TeamID)
		fmt.Printf("  signingid    %d\n", status.RuleCounts.SigningID)
		fmt.Printf("  cdhash       %d\n", status.RuleCounts.CDHash)
		fmt.Printf("  cel          %d\n", status.RuleCounts.CEL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
