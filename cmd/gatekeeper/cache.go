package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"clearpath-hq/gatekeeper/pkg/cli"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and flush the decision cache",
}

var cacheCheckFlags struct {
	device uint64
	inode  uint64
}

var cacheCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Show the cached decision for a file",
	Long: `Show the cached decision for the file identified by device and inode
numbers (stat the file to obtain them).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := clientContext()
		defer cancel()

		resp, err := controlClient().CheckCache(ctx, cacheCheckFlags.device, cacheCheckFlags.inode)
		if err != nil {
			return cli.NewCommandError("cache check", err)
		}
		if !resp.Found {
			fmt.Println("no cached decision")
			return nil
		}
		if outputFormat == "json" {
			return formatter().FormatTo(os.Stdout, resp)
		}
		fmt.Printf("verdict  %s\n", resp.Verdict)
		fmt.Printf("reason   %s\n", resp.Reason)
		if resp.RuleType != "" {
			fmt.Printf("rule     %s %s\n", resp.RuleType, resp.RuleIdentifier)
		}
		return nil
	},
}

var cacheFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Drop every cached decision",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := clientContext()
		defer cancel()

		resp, err := controlClient().FlushCache(ctx)
		if err != nil {
			return cli.NewCommandError("cache flush", err)
		}
		fmt.Printf("✓ %d cache entries flushed\n", resp.Flushed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheCheckCmd, cacheFlushCmd)

	cacheCheckCmd.Flags().Uint64Var(&cacheCheckFlags.device, "device", 0, "device number")
	cacheCheckCmd.Flags().Uint64Var(&cacheCheckFlags.inode, "inode", 0, "inode number")
	_ = cacheCheckCmd.MarkFlagRequired("device")
	_ = cacheCheckCmd.MarkFlagRequired("inode")
}
