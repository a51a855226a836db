package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"clearpath-hq/gatekeeper/pkg/cli"
	"clearpath-hq/gatekeeper/pkg/control"
	"clearpath-hq/gatekeeper/pkg/rule"
)

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Manage authorization rules on a running daemon",
}

var ruleAddFlags struct {
	policy     string
	ruleType   string
	identifier string
	message    string
	url        string
	comment    string
	celExpr    string
	cleanup    string
}

var ruleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an authorization rule",
	Long: `Add an authorization rule to the running daemon.

Examples:
  # Block a binary by content hash
  gatekeeper rule add --policy BLOCKLIST --rule-type BINARY --identifier <sha256>

  # Allow everything signed by a team
  gatekeeper rule add --policy ALLOWLIST --rule-type TEAMID --identifier EQHXZ8M8AV

  # Mark a compiler as trusted
  gatekeeper rule add --policy ALLOWLIST_COMPILER --rule-type BINARY --identifier <sha256>

  # Add a CEL rule on a signing ID
  gatekeeper rule add --policy CEL --rule-type SIGNINGID \
    --identifier "EQHXZ8M8AV:com.example.tool" \
    --cel-expr 'target.team_id == "EQHXZ8M8AV"'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := clientContext()
		defer cancel()

		resp, err := controlClient().AddRules(ctx, control.AddRulesRequest{
			Rules: []rule.FileRule{{
				Policy:     ruleAddFlags.policy,
				RuleType:   ruleAddFlags.ruleType,
				Identifier: ruleAddFlags.identifier,
				CustomMsg:  ruleAddFlags.message,
				CustomURL:  ruleAddFlags.url,
				Comment:    ruleAddFlags.comment,
				CELExpr:    ruleAddFlags.celExpr,
			}},
			Cleanup: ruleAddFlags.cleanup,
		})
		if err != nil {
			return cli.NewCommandError("rule add", err)
		}
		fmt.Printf("✓ %d rule(s) applied\n", resp.Applied)
		return nil
	},
}

var ruleRemoveFlags struct {
	ruleType   string
	identifier string
}

var ruleRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove an authorization rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := clientContext()
		defer cancel()

		// Removal is a sync with a tombstone rule.
		resp, err := controlClient().AddRules(ctx, control.AddRulesRequest{
			Rules: []rule.FileRule{{
				Policy:     "REMOVE",
				RuleType:   ruleRemoveFlags.ruleType,
				Identifier: ruleRemoveFlags.identifier,
			}},
		})
		if err != nil {
			return cli.NewCommandError("rule remove", err)
		}
		fmt.Printf("✓ %d rule(s) removed\n", resp.Applied)
		return nil
	},
}

var ruleLookupFlags control.LookupRequest

var ruleLookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Look up the rule that would match a binary",
	Long: `Look up the first rule matching the supplied identifiers, tried in
precedence order (CDHash, binary hash, signing ID, certificate, team ID).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := clientContext()
		defer cancel()

		resp, err := controlClient().LookupRule(ctx, ruleLookupFlags)
		if err != nil {
			return cli.NewCommandError("rule lookup", err)
		}
		if !resp.Found {
			fmt.Println("no matching rule")
			return nil
		}
		return formatter().FormatTo(os.Stdout, resp.Rule)
	},
}

var ruleCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Show per-category rule counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := clientContext()
		defer cancel()

		counts, err := controlClient().RuleCounts(ctx)
		if err != nil {
			return cli.NewCommandError("rule count", err)
		}
		if outputFormat == "json" {
			return formatter().FormatTo(os.Stdout, counts)
		}
		fmt.Printf("binary       %d\n", counts.Binary)
		fmt.Printf("certificate  %d\n", counts.Certificate)
		fmt.Printf("compiler     %d\n", counts.Compiler)
		fmt.Printf("transitive   %d\n", counts.Transitive)
		fmt.Printf("teamid       %d\n", counts.TeamID)
		fmt.Printf("signingid    %d\n", counts.SigningID)
		fmt.Printf("cdhash       %d\n", counts.CDHash)
		fmt.Printf("cel          %d\n", counts.CEL)
		return nil
	},
}

var ruleExportFlags struct {
	file string
}

var ruleExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export active rules to a rule file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := clientContext()
		defer cancel()

		out := os.Stdout
		if ruleExportFlags.file != "" {
			f, err := os.Create(ruleExportFlags.file)
			if err != nil {
				return cli.NewCommandError("rule export", err)
			}
			defer f.Close()
			out = f
		}
		if err := controlClient().ExportRules(ctx, out); err != nil {
			return cli.NewCommandError("rule export", err)
		}
		if ruleExportFlags.file != "" {
			fmt.Printf("✓ Rules exported to %s\n", ruleExportFlags.file)
		}
		return nil
	},
}

var ruleImportFlags struct {
	file    string
	cleanup string
}

var ruleImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import rules from a rule file",
	Long: `Import rules from a rule file.

With --cleanup all, every existing rule is replaced; with
--cleanup non_transitive, engine-written transitive allow rules survive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := clientContext()
		defer cancel()

		cleanup, err := rule.ParseCleanup(ruleImportFlags.cleanup)
		if err != nil {
			return cli.NewCommandError("rule import", err)
		}

		f, err := os.Open(ruleImportFlags.file)
		if err != nil {
			return cli.NewCommandError("rule import", err)
		}
		defer f.Close()

		resp, err := controlClient().ImportRules(ctx, f, cleanup)
		if err != nil {
			return cli.NewCommandError("rule import", err)
		}
		fmt.Printf("✓ %d rule(s) imported\n", resp.Applied)
		return nil
	},
}

// clientContext bounds one control API call.
func clientContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func init() {
	rootCmd.AddCommand(ruleCmd)
	ruleCmd.AddCommand(ruleAddCmd, ruleRemoveCmd, ruleLookupCmd, ruleCountCmd, ruleExportCmd, ruleImportCmd)

	ruleAddCmd.Flags().StringVar(&ruleAddFlags.policy, "policy", "", "rule policy (ALLOWLIST, BLOCKLIST, SILENT_BLOCKLIST, ALLOWLIST_COMPILER, CEL)")
	ruleAddCmd.Flags().StringVar(&ruleAddFlags.ruleType, "rule-type", "", "rule type (BINARY, CERTIFICATE, TEAMID, SIGNINGID, CDHASH)")
	ruleAddCmd.Flags().StringVar(&ruleAddFlags.identifier, "identifier", "", "rule identifier")
	ruleAddCmd.Flags().StringVar(&ruleAddFlags.message, "message", "", "custom message shown on block")
	ruleAddCmd.Flags().StringVar(&ruleAddFlags.url, "url", "", "custom URL shown on block")
	ruleAddCmd.Flags().StringVar(&ruleAddFlags.comment, "comment", "", "administrative comment")
	ruleAddCmd.Flags().StringVar(&ruleAddFlags.celExpr, "cel-expr", "", "CEL expression (policy CEL only)")
	ruleAddCmd.Flags().StringVar(&ruleAddFlags.cleanup, "cleanup", "", "cleanup mode before insertion (none, all, non_transitive)")
	_ = ruleAddCmd.MarkFlagRequired("policy")
	_ = ruleAddCmd.MarkFlagRequired("rule-type")
	_ = ruleAddCmd.MarkFlagRequired("identifier")

	ruleRemoveCmd.Flags().StringVar(&ruleRemoveFlags.ruleType, "rule-type", "", "rule type (BINARY, CERTIFICATE, TEAMID, SIGNINGID, CDHASH)")
	ruleRemoveCmd.Flags().StringVar(&ruleRemoveFlags.identifier, "identifier", "", "rule identifier")
	_ = ruleRemoveCmd.MarkFlagRequired("rule-type")
	_ = ruleRemoveCmd.MarkFlagRequired("identifier")

	ruleLookupCmd.Flags().StringVar(&ruleLookupFlags.CDHash, "cdhash", "", "code directory hash")
	ruleLookupCmd.Flags().StringVar(&ruleLookupFlags.BinarySHA256, "sha256", "", "binary content hash")
	ruleLookupCmd.Flags().StringVar(&ruleLookupFlags.SigningID, "signing-id", "", "full signing ID (team:id)")
	ruleLookupCmd.Flags().StringVar(&ruleLookupFlags.CertificateSHA256, "cert-sha256", "", "leaf certificate hash")
	ruleLookupCmd.Flags().StringVar(&ruleLookupFlags.TeamID, "team-id", "", "team ID")

	ruleExportCmd.Flags().StringVar(&ruleExportFlags.file, "file", "", "output file (default: stdout)")

	ruleImportCmd.Flags().StringVar(&ruleImportFlags.file, "file", "", "rule file to import")
	ruleImportCmd.Flags().StringVar(&ruleImportFlags.cleanup, "cleanup", "", "cleanup mode before insertion (none, all, non_transitive)")
	_ = ruleImportCmd.MarkFlagRequired("file")
}
