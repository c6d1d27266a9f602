package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath   string
	logLevel     string
	outputFormat string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "policyforge",
		Short: "PolicyForge - policy compliance, drift and remediation engine",
		Long: `PolicyForge evaluates security policies against managed hosts, detects
configuration drift from a baseline, and remediates violations with backup
and rollback.

Features:
  - Policy validation with Rego extensions and CUE/JSON schemas
  - Compliance scoring against NIST 800-53, DISA STIG, IEC 62443 and NERC CIP
  - Drift detection with history and trend analysis
  - Approval-gated remediation with backup and rollback
  - Policy enforcement across host fleets`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch outputFormat {
			case "text", "json":
			default:
				return fmt.Errorf("unknown output format %q (must be text or json)", outputFormat)
			}
			if logLevel != "" {
				level, err := zerolog.ParseLevel(logLevel)
				if err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
				zerolog.SetGlobalLevel(level)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json)")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newDriftCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newRemediateCommand())
	rootCmd.AddCommand(newEnforceCommand())
	rootCmd.AddCommand(newReconcileCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printVersion(cmd.OutOrStdout(), version, commit, buildDate)
		},
	}
}

func printVersion(w io.Writer, version, commit, buildDate string) error {
	if outputFormat == "json" {
		return writeJSON(w, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	}
	_, err := fmt.Fprintf(w, "policyforge %s (commit: %s, built: %s)\n", version, commit, buildDate)
	return err
}
