package commands

import (
	"context"
	"fmt"

	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/policy"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var (
		policyType string
		strict     bool
		regoFiles  []string
		schemaDir  string
	)

	cmd := &cobra.Command{
		Use:   "validate <policy>...",
		Short: "Validate policy documents",
		Long: `Validate policy documents against the structural rules, the
type-specific rules, the compliance framework mappings and any Rego
extension rules or CUE/JSON schemas.

The command fails if any document is invalid.`,
		Example: `  # Validate every policy under a directory
  policyforge validate ./policies

  # Validate an access control policy strictly with custom Rego rules
  policyforge validate --type access_control --strict --rego ./rules/mfa.rego policy.yaml

  # Validate against schemas named <policy_type>.cue or <policy_type>.schema.json
  policyforge validate --schemas ./schemas ./policies`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), false, func(ctx context.Context, a *app) error {
				var custom *policy.ExtensionEngine
				if len(regoFiles) > 0 {
					var err error
					custom, err = policy.NewExtensionEngine(ctx, a.logger, nil)
					if err != nil {
						return err
					}
					if err := custom.LoadFiles(ctx, regoFiles); err != nil {
						return err
					}
				}

				var schemas *policy.SchemaRegistry
				if schemaDir != "" {
					schemas = policy.NewSchemaRegistry(a.logger)
					if err := schemas.LoadDir(schemaDir); err != nil {
						return err
					}
				}

				validator, err := policy.NewValidator(ctx, a.logger, custom, schemas)
				if err != nil {
					return err
				}

				opts, err := a.cfg.ValidationOptions(policyType)
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("strict") {
					opts.StrictMode = strict
				}

				docs, err := policy.NewLoader(a.logger).LoadFromPaths(ctx, args)
				if err != nil {
					return err
				}

				results := make(map[string]*policy.ValidationResult, len(docs))
				invalid := 0
				for _, doc := range docs {
					result, err := validator.Validate(ctx, doc, opts)
					if err != nil {
						return err
					}
					results[doc.Path] = result
					if !result.Valid {
						invalid++
					}
				}

				if outputFormat == "json" {
					if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
						return err
					}
				} else {
					for _, doc := range docs {
						printValidation(cmd.OutOrStdout(), doc.Path, results[doc.Path])
					}
				}

				if invalid > 0 {
					return engine.NewValidationError(fmt.Sprintf("%d of %d policies are invalid", invalid, len(docs)), nil)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&policyType, "type", "", "policy type for type-specific rules (access_control, data_protection, ...)")
	cmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")
	cmd.Flags().StringSliceVar(&regoFiles, "rego", nil, "additional Rego extension rule files")
	cmd.Flags().StringVar(&schemaDir, "schemas", "", "directory of CUE or JSON schemas per policy type")

	return cmd
}
