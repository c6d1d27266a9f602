package commands

import (
	"context"
	"io"

	"github.com/openfroyo/policyforge/pkg/enforce"
	"github.com/openfroyo/policyforge/pkg/policy"
	"github.com/spf13/cobra"
)

func newEnforceCommand() *cobra.Command {
	var (
		targets    targetFlags
		policyPath string
		policyType string
		mode       string
		checkMode  bool
	)

	cmd := &cobra.Command{
		Use:   "enforce",
		Short: "Enforce a policy across hosts",
		Long: `Enforce one policy across a set of hosts.

The policy is validated and approval-gated first. Each host is then
backed up and changed in parallel up to the configured concurrency, and
rolled back on failure.

Modes:
  - dry_run        show proposed changes with current values (default)
  - validate_only  validate without touching hosts
  - apply          apply the changes`,
		Example: `  # Show what enforcing a policy would change
  policyforge enforce --policy ssh-hardening.yaml --hosts inventory.yaml

  # Apply it
  policyforge enforce --policy ssh-hardening.yaml --hosts inventory.yaml --mode apply`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), true, func(ctx context.Context, a *app) error {
				hosts, err := targets.resolve(a)
				if err != nil {
					return err
				}
				doc, err := loadSinglePolicy(policy.NewLoader(a.logger), policyPath)
				if err != nil {
					return err
				}

				opts, err := a.cfg.EnforceOptions(policyType)
				if err != nil {
					return err
				}
				if mode != "" {
					if opts.Mode, err = enforce.ParseMode(mode); err != nil {
						return err
					}
				}
				opts.CheckMode = checkMode

				validator, err := policy.NewValidator(ctx, a.logger, nil, nil)
				if err != nil {
					return err
				}

				enfOpts := []enforce.Option{enforce.WithMetrics(a.tel.Metrics)}
				if a.audit != nil {
					enfOpts = append(enfOpts, enforce.WithAuditSink(a.audit))
				}
				enforcer := enforce.NewEnforcer(a.exec, validator, a.backups, a.locker, a.logger, enfOpts...)

				result, err := enforcer.Enforce(ctx, doc, hosts, opts)
				if result != nil {
					if werr := emit(cmd.OutOrStdout(), result, func(w io.Writer) { printEnforcement(w, result) }); werr != nil {
						return werr
					}
				}
				return err
			})
		},
	}

	targets.register(cmd)
	cmd.Flags().StringVarP(&policyPath, "policy", "p", "", "policy file")
	cmd.Flags().StringVar(&policyType, "type", "", "policy type for type-specific validation rules")
	cmd.Flags().StringVar(&mode, "mode", "", "enforcement mode: apply, dry_run or validate_only (overrides config)")
	cmd.Flags().BoolVar(&checkMode, "check", false, "force dry_run")
	_ = cmd.MarkFlagRequired("policy")

	return cmd
}
