package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/policy"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// targetFlags selects the hosts a command runs against.
type targetFlags struct {
	hosts     []string
	platform  string
	inventory string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.hosts, "target", "t", nil, "target hosts")
	cmd.Flags().StringVar(&f.platform, "platform", "", "platform of the target hosts (cisco_ios, palo_alto, vmware, linux, ...)")
	cmd.Flags().StringVar(&f.inventory, "hosts", "", "inventory file listing hosts with platform and labels")
}

// inventory is the on-disk host list read by --hosts.
type inventory struct {
	Hosts []engine.Target `yaml:"hosts" json:"hosts"`
}

// resolve returns the selected targets. With no selection the hosts of the
// state file are used.
func (f *targetFlags) resolve(a *app) ([]engine.Target, error) {
	var targets []engine.Target
	if f.inventory != "" {
		data, err := os.ReadFile(f.inventory)
		if err != nil {
			return nil, fmt.Errorf("failed to read inventory: %w", err)
		}
		var inv inventory
		if err := yaml.Unmarshal(data, &inv); err != nil {
			return nil, engine.NewStructuralError("failed to parse inventory", err).WithTarget(f.inventory)
		}
		targets = append(targets, inv.Hosts...)
	}
	for _, host := range f.hosts {
		targets = append(targets, engine.Target{Host: host, Platform: engine.Platform(f.platform)})
	}
	if len(targets) == 0 && a.state != nil {
		for _, host := range a.state.Hosts() {
			targets = append(targets, engine.Target{Host: host, Platform: engine.Platform(f.platform)})
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no target hosts: use --target or --hosts")
	}
	return targets, nil
}

// single returns exactly one target.
func (f *targetFlags) single(a *app) (engine.Target, error) {
	targets, err := f.resolve(a)
	if err != nil {
		return engine.Target{}, err
	}
	if len(targets) != 1 {
		return engine.Target{}, fmt.Errorf("expected one target host, got %d", len(targets))
	}
	return targets[0], nil
}

// loadViolations reads a YAML or JSON list of violations.
func loadViolations(path string) ([]engine.Violation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read violations: %w", err)
	}

	// Violations carry JSON tags only; YAML is converted first.
	if !strings.HasSuffix(strings.ToLower(path), ".json") {
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, engine.NewStructuralError("failed to parse violations", err).WithTarget(path)
		}
		if data, err = json.Marshal(raw); err != nil {
			return nil, fmt.Errorf("failed to convert violations: %w", err)
		}
	}

	var wrapped struct {
		Violations []engine.Violation `json:"violations"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Violations != nil {
		return wrapped.Violations, nil
	}
	var violations []engine.Violation
	if err := json.Unmarshal(data, &violations); err != nil {
		return nil, engine.NewStructuralError("failed to parse violations", err).WithTarget(path)
	}
	return violations, nil
}

// loadSinglePolicy loads exactly one policy document.
func loadSinglePolicy(loader *policy.Loader, path string) (*policy.Document, error) {
	doc, err := loader.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	return doc, nil
}
