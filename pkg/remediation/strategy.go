package remediation

import (
	"fmt"
	"strings"
)

// Strategy is how a violation gets fixed.
type Strategy string

const (
	StrategyConfigure Strategy = "configure"
	StrategyScript    Strategy = "script"
	StrategyPlaybook  Strategy = "playbook"
	StrategyManual    Strategy = "manual"

	// StrategyUnknown marks an explicit strategy that is not recognized.
	StrategyUnknown Strategy = "unknown"
)

// Default artifacts for the script and playbook strategies.
const (
	DefaultScript   = "default_remediation.sh"
	DefaultPlaybook = "remediate.yml"
)

var (
	configureTokens = []string{"config", "setting", "value", "enabled"}
	scriptTokens    = []string{"script", "command", "execute"}
)

// ParseStrategy converts an explicit strategy name.
func ParseStrategy(name string) (Strategy, bool) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(name))); s {
	case StrategyConfigure, StrategyScript, StrategyPlaybook, StrategyManual:
		return s, true
	default:
		return StrategyUnknown, false
	}
}

// InferStrategy picks a strategy from a parameter name.
func InferStrategy(parameter string) Strategy {
	p := strings.ToLower(parameter)
	switch {
	case containsAny(p, configureTokens):
		return StrategyConfigure
	case containsAny(p, scriptTokens):
		return StrategyScript
	case strings.Contains(p, "playbook"):
		return StrategyPlaybook
	default:
		return StrategyConfigure
	}
}

// selectStrategy returns the strategy for a violation. An explicit but
// unrecognized strategy yields StrategyUnknown and an error message.
func selectStrategy(explicit, parameter string) (Strategy, string) {
	if explicit != "" {
		s, ok := ParseStrategy(explicit)
		if !ok {
			return StrategyUnknown, fmt.Sprintf("Unknown remediation strategy: %s", explicit)
		}
		return s, ""
	}
	return InferStrategy(parameter), ""
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// Mode controls how much the orchestrator may do without a human.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeSemiAuto Mode = "semi_auto"
	ModeManual   Mode = "manual"
)

// ParseMode converts a mode name. An empty name is semi_auto.
func ParseMode(name string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(name))); m {
	case "":
		return ModeSemiAuto, nil
	case ModeAuto, ModeSemiAuto, ModeManual:
		return m, nil
	default:
		return "", fmt.Errorf("unknown remediation mode %q", name)
	}
}

// Status is the outcome of one violation.
type Status string

const (
	StatusPending         Status = "pending"
	StatusSuccess         Status = "success"
	StatusFailed          Status = "failed"
	StatusManualRequired  Status = "manual_required"
	StatusUnknownStrategy Status = "unknown_strategy"
)
