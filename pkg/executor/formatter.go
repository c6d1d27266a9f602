package executor

import (
	"fmt"

	"github.com/openfroyo/policyforge/pkg/engine"
)

// ActionFormatter renders the platform command that sets a parameter.
type ActionFormatter interface {
	Configure(parameter string, value any) string
}

type ciscoIOSFormatter struct{}

func (ciscoIOSFormatter) Configure(parameter string, value any) string {
	return fmt.Sprintf("configure terminal; %s %v", parameter, value)
}

type paloAltoFormatter struct{}

func (paloAltoFormatter) Configure(parameter string, value any) string {
	return fmt.Sprintf("set %s %v", parameter, value)
}

type vmwareFormatter struct{}

func (vmwareFormatter) Configure(parameter string, value any) string {
	return fmt.Sprintf("Set-Configuration -Name %s -Value %v", parameter, value)
}

type genericFormatter struct{}

func (genericFormatter) Configure(parameter string, value any) string {
	return fmt.Sprintf("Set %s to %v", parameter, value)
}

var formatters = map[engine.Platform]ActionFormatter{
	engine.PlatformCiscoIOS: ciscoIOSFormatter{},
	engine.PlatformPaloAlto: paloAltoFormatter{},
	engine.PlatformVMware:   vmwareFormatter{},
}

// FormatterFor returns the formatter of a platform family. Platforms without
// dedicated syntax get the generic formatter.
func FormatterFor(platform engine.Platform) ActionFormatter {
	if f, ok := formatters[platform]; ok {
		return f
	}
	return genericFormatter{}
}
