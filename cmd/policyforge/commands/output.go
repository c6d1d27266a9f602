package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/openfroyo/policyforge/pkg/compliance"
	"github.com/openfroyo/policyforge/pkg/drift"
	"github.com/openfroyo/policyforge/pkg/enforce"
	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/policy"
	"github.com/openfroyo/policyforge/pkg/reconcile"
	"github.com/openfroyo/policyforge/pkg/recommend"
	"github.com/openfroyo/policyforge/pkg/remediation"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// emit writes v as JSON or with the text renderer.
func emit(w io.Writer, v any, text func(io.Writer)) error {
	if outputFormat == "json" {
		return writeJSON(w, v)
	}
	text(w)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func printValidation(w io.Writer, path string, r *policy.ValidationResult) {
	status := "valid"
	if !r.Valid {
		status = "INVALID"
	}
	fmt.Fprintf(w, "%s: %s (%d errors, %d warnings)\n", path, status, len(r.Errors), len(r.Warnings))
	for _, issue := range r.Errors {
		fmt.Fprintf(w, "  error   %s: %s\n", issue.Field, issue.Message)
	}
	for _, issue := range r.Warnings {
		fmt.Fprintf(w, "  warning %s: %s\n", issue.Field, issue.Message)
	}
}

func printCompliance(w io.Writer, r *compliance.Result) {
	fmt.Fprintf(w, "Target:     %s\n", r.Target)
	fmt.Fprintf(w, "Compliant:  %s\n", yesNo(r.Compliant))
	fmt.Fprintf(w, "Score:      %.1f%% (%d/%d checks passed)\n", r.ComplianceScore, r.PassedChecks, r.TotalChecks)

	names := make([]string, 0, len(r.FrameworkStatus))
	for name := range r.FrameworkStatus {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fs := r.FrameworkStatus[name]
		fmt.Fprintf(w, "  %-12s %.1f%% (%d/%d)\n", name, fs.Score, fs.ControlsPassed, fs.ControlsChecked)
	}

	if len(r.Violations) > 0 {
		fmt.Fprintln(w, "Violations:")
		for _, action := range recommend.Prioritize(r.Violations) {
			fmt.Fprintf(w, "  [%s] %s\n", action.Tier, action.Message)
		}
	}
	printRecommendations(w, r.Recommendations)
}

func printDrift(w io.Writer, r *drift.Result) {
	fmt.Fprintf(w, "Target:     %s\n", r.Target)
	fmt.Fprintf(w, "Drift:      %s (%.1f%%, %d/%d parameters)\n",
		yesNo(r.DriftDetected), r.DriftPercentage, r.DriftedParameters, r.TotalParameters)
	fmt.Fprintf(w, "Trend:      %s\n", r.Trend.Trend)
	for _, d := range r.DriftDetails {
		fmt.Fprintf(w, "  %-8s %-30s expected=%v actual=%v\n", d.Severity, d.Parameter, d.Expected, d.Actual)
	}
	printRecommendations(w, r.Recommendations)
}

func printHistory(w io.Writer, target string, entries []engine.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "No drift history for %s\n", target)
		return
	}
	fmt.Fprintf(w, "Drift history for %s:\n", target)
	for _, e := range entries {
		fmt.Fprintf(w, "  %s  %6.1f%%  %d drifted  %d critical\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.DriftPercentage, e.DriftedParameters, e.CriticalDriftCount)
	}
}

func printRemediation(w io.Writer, r *remediation.Result) {
	fmt.Fprintf(w, "Target:     %s\n", r.Target)
	fmt.Fprintf(w, "Successful: %s (%d attempted, %d succeeded, %d failed)\n",
		yesNo(r.RemediationSuccessful), r.Attempted, r.Successful, r.Failed)
	if r.BackupCreated {
		fmt.Fprintf(w, "Backup:     %s\n", r.BackupPath)
	}
	if r.Message != "" {
		fmt.Fprintf(w, "Message:    %s\n", r.Message)
	}
	for _, item := range r.Results {
		line := fmt.Sprintf("  %-8s %-10s %-10s %s", item.Severity, item.Strategy, item.Status, item.Parameter)
		if item.Error != "" {
			line += " (" + item.Error + ")"
		}
		if item.RolledBack {
			line += " [rolled back]"
		}
		fmt.Fprintln(w, line)
	}
}

func printEnforcement(w io.Writer, r *enforce.Result) {
	fmt.Fprintf(w, "Policy:     %s (%s)\n", r.Policy, r.Mode)
	fmt.Fprintf(w, "Enforced:   %s (%d/%d hosts, %d changes)\n",
		yesNo(r.Enforced), r.ChangesSummary.Successful, r.ChangesSummary.TotalHosts, r.ChangesSummary.TotalChanges)
	if r.RollbackPerformed {
		fmt.Fprintln(w, "Rollback:   performed")
	}
	hosts := make([]string, 0, len(r.EnforcementResults))
	for host := range r.EnforcementResults {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	for _, host := range hosts {
		hr := r.EnforcementResults[host]
		fmt.Fprintf(w, "  %-20s %s\n", host, hr.Message)
	}
}

func printReconcile(w io.Writer, reports map[string]*reconcile.HostReport) {
	hosts := make([]string, 0, len(reports))
	for host := range reports {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	for _, host := range hosts {
		report := reports[host]
		parts := []string{}
		if report.Compliance != nil {
			parts = append(parts, fmt.Sprintf("compliance %.1f%%", report.Compliance.ComplianceScore))
		}
		if report.Drift != nil {
			parts = append(parts, fmt.Sprintf("drift %.1f%%", report.Drift.DriftPercentage))
		}
		if report.Remediation != nil {
			parts = append(parts, fmt.Sprintf("remediated %d/%d", report.Remediation.Successful, report.Remediation.Attempted))
		}
		if report.Error != "" {
			parts = append(parts, "error: "+report.Error)
		}
		fmt.Fprintf(w, "%-20s %s\n", host, strings.Join(parts, ", "))
	}
}

func printRecommendations(w io.Writer, recs []string) {
	if len(recs) == 0 {
		return
	}
	fmt.Fprintln(w, "Recommendations:")
	for _, rec := range recs {
		fmt.Fprintf(w, "  - %s\n", rec)
	}
}
