// Package reconcile runs the full evaluate, detect and remediate loop across
// a fleet of hosts.
//
// Each host is evaluated against the policies, compared to the baseline when
// one is given, and the resulting violations are handed to the remediation
// orchestrator. Hosts run in parallel up to a ceiling; a failure on one host
// is kept in its report and never affects the others.
package reconcile
