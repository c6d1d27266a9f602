// Package stores provides the SQLite persistence layer for policyforge.
// A single database file holds the per-target drift history and the audit
// trail of remediation and enforcement runs. The schema is managed with
// embedded golang-migrate migrations.
package stores
