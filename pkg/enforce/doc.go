// Package enforce pushes a policy onto many hosts at once.
//
// The Enforcer validates the policy, checks approval and then processes each
// host in parallel under a concurrency ceiling. Hosts over the ceiling wait
// for a slot. A host is either validated only, dry-run (proposed changes with
// their current values) or applied; applied hosts are backed up first and
// rolled back when a change fails.
package enforce
