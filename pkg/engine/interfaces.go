package engine

import (
	"context"
	"time"
)

// CheckExecutor performs verification and mutation against real targets.
// Every call must honor ctx cancellation so callers can bound it.
type CheckExecutor interface {
	// Check runs a single verification and reports whether it passed.
	Check(ctx context.Context, target Target, spec CheckSpec) (bool, error)

	// Apply performs a mutating action on the target.
	Apply(ctx context.Context, target Target, action Action) (ApplyResult, error)

	// CurrentValue reads the live value of a parameter.
	CurrentValue(ctx context.Context, target Target, parameter string) (any, error)
}

// StateSnapshotter is implemented by executors that can return every live
// parameter of a target at once, including ones no baseline knows about.
type StateSnapshotter interface {
	Snapshot(ctx context.Context, target Target) (map[string]any, error)
}

// ConfigReader is implemented by executors that can read a target's full
// configuration for backup purposes.
type ConfigReader interface {
	ReadConfig(ctx context.Context, target Target) ([]byte, error)
}

// HistoryStore persists drift history per target.
type HistoryStore interface {
	// Latest returns the most recent entry, or nil if the target has no history.
	Latest(ctx context.Context, target string) (*HistoryEntry, error)

	// Append adds an entry to the target's history.
	Append(ctx context.Context, target string, entry HistoryEntry) error

	// Prune removes entries at or before cutoff and returns how many were removed.
	Prune(ctx context.Context, target string, cutoff time.Time) (int, error)

	// List returns the target's history sorted ascending by timestamp.
	List(ctx context.Context, target string) ([]HistoryEntry, error)
}

// BackupStore keeps configuration snapshots taken before mutation.
type BackupStore interface {
	// Create stores content as a new backup for the target.
	Create(ctx context.Context, target Target, content []byte) (BackupHandle, error)

	// Exists reports whether the backup can still be resolved.
	Exists(ctx context.Context, handle BackupHandle) (bool, error)

	// Read returns the backup content.
	Read(ctx context.Context, handle BackupHandle) ([]byte, error)
}

// TargetLocker serializes runs against the same target.
type TargetLocker interface {
	// Lock blocks until the key is held or ctx is done. The returned
	// function releases the lock.
	Lock(ctx context.Context, key string) (func(), error)
}

// AuditSink records completed runs.
type AuditSink interface {
	RecordAudit(ctx context.Context, record AuditRecord) error
}
