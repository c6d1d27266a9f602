package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/policyforge/pkg/engine"
)

// Snapshot returns the content to back up for a target. Executors that can
// read the full configuration provide it; otherwise the backup carries only a
// header identifying the target.
func Snapshot(ctx context.Context, exec engine.CheckExecutor, target engine.Target, now time.Time) ([]byte, error) {
	if reader, ok := exec.(engine.ConfigReader); ok {
		content, err := reader.ReadConfig(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration: %w", err)
		}
		return content, nil
	}

	platform := target.Platform
	if platform == "" {
		platform = engine.PlatformGeneric
	}
	header := fmt.Sprintf("# Backup for %s\n# Created: %s\n# Platform: %s\n",
		target.Host, now.UTC().Format("20060102_150405"), platform)
	return []byte(header), nil
}

// Take snapshots the target and stores the result.
func Take(ctx context.Context, store engine.BackupStore, exec engine.CheckExecutor, target engine.Target, now time.Time) (engine.BackupHandle, error) {
	if store == nil {
		return engine.BackupHandle{}, engine.NewBackupFailureError("no backup store configured", nil).WithTarget(target.Host)
	}
	content, err := Snapshot(ctx, exec, target, now)
	if err != nil {
		return engine.BackupHandle{}, engine.NewBackupFailureError("failed to snapshot target", err).WithTarget(target.Host)
	}
	handle, err := store.Create(ctx, target, content)
	if err != nil {
		return engine.BackupHandle{}, engine.NewBackupFailureError("failed to create backup", err).WithTarget(target.Host)
	}
	return handle, nil
}

// Restore resolves a backup and asks the executor to restore it.
func Restore(ctx context.Context, store engine.BackupStore, exec engine.CheckExecutor, target engine.Target, handle engine.BackupHandle) error {
	if store == nil {
		return engine.NewRollbackFailureError("no backup store configured", nil).WithTarget(target.Host)
	}
	exists, err := store.Exists(ctx, handle)
	if err != nil {
		return engine.NewRollbackFailureError("failed to resolve backup", err).WithTarget(target.Host)
	}
	if !exists {
		return engine.NewRollbackFailureError(fmt.Sprintf("Backup file not found: %s", handle.Location), nil).WithTarget(target.Host)
	}
	payload, err := store.Read(ctx, handle)
	if err != nil {
		return engine.NewRollbackFailureError("failed to read backup", err).WithTarget(target.Host)
	}

	return restore(ctx, exec, target, engine.Action{
		Kind:        engine.ActionRestore,
		Backup:      &handle,
		Payload:     payload,
		Description: fmt.Sprintf("Restore backup %s", handle.ID),
	})
}

// Checkpoint reads the full configuration of a target so a single change can
// be undone with RestoreCheckpoint. ok is false when the executor cannot read
// configuration.
func Checkpoint(ctx context.Context, exec engine.CheckExecutor, target engine.Target) (content []byte, ok bool, err error) {
	reader, ok := exec.(engine.ConfigReader)
	if !ok {
		return nil, false, nil
	}
	content, err = reader.ReadConfig(ctx, target)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read configuration: %w", err)
	}
	return content, true, nil
}

// RestoreCheckpoint puts back content taken by Checkpoint.
func RestoreCheckpoint(ctx context.Context, exec engine.CheckExecutor, target engine.Target, content []byte) error {
	return restore(ctx, exec, target, engine.Action{
		Kind:        engine.ActionRestore,
		Payload:     content,
		Description: fmt.Sprintf("Restore checkpoint of %s", target.Host),
	})
}

func restore(ctx context.Context, exec engine.CheckExecutor, target engine.Target, action engine.Action) error {
	res, err := exec.Apply(ctx, target, action)
	if err != nil {
		return engine.NewRollbackFailureError("failed to restore backup", err).WithTarget(target.Host)
	}
	if !res.Applied {
		return engine.NewRollbackFailureError(fmt.Sprintf("restore was not applied: %s", res.Detail), nil).WithTarget(target.Host)
	}
	return nil
}
