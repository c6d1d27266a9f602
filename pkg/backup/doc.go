// Package backup stores configuration snapshots taken before a target is
// changed, and restores them when a change has to be rolled back.
//
// FileStore keeps backups in a local directory named
// {host}_{platform}_{YYYYmmdd_HHMMSS}.backup. S3Store keeps the same names
// under a key prefix in an S3 bucket. Both implement engine.BackupStore.
package backup
