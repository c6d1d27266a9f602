package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/rs/zerolog"
)

// FileStore keeps backups as files in a directory.
type FileStore struct {
	dir    string
	logger zerolog.Logger
	now    func() time.Time
}

// NewFileStore creates a store rooted at dir. The directory is created on
// first use.
func NewFileStore(dir string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		dir:    dir,
		logger: logger.With().Str("component", "backup-file").Logger(),
		now:    time.Now,
	}
}

// Create writes content to a new backup file.
func (s *FileStore) Create(ctx context.Context, target engine.Target, content []byte) (engine.BackupHandle, error) {
	if err := ctx.Err(); err != nil {
		return engine.BackupHandle{}, err
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return engine.BackupHandle{}, fmt.Errorf("failed to create backup directory: %w", err)
	}

	at := s.now().UTC()
	name := engine.BackupName(target, at)
	path := filepath.Join(s.dir, name)

	// O_EXCL keeps a second backup within the same second from clobbering the first.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return engine.BackupHandle{}, fmt.Errorf("failed to create backup file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return engine.BackupHandle{}, fmt.Errorf("failed to write backup file: %w", err)
	}
	if err := f.Close(); err != nil {
		return engine.BackupHandle{}, fmt.Errorf("failed to close backup file: %w", err)
	}

	platform := target.Platform
	if platform == "" {
		platform = engine.PlatformGeneric
	}
	handle := engine.BackupHandle{
		ID:        name,
		Host:      target.Host,
		Platform:  platform,
		CreatedAt: at,
		Location:  path,
	}
	s.logger.Debug().Str("target", target.Host).Str("path", path).Int("bytes", len(content)).Msg("Backup written")
	return handle, nil
}

// Exists reports whether the backup file is still present.
func (s *FileStore) Exists(_ context.Context, handle engine.BackupHandle) (bool, error) {
	_, err := os.Stat(handle.Location)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat backup: %w", err)
}

// Read returns the backup content.
func (s *FileStore) Read(_ context.Context, handle engine.BackupHandle) ([]byte, error) {
	data, err := os.ReadFile(handle.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	return data, nil
}
