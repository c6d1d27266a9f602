package drift

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/rs/zerolog"
)

// FileHistoryStore keeps each target's drift history as a JSON array in
// {dir}/{target}_drift_history.json. Missing or corrupt files read as empty.
type FileHistoryStore struct {
	dir    string
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewFileHistoryStore creates a history store rooted at dir.
func NewFileHistoryStore(dir string, logger zerolog.Logger) *FileHistoryStore {
	return &FileHistoryStore{
		dir:    dir,
		logger: logger.With().Str("component", "drift-history").Logger(),
	}
}

// Path returns the history file of a target.
func (s *FileHistoryStore) Path(target string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", string(os.PathSeparator), "_").Replace(target)
	return filepath.Join(s.dir, name+"_drift_history.json")
}

// Latest returns the most recent entry, or nil when there is none.
func (s *FileHistoryStore) Latest(ctx context.Context, target string) (*engine.HistoryEntry, error) {
	entries, err := s.List(ctx, target)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	latest := entries[len(entries)-1]
	return &latest, nil
}

// List returns the target's history sorted ascending by timestamp.
func (s *FileHistoryStore) List(ctx context.Context, target string) ([]engine.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(target), nil
}

// Append adds an entry, keeping the file ordered by timestamp.
func (s *FileHistoryStore) Append(ctx context.Context, target string, entry engine.HistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.read(target), entry)
	sortEntries(entries)
	return s.write(target, entries)
}

// Prune removes entries at or before cutoff.
func (s *FileHistoryStore) Prune(ctx context.Context, target string, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.read(target)
	kept := entries[:0]
	for _, e := range entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(entries) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, s.write(target, kept)
}

func (s *FileHistoryStore) read(target string) []engine.HistoryEntry {
	path := s.Path(target)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", path).Msg("Failed to read drift history, treating as empty")
		}
		return nil
	}

	var entries []engine.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Corrupt drift history, treating as empty")
		return nil
	}
	sortEntries(entries)
	return entries
}

// write replaces the history file atomically.
func (s *FileHistoryStore) write(target string, entries []engine.HistoryEntry) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	if entries == nil {
		entries = []engine.HistoryEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode drift history: %w", err)
	}

	path := s.Path(target)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp history file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write drift history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close drift history: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace drift history: %w", err)
	}
	return nil
}

func sortEntries(entries []engine.HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}
