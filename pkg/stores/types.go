package stores

import (
	"encoding/json"
	"time"
)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// AuditEntry is a stored audit record.
type AuditEntry struct {
	ID             int64           `json:"id"`
	RunID          string          `json:"run_id"`
	Operation      string          `json:"operation"`
	Target         string          `json:"target"`
	Status         string          `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    time.Time       `json:"completed_at"`
	Attempted      int             `json:"attempted"`
	Successful     int             `json:"successful"`
	Failed         int             `json:"failed"`
	BackupLocation string          `json:"backup_location,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
}

// AuditFilter narrows ListAudit. Empty fields match everything.
type AuditFilter struct {
	Target    string
	Operation string
	RunID     string
	Limit     int
	Offset    int
}

// defaultAuditLimit caps ListAudit when no limit is given.
const defaultAuditLimit = 100
