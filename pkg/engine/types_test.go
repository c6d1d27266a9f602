package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeverityRankAndOrder(t *testing.T) {
	tests := []struct {
		severity Severity
		rank     int
		order    int
	}{
		{SeverityCritical, 4, 0},
		{SeverityHigh, 3, 1},
		{SeverityMedium, 2, 2},
		{SeverityLow, 1, 3},
		{Severity("bogus"), 0, 99},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			assert.Equal(t, tt.rank, tt.severity.Rank())
			assert.Equal(t, tt.order, tt.severity.Order())
			assert.Equal(t, tt.rank > 0, tt.severity.Valid())
		})
	}

	assert.True(t, SeverityHigh.AtLeast(SeverityMedium))
	assert.True(t, SeverityLow.AtLeast(SeverityLow))
	assert.False(t, SeverityLow.AtLeast(SeverityHigh))
}

func TestParseSeverity(t *testing.T) {
	s, ok := ParseSeverity(" HIGH ")
	assert.True(t, ok)
	assert.Equal(t, SeverityHigh, s)

	_, ok = ParseSeverity("urgent")
	assert.False(t, ok)
}

func TestApprovalRecordRequired(t *testing.T) {
	tests := []struct {
		name     string
		record   ApprovalRecord
		critical bool
		required int
		approved bool
	}{
		{"default requires one", ApprovalRecord{Approvers: []string{"alice"}}, false, 1, true},
		{"critical floor", ApprovalRecord{RequiredApprovers: 1, Approvers: []string{"alice"}}, true, 2, false},
		{"critical satisfied", ApprovalRecord{RequiredApprovers: 1, Approvers: []string{"alice", "bob"}}, true, 2, true},
		{"explicit above floor", ApprovalRecord{RequiredApprovers: 3, Approvers: []string{"alice", "bob"}}, true, 3, false},
		{"no approvers", ApprovalRecord{}, false, 1, false},
		{"duplicates count once", ApprovalRecord{Approvers: []string{"alice", "alice"}}, true, 2, false},
		{"blank names ignored", ApprovalRecord{Approvers: []string{"", " "}}, false, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.required, tt.record.Required(tt.critical))
			assert.Equal(t, tt.approved, tt.record.Approved(tt.critical))
		})
	}
}

func TestViolationID(t *testing.T) {
	assert.Equal(t, "v-1", Violation{ViolationID: "v-1", RequirementID: "r-1"}.ID())
	assert.Equal(t, "r-1", Violation{RequirementID: "r-1"}.ID())
	assert.Equal(t, "unknown", Violation{}.ID())
}

func TestBackupName(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	assert.Equal(t, "fw-01_palo_alto_20240309_140507.backup",
		BackupName(Target{Host: "fw-01", Platform: PlatformPaloAlto}, at))
	assert.Equal(t, "web_generic_20240309_140507.backup",
		BackupName(Target{Host: "web"}, at))
}
