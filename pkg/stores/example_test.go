package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/stores"
)

// ExampleOpen demonstrates opening a migrated store.
func ExampleOpen() {
	store, err := stores.Open(context.Background(), stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_Append demonstrates recording drift history.
func ExampleSQLiteStore_Append() {
	store, _ := stores.Open(context.Background(), stores.Config{Path: ":memory:"})
	ctx := context.Background()
	defer store.Close()

	at := time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)
	_ = store.Append(ctx, "web-01", engine.HistoryEntry{
		Timestamp:          at,
		DriftPercentage:    25,
		DriftedParameters:  1,
		CriticalDriftCount: 1,
		Summary:            []engine.ParameterSeverity{{Parameter: "permit_root_login", Severity: engine.SeverityCritical}},
	})

	latest, err := store.Latest(ctx, "web-01")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s drift: %.1f%% (%d critical)\n", latest.Timestamp.Format(time.DateOnly), latest.DriftPercentage, latest.CriticalDriftCount)
	// Output: 2024-03-09 drift: 25.0% (1 critical)
}

// ExampleSQLiteStore_RecordAudit demonstrates the audit trail.
func ExampleSQLiteStore_RecordAudit() {
	store, _ := stores.Open(context.Background(), stores.Config{Path: ":memory:"})
	ctx := context.Background()
	defer store.Close()

	now := time.Now()
	_ = store.RecordAudit(ctx, engine.AuditRecord{
		ID:          "run-001",
		Operation:   "remediate",
		Target:      "web-01",
		Status:      "completed",
		StartedAt:   now,
		CompletedAt: now,
		Attempted:   2,
		Successful:  2,
	})

	entries, _ := store.ListAudit(ctx, stores.AuditFilter{Target: "web-01"})
	for _, e := range entries {
		fmt.Printf("%s %s on %s: %d/%d\n", e.RunID, e.Operation, e.Target, e.Successful, e.Attempted)
	}
	// Output: run-001 remediate on web-01: 2/2
}
