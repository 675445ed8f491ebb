package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/harnessctl/pkg/engine"
	"github.com/openfroyo/harnessctl/pkg/stores"
)

// ExampleOpen demonstrates opening a migrated store.
func ExampleOpen() {
	store, err := stores.Open(context.Background(), ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_SaveRun demonstrates recording a run with its results
// and reading it back.
func ExampleSQLiteStore_SaveRun() {
	ctx := context.Background()
	store, err := stores.Open(ctx, ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	started := time.Date(2025, 10, 17, 9, 0, 0, 0, time.UTC)
	completed := started.Add(12 * time.Second)
	run := &engine.Run{
		ID:          "run-001",
		ProjectID:   "payments_api",
		ConfigPath:  "harness-config.yaml",
		Status:      engine.RunStatusPartial,
		StartedAt:   started,
		CompletedAt: &completed,
		Summary:     engine.Summary{Total: 2, Created: 1, Failed: 1},
	}
	if err := store.SaveRun(ctx, run); err != nil {
		log.Fatal(err)
	}

	results := []engine.OperationResult{
		engine.Created(engine.ResourceProject, "payments_api", "payments-api", nil),
		engine.Failed(engine.ResourceConnector, "github", "GitHub", fmt.Errorf("401 unauthorized")),
	}
	if err := store.SaveResults(ctx, run.ID, results); err != nil {
		log.Fatal(err)
	}

	got, err := store.GetRun(ctx, "run-001")
	if err != nil {
		log.Fatal(err)
	}
	saved, err := store.ListResults(ctx, got.ID)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s %s %s\n", got.ProjectID, got.Status, got.Duration())
	for _, r := range saved {
		fmt.Println(r.ResourceType, r.Identifier, r.Status)
	}
	// Output:
	// payments_api partial 12s
	// project payments_api created
	// connector github failed
}
