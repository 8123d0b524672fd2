package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/taxgraph/taxgraph/pkg/engine"
	"github.com/taxgraph/taxgraph/pkg/stores"
	"github.com/taxgraph/taxgraph/pkg/table"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            stores.MemoryPath,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_CompleteRun records a run and its outcome.
func ExampleSQLiteStore_CompleteRun() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.MemoryPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	run := &stores.Run{
		ID:         "run-001",
		ConfigPath: "run.cue",
		PolicyDate: "2023-07-01",
		Targets:    []string{"kindergeld_m_hh"},
	}
	if err := store.CreateRun(ctx, run); err != nil {
		log.Fatal(err)
	}

	err = store.CompleteRun(ctx, run.ID, stores.RunOutcome{
		Status:   engine.RunStatusSucceeded,
		Rows:     4,
		Duration: 120 * time.Millisecond,
	})
	if err != nil {
		log.Fatal(err)
	}

	retrieved, err := store.GetRun(ctx, "run-001")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Run ID: %s, Status: %s, Rows: %d\n", retrieved.ID, retrieved.Status, retrieved.Rows)
	// Output: Run ID: run-001, Status: succeeded, Rows: 4
}

// ExampleSQLiteStore_WriteTable stores a result table and reads it back.
func ExampleSQLiteStore_WriteTable() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.MemoryPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	result, err := table.FromColumns(
		[]string{"hh_id", "kindergeld_m_hh"},
		[]table.Column{
			table.FromInts([]int64{1, 2}),
			table.FromFloats([]float64{500, 250}),
		},
	)
	if err != nil {
		log.Fatal(err)
	}

	if err := store.WriteTable(ctx, "results", result); err != nil {
		log.Fatal(err)
	}

	loaded, err := store.LoadTable(ctx, "results", "hh_id")
	if err != nil {
		log.Fatal(err)
	}

	col, _ := loaded.Column("kindergeld_m_hh")
	fmt.Println(loaded.Names(), col.Floats())
	// Output: [hh_id kindergeld_m_hh] [500 250]
}
