package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jasonmaxxxon/discourse-lens/internal/config"
	"github.com/jasonmaxxxon/discourse-lens/internal/store"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Phenomenon registry maintenance",
}

var registrySyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile narrative_phenomena occurrence counts against threads_posts",
	RunE:  runRegistrySync,
}

func init() {
	registryCmd.AddCommand(registrySyncCmd)
}

// runRegistrySync connects directly to Postgres (unlike run/batch, this
// is an operational maintenance pass, not a job submission, so it has no
// need of a running server) and replays original_source/database/
// sync_registry.py's aggregate-then-upsert reconciliation.
func runRegistrySync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("lensctl: %w", err)
	}
	db, err := store.Open(ctx, store.Config{DSN: cfg.Database.DSN()})
	if err != nil {
		return fmt.Errorf("lensctl: %w", err)
	}
	defer db.Close()

	phenomena := store.NewPhenomenaStore(db)
	updated, err := phenomena.SyncOccurrenceCounts(ctx)
	if err != nil {
		return fmt.Errorf("lensctl: registry sync: %w", err)
	}
	fmt.Printf("registry sync complete: %d phenomena reconciled\n", updated)
	return nil
}
