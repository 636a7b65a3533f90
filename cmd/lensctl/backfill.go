package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jasonmaxxxon/discourse-lens/internal/config"
	"github.com/jasonmaxxxon/discourse-lens/internal/store"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "One-off data backfills for legacy rows",
}

var (
	backfillLimit   int
	backfillPostID  string
	backfillDryRun  bool
)

var backfillCommentsCmd = &cobra.Command{
	Use:   "comments",
	Short: "Replay threads_posts.raw_comments into threads_comments for posts ingested before the comment table existed",
	RunE:  runBackfillComments,
}

var backfillCommentIDsCmd = &cobra.Command{
	Use:   "comment-ids",
	Short: "Best-effort recovery of source_comment_id for legacy comment rows",
	RunE:  runBackfillCommentIDs,
}

func init() {
	backfillCommentsCmd.Flags().IntVar(&backfillLimit, "limit", 500, "max posts to process")
	backfillCommentsCmd.Flags().StringVar(&backfillPostID, "post-id", "", "restrict to a single post id")
	backfillCommentsCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "count without writing")

	backfillCommentIDsCmd.Flags().IntVar(&backfillLimit, "limit", 200, "max comment rows to attempt")

	backfillCmd.AddCommand(backfillCommentsCmd, backfillCommentIDsCmd)
}

func openStore(ctx context.Context) (*store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("lensctl: %w", err)
	}
	db, err := store.Open(ctx, store.Config{DSN: cfg.Database.DSN()})
	if err != nil {
		return nil, fmt.Errorf("lensctl: %w", err)
	}
	return db, nil
}

// runBackfillComments replays original_source/database/
// backfill_comments_from_posts.py directly over Postgres.
func runBackfillComments(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	processed, inserted, err := db.BackfillCommentsFromPosts(ctx, backfillLimit, backfillPostID, backfillDryRun)
	if err != nil {
		return fmt.Errorf("lensctl: backfill comments: %w", err)
	}
	fmt.Printf("processed_posts=%d inserted_comments=%d dry_run=%t\n", processed, inserted, backfillDryRun)
	return nil
}

// runBackfillCommentIDs replays original_source/database/
// backfill_comment_source_ids.py directly over Postgres.
func runBackfillCommentIDs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	updated, scanned, err := db.BackfillCommentSourceIDs(ctx, backfillLimit)
	if err != nil {
		return fmt.Errorf("lensctl: backfill comment ids: %w", err)
	}
	fmt.Printf("backfill complete: updated=%d/%d\n", updated, scanned)
	return nil
}
