package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const (
	batchStatusQueued    = "queued"
	batchStatusRunning   = "running"
	batchStatusSucceeded = "succeeded"
	batchStatusFailed    = "failed"
)

// batchEntry tracks one keyword's submission history across lensctl
// invocations, mirroring original_source/tools/batch_runner.py's per-URL
// state rows (there: one row per discovered URL; here: one row per
// keyword, since a Pipeline B job already owns per-target discovery and
// retry on the server side).
type batchEntry struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	LastErr  string `json:"last_error,omitempty"`
}

type batchState struct {
	Keywords map[string]*batchEntry `json:"keywords"`
	Logs     []string                `json:"logs"`
}

func loadBatchState(path string) (*batchState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &batchState{Keywords: map[string]*batchEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lensctl: read state file: %w", err)
	}
	var st batchState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("lensctl: parse state file: %w", err)
	}
	if st.Keywords == nil {
		st.Keywords = map[string]*batchEntry{}
	}
	return &st, nil
}

// saveBatchState writes via a temp-file-then-rename, matching
// batch_runner.py's save_state crash-safety (a killed process never
// leaves a half-written state file behind).
func saveBatchState(path string, st *batchState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("lensctl: marshal state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("lensctl: write state file: %w", err)
	}
	return os.Rename(tmp, path)
}

var (
	batchKeyword         string
	batchMaxPosts        int
	batchStateFile       string
	batchReprocessPolicy string
	batchMaxAttempts     int
	batchCooldownEvery   int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run a crash-resumable overnight keyword batch (Pipeline B) via the Job Manager",
	RunE:  runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&batchKeyword, "keyword", "", "search keyword to discover threads for")
	batchCmd.Flags().IntVar(&batchMaxPosts, "max-posts", 50, "maximum posts to discover")
	batchCmd.Flags().StringVar(&batchStateFile, "state-file", "batch_state.json", "crash-resume state file")
	batchCmd.Flags().StringVar(&batchReprocessPolicy, "reprocess-policy", "skip_if_exists", "skip_if_exists or force_all")
	batchCmd.Flags().IntVar(&batchMaxAttempts, "max-attempts", 3, "max resubmission attempts for a failed keyword entry")
	batchCmd.Flags().IntVar(&batchCooldownEvery, "cooldown-every", 10, "sleep longer every N poll cycles, as rate-limit courtesy")
	_ = batchCmd.MarkFlagRequired("keyword")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	st, err := loadBatchState(batchStateFile)
	if err != nil {
		return err
	}
	entry, ok := st.Keywords[batchKeyword]
	if !ok {
		entry = &batchEntry{Status: batchStatusQueued}
		st.Keywords[batchKeyword] = entry
	}

	if entry.Status == batchStatusSucceeded {
		fmt.Printf("keyword %q already succeeded (job %s); nothing to do\n", batchKeyword, entry.JobID)
		return nil
	}
	if entry.Status == batchStatusFailed && entry.Attempts >= batchMaxAttempts && batchReprocessPolicy == "skip_if_exists" {
		return fmt.Errorf("lensctl: keyword %q failed %d times (max-attempts=%d), skipping under skip_if_exists", batchKeyword, entry.Attempts, batchMaxAttempts)
	}

	entry.Status = batchStatusRunning
	entry.Attempts++
	if err := saveBatchState(batchStateFile, st); err != nil {
		return err
	}

	var resp jobResponse
	err = postJSON(ctx, "/api/jobs/", map[string]any{
		"pipeline_type": "B",
		"mode":          "full",
		"input_config": map[string]any{
			"keyword":          batchKeyword,
			"max_posts":        batchMaxPosts,
			"reprocess_policy": batchReprocessPolicy,
		},
	}, &resp)
	if err != nil {
		entry.Status = batchStatusFailed
		entry.LastErr = err.Error()
		st.Logs = append(st.Logs, fmt.Sprintf("submit failed for keyword=%s: %v", batchKeyword, err))
		_ = saveBatchState(batchStateFile, st)
		return err
	}
	entry.JobID = resp.Job.ID
	st.Logs = append(st.Logs, fmt.Sprintf("submitted job %s for keyword=%s", entry.JobID, batchKeyword))
	if err := saveBatchState(batchStateFile, st); err != nil {
		return err
	}

	status, err := pollJobToTerminal(ctx, entry.JobID, batchCooldownEvery)
	if err != nil {
		entry.Status = batchStatusFailed
		entry.LastErr = err.Error()
		_ = saveBatchState(batchStateFile, st)
		return err
	}

	if status == "completed" {
		entry.Status = batchStatusSucceeded
	} else {
		entry.Status = batchStatusFailed
		entry.LastErr = fmt.Sprintf("job finished with status %q", status)
	}
	st.Logs = append(st.Logs, fmt.Sprintf("job %s finished with status=%s", entry.JobID, status))
	if err := saveBatchState(batchStateFile, st); err != nil {
		return err
	}
	fmt.Printf("keyword %q: job %s finished with status=%s\n", batchKeyword, entry.JobID, status)
	return nil
}

type jobSummaryResponse struct {
	Status string `json:"status"`
}

// pollJobToTerminal polls a job's summary until it reaches a terminal
// status, lengthening its sleep every cooldownEvery polls as a courtesy
// to the upstream platform's rate limits (original_source's equivalent
// courtesy pause was keyed on successful completions; here, on poll
// cycles, since this CLI tracks one job rather than a per-URL loop).
func pollJobToTerminal(ctx context.Context, jobID string, cooldownEvery int) (string, error) {
	if cooldownEvery <= 0 {
		cooldownEvery = 10
	}
	polls := 0
	for {
		var summary jobSummaryResponse
		if err := getJSON(ctx, "/api/jobs/"+jobID+"/summary", &summary); err != nil {
			return "", err
		}
		switch summary.Status {
		case "completed", "failed", "stale":
			return summary.Status, nil
		}
		polls++
		sleep := time.Duration(1500+rand.Intn(2000)) * time.Millisecond
		if polls%cooldownEvery == 0 {
			sleep = time.Duration(15+rand.Intn(15)) * time.Second
		}
		time.Sleep(sleep)
	}
}
