package jobmanager

import (
	"fmt"
	"strings"
)

// DiscoveryStats records counts surfaced by the "Batch with duplicates"
// scenario in spec §7.3 (discovery_count/deduped_count/selected_count).
type DiscoveryStats struct {
	DiscoveryCount int
	DedupedCount   int
}

// Discover expands a job's input_config into a de-duplicated target list.
// Sources are consulted in order and the first that yields anything wins:
// explicit url, target, targets[], lines[], keywords[]. Keywords are
// passed through as opaque target strings ("keyword:<kw>") for the batch
// runner to resolve at submit time; everything else is treated as a
// directly fetchable target (URL or shortcode). On empty input, five
// deterministic mock targets are synthesized so jobs submitted without
// any real input still have something to drive through the pipeline in
// tests and demos.
func Discover(inputConfig map[string]any, jobID string) ([]string, DiscoveryStats) {
	var raw []string

	if v, ok := stringOrNil(inputConfig["url"]); ok {
		raw = append(raw, v)
	}
	if len(raw) == 0 {
		if v, ok := stringOrNil(inputConfig["target"]); ok {
			raw = append(raw, v)
		}
	}
	if len(raw) == 0 {
		raw = append(raw, stringSlice(inputConfig["targets"])...)
	}
	if len(raw) == 0 {
		raw = append(raw, stringSlice(inputConfig["lines"])...)
	}
	if len(raw) == 0 {
		for _, kw := range stringSlice(inputConfig["keywords"]) {
			raw = append(raw, "keyword:"+kw)
		}
		if kw, ok := stringOrNil(inputConfig["keyword"]); ok {
			raw = append(raw, "keyword:"+kw)
		}
	}

	discoveryCount := len(raw)

	if len(raw) == 0 {
		mocks := make([]string, 0, 5)
		for i := 1; i <= 5; i++ {
			mocks = append(mocks, fmt.Sprintf("mock://%s/%d", jobID, i))
		}
		return mocks, DiscoveryStats{DiscoveryCount: len(mocks), DedupedCount: len(mocks)}
	}

	deduped := dedupPreserveOrder(raw)
	return deduped, DiscoveryStats{DiscoveryCount: discoveryCount, DedupedCount: len(deduped)}
}

func stringOrNil(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// dedupPreserveOrder removes duplicate targets while keeping the first
// occurrence's position (spec §7.1: "discovery expands to an identical
// target set, modulo de-dup order preservation").
func dedupPreserveOrder(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
