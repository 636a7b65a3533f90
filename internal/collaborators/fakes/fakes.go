// Package fakes provides in-memory test doubles for the collaborators
// interfaces, used across pipeline and jobmanager unit tests so they
// never reach a real network boundary.
package fakes

import (
	"context"
	"fmt"

	"github.com/jasonmaxxxon/discourse-lens/internal/collaborators"
)

// Scraper is a canned Scraper.
type Scraper struct {
	Posts map[string]*collaborators.ScrapedPost
	Err   error
}

func (s *Scraper) FetchPost(ctx context.Context, targetID string) (*collaborators.ScrapedPost, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	p, ok := s.Posts[targetID]
	if !ok {
		return nil, fmt.Errorf("fakes.Scraper: no post registered for %q", targetID)
	}
	return p, nil
}

// Vision always returns a fixed result, or Err if set.
type Vision struct {
	Result *collaborators.VisionResult
	Err    error
}

func (v *Vision) Analyze(ctx context.Context, imageURL string, stage string) (*collaborators.VisionResult, error) {
	if v.Err != nil {
		return nil, v.Err
	}
	if v.Result != nil {
		return v.Result, nil
	}
	return &collaborators.VisionResult{SceneLabel: "unknown"}, nil
}

// OCR always returns Text, or Err if set.
type OCR struct {
	Text string
	Err  error
}

func (o *OCR) ExtractText(ctx context.Context, imageURL string) (string, error) {
	if o.Err != nil {
		return "", o.Err
	}
	return o.Text, nil
}

// LLM always returns Payload, or Err if set.
type LLM struct {
	Payload map[string]any
	Err     error
}

func (l *LLM) Analyze(ctx context.Context, prompt string) (map[string]any, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Payload, nil
}

// Embedding returns a deterministic vector derived from text length, or
// Err if set. Dim defaults to 768 matching the production embedding model.
type Embedding struct {
	Dim int
	Err error
}

func (e *Embedding) Dimension() int {
	if e.Dim == 0 {
		return 768
	}
	return e.Dim
}

func (e *Embedding) Embed(ctx context.Context, text string) ([]float64, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	if text == "" {
		return nil, fmt.Errorf("fakes.Embedding: empty text")
	}
	dim := e.Dimension()
	vec := make([]float64, dim)
	for i := range vec {
		vec[i] = float64((len(text)+i)%97) / 97.0
	}
	return vec, nil
}

// ObjectStore records Put calls and returns a synthetic URL.
type ObjectStore struct {
	Err   error
	Calls []string
}

func (o *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if o.Err != nil {
		return "", o.Err
	}
	o.Calls = append(o.Calls, key)
	return "mock://objects/" + key, nil
}
