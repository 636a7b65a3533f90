// Package collaborators defines the contracts for the external systems
// the pipeline talks to (scraping, vision, OCR, LLM analysis, embeddings,
// object storage). Spec §1 names these as deliberately out of scope —
// this package exists only to give the pipeline stages something to call
// against; concrete implementations (HTTP clients, SDK wrappers) are
// injected by cmd/server at wiring time.
package collaborators

import "context"

// Comment is the minimal shape the scraper returns per comment, before
// quant enrichment.
type Comment struct {
	ID        string
	Author    string
	Text      string
	LikeCount int
	RawJSON   map[string]any
}

// ScrapedPost is the minimal shape the scraper returns for a single target.
type ScrapedPost struct {
	// PostID is the native id the scraper resolved from the rendered
	// page, when it could. Empty means the fetch itself succeeded (HTML
	// was retrieved) but no post id could be extracted — the pipeline's
	// post-id recovery path takes over from there.
	PostID     string
	URL        string
	Author     string
	Text       string
	Likes      int
	Replies    int
	Views      int
	Reposts    int
	ImageURLs  []string
	Comments   []Comment
	FetchedRaw map[string]any
}

// Scraper fetches a post and its comments from the source platform.
type Scraper interface {
	FetchPost(ctx context.Context, targetID string) (*ScrapedPost, error)
}

// VisionResult is the per-image output of a vision pass.
type VisionResult struct {
	SceneLabel      string
	FullText        string
	ContextDesc     string
	VisualRhetoric  string
}

// VisionClient captions/describes an image at the requested stage depth.
type VisionClient interface {
	Analyze(ctx context.Context, imageURL string, stage string) (*VisionResult, error)
}

// OCRClient extracts raw text from an image, used ahead of the fingerprint
// evidence bundle's ARTIFACT section.
type OCRClient interface {
	ExtractText(ctx context.Context, imageURL string) (string, error)
}

// LLMClient runs the analyst pass over a fingerprint/evidence payload and
// returns a raw, untrusted JSON-shaped result.
type LLMClient interface {
	Analyze(ctx context.Context, prompt string) (map[string]any, error)
}

// EmbeddingClient computes a fixed-dimension embedding vector for text.
// Grounded on original_source/analysis/embeddings.py's embed_text: hard
// fails on empty text or a dimension mismatch rather than returning a
// degraded/partial vector.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimension() int
}

// ObjectStore persists archived HTML/DOM snapshots and returns a
// retrievable reference.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
