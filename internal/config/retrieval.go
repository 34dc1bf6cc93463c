package config

import "fmt"

// RetrievalConfig controls context retrieval and ranking.
type RetrievalConfig struct {
	// ContextTopK is how many chunks a retrieval returns at most.
	ContextTopK int `yaml:"context_top_k"`

	// CursorWindowBytes is how much text around the cursor joins the query
	// embedding input.
	CursorWindowBytes int `yaml:"cursor_window_bytes"`

	// RecencyBoost multiplies the relevance of chunks from files touched in
	// the session's recent interactions. Bounded; 1.0 disables the boost.
	RecencyBoost float64 `yaml:"recency_boost"`

	// RecencyWindow is how many recent interactions count as "current focus".
	RecencyWindow int `yaml:"recency_window"`
}

// DefaultRetrieval returns the stock retrieval settings.
func DefaultRetrieval() RetrievalConfig {
	return RetrievalConfig{
		ContextTopK:       8,
		CursorWindowBytes: 1024,
		RecencyBoost:      1.2,
		RecencyWindow:     5,
	}
}

// Validate checks ranges.
func (r RetrievalConfig) Validate() error {
	if r.ContextTopK < 1 {
		return fmt.Errorf("context_top_k must be >= 1")
	}
	if r.RecencyBoost < 1.0 || r.RecencyBoost > 2.0 {
		return fmt.Errorf("recency_boost must be in [1.0, 2.0], got %v", r.RecencyBoost)
	}
	if r.RecencyWindow < 0 {
		return fmt.Errorf("recency_window must be >= 0")
	}
	return nil
}
