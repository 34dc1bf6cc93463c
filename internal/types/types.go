// Package types defines the core domain types shared across the suggestion
// engine: code chunks, retrieval results, suggestions and their lifecycle
// states, sessions, and acceptance statistics.
package types

import (
	"time"
)

// SuggestionStatus is the lifecycle state of a Suggestion.
type SuggestionStatus string

const (
	StatusPending          SuggestionStatus = "pending"
	StatusAutoApplied      SuggestionStatus = "auto_applied"
	StatusAwaitingApproval SuggestionStatus = "awaiting_approval"
	StatusApproved         SuggestionStatus = "approved"
	StatusRejected         SuggestionStatus = "rejected"
	StatusExpired          SuggestionStatus = "expired"
)

// Terminal reports whether the status is final. A suggestion in a terminal
// state is immutable; re-scoring requires creating a new suggestion.
func (s SuggestionStatus) Terminal() bool {
	switch s {
	case StatusAutoApplied, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// RejectReason explains why a suggestion ended up rejected or expired.
type RejectReason string

const (
	ReasonBelowThreshold     RejectReason = "below_threshold"
	ReasonProviderTimeout    RejectReason = "provider_timeout"
	ReasonProviderError      RejectReason = "provider_error"
	ReasonClientDisconnected RejectReason = "client_disconnected"
	ReasonStaleOverlap       RejectReason = "stale_overlap"
	ReasonHumanDeclined      RejectReason = "human_declined"
	ReasonApprovalExpired    RejectReason = "approval_expired"
	ReasonApplyFailed        RejectReason = "apply_failed"
)

// CodeChunk is a retrievable unit of indexed code content. Owned exclusively
// by the context store. Chunks are invalidated by content hash, never deleted
// in place, so concurrent queries never observe dangling references.
type CodeChunk struct {
	ID            int64     `json:"id"`
	ProjectID     string    `json:"project_id"`
	FilePath      string    `json:"file_path"`
	ByteStart     int       `json:"byte_start"`
	ByteEnd       int       `json:"byte_end"`
	Content       string    `json:"content"`
	ContentHash   string    `json:"content_hash"`
	Embedding     []float32 `json:"embedding,omitempty"`
	Stale         bool      `json:"stale"`
	LastIndexedAt time.Time `json:"last_indexed_at"`
}

// ScoredChunk pairs a chunk with its relevance for one retrieval.
type ScoredChunk struct {
	Chunk     CodeChunk
	Relevance float64 // [0,1], cosine similarity mapped into the unit interval
}

// RetrievalResult is an ordered (descending relevance) set of scored chunks.
// It is transient and never persisted.
type RetrievalResult struct {
	Chunks []ScoredChunk
}

// Empty reports whether retrieval found nothing. An empty result is a valid,
// low-confidence signal, not a failure.
func (r RetrievalResult) Empty() bool { return len(r.Chunks) == 0 }

// TopRelevance returns the relevance of the best chunk, or 0 when empty.
func (r RetrievalResult) TopRelevance() float64 {
	if len(r.Chunks) == 0 {
		return 0
	}
	return r.Chunks[0].Relevance
}

// EditTarget identifies the file region a suggestion wants to modify.
// Two awaiting-approval suggestions in one session must not overlap targets.
type EditTarget struct {
	FilePath  string `json:"file_path"`
	ByteStart int    `json:"byte_start"`
	ByteEnd   int    `json:"byte_end"`
}

// Overlaps reports whether two targets touch the same file region.
func (t EditTarget) Overlaps(o EditTarget) bool {
	if t.FilePath != o.FilePath {
		return false
	}
	return t.ByteStart < o.ByteEnd && o.ByteStart < t.ByteEnd
}

// Suggestion is one scored, gated model proposal. Created by the gate
// controller after scoring and mutated only by it. Confidence is fixed at
// creation and never recomputed.
type Suggestion struct {
	ID            string           `json:"id"`
	ProjectID     string           `json:"project_id"`
	SessionID     string           `json:"session_id"`
	PromptContext string           `json:"prompt_context"`
	RawText       string           `json:"raw_text"`
	Target        EditTarget       `json:"target"`
	Confidence    float64          `json:"confidence"`
	Status        SuggestionStatus `json:"status"`
	Reason        RejectReason     `json:"reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	ResolvedAt    time.Time        `json:"resolved_at,omitempty"`
}

// AcceptanceStats are rolling per-project counters used as a Bayesian-like
// prior by the scorer. Updated atomically with every terminal transition.
type AcceptanceStats struct {
	TotalSuggested int64 `json:"total_suggested"`
	TotalAccepted  int64 `json:"total_accepted"`
	TotalRejected  int64 `json:"total_rejected"`
}

// Session is the per-project, per-connection record of suggestion history.
type Session struct {
	ID           string          `json:"id"`
	ProjectID    string          `json:"project_id"`
	CreatedAt    time.Time       `json:"created_at"`
	LastActiveAt time.Time       `json:"last_active_at"`
	History      []Suggestion    `json:"history"`
	Stats        AcceptanceStats `json:"acceptance_stats"`
}

// SuggestionEvent is emitted to the front-end collaborator on every status
// transition.
type SuggestionEvent struct {
	SuggestionID string           `json:"suggestion_id"`
	SessionID    string           `json:"session_id"`
	Status       SuggestionStatus `json:"status"`
	Reason       RejectReason     `json:"reason,omitempty"`
	Text         string           `json:"text"`
	Confidence   float64          `json:"confidence"`
}

// ApprovalDecision is the human response to an awaiting-approval suggestion.
type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "approve"
	DecisionDecline ApprovalDecision = "decline"
)
