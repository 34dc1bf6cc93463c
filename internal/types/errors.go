package types

import "errors"

// Error taxonomy for the suggestion engine. Failures internal to indexing are
// recovered locally; adapter failures surface as rejected suggestions with a
// reason code. None of these should ever terminate the serving process.
var (
	// ErrProviderTimeout means the model call exceeded its deadline. The
	// owning suggestion is rejected, not retried within the same request.
	ErrProviderTimeout = errors.New("provider timeout")

	// ErrEmbeddingFailure means a chunk could not be embedded. The chunk is
	// marked stale and excluded from retrieval until the next index pass.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrStaleApproval means an approval/decline arrived after the suggestion
	// already reached a terminal state. Treated as a no-op by callers.
	ErrStaleApproval = errors.New("suggestion already resolved")

	// ErrUnknownSuggestion means the referenced suggestion id is not tracked.
	ErrUnknownSuggestion = errors.New("unknown suggestion")

	// ErrSessionStoreUnavailable means persistent session state could not be
	// reached and the engine fell back to an ephemeral in-memory session.
	ErrSessionStoreUnavailable = errors.New("session store unavailable")
)
