// Package gate decides, per scored suggestion, whether to auto-apply, route
// to human approval, or reject, and tracks each suggestion through its
// lifecycle. All terminal transitions are exactly-once: the session store's
// transaction is the commit point, and a losing racer (human response vs
// expiry timer) is a no-op, never an error.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pairpilot/internal/config"
	"pairpilot/internal/logging"
	"pairpilot/internal/session"
	"pairpilot/internal/types"
)

// Applier performs the edit-application side effect for auto_applied and
// approved suggestions. rejected/expired suggestions never reach it.
type Applier interface {
	Apply(ctx context.Context, s types.Suggestion) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ctx context.Context, s types.Suggestion) error

func (f ApplierFunc) Apply(ctx context.Context, s types.Suggestion) error { return f(ctx, s) }

// Listener receives an event on every suggestion status transition.
type Listener func(types.SuggestionEvent)

// Controller is the gating state machine.
type Controller struct {
	cfg     config.GatingConfig
	store   session.Store
	applier Applier

	mu        sync.Mutex
	pending   map[string]*pendingApproval // by suggestion id
	inflight  map[string]struct{}         // suggestion ids mid-resolution
	listeners []Listener
	closed    bool

	wg sync.WaitGroup
}

// pendingApproval tracks one awaiting_approval suggestion and its expiry
// timer.
type pendingApproval struct {
	sug   types.Suggestion
	timer *time.Timer
}

// New creates a gate controller. applier may be nil, in which case accepted
// suggestions are recorded but no external edit is performed.
func New(cfg config.GatingConfig, store session.Store, applier Applier) *Controller {
	return &Controller{
		cfg:      cfg,
		store:    store,
		applier:  applier,
		pending:  map[string]*pendingApproval{},
		inflight: map[string]struct{}{},
	}
}

// Resume re-adopts awaiting_approval suggestions persisted by a previous
// process. Entries already past their approval window expire immediately;
// the rest get a timer armed with the remaining time and participate in
// overlap conflict detection again. The window is bounded across restarts:
// it runs from CreatedAt, not from adoption.
func (c *Controller) Resume(ctx context.Context) error {
	awaiting, err := c.store.ListAwaiting(ctx)
	if err != nil {
		return fmt.Errorf("failed to load awaiting suggestions: %w", err)
	}

	timeout := time.Duration(c.cfg.ApprovalTimeoutSeconds) * time.Second
	now := time.Now().UTC()

	adopted := 0
	for _, sug := range awaiting {
		remaining := sug.CreatedAt.Add(timeout).Sub(now)
		if remaining < 0 {
			remaining = 0
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil
		}
		if _, tracked := c.pending[sug.ID]; tracked {
			c.mu.Unlock()
			continue
		}
		id := sug.ID
		p := &pendingApproval{sug: sug}
		c.wg.Add(1)
		p.timer = time.AfterFunc(remaining, func() {
			defer c.wg.Done()
			c.expire(id)
		})
		c.pending[id] = p
		c.mu.Unlock()
		adopted++
	}

	if adopted > 0 {
		logging.Get(logging.CategoryGate).Infof("resumed %d awaiting suggestions from a previous run", adopted)
	}
	return nil
}

// Subscribe registers a listener for status transition events.
func (c *Controller) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Close stops all expiry timers and waits for in-flight timer callbacks.
// Pending approvals survive in the store as awaiting_approval.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	for _, p := range c.pending {
		if p.timer.Stop() {
			c.wg.Done()
		}
	}
	c.pending = map[string]*pendingApproval{}
	c.mu.Unlock()
	c.wg.Wait()
}

// Admit records a scored suggestion and routes it through the gate:
//
//	confidence >= high            -> auto_applied
//	low <= confidence < high      -> awaiting_approval (expiry timer armed)
//	confidence < low              -> rejected (below_threshold)
//
// A suggestion whose edit target overlaps another awaiting_approval
// suggestion in the same session is rejected as stale instead of queued.
// The returned suggestion carries the decided status.
func (c *Controller) Admit(ctx context.Context, sug types.Suggestion) (types.Suggestion, error) {
	log := logging.Get(logging.CategoryGate)

	sug.Status = types.StatusPending
	if err := c.store.Append(ctx, sug.SessionID, sug); err != nil {
		return sug, fmt.Errorf("failed to record suggestion: %w", err)
	}

	switch {
	case sug.Confidence >= c.cfg.HighThreshold:
		log.Infof("suggestion %s confidence %.3f >= %.2f: auto-applying",
			sug.ID, sug.Confidence, c.cfg.HighThreshold)
		return c.accept(ctx, sug, types.StatusAutoApplied)

	case sug.Confidence >= c.cfg.LowThreshold:
		if conflict := c.overlapConflict(sug); conflict != "" {
			log.Warnf("suggestion %s overlaps awaiting suggestion %s: rejecting as stale", sug.ID, conflict)
			return c.reject(ctx, sug, types.ReasonStaleOverlap)
		}
		return c.await(ctx, sug)

	default:
		log.Infof("suggestion %s confidence %.3f < %.2f: rejecting",
			sug.ID, sug.Confidence, c.cfg.LowThreshold)
		return c.reject(ctx, sug, types.ReasonBelowThreshold)
	}
}

// Reject records a suggestion that failed before or during inference and
// resolves it immediately with the given reason. Used for provider timeouts,
// provider errors, and client disconnects.
func (c *Controller) Reject(ctx context.Context, sug types.Suggestion, reason types.RejectReason) (types.Suggestion, error) {
	sug.Status = types.StatusPending
	if err := c.store.Append(ctx, sug.SessionID, sug); err != nil {
		return sug, fmt.Errorf("failed to record suggestion: %w", err)
	}
	return c.reject(ctx, sug, reason)
}

// Respond delivers the human decision for an awaiting_approval suggestion.
// A response that loses the race against expiry (or a duplicate response)
// returns ErrStaleApproval; callers treat it as a no-op.
func (c *Controller) Respond(ctx context.Context, suggestionID string, decision types.ApprovalDecision) error {
	c.mu.Lock()
	if _, busy := c.inflight[suggestionID]; busy {
		c.mu.Unlock()
		return types.ErrStaleApproval
	}
	c.inflight[suggestionID] = struct{}{}
	p, ok := c.pending[suggestionID]
	if ok {
		if p.timer.Stop() {
			c.wg.Done()
		}
		delete(c.pending, suggestionID)
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, suggestionID)
		c.mu.Unlock()
	}()

	var sug types.Suggestion
	if ok {
		sug = p.sug
	} else {
		// Not tracked in memory: unknown id, already resolved, or persisted
		// awaiting_approval from a previous process. Load it and decide from
		// the stored state.
		stored, err := c.store.GetSuggestion(ctx, suggestionID)
		if err != nil {
			return err
		}
		if stored.Status.Terminal() {
			return types.ErrStaleApproval
		}
		if stored.Status != types.StatusAwaitingApproval {
			return fmt.Errorf("suggestion %s is %s, not awaiting approval", suggestionID, stored.Status)
		}
		sug = stored
	}
	if decision == types.DecisionApprove {
		_, err := c.accept(ctx, sug, types.StatusApproved)
		return err
	}
	_, err := c.resolve(ctx, sug, types.StatusRejected, types.ReasonHumanDeclined)
	return err
}

// AwaitingCount reports how many suggestions are waiting on a human.
func (c *Controller) AwaitingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// await transitions pending -> awaiting_approval and arms the expiry timer.
func (c *Controller) await(ctx context.Context, sug types.Suggestion) (types.Suggestion, error) {
	if err := c.store.MarkAwaiting(ctx, sug.ID); err != nil {
		return sug, err
	}
	sug.Status = types.StatusAwaitingApproval

	timeout := time.Duration(c.cfg.ApprovalTimeoutSeconds) * time.Second

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return sug, fmt.Errorf("gate controller closed")
	}
	p := &pendingApproval{sug: sug}
	c.wg.Add(1)
	p.timer = time.AfterFunc(timeout, func() {
		defer c.wg.Done()
		c.expire(sug.ID)
	})
	c.pending[sug.ID] = p
	c.mu.Unlock()

	logging.Get(logging.CategoryGate).Infof("suggestion %s awaiting approval (expires in %s)", sug.ID, timeout)
	c.emit(sug)
	return sug, nil
}

// expire resolves an awaiting suggestion that got no human response in time.
// Counts as rejected for statistics, recorded distinctly for observability.
func (c *Controller) expire(suggestionID string) {
	c.mu.Lock()
	p, ok := c.pending[suggestionID]
	if ok {
		delete(c.pending, suggestionID)
		c.inflight[suggestionID] = struct{}{}
	}
	c.mu.Unlock()
	if !ok {
		return // human response won the race
	}
	defer func() {
		c.mu.Lock()
		delete(c.inflight, suggestionID)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.resolve(ctx, p.sug, types.StatusExpired, types.ReasonApprovalExpired); err != nil {
		if errors.Is(err, types.ErrStaleApproval) {
			return // lost the commit race, no-op
		}
		logging.Get(logging.CategoryGate).Errorf("failed to expire suggestion %s: %v", suggestionID, err)
	}
}

// accept applies the edit side effect and commits the accepting status.
// An apply failure downgrades to rejected with apply_failed.
func (c *Controller) accept(ctx context.Context, sug types.Suggestion, status types.SuggestionStatus) (types.Suggestion, error) {
	if c.applier != nil {
		if err := c.applier.Apply(ctx, sug); err != nil {
			logging.Get(logging.CategoryGate).Errorf("apply failed for suggestion %s: %v", sug.ID, err)
			return c.resolve(ctx, sug, types.StatusRejected, types.ReasonApplyFailed)
		}
	}
	return c.resolve(ctx, sug, status, "")
}

func (c *Controller) reject(ctx context.Context, sug types.Suggestion, reason types.RejectReason) (types.Suggestion, error) {
	return c.resolve(ctx, sug, types.StatusRejected, reason)
}

// resolve commits a terminal transition through the session store (status
// and stats in one transaction) and emits the event. The store rejects a
// second terminal write with ErrStaleApproval, which is passed through for
// the caller to treat as a no-op.
func (c *Controller) resolve(ctx context.Context, sug types.Suggestion,
	status types.SuggestionStatus, reason types.RejectReason) (types.Suggestion, error) {

	now := time.Now().UTC()
	if err := c.store.Resolve(ctx, sug.ID, status, reason, now); err != nil {
		return sug, err
	}
	sug.Status = status
	sug.Reason = reason
	sug.ResolvedAt = now
	c.emit(sug)
	return sug, nil
}

// overlapConflict returns the id of an awaiting suggestion in the same
// session whose edit target overlaps, or "" when there is none.
func (c *Controller) overlapConflict(sug types.Suggestion) string {
	if sug.Target.FilePath == "" {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.pending {
		if p.sug.SessionID == sug.SessionID && p.sug.Target.Overlaps(sug.Target) {
			return id
		}
	}
	return ""
}

func (c *Controller) emit(sug types.Suggestion) {
	c.mu.Lock()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	ev := types.SuggestionEvent{
		SuggestionID: sug.ID,
		SessionID:    sug.SessionID,
		Status:       sug.Status,
		Reason:       sug.Reason,
		Text:         sug.RawText,
		Confidence:   sug.Confidence,
	}
	for _, l := range listeners {
		l(ev)
	}
}
