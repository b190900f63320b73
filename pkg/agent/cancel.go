package agent

import "sync/atomic"

// CancelToken is a cooperative, best-effort cancellation signal. It is
// checked at step boundaries and inside tool execution; it cannot interrupt
// an in-flight model call. The orchestrator consumes and clears it at the
// start of each run.
type CancelToken struct {
	cancelled atomic.Bool
}

// NewCancelToken creates an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel sets the token. Safe to call from any goroutine.
func (t *CancelToken) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested.
func (t *CancelToken) Cancelled() bool {
	return t.cancelled.Load()
}

// Reset clears the token.
func (t *CancelToken) Reset() {
	t.cancelled.Store(false)
}
