// Package recovery keeps a dbgctl client usable across dropped connections and
// server restarts: it checks health, reconnects with a bounded policy,
// resynchronizes the active session and retries failed operations once.
package recovery

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/localrivet/dbgctl/client"
	"github.com/localrivet/dbgctl/logx"
	"github.com/localrivet/dbgctl/session"
)

// Connector is the part of *client.Client that recovery drives.
type Connector interface {
	IsConnected() bool
	ServerURL() string
	CheckHealth(ctx context.Context) (string, error)
	Reconnect(ctx context.Context) error
	ListSessions(ctx context.Context, userID string) (*client.SessionList, error)
}

var _ Connector = (*client.Client)(nil)

// Recovery is the reconnect and resynchronization state machine for one client.
type Recovery struct {
	conn     Connector
	state    *session.State
	policy   BackoffStrategy
	clock    clockwork.Clock
	logger   logx.Logger
	onResync func(session.Status)
}

// Option configures a Recovery.
type Option func(*Recovery)

// WithPolicy sets the reconnect policy.
func WithPolicy(policy BackoffStrategy) Option {
	return func(r *Recovery) {
		if policy != nil {
			r.policy = policy
		}
	}
}

// WithClock sets the clock used for delays between attempts.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Recovery) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets where operator-facing messages go.
func WithLogger(logger logx.Logger) Option {
	return func(r *Recovery) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResyncHook registers fn to run after every post-reconnect resynchronization.
func WithResyncHook(fn func(session.Status)) Option {
	return func(r *Recovery) {
		r.onResync = fn
	}
}

// New returns a Recovery for conn. state may be nil when no session is tracked.
func New(conn Connector, state *session.State, opts ...Option) *Recovery {
	r := &Recovery{
		conn:   conn,
		state:  state,
		policy: DefaultPolicy(),
		clock:  clockwork.NewRealClock(),
		logger: logx.NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CheckConnection reports whether the client is connected and the server says
// it is healthy. Health check failures count as unhealthy.
func (r *Recovery) CheckConnection(ctx context.Context) bool {
	if !r.conn.IsConnected() {
		return false
	}
	status, err := r.conn.CheckHealth(ctx)
	if err != nil {
		r.logger.Debug("Health check failed: %v", err)
		return false
	}
	return strings.EqualFold(strings.TrimSpace(status), "healthy")
}

// TryRecover reconnects to the last server, at most MaxAttempts times, and
// reports whether a healthy connection was re-established. After the first
// healthy reconnect the active session, if any, is resynchronized.
func (r *Recovery) TryRecover(ctx context.Context) bool {
	serverURL := r.conn.ServerURL()
	if serverURL == "" {
		r.logger.Warn("Cannot reconnect: no server URL is configured")
		return false
	}

	attempts := r.policy.MaxAttempts()
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && !r.sleep(ctx, r.policy.NextDelay(attempt-1)) {
			return false
		}

		r.logger.Info("Reconnecting to %s (attempt %d/%d)", serverURL, attempt, attempts)
		if err := r.conn.Reconnect(ctx); err != nil {
			r.logger.Debug("Reconnect attempt %d failed: %v", attempt, err)
			if ctx.Err() != nil {
				return false
			}
			continue
		}
		if !r.CheckConnection(ctx) {
			r.logger.Debug("Reconnect attempt %d: server is not healthy", attempt)
			continue
		}

		r.logger.Info("Reconnected to %s", serverURL)
		r.resync(ctx)
		return true
	}

	r.logger.Warn("Could not reconnect to %s after %d attempts", serverURL, attempts)
	return false
}

func (r *Recovery) resync(ctx context.Context) {
	if r.state == nil || !r.state.HasSession() {
		return
	}
	sessionID := r.state.SessionID()

	list, err := r.conn.ListSessions(ctx, r.state.UserID())
	if err != nil {
		r.logger.Warn("Could not resynchronize session %s: %v", sessionID, err)
		return
	}

	status := session.Resync(r.state, list.Entries())
	switch status {
	case session.StatusNotFound:
		r.state.Clear()
		r.logger.Warn("Session %s no longer exists on the server; local session cleared", sessionID)
	case session.StatusSynced:
		r.logger.Info("Session %s resynchronized with dump %s", sessionID, r.state.DumpID())
	case session.StatusNoDump:
		r.logger.Info("Session %s resynchronized (no dump open)", sessionID)
	}
	if r.onResync != nil {
		r.onResync(status)
	}
}

func (r *Recovery) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := r.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return true
	case <-ctx.Done():
		return false
	}
}

// ExecuteWithRecovery runs op. When op fails with a recoverable error and a
// reconnect succeeds, op is retried exactly once. Any other error, or the
// error of the retry, is returned unchanged.
func ExecuteWithRecovery[T any](ctx context.Context, r *Recovery, name string, op func(context.Context) (T, error)) (T, error) {
	result, err := op(ctx)
	if err == nil || !IsRecoverable(err) {
		return result, err
	}

	r.logger.Warn("%s failed: %v", name, err)
	if !r.TryRecover(ctx) {
		return result, err
	}
	r.logger.Info("Retrying %s...", name)
	return op(ctx)
}

// IsRecoverable reports whether err is a connectivity failure that a reconnect
// may cure. Application errors, timeouts and cancellations are not.
func IsRecoverable(err error) bool {
	switch {
	case err == nil:
		return false
	case client.IsToolError(err), client.IsServerError(err):
		return false
	case errors.Is(err, client.ErrCancelled), errors.Is(err, context.Canceled):
		return false
	case client.IsTimeoutError(err):
		return false
	case client.IsTransportError(err), client.IsConnectionError(err):
		return !errors.Is(err, client.ErrAlreadyConnected)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
