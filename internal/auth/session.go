package auth

import (
	"context"
	"sync"
	"time"

	"github.com/cloudvault-io/cvapi/pkg/cvapi"
)

// Session is the uniform contract every trust model exposes to the client
// façade.
type Session interface {
	// GetAccessToken returns a currently valid access token, refreshing it
	// first when the session's policy requires.
	GetAccessToken(ctx context.Context, opts *RequestOptions) (string, error)
	// RevokeTokens invalidates the session's tokens server-side.
	RevokeTokens(ctx context.Context, opts *RequestOptions) error
	// ExchangeToken downscopes the session's current token without mutating
	// session state. actor optionally impersonates an external identity in
	// the exchanged token.
	ExchangeToken(ctx context.Context, scopes []string, resourceURL string, actor *ActorParams, opts *RequestOptions) (*cvapi.TokenInfo, error)
}

// ExpiredTokensHandler is implemented by sessions that can react to the
// client detecting an expired-token 401: clearing caches and external stores
// before the error propagates.
type ExpiredTokensHandler interface {
	HandleExpiredTokensError(ctx context.Context, cause error) error
}

// pendingRefresh is the in-flight future shared by callers that arrive while
// a refresh is outstanding.
type pendingRefresh struct {
	done chan struct{}
	info *cvapi.TokenInfo
	err  error
}

// tokenCache holds a session's current TokenInfo and coalesces concurrent
// refreshes: the first caller to observe a stale token starts the network
// grant, every caller that arrives meanwhile shares the same future, and all
// of them observe the same outcome. The pending marker is cleared before the
// future resolves, so a subsequent call can retry after a failure.
//
// Two buffer windows drive the refresh policy. A token valid beyond
// staleBuffer is served as-is. A stale token still valid beyond expiredBuffer
// is served immediately while a refresh runs behind it. A token inside
// expiredBuffer blocks the caller until the refresh resolves.
type tokenCache struct {
	mu      sync.Mutex
	current *cvapi.TokenInfo
	pending *pendingRefresh
}

// get returns a token per the two-window policy above, running (or joining)
// at most one single-flight fetch.
func (c *tokenCache) get(ctx context.Context, staleBuffer, expiredBuffer time.Duration, fetch func(context.Context) (*cvapi.TokenInfo, error)) (*cvapi.TokenInfo, error) {
	c.mu.Lock()

	if c.current.Valid(staleBuffer) {
		info := c.current
		c.mu.Unlock()

		return info, nil
	}

	// Stale but not yet near expiry: hand out the current token and refresh
	// behind it. The refresh outlives the caller's context.
	if c.current.Valid(expiredBuffer) {
		info := c.current
		if c.pending == nil {
			flight := &pendingRefresh{done: make(chan struct{})}
			c.pending = flight

			go c.resolve(context.WithoutCancel(ctx), flight, fetch)
		}
		c.mu.Unlock()

		return info, nil
	}

	if waiting := c.pending; waiting != nil {
		c.mu.Unlock()

		select {
		case <-waiting.done:
			return waiting.info, waiting.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	flight := &pendingRefresh{done: make(chan struct{})}
	c.pending = flight
	c.mu.Unlock()

	c.resolve(ctx, flight, fetch)

	return flight.info, flight.err
}

// resolve runs the fetch, publishes its outcome, and releases the flight.
func (c *tokenCache) resolve(ctx context.Context, flight *pendingRefresh, fetch func(context.Context) (*cvapi.TokenInfo, error)) {
	info, err := fetch(ctx)

	c.mu.Lock()
	if err == nil {
		c.current = info
	}

	c.pending = nil
	c.mu.Unlock()

	flight.info = info
	flight.err = err
	close(flight.done)
}

// token returns the current TokenInfo without triggering a refresh.
func (c *tokenCache) token() *cvapi.TokenInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current
}

// set replaces the current TokenInfo.
func (c *tokenCache) set(info *cvapi.TokenInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = info
}

// clear drops the current TokenInfo.
func (c *tokenCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = nil
}
