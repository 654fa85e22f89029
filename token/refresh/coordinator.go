// Package refresh serializes refresh-token exchanges. However many requests
// discover an expired access credential at once, at most one exchange is in
// flight; everyone else waits on its outcome. A failed exchange is terminal
// for the session — there is no retry of the exchange itself.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	interrors "github.com/0Ankit0/identitykit/internal/errors"
	"github.com/0Ankit0/identitykit/internal/metrics"
	"github.com/0Ankit0/identitykit/token"
)

const (
	refreshKey      = "refresh"
	exchangeTimeout = 15 * time.Second
)

// Exchanger performs the refresh-token exchange against the backend.
// Implemented by authapi.Client; the exchange must go over the raw
// transport, never through the gateway, or a 401 would recurse.
type Exchanger interface {
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (*token.Pair, error)
}

// Sink is told when a terminal refresh failure revokes the session, so the
// session state machine can leave Authenticated no matter which request
// tripped the failure.
type Sink interface {
	CredentialsRevoked(cause error)
}

// Coordinator implements the single-flight refresh contract.
type Coordinator struct {
	store     *token.Store
	exchanger Exchanger
	group     singleflight.Group
	log       zerolog.Logger
	metrics   *metrics.Metrics

	sinkMu sync.Mutex
	sink   Sink
}

// CoordinatorOption modifies a Coordinator at construction time.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(log zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.log = log }
}

// WithMetrics sets the coordinator's metric set.
func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a Coordinator over the given store and exchanger.
func NewCoordinator(store *token.Store, exchanger Exchanger, options ...CoordinatorOption) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("[NewCoordinator] store is required")
	}
	if exchanger == nil {
		return nil, errors.New("[NewCoordinator] exchanger is required")
	}
	c := &Coordinator{
		store:     store,
		exchanger: exchanger,
		log:       zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// SetSink registers the revocation sink. Called once at wiring time, after
// the session state machine exists.
func (c *Coordinator) SetSink(s Sink) {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	c.sink = s
}

// EnsureFresh suspends the caller until a valid credential pair is available
// or the refresh is declared failed. Concurrent callers share one exchange.
// A caller whose context ends stops waiting, but the shared exchange runs to
// completion for the remaining waiters.
func (c *Coordinator) EnsureFresh(ctx context.Context) (*token.Pair, error) {
	cur := c.store.Get()
	if !cur.Valid() {
		// Anonymous or already revoked: fail without a network call.
		return nil, errors.Wrap(interrors.ErrAuthorizationRevoked, "[Coordinator.EnsureFresh] no refresh credential")
	}
	epoch := c.store.Epoch()

	ch := c.group.DoChan(refreshKey, func() (interface{}, error) {
		return c.exchange(epoch)
	})

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "[Coordinator.EnsureFresh] caller context ended")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*token.Pair), nil
	}
}

// exchange runs at most once per single-flight round. It re-reads the store
// so a waiter that queued behind a just-finished round does not trigger a
// second exchange against a consumed refresh credential.
func (c *Coordinator) exchange(epoch uint64) (*token.Pair, error) {
	cur := c.store.Get()
	if !cur.Valid() {
		return nil, c.terminal(errors.New("refresh credential gone"))
	}
	if c.store.Epoch() != epoch {
		// Logout won the race before the exchange started.
		return nil, errors.Wrap(interrors.ErrAuthorizationRevoked, "[Coordinator.exchange] session closed")
	}

	c.metrics.IncRefreshAttempts()
	c.log.Debug().Msg("refresh exchange started")

	// The exchange is detached from any single caller: one request being
	// abandoned must not abort the rotation every other waiter depends on.
	ctx, cancel := context.WithTimeout(context.Background(), exchangeTimeout)
	defer cancel()

	pair, err := c.exchanger.ExchangeRefreshToken(ctx, cur.RefreshToken)
	if err != nil {
		return nil, c.terminal(err)
	}
	if pair.RefreshToken == "" {
		// Server kept the old refresh credential instead of rotating it.
		pair.RefreshToken = cur.RefreshToken
	}
	if !pair.Valid() {
		return nil, c.terminal(errors.New("exchange returned a partial pair"))
	}

	if !c.store.SetIfEpoch(pair, epoch) {
		// Logout landed while the exchange was in flight. The network call
		// succeeded, but its effect on this session is cancelled.
		return nil, errors.Wrap(interrors.ErrAuthorizationRevoked, "[Coordinator.exchange] session closed during refresh")
	}

	c.log.Debug().Msg("refresh exchange succeeded")
	return pair, nil
}

// terminal tells the sink, clears the store, and returns the revocation
// error every waiter will observe. The sink runs first so the notification
// channel is closed before the credentials disappear, matching the logout
// ordering.
func (c *Coordinator) terminal(cause error) error {
	c.metrics.IncRefreshFailures()
	c.log.Warn().Err(cause).Msg("refresh exchange failed, session revoked")

	c.sinkMu.Lock()
	sink := c.sink
	c.sinkMu.Unlock()
	if sink != nil {
		sink.CredentialsRevoked(cause)
	}
	c.store.Clear()
	return errors.Wrapf(interrors.ErrAuthorizationRevoked, "[Coordinator] refresh failed: %v", cause)
}
