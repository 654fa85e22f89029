// Package gateway makes outbound calls authorization-aware. Every request
// leaves with the current bearer credential and active-tenant header; a 401
// triggers one coordinated refresh and one retry, never more.
package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	interrors "github.com/0Ankit0/identitykit/internal/errors"
	"github.com/0Ankit0/identitykit/internal/metrics"
	"github.com/0Ankit0/identitykit/token"
	"github.com/0Ankit0/identitykit/token/refresh"
)

const (
	// DefaultTenantHeader carries the active tenant on every request.
	DefaultTenantHeader = "X-Tenant-ID"

	requestIDHeader = "X-Request-ID"
)

// Gateway wraps a Transport with credential and tenant handling. Call sites
// never deal with token rotation themselves.
type Gateway struct {
	transport    Transport
	store        *token.Store
	coordinator  *refresh.Coordinator
	tenantHeader string
	log          zerolog.Logger
	metrics      *metrics.Metrics
	nowTime      func() time.Time
}

// Option modifies a Gateway at construction time.
type Option func(*Gateway)

// WithLogger sets the gateway's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// WithMetrics sets the gateway's metric set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithTenantHeader overrides the header name used for the active tenant.
func WithTenantHeader(name string) Option {
	return func(g *Gateway) { g.tenantHeader = name }
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(g *Gateway) { g.nowTime = nowFunc }
}

// New creates a Gateway. The coordinator may be nil only in tests that never
// exercise the refresh path.
func New(transport Transport, store *token.Store, coordinator *refresh.Coordinator, options ...Option) (*Gateway, error) {
	if transport == nil {
		return nil, errors.New("[gateway.New] transport is required")
	}
	if store == nil {
		return nil, errors.New("[gateway.New] store is required")
	}
	g := &Gateway{
		transport:    transport,
		store:        store,
		coordinator:  coordinator,
		tenantHeader: DefaultTenantHeader,
		log:          zerolog.Nop(),
		nowTime:      time.Now,
	}
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// Execute sends the request with auth context attached. On a 401 it asks the
// coordinator for a fresh credential and reissues the original request
// exactly once; the retried response is returned as-is, so a second 401
// reaches the caller instead of looping. Requests that were sent without
// credentials (login, signup) pass through untouched.
func (g *Gateway) Execute(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	if req.Header.Get(requestIDHeader) == "" {
		req.Header.Set(requestIDHeader, uuid.New().String())
	}

	pair := g.store.Get()
	if pair.Valid() && pair.Expired(g.nowTime()) && g.coordinator != nil {
		// The credential is already stale; refresh before spending a round
		// trip on a guaranteed 401.
		fresh, err := g.coordinator.EnsureFresh(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "[Gateway.Execute] proactive refresh")
		}
		pair = fresh
	}
	g.attach(req, pair)

	resp, err := g.transport.SendRaw(req)
	if err != nil {
		return nil, errors.Wrapf(interrors.ErrNetwork, "[Gateway.Execute] %s %s: %v", req.Method, req.URL.Path, err)
	}

	if resp.StatusCode != http.StatusUnauthorized || !pair.Valid() || g.coordinator == nil {
		return resp, nil
	}

	// Authorization failure on an authenticated request: refresh and retry
	// the original call once.
	drain(resp)

	// Another request may have rotated the credential while this 401 was in
	// flight; only spend a refresh when the store still holds the token
	// that was rejected.
	fresh := g.store.Get()
	if !fresh.Valid() || fresh.AccessToken == pair.AccessToken {
		fresh, err = g.coordinator.EnsureFresh(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "[Gateway.Execute] refresh after 401")
		}
	}

	retry, err := g.rewind(ctx, req)
	if err != nil {
		return nil, err
	}
	g.attach(retry, fresh)
	g.metrics.IncGatewayRetries()
	g.log.Debug().Str("path", req.URL.Path).Msg("retrying request with refreshed credential")

	resp, err = g.transport.SendRaw(retry)
	if err != nil {
		return nil, errors.Wrapf(interrors.ErrNetwork, "[Gateway.Execute] retry %s %s: %v", req.Method, req.URL.Path, err)
	}
	return resp, nil
}

// attach sets the Authorization and tenant headers from the given pair and
// the store's active tenant. No tenant header is sent when none is active.
func (g *Gateway) attach(req *http.Request, pair *token.Pair) {
	if pair.Valid() {
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	} else {
		req.Header.Del("Authorization")
	}
	if tenantID := g.store.TenantID(); tenantID != "" {
		req.Header.Set(g.tenantHeader, tenantID)
	} else {
		req.Header.Del(g.tenantHeader)
	}
}

// rewind clones the request with a replayable body for the single retry.
func (g *Gateway) rewind(ctx context.Context, req *http.Request) (*http.Request, error) {
	retry := req.Clone(ctx)
	if req.Body == nil {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("[Gateway.rewind] request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, errors.Wrap(err, "[Gateway.rewind] GetBody")
	}
	retry.Body = body
	return retry, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
}
