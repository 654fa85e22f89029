// Package identitykit assembles the session and notification core: the
// credential store, refresh coordinator, request gateway, session state
// machine and notification channel, wired once and consumed by UI shells
// (web or mobile) behind a small transport seam.
package identitykit

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/0Ankit0/identitykit/authapi"
	"github.com/0Ankit0/identitykit/gateway"
	"github.com/0Ankit0/identitykit/internal/config"
	"github.com/0Ankit0/identitykit/internal/metrics"
	"github.com/0Ankit0/identitykit/notifications"
	"github.com/0Ankit0/identitykit/session"
	"github.com/0Ankit0/identitykit/token"
	"github.com/0Ankit0/identitykit/token/keyring"
	"github.com/0Ankit0/identitykit/token/refresh"
)

// Client is the assembled session core. The Session machine is the state
// surface; Gateway carries domain requests; Notifications is the local
// cache fed by the realtime channel.
type Client struct {
	Session       *session.Machine
	Gateway       *gateway.Gateway
	API           *authapi.Client
	Notifications *notifications.Cache
	Channel       *notifications.Channel
	Store         *token.Store

	keyring *keyring.SQLite
}

// Options configures New. Zero values fall back to configuration loaded
// from file and environment.
type Options struct {
	Config    *config.Config
	Transport gateway.Transport
	Logger    zerolog.Logger
	Registry  prometheus.Registerer

	// Keyring overrides the sqlite keyring (nil opens Config.KeyringPath;
	// set MemoryOnly to skip persistence entirely).
	Keyring    token.Keyring
	MemoryOnly bool
}

// New wires the core. The dependency order is fixed: store, raw API client,
// coordinator, gateway, channel, then the machine; the coordinator's
// revocation sink is registered last so any component's terminal refresh
// failure forces the machine out of the authenticated state.
func New(opts Options) (*Client, error) {
	cfg := config.Default()
	if opts.Config != nil {
		cfg = *opts.Config
	} else {
		loaded, err := config.Load()
		if err != nil {
			return nil, errors.Wrap(err, "[identitykit.New] load config")
		}
		cfg = loaded
	}

	log := opts.Logger
	m := metrics.New(opts.Registry)

	transport := opts.Transport
	if transport == nil {
		transport = gateway.NewHTTPTransport(cfg.RequestTimeout)
	}

	c := &Client{}

	ring := opts.Keyring
	if ring == nil && !opts.MemoryOnly {
		sqliteRing, err := keyring.OpenSQLite(cfg.KeyringPath)
		if err != nil {
			return nil, errors.Wrap(err, "[identitykit.New] open keyring")
		}
		c.keyring = sqliteRing
		ring = sqliteRing
	}

	store := token.NewStore(ring)
	if err := store.Hydrate(); err != nil {
		log.Warn().Err(err).Msg("keyring hydrate failed, starting anonymous")
	}

	raw := authapi.RawDoer(transport)

	// The API client needs the gateway and the gateway's coordinator needs
	// the API client's exchange; break the loop with a late-bound doer.
	var gw *gateway.Gateway
	lateDoer := authapi.DoerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return gw.Execute(ctx, req)
	})

	api, err := authapi.NewClient(cfg.BaseURL, lateDoer, raw)
	if err != nil {
		return nil, errors.Wrap(err, "[identitykit.New] api client")
	}

	coordinator, err := refresh.NewCoordinator(store, api,
		refresh.WithLogger(log),
		refresh.WithMetrics(m),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[identitykit.New] coordinator")
	}

	gw, err = gateway.New(transport, store, coordinator,
		gateway.WithLogger(log),
		gateway.WithMetrics(m),
		gateway.WithTenantHeader(cfg.TenantHeader),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[identitykit.New] gateway")
	}

	cache := notifications.NewCache()
	channel, err := notifications.NewChannel(cfg.NotificationURL,
		func() string {
			if pair := store.Get(); pair.Valid() {
				return pair.AccessToken
			}
			return ""
		},
		cache,
		notifications.WithChannelLogger(log),
		notifications.WithChannelMetrics(m),
		notifications.WithBackoff(cfg.InitialInterval(), cfg.MaxInterval()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[identitykit.New] channel")
	}

	machine, err := session.NewMachine(store, api,
		session.WithChannel(channel),
		session.WithLogger(log),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[identitykit.New] session machine")
	}
	coordinator.SetSink(machine)

	c.Session = machine
	c.Gateway = gw
	c.API = api
	c.Notifications = cache
	c.Channel = channel
	c.Store = store
	return c, nil
}

// Close releases local resources. It does not log the session out.
func (c *Client) Close() error {
	c.Channel.Close()
	if c.keyring != nil {
		return c.keyring.Close()
	}
	return nil
}
