package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/0Ankit0/identitykit/internal/metrics"
)

// maxReadBytes bounds a single push frame.
const maxReadBytes = 1 << 20

// ConnState is the externally observable connection lifecycle.
type ConnState int

const (
	StateClosed ConnState = iota
	StateConnecting
	StateOpen
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Conn is one established push connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// DialFunc establishes a Conn. Injectable for tests.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// TokenFunc returns the current access credential, or empty when the
// session holds none. The channel re-reads it on every (re)connect so a
// rotation mid-session authenticates the next dial correctly.
type TokenFunc func() string

// Channel maintains the persistent push connection while the session is
// authenticated. Connection loss triggers exponential-backoff reconnects;
// Close is immediate and idempotent.
type Channel struct {
	url     string
	tokenFn TokenFunc
	cache   *Cache
	dial    DialFunc
	log     zerolog.Logger
	metrics *metrics.Metrics

	initialInterval time.Duration
	maxInterval     time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}

	state   ConnState
	stateCh chan ConnState
}

// ChannelOption modifies a Channel at construction time.
type ChannelOption func(*Channel)

// WithDialFunc overrides the websocket dialer (primarily for testing).
func WithDialFunc(dial DialFunc) ChannelOption {
	return func(c *Channel) { c.dial = dial }
}

// WithChannelLogger sets the channel's logger.
func WithChannelLogger(log zerolog.Logger) ChannelOption {
	return func(c *Channel) { c.log = log }
}

// WithChannelMetrics sets the channel's metric set.
func WithChannelMetrics(m *metrics.Metrics) ChannelOption {
	return func(c *Channel) { c.metrics = m }
}

// WithBackoff bounds the reconnect delays.
func WithBackoff(initial, max time.Duration) ChannelOption {
	return func(c *Channel) {
		c.initialInterval = initial
		c.maxInterval = max
	}
}

// NewChannel creates a Channel that feeds the given cache.
func NewChannel(url string, tokenFn TokenFunc, cache *Cache, options ...ChannelOption) (*Channel, error) {
	if url == "" {
		return nil, errors.New("[NewChannel] url is required")
	}
	if tokenFn == nil {
		return nil, errors.New("[NewChannel] token func is required")
	}
	if cache == nil {
		return nil, errors.New("[NewChannel] cache is required")
	}
	c := &Channel{
		url:             url,
		tokenFn:         tokenFn,
		cache:           cache,
		dial:            dialWebsocket,
		log:             zerolog.Nop(),
		initialInterval: 500 * time.Millisecond,
		maxInterval:     30 * time.Second,
		state:           StateClosed,
		stateCh:         make(chan ConnState, 8),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Open starts the connection loop. Calling Open on an already-open channel
// is a no-op. The loop runs until Close or ctx cancellation; connecting
// never blocks the caller.
func (c *Channel) Open(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stopped = make(chan struct{})
	go c.run(runCtx, c.stopped)
}

// Close stops the connection loop and reports StateClosed. Idempotent, and
// returns only after the loop has fully stopped, so callers can order a
// close strictly before clearing credentials.
func (c *Channel) Close() {
	c.mu.Lock()
	cancel := c.cancel
	stopped := c.stopped
	c.cancel = nil
	c.stopped = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// State returns the current connection state.
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// States emits connection state transitions. Slow consumers lose
// intermediate transitions, never the latest one observed by State.
func (c *Channel) States() <-chan ConnState {
	return c.stateCh
}

func (c *Channel) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	defer c.setState(StateClosed)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.MaxInterval = c.maxInterval
	bo.MaxElapsedTime = 0 // retry for as long as the session lives

	for {
		c.setState(StateConnecting)

		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.metrics.IncChannelReconnects()
			c.log.Debug().Err(err).Msg("notification connect failed")
			if !sleepCtx(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		bo.Reset()
		c.setState(StateOpen)
		c.readLoop(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.metrics.IncChannelReconnects()
		c.setState(StateConnecting)
		if !sleepCtx(ctx, bo.NextBackOff()) {
			return
		}
	}
}

func (c *Channel) connect(ctx context.Context) (Conn, error) {
	header := http.Header{}
	if tok := c.tokenFn(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.dial(dialCtx, c.url, header)
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Debug().Err(err).Msg("notification read failed, reconnecting")
			}
			return
		}
		c.handle(data)
	}
}

// handle applies one push event in receipt order.
func (c *Channel) handle(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn().Err(err).Msg("undecodable push event dropped")
		return
	}
	if err := env.Validate(); err != nil {
		c.log.Warn().Err(err).Msg("invalid push envelope dropped")
		return
	}

	switch env.Type {
	case EventNotification:
		var n Notification
		if err := json.Unmarshal(env.Data, &n); err != nil {
			c.log.Warn().Err(err).Msg("undecodable notification dropped")
			return
		}
		c.cache.Upsert(n)
		c.metrics.IncNotificationsReceived()
	case EventNotificationRead:
		var p ReadPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.log.Warn().Err(err).Msg("undecodable read event dropped")
			return
		}
		c.cache.ApplyRead(p.IDs...)
	case EventNotificationReadAll:
		snapshot := c.cache.Snapshot()
		ids := make([]string, 0, len(snapshot))
		for _, n := range snapshot {
			ids = append(ids, n.ID)
		}
		c.cache.ApplyRead(ids...)
	default:
		c.log.Debug().Str("type", env.Type).Msg("unknown push event ignored")
	}
}

func (c *Channel) setState(s ConnState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	select {
	case c.stateCh <- s:
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// dialWebsocket is the production DialFunc over coder/websocket.
func dialWebsocket(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader:   header,
		Subprotocols: []string{Protocol},
	})
	if err != nil {
		return nil, errors.Wrap(err, "[notifications] websocket dial")
	}
	conn.SetReadLimit(maxReadBytes)
	return wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}
