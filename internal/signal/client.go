package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"noadb/agent/internal/domain"
	"noadb/agent/internal/logger"
	"noadb/agent/internal/metrics"
)

var (
	// ErrAlreadyConnected is returned by Connect while a connection is live.
	ErrAlreadyConnected = errors.New("signal: already connected")
	// ErrNotConnected is returned by Send without a live connection.
	ErrNotConnected = errors.New("signal: not connected")
)

const (
	defaultPingInterval = 15 * time.Second
	defaultWriteWait    = 5 * time.Second
	sendQueueSize       = 64
	inboundQueueSize    = 64
)

// Options configures a Client. Zero values select defaults.
type Options struct {
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Dialer       *websocket.Dialer
	PingInterval time.Duration
	// PongWait bounds the silence tolerated on the read side. Defaults to
	// twice PingInterval.
	PongWait  time.Duration
	WriteWait time.Duration
}

// Client manages the WebSocket connection to the signaling relay. A Client
// holds at most one live connection; after it ends a new Connect opens the
// next one.
type Client struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	dialer  *websocket.Dialer

	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration

	mu   sync.Mutex
	link *link
}

// NewClient creates a new signaling client.
func NewClient(opts Options) *Client {
	c := &Client{
		log:          logger.OrNop(opts.Logger),
		metrics:      opts.Metrics,
		dialer:       opts.Dialer,
		pingInterval: opts.PingInterval,
		pongWait:     opts.PongWait,
		writeWait:    opts.WriteWait,
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.pingInterval <= 0 {
		c.pingInterval = defaultPingInterval
	}
	if c.pongWait <= 0 {
		c.pongWait = 2 * c.pingInterval
	}
	if c.writeWait <= 0 {
		c.writeWait = defaultWriteWait
	}
	return c
}

// link is one WebSocket connection and its goroutines.
type link struct {
	conn *websocket.Conn
	out  chan domain.Envelope
	in   chan domain.Envelope

	closed chan struct{}
	once   sync.Once
	err    error
}

func (l *link) done() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// shutdown records the first cause and closes the socket. A nil cause
// marks an explicit close.
func (l *link) shutdown(cause error) {
	l.once.Do(func() {
		l.err = cause
		close(l.closed)
		l.conn.Close()
	})
}

// Connect dials the relay and starts the read, write and ping loops. The
// returned channel yields inbound envelopes in relay order and is closed
// when the connection ends.
func (c *Client) Connect(ctx context.Context, relayURL string) (<-chan domain.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.link != nil && !c.link.done() {
		return nil, ErrAlreadyConnected
	}

	target, err := wsURL(relayURL)
	if err != nil {
		return nil, domain.NewError(domain.KindTransport, "parse relay url", err)
	}

	c.log.Info("connecting", zap.String("url", target))
	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, domain.NewError(domain.KindTransport, "websocket dial", err)
	}

	l := &link{
		conn:   conn,
		out:    make(chan domain.Envelope, sendQueueSize),
		in:     make(chan domain.Envelope, inboundQueueSize),
		closed: make(chan struct{}),
	}
	c.link = l

	go c.readLoop(l)
	go c.writeLoop(l)
	go c.pingLoop(l)

	return l.in, nil
}

// Send queues env for delivery on the live connection.
func (c *Client) Send(env domain.Envelope) error {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()

	if l == nil || l.done() {
		return domain.NewError(domain.KindTransport, "send "+string(env.Type), ErrNotConnected)
	}
	select {
	case l.out <- env:
		return nil
	case <-l.closed:
		return domain.NewError(domain.KindTransport, "send "+string(env.Type), ErrNotConnected)
	}
}

// Err reports why the most recent connection ended. It is nil while the
// connection is live and after an explicit Close.
func (c *Client) Err() error {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()

	if l == nil || !l.done() {
		return nil
	}
	return l.err
}

// Close shuts down the live connection, if any.
func (c *Client) Close() {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()

	if l != nil {
		l.shutdown(nil)
	}
}

func (c *Client) readLoop(l *link) {
	defer close(l.in)

	l.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if !l.done() {
				c.log.Warn("read error", zap.Error(err))
			}
			l.shutdown(domain.NewError(domain.KindTransport, "read", err))
			return
		}
		l.conn.SetReadDeadline(time.Now().Add(c.pongWait))

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.log.Warn("dropping malformed frame", zap.Int("bytes", len(data)), zap.Error(err))
			c.metrics.Dropped(metrics.DropMalformed)
			continue
		}
		c.log.Debug("<<<", zap.String("type", string(env.Type)))
		c.metrics.EnvelopeReceived(env.Type)

		select {
		case l.in <- env:
		case <-l.closed:
			return
		}
	}
}

func (c *Client) writeLoop(l *link) {
	for {
		select {
		case <-l.closed:
			return
		case env := <-l.out:
			data, err := json.Marshal(env)
			if err != nil {
				c.log.Error("marshal error", zap.String("type", string(env.Type)), zap.Error(err))
				continue
			}
			l.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !l.done() {
					c.log.Warn("write error", zap.Error(err))
				}
				l.shutdown(domain.NewError(domain.KindTransport, "write", err))
				return
			}
			c.log.Debug(">>>", zap.String("type", string(env.Type)))
			c.metrics.EnvelopeSent(env.Type)
		}
	}
}

func (c *Client) pingLoop(l *link) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.closed:
			return
		case <-ticker.C:
			// WriteControl may run concurrently with WriteMessage.
			err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
			if err != nil {
				if !l.done() {
					c.log.Warn("ping error", zap.Error(err))
				}
				l.shutdown(domain.NewError(domain.KindTransport, "ping", err))
				return
			}
		}
	}
}

// wsURL accepts ws(s) URLs and maps http(s) onto them.
func wsURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}
