package signal

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"webchat_home/native/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultPingInterval   = 30 * time.Second

	writeWait = 5 * time.Second
	dialWait  = 10 * time.Second
)

// Handler receives frames and connectivity changes from the Client.
// Both methods are called from the read goroutine.
type Handler interface {
	OnMessage(frame []byte)
	OnConnectivityChange(up bool)
}

// Config describes the websocket endpoint and its keepalive policy.
type Config struct {
	ServerURL      string
	UserID         domain.PeerID
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

// Client manages the WebSocket connection to the chat server. After an
// unexpected closure it redials with a fixed delay until Close is called.
// It implements domain.FrameSender.
type Client struct {
	url     string
	cfg     Config
	handler Handler
	dialer  *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
	closed    chan struct{}
}

// NewClient creates a client for cfg.UserID. Connect must be called to dial.
func NewClient(cfg Config, handler Handler) (*Client, error) {
	u, err := WSURL(cfg.ServerURL, cfg.UserID)
	if err != nil {
		return nil, err
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	return &Client{
		url:     u,
		cfg:     cfg,
		handler: handler,
		dialer:  websocket.DefaultDialer,
		closed:  make(chan struct{}),
	}, nil
}

// WSURL builds <server>/ws/<user>, mapping http(s) to ws(s).
func WSURL(server string, user domain.PeerID) (string, error) {
	if user == "" {
		return "", fmt.Errorf("empty user id")
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(string(user))
	return u.String(), nil
}

// Connect dials the server and starts the read loop. Only the first dial
// is synchronous; later reconnects happen in the background.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.attach(conn)
	go c.serve(conn)
	return nil
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Send writes one text frame. It makes a single attempt and returns
// domain.ErrTransportDown when no connection is up.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return domain.ErrTransportDown
	}
	log.Debug().Str("module", "signal").Bytes("frame", frame).Msg(">>>")

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransportDown, err)
	}
	return nil
}

// Close shuts down the connection and stops reconnecting.
func (c *Client) Close() {
	select {
	case <-c.closed:
		return
	default:
		close(c.closed)
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		conn.Close()
	}
	c.mu.Unlock()
	c.connected.Store(false)
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	log.Info().Str("module", "signal").Str("url", c.url).Msg("connecting")

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.connected.Store(true)
	log.Info().Str("module", "signal").Msg("connected")
	c.handler.OnConnectivityChange(true)
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	c.connected.Store(false)
	conn.Close()
}

// serve owns one connection at a time until Close.
func (c *Client) serve(conn *websocket.Conn) {
	for {
		stop := make(chan struct{})
		go c.pingLoop(conn, stop)
		c.readLoop(conn)
		close(stop)
		c.detach(conn)

		if c.isClosed() {
			return
		}
		log.Warn().Str("module", "signal").Dur("retry_in", c.cfg.ReconnectDelay).Msg("connection lost")
		c.handler.OnConnectivityChange(false)

		if conn = c.reconnect(); conn == nil {
			return
		}
		c.attach(conn)
	}
}

func (c *Client) reconnect() *websocket.Conn {
	timer := time.NewTimer(c.cfg.ReconnectDelay)
	defer timer.Stop()

	for {
		select {
		case <-c.closed:
			return nil
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialWait)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			return conn
		}
		log.Warn().Err(err).Str("module", "signal").Msg("reconnect failed")
		timer.Reset(c.cfg.ReconnectDelay)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				log.Warn().Err(err).Str("module", "signal").Msg("read error")
			}
			return
		}

		log.Debug().Str("module", "signal").Bytes("frame", data).Msg("<<<")
		c.handler.OnMessage(data)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("ping error")
				// Unblocks readLoop, which triggers the reconnect.
				conn.Close()
				return
			}
		}
	}
}
