// ABOUTME: Websocket sync transport client with reconnect backoff.
// ABOUTME: Surfaces connect/disconnect/synced lifecycle events and delivers sequenced updates.
package transport

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Settings carries the transport timing knobs.
type Settings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
	SendBufferSize   int
}

// DefaultSettings returns the production timing defaults.
func DefaultSettings() *Settings {
	return &Settings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     20 * time.Second,
		PongTimeout:      30 * time.Second,
		ReconnectMin:     500 * time.Millisecond,
		ReconnectMax:     30 * time.Second,
		SendBufferSize:   64,
	}
}

// Handlers are the lifecycle and delivery callbacks. Nil entries are skipped.
// Callbacks fire on the transport's goroutine; handlers must not block.
type Handlers struct {
	OnConnect    func()
	OnDisconnect func()
	OnSynced     func()
	OnUpdate     func(data []byte)
}

// Client maintains one logical channel subscription to a sync server,
// reconnecting with exponential backoff until closed. Reconnection is
// surfaced purely as OnDisconnect/OnConnect events; no errors are returned
// to the caller.
type Client struct {
	serverURL string
	channel   string
	token     string
	sessionID string
	handlers  Handlers
	settings  *Settings

	ctx    context.Context
	cancel context.CancelFunc

	sendCh chan []byte

	mu      sync.Mutex
	conn    *websocket.Conn
	lastSeq int64
	started bool
	closed  bool
}

// New creates a transport client bound to the given logical channel. The
// channel name is the form's identifier.
func New(serverURL, channel, token string, handlers Handlers, settings *Settings) *Client {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &Client{
		serverURL: serverURL,
		channel:   channel,
		token:     token,
		sessionID: uuid.New().String(),
		handlers:  handlers,
		settings:  settings,
		sendCh:    make(chan []byte, settings.SendBufferSize),
	}
}

// SessionID returns the client's per-connection session identity.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Connect starts the connection loop. It returns immediately; connection
// progress arrives through the handlers.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.run()
}

// Send queues an update frame for delivery. Fire-and-forget: if the queue is
// full (sustained disconnect), the update is dropped with a warning.
func (c *Client) Send(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		log.Printf("component=transport action=send_dropped channel=%s", c.channel)
	}
}

// Close stops the connection loop and closes any live connection. Safe to
// call multiple times and before Connect.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) run() {
	backoff := c.settings.ReconnectMin
	for {
		if c.ctx.Err() != nil {
			return
		}

		conn, err := c.dial()
		if err != nil {
			log.Printf("component=transport action=dial_failed channel=%s err=%v", c.channel, err)
			if !c.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.settings.ReconnectMax)
			continue
		}
		backoff = c.settings.ReconnectMin

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		if err := c.subscribe(conn); err != nil {
			log.Printf("component=transport action=subscribe_failed channel=%s err=%v", c.channel, err)
			_ = conn.Close()
			if !c.sleep(backoff) {
				return
			}
			continue
		}

		c.emit(c.handlers.OnConnect)

		writeDone := make(chan struct{})
		go c.writeLoop(conn, writeDone)
		c.readLoop(conn)
		_ = conn.Close()
		close(writeDone)

		c.mu.Lock()
		c.conn = nil
		closed := c.closed
		c.mu.Unlock()

		c.emit(c.handlers.OnDisconnect)
		if closed {
			return
		}
		if !c.sleep(backoff) {
			return
		}
		backoff = nextBackoff(backoff, c.settings.ReconnectMax)
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("channel", c.channel)
	q.Set("session", c.sessionID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.settings.HandshakeTimeout}
	conn, _, err := dialer.DialContext(c.ctx, u.String(), header)
	return conn, err
}

// subscribe binds the connection to the channel. The frame carries the last
// applied seq so a reconnect replays only the updates this client missed.
func (c *Client) subscribe(conn *websocket.Conn) error {
	c.mu.Lock()
	since := c.lastSeq
	c.mu.Unlock()
	f := Frame{Type: FrameSubscribe, Channel: c.channel, Session: c.sessionID, Seq: since}
	_ = conn.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
	return conn.WriteJSON(f)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(c.settings.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.settings.PongTimeout))
	})

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.settings.PongTimeout))

		switch f.Type {
		case FrameUpdate:
			c.mu.Lock()
			if f.Seq > c.lastSeq {
				c.lastSeq = f.Seq
			}
			c.mu.Unlock()
			if c.handlers.OnUpdate != nil && len(f.Update) > 0 {
				c.handlers.OnUpdate(f.Update)
			}
		case FrameSynced:
			c.emit(c.handlers.OnSynced)
		default:
			log.Printf("component=transport action=drop_unknown_frame type=%s channel=%s", f.Type, c.channel)
		}
	}
}

func (c *Client) writeLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.settings.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.sendCh:
			f := Frame{Type: FrameUpdate, Update: data}
			_ = conn.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) emit(fn func()) {
	if fn != nil {
		fn()
	}
}

// sleep waits d or until the context is canceled; reports whether to continue.
func (c *Client) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		next = max
	}
	return next
}
