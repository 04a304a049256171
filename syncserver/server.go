// ABOUTME: HTTP surface of the sync server: health check plus the /ws sync endpoint.
// ABOUTME: Each websocket connection is one channel subscription with backlog replay.
package syncserver

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/2389-research/formsync/transport"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 60 * time.Second
)

// Server ties the hub and config to an HTTP handler.
type Server struct {
	cfg      *Config
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewServer creates a server over the given hub.
func NewServer(cfg *Config, hub *Hub) *Server {
	return &Server{
		cfg: cfg,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients are not a supported surface; origin checks are
			// the auth token's job.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the chi router for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ws", s.handleWS)
	return r
}

// handleWS authenticates, upgrades, subscribes the connection to its channel,
// replays the backlog followed by a synced frame, then pumps frames both ways
// until either side drops.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthToken != "" {
		if r.Header.Get("Authorization") != "Bearer "+s.cfg.AuthToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	channel := r.URL.Query().Get("channel")
	if channel == "" {
		http.Error(w, "missing channel", http.StatusBadRequest)
		return
	}
	sessionID := r.URL.Query().Get("session")

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("component=syncserver action=upgrade_failed channel=%s err=%v", channel, err)
		return
	}
	conn := &wsConn{conn: ws}
	defer func() { _ = ws.Close() }()

	// First frame is the subscribe envelope; its channel must match the query.
	var sub transport.Frame
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	if err := ws.ReadJSON(&sub); err != nil || sub.Type != transport.FrameSubscribe || sub.Channel != channel {
		s.writeFrame(conn, transport.Frame{Type: transport.FrameError, Message: "expected subscribe frame"})
		return
	}
	if sub.Session != "" {
		sessionID = sub.Session
	}

	sess, backlog, err := s.hub.Subscribe(channel, sessionID, sub.Seq)
	if err != nil {
		log.Printf("component=syncserver action=subscribe_failed channel=%s err=%v", channel, err)
		s.writeFrame(conn, transport.Frame{Type: transport.FrameError, Message: "subscribe failed"})
		return
	}
	defer s.hub.Unsubscribe(sess)

	for _, frame := range backlog {
		if err := s.writeFrame(conn, frame); err != nil {
			return
		}
	}
	if err := s.writeFrame(conn, transport.Frame{Type: transport.FrameSynced, Channel: channel}); err != nil {
		return
	}

	done := make(chan struct{})
	go s.writePump(conn, sess, done)
	s.readPump(conn, sess)
	close(done)
}

// readPump sequences inbound update frames through the hub.
func (s *Server) readPump(conn *wsConn, sess *session) {
	conn.conn.SetPingHandler(func(data string) error {
		_ = conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.writePong([]byte(data))
	})

	for {
		var f transport.Frame
		_ = conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if err := conn.conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Type != transport.FrameUpdate || len(f.Update) == 0 {
			continue
		}
		if err := s.hub.Publish(sess, f.Update); err != nil {
			log.Printf("component=syncserver action=publish_failed channel=%s session=%s err=%v", sess.channel, sess.id, err)
			return
		}
	}
}

// writePump forwards hub broadcasts to the connection.
func (s *Server) writePump(conn *wsConn, sess *session, done chan struct{}) {
	for {
		select {
		case frame, ok := <-sess.send:
			if !ok {
				// The hub dropped this session; close the connection so the
				// client reconnects and resumes from its last applied seq.
				_ = conn.conn.Close()
				return
			}
			if err := s.writeFrame(conn, frame); err != nil {
				_ = conn.conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) writeFrame(conn *wsConn, f transport.Frame) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	_ = conn.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.conn.WriteJSON(f)
}

// wsConn serializes writes; pong replies come from the read goroutine while
// the write pump owns the broadcast path.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writePong(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.PongMessage, data)
}
