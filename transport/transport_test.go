// ABOUTME: Tests for the websocket transport client against an in-process server.
// ABOUTME: Covers subscribe handshake, update delivery, auth header, and reconnect.
package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389-research/formsync/transport"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// testServer records connections and lets tests script server-side frames.
type testServer struct {
	*httptest.Server

	mu         sync.Mutex
	conns      []*websocket.Conn
	auth       []string
	subscribes []transport.Frame
	received   chan transport.Frame
}

func newTestServer(t *testing.T, backlog []transport.Frame) *testServer {
	t.Helper()
	ts := &testServer{received: make(chan transport.Frame, 16)}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.auth = append(ts.auth, r.Header.Get("Authorization"))
		ts.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()

		var sub transport.Frame
		if err := conn.ReadJSON(&sub); err != nil || sub.Type != transport.FrameSubscribe {
			_ = conn.Close()
			return
		}
		ts.mu.Lock()
		ts.subscribes = append(ts.subscribes, sub)
		ts.mu.Unlock()

		for _, f := range backlog {
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
		_ = conn.WriteJSON(transport.Frame{Type: transport.FrameSynced, Channel: sub.Channel})

		for {
			var f transport.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			ts.received <- f
		}
	})

	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Server.Close)
	return ts
}

func (ts *testServer) connCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.conns)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectDeliversBacklogThenSynced(t *testing.T) {
	backlog := []transport.Frame{
		{Type: transport.FrameUpdate, Seq: 1, Update: []byte(`{"ops":[1]}`)},
		{Type: transport.FrameUpdate, Seq: 2, Update: []byte(`{"ops":[2]}`)},
	}
	ts := newTestServer(t, backlog)

	var mu sync.Mutex
	var updates [][]byte
	synced := make(chan struct{}, 1)

	client := transport.New(ts.URL, "form-1", "", transport.Handlers{
		OnUpdate: func(data []byte) {
			mu.Lock()
			updates = append(updates, data)
			mu.Unlock()
		},
		OnSynced: func() { synced <- struct{}{} },
	}, nil)
	defer client.Close()
	client.Connect(context.Background())

	select {
	case <-synced:
	case <-time.After(5 * time.Second):
		t.Fatal("no synced event")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) != 2 {
		t.Fatalf("updates: %d", len(updates))
	}
	if string(updates[0]) != `{"ops":[1]}` || string(updates[1]) != `{"ops":[2]}` {
		t.Errorf("updates out of order: %s %s", updates[0], updates[1])
	}
}

func TestSendDeliversUpdateFrame(t *testing.T) {
	ts := newTestServer(t, nil)

	connected := make(chan struct{}, 1)
	client := transport.New(ts.URL, "form-1", "", transport.Handlers{
		OnConnect: func() { connected <- struct{}{} },
	}, nil)
	defer client.Close()
	client.Connect(context.Background())

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("no connect event")
	}

	client.Send([]byte(`{"ops":["x"]}`))

	select {
	case f := <-ts.received:
		if f.Type != transport.FrameUpdate {
			t.Errorf("frame type: %s", f.Type)
		}
		if string(f.Update) != `{"ops":["x"]}` {
			t.Errorf("payload: %s", f.Update)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server received nothing")
	}
}

func TestAuthTokenSentAsBearerHeader(t *testing.T) {
	ts := newTestServer(t, nil)

	connected := make(chan struct{}, 1)
	client := transport.New(ts.URL, "form-1", "sekrit", transport.Handlers{
		OnConnect: func() { connected <- struct{}{} },
	}, nil)
	defer client.Close()
	client.Connect(context.Background())

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("no connect event")
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.auth) == 0 || ts.auth[0] != "Bearer sekrit" {
		t.Errorf("auth header: %v", ts.auth)
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	ts := newTestServer(t, nil)

	settings := transport.DefaultSettings()
	settings.ReconnectMin = 10 * time.Millisecond
	settings.ReconnectMax = 50 * time.Millisecond

	var mu sync.Mutex
	connects, disconnects := 0, 0
	client := transport.New(ts.URL, "form-1", "", transport.Handlers{
		OnConnect: func() {
			mu.Lock()
			connects++
			mu.Unlock()
		},
		OnDisconnect: func() {
			mu.Lock()
			disconnects++
			mu.Unlock()
		},
	}, settings)
	defer client.Close()
	client.Connect(context.Background())

	waitFor(t, "first connect", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects >= 1
	})

	// Drop the connection server-side; the client must come back on its own.
	ts.mu.Lock()
	_ = ts.conns[0].Close()
	ts.mu.Unlock()

	waitFor(t, "reconnect", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects >= 2 && disconnects >= 1
	})

	if ts.connCount() < 2 {
		t.Errorf("server saw %d connections", ts.connCount())
	}
}

func TestResubscribeResumesFromLastSeq(t *testing.T) {
	backlog := []transport.Frame{
		{Type: transport.FrameUpdate, Seq: 1, Update: []byte(`{"ops":[1]}`)},
		{Type: transport.FrameUpdate, Seq: 2, Update: []byte(`{"ops":[2]}`)},
	}
	ts := newTestServer(t, backlog)

	settings := transport.DefaultSettings()
	settings.ReconnectMin = 10 * time.Millisecond
	settings.ReconnectMax = 50 * time.Millisecond

	var mu sync.Mutex
	synced := 0
	client := transport.New(ts.URL, "form-1", "", transport.Handlers{
		OnSynced: func() {
			mu.Lock()
			synced++
			mu.Unlock()
		},
	}, settings)
	defer client.Close()
	client.Connect(context.Background())

	waitFor(t, "first sync", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return synced >= 1
	})

	ts.mu.Lock()
	_ = ts.conns[0].Close()
	ts.mu.Unlock()

	waitFor(t, "resync", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return synced >= 2
	})

	// The first subscribe starts from scratch; the second must carry the last
	// applied seq so the server skips the already-delivered stream.
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.subscribes) < 2 {
		t.Fatalf("subscribes: %d", len(ts.subscribes))
	}
	if ts.subscribes[0].Seq != 0 {
		t.Errorf("first subscribe seq: %d", ts.subscribes[0].Seq)
	}
	if ts.subscribes[1].Seq != 2 {
		t.Errorf("resubscribe seq: got %d, want 2", ts.subscribes[1].Seq)
	}
}

func TestCloseStopsReconnecting(t *testing.T) {
	ts := newTestServer(t, nil)

	connected := make(chan struct{}, 4)
	client := transport.New(ts.URL, "form-1", "", transport.Handlers{
		OnConnect: func() { connected <- struct{}{} },
	}, nil)
	client.Connect(context.Background())

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("no connect event")
	}

	before := ts.connCount()
	client.Close()
	client.Close()
	time.Sleep(50 * time.Millisecond)
	if ts.connCount() != before {
		t.Error("client reconnected after Close")
	}
}
