// ABOUTME: Hub sequences updates per channel and fans them out to subscribers.
// ABOUTME: The single writer path per channel is what gives clients a total order.
package syncserver

import (
	"fmt"
	"log"
	"sync"

	"github.com/2389-research/formsync/transport"
)

// session is one subscribed client connection on a channel.
type session struct {
	id      string
	channel string
	send    chan transport.Frame
}

// Hub owns channel state: the durable update log, last-assigned sequence
// numbers, and the live subscriber sets. All sequencing runs under one mutex;
// that serialization is the ordering guarantee clients rely on.
type Hub struct {
	log *UpdateLog

	mu       sync.Mutex
	lastSeq  map[string]int64
	channels map[string]map[*session]struct{}
}

// NewHub creates a hub backed by the given update log.
func NewHub(updateLog *UpdateLog) *Hub {
	return &Hub{
		log:      updateLog,
		lastSeq:  make(map[string]int64),
		channels: make(map[string]map[*session]struct{}),
	}
}

// Subscribe registers a session on a channel and returns it together with the
// channel's persisted backlog after sinceSeq (the client's resume point; zero
// for the full stream). The backlog read and the registration happen under the
// same mutex hold, so no published update can fall between them. The caller
// replays the backlog, sends a synced frame, then pumps session.send to the
// connection.
func (h *Hub) Subscribe(channel, sessionID string, sinceSeq int64) (*session, []transport.Frame, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.lastSeq[channel]; !ok {
		seq, err := h.log.LastSeq(channel)
		if err != nil {
			return nil, nil, fmt.Errorf("load last seq: %w", err)
		}
		h.lastSeq[channel] = seq
	}

	backlog, err := h.log.Backlog(channel, sinceSeq)
	if err != nil {
		return nil, nil, fmt.Errorf("load backlog: %w", err)
	}

	s := &session{
		id:      sessionID,
		channel: channel,
		send:    make(chan transport.Frame, 64),
	}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*session]struct{})
	}
	h.channels[channel][s] = struct{}{}

	frames := make([]transport.Frame, 0, len(backlog))
	for _, row := range backlog {
		frames = append(frames, transport.Frame{
			Type:    transport.FrameUpdate,
			Channel: channel,
			Seq:     row.Seq,
			Update:  row.Ops,
		})
	}

	log.Printf("component=syncserver action=subscribe channel=%s session=%s backlog=%d", channel, sessionID, len(frames))
	return s, frames, nil
}

// Unsubscribe removes a session and closes its send channel.
func (h *Hub) Unsubscribe(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.channels[s.channel]
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.channels, s.channel)
	}
	close(s.send)
	log.Printf("component=syncserver action=unsubscribe channel=%s session=%s", s.channel, s.id)
}

// Publish assigns the next sequence number to an update, persists it, and
// fans it out to every other session on the channel. The originator is
// excluded: clients apply their own changes locally before sending.
func (h *Hub) Publish(from *session, update []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	seq := h.lastSeq[from.channel] + 1
	if err := h.log.Append(from.channel, seq, update); err != nil {
		return err
	}
	h.lastSeq[from.channel] = seq

	frame := transport.Frame{
		Type:    transport.FrameUpdate,
		Channel: from.channel,
		Seq:     seq,
		Update:  update,
	}
	set := h.channels[from.channel]
	for s := range set {
		if s == from {
			continue
		}
		select {
		case s.send <- frame:
		default:
			// A subscriber that cannot keep up would silently fall behind the
			// sequenced stream. Drop it instead; its connection closes and the
			// reconnect resumes from its last applied seq.
			delete(set, s)
			close(s.send)
			log.Printf("component=syncserver action=drop_slow_subscriber channel=%s session=%s seq=%d", s.channel, s.id, seq)
		}
	}
	return nil
}
