// ABOUTME: Frame is the websocket wire envelope shared by client and server.
// ABOUTME: Four frame types: subscribe, update, synced, and error.
package transport

import "encoding/json"

// FrameType tags a wire frame.
type FrameType string

const (
	// FrameSubscribe binds the connection to a logical channel (client→server).
	FrameSubscribe FrameType = "subscribe"
	// FrameUpdate carries one encoded shared-tree update (both directions).
	FrameUpdate FrameType = "update"
	// FrameSynced marks the end of backlog replay (server→client).
	FrameSynced FrameType = "synced"
	// FrameError reports a server-side rejection before close (server→client).
	FrameError FrameType = "error"
)

// Frame is the websocket envelope. Seq is assigned by the server when it
// sequences an update; client-sent updates leave it zero. On subscribe frames
// Seq is the client's last applied seq, and the server replays only what
// follows it.
type Frame struct {
	Type    FrameType       `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Session string          `json:"session,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
	Update  json.RawMessage `json:"update,omitempty"`
	Message string          `json:"message,omitempty"`
}
