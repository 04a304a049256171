// ABOUTME: Connection lifecycle controller: owns the shared document and its transport.
// ABOUTME: Drives idle → connecting → syncing → connected with an offline branch.
package collab

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/2389-research/formsync/sharedtree"
	"github.com/2389-research/formsync/transport"
)

// ConnectionState is the lifecycle state of one editing session.
type ConnectionState string

const (
	StateIdle       ConnectionState = "idle"
	StateConnecting ConnectionState = "connecting"
	StateSyncing    ConnectionState = "syncing"
	StateConnected  ConnectionState = "connected"
	StateOffline    ConnectionState = "offline"
)

// ErrEmptyFormID is returned by Initialize when no form identifier is given.
// This is the only error the engine propagates to callers; everything else is
// a logged no-op (a stale UI reference must not crash the session).
var ErrEmptyFormID = errors.New("form id must not be empty")

// syncTransport is the slice of the transport the controller depends on.
// Tests substitute an in-process fake.
type syncTransport interface {
	Connect(ctx context.Context)
	Send(data []byte)
	Close()
}

// transportFactory builds a transport bound to a logical channel with the
// given lifecycle handlers.
type transportFactory func(channel string, handlers transport.Handlers) syncTransport

// controller owns the shared document, its transport, and the observer
// cascade for one editing session. All controller entry points run under the
// store's engine mutex, which serializes the event loop.
type controller struct {
	cascade      *cascade
	newTransport transportFactory
	onChange     func()
	// engineMu is the store's event-loop mutex. Transport callbacks arrive on
	// the transport goroutine and take it before touching controller state.
	engineMu sync.Locker

	doc       *sharedtree.Doc
	transport syncTransport
	docCancel func()

	formID    string
	state     ConnectionState
	connected bool
	loading   bool
}

func newController(cascade *cascade, newTransport transportFactory, engineMu sync.Locker, onChange func()) *controller {
	return &controller{
		cascade:      cascade,
		newTransport: newTransport,
		engineMu:     engineMu,
		onChange:     onChange,
		state:        StateIdle,
	}
}

// initialize creates a fresh shared document and transport bound to formID as
// the logical channel name. Any previous session is torn down first, so
// re-initialization is idempotent. It returns once the local wiring is in
// place; first remote sync arrives later as a synced event.
func (c *controller) initialize(ctx context.Context, formID string) error {
	if formID == "" {
		return ErrEmptyFormID
	}

	c.teardown()

	doc := sharedtree.NewDoc()
	c.doc = doc
	c.formID = formID
	c.state = StateConnecting
	c.loading = true
	c.connected = false

	c.cascade.attach(doc)

	// Handlers guard on document identity so a torn-down session's transport
	// cannot mutate the state of its replacement.
	tr := c.newTransport(formID, transport.Handlers{
		OnConnect:    func() { c.serialized(doc, c.handleConnect) },
		OnDisconnect: func() { c.serialized(doc, c.handleDisconnect) },
		OnSynced:     func() { c.serialized(doc, c.handleSynced) },
		OnUpdate: func(data []byte) {
			c.serialized(doc, func() {
				if err := doc.ApplyUpdate(data); err != nil {
					log.Printf("component=collab action=apply_remote_failed form=%s err=%v", formID, err)
				}
			})
		},
	})
	c.transport = tr
	c.docCancel = doc.OnUpdate(tr.Send)

	tr.Connect(ctx)
	log.Printf("component=collab action=initialize form=%s", formID)
	return nil
}

// teardown runs cascade teardown, disconnects the transport, destroys the
// shared document, and resets the exposed flags. Safe to call repeatedly and
// before any initialize.
func (c *controller) teardown() {
	c.cascade.teardown()
	if c.docCancel != nil {
		c.docCancel()
		c.docCancel = nil
	}
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
	if c.doc != nil {
		c.doc.Destroy()
		c.doc = nil
	}
	c.formID = ""
	c.state = StateIdle
	c.connected = false
	c.loading = false
}

// ready reports whether mutations are currently accepted. Loading covers the
// replay window between connect and synced: an edit made while missed updates
// are still streaming in would be built against a partially caught-up tree.
func (c *controller) ready() bool {
	return c.doc != nil && c.connected && !c.loading
}

// serialized runs fn under the engine mutex, putting transport-goroutine
// callbacks on the same logical event loop as local mutations. fn is skipped
// when the session that registered it has been torn down.
func (c *controller) serialized(doc *sharedtree.Doc, fn func()) {
	c.engineMu.Lock()
	defer c.engineMu.Unlock()
	if c.doc != doc {
		return
	}
	fn()
}

func (c *controller) handleConnect() {
	c.connected = true
	c.state = StateSyncing
	log.Printf("component=collab action=transport_connect form=%s", c.formID)
	c.onChange()
}

func (c *controller) handleSynced() {
	c.loading = false
	c.state = StateConnected
	log.Printf("component=collab action=transport_synced form=%s", c.formID)
	c.onChange()
}

func (c *controller) handleDisconnect() {
	c.connected = false
	// Reconnecting opens a new replay window; hold mutations until the next
	// synced frame.
	c.loading = true
	c.state = StateOffline
	log.Printf("component=collab action=transport_offline form=%s", c.formID)
	c.onChange()
}
