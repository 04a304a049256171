// ABOUTME: Store is the reactive bridge between the sync engine and the rendering layer.
// ABOUTME: Holds the last-derived flattened state and exposes lifecycle, selection, and mutations.
package collab

import (
	"context"
	"sync"

	"github.com/2389-research/formsync/schema"
	"github.com/2389-research/formsync/transport"
)

// Options configures a Store.
type Options struct {
	// AuthToken is attached to the sync transport as a bearer token.
	AuthToken string
	// Debug enables the introspection HTTP handler (DebugHandler).
	Debug bool
	// TransportSettings overrides the transport timing defaults.
	TransportSettings *transport.Settings

	// newTransport substitutes the transport factory; used by tests.
	newTransport transportFactory
}

// Store is the single source of truth for the rendering layer. Local
// mutations and remote-origin changes both funnel through the observer
// cascade into one derivation path; the Store only ever republishes the
// result.
type Store struct {
	serverURL string
	opts      Options

	// engineMu serializes the logical event loop: mutations, remote update
	// application, and lifecycle transitions. derive always runs with it held.
	engineMu sync.Mutex
	ctrl     *controller

	stateMu         sync.RWMutex
	snapshot        Snapshot
	localLayout     Layout
	selectedPageID  string
	selectedFieldID string
	subscribers     map[int]chan Snapshot
	nextSubscriber  int
}

// New creates a Store that syncs against the given server.
func New(serverURL string, opts Options) *Store {
	s := &Store{
		serverURL:   serverURL,
		opts:        opts,
		localLayout: Layout{},
		subscribers: make(map[int]chan Snapshot),
	}

	factory := opts.newTransport
	if factory == nil {
		factory = func(channel string, handlers transport.Handlers) syncTransport {
			return transport.New(serverURL, channel, opts.AuthToken, handlers, opts.TransportSettings)
		}
	}

	casc := newCascade(s.derive)
	s.ctrl = newController(casc, factory, &s.engineMu, s.derive)
	return s
}

// Initialize opens a collaborative session on the form. It returns after the
// local document and transport wiring is in place; first sync arrives later
// and is observable through the Loading flag. An empty formID is the one
// programmer error that propagates as a returned error.
func (s *Store) Initialize(ctx context.Context, formID string) error {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()

	if err := s.ctrl.initialize(ctx, formID); err != nil {
		return err
	}
	s.setSelectionLocked("", "")
	s.derive()
	return nil
}

// Disconnect tears down the session: cascade teardown, transport close,
// document destruction, flags reset. Safe to call repeatedly and before any
// Initialize.
func (s *Store) Disconnect() {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()

	s.ctrl.teardown()
	s.setSelectionLocked("", "")
	s.derive()
}

// Snapshot returns the current flattened state.
func (s *Store) Snapshot() Snapshot {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.snapshot
}

// State returns the connection lifecycle state.
func (s *Store) State() ConnectionState {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	return s.ctrl.state
}

// Subscribe returns a channel receiving each newly-published snapshot. The
// channel is buffered and non-blocking on the publisher side: slow consumers
// miss intermediate snapshots, never block the engine. cancel closes the
// channel and is safe to call twice.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	ch := make(chan Snapshot, 16)
	token := s.nextSubscriber
	s.nextSubscriber++
	s.subscribers[token] = ch

	canceled := false
	cancel := func() {
		s.stateMu.Lock()
		defer s.stateMu.Unlock()
		if canceled {
			return
		}
		canceled = true
		delete(s.subscribers, token)
		close(ch)
	}
	return ch, cancel
}

// SelectPage marks a page as selected. Selection is client-local UI state;
// it is never written into the shared document.
func (s *Store) SelectPage(pageID string) {
	s.setSelection(pageID, "")
}

// SelectField marks a field (and its page) as selected.
func (s *Store) SelectField(pageID, fieldID string) {
	s.setSelection(pageID, fieldID)
}

// SelectedField returns the currently selected field, or nil.
func (s *Store) SelectedField() schema.Field {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	for _, page := range s.snapshot.Pages {
		if page.ID != s.selectedPageID {
			continue
		}
		for _, field := range page.Fields {
			if field.ID() == s.selectedFieldID {
				return field
			}
		}
	}
	return nil
}

// setSelection updates selection state and republishes.
func (s *Store) setSelection(pageID, fieldID string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.selectedPageID = pageID
	s.selectedFieldID = fieldID
	snap := s.snapshot
	snap.SelectedPageID = pageID
	snap.SelectedFieldID = fieldID
	s.snapshot = snap
	s.publishLocked(snap)
}

// setSelectionLocked is setSelection without publishing; used on lifecycle
// boundaries where derive follows immediately. Caller holds engineMu.
func (s *Store) setSelectionLocked(pageID, fieldID string) {
	s.stateMu.Lock()
	s.selectedPageID = pageID
	s.selectedFieldID = fieldID
	s.stateMu.Unlock()
}

// selection returns the current selection pair.
func (s *Store) selection() (pageID, fieldID string) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.selectedPageID, s.selectedFieldID
}

// derive rebuilds the flattened state from the shared document and publishes
// it. It is the single derivation path for local mutations, remote updates,
// and lifecycle transitions. Callers hold engineMu.
func (s *Store) derive() {
	doc := s.ctrl.doc

	snap := Snapshot{
		Connected: s.ctrl.connected,
		Loading:   s.ctrl.loading,
	}
	var shared Layout
	if doc != nil {
		snap.Pages = derivePages(doc)
		shared = deriveLayout(doc)
		snap.ShuffleEnabled = deriveShuffle(doc)
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	// Shared layout values win over the local preview state; local-only keys
	// (offline edits) survive until the next shared write.
	for k, v := range shared {
		s.localLayout[k] = v
	}
	snap.Layout = s.localLayout.Clone()
	s.reconcileSelection(snap.Pages)
	snap.SelectedPageID = s.selectedPageID
	snap.SelectedFieldID = s.selectedFieldID
	s.snapshot = snap
	s.publishLocked(snap)
}

// reconcileSelection drops selection references that no longer resolve in the
// derived page list: a vanished page falls back to the first page, a vanished
// field clears. Caller holds stateMu.
func (s *Store) reconcileSelection(pages []Page) {
	var selectedPage *Page
	for i := range pages {
		if pages[i].ID == s.selectedPageID {
			selectedPage = &pages[i]
			break
		}
	}

	if selectedPage == nil {
		s.selectedFieldID = ""
		if len(pages) > 0 {
			s.selectedPageID = pages[0].ID
		} else {
			s.selectedPageID = ""
		}
		return
	}

	if s.selectedFieldID != "" {
		found := false
		for _, f := range selectedPage.Fields {
			if f.ID() == s.selectedFieldID {
				found = true
				break
			}
		}
		if !found {
			s.selectedFieldID = ""
		}
	}
}

// publishLocked delivers a snapshot to subscribers without blocking; full
// channels drop the snapshot (the consumer catches up on the next one).
// Caller holds stateMu.
func (s *Store) publishLocked(snap Snapshot) {
	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}
