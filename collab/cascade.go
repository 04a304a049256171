// ABOUTME: Observer cascade manager: listeners at every structural level of the document.
// ABOUTME: Reconciles the tracked node set after each change and guarantees exact-once teardown.
package collab

import (
	"sync"

	"github.com/2389-research/formsync/sharedtree"
)

// cascade attaches change listeners at every structural level of the document
// (root, page sequence, each page, each fields sequence, each field, layout)
// and invokes one idempotent state derivation per transaction. After every
// notification it reconciles the tracked node set against the current tree so
// that structure appearing from remote merges gets its own listeners.
type cascade struct {
	derive func()

	mu          sync.Mutex
	doc         *sharedtree.Doc
	cancels     map[string]func()
	afterCancel func()
	pending     bool
	torndown    bool
}

func newCascade(derive func()) *cascade {
	return &cascade{
		derive:  derive,
		cancels: make(map[string]func()),
	}
}

// attach binds the cascade to a document and installs listeners for the
// current tree shape.
func (c *cascade) attach(doc *sharedtree.Doc) {
	c.mu.Lock()
	c.doc = doc
	c.torndown = false
	c.afterCancel = doc.AfterTransaction(c.afterTransaction)
	c.mu.Unlock()

	c.reconcile()
}

// teardown cancels every registered listener exactly once. Safe to call when
// nothing is attached and safe to call repeatedly. After teardown no state
// derivation fires for the torn-down document, even if in-flight remote
// updates arrive.
func (c *cascade) teardown() {
	c.mu.Lock()
	c.torndown = true
	cancels := c.cancels
	c.cancels = make(map[string]func())
	afterCancel := c.afterCancel
	c.afterCancel = nil
	c.doc = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if afterCancel != nil {
		afterCancel()
	}
}

// markPending is the listener body for every tracked node.
func (c *cascade) markPending() {
	c.mu.Lock()
	c.pending = true
	c.mu.Unlock()
}

// afterTransaction runs once per committed transaction. If any tracked
// listener fired, it reconciles listeners for new/removed nodes and re-derives
// the flattened state exactly once.
func (c *cascade) afterTransaction() {
	c.mu.Lock()
	fire := c.pending && !c.torndown
	c.pending = false
	c.mu.Unlock()

	if !fire {
		return
	}
	c.reconcile()
	c.derive()
}

// reconcile diffs the previously-tracked node set against the document's
// current structure, attaching listeners for newly-appeared nodes and
// canceling listeners for nodes that are gone.
func (c *cascade) reconcile() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torndown || c.doc == nil {
		return
	}

	current := make(map[string]bool)
	track := func(observe func(fn func()) func(), nodeID string) {
		current[nodeID] = true
		if _, ok := c.cancels[nodeID]; !ok {
			c.cancels[nodeID] = observe(c.markPending)
		}
	}

	root := c.doc.Root()
	track(root.Observe, root.NodeID())

	if layout := root.GetMap(keyLayout); layout != nil {
		track(layout.Observe, layout.NodeID())
	}

	if pages := root.GetArray(keyPages); pages != nil {
		track(pages.Observe, pages.NodeID())
		for _, page := range pages.Maps() {
			track(page.Observe, page.NodeID())
			if fields := page.GetArray(keyFields); fields != nil {
				track(fields.Observe, fields.NodeID())
				for _, field := range fields.Maps() {
					track(field.Observe, field.NodeID())
				}
			}
		}
	}

	for nodeID, cancel := range c.cancels {
		if !current[nodeID] {
			cancel()
			delete(c.cancels, nodeID)
		}
	}
}
