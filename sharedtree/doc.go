// ABOUTME: Doc is the root of one collaborative shared-tree document.
// ABOUTME: Local transactions and remote updates share one apply/notify path.
package sharedtree

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Doc holds a tree of Map and Array nodes and fans out change notifications.
// Writes go through Transact (local) or ApplyUpdate (remote); both fire the
// same observers, so consumers have a single state-derivation path regardless
// of the origin of a change.
//
// Convergence across replicas relies on updates being delivered to every
// replica in one total order (the sync server sequences them). The doc itself
// applies updates in arrival order and adds no merge logic.
type Doc struct {
	mu        sync.Mutex
	root      *Map
	nodes     map[string]node
	updateFns callbackList[func([]byte)]
	afterTx   callbackList[func()]
	destroyed bool
}

// rootNodeID is shared by every replica so ops addressed to the root resolve
// everywhere. All other node IDs are minted by the originating replica and
// carried inside update values.
const rootNodeID = "root"

// NewDoc creates an empty document with a root map node.
func NewDoc() *Doc {
	d := &Doc{
		nodes: make(map[string]node),
	}
	d.root = &Map{doc: d, nodeID: rootNodeID, entries: make(map[string]any)}
	d.nodes[d.root.nodeID] = d.root
	return d
}

func newNodeID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// Root returns the document's root map.
func (d *Doc) Root() *Map {
	return d.root
}

// Tx collects the ops of one transaction. Node write methods require a Tx so
// that every local mutation is captured in the emitted update.
type Tx struct {
	doc     *Doc
	ops     []Op
	touched []node
}

func (tx *Tx) record(op Op, n node) {
	tx.ops = append(tx.ops, op)
	tx.touch(n)
}

// touch marks a node and its ancestor chain as changed, preserving first-touch
// order and deduplicating.
func (tx *Tx) touch(n node) {
	for cur := n; cur != nil; cur = cur.parentNode() {
		seen := false
		for _, t := range tx.touched {
			if t == cur {
				seen = true
				break
			}
		}
		if !seen {
			tx.touched = append(tx.touched, cur)
		}
	}
}

// Transact runs fn with write access to the tree. After fn returns, observers
// of every touched node (and its ancestors) fire once each, then the
// after-transaction hooks, then the encoded update is handed to the update
// handlers for propagation.
func (d *Doc) Transact(fn func(tx *Tx)) {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	tx := &Tx{doc: d}
	fn(tx)
	callbacks, after := d.collectCallbacks(tx.touched)
	update := d.updateFns.snapshot()
	d.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
	for _, cb := range after {
		cb()
	}

	if len(tx.ops) > 0 && len(update) > 0 {
		data, err := EncodeUpdate(tx.ops)
		if err != nil {
			logf("action=encode_update_failed err=%v", err)
			return
		}
		for _, fn := range update {
			fn(data)
		}
	}
}

// ApplyUpdate applies a remote update. Observers fire exactly as they do for
// local transactions. Updates arriving after Destroy are dropped.
func (d *Doc) ApplyUpdate(data []byte) error {
	ops, err := DecodeUpdate(data)
	if err != nil {
		return fmt.Errorf("decode update: %w", err)
	}

	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil
	}
	tx := &Tx{doc: d}
	for _, op := range ops {
		d.applyOp(tx, op)
	}
	callbacks, after := d.collectCallbacks(tx.touched)
	d.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
	for _, cb := range after {
		cb()
	}
	return nil
}

// collectCallbacks gathers the observer callbacks for the touched nodes in
// touch order, followed by the after-transaction hooks. Caller holds d.mu.
func (d *Doc) collectCallbacks(touched []node) (callbacks []func(), after []func()) {
	if len(touched) == 0 {
		return nil, nil
	}
	for _, n := range touched {
		callbacks = append(callbacks, n.observerFns().snapshot()...)
	}
	after = d.afterTx.snapshot()
	return callbacks, after
}

// OnUpdate registers a handler for locally-produced encoded updates.
func (d *Doc) OnUpdate(fn func(data []byte)) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	remove := d.updateFns.add(fn)
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		remove()
	}
}

// AfterTransaction registers a hook that fires once after each transaction or
// applied remote update that touched at least one node.
func (d *Doc) AfterTransaction(fn func()) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	remove := d.afterTx.add(fn)
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		remove()
	}
}

// Destroy detaches every observer and hook and makes the document inert:
// further transactions and remote updates are dropped without notification.
func (d *Doc) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	d.afterTx.clear()
	d.updateFns.clear()
	for _, n := range d.nodes {
		n.observerFns().clear()
	}
}

// register adds a node to the id registry. Caller holds d.mu or is inside a Tx.
func (d *Doc) register(n node) {
	d.nodes[n.id()] = n
}

// registerSubtree adds a node and its entire subtree to the registry. Used
// when an installed value may share node IDs with a subtree that was just
// unregistered (a replayed update replacing the entry it originally created).
func (d *Doc) registerSubtree(n node) {
	d.nodes[n.id()] = n
	switch c := n.(type) {
	case *Map:
		for _, v := range c.entries {
			if child, ok := v.(node); ok {
				d.registerSubtree(child)
			}
		}
	case *Array:
		for _, v := range c.items {
			if child, ok := v.(node); ok {
				d.registerSubtree(child)
			}
		}
	}
}

// unregister removes a node and its entire subtree from the registry so stale
// ops addressing removed nodes become no-ops.
func (d *Doc) unregister(n node) {
	delete(d.nodes, n.id())
	switch c := n.(type) {
	case *Map:
		for _, v := range c.entries {
			if child, ok := v.(node); ok {
				d.unregister(child)
			}
		}
	case *Array:
		for _, v := range c.items {
			if child, ok := v.(node); ok {
				d.unregister(child)
			}
		}
	}
}

// node is the internal interface shared by Map and Array.
type node interface {
	id() string
	parentNode() node
	setParent(p node)
	observerFns() *callbackList[func()]
}
