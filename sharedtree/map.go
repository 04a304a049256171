// ABOUTME: Map is a string-keyed shared-tree container node.
// ABOUTME: Writes require a Tx; reads follow the engine's single event-loop discipline.
package sharedtree

// Map is a string-keyed container. Reads are not internally synchronized:
// call them inside Transact, from observer callbacks, or otherwise serialized
// with writes, matching the engine's single event-loop model.
type Map struct {
	doc       *Doc
	nodeID    string
	parent    node
	entries   map[string]any
	observers callbackList[func()]
}

func (m *Map) id() string                         { return m.nodeID }
func (m *Map) parentNode() node                   { return m.parent }
func (m *Map) setParent(p node)                   { m.parent = p }
func (m *Map) observerFns() *callbackList[func()] { return &m.observers }

// NodeID returns the map's substrate identity. Distinct from any domain-level
// "id" entry stored inside it.
func (m *Map) NodeID() string { return m.nodeID }

// Get returns the value stored under key.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.entries[key]
	return v, ok
}

// Value returns the value stored under key, or nil when absent.
func (m *Map) Value(key string) any {
	return m.entries[key]
}

// GetMap returns the child map stored under key, or nil.
func (m *Map) GetMap(key string) *Map {
	child, _ := m.entries[key].(*Map)
	return child
}

// GetArray returns the child array stored under key, or nil.
func (m *Map) GetArray(key string) *Array {
	child, _ := m.entries[key].(*Array)
	return child
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.entries)
}

// Keys returns the entry keys in unspecified order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

// Data returns a deep plain-data snapshot of the map: child containers become
// map[string]any / []any, scalars are copied as-is.
func (m *Map) Data() map[string]any {
	out := make(map[string]any, len(m.entries))
	for k, v := range m.entries {
		out[k] = plainData(v)
	}
	return out
}

// Set stores value under key. A map[string]any, []any or []string literal is
// materialized as a child container subtree with fresh node IDs. Replacing a
// container entry detaches the old subtree.
func (m *Map) Set(tx *Tx, key string, value any) {
	stored := materializeLiteral(m.doc, value)
	m.replaceEntry(key, stored)
	tx.record(Op{Type: OpMapSet, Node: m.nodeID, Key: key, Value: encodeValuePtr(stored)}, m)
}

// Delete removes the entry under key, detaching any child subtree.
func (m *Map) Delete(tx *Tx, key string) {
	if _, ok := m.entries[key]; !ok {
		return
	}
	m.removeEntry(key)
	tx.record(Op{Type: OpMapDelete, Node: m.nodeID, Key: key}, m)
}

// Observe registers a change callback fired once per transaction that touches
// this node or any node beneath it. The cancel closure is safe to call twice.
func (m *Map) Observe(fn func()) (cancel func()) {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	remove := m.observers.add(fn)
	return func() {
		m.doc.mu.Lock()
		defer m.doc.mu.Unlock()
		remove()
	}
}

// replaceEntry installs a stored value, maintaining parent pointers and the
// node registry. Shared by local writes and remote op apply. The stored
// subtree is re-registered after the old one is unregistered: a replayed
// update can carry the same node IDs as the entry it replaces, and the
// unregister of the old subtree must not take the replacement with it.
func (m *Map) replaceEntry(key string, stored any) {
	if old, ok := m.entries[key]; ok {
		if oldChild, ok := old.(node); ok {
			m.doc.unregister(oldChild)
			oldChild.setParent(nil)
		}
	}
	if child, ok := stored.(node); ok {
		child.setParent(m)
		m.doc.registerSubtree(child)
	}
	m.entries[key] = stored
}

func (m *Map) removeEntry(key string) {
	if old, ok := m.entries[key]; ok {
		if oldChild, ok := old.(node); ok {
			m.doc.unregister(oldChild)
			oldChild.setParent(nil)
		}
	}
	delete(m.entries, key)
}
