// ABOUTME: Array is an ordered shared-tree container node.
// ABOUTME: Insert indices are clamped; deletes out of range are dropped.
package sharedtree

// Array is an ordered container. The same read discipline as Map applies.
type Array struct {
	doc       *Doc
	nodeID    string
	parent    node
	items     []any
	observers callbackList[func()]
}

func (a *Array) id() string                         { return a.nodeID }
func (a *Array) parentNode() node                   { return a.parent }
func (a *Array) setParent(p node)                   { a.parent = p }
func (a *Array) observerFns() *callbackList[func()] { return &a.observers }

// NodeID returns the array's substrate identity.
func (a *Array) NodeID() string { return a.nodeID }

// Len returns the number of items.
func (a *Array) Len() int {
	return len(a.items)
}

// Get returns the item at index i.
func (a *Array) Get(i int) (any, bool) {
	if i < 0 || i >= len(a.items) {
		return nil, false
	}
	return a.items[i], true
}

// GetMap returns the child map at index i, or nil.
func (a *Array) GetMap(i int) *Map {
	if i < 0 || i >= len(a.items) {
		return nil
	}
	child, _ := a.items[i].(*Map)
	return child
}

// Maps returns every item that is a map node, in order.
func (a *Array) Maps() []*Map {
	out := make([]*Map, 0, len(a.items))
	for _, v := range a.items {
		if m, ok := v.(*Map); ok {
			out = append(out, m)
		}
	}
	return out
}

// Data returns a deep plain-data snapshot of the array.
func (a *Array) Data() []any {
	out := make([]any, len(a.items))
	for i, v := range a.items {
		out[i] = plainData(v)
	}
	return out
}

// Insert places value at index i, clamped to [0, Len]. Literals are
// materialized as child subtrees.
func (a *Array) Insert(tx *Tx, i int, value any) {
	if i < 0 {
		i = 0
	}
	if i > len(a.items) {
		i = len(a.items)
	}
	stored := materializeLiteral(a.doc, value)
	a.insertItem(i, stored)
	tx.record(Op{Type: OpArrayInsert, Node: a.nodeID, Index: i, Value: encodeValuePtr(stored)}, a)
}

// Push appends value at the end.
func (a *Array) Push(tx *Tx, value any) {
	a.Insert(tx, len(a.items), value)
}

// Delete removes the item at index i, detaching any child subtree.
func (a *Array) Delete(tx *Tx, i int) {
	if i < 0 || i >= len(a.items) {
		return
	}
	a.removeItem(i)
	tx.record(Op{Type: OpArrayDelete, Node: a.nodeID, Index: i}, a)
}

// Clear removes every item, back to front.
func (a *Array) Clear(tx *Tx) {
	for i := len(a.items) - 1; i >= 0; i-- {
		a.Delete(tx, i)
	}
}

// Observe registers a change callback fired once per transaction that touches
// this node or any node beneath it.
func (a *Array) Observe(fn func()) (cancel func()) {
	a.doc.mu.Lock()
	defer a.doc.mu.Unlock()
	remove := a.observers.add(fn)
	return func() {
		a.doc.mu.Lock()
		defer a.doc.mu.Unlock()
		remove()
	}
}

// insertItem installs a stored value at a pre-clamped index, maintaining
// parent pointers. Shared by local writes and remote op apply.
func (a *Array) insertItem(i int, stored any) {
	if i < 0 {
		i = 0
	}
	if i > len(a.items) {
		i = len(a.items)
	}
	if child, ok := stored.(node); ok {
		child.setParent(a)
	}
	a.items = append(a.items, nil)
	copy(a.items[i+1:], a.items[i:])
	a.items[i] = stored
}

func (a *Array) removeItem(i int) {
	if i < 0 || i >= len(a.items) {
		return
	}
	if child, ok := a.items[i].(node); ok {
		a.doc.unregister(child)
		child.setParent(nil)
	}
	a.items = append(a.items[:i], a.items[i+1:]...)
}
