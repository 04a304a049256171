// ABOUTME: Literal materialization and plain-data snapshots for tree values.
// ABOUTME: map[string]any / []any / []string literals become container subtrees.
package sharedtree

// materializeLiteral converts a plain-data literal into its stored tree form,
// creating container nodes with fresh IDs. Scalars pass through unchanged.
func materializeLiteral(d *Doc, value any) any {
	switch v := value.(type) {
	case map[string]any:
		m := &Map{doc: d, nodeID: newNodeID(), entries: make(map[string]any, len(v))}
		d.register(m)
		for k, e := range v {
			child := materializeLiteral(d, e)
			if cn, ok := child.(node); ok {
				cn.setParent(m)
			}
			m.entries[k] = child
		}
		return m
	case []any:
		a := &Array{doc: d, nodeID: newNodeID(), items: make([]any, 0, len(v))}
		d.register(a)
		for _, e := range v {
			child := materializeLiteral(d, e)
			if cn, ok := child.(node); ok {
				cn.setParent(a)
			}
			a.items = append(a.items, child)
		}
		return a
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return materializeLiteral(d, items)
	default:
		return value
	}
}

// plainData converts a stored value into plain data: containers become
// map[string]any / []any snapshots, scalars are returned as-is.
func plainData(stored any) any {
	switch v := stored.(type) {
	case *Map:
		return v.Data()
	case *Array:
		return v.Data()
	default:
		return v
	}
}
