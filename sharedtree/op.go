// ABOUTME: Op is the closed tagged union of shared-tree mutations and its JSON wire shape.
// ABOUTME: Container values carry their node IDs so every replica materializes identical identity.
package sharedtree

import (
	"encoding/json"
	"fmt"
)

// OpType tags an op variant.
type OpType string

const (
	OpMapSet      OpType = "mapSet"
	OpMapDelete   OpType = "mapDelete"
	OpArrayInsert OpType = "arrayInsert"
	OpArrayDelete OpType = "arrayDelete"
)

// Op is one mutation addressed to a node by ID. Ops addressing nodes that no
// longer exist are dropped on apply; with server-sequenced delivery that only
// happens for mutations racing a structural removal.
type Op struct {
	Type  OpType `json:"type"`
	Node  string `json:"node"`
	Key   string `json:"key,omitempty"`
	Index int    `json:"index"`
	Value *Value `json:"value,omitempty"`
}

// ValueKind tags a Value variant.
type ValueKind string

const (
	ValueScalar ValueKind = "scalar"
	ValueMap    ValueKind = "map"
	ValueArray  ValueKind = "array"
)

// Value is the wire form of a tree value: a scalar leaf or a container
// subtree with explicit node IDs.
type Value struct {
	Kind    ValueKind        `json:"kind"`
	Scalar  any              `json:"scalar"`
	NodeID  string           `json:"node_id,omitempty"`
	Entries map[string]Value `json:"entries,omitempty"`
	Items   []Value          `json:"items,omitempty"`
}

// updateEnvelope is the wire format for one encoded update.
type updateEnvelope struct {
	Ops []Op `json:"ops"`
}

// EncodeUpdate serializes a transaction's ops for the sync transport.
func EncodeUpdate(ops []Op) ([]byte, error) {
	data, err := json.Marshal(updateEnvelope{Ops: ops})
	if err != nil {
		return nil, fmt.Errorf("marshal update: %w", err)
	}
	return data, nil
}

// DecodeUpdate parses an encoded update back into ops.
func DecodeUpdate(data []byte) ([]Op, error) {
	var env updateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal update: %w", err)
	}
	return env.Ops, nil
}

// encodeValue converts a stored tree value into its wire form.
func encodeValue(stored any) Value {
	switch v := stored.(type) {
	case *Map:
		entries := make(map[string]Value, len(v.entries))
		for k, e := range v.entries {
			entries[k] = encodeValue(e)
		}
		return Value{Kind: ValueMap, NodeID: v.nodeID, Entries: entries}
	case *Array:
		items := make([]Value, len(v.items))
		for i, e := range v.items {
			items[i] = encodeValue(e)
		}
		return Value{Kind: ValueArray, NodeID: v.nodeID, Items: items}
	default:
		return Value{Kind: ValueScalar, Scalar: v}
	}
}

func encodeValuePtr(stored any) *Value {
	v := encodeValue(stored)
	return &v
}

// buildFromValue materializes a wire value into the doc's tree, preserving the
// node IDs chosen by the originating replica.
func buildFromValue(d *Doc, val Value) any {
	switch val.Kind {
	case ValueMap:
		m := &Map{doc: d, nodeID: val.NodeID, entries: make(map[string]any, len(val.Entries))}
		d.register(m)
		for k, e := range val.Entries {
			child := buildFromValue(d, e)
			if cn, ok := child.(node); ok {
				cn.setParent(m)
			}
			m.entries[k] = child
		}
		return m
	case ValueArray:
		a := &Array{doc: d, nodeID: val.NodeID, items: make([]any, 0, len(val.Items))}
		d.register(a)
		for _, e := range val.Items {
			child := buildFromValue(d, e)
			if cn, ok := child.(node); ok {
				cn.setParent(a)
			}
			a.items = append(a.items, child)
		}
		return a
	default:
		return val.Scalar
	}
}

// applyOp applies one op to the tree, marking touched nodes on the Tx. It is
// used only for remote updates; local writes apply through the node methods.
func (d *Doc) applyOp(tx *Tx, op Op) {
	n, ok := d.nodes[op.Node]
	if !ok {
		logf("action=drop_stale_op type=%s node=%s", op.Type, op.Node)
		return
	}

	switch op.Type {
	case OpMapSet:
		m, ok := n.(*Map)
		if !ok || op.Value == nil {
			return
		}
		stored := buildFromValue(d, *op.Value)
		m.replaceEntry(op.Key, stored)
		tx.touch(m)
	case OpMapDelete:
		m, ok := n.(*Map)
		if !ok {
			return
		}
		m.removeEntry(op.Key)
		tx.touch(m)
	case OpArrayInsert:
		a, ok := n.(*Array)
		if !ok || op.Value == nil {
			return
		}
		stored := buildFromValue(d, *op.Value)
		a.insertItem(op.Index, stored)
		tx.touch(a)
	case OpArrayDelete:
		a, ok := n.(*Array)
		if !ok {
			return
		}
		a.removeItem(op.Index)
		tx.touch(a)
	default:
		logf("action=drop_unknown_op type=%s node=%s", op.Type, op.Node)
	}
}
