// ABOUTME: Canonical shared-tree shape of a form document and its accessors.
// ABOUTME: Single point of schema-shape knowledge: root → pages → fields, layout, shuffleEnabled.
package collab

import (
	"github.com/2389-research/formsync/schema"
	"github.com/2389-research/formsync/sharedtree"
)

// Root-level and page-level keys of the shared document shape. No component
// outside this file touches the raw tree shape directly.
const (
	keyPages     = "pages"
	keyLayout    = "layout"
	keyShuffle   = "shuffleEnabled"
	keyPageID    = "id"
	keyPageTitle = "title"
	keyPageOrder = "order"
	keyFields    = "fields"
)

// pagesSeq returns the document's ordered page sequence, creating it lazily.
func pagesSeq(tx *sharedtree.Tx, doc *sharedtree.Doc) *sharedtree.Array {
	root := doc.Root()
	if a := root.GetArray(keyPages); a != nil {
		return a
	}
	root.Set(tx, keyPages, []any{})
	return root.GetArray(keyPages)
}

// fieldsSeq returns a page's ordered field sequence, creating it lazily.
func fieldsSeq(tx *sharedtree.Tx, page *sharedtree.Map) *sharedtree.Array {
	if a := page.GetArray(keyFields); a != nil {
		return a
	}
	page.Set(tx, keyFields, []any{})
	return page.GetArray(keyFields)
}

// layoutMap returns the document's flat layout map, creating it lazily.
func layoutMap(tx *sharedtree.Tx, doc *sharedtree.Doc) *sharedtree.Map {
	root := doc.Root()
	if m := root.GetMap(keyLayout); m != nil {
		return m
	}
	root.Set(tx, keyLayout, map[string]any{})
	return root.GetMap(keyLayout)
}

// newPageData builds the node data for a fresh empty page.
func newPageData(title string, order int) map[string]any {
	return map[string]any{
		keyPageID:    schema.NewID(),
		keyPageTitle: title,
		keyPageOrder: int64(order),
		keyFields:    []any{},
	}
}

// findPage locates a page node by domain ID within the page sequence.
// Returns index -1 when absent.
func findPage(pages *sharedtree.Array, pageID string) (int, *sharedtree.Map) {
	if pages == nil {
		return -1, nil
	}
	for i := 0; i < pages.Len(); i++ {
		page := pages.GetMap(i)
		if page == nil {
			continue
		}
		if id, _ := page.Get(keyPageID); id == pageID {
			return i, page
		}
	}
	return -1, nil
}

// findField locates a field node by domain ID within a fields sequence.
// Returns index -1 when absent.
func findField(fields *sharedtree.Array, fieldID string) (int, *sharedtree.Map) {
	if fields == nil {
		return -1, nil
	}
	for i := 0; i < fields.Len(); i++ {
		field := fields.GetMap(i)
		if field == nil {
			continue
		}
		if id, _ := field.Get(schema.KeyID); id == fieldID {
			return i, field
		}
	}
	return -1, nil
}

// renumberPages rewrites each page's order attribute to its positional index,
// touching only pages whose stored order differs.
func renumberPages(tx *sharedtree.Tx, pages *sharedtree.Array) {
	for i := 0; i < pages.Len(); i++ {
		page := pages.GetMap(i)
		if page == nil {
			continue
		}
		if cur, _ := page.Get(keyPageOrder); asInt(cur) != i {
			page.Set(tx, keyPageOrder, int64(i))
		}
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func asStr(v any) string {
	s, _ := v.(string)
	return s
}
