// ABOUTME: Flattened state types derived from the shared document for the rendering layer.
// ABOUTME: Plain arrays/maps only; nothing here references shared-tree nodes.
package collab

import (
	"log"

	"github.com/2389-research/formsync/schema"
	"github.com/2389-research/formsync/sharedtree"
)

// Page is the flattened form of one page node.
type Page struct {
	ID     string
	Title  string
	Order  int
	Fields []schema.Field
}

// Layout is the flat map of presentation settings. Known keys below; the map
// is open so remote peers on newer versions can add keys without breaking us.
type Layout map[string]string

// Known layout keys.
const (
	LayoutTheme           = "theme"
	LayoutPrimaryColor    = "primaryColor"
	LayoutBackgroundColor = "backgroundColor"
	LayoutSpacing         = "spacing"
	LayoutBackgroundRef   = "backgroundRef"
	LayoutCallToAction    = "callToAction"
	LayoutPageMode        = "pageMode"
	LayoutCode            = "layoutCode"
)

// Clone returns a copy of the layout map.
func (l Layout) Clone() Layout {
	out := make(Layout, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Snapshot is the flattened application state: the single source of truth
// consumed by the rendering layer.
type Snapshot struct {
	Pages           []Page
	Layout          Layout
	ShuffleEnabled  bool
	SelectedPageID  string
	SelectedFieldID string
	Connected       bool
	Loading         bool
}

// derivePages flattens the document's page sequence. Field nodes that fail to
// decode (unknown type from a newer peer) are skipped with a warning rather
// than failing the whole derivation.
func derivePages(doc *sharedtree.Doc) []Page {
	pages := doc.Root().GetArray(keyPages)
	if pages == nil {
		return nil
	}

	out := make([]Page, 0, pages.Len())
	for _, pageNode := range pages.Maps() {
		page := Page{
			ID:    asStr(pageNode.Value(keyPageID)),
			Title: asStr(pageNode.Value(keyPageTitle)),
			Order: asInt(pageNode.Value(keyPageOrder)),
		}
		if fields := pageNode.GetArray(keyFields); fields != nil {
			page.Fields = make([]schema.Field, 0, fields.Len())
			for _, fieldNode := range fields.Maps() {
				field, err := schema.Decode(fieldNode.Data())
				if err != nil {
					log.Printf("component=collab action=skip_undecodable_field page=%s err=%v", page.ID, err)
					continue
				}
				page.Fields = append(page.Fields, field)
			}
		}
		out = append(out, page)
	}
	return out
}

// deriveLayout reads the shared layout map as flat strings.
func deriveLayout(doc *sharedtree.Doc) Layout {
	layout := doc.Root().GetMap(keyLayout)
	if layout == nil {
		return nil
	}
	out := make(Layout, layout.Len())
	for _, k := range layout.Keys() {
		if v, ok := layout.Get(k); ok {
			out[k] = asStr(v)
		}
	}
	return out
}

func deriveShuffle(doc *sharedtree.Doc) bool {
	v, _ := doc.Root().Get(keyShuffle)
	b, _ := v.(bool)
	return b
}
