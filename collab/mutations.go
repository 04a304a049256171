// ABOUTME: The mutation API: structural and leaf operations writing through the document model.
// ABOUTME: Every operation is a no-op with a logged warning when no connected document exists.
package collab

import (
	"fmt"
	"log"

	"github.com/2389-research/formsync/schema"
	"github.com/2389-research/formsync/sharedtree"
)

// mutate runs fn on the connected, synced document under the engine mutex, or
// logs a warning no-op. Mutations made while disconnected or mid-resync are
// intentionally not queued for replay; the product does not support offline
// editing.
func (s *Store) mutate(action string, fn func(doc *sharedtree.Doc)) bool {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	if !s.ctrl.ready() {
		log.Printf("component=collab action=%s skipped=not_ready state=%s", action, s.ctrl.state)
		return false
	}
	fn(s.ctrl.doc)
	return true
}

// AddEmptyPage appends a new page with a fresh ID, order equal to the current
// page count, and no fields, then selects it. Returns the new page ID, or ""
// when not connected.
func (s *Store) AddEmptyPage() string {
	var pageID string
	s.mutate("add_page", func(doc *sharedtree.Doc) {
		doc.Transact(func(tx *sharedtree.Tx) {
			pages := pagesSeq(tx, doc)
			data := newPageData(fmt.Sprintf("Page %d", pages.Len()+1), pages.Len())
			pageID = asStr(data[keyPageID])
			pages.Push(tx, data)
		})
	})
	if pageID != "" {
		s.SelectPage(pageID)
	}
	return pageID
}

// RemovePage deletes a page and renumbers the remaining pages 0..n-1. The
// last remaining page cannot be removed. If the removed page was selected,
// the nearest remaining page becomes selected.
func (s *Store) RemovePage(pageID string) {
	s.mutate("remove_page", func(doc *sharedtree.Doc) {
		var reselect string
		selectedPage, _ := s.selection()

		doc.Transact(func(tx *sharedtree.Tx) {
			pages := pagesSeq(tx, doc)
			if pages.Len() <= 1 {
				log.Printf("component=collab action=remove_page skipped=last_page page=%s", pageID)
				return
			}
			idx, _ := findPage(pages, pageID)
			if idx < 0 {
				log.Printf("component=collab action=remove_page skipped=page_not_found page=%s", pageID)
				return
			}
			pages.Delete(tx, idx)
			renumberPages(tx, pages)

			if selectedPage == pageID {
				nearest := idx
				if nearest >= pages.Len() {
					nearest = pages.Len() - 1
				}
				if next := pages.GetMap(nearest); next != nil {
					reselect = asStr(next.Value(keyPageID))
				}
			}
		})

		if reselect != "" {
			s.SelectPage(reselect)
		}
	})
}

// DuplicatePage inserts a copy of the page immediately after the source, with
// a fresh page ID and fresh IDs for every contained field, and renumbers.
func (s *Store) DuplicatePage(pageID string) {
	s.mutate("duplicate_page", func(doc *sharedtree.Doc) {
		doc.Transact(func(tx *sharedtree.Tx) {
			pages := pagesSeq(tx, doc)
			idx, page := findPage(pages, pageID)
			if page == nil {
				log.Printf("component=collab action=duplicate_page skipped=page_not_found page=%s", pageID)
				return
			}

			data := page.Data()
			data[keyPageID] = schema.NewID()
			if fields, ok := data[keyFields].([]any); ok {
				for _, f := range fields {
					if fieldData, ok := f.(map[string]any); ok {
						fieldData[schema.KeyID] = schema.NewID()
					}
				}
			}
			pages.Insert(tx, idx+1, data)
			renumberPages(tx, pages)
		})
	})
}

// ReorderPages moves the page at oldIndex to newIndex using the
// extract/clear/rebuild strategy: the full page data (including nested field
// data) is extracted, spliced in memory, and the sequence is rebuilt
// node-by-node in the new order. Node identity is carried by the domain IDs,
// which survive the rebuild.
//
// The rebuild window is not guarded against concurrent remote structural
// edits; a remote add arriving mid-rebuild can be dropped. Accepted gap:
// reorders are low-frequency, single-actor operations in this domain.
func (s *Store) ReorderPages(oldIndex, newIndex int) {
	s.mutate("reorder_pages", func(doc *sharedtree.Doc) {
		doc.Transact(func(tx *sharedtree.Tx) {
			pages := pagesSeq(tx, doc)
			n := pages.Len()
			if oldIndex == newIndex || oldIndex < 0 || oldIndex >= n || newIndex < 0 || newIndex >= n {
				log.Printf("component=collab action=reorder_pages skipped=bad_indices old=%d new=%d len=%d", oldIndex, newIndex, n)
				return
			}

			data := pages.Data()
			moved := data[oldIndex]
			data = append(data[:oldIndex], data[oldIndex+1:]...)
			data = append(data[:newIndex], append([]any{moved}, data[newIndex:]...)...)

			pages.Clear(tx)
			for i, item := range data {
				if pageData, ok := item.(map[string]any); ok {
					pageData[keyPageOrder] = int64(i)
				}
				pages.Push(tx, item)
			}
		})
	})
}

// AddField encodes a new field of the given type and appends it to the page's
// field sequence. data holds initial attribute overrides in updateField form.
// Returns the new field ID, or "" on no-op.
func (s *Store) AddField(pageID string, t schema.FieldType, data map[string]any) string {
	return s.AddFieldAtIndex(pageID, t, data, -1)
}

// AddFieldAtIndex is AddField inserting at a clamped index; a negative index
// appends.
func (s *Store) AddFieldAtIndex(pageID string, t schema.FieldType, data map[string]any, index int) string {
	var fieldID string
	s.mutate("add_field", func(doc *sharedtree.Doc) {
		if !t.Known() {
			log.Printf("component=collab action=add_field skipped=unknown_type type=%s", t)
			return
		}
		doc.Transact(func(tx *sharedtree.Tx) {
			_, page := findPage(pagesSeq(tx, doc), pageID)
			if page == nil {
				log.Printf("component=collab action=add_field skipped=page_not_found page=%s", pageID)
				return
			}

			field := schema.NewField(t)
			fieldID = field.ID()
			fields := fieldsSeq(tx, page)
			at := index
			if at < 0 || at > fields.Len() {
				at = fields.Len()
			}
			fields.Insert(tx, at, schema.Encode(field))

			if len(data) > 0 {
				if _, node := findField(fields, fieldID); node != nil {
					mergeFieldUpdates(tx, node, t, data)
				}
			}
		})
	})
	return fieldID
}

// UpdateField merges updates onto an existing field node. Array-valued
// options and multi-select default values are rebuilt as sequences with empty
// entries filtered; a validation object partially merges into the nested
// validation node; legacy flat required/min/max keys are reinterpreted into
// the nested validation shape.
func (s *Store) UpdateField(pageID, fieldID string, updates map[string]any) {
	s.mutate("update_field", func(doc *sharedtree.Doc) {
		doc.Transact(func(tx *sharedtree.Tx) {
			_, page := findPage(pagesSeq(tx, doc), pageID)
			if page == nil {
				log.Printf("component=collab action=update_field skipped=page_not_found page=%s", pageID)
				return
			}
			_, field := findField(page.GetArray(keyFields), fieldID)
			if field == nil {
				log.Printf("component=collab action=update_field skipped=field_not_found field=%s", fieldID)
				return
			}
			mergeFieldUpdates(tx, field, schema.FieldType(asStr(field.Value(schema.KeyType))), updates)
		})
	})
}

// RemoveField deletes a field node from its page's sequence.
func (s *Store) RemoveField(pageID, fieldID string) {
	s.mutate("remove_field", func(doc *sharedtree.Doc) {
		doc.Transact(func(tx *sharedtree.Tx) {
			_, page := findPage(pagesSeq(tx, doc), pageID)
			if page == nil {
				log.Printf("component=collab action=remove_field skipped=page_not_found page=%s", pageID)
				return
			}
			fields := page.GetArray(keyFields)
			idx, _ := findField(fields, fieldID)
			if idx < 0 {
				log.Printf("component=collab action=remove_field skipped=field_not_found field=%s", fieldID)
				return
			}
			fields.Delete(tx, idx)
		})
	})
}

// ReorderFields moves a field within one page using the same
// extract/clear/rebuild strategy as ReorderPages, scoped to the page.
func (s *Store) ReorderFields(pageID string, oldIndex, newIndex int) {
	s.mutate("reorder_fields", func(doc *sharedtree.Doc) {
		doc.Transact(func(tx *sharedtree.Tx) {
			_, page := findPage(pagesSeq(tx, doc), pageID)
			if page == nil {
				log.Printf("component=collab action=reorder_fields skipped=page_not_found page=%s", pageID)
				return
			}
			fields := fieldsSeq(tx, page)
			n := fields.Len()
			if oldIndex == newIndex || oldIndex < 0 || oldIndex >= n || newIndex < 0 || newIndex >= n {
				log.Printf("component=collab action=reorder_fields skipped=bad_indices old=%d new=%d len=%d", oldIndex, newIndex, n)
				return
			}

			data := fields.Data()
			moved := data[oldIndex]
			data = append(data[:oldIndex], data[oldIndex+1:]...)
			data = append(data[:newIndex], append([]any{moved}, data[newIndex:]...)...)

			fields.Clear(tx)
			for _, item := range data {
				fields.Push(tx, item)
			}
		})
	})
}

// DuplicateField inserts an encoded copy immediately after the source field,
// with a fresh ID and the label suffixed "(Copy)".
func (s *Store) DuplicateField(pageID, fieldID string) {
	s.mutate("duplicate_field", func(doc *sharedtree.Doc) {
		doc.Transact(func(tx *sharedtree.Tx) {
			_, page := findPage(pagesSeq(tx, doc), pageID)
			if page == nil {
				log.Printf("component=collab action=duplicate_field skipped=page_not_found page=%s", pageID)
				return
			}
			fields := page.GetArray(keyFields)
			idx, field := findField(fields, fieldID)
			if field == nil {
				log.Printf("component=collab action=duplicate_field skipped=field_not_found field=%s", fieldID)
				return
			}
			fields.Insert(tx, idx+1, copyFieldData(field.Data()))
		})
	})
}

// MoveFieldBetweenPages removes a field from the source page and inserts it
// into the destination page at a clamped index (negative index appends),
// preserving the field's ID. Same-page moves are rejected; use ReorderFields.
// If the moved field was selected, selection follows it to the destination.
func (s *Store) MoveFieldBetweenPages(srcPageID, dstPageID, fieldID string, index int) {
	s.mutate("move_field", func(doc *sharedtree.Doc) {
		if srcPageID == dstPageID {
			log.Printf("component=collab action=move_field skipped=same_page page=%s", srcPageID)
			return
		}

		// Capture selection before the transaction: the derivation inside it
		// clears the selection when the field leaves its source page.
		_, selectedField := s.selection()

		moved := false
		doc.Transact(func(tx *sharedtree.Tx) {
			pages := pagesSeq(tx, doc)
			_, src := findPage(pages, srcPageID)
			_, dst := findPage(pages, dstPageID)
			if src == nil || dst == nil {
				log.Printf("component=collab action=move_field skipped=page_not_found src=%s dst=%s", srcPageID, dstPageID)
				return
			}
			srcFields := src.GetArray(keyFields)
			idx, field := findField(srcFields, fieldID)
			if field == nil {
				log.Printf("component=collab action=move_field skipped=field_not_found field=%s", fieldID)
				return
			}

			data := field.Data()
			srcFields.Delete(tx, idx)

			dstFields := fieldsSeq(tx, dst)
			at := index
			if at < 0 || at > dstFields.Len() {
				at = dstFields.Len()
			}
			dstFields.Insert(tx, at, data)
			moved = true
		})

		if moved && selectedField == fieldID {
			s.SelectField(dstPageID, fieldID)
		}
	})
}

// CopyFieldToPage inserts an encoded copy of the field (fresh ID, "(Copy)"
// label suffix) at the end of the destination page; the source is untouched.
func (s *Store) CopyFieldToPage(srcPageID, dstPageID, fieldID string) {
	s.mutate("copy_field", func(doc *sharedtree.Doc) {
		if srcPageID == dstPageID {
			log.Printf("component=collab action=copy_field skipped=same_page page=%s", srcPageID)
			return
		}
		doc.Transact(func(tx *sharedtree.Tx) {
			pages := pagesSeq(tx, doc)
			_, src := findPage(pages, srcPageID)
			_, dst := findPage(pages, dstPageID)
			if src == nil || dst == nil {
				log.Printf("component=collab action=copy_field skipped=page_not_found src=%s dst=%s", srcPageID, dstPageID)
				return
			}
			_, field := findField(src.GetArray(keyFields), fieldID)
			if field == nil {
				log.Printf("component=collab action=copy_field skipped=field_not_found field=%s", fieldID)
				return
			}
			fieldsSeq(tx, dst).Push(tx, copyFieldData(field.Data()))
		})
	})
}

// UpdateLayout merges the partial layout into the local preview state
// immediately. When connected, each changed key is also written into the
// shared layout node; while offline, the preview updates but is not
// propagated. (Intentional behavior, preserved as-is.)
func (s *Store) UpdateLayout(partial map[string]string) {
	if len(partial) == 0 {
		return
	}

	s.stateMu.Lock()
	for k, v := range partial {
		s.localLayout[k] = v
	}
	s.stateMu.Unlock()

	propagated := s.mutate("update_layout", func(doc *sharedtree.Doc) {
		doc.Transact(func(tx *sharedtree.Tx) {
			layout := layoutMap(tx, doc)
			for k, v := range partial {
				if cur, ok := layout.Get(k); !ok || cur != v {
					layout.Set(tx, k, v)
				}
			}
		})
	})

	if !propagated {
		// Still republish so the rendering layer sees the preview change.
		s.stateMu.Lock()
		snap := s.snapshot
		snap.Layout = s.localLayout.Clone()
		s.snapshot = snap
		s.publishLocked(snap)
		s.stateMu.Unlock()
	}
}

// SetShuffleEnabled writes the document-level shuffle flag.
func (s *Store) SetShuffleEnabled(enabled bool) {
	s.mutate("set_shuffle", func(doc *sharedtree.Doc) {
		doc.Transact(func(tx *sharedtree.Tx) {
			doc.Root().Set(tx, keyShuffle, enabled)
		})
	})
}

// copyFieldData prepares duplicated field data: fresh ID and a "(Copy)"
// label suffix on fillable fields.
func copyFieldData(data map[string]any) map[string]any {
	data[schema.KeyID] = schema.NewID()
	if label, ok := data[schema.KeyLabel].(string); ok && label != "" {
		data[schema.KeyLabel] = label + " (Copy)"
	}
	return data
}

// mergeFieldUpdates applies an updates map onto a field node.
func mergeFieldUpdates(tx *sharedtree.Tx, field *sharedtree.Map, t schema.FieldType, updates map[string]any) {
	for k, v := range updates {
		switch k {
		case schema.KeyID, schema.KeyType:
			// Identity and type are immutable.
		case schema.KeyOptions:
			field.Set(tx, schema.KeyOptions, filteredSeq(v))
		case schema.KeyDefaultValue:
			if t.MultiValued() {
				field.Set(tx, schema.KeyDefaultValue, filteredSeq(v))
			} else {
				field.Set(tx, schema.KeyDefaultValue, v)
			}
		case schema.KeyValidation:
			if patch, ok := v.(map[string]any); ok {
				mergeValidation(tx, field, t, patch)
			}
		case schema.KeyRequired:
			// Legacy flat key, reinterpreted into the nested validation shape.
			mergeValidation(tx, field, t, map[string]any{schema.KeyRequired: v})
		case "min":
			if key := minBoundKey(t); key != "" {
				mergeValidation(tx, field, t, map[string]any{key: v})
			}
		case "max":
			if key := maxBoundKey(t); key != "" {
				mergeValidation(tx, field, t, map[string]any{key: v})
			}
		default:
			field.Set(tx, k, v)
		}
	}
}

// mergeValidation partially merges a patch into the field's nested validation
// node, creating the type-appropriate default node first when absent. The
// type tag itself is never patched.
func mergeValidation(tx *sharedtree.Tx, field *sharedtree.Map, t schema.FieldType, patch map[string]any) {
	if !t.Known() || t.Static() {
		return
	}
	validation := field.GetMap(schema.KeyValidation)
	if validation == nil {
		field.Set(tx, schema.KeyValidation, schema.DefaultValidationNode(t))
		validation = field.GetMap(schema.KeyValidation)
	}
	for k, v := range patch {
		if k == schema.KeyType {
			continue
		}
		validation.Set(tx, k, v)
	}
}

func minBoundKey(t schema.FieldType) string {
	switch t {
	case schema.FieldText, schema.FieldTextarea:
		return schema.KeyMinLength
	case schema.FieldCheckbox:
		return schema.KeyMinSelections
	}
	return ""
}

func maxBoundKey(t schema.FieldType) string {
	switch t {
	case schema.FieldText, schema.FieldTextarea:
		return schema.KeyMaxLength
	case schema.FieldCheckbox:
		return schema.KeyMaxSelections
	}
	return ""
}

// filteredSeq rebuilds an array-valued update as a sequence with empty
// string entries filtered out.
func filteredSeq(v any) []any {
	switch vs := v.(type) {
	case []string:
		out := make([]any, 0, len(vs))
		for _, s := range vs {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]any, 0, len(vs))
		for _, item := range vs {
			if s, ok := item.(string); ok && s == "" {
				continue
			}
			out = append(out, item)
		}
		return out
	}
	return []any{}
}
