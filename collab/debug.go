// ABOUTME: Optional HTTP introspection surface for a running store.
// ABOUTME: Exposes the current snapshot as JSON and rendered rich-text previews.
package collab

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/2389-research/formsync/schema"
)

// DebugHandler returns the introspection router, or nil when the store was
// created without Options.Debug. Mount it on a loopback listener only; it has
// no auth of its own.
func (s *Store) DebugHandler() http.Handler {
	if !s.opts.Debug {
		return nil
	}

	r := chi.NewRouter()
	r.Get("/state", s.handleDebugState)
	r.Get("/preview", s.handleDebugPreview)
	return r
}

func (s *Store) handleDebugState(w http.ResponseWriter, r *http.Request) {
	snap := s.Snapshot()
	state := s.State()

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"connectionState": state,
		"snapshot":        snap,
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleDebugPreview renders every rich-text field's markdown content to HTML,
// keyed by field ID.
func (s *Store) handleDebugPreview(w http.ResponseWriter, r *http.Request) {
	snap := s.Snapshot()

	previews := map[string]string{}
	for _, page := range snap.Pages {
		for _, field := range page.Fields {
			static, ok := field.(schema.StaticField)
			if !ok || static.FieldType != schema.FieldRichText {
				continue
			}
			html, err := schema.RenderContent(static.Content)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			previews[static.FieldID] = html
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(previews); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
