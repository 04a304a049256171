// ABOUTME: Tests for the mutation API: page/field structure, merge semantics, layout, selection.
// ABOUTME: Includes two-store convergence checks through paired fake transports.
package collab

import (
	"reflect"
	"testing"

	"github.com/2389-research/formsync/schema"
)

func TestAddEmptyPage(t *testing.T) {
	s, _ := newConnectedStore(t)

	id := s.AddEmptyPage()
	if id == "" {
		t.Fatal("no page id returned")
	}

	snap := s.Snapshot()
	if len(snap.Pages) != 1 {
		t.Fatalf("pages: %d", len(snap.Pages))
	}
	page := snap.Pages[0]
	if page.ID != id || page.Title != "Page 1" || page.Order != 0 {
		t.Errorf("page: %+v", page)
	}
	if snap.SelectedPageID != id {
		t.Errorf("new page should be selected, got %q", snap.SelectedPageID)
	}
}

func TestAddEmptyPageNumbersSequentially(t *testing.T) {
	s, _ := newConnectedStore(t)
	s.AddEmptyPage()
	s.AddEmptyPage()
	s.AddEmptyPage()

	snap := s.Snapshot()
	titles := []string{snap.Pages[0].Title, snap.Pages[1].Title, snap.Pages[2].Title}
	want := []string{"Page 1", "Page 2", "Page 3"}
	if !reflect.DeepEqual(titles, want) {
		t.Errorf("titles: got %v, want %v", titles, want)
	}
	for i, page := range snap.Pages {
		if page.Order != i {
			t.Errorf("page %d order: %d", i, page.Order)
		}
	}
}

func TestRemovePageRefusesLastPage(t *testing.T) {
	s, _ := newConnectedStore(t)
	id := s.AddEmptyPage()

	s.RemovePage(id)
	if n := len(s.Snapshot().Pages); n != 1 {
		t.Errorf("pages: %d, want 1", n)
	}
}

func TestRemovePageRenumbersAndReselects(t *testing.T) {
	s, _ := newConnectedStore(t)
	p1 := s.AddEmptyPage()
	p2 := s.AddEmptyPage()
	p3 := s.AddEmptyPage()

	s.SelectPage(p3)
	s.RemovePage(p3)

	snap := s.Snapshot()
	if len(snap.Pages) != 2 {
		t.Fatalf("pages: %d", len(snap.Pages))
	}
	if snap.Pages[0].ID != p1 || snap.Pages[1].ID != p2 {
		t.Errorf("remaining pages: %s %s", snap.Pages[0].ID, snap.Pages[1].ID)
	}
	if snap.Pages[0].Order != 0 || snap.Pages[1].Order != 1 {
		t.Errorf("orders: %d %d", snap.Pages[0].Order, snap.Pages[1].Order)
	}
	if snap.SelectedPageID != p2 {
		t.Errorf("selection: got %q, want nearest page %q", snap.SelectedPageID, p2)
	}
}

func TestRemoveMiddlePageReselectsNearest(t *testing.T) {
	s, _ := newConnectedStore(t)
	s.AddEmptyPage()
	p2 := s.AddEmptyPage()
	p3 := s.AddEmptyPage()

	s.SelectPage(p2)
	s.RemovePage(p2)

	if got := s.Snapshot().SelectedPageID; got != p3 {
		t.Errorf("selection: got %q, want %q", got, p3)
	}
}

func TestDuplicatePageGetsFreshIDs(t *testing.T) {
	s, _ := newConnectedStore(t)
	pageID := s.AddEmptyPage()
	fieldID := s.AddField(pageID, schema.FieldText, map[string]any{schema.KeyLabel: "Name"})

	s.DuplicatePage(pageID)

	snap := s.Snapshot()
	if len(snap.Pages) != 2 {
		t.Fatalf("pages: %d", len(snap.Pages))
	}
	dup := snap.Pages[1]
	if dup.ID == pageID {
		t.Error("duplicate page kept the source id")
	}
	if dup.Title != snap.Pages[0].Title {
		t.Errorf("duplicate title: %q", dup.Title)
	}
	if len(dup.Fields) != 1 {
		t.Fatalf("duplicate fields: %d", len(dup.Fields))
	}
	if dup.Fields[0].ID() == fieldID {
		t.Error("duplicate field kept the source id")
	}
	if label := dup.Fields[0].(schema.FillableField).Label; label != "Name" {
		t.Errorf("duplicate field label: %q", label)
	}
	if dup.Order != 1 {
		t.Errorf("duplicate order: %d", dup.Order)
	}
}

func TestReorderPages(t *testing.T) {
	s, _ := newConnectedStore(t)
	p1 := s.AddEmptyPage()
	p2 := s.AddEmptyPage()
	p3 := s.AddEmptyPage()

	s.ReorderPages(0, 2)

	snap := s.Snapshot()
	got := []string{snap.Pages[0].ID, snap.Pages[1].ID, snap.Pages[2].ID}
	want := []string{p2, p3, p1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order: got %v, want %v", got, want)
	}
	for i, page := range snap.Pages {
		if page.Order != i {
			t.Errorf("page %d order attribute: %d", i, page.Order)
		}
	}
}

func TestReorderPagesRejectsBadIndices(t *testing.T) {
	s, _ := newConnectedStore(t)
	p1 := s.AddEmptyPage()
	p2 := s.AddEmptyPage()

	s.ReorderPages(0, 5)
	s.ReorderPages(-1, 1)
	s.ReorderPages(1, 1)

	snap := s.Snapshot()
	if snap.Pages[0].ID != p1 || snap.Pages[1].ID != p2 {
		t.Error("bad reorder indices should leave order unchanged")
	}
}

func TestReorderPagesPreservesFields(t *testing.T) {
	s, _ := newConnectedStore(t)
	p1 := s.AddEmptyPage()
	p2 := s.AddEmptyPage()
	fieldID := s.AddField(p1, schema.FieldEmail, nil)

	s.ReorderPages(0, 1)

	snap := s.Snapshot()
	if snap.Pages[1].ID != p1 {
		t.Fatalf("page order: %v", snap.Pages)
	}
	if len(snap.Pages[1].Fields) != 1 || snap.Pages[1].Fields[0].ID() != fieldID {
		t.Error("fields did not survive page reorder")
	}
	_ = p2
}

func TestAddFieldWithInitialData(t *testing.T) {
	s, _ := newConnectedStore(t)
	pageID := s.AddEmptyPage()

	fieldID := s.AddField(pageID, schema.FieldSelect, map[string]any{
		schema.KeyLabel:   "Color",
		schema.KeyOptions: []string{"red", "", "blue"},
	})
	if fieldID == "" {
		t.Fatal("no field id returned")
	}

	field := s.Snapshot().Pages[0].Fields[0].(schema.FillableField)
	if field.FieldID != fieldID || field.Label != "Color" {
		t.Errorf("field: %+v", field)
	}
	if !reflect.DeepEqual(field.Options, []string{"red", "blue"}) {
		t.Errorf("options: %v", field.Options)
	}
}

func TestAddFieldAtIndex(t *testing.T) {
	s, _ := newConnectedStore(t)
	pageID := s.AddEmptyPage()
	s.AddField(pageID, schema.FieldText, nil)
	s.AddField(pageID, schema.FieldDate, nil)

	middle := s.AddFieldAtIndex(pageID, schema.FieldNumber, nil, 1)

	fields := s.Snapshot().Pages[0].Fields
	if len(fields) != 3 || fields[1].ID() != middle {
		t.Errorf("insert position wrong: %v", fields)
	}
}

func TestAddFieldRejectsUnknownType(t *testing.T) {
	s, _ := newConnectedStore(t)
	pageID := s.AddEmptyPage()

	if id := s.AddField(pageID, schema.FieldType("hologram"), nil); id != "" {
		t.Errorf("unknown type accepted: %s", id)
	}
}

func TestUpdateFieldMergesValidation(t *testing.T) {
	s, _ := newConnectedStore(t)
	pageID := s.AddEmptyPage()
	fieldID := s.AddField(pageID, schema.FieldText, nil)

	s.UpdateField(pageID, fieldID, map[string]any{
		schema.KeyValidation: map[string]any{
			schema.KeyRequired:  true,
			schema.KeyMinLength: int64(3),
		},
	})

	v := s.Snapshot().Pages[0].Fields[0].(schema.FillableField).Validation.(schema.TextValidation)
	if !v.Required || v.MinLength != 3 {
		t.Errorf("validation: %+v", v)
	}

	// A later partial patch must not clobber earlier keys.
	s.UpdateField(pageID, fieldID, map[string]any{
		schema.KeyValidation: map[string]any{schema.KeyMaxLength: int64(9)},
	})
	v = s.Snapshot().Pages[0].Fields[0].(schema.FillableField).Validation.(schema.TextValidation)
	if !v.Required || v.MinLength != 3 || v.MaxLength != 9 {
		t.Errorf("validation after partial patch: %+v", v)
	}
}

func TestUpdateFieldLabelAndFlatRequired(t *testing.T) {
	s, _ := newConnectedStore(t)
	pageID := s.AddEmptyPage()
	fieldID := s.AddField(pageID, schema.FieldText, nil)

	s.UpdateField(pageID, fieldID, map[string]any{
		schema.KeyLabel:    "Name",
		schema.KeyRequired: true,
	})

	field := s.Snapshot().Pages[0].Fields[0].(schema.FillableField)
	if field.Label != "Name" {
		t.Errorf("label: %q", field.Label)
	}
	if !field.Validation.IsRequired() {
		t.Error("flat required key should reach the nested validation node")
	}
}

func TestUpdateFieldLegacyFlatKeys(t *testing.T) {
	s, _ := newConnectedStore(t)
	pageID := s.AddEmptyPage()
	fieldID := s.AddField(pageID, schema.FieldCheckbox, nil)

	s.UpdateField(pageID, fieldID, map[string]any{
		schema.KeyRequired: true,
		"min":              int64(1),
		"max":              int64(4),
	})

	v := s.Snapshot().Pages[0].Fields[0].(schema.FillableField).Validation.(schema.CheckboxValidation)
	if !v.Required || v.MinSelections != 1 || v.MaxSelections != 4 {
		t.Errorf("validation: %+v", v)
	}
}

func TestUpdateFieldIgnoresIDAndType(t *testing.T) {
	s, _ := newConnectedStore(t)
	pageID := s.AddEmptyPage()
	fieldID := s.AddField(pageID, schema.FieldText, nil)

	s.UpdateField(pageID, fieldID, map[string]any{
		schema.KeyID:   "hijacked",
		schema.KeyType: "number",
	})

	field := s.Snapshot().Pages[0].Fields[0]
	if field.ID() != fieldID || field.Type() != schema.FieldText {
		t.Errorf("identity changed: id=%s type=%s", field.ID(), field.Type())
	}
}

func TestUpdateFieldMultiValuedDefault(t *testing.T) {
	s, _ := newConnectedStore(t)
	pageID := s.AddEmptyPage()
	fieldID := s.AddField(pageID, schema.FieldCheckbox, nil)

	s.UpdateField(pageID, fieldID, map[string]any{
		schema.KeyDefaultValue: []string{"a", "", "b"},
	})

	field := s.Snapshot().Pages[0].Fields[0].(schema.FillableField)
	if !reflect.DeepEqual(field.DefaultValues, []string{"a", "b"}) {
		t.Errorf("defaultValues: %v", field.DefaultValues)
	}
}

func TestRemoveFieldClearsSelection(t *testing.T) {
	s, _ := newConnectedStore(t)
	pageID := s.AddEmptyPage()
	fieldID := s.AddField(pageID, schema.FieldText, nil)
	s.SelectField(pageID, fieldID)

	s.RemoveField(pageID, fieldID)

	snap := s.Snapshot()
	if len(snap.Pages[0].Fields) != 0 {
		t.Errorf("fields: %d", len(snap.Pages[0].Fields))
	}
	if snap.SelectedFieldID != "" {
		t.Errorf("selection not cleared: %q", snap.SelectedFieldID)
	}
	if s.SelectedField() != nil {
		t.Error("SelectedField should be nil")
	}
}

func TestReorderFields(t *testing.T) {
	s, _ := newConnectedStore(t)
	pageID := s.AddEmptyPage()
	f1 := s.AddField(pageID, schema.FieldText, nil)
	f2 := s.AddField(pageID, schema.FieldEmail, nil)
	f3 := s.AddField(pageID, schema.FieldDate, nil)

	s.ReorderFields(pageID, 2, 0)

	fields := s.Snapshot().Pages[0].Fields
	got := []string{fields[0].ID(), fields[1].ID(), fields[2].ID()}
	want := []string{f3, f1, f2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order: got %v, want %v", got, want)
	}
}

func TestDuplicateField(t *testing.T) {
	s, _ := newConnectedStore(t)
	pageID := s.AddEmptyPage()
	fieldID := s.AddField(pageID, schema.FieldText, map[string]any{schema.KeyLabel: "Name"})
	s.AddField(pageID, schema.FieldDate, nil)

	s.DuplicateField(pageID, fieldID)

	fields := s.Snapshot().Pages[0].Fields
	if len(fields) != 3 {
		t.Fatalf("fields: %d", len(fields))
	}
	dup := fields[1].(schema.FillableField)
	if dup.FieldID == fieldID {
		t.Error("duplicate kept source id")
	}
	if dup.Label != "Name (Copy)" {
		t.Errorf("duplicate label: %q", dup.Label)
	}
}

func TestMoveFieldBetweenPages(t *testing.T) {
	s, _ := newConnectedStore(t)
	p1 := s.AddEmptyPage()
	p2 := s.AddEmptyPage()
	fieldID := s.AddField(p1, schema.FieldText, map[string]any{schema.KeyLabel: "Name"})
	s.SelectField(p1, fieldID)

	s.MoveFieldBetweenPages(p1, p2, fieldID, -1)

	snap := s.Snapshot()
	if len(snap.Pages[0].Fields) != 0 {
		t.Errorf("source fields: %d", len(snap.Pages[0].Fields))
	}
	if len(snap.Pages[1].Fields) != 1 || snap.Pages[1].Fields[0].ID() != fieldID {
		t.Error("field id should survive the move")
	}
	if snap.SelectedPageID != p2 || snap.SelectedFieldID != fieldID {
		t.Errorf("selection should follow: page=%q field=%q", snap.SelectedPageID, snap.SelectedFieldID)
	}
}

func TestMoveFieldSamePageIsNoOp(t *testing.T) {
	s, _ := newConnectedStore(t)
	p1 := s.AddEmptyPage()
	fieldID := s.AddField(p1, schema.FieldText, nil)

	s.MoveFieldBetweenPages(p1, p1, fieldID, 0)
	if n := len(s.Snapshot().Pages[0].Fields); n != 1 {
		t.Errorf("fields: %d", n)
	}
}

func TestCopyFieldToPage(t *testing.T) {
	s, _ := newConnectedStore(t)
	p1 := s.AddEmptyPage()
	p2 := s.AddEmptyPage()
	fieldID := s.AddField(p1, schema.FieldText, map[string]any{schema.KeyLabel: "Name"})

	s.CopyFieldToPage(p1, p2, fieldID)

	snap := s.Snapshot()
	if len(snap.Pages[0].Fields) != 1 {
		t.Error("source field should remain")
	}
	if len(snap.Pages[1].Fields) != 1 {
		t.Fatal("copy missing")
	}
	copied := snap.Pages[1].Fields[0].(schema.FillableField)
	if copied.FieldID == fieldID {
		t.Error("copy kept source id")
	}
	if copied.Label != "Name (Copy)" {
		t.Errorf("copy label: %q", copied.Label)
	}
}

func TestUpdateLayoutConnected(t *testing.T) {
	s, tr := newConnectedStore(t)

	before := tr.sentCount()
	s.UpdateLayout(map[string]string{LayoutTheme: "dark", LayoutPrimaryColor: "#336699"})

	snap := s.Snapshot()
	if snap.Layout[LayoutTheme] != "dark" || snap.Layout[LayoutPrimaryColor] != "#336699" {
		t.Errorf("layout: %v", snap.Layout)
	}
	if tr.sentCount() == before {
		t.Error("connected layout change should propagate")
	}
}

func TestUpdateLayoutOfflineStaysLocal(t *testing.T) {
	s, tr := newConnectedStore(t)
	tr.handlers.OnDisconnect()

	before := tr.sentCount()
	s.UpdateLayout(map[string]string{LayoutTheme: "dark"})

	if got := s.Snapshot().Layout[LayoutTheme]; got != "dark" {
		t.Errorf("local layout: %q", got)
	}
	if tr.sentCount() != before {
		t.Error("offline layout change should not propagate")
	}
}

func TestSetShuffleEnabled(t *testing.T) {
	s, _ := newConnectedStore(t)
	s.SetShuffleEnabled(true)
	if !s.Snapshot().ShuffleEnabled {
		t.Error("shuffle should be enabled")
	}
	s.SetShuffleEnabled(false)
	if s.Snapshot().ShuffleEnabled {
		t.Error("shuffle should be disabled")
	}
}

func TestMutationPublishesExactlyOneSnapshot(t *testing.T) {
	s, _ := newConnectedStore(t)
	pageID := s.AddEmptyPage()
	fieldID := s.AddField(pageID, schema.FieldText, nil)

	snapshots, cancel := s.Subscribe()
	defer cancel()

	// A deep mutation touches field, fields sequence, page, pages sequence,
	// and root; the cascade must coalesce that into one derivation.
	s.UpdateField(pageID, fieldID, map[string]any{schema.KeyLabel: "x"})

	count := 0
	for {
		select {
		case <-snapshots:
			count++
			continue
		default:
		}
		break
	}
	if count != 1 {
		t.Errorf("snapshots published: %d, want 1", count)
	}
}

func TestTwoStoresConverge(t *testing.T) {
	a, trA := newConnectedStore(t)
	b, trB := newConnectedStore(t)
	trA.peer = trB
	trB.peer = trA

	pageID := a.AddEmptyPage()
	fieldID := a.AddField(pageID, schema.FieldText, map[string]any{schema.KeyLabel: "Name"})
	b.UpdateField(pageID, fieldID, map[string]any{schema.KeyLabel: "Full name"})
	a.SetShuffleEnabled(true)

	snapA, snapB := a.Snapshot(), b.Snapshot()
	if !reflect.DeepEqual(snapA.Pages, snapB.Pages) {
		t.Errorf("pages diverged:\n a=%+v\n b=%+v", snapA.Pages, snapB.Pages)
	}
	if snapA.ShuffleEnabled != snapB.ShuffleEnabled {
		t.Error("shuffle flag diverged")
	}
	if label := snapA.Pages[0].Fields[0].(schema.FillableField).Label; label != "Full name" {
		t.Errorf("label on originator: %q", label)
	}
}
