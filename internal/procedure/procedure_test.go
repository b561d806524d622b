package procedure

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/pitabwire/fieldops/model"
)

// --- Loader ---

func TestLoader_LoadFile(t *testing.T) {
	l := NewLoader()
	templates, err := l.LoadFile("testdata/catalog/pumps.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(templates) != 2 {
		t.Fatalf("templates = %d, want 2", len(templates))
	}

	scope := templates[0]
	if scope.ID != "pump-repair-scope" {
		t.Errorf("ID = %q, want pump-repair-scope", scope.ID)
	}
	if scope.Phase != model.PhaseRepairScope {
		t.Errorf("Phase = %q, want repair_scope", scope.Phase)
	}
	if scope.EquipmentType != "pump" {
		t.Errorf("EquipmentType = %q, want pump", scope.EquipmentType)
	}
	if !scope.Active {
		t.Error("templates without an active flag should default to active")
	}
	if len(scope.Steps) != 2 {
		t.Fatalf("Steps = %d, want 2", len(scope.Steps))
	}
	if got := scope.Steps[0].RequiredMeasurements; len(got) != 1 || got[0] != "impeller_clearance_mm" {
		t.Errorf("RequiredMeasurements = %v", got)
	}
	if scope.Checksum == "" {
		t.Error("Checksum should not be empty")
	}
	if scope.SourceFile != "testdata/catalog/pumps.yaml" {
		t.Errorf("SourceFile = %q", scope.SourceFile)
	}

	if templates[1].Active {
		t.Error("explicit active: false should be kept")
	}
}

func TestLoader_LoadFile_not_found(t *testing.T) {
	l := NewLoader()
	if _, err := l.LoadFile("testdata/nope.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoader_LoadAll(t *testing.T) {
	l := NewLoader()
	templates, err := l.LoadAll([]string{"testdata/catalog"})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	// Two from pumps.yaml, one from inspection.yml; README.txt is skipped.
	if len(templates) != 3 {
		t.Fatalf("templates = %d, want 3", len(templates))
	}
}

func TestLoader_LoadAll_missing_dir(t *testing.T) {
	l := NewLoader()
	if _, err := l.LoadAll([]string{"testdata/does-not-exist"}); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestLoader_bundled_catalog_is_valid(t *testing.T) {
	l := NewLoader()
	templates, err := l.LoadAll([]string{"../../procedures"})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if errs := Validate(templates); len(errs) > 0 {
		t.Fatalf("bundled catalog invalid: %v", errs)
	}
}

// --- Validator ---

func TestValidate_valid(t *testing.T) {
	templates, err := NewLoader().LoadAll([]string{"testdata/catalog"})
	if err != nil {
		t.Fatal(err)
	}
	if errs := Validate(templates); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestValidate_invalid(t *testing.T) {
	templates, err := NewLoader().LoadFile("testdata/invalid/broken.yaml")
	if err != nil {
		t.Fatal(err)
	}
	errs := Validate(templates)

	want := []struct {
		suffix string
		code   string
	}{
		{".name", "REQUIRED"},
		{".phase", "INVALID"},
		{".steps[1].id", "DUPLICATE"},
		{".steps[1].step_number", "DUPLICATE"},
		{".steps[1].title", "REQUIRED"},
		{".steps[1].step_type", "INVALID"},
	}
	for _, w := range want {
		found := false
		for _, e := range errs {
			if strings.HasSuffix(e.Path, w.suffix) && e.Code == w.code {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing %s %s in %v", w.suffix, w.code, errs)
		}
	}
}

func TestValidate_duplicate_ids(t *testing.T) {
	tmpl := model.ProcedureTemplate{
		ID:    "dup",
		Name:  "Dup",
		Phase: model.PhaseTeardown,
		Steps: []model.ProcedureStep{{ID: "a", StepNumber: 1, Title: "A", StepType: model.StepTypeAction}},
	}
	errs := Validate([]model.ProcedureTemplate{tmpl, tmpl})
	if len(errs) != 1 || errs[0].Code != "DUPLICATE" {
		t.Errorf("Validate() = %v, want one DUPLICATE", errs)
	}
}

func TestValidateTemplate_terminal_phase(t *testing.T) {
	tmpl := model.ProcedureTemplate{
		ID:    "done",
		Name:  "Done",
		Phase: model.PhaseCompleted,
		Steps: []model.ProcedureStep{{ID: "a", StepNumber: 1, Title: "A", StepType: model.StepTypeAction}},
	}
	errs := ValidateTemplate("t", tmpl)
	if len(errs) != 1 || errs[0].Path != "t.phase" {
		t.Errorf("ValidateTemplate() = %v, want phase error", errs)
	}
}

// --- Sync ---

type fakeSink struct {
	templates map[string]model.ProcedureTemplate
	upserts   int
	failGet   bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{templates: make(map[string]model.ProcedureTemplate)}
}

func (f *fakeSink) GetTemplate(_ context.Context, id string) (model.ProcedureTemplate, error) {
	if f.failGet {
		return model.ProcedureTemplate{}, fmt.Errorf("connection refused")
	}
	t, ok := f.templates[id]
	if !ok {
		return model.ProcedureTemplate{}, model.NewNotFoundError("not found")
	}
	return t, nil
}

func (f *fakeSink) UpsertTemplate(_ context.Context, t model.ProcedureTemplate) error {
	f.upserts++
	f.templates[t.ID] = t
	return nil
}

func TestSync_insert_then_unchanged(t *testing.T) {
	templates, err := NewLoader().LoadAll([]string{"testdata/catalog"})
	if err != nil {
		t.Fatal(err)
	}
	sink := newFakeSink()

	res, err := Sync(context.Background(), sink, templates)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.Inserted != 3 || res.Updated != 0 || res.Unchanged != 0 {
		t.Errorf("first Sync = %+v, want 3 inserted", res)
	}

	res, err = Sync(context.Background(), sink, templates)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.Unchanged != 3 {
		t.Errorf("second Sync = %+v, want 3 unchanged", res)
	}
	if sink.upserts != 3 {
		t.Errorf("upserts = %d, want 3", sink.upserts)
	}
}

func TestSync_changed_checksum_updates(t *testing.T) {
	templates, _ := NewLoader().LoadFile("testdata/catalog/inspection.yml")
	sink := newFakeSink()
	stale := templates[0]
	stale.Checksum = "old"
	sink.templates[stale.ID] = stale

	res, err := Sync(context.Background(), sink, templates)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.Updated != 1 {
		t.Errorf("Updated = %d, want 1", res.Updated)
	}
}

func TestSync_invalid_writes_nothing(t *testing.T) {
	templates, _ := NewLoader().LoadFile("testdata/invalid/broken.yaml")
	sink := newFakeSink()

	if _, err := Sync(context.Background(), sink, templates); err == nil {
		t.Fatal("expected error for invalid catalog")
	}
	if sink.upserts != 0 {
		t.Errorf("upserts = %d, want 0", sink.upserts)
	}
}

func TestSync_store_error(t *testing.T) {
	templates, _ := NewLoader().LoadFile("testdata/catalog/inspection.yml")
	sink := newFakeSink()
	sink.failGet = true

	if _, err := Sync(context.Background(), sink, templates); err == nil {
		t.Fatal("expected error when the store fails")
	}
}
