package openapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pitabwire/fieldops/model"
)

func loadTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return idx
}

func TestIndex_Load(t *testing.T) {
	idx := loadTestIndex(t)
	if idx.Title() != "Field Operations API" {
		t.Errorf("Title() = %q", idx.Title())
	}
	if n := len(idx.Operations()); n < 30 {
		t.Errorf("Operations() = %d, want every route documented", n)
	}
}

func TestIndex_GetOperation_found(t *testing.T) {
	idx := loadTestIndex(t)

	op, ok := idx.GetOperation(http.MethodPost, "/sessions/{id}/steps/{stepId}/complete")
	if !ok {
		t.Fatal("GetOperation(completeStep) not found")
	}
	if op.OperationID != "completeStep" {
		t.Errorf("OperationID = %q, want completeStep", op.OperationID)
	}

	found := map[string]bool{}
	for _, p := range op.Parameters {
		if p.In == "path" {
			found[p.Name] = true
		}
	}
	if !found["id"] || !found["stepId"] {
		t.Errorf("path parameters = %v, want id and stepId", found)
	}
}

func TestIndex_GetOperation_caseInsensitiveMethod(t *testing.T) {
	idx := loadTestIndex(t)
	if _, ok := idx.GetOperation("patch", "/ai-interactions/{id}/feedback"); !ok {
		t.Error("GetOperation(patch feedback) not found")
	}
}

func TestIndex_GetOperation_not_found(t *testing.T) {
	idx := loadTestIndex(t)

	if _, ok := idx.GetOperation(http.MethodDelete, "/work-orders/{id}"); ok {
		t.Error("GetOperation(DELETE work order) should return false")
	}
	if _, ok := idx.GetOperationByID("nonexistent"); ok {
		t.Error("GetOperationByID(nonexistent) should return false")
	}
}

func TestIndex_GetOperationByID(t *testing.T) {
	idx := loadTestIndex(t)

	op, ok := idx.GetOperationByID("decideApproval")
	if !ok {
		t.Fatal("GetOperationByID(decideApproval) not found")
	}
	if op.Method != http.MethodPost || op.PathTemplate != "/approvals/{id}/decision" {
		t.Errorf("op = %s %s", op.Method, op.PathTemplate)
	}
}

func TestIndex_AllOperationIDs_unique_and_sorted(t *testing.T) {
	idx := loadTestIndex(t)

	ids := idx.AllOperationIDs()
	if len(ids) != len(idx.Operations()) {
		t.Errorf("operation IDs = %d, operations = %d; every operation needs a unique id", len(ids), len(idx.Operations()))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Errorf("ids not sorted at %d: %q <= %q", i, ids[i], ids[i-1])
		}
	}
}

func TestIndex_ValidateRequest(t *testing.T) {
	idx := loadTestIndex(t)

	tests := []struct {
		name      string
		method    string
		path      string
		body      string
		wantCode  string
		wantField string
	}{
		{"valid work order", "POST", "/work-orders", `{"equipment_unit_id":"eq-1","work_type":"repair"}`, "", ""},
		{"missing work type", "POST", "/work-orders", `{"equipment_unit_id":"eq-1"}`, model.ErrValidationError, "work_type"},
		{"bad priority", "POST", "/work-orders", `{"equipment_unit_id":"eq-1","work_type":"repair","priority":"asap"}`, model.ErrValidationError, "priority"},
		{"text measurement", "POST", "/sessions/{id}/steps/{stepId}/complete", `{"result":"pass","measurements":{"reading":"480V","clearance_mm":0.35}}`, "", ""},
		{"bad step result", "POST", "/sessions/{id}/steps/{stepId}/complete", `{"result":"maybe"}`, model.ErrValidationError, "result"},
		{"nested part quantity", "POST", "/sessions/{id}/report", `{"required_parts":[{"part_number":"P-1","quantity":0}]}`, model.ErrValidationError, "required_parts.0.quantity"},
		{"optional body empty", "POST", "/sessions/{id}/report", ``, "", ""},
		{"required body empty", "POST", "/approvals/{id}/decision", ``, model.ErrValidationError, "body"},
		{"invalid json", "POST", "/approvals/{id}/decision", `{"decision":`, model.ErrBadRequest, ""},
		{"ai query not required", "POST", "/ai-assistant", `{"context":{}}`, "", ""},
		{"multipart skipped", "POST", "/sessions/{id}/photos", `not json`, "", ""},
		{"unknown operation", "POST", "/nowhere", `{}`, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := idx.ValidateRequest(tt.method, tt.path, []byte(tt.body))
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("ValidateRequest() error = %v", err)
				}
				return
			}
			if model.ErrorCode(err) != tt.wantCode {
				t.Fatalf("ValidateRequest() code = %q (%v), want %s", model.ErrorCode(err), err, tt.wantCode)
			}
			if tt.wantField == "" {
				return
			}
			ee := err.(*model.ErrorEnvelope)
			for _, d := range ee.Details {
				if d.Field == tt.wantField {
					return
				}
			}
			t.Errorf("details = %+v, want field %q", ee.Details, tt.wantField)
		})
	}
}

func TestIndex_LoadFile_bad_file(t *testing.T) {
	if _, err := LoadFile("testdata/nonexistent.yaml"); err == nil {
		t.Fatal("LoadFile() with missing file should return error")
	}
}

func TestIndex_LoadData_invalid_document(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	doc := "openapi: 3.0.3\ninfo:\n  title: x\npaths: {}\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile() with missing info.version should return error")
	}
}

func TestIndex_Handler(t *testing.T) {
	idx := loadTestIndex(t)

	rec := httptest.NewRecorder()
	idx.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if doc["openapi"] != "3.0.3" {
		t.Errorf("openapi = %v", doc["openapi"])
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/ai-predictive-analysis"]; !ok {
		t.Error("served document missing /ai-predictive-analysis")
	}
}
