// Package openapi loads the service's own OpenAPI document, indexes its
// operations by method and path, validates JSON request bodies against the
// declared schemas and serves the document as JSON.
package openapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/fieldops/model"
)

//go:embed api.yaml
var embeddedSpec []byte

// IndexedOperation holds a resolved OpenAPI operation with its context.
type IndexedOperation struct {
	OperationID  string
	Method       string
	PathTemplate string
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
}

// Index is an in-memory index of the API's operations.
type Index struct {
	doc        *openapi3.T
	rendered   []byte
	operations map[string]IndexedOperation // key: "METHOD path"
	byID       map[string]string           // operationID → key
}

func operationKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Load parses and indexes the embedded API document.
func Load() (*Index, error) {
	return LoadData(embeddedSpec)
}

// LoadFile parses and indexes an API document on disk.
func LoadFile(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("openapi: reading %s: %w", path, err)
	}
	return LoadData(data)
}

// LoadData parses, validates and indexes an API document.
func LoadData(data []byte) (*Index, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: parsing document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi: validating document: %w", err)
	}

	rendered, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("openapi: rendering document: %w", err)
	}

	idx := &Index{
		doc:        doc,
		rendered:   rendered,
		operations: make(map[string]IndexedOperation),
		byID:       make(map[string]string),
	}

	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			// Merge path-level and operation-level parameters.
			params := make([]*openapi3.Parameter, 0)
			for _, ref := range pathItem.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}
			for _, ref := range op.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}

			var reqBody *openapi3.RequestBody
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				reqBody = op.RequestBody.Value
			}

			key := operationKey(method, path)
			idx.operations[key] = IndexedOperation{
				OperationID:  op.OperationID,
				Method:       strings.ToUpper(method),
				PathTemplate: path,
				Parameters:   params,
				RequestBody:  reqBody,
			}
			if op.OperationID != "" {
				idx.byID[op.OperationID] = key
			}
		}
	}

	return idx, nil
}

// Title returns the document title.
func (idx *Index) Title() string {
	if idx.doc.Info == nil {
		return ""
	}
	return idx.doc.Info.Title
}

// GetOperation returns the operation registered for method and path template.
func (idx *Index) GetOperation(method, path string) (IndexedOperation, bool) {
	op, ok := idx.operations[operationKey(method, path)]
	return op, ok
}

// GetOperationByID returns the operation with the given operationId.
func (idx *Index) GetOperationByID(operationID string) (IndexedOperation, bool) {
	key, ok := idx.byID[operationID]
	if !ok {
		return IndexedOperation{}, false
	}
	return idx.operations[key], true
}

// Operations returns every indexed operation ordered by path then method.
func (idx *Index) Operations() []IndexedOperation {
	ops := make([]IndexedOperation, 0, len(idx.operations))
	for _, op := range idx.operations {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].PathTemplate != ops[j].PathTemplate {
			return ops[i].PathTemplate < ops[j].PathTemplate
		}
		return ops[i].Method < ops[j].Method
	})
	return ops
}

// AllOperationIDs returns all operation IDs, sorted.
func (idx *Index) AllOperationIDs() []string {
	ids := make([]string, 0, len(idx.byID))
	for id := range idx.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateRequest validates a JSON request body against the operation's
// application/json schema. Unknown operations and operations without a JSON
// body schema accept anything. It returns a BAD_REQUEST envelope for
// unparsable bodies and a VALIDATION_ERROR envelope listing each violation.
func (idx *Index) ValidateRequest(method, path string, body []byte) error {
	op, ok := idx.GetOperation(method, path)
	if !ok || op.RequestBody == nil {
		return nil
	}

	ct := op.RequestBody.Content.Get("application/json")
	if ct == nil || ct.Schema == nil || ct.Schema.Value == nil {
		return nil
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		if op.RequestBody.Required {
			return model.NewFieldError("body", "REQUIRED", "request body is required")
		}
		return nil
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return model.NewBadRequestError("invalid JSON body")
	}

	err := ct.Schema.Value.VisitJSON(value, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	return model.NewValidationError(fieldErrors(err))
}

// fieldErrors flattens schema validation errors into field-level details.
func fieldErrors(err error) []model.FieldError {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		var out []model.FieldError
		for _, e := range multi {
			out = append(out, fieldErrors(e)...)
		}
		return out
	}

	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		field := strings.Join(se.JSONPointer(), ".")
		if field == "" {
			field = "body"
		}
		code := "INVALID"
		if se.SchemaField == "required" {
			code = "REQUIRED"
		}
		return []model.FieldError{{Field: field, Code: code, Message: se.Reason}}
	}

	return []model.FieldError{{Field: "body", Code: "INVALID", Message: err.Error()}}
}

// Handler serves the document as JSON.
func (idx *Index) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=300")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(idx.rendered)
	})
}
