package procedure

import (
	"context"
	"errors"
	"fmt"

	"github.com/pitabwire/fieldops/model"
)

// Sink is the part of the store the catalog is synchronised into.
type Sink interface {
	GetTemplate(ctx context.Context, id string) (model.ProcedureTemplate, error)
	UpsertTemplate(ctx context.Context, t model.ProcedureTemplate) error
}

// SyncResult reports what Sync changed.
type SyncResult struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// Sync validates templates and upserts each one whose checksum differs from
// the stored copy. Nothing is written if any template is invalid.
func Sync(ctx context.Context, sink Sink, templates []model.ProcedureTemplate) (SyncResult, error) {
	var res SyncResult
	if errs := Validate(templates); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return res, fmt.Errorf("invalid procedure catalog: %w", errors.Join(joined...))
	}

	for _, t := range templates {
		existing, err := sink.GetTemplate(ctx, t.ID)
		switch {
		case err == nil:
			if existing.Checksum == t.Checksum && existing.Checksum != "" {
				res.Unchanged++
				continue
			}
			res.Updated++
		case model.ErrorCode(err) == model.ErrNotFound:
			res.Inserted++
		default:
			return res, fmt.Errorf("look up procedure %q: %w", t.ID, err)
		}
		if err := sink.UpsertTemplate(ctx, t); err != nil {
			return res, fmt.Errorf("store procedure %q: %w", t.ID, err)
		}
	}
	return res, nil
}
