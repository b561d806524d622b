package workflow

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/fieldops/internal/observability"
	"github.com/pitabwire/fieldops/model"
)

// BlobStore holds photo and report binaries.
type BlobStore interface {
	// Put uploads size bytes from r under key.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Ping reports whether the backing bucket is reachable.
	Ping(ctx context.Context) error
}

// PhotoInput is the input of AddPhoto. Body is read exactly once.
type PhotoInput struct {
	StepID      string
	Caption     string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// PhotoPath returns the object key of a session photo.
func PhotoPath(workOrderID, sessionID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	return fmt.Sprintf("work-orders/%s/sessions/%s/%s%s", workOrderID, sessionID, uuid.New().String(), ext)
}

// AddPhoto uploads a photo and records it against the session. The upload
// happens before the record is written; a failed insert leaves an orphaned
// object, never a record pointing at nothing.
func (e *Engine) AddPhoto(
	ctx context.Context,
	rctx *model.RequestContext,
	sessionID string,
	in PhotoInput,
) (model.Photo, error) {
	if e.blobs == nil {
		return model.Photo{}, model.NewBackendUnavailableError()
	}
	if in.Body == nil {
		return model.Photo{}, model.NewFieldError("file", "REQUIRED", "photo file is required")
	}
	if in.ContentType != "" && !strings.HasPrefix(in.ContentType, "image/") {
		return model.Photo{}, model.NewFieldError("file", "INVALID",
			fmt.Sprintf("content type %q is not an image", in.ContentType))
	}

	ws, wo, err := e.loadSession(ctx, e.store, rctx, sessionID)
	if err != nil {
		return model.Photo{}, err
	}
	if in.StepID != "" {
		if err := e.checkStep(ctx, ws, in.StepID); err != nil {
			return model.Photo{}, err
		}
	}

	p := model.Photo{
		ID:          uuid.New().String(),
		SessionID:   ws.ID,
		WorkOrderID: wo.ID,
		StepID:      in.StepID,
		StoragePath: PhotoPath(wo.ID, ws.ID, in.FileName),
		ContentType: in.ContentType,
		Size:        in.Size,
		Caption:     strings.TrimSpace(in.Caption),
		CapturedBy:  rctx.SubjectID,
		CapturedAt:  e.now(),
	}
	if err := e.blobs.Put(ctx, p.StoragePath, in.Body, in.Size, in.ContentType); err != nil {
		observability.RequestLogger(ctx, e.logger).Error("photo upload failed",
			zap.String("session_id", ws.ID),
			zap.String("path", p.StoragePath),
			zap.Error(err),
		)
		return model.Photo{}, model.NewBackendUnavailableError()
	}
	if err := e.store.CreatePhoto(ctx, p); err != nil {
		return model.Photo{}, err
	}
	return p, nil
}

// ListPhotos returns a session's photos.
func (e *Engine) ListPhotos(ctx context.Context, rctx *model.RequestContext, sessionID string) ([]model.Photo, error) {
	if _, _, err := e.loadSession(ctx, e.store, rctx, sessionID); err != nil {
		return nil, err
	}
	return e.store.ListPhotos(ctx, sessionID)
}

// FindingInput is the input of AddFinding.
type FindingInput struct {
	StepID         string         `json:"step_id,omitempty"`
	Severity       model.Severity `json:"severity"`
	Description    string         `json:"description"`
	Recommendation string         `json:"recommendation,omitempty"`
}

// AddFinding logs an inspection finding against a session.
func (e *Engine) AddFinding(
	ctx context.Context,
	rctx *model.RequestContext,
	sessionID string,
	in FindingInput,
) (model.InspectionFinding, error) {
	var details []model.FieldError
	if !in.Severity.Valid() {
		details = append(details, model.FieldError{Field: "severity", Code: "INVALID", Message: fmt.Sprintf("unknown severity %q", in.Severity)})
	}
	if strings.TrimSpace(in.Description) == "" {
		details = append(details, model.FieldError{Field: "description", Code: "REQUIRED", Message: "description is required"})
	}
	if len(details) > 0 {
		return model.InspectionFinding{}, model.NewValidationError(details)
	}

	ws, _, err := e.loadSession(ctx, e.store, rctx, sessionID)
	if err != nil {
		return model.InspectionFinding{}, err
	}
	if in.StepID != "" {
		if err := e.checkStep(ctx, ws, in.StepID); err != nil {
			return model.InspectionFinding{}, err
		}
	}

	f := model.InspectionFinding{
		ID:             uuid.New().String(),
		SessionID:      ws.ID,
		StepID:         in.StepID,
		Severity:       in.Severity,
		Description:    strings.TrimSpace(in.Description),
		Recommendation: strings.TrimSpace(in.Recommendation),
		CreatedBy:      rctx.SubjectID,
		CreatedAt:      e.now(),
	}
	if err := e.store.CreateFinding(ctx, f); err != nil {
		return model.InspectionFinding{}, err
	}
	return f, nil
}

// PartsInput is the input of RecordPartsUsed.
type PartsInput struct {
	SessionID   string  `json:"session_id,omitempty"`
	PartNumber  string  `json:"part_number"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitCost    float64 `json:"unit_cost"`
}

// RecordPartsUsed records a part consumed by a work order.
func (e *Engine) RecordPartsUsed(
	ctx context.Context,
	rctx *model.RequestContext,
	workOrderID string,
	in PartsInput,
) (model.PartsUsed, error) {
	if err := validateParts([]model.RequiredPart{{
		PartNumber: in.PartNumber, Quantity: in.Quantity, UnitCost: in.UnitCost,
	}}); err != nil {
		return model.PartsUsed{}, err
	}

	var p model.PartsUsed
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		wo, err := tx.GetWorkOrder(ctx, rctx.TenantID, workOrderID)
		if err != nil {
			return err
		}
		if wo.Status == model.StatusCancelled || wo.Status == model.StatusInvoiced {
			return model.NewWorkOrderClosedError(wo.ID, wo.Status)
		}
		if in.SessionID != "" {
			ws, err := tx.GetSession(ctx, in.SessionID)
			if err != nil {
				return err
			}
			if ws.WorkOrderID != wo.ID {
				return model.NewFieldError("session_id", "MISMATCH",
					fmt.Sprintf("session %q does not belong to this work order", ws.ID))
			}
		}
		p = model.PartsUsed{
			ID:          uuid.New().String(),
			WorkOrderID: wo.ID,
			SessionID:   in.SessionID,
			PartNumber:  strings.TrimSpace(in.PartNumber),
			Description: strings.TrimSpace(in.Description),
			Quantity:    in.Quantity,
			UnitCost:    in.UnitCost,
			RecordedBy:  rctx.SubjectID,
			RecordedAt:  e.now(),
		}
		if err := tx.CreatePartsUsed(ctx, p); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, wo.ID, model.EventPartsUsed, rctx.SubjectID, wo.CurrentPhase,
			map[string]any{"part_number": p.PartNumber, "quantity": p.Quantity}, "")
	})
	if err != nil {
		return model.PartsUsed{}, err
	}
	return p, nil
}

// CreateEquipment registers an equipment unit for the caller's tenant.
func (e *Engine) CreateEquipment(ctx context.Context, rctx *model.RequestContext, u model.EquipmentUnit) (model.EquipmentUnit, error) {
	if strings.TrimSpace(u.SerialNumber) == "" {
		return model.EquipmentUnit{}, model.NewFieldError("serial_number", "REQUIRED", "serial number is required")
	}
	if u.CustomerID != "" {
		if _, err := e.store.GetCustomer(ctx, rctx.TenantID, u.CustomerID); err != nil {
			return model.EquipmentUnit{}, err
		}
	}
	u.ID = uuid.New().String()
	u.TenantID = rctx.TenantID
	u.SerialNumber = strings.TrimSpace(u.SerialNumber)
	u.CreatedAt = e.now()
	if err := e.store.CreateEquipment(ctx, u); err != nil {
		return model.EquipmentUnit{}, err
	}
	return u, nil
}

// GetEquipment returns an equipment unit of the caller's tenant.
func (e *Engine) GetEquipment(ctx context.Context, rctx *model.RequestContext, id string) (model.EquipmentUnit, error) {
	return e.store.GetEquipment(ctx, rctx.TenantID, id)
}

// CreateCustomer registers a customer for the caller's tenant.
func (e *Engine) CreateCustomer(ctx context.Context, rctx *model.RequestContext, c model.Customer) (model.Customer, error) {
	if strings.TrimSpace(c.Name) == "" {
		return model.Customer{}, model.NewFieldError("name", "REQUIRED", "name is required")
	}
	c.ID = uuid.New().String()
	c.TenantID = rctx.TenantID
	c.Name = strings.TrimSpace(c.Name)
	c.CreatedAt = e.now()
	if err := e.store.CreateCustomer(ctx, c); err != nil {
		return model.Customer{}, err
	}
	return c, nil
}

// EquipmentHistory returns the maintenance history of a unit, or of every
// unit of a model when unitID is empty.
func (e *Engine) EquipmentHistory(
	ctx context.Context,
	rctx *model.RequestContext,
	unitID, modelID string,
) (model.EquipmentHistory, error) {
	if unitID == "" && modelID == "" {
		return model.EquipmentHistory{}, model.NewBadRequestError("equipment unit or model is required")
	}
	return e.store.EquipmentHistory(ctx, rctx.TenantID, unitID, modelID)
}

// RecordAIInteraction logs a prompt/response pair. A session reference must
// belong to the caller's tenant.
func (e *Engine) RecordAIInteraction(
	ctx context.Context,
	rctx *model.RequestContext,
	i model.AIInteraction,
) (model.AIInteraction, error) {
	if i.SessionID != "" {
		if _, _, err := e.loadSession(ctx, e.store, rctx, i.SessionID); err != nil {
			return model.AIInteraction{}, err
		}
	}
	i.ID = uuid.New().String()
	i.CreatedBy = rctx.SubjectID
	i.CreatedAt = e.now()
	i.Helpful = nil
	i.Feedback = ""
	if err := e.store.CreateAIInteraction(ctx, i); err != nil {
		return model.AIInteraction{}, err
	}
	return i, nil
}

// FeedbackInput is the input of RecordAIFeedback.
type FeedbackInput struct {
	Helpful  *bool  `json:"helpful"`
	Feedback string `json:"feedback,omitempty"`
}

// RecordAIFeedback sets the helpful flag and feedback text of an interaction.
// Only the user who triggered the interaction may rate it.
func (e *Engine) RecordAIFeedback(
	ctx context.Context,
	rctx *model.RequestContext,
	id string,
	in FeedbackInput,
) (model.AIInteraction, error) {
	if in.Helpful == nil && strings.TrimSpace(in.Feedback) == "" {
		return model.AIInteraction{}, model.NewBadRequestError("helpful or feedback is required")
	}
	i, err := e.store.GetAIInteraction(ctx, id)
	if err != nil {
		return model.AIInteraction{}, err
	}
	if !rctx.Is(i.CreatedBy) {
		return model.AIInteraction{}, model.NewNotFoundError(fmt.Sprintf("interaction %q not found", id))
	}
	feedback := strings.TrimSpace(in.Feedback)
	if err := e.store.UpdateAIFeedback(ctx, id, in.Helpful, feedback); err != nil {
		return model.AIInteraction{}, err
	}
	i.Helpful = in.Helpful
	i.Feedback = feedback
	return i, nil
}

// checkStep verifies that stepID is a step of the session's procedure.
func (e *Engine) checkStep(ctx context.Context, ws model.WorkSession, stepID string) error {
	tmpl, err := sessionProcedure(ctx, e.store, ws)
	if err != nil {
		return err
	}
	if _, ok := tmpl.Step(stepID); !ok {
		return model.NewFieldError("step_id", "INVALID",
			fmt.Sprintf("step %q is not part of procedure %s", stepID, tmpl.ID))
	}
	return nil
}
