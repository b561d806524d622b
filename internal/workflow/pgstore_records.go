package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pitabwire/fieldops/model"
)

// --- Reports ---

const reportColumns = `id, work_order_id, session_id, phase, status, summary,
	technician_notes, report_data, pdf_path, submitted_by, submitted_at, sent_at, updated_at`

func scanReport(row scanner) (model.PhaseReport, error) {
	var r model.PhaseReport
	var dataJSON []byte
	if err := row.Scan(
		&r.ID, &r.WorkOrderID, &r.SessionID, &r.Phase, &r.Status, &r.Summary,
		&r.TechnicianNotes, &dataJSON, &r.PDFPath, &r.SubmittedBy, &r.SubmittedAt, &r.SentAt, &r.UpdatedAt,
	); err != nil {
		return r, err
	}
	if err := json.Unmarshal(dataJSON, &r.Data); err != nil {
		return r, fmt.Errorf("unmarshal report data: %w", err)
	}
	return r, nil
}

// CreateReport inserts a report. The unique index on session_id rejects a
// second report for the same session.
func (s *PgStore) CreateReport(ctx context.Context, r model.PhaseReport) error {
	dataJSON, err := marshalJSON(r.Data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO phase_reports (`+reportColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.WorkOrderID, r.SessionID, r.Phase, r.Status, r.Summary,
		r.TechnicianNotes, dataJSON, r.PDFPath, r.SubmittedBy, r.SubmittedAt, r.SentAt, r.UpdatedAt,
	)
	if err != nil {
		return writeError(err, "insert phase report", fmt.Sprintf("session %q already has a report", r.SessionID))
	}
	return nil
}

// GetReport retrieves a report by ID.
func (s *PgStore) GetReport(ctx context.Context, id string) (model.PhaseReport, error) {
	r, err := scanReport(s.db.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM phase_reports WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PhaseReport{}, model.NewNotFoundError(fmt.Sprintf("report %q not found", id))
	}
	if err != nil {
		return model.PhaseReport{}, fmt.Errorf("query phase report: %w", err)
	}
	return r, nil
}

// UpdateReport persists the mutable report fields.
func (s *PgStore) UpdateReport(ctx context.Context, r model.PhaseReport) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE phase_reports SET status = $1, pdf_path = $2, sent_at = $3, updated_at = $4
		WHERE id = $5`,
		r.Status, r.PDFPath, r.SentAt, time.Now().UTC(), r.ID,
	)
	if err != nil {
		return fmt.Errorf("update phase report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("report %q not found", r.ID))
	}
	return nil
}

// ListReports returns a work order's reports, oldest first.
func (s *PgStore) ListReports(ctx context.Context, workOrderID string) ([]model.PhaseReport, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+reportColumns+` FROM phase_reports WHERE work_order_id = $1 ORDER BY submitted_at ASC`,
		workOrderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query phase reports: %w", err)
	}
	defer rows.Close()

	var result []model.PhaseReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan phase report: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// --- Approvals ---

const approvalColumns = `id, work_order_id, COALESCE(report_id, ''), phase_completed, next_phase,
	status, findings_summary, required_parts, estimated_cost, estimated_hours,
	requested_by, requested_at, approved_by, approved_at, notes, rejection_reason`

func scanApproval(row scanner) (model.WorkOrderApproval, error) {
	var a model.WorkOrderApproval
	var partsJSON []byte
	if err := row.Scan(
		&a.ID, &a.WorkOrderID, &a.ReportID, &a.PhaseCompleted, &a.NextPhase,
		&a.Status, &a.FindingsSummary, &partsJSON, &a.EstimatedCost, &a.EstimatedHours,
		&a.RequestedBy, &a.RequestedAt, &a.ApprovedBy, &a.ApprovedAt, &a.Notes, &a.RejectionReason,
	); err != nil {
		return a, err
	}
	if partsJSON != nil {
		if err := json.Unmarshal(partsJSON, &a.RequiredParts); err != nil {
			return a, fmt.Errorf("unmarshal required parts: %w", err)
		}
	}
	return a, nil
}

// CreateApproval inserts an approval. The partial unique index on
// work_order_id WHERE status = 'pending' rejects a second pending approval.
func (s *PgStore) CreateApproval(ctx context.Context, a model.WorkOrderApproval) error {
	partsJSON, err := marshalJSON(a.RequiredParts)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO work_order_approvals (
			id, work_order_id, report_id, phase_completed, next_phase,
			status, findings_summary, required_parts, estimated_cost, estimated_hours,
			requested_by, requested_at, approved_by, approved_at, notes, rejection_reason
		) VALUES (
			$1, $2, NULLIF($3, ''), $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16
		)`,
		a.ID, a.WorkOrderID, a.ReportID, a.PhaseCompleted, a.NextPhase,
		a.Status, a.FindingsSummary, partsJSON, a.EstimatedCost, a.EstimatedHours,
		a.RequestedBy, a.RequestedAt, a.ApprovedBy, a.ApprovedAt, a.Notes, a.RejectionReason,
	)
	if err != nil {
		return writeError(err, "insert approval",
			fmt.Sprintf("work order %q already has a pending approval", a.WorkOrderID))
	}
	return nil
}

// GetApproval retrieves an approval by ID.
func (s *PgStore) GetApproval(ctx context.Context, id string) (model.WorkOrderApproval, error) {
	a, err := scanApproval(s.db.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM work_order_approvals WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkOrderApproval{}, model.NewNotFoundError(fmt.Sprintf("approval %q not found", id))
	}
	if err != nil {
		return model.WorkOrderApproval{}, fmt.Errorf("query approval: %w", err)
	}
	return a, nil
}

// ResolveApproval writes the decision only while the row is still pending.
func (s *PgStore) ResolveApproval(ctx context.Context, a model.WorkOrderApproval) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE work_order_approvals SET
			status = $1,
			approved_by = $2,
			approved_at = $3,
			notes = $4,
			rejection_reason = $5
		WHERE id = $6 AND status = 'pending'`,
		a.Status, a.ApprovedBy, a.ApprovedAt, a.Notes, a.RejectionReason, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update approval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(fmt.Sprintf("approval %q is no longer pending", a.ID))
	}
	return nil
}

// CancelPendingApprovals cancels every pending approval of a work order.
func (s *PgStore) CancelPendingApprovals(ctx context.Context, workOrderID string) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE work_order_approvals SET status = 'cancelled'
		WHERE work_order_id = $1 AND status = 'pending'`,
		workOrderID,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel approvals: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListApprovals returns a tenant's approvals, newest first.
func (s *PgStore) ListApprovals(ctx context.Context, tenantID string, filters model.ApprovalFilters) ([]model.WorkOrderApproval, error) {
	query := `SELECT ` + approvalColumns + ` FROM work_order_approvals
		WHERE work_order_id IN (SELECT id FROM work_orders WHERE tenant_id = $1)`
	args := []any{tenantID}
	argIdx := 2

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}
	if filters.WorkOrderID != "" {
		query += fmt.Sprintf(" AND work_order_id = $%d", argIdx)
		args = append(args, filters.WorkOrderID)
	}
	query += " ORDER BY requested_at DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	var result []model.WorkOrderApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// --- Records ---

// CreatePhoto records a photo.
func (s *PgStore) CreatePhoto(ctx context.Context, p model.Photo) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO photos (
			id, session_id, work_order_id, step_id, storage_path, content_type,
			size, caption, captured_by, captured_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.SessionID, p.WorkOrderID, p.StepID, p.StoragePath, p.ContentType,
		p.Size, p.Caption, p.CapturedBy, p.CapturedAt,
	)
	if err != nil {
		return writeError(err, "insert photo", fmt.Sprintf("photo %q already exists", p.ID))
	}
	return nil
}

// ListPhotos returns a session's photos in capture order.
func (s *PgStore) ListPhotos(ctx context.Context, sessionID string) ([]model.Photo, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, work_order_id, step_id, storage_path, content_type,
		       size, caption, captured_by, captured_at
		FROM photos WHERE session_id = $1 ORDER BY captured_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query photos: %w", err)
	}
	defer rows.Close()

	var result []model.Photo
	for rows.Next() {
		var p model.Photo
		if err := rows.Scan(
			&p.ID, &p.SessionID, &p.WorkOrderID, &p.StepID, &p.StoragePath, &p.ContentType,
			&p.Size, &p.Caption, &p.CapturedBy, &p.CapturedAt,
		); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

const findingColumns = `id, session_id, step_id, severity, description, recommendation, created_by, created_at`

func scanFinding(row scanner) (model.InspectionFinding, error) {
	var f model.InspectionFinding
	err := row.Scan(
		&f.ID, &f.SessionID, &f.StepID, &f.Severity, &f.Description,
		&f.Recommendation, &f.CreatedBy, &f.CreatedAt,
	)
	return f, err
}

// CreateFinding records an inspection finding.
func (s *PgStore) CreateFinding(ctx context.Context, f model.InspectionFinding) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO inspection_findings (`+findingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.ID, f.SessionID, f.StepID, f.Severity, f.Description,
		f.Recommendation, f.CreatedBy, f.CreatedAt,
	)
	if err != nil {
		return writeError(err, "insert finding", fmt.Sprintf("finding %q already exists", f.ID))
	}
	return nil
}

// ListFindings returns a session's findings.
func (s *PgStore) ListFindings(ctx context.Context, sessionID string) ([]model.InspectionFinding, error) {
	return s.queryFindings(ctx,
		`SELECT `+findingColumns+` FROM inspection_findings WHERE session_id = $1 ORDER BY created_at ASC`,
		sessionID,
	)
}

func (s *PgStore) queryFindings(ctx context.Context, query string, args ...any) ([]model.InspectionFinding, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query findings: %w", err)
	}
	defer rows.Close()

	var result []model.InspectionFinding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

const partsColumns = `id, work_order_id, session_id, part_number, description,
	quantity, unit_cost, recorded_by, recorded_at`

// CreatePartsUsed records a consumed part.
func (s *PgStore) CreatePartsUsed(ctx context.Context, p model.PartsUsed) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO parts_used (`+partsColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.WorkOrderID, p.SessionID, p.PartNumber, p.Description,
		p.Quantity, p.UnitCost, p.RecordedBy, p.RecordedAt,
	)
	if err != nil {
		return writeError(err, "insert parts used", fmt.Sprintf("parts record %q already exists", p.ID))
	}
	return nil
}

// ListPartsUsed returns a work order's parts.
func (s *PgStore) ListPartsUsed(ctx context.Context, workOrderID string) ([]model.PartsUsed, error) {
	return s.queryParts(ctx,
		`SELECT `+partsColumns+` FROM parts_used WHERE work_order_id = $1 ORDER BY recorded_at ASC`,
		workOrderID,
	)
}

func (s *PgStore) queryParts(ctx context.Context, query string, args ...any) ([]model.PartsUsed, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query parts used: %w", err)
	}
	defer rows.Close()

	var result []model.PartsUsed
	for rows.Next() {
		var p model.PartsUsed
		if err := rows.Scan(
			&p.ID, &p.WorkOrderID, &p.SessionID, &p.PartNumber, &p.Description,
			&p.Quantity, &p.UnitCost, &p.RecordedBy, &p.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan parts used: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// CreateAIInteraction records an assistant exchange.
func (s *PgStore) CreateAIInteraction(ctx context.Context, i model.AIInteraction) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ai_interactions (
			id, function, session_id, step_id, prompt, response,
			helpful, feedback, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		i.ID, i.Function, i.SessionID, i.StepID, i.Prompt, i.Response,
		i.Helpful, i.Feedback, i.CreatedBy, i.CreatedAt,
	)
	if err != nil {
		return writeError(err, "insert ai interaction", fmt.Sprintf("ai interaction %q already exists", i.ID))
	}
	return nil
}

// GetAIInteraction retrieves an interaction by ID.
func (s *PgStore) GetAIInteraction(ctx context.Context, id string) (model.AIInteraction, error) {
	var i model.AIInteraction
	err := s.db.QueryRow(ctx, `
		SELECT id, function, session_id, step_id, prompt, response,
		       helpful, feedback, created_by, created_at
		FROM ai_interactions WHERE id = $1`, id,
	).Scan(
		&i.ID, &i.Function, &i.SessionID, &i.StepID, &i.Prompt, &i.Response,
		&i.Helpful, &i.Feedback, &i.CreatedBy, &i.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AIInteraction{}, model.NewNotFoundError(fmt.Sprintf("ai interaction %q not found", id))
	}
	if err != nil {
		return model.AIInteraction{}, fmt.Errorf("query ai interaction: %w", err)
	}
	return i, nil
}

// UpdateAIFeedback sets only the helpful flag and feedback text.
func (s *PgStore) UpdateAIFeedback(ctx context.Context, id string, helpful *bool, feedback string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE ai_interactions SET helpful = $1, feedback = $2 WHERE id = $3`,
		helpful, feedback, id,
	)
	if err != nil {
		return fmt.Errorf("update ai interaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("ai interaction %q not found", id))
	}
	return nil
}

// --- Equipment ---

const equipmentColumns = `id, tenant_id, serial_number, model_id, model_name,
	manufacturer, equipment_type, customer_id, created_at`

// CreateEquipment registers an equipment unit.
func (s *PgStore) CreateEquipment(ctx context.Context, e model.EquipmentUnit) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO equipment_units (`+equipmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.TenantID, e.SerialNumber, e.ModelID, e.ModelName,
		e.Manufacturer, e.Type, e.CustomerID, e.CreatedAt,
	)
	if err != nil {
		return writeError(err, "insert equipment unit",
			fmt.Sprintf("serial number %q already registered", e.SerialNumber))
	}
	return nil
}

// GetEquipment retrieves an equipment unit scoped to tenant.
func (s *PgStore) GetEquipment(ctx context.Context, tenantID, id string) (model.EquipmentUnit, error) {
	var e model.EquipmentUnit
	err := s.db.QueryRow(ctx,
		`SELECT `+equipmentColumns+` FROM equipment_units WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	).Scan(
		&e.ID, &e.TenantID, &e.SerialNumber, &e.ModelID, &e.ModelName,
		&e.Manufacturer, &e.Type, &e.CustomerID, &e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.EquipmentUnit{}, model.NewNotFoundError(fmt.Sprintf("equipment unit %q not found", id))
	}
	if err != nil {
		return model.EquipmentUnit{}, fmt.Errorf("query equipment unit: %w", err)
	}
	return e, nil
}

// CreateCustomer registers a customer.
func (s *PgStore) CreateCustomer(ctx context.Context, c model.Customer) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO customers (id, tenant_id, name, email, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.TenantID, c.Name, c.Email, c.Phone, c.CreatedAt,
	)
	if err != nil {
		return writeError(err, "insert customer", fmt.Sprintf("customer %q already exists", c.ID))
	}
	return nil
}

// GetCustomer retrieves a customer scoped to tenant.
func (s *PgStore) GetCustomer(ctx context.Context, tenantID, id string) (model.Customer, error) {
	var c model.Customer
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, name, email, phone, created_at FROM customers WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	).Scan(&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Customer{}, model.NewNotFoundError(fmt.Sprintf("customer %q not found", id))
	}
	if err != nil {
		return model.Customer{}, fmt.Errorf("query customer: %w", err)
	}
	return c, nil
}

// EquipmentHistory collects the maintenance records of a unit, or of every
// unit of a model when unitID is empty.
func (s *PgStore) EquipmentHistory(ctx context.Context, tenantID, unitID, modelID string) (model.EquipmentHistory, error) {
	unitFilter := `SELECT id FROM equipment_units WHERE tenant_id = $1 AND id = $2`
	key := unitID
	if unitID == "" {
		unitFilter = `SELECT id FROM equipment_units WHERE tenant_id = $1 AND model_id = $2`
		key = modelID
	}

	var hist model.EquipmentHistory
	rows, err := s.db.Query(ctx,
		`SELECT `+workOrderColumns+` FROM work_orders
		WHERE tenant_id = $1 AND equipment_unit_id IN (`+unitFilter+`)
		ORDER BY created_at DESC`,
		tenantID, key,
	)
	if err != nil {
		return hist, fmt.Errorf("query equipment work orders: %w", err)
	}
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			rows.Close()
			return hist, fmt.Errorf("scan work order: %w", err)
		}
		hist.WorkOrders = append(hist.WorkOrders, wo)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return hist, fmt.Errorf("query equipment work orders: %w", err)
	}

	woFilter := `SELECT id FROM work_orders WHERE tenant_id = $1 AND equipment_unit_id IN (` + unitFilter + `)`
	hist.Findings, err = s.queryFindings(ctx,
		`SELECT `+findingColumns+` FROM inspection_findings
		WHERE session_id IN (SELECT id FROM work_sessions WHERE work_order_id IN (`+woFilter+`))
		ORDER BY created_at DESC`,
		tenantID, key,
	)
	if err != nil {
		return hist, err
	}
	hist.Parts, err = s.queryParts(ctx,
		`SELECT `+partsColumns+` FROM parts_used WHERE work_order_id IN (`+woFilter+`) ORDER BY recorded_at DESC`,
		tenantID, key,
	)
	if err != nil {
		return hist, err
	}
	return hist, nil
}
