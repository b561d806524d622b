package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/fieldops/model"
)

// SQLSTATE codes the store translates into envelope errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
	db   querier
	inTx bool
}

var _ Store = (*PgStore)(nil)

// NewPgStore creates a new PostgreSQL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, db: pool}
}

// RunInTx executes fn inside a database transaction. Nested calls reuse the
// outer transaction.
func (s *PgStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PgStore{pool: s.pool, db: tx, inTx: true})
	})
}

// Ping checks database connectivity.
func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// writeError classifies a failed write. Unique violations become CONFLICT
// with the given message, foreign key violations become NOT_FOUND.
func writeError(err error, op, conflictMsg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return model.NewConflictError(conflictMsg)
		case pgForeignKeyViolation:
			return model.NewNotFoundError(fmt.Sprintf("%s: referenced record not found", op))
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return data, nil
}

// --- Work orders ---

const workOrderColumns = `id, tenant_id, number, equipment_unit_id, COALESCE(customer_id, ''),
	COALESCE(assigned_technician_id, ''), work_type, priority, status, current_phase,
	description, created_by, created_at, updated_at, completed_at, version`

func scanWorkOrder(row scanner) (model.WorkOrder, error) {
	var wo model.WorkOrder
	err := row.Scan(
		&wo.ID, &wo.TenantID, &wo.Number, &wo.EquipmentUnitID, &wo.CustomerID,
		&wo.AssignedTechnicianID, &wo.WorkType, &wo.Priority, &wo.Status, &wo.CurrentPhase,
		&wo.Description, &wo.CreatedBy, &wo.CreatedAt, &wo.UpdatedAt, &wo.CompletedAt, &wo.Version,
	)
	return wo, err
}

// NextWorkOrderNumber draws from the work_order_number_seq sequence.
func (s *PgStore) NextWorkOrderNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT nextval('work_order_number_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("next work order number: %w", err)
	}
	return n, nil
}

// CreateWorkOrder inserts a new work order.
func (s *PgStore) CreateWorkOrder(ctx context.Context, wo model.WorkOrder) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO work_orders (
			id, tenant_id, number, equipment_unit_id, customer_id,
			assigned_technician_id, work_type, priority, status, current_phase,
			description, created_by, created_at, updated_at, completed_at, version
		) VALUES (
			$1, $2, $3, $4, NULLIF($5, ''),
			NULLIF($6, ''), $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16
		)`,
		wo.ID, wo.TenantID, wo.Number, wo.EquipmentUnitID, wo.CustomerID,
		wo.AssignedTechnicianID, wo.WorkType, wo.Priority, wo.Status, wo.CurrentPhase,
		wo.Description, wo.CreatedBy, wo.CreatedAt, wo.UpdatedAt, wo.CompletedAt, wo.Version,
	)
	if err != nil {
		return writeError(err, "insert work order", fmt.Sprintf("work order %q already exists", wo.Number))
	}
	return nil
}

// GetWorkOrder retrieves a work order by ID, scoped to tenant.
func (s *PgStore) GetWorkOrder(ctx context.Context, tenantID, id string) (model.WorkOrder, error) {
	wo, err := scanWorkOrder(s.db.QueryRow(ctx,
		`SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkOrder{}, model.NewNotFoundError(fmt.Sprintf("work order %q not found", id))
	}
	if err != nil {
		return model.WorkOrder{}, fmt.Errorf("query work order: %w", err)
	}
	return wo, nil
}

// UpdateWorkOrder persists wo with optimistic locking.
func (s *PgStore) UpdateWorkOrder(ctx context.Context, wo model.WorkOrder) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE work_orders SET
			assigned_technician_id = NULLIF($1, ''),
			priority = $2,
			status = $3,
			current_phase = $4,
			description = $5,
			completed_at = $6,
			version = $7,
			updated_at = $8
		WHERE id = $9 AND version = $10`,
		wo.AssignedTechnicianID, wo.Priority, wo.Status, wo.CurrentPhase,
		wo.Description, wo.CompletedAt, wo.Version+1, time.Now().UTC(),
		wo.ID, wo.Version,
	)
	if err != nil {
		return fmt.Errorf("update work order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("work order %q version conflict (expected %d)", wo.ID, wo.Version),
		)
	}
	return nil
}

// ListWorkOrders returns a tenant's work orders, newest first.
func (s *PgStore) ListWorkOrders(ctx context.Context, tenantID string, filters model.WorkOrderFilters) ([]model.WorkOrder, error) {
	query := `SELECT ` + workOrderColumns + ` FROM work_orders WHERE tenant_id = $1`
	args := []any{tenantID}
	argIdx := 2

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}
	if filters.Phase != "" {
		query += fmt.Sprintf(" AND current_phase = $%d", argIdx)
		args = append(args, filters.Phase)
		argIdx++
	}
	if filters.TechnicianID != "" {
		query += fmt.Sprintf(" AND assigned_technician_id = $%d", argIdx)
		args = append(args, filters.TechnicianID)
		argIdx++
	}
	if filters.EquipmentUnitID != "" {
		query += fmt.Sprintf(" AND equipment_unit_id = $%d", argIdx)
		args = append(args, filters.EquipmentUnitID)
		argIdx++
	}

	query += " ORDER BY number DESC"

	if filters.PageSize > 0 {
		page := filters.Page
		if page < 1 {
			page = 1
		}
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
		args = append(args, filters.PageSize, (page-1)*filters.PageSize)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query work orders: %w", err)
	}
	defer rows.Close()

	var result []model.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work order: %w", err)
		}
		result = append(result, wo)
	}
	return result, rows.Err()
}

const assignmentColumns = `id, work_order_id, technician_id, phase, status,
	assigned_by, assigned_at, started_at, completed_at`

// CreateAssignment inserts a new assignment.
func (s *PgStore) CreateAssignment(ctx context.Context, a model.WorkOrderAssignment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO work_order_assignments (`+assignmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.WorkOrderID, a.TechnicianID, a.Phase, a.Status,
		a.AssignedBy, a.AssignedAt, a.StartedAt, a.CompletedAt,
	)
	if err != nil {
		return writeError(err, "insert assignment", fmt.Sprintf("assignment %q already exists", a.ID))
	}
	return nil
}

// GetAssignment retrieves an assignment by ID.
func (s *PgStore) GetAssignment(ctx context.Context, id string) (model.WorkOrderAssignment, error) {
	var a model.WorkOrderAssignment
	err := s.db.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM work_order_assignments WHERE id = $1`, id,
	).Scan(
		&a.ID, &a.WorkOrderID, &a.TechnicianID, &a.Phase, &a.Status,
		&a.AssignedBy, &a.AssignedAt, &a.StartedAt, &a.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkOrderAssignment{}, model.NewNotFoundError(fmt.Sprintf("assignment %q not found", id))
	}
	if err != nil {
		return model.WorkOrderAssignment{}, fmt.Errorf("query assignment: %w", err)
	}
	return a, nil
}

// UpdateAssignment persists the mutable assignment fields.
func (s *PgStore) UpdateAssignment(ctx context.Context, a model.WorkOrderAssignment) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE work_order_assignments SET status = $1, started_at = $2, completed_at = $3
		WHERE id = $4`,
		a.Status, a.StartedAt, a.CompletedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("assignment %q not found", a.ID))
	}
	return nil
}

// AppendEvent adds an event to the work order audit trail.
func (s *PgStore) AppendEvent(ctx context.Context, event model.WorkOrderEvent) error {
	dataJSON, err := marshalJSON(event.Data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO work_order_events (
			id, work_order_id, event, actor_id, phase, data, comment, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.WorkOrderID, event.Event, event.ActorID,
		event.Phase, dataJSON, event.Comment, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert work order event: %w", err)
	}
	return nil
}

// ListEvents returns the audit trail in chronological order.
func (s *PgStore) ListEvents(ctx context.Context, workOrderID string) ([]model.WorkOrderEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, work_order_id, event, actor_id, phase, data, comment, created_at
		FROM work_order_events
		WHERE work_order_id = $1
		ORDER BY created_at ASC, id ASC`,
		workOrderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query work order events: %w", err)
	}
	defer rows.Close()

	var events []model.WorkOrderEvent
	for rows.Next() {
		var evt model.WorkOrderEvent
		var dataJSON []byte
		if err := rows.Scan(
			&evt.ID, &evt.WorkOrderID, &evt.Event, &evt.ActorID,
			&evt.Phase, &dataJSON, &evt.Comment, &evt.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan work order event: %w", err)
		}
		if dataJSON != nil {
			_ = json.Unmarshal(dataJSON, &evt.Data)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// --- Sessions ---

const sessionColumns = `id, work_order_id, assignment_id, phase, procedure_template_id,
	technician_id, status, progress_percentage, current_step_id,
	started_at, completed_at, updated_at, version, procedure_snapshot`

func scanSession(row scanner) (model.WorkSession, error) {
	var (
		ws       model.WorkSession
		snapshot []byte
	)
	err := row.Scan(
		&ws.ID, &ws.WorkOrderID, &ws.AssignmentID, &ws.Phase, &ws.ProcedureTemplateID,
		&ws.TechnicianID, &ws.Status, &ws.ProgressPercentage, &ws.CurrentStepID,
		&ws.StartedAt, &ws.CompletedAt, &ws.UpdatedAt, &ws.Version, &snapshot,
	)
	if err != nil || len(snapshot) == 0 {
		return ws, err
	}
	if err := json.Unmarshal(snapshot, &ws.Procedure); err != nil {
		return ws, fmt.Errorf("unmarshal procedure snapshot: %w", err)
	}
	return ws, nil
}

// CreateSession inserts a new session. The partial unique index on
// (work_order_id, phase) WHERE status = 'in_progress' rejects a second active
// session.
func (s *PgStore) CreateSession(ctx context.Context, ws model.WorkSession) error {
	snapshot, err := marshalJSON(ws.Procedure)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO work_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		ws.ID, ws.WorkOrderID, ws.AssignmentID, ws.Phase, ws.ProcedureTemplateID,
		ws.TechnicianID, ws.Status, ws.ProgressPercentage, ws.CurrentStepID,
		ws.StartedAt, ws.CompletedAt, ws.UpdatedAt, ws.Version, snapshot,
	)
	if err != nil {
		return writeError(err, "insert session",
			fmt.Sprintf("work order %q already has an active session for phase %q", ws.WorkOrderID, ws.Phase))
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *PgStore) GetSession(ctx context.Context, id string) (model.WorkSession, error) {
	ws, err := scanSession(s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM work_sessions WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkSession{}, model.NewNotFoundError(fmt.Sprintf("session %q not found", id))
	}
	if err != nil {
		return model.WorkSession{}, fmt.Errorf("query session: %w", err)
	}
	return ws, nil
}

// UpdateSession persists ws with optimistic locking.
func (s *PgStore) UpdateSession(ctx context.Context, ws model.WorkSession) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE work_sessions SET
			status = $1,
			progress_percentage = $2,
			current_step_id = $3,
			completed_at = $4,
			version = $5,
			updated_at = $6
		WHERE id = $7 AND version = $8`,
		ws.Status, ws.ProgressPercentage, ws.CurrentStepID, ws.CompletedAt,
		ws.Version+1, time.Now().UTC(),
		ws.ID, ws.Version,
	)
	if err != nil {
		return writeError(err, "update session",
			fmt.Sprintf("work order %q already has an active session for phase %q", ws.WorkOrderID, ws.Phase))
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("session %q version conflict (expected %d)", ws.ID, ws.Version),
		)
	}
	return nil
}

// ListSessions returns a work order's sessions, oldest first.
func (s *PgStore) ListSessions(ctx context.Context, workOrderID string) ([]model.WorkSession, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM work_sessions WHERE work_order_id = $1 ORDER BY started_at ASC`,
		workOrderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var result []model.WorkSession
	for rows.Next() {
		ws, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, ws)
	}
	return result, rows.Err()
}

// CreateCompletion records a step completion. The unique index on
// (session_id, step_id) rejects duplicates.
func (s *PgStore) CreateCompletion(ctx context.Context, c model.StepCompletion) error {
	measurementsJSON, err := marshalJSON(c.Measurements)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO step_completions (
			id, session_id, step_id, result, measurements, observations, completed_by, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.SessionID, c.StepID, c.Result, measurementsJSON,
		c.Observations, c.CompletedBy, c.CompletedAt,
	)
	if err != nil {
		return writeError(err, "insert step completion",
			fmt.Sprintf("step %q already completed in session %q", c.StepID, c.SessionID))
	}
	return nil
}

// ListCompletions returns a session's completions in completion order.
func (s *PgStore) ListCompletions(ctx context.Context, sessionID string) ([]model.StepCompletion, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, step_id, result, measurements, observations, completed_by, completed_at
		FROM step_completions
		WHERE session_id = $1
		ORDER BY completed_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query step completions: %w", err)
	}
	defer rows.Close()

	var result []model.StepCompletion
	for rows.Next() {
		var c model.StepCompletion
		var measurementsJSON []byte
		if err := rows.Scan(
			&c.ID, &c.SessionID, &c.StepID, &c.Result, &measurementsJSON,
			&c.Observations, &c.CompletedBy, &c.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step completion: %w", err)
		}
		if measurementsJSON != nil {
			if err := json.Unmarshal(measurementsJSON, &c.Measurements); err != nil {
				return nil, fmt.Errorf("unmarshal measurements: %w", err)
			}
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// --- Procedures ---

const templateColumns = `id, name, version, equipment_type, phase, description,
	active, steps, checksum, created_at, updated_at`

func scanTemplate(row scanner) (model.ProcedureTemplate, error) {
	var t model.ProcedureTemplate
	var stepsJSON []byte
	if err := row.Scan(
		&t.ID, &t.Name, &t.Version, &t.EquipmentType, &t.Phase, &t.Description,
		&t.Active, &stepsJSON, &t.Checksum, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return t, err
	}
	if err := json.Unmarshal(stepsJSON, &t.Steps); err != nil {
		return t, fmt.Errorf("unmarshal steps: %w", err)
	}
	return t, nil
}

// UpsertTemplate inserts or replaces a template by ID.
func (s *PgStore) UpsertTemplate(ctx context.Context, t model.ProcedureTemplate) error {
	stepsJSON, err := marshalJSON(t.Steps)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.db.Exec(ctx, `
		INSERT INTO procedure_templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			version = EXCLUDED.version,
			equipment_type = EXCLUDED.equipment_type,
			phase = EXCLUDED.phase,
			description = EXCLUDED.description,
			active = EXCLUDED.active,
			steps = EXCLUDED.steps,
			checksum = EXCLUDED.checksum,
			updated_at = EXCLUDED.updated_at`,
		t.ID, t.Name, t.Version, t.EquipmentType, t.Phase, t.Description,
		t.Active, stepsJSON, t.Checksum, now,
	)
	if err != nil {
		return fmt.Errorf("upsert procedure template: %w", err)
	}
	return nil
}

// GetTemplate retrieves a template by ID.
func (s *PgStore) GetTemplate(ctx context.Context, id string) (model.ProcedureTemplate, error) {
	t, err := scanTemplate(s.db.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM procedure_templates WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ProcedureTemplate{}, model.NewNotFoundError(fmt.Sprintf("procedure template %q not found", id))
	}
	if err != nil {
		return model.ProcedureTemplate{}, fmt.Errorf("query procedure template: %w", err)
	}
	return t, nil
}

// ListTemplates returns matching templates ordered by name. Templates without
// an equipment type match every equipment type.
func (s *PgStore) ListTemplates(ctx context.Context, filters model.ProcedureFilters) ([]model.ProcedureTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM procedure_templates WHERE TRUE`
	var args []any
	argIdx := 1

	if filters.Phase != "" {
		query += fmt.Sprintf(" AND phase = $%d", argIdx)
		args = append(args, filters.Phase)
		argIdx++
	}
	if filters.EquipmentType != "" {
		query += fmt.Sprintf(" AND (equipment_type = '' OR equipment_type = $%d)", argIdx)
		args = append(args, filters.EquipmentType)
	}
	if filters.ActiveOnly {
		query += " AND active"
	}
	query += " ORDER BY name ASC, id ASC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query procedure templates: %w", err)
	}
	defer rows.Close()

	var result []model.ProcedureTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan procedure template: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// SetTemplateActive toggles a template's active flag.
func (s *PgStore) SetTemplateActive(ctx context.Context, id string, active bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE procedure_templates SET active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update procedure template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("procedure template %q not found", id))
	}
	return nil
}
