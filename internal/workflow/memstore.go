package workflow

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/fieldops/model"
)

// memData holds every table of the in-memory store. It is cloned on
// transaction entry and restored on rollback.
type memData struct {
	seq          int64
	workOrders   map[string]model.WorkOrder
	assignments  map[string]model.WorkOrderAssignment
	events       map[string][]model.WorkOrderEvent // key: work order ID
	sessions     map[string]model.WorkSession
	completions  map[string][]model.StepCompletion // key: session ID
	templates    map[string]model.ProcedureTemplate
	reports      map[string]model.PhaseReport
	approvals    map[string]model.WorkOrderApproval
	photos       map[string][]model.Photo             // key: session ID
	findings     map[string][]model.InspectionFinding // key: session ID
	parts        map[string][]model.PartsUsed         // key: work order ID
	interactions map[string]model.AIInteraction
	equipment    map[string]model.EquipmentUnit
	customers    map[string]model.Customer
}

func newMemData() memData {
	return memData{
		workOrders:   make(map[string]model.WorkOrder),
		assignments:  make(map[string]model.WorkOrderAssignment),
		events:       make(map[string][]model.WorkOrderEvent),
		sessions:     make(map[string]model.WorkSession),
		completions:  make(map[string][]model.StepCompletion),
		templates:    make(map[string]model.ProcedureTemplate),
		reports:      make(map[string]model.PhaseReport),
		approvals:    make(map[string]model.WorkOrderApproval),
		photos:       make(map[string][]model.Photo),
		findings:     make(map[string][]model.InspectionFinding),
		parts:        make(map[string][]model.PartsUsed),
		interactions: make(map[string]model.AIInteraction),
		equipment:    make(map[string]model.EquipmentUnit),
		customers:    make(map[string]model.Customer),
	}
}

// clone copies every map. Slice values are only ever appended to, so their
// backing arrays are shared.
func (d memData) clone() memData {
	return memData{
		seq:          d.seq,
		workOrders:   maps.Clone(d.workOrders),
		assignments:  maps.Clone(d.assignments),
		events:       maps.Clone(d.events),
		sessions:     maps.Clone(d.sessions),
		completions:  maps.Clone(d.completions),
		templates:    maps.Clone(d.templates),
		reports:      maps.Clone(d.reports),
		approvals:    maps.Clone(d.approvals),
		photos:       maps.Clone(d.photos),
		findings:     maps.Clone(d.findings),
		parts:        maps.Clone(d.parts),
		interactions: maps.Clone(d.interactions),
		equipment:    maps.Clone(d.equipment),
		customers:    maps.Clone(d.customers),
	}
}

type txKey struct{}

// MemoryStore is an in-memory Store for tests and local development.
// Transactions hold the write lock for their whole duration.
type MemoryStore struct {
	mu   sync.RWMutex
	data memData
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

func inTx(ctx context.Context) bool {
	return ctx.Value(txKey{}) != nil
}

func (s *MemoryStore) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) rlock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

// RunInTx executes fn with the store locked. On error every change made by
// fn is discarded.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if inTx(ctx) {
		return fn(ctx, s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(context.WithValue(ctx, txKey{}, true), s); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// --- Work orders ---

// NextWorkOrderNumber allocates the next sequence value.
func (s *MemoryStore) NextWorkOrderNumber(ctx context.Context) (int64, error) {
	defer s.lock(ctx)()
	s.data.seq++
	return s.data.seq, nil
}

// CreateWorkOrder persists a new work order.
func (s *MemoryStore) CreateWorkOrder(ctx context.Context, wo model.WorkOrder) error {
	defer s.lock(ctx)()
	if _, exists := s.data.workOrders[wo.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("work order %q already exists", wo.ID))
	}
	for _, existing := range s.data.workOrders {
		if existing.Number == wo.Number {
			return model.NewConflictError(fmt.Sprintf("work order number %q already exists", wo.Number))
		}
	}
	s.data.workOrders[wo.ID] = wo
	return nil
}

// GetWorkOrder retrieves a work order scoped to tenant.
func (s *MemoryStore) GetWorkOrder(ctx context.Context, tenantID, id string) (model.WorkOrder, error) {
	defer s.rlock(ctx)()
	wo, exists := s.data.workOrders[id]
	if !exists || wo.TenantID != tenantID {
		return model.WorkOrder{}, model.NewNotFoundError(fmt.Sprintf("work order %q not found", id))
	}
	return wo, nil
}

// UpdateWorkOrder persists wo with optimistic locking.
func (s *MemoryStore) UpdateWorkOrder(ctx context.Context, wo model.WorkOrder) error {
	defer s.lock(ctx)()
	existing, exists := s.data.workOrders[wo.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("work order %q not found", wo.ID))
	}
	if existing.Version != wo.Version {
		return model.NewConflictError(
			fmt.Sprintf("work order %q version conflict (expected %d, got %d)", wo.ID, wo.Version, existing.Version),
		)
	}
	wo.Version++
	wo.UpdatedAt = time.Now().UTC()
	s.data.workOrders[wo.ID] = wo
	return nil
}

// ListWorkOrders returns a tenant's work orders, newest first.
func (s *MemoryStore) ListWorkOrders(ctx context.Context, tenantID string, filters model.WorkOrderFilters) ([]model.WorkOrder, error) {
	defer s.rlock(ctx)()
	var result []model.WorkOrder
	for _, wo := range s.data.workOrders {
		if wo.TenantID != tenantID {
			continue
		}
		if filters.Status != "" && wo.Status != filters.Status {
			continue
		}
		if filters.Phase != "" && wo.CurrentPhase != filters.Phase {
			continue
		}
		if filters.TechnicianID != "" && wo.AssignedTechnicianID != filters.TechnicianID {
			continue
		}
		if filters.EquipmentUnitID != "" && wo.EquipmentUnitID != filters.EquipmentUnitID {
			continue
		}
		result = append(result, wo)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Number > result[j].Number
	})
	return paginate(result, filters.Page, filters.PageSize), nil
}

func paginate[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return nil
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// CreateAssignment persists a new assignment.
func (s *MemoryStore) CreateAssignment(ctx context.Context, a model.WorkOrderAssignment) error {
	defer s.lock(ctx)()
	if _, exists := s.data.assignments[a.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("assignment %q already exists", a.ID))
	}
	s.data.assignments[a.ID] = a
	return nil
}

// GetAssignment retrieves an assignment by ID.
func (s *MemoryStore) GetAssignment(ctx context.Context, id string) (model.WorkOrderAssignment, error) {
	defer s.rlock(ctx)()
	a, exists := s.data.assignments[id]
	if !exists {
		return model.WorkOrderAssignment{}, model.NewNotFoundError(fmt.Sprintf("assignment %q not found", id))
	}
	return a, nil
}

// UpdateAssignment replaces an assignment.
func (s *MemoryStore) UpdateAssignment(ctx context.Context, a model.WorkOrderAssignment) error {
	defer s.lock(ctx)()
	if _, exists := s.data.assignments[a.ID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("assignment %q not found", a.ID))
	}
	s.data.assignments[a.ID] = a
	return nil
}

// AppendEvent adds an event to the work order's audit trail.
func (s *MemoryStore) AppendEvent(ctx context.Context, event model.WorkOrderEvent) error {
	defer s.lock(ctx)()
	s.data.events[event.WorkOrderID] = append(s.data.events[event.WorkOrderID], event)
	return nil
}

// ListEvents returns the audit trail in insertion order.
func (s *MemoryStore) ListEvents(ctx context.Context, workOrderID string) ([]model.WorkOrderEvent, error) {
	defer s.rlock(ctx)()
	events := s.data.events[workOrderID]
	result := make([]model.WorkOrderEvent, len(events))
	copy(result, events)
	return result, nil
}

// --- Sessions ---

// CreateSession persists a new session.
func (s *MemoryStore) CreateSession(ctx context.Context, ws model.WorkSession) error {
	defer s.lock(ctx)()
	for _, existing := range s.data.sessions {
		if existing.WorkOrderID == ws.WorkOrderID && existing.Phase == ws.Phase &&
			existing.Status == model.SessionInProgress && ws.Status == model.SessionInProgress {
			return model.NewConflictError(
				fmt.Sprintf("work order %q already has an active session for phase %q", ws.WorkOrderID, ws.Phase),
			)
		}
	}
	s.data.sessions[ws.ID] = ws
	return nil
}

// GetSession retrieves a session by ID.
func (s *MemoryStore) GetSession(ctx context.Context, id string) (model.WorkSession, error) {
	defer s.rlock(ctx)()
	ws, exists := s.data.sessions[id]
	if !exists {
		return model.WorkSession{}, model.NewNotFoundError(fmt.Sprintf("session %q not found", id))
	}
	return ws, nil
}

// UpdateSession persists ws with optimistic locking.
func (s *MemoryStore) UpdateSession(ctx context.Context, ws model.WorkSession) error {
	defer s.lock(ctx)()
	existing, exists := s.data.sessions[ws.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("session %q not found", ws.ID))
	}
	if existing.Version != ws.Version {
		return model.NewConflictError(
			fmt.Sprintf("session %q version conflict (expected %d, got %d)", ws.ID, ws.Version, existing.Version),
		)
	}
	if ws.Status == model.SessionInProgress {
		for id, other := range s.data.sessions {
			if id != ws.ID && other.WorkOrderID == ws.WorkOrderID && other.Phase == ws.Phase &&
				other.Status == model.SessionInProgress {
				return model.NewConflictError(
					fmt.Sprintf("work order %q already has an active session for phase %q", ws.WorkOrderID, ws.Phase),
				)
			}
		}
	}
	ws.Version++
	ws.UpdatedAt = time.Now().UTC()
	s.data.sessions[ws.ID] = ws
	return nil
}

// ListSessions returns a work order's sessions, oldest first.
func (s *MemoryStore) ListSessions(ctx context.Context, workOrderID string) ([]model.WorkSession, error) {
	defer s.rlock(ctx)()
	var result []model.WorkSession
	for _, ws := range s.data.sessions {
		if ws.WorkOrderID == workOrderID {
			result = append(result, ws)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

// CreateCompletion records a step completion.
func (s *MemoryStore) CreateCompletion(ctx context.Context, c model.StepCompletion) error {
	defer s.lock(ctx)()
	for _, existing := range s.data.completions[c.SessionID] {
		if existing.StepID == c.StepID {
			return model.NewConflictError(
				fmt.Sprintf("step %q already completed in session %q", c.StepID, c.SessionID),
			)
		}
	}
	s.data.completions[c.SessionID] = append(s.data.completions[c.SessionID], c)
	return nil
}

// ListCompletions returns a session's completions in insertion order.
func (s *MemoryStore) ListCompletions(ctx context.Context, sessionID string) ([]model.StepCompletion, error) {
	defer s.rlock(ctx)()
	return append([]model.StepCompletion(nil), s.data.completions[sessionID]...), nil
}

// --- Procedures ---

// UpsertTemplate inserts or replaces a template.
func (s *MemoryStore) UpsertTemplate(ctx context.Context, t model.ProcedureTemplate) error {
	defer s.lock(ctx)()
	now := time.Now().UTC()
	if existing, ok := s.data.templates[t.ID]; ok {
		t.CreatedAt = existing.CreatedAt
	} else if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.data.templates[t.ID] = t
	return nil
}

// GetTemplate retrieves a template by ID.
func (s *MemoryStore) GetTemplate(ctx context.Context, id string) (model.ProcedureTemplate, error) {
	defer s.rlock(ctx)()
	t, exists := s.data.templates[id]
	if !exists {
		return model.ProcedureTemplate{}, model.NewNotFoundError(fmt.Sprintf("procedure template %q not found", id))
	}
	return t, nil
}

// ListTemplates returns matching templates ordered by name.
func (s *MemoryStore) ListTemplates(ctx context.Context, filters model.ProcedureFilters) ([]model.ProcedureTemplate, error) {
	defer s.rlock(ctx)()
	var result []model.ProcedureTemplate
	for _, t := range s.data.templates {
		if filters.Phase != "" && t.Phase != filters.Phase {
			continue
		}
		if filters.EquipmentType != "" && t.EquipmentType != "" && t.EquipmentType != filters.EquipmentType {
			continue
		}
		if filters.ActiveOnly && !t.Active {
			continue
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// SetTemplateActive toggles a template's active flag.
func (s *MemoryStore) SetTemplateActive(ctx context.Context, id string, active bool) error {
	defer s.lock(ctx)()
	t, exists := s.data.templates[id]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("procedure template %q not found", id))
	}
	t.Active = active
	t.UpdatedAt = time.Now().UTC()
	s.data.templates[id] = t
	return nil
}

// --- Reports ---

// CreateReport persists a new report.
func (s *MemoryStore) CreateReport(ctx context.Context, r model.PhaseReport) error {
	defer s.lock(ctx)()
	for _, existing := range s.data.reports {
		if existing.SessionID == r.SessionID {
			return model.NewConflictError(fmt.Sprintf("session %q already has a report", r.SessionID))
		}
	}
	s.data.reports[r.ID] = r
	return nil
}

// GetReport retrieves a report by ID.
func (s *MemoryStore) GetReport(ctx context.Context, id string) (model.PhaseReport, error) {
	defer s.rlock(ctx)()
	r, exists := s.data.reports[id]
	if !exists {
		return model.PhaseReport{}, model.NewNotFoundError(fmt.Sprintf("report %q not found", id))
	}
	return r, nil
}

// UpdateReport replaces a report.
func (s *MemoryStore) UpdateReport(ctx context.Context, r model.PhaseReport) error {
	defer s.lock(ctx)()
	if _, exists := s.data.reports[r.ID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("report %q not found", r.ID))
	}
	r.UpdatedAt = time.Now().UTC()
	s.data.reports[r.ID] = r
	return nil
}

// ListReports returns a work order's reports, oldest first.
func (s *MemoryStore) ListReports(ctx context.Context, workOrderID string) ([]model.PhaseReport, error) {
	defer s.rlock(ctx)()
	var result []model.PhaseReport
	for _, r := range s.data.reports {
		if r.WorkOrderID == workOrderID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SubmittedAt.Before(result[j].SubmittedAt)
	})
	return result, nil
}

// --- Approvals ---

// CreateApproval persists a new approval.
func (s *MemoryStore) CreateApproval(ctx context.Context, a model.WorkOrderApproval) error {
	defer s.lock(ctx)()
	for _, existing := range s.data.approvals {
		if existing.WorkOrderID == a.WorkOrderID && existing.Status == model.ApprovalPending {
			return model.NewConflictError(
				fmt.Sprintf("work order %q already has a pending approval", a.WorkOrderID),
			)
		}
	}
	s.data.approvals[a.ID] = a
	return nil
}

// GetApproval retrieves an approval by ID.
func (s *MemoryStore) GetApproval(ctx context.Context, id string) (model.WorkOrderApproval, error) {
	defer s.rlock(ctx)()
	a, exists := s.data.approvals[id]
	if !exists {
		return model.WorkOrderApproval{}, model.NewNotFoundError(fmt.Sprintf("approval %q not found", id))
	}
	return a, nil
}

// ResolveApproval persists a only while the stored approval is pending.
func (s *MemoryStore) ResolveApproval(ctx context.Context, a model.WorkOrderApproval) error {
	defer s.lock(ctx)()
	existing, exists := s.data.approvals[a.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("approval %q not found", a.ID))
	}
	if existing.Status != model.ApprovalPending {
		return model.NewConflictError(fmt.Sprintf("approval %q is %s, not pending", a.ID, existing.Status))
	}
	s.data.approvals[a.ID] = a
	return nil
}

// CancelPendingApprovals cancels every pending approval of a work order.
func (s *MemoryStore) CancelPendingApprovals(ctx context.Context, workOrderID string) (int, error) {
	defer s.lock(ctx)()
	n := 0
	for id, a := range s.data.approvals {
		if a.WorkOrderID == workOrderID && a.Status == model.ApprovalPending {
			a.Status = model.ApprovalCancelled
			s.data.approvals[id] = a
			n++
		}
	}
	return n, nil
}

// ListApprovals returns a tenant's approvals, newest first.
func (s *MemoryStore) ListApprovals(ctx context.Context, tenantID string, filters model.ApprovalFilters) ([]model.WorkOrderApproval, error) {
	defer s.rlock(ctx)()
	var result []model.WorkOrderApproval
	for _, a := range s.data.approvals {
		wo, ok := s.data.workOrders[a.WorkOrderID]
		if !ok || wo.TenantID != tenantID {
			continue
		}
		if filters.Status != "" && a.Status != filters.Status {
			continue
		}
		if filters.WorkOrderID != "" && a.WorkOrderID != filters.WorkOrderID {
			continue
		}
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].RequestedAt.After(result[j].RequestedAt)
	})
	return result, nil
}

// --- Records ---

// CreatePhoto records a photo.
func (s *MemoryStore) CreatePhoto(ctx context.Context, p model.Photo) error {
	defer s.lock(ctx)()
	s.data.photos[p.SessionID] = append(s.data.photos[p.SessionID], p)
	return nil
}

// ListPhotos returns a session's photos in capture order.
func (s *MemoryStore) ListPhotos(ctx context.Context, sessionID string) ([]model.Photo, error) {
	defer s.rlock(ctx)()
	return append([]model.Photo(nil), s.data.photos[sessionID]...), nil
}

// CreateFinding records an inspection finding.
func (s *MemoryStore) CreateFinding(ctx context.Context, f model.InspectionFinding) error {
	defer s.lock(ctx)()
	s.data.findings[f.SessionID] = append(s.data.findings[f.SessionID], f)
	return nil
}

// ListFindings returns a session's findings.
func (s *MemoryStore) ListFindings(ctx context.Context, sessionID string) ([]model.InspectionFinding, error) {
	defer s.rlock(ctx)()
	return append([]model.InspectionFinding(nil), s.data.findings[sessionID]...), nil
}

// CreatePartsUsed records a consumed part.
func (s *MemoryStore) CreatePartsUsed(ctx context.Context, p model.PartsUsed) error {
	defer s.lock(ctx)()
	s.data.parts[p.WorkOrderID] = append(s.data.parts[p.WorkOrderID], p)
	return nil
}

// ListPartsUsed returns a work order's parts.
func (s *MemoryStore) ListPartsUsed(ctx context.Context, workOrderID string) ([]model.PartsUsed, error) {
	defer s.rlock(ctx)()
	return append([]model.PartsUsed(nil), s.data.parts[workOrderID]...), nil
}

// CreateAIInteraction records an assistant exchange.
func (s *MemoryStore) CreateAIInteraction(ctx context.Context, i model.AIInteraction) error {
	defer s.lock(ctx)()
	s.data.interactions[i.ID] = i
	return nil
}

// GetAIInteraction retrieves an interaction by ID.
func (s *MemoryStore) GetAIInteraction(ctx context.Context, id string) (model.AIInteraction, error) {
	defer s.rlock(ctx)()
	i, exists := s.data.interactions[id]
	if !exists {
		return model.AIInteraction{}, model.NewNotFoundError(fmt.Sprintf("ai interaction %q not found", id))
	}
	return i, nil
}

// UpdateAIFeedback sets the helpful flag and feedback text.
func (s *MemoryStore) UpdateAIFeedback(ctx context.Context, id string, helpful *bool, feedback string) error {
	defer s.lock(ctx)()
	i, exists := s.data.interactions[id]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("ai interaction %q not found", id))
	}
	i.Helpful = helpful
	i.Feedback = feedback
	s.data.interactions[id] = i
	return nil
}

// --- Equipment ---

// CreateEquipment registers an equipment unit.
func (s *MemoryStore) CreateEquipment(ctx context.Context, e model.EquipmentUnit) error {
	defer s.lock(ctx)()
	for _, existing := range s.data.equipment {
		if existing.TenantID == e.TenantID && existing.SerialNumber == e.SerialNumber {
			return model.NewConflictError(fmt.Sprintf("serial number %q already registered", e.SerialNumber))
		}
	}
	s.data.equipment[e.ID] = e
	return nil
}

// GetEquipment retrieves an equipment unit scoped to tenant.
func (s *MemoryStore) GetEquipment(ctx context.Context, tenantID, id string) (model.EquipmentUnit, error) {
	defer s.rlock(ctx)()
	e, exists := s.data.equipment[id]
	if !exists || e.TenantID != tenantID {
		return model.EquipmentUnit{}, model.NewNotFoundError(fmt.Sprintf("equipment unit %q not found", id))
	}
	return e, nil
}

// CreateCustomer registers a customer.
func (s *MemoryStore) CreateCustomer(ctx context.Context, c model.Customer) error {
	defer s.lock(ctx)()
	s.data.customers[c.ID] = c
	return nil
}

// GetCustomer retrieves a customer scoped to tenant.
func (s *MemoryStore) GetCustomer(ctx context.Context, tenantID, id string) (model.Customer, error) {
	defer s.rlock(ctx)()
	c, exists := s.data.customers[id]
	if !exists || c.TenantID != tenantID {
		return model.Customer{}, model.NewNotFoundError(fmt.Sprintf("customer %q not found", id))
	}
	return c, nil
}

// EquipmentHistory collects the maintenance records of a unit or model.
func (s *MemoryStore) EquipmentHistory(ctx context.Context, tenantID, unitID, modelID string) (model.EquipmentHistory, error) {
	defer s.rlock(ctx)()
	units := make(map[string]bool)
	for _, e := range s.data.equipment {
		if e.TenantID != tenantID {
			continue
		}
		if (unitID != "" && e.ID == unitID) || (unitID == "" && modelID != "" && e.ModelID == modelID) {
			units[e.ID] = true
		}
	}

	var hist model.EquipmentHistory
	for _, wo := range s.data.workOrders {
		if wo.TenantID != tenantID || !units[wo.EquipmentUnitID] {
			continue
		}
		hist.WorkOrders = append(hist.WorkOrders, wo)
		hist.Parts = append(hist.Parts, s.data.parts[wo.ID]...)
		for _, ws := range s.data.sessions {
			if ws.WorkOrderID == wo.ID {
				hist.Findings = append(hist.Findings, s.data.findings[ws.ID]...)
			}
		}
	}
	sort.Slice(hist.WorkOrders, func(i, j int) bool {
		return hist.WorkOrders[i].CreatedAt.After(hist.WorkOrders[j].CreatedAt)
	})
	return hist, nil
}

// Len returns the number of stored work orders.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.workOrders)
}
