package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/pitabwire/fieldops/model"
)

// --- Test helpers ---

const testTenant = "tenant-1"

func techRctx() *model.RequestContext {
	return &model.RequestContext{
		SubjectID: "user-tech",
		TenantID:  testTenant,
		Roles:     []string{model.RoleTechnician},
	}
}

func managerRctx() *model.RequestContext {
	return &model.RequestContext{
		SubjectID: "user-manager",
		TenantID:  testTenant,
		Roles:     []string{model.RoleManager},
	}
}

// roleCapResolver grants everything to managers and only field work to
// technicians.
type roleCapResolver struct{}

func (roleCapResolver) Resolve(rctx *model.RequestContext) (model.CapabilitySet, error) {
	if rctx.HasRole(model.RoleManager) {
		return model.CapabilitySet{"*": true}, nil
	}
	return model.CapabilitySet{
		model.CapSessionsExecute:  true,
		model.CapApprovalsRequest: true,
		model.CapWorkOrdersView:   true,
	}, nil
}

type fakeBlobStore struct {
	objects map[string][]byte
	failPut bool
}

func (f *fakeBlobStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if f.failPut {
		return fmt.Errorf("bucket unreachable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeBlobStore) Ping(context.Context) error { return nil }

// testClock returns strictly increasing timestamps.
func testClock() func() time.Time {
	t := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func twoStepTemplate(id string, phase model.Phase) model.ProcedureTemplate {
	return model.ProcedureTemplate{
		ID:     id,
		Name:   "Procedure " + id,
		Phase:  phase,
		Active: true,
		Steps: []model.ProcedureStep{
			{ID: "b", StepNumber: 2, Title: "Reassemble", StepType: model.StepTypeAction},
			{ID: "a", StepNumber: 1, Title: "Measure", StepType: model.StepTypeMeasurement, RequiredMeasurements: []string{"reading"}},
		},
	}
}

type testEnv struct {
	engine *Engine
	store  *MemoryStore
	blobs  *fakeBlobStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := NewMemoryStore()
	blobs := &fakeBlobStore{objects: make(map[string][]byte)}
	ctx := context.Background()

	if err := store.CreateEquipment(ctx, model.EquipmentUnit{
		ID: "unit-1", TenantID: testTenant, SerialNumber: "SN-1", ModelID: "model-1", Type: "pump",
	}); err != nil {
		t.Fatal(err)
	}
	for _, phase := range []model.Phase{
		model.PhaseInitialTesting, model.PhaseTeardown, model.PhaseRepairScope,
		model.PhaseRebuild, model.PhaseFinalTesting, model.PhaseInspection,
	} {
		if err := store.UpsertTemplate(ctx, twoStepTemplate(string(phase)+"-proc", phase)); err != nil {
			t.Fatal(err)
		}
	}

	e := NewEngine(store, roleCapResolver{}, WithClock(testClock()), WithBlobStore(blobs))
	return &testEnv{engine: e, store: store, blobs: blobs}
}

func (env *testEnv) createWorkOrder(t *testing.T, workType string) model.WorkOrder {
	t.Helper()
	wo, err := env.engine.CreateWorkOrder(context.Background(), managerRctx(), CreateWorkOrderInput{
		EquipmentUnitID: "unit-1",
		WorkType:        workType,
	})
	if err != nil {
		t.Fatalf("CreateWorkOrder error: %v", err)
	}
	return wo
}

// startSession assigns the technician to the current phase and starts a
// session.
func (env *testEnv) startSession(t *testing.T, woID string) model.WorkSession {
	t.Helper()
	ctx := context.Background()
	a, err := env.engine.AssignTechnician(ctx, managerRctx(), woID, "user-tech", "")
	if err != nil {
		t.Fatalf("AssignTechnician error: %v", err)
	}
	ws, err := env.engine.StartSession(ctx, techRctx(), StartSessionInput{
		WorkOrderID:  woID,
		AssignmentID: a.ID,
		Phase:        a.Phase,
	})
	if err != nil {
		t.Fatalf("StartSession error: %v", err)
	}
	return ws
}

func (env *testEnv) completeAll(t *testing.T, sessionID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := env.engine.CompleteStep(ctx, techRctx(), sessionID, "a", CompleteStepInput{
		Result: model.ResultPass, Measurements: map[string]any{"reading": 4.2},
	}); err != nil {
		t.Fatalf("CompleteStep(a) error: %v", err)
	}
	if _, err := env.engine.CompleteStep(ctx, techRctx(), sessionID, "b", CompleteStepInput{
		Result: model.ResultPass,
	}); err != nil {
		t.Fatalf("CompleteStep(b) error: %v", err)
	}
}

// runPhase executes the work order's current phase end to end.
func (env *testEnv) runPhase(t *testing.T, woID string) SubmitResult {
	t.Helper()
	ws := env.startSession(t, woID)
	env.completeAll(t, ws.ID)
	res, err := env.engine.SubmitReport(context.Background(), techRctx(), ws.ID, SubmitReportInput{})
	if err != nil {
		t.Fatalf("SubmitReport error: %v", err)
	}
	return res
}

// toRepairScope drives a repair work order to a submitted repair_scope
// report awaiting approval.
func (env *testEnv) toRepairScope(t *testing.T) (model.WorkOrder, SubmitResult) {
	t.Helper()
	wo := env.createWorkOrder(t, "repair")
	env.runPhase(t, wo.ID) // initial_testing
	env.runPhase(t, wo.ID) // teardown
	res := env.runPhase(t, wo.ID)
	return res.WorkOrder, res
}

// --- Work orders ---

func TestEngine_CreateWorkOrder(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")

	if wo.Number != "WO-000001" {
		t.Errorf("Number = %q, want WO-000001", wo.Number)
	}
	if wo.CurrentPhase != model.PhasePendingAssignment {
		t.Errorf("CurrentPhase = %s, want pending_assignment", wo.CurrentPhase)
	}
	if wo.Status != model.StatusPending {
		t.Errorf("Status = %s, want pending", wo.Status)
	}
	if wo.Priority != model.PriorityMedium {
		t.Errorf("Priority = %s, want medium", wo.Priority)
	}

	events, _ := env.engine.History(context.Background(), managerRctx(), wo.ID)
	if len(events) != 1 || events[0].Event != model.EventCreated {
		t.Errorf("events = %v, want [created]", events)
	}
}

func TestEngine_CreateWorkOrder_entryPhaseByWorkType(t *testing.T) {
	env := newTestEnv(t)
	if wo := env.createWorkOrder(t, model.WorkTypeInspection); wo.CurrentPhase != model.PhaseInspection {
		t.Errorf("inspection entry phase = %s", wo.CurrentPhase)
	}
	if wo := env.createWorkOrder(t, model.WorkTypeQC); wo.CurrentPhase != model.PhaseQCReview {
		t.Errorf("qc entry phase = %s", wo.CurrentPhase)
	}
}

func TestEngine_CreateWorkOrder_validation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.CreateWorkOrder(context.Background(), managerRctx(), CreateWorkOrderInput{Priority: "urgent"})
	assertCode(t, err, model.ErrValidationError)
	if len(err.(*model.ErrorEnvelope).Details) != 3 {
		t.Errorf("details = %v, want 3", err.(*model.ErrorEnvelope).Details)
	}

	_, err = env.engine.CreateWorkOrder(context.Background(), managerRctx(), CreateWorkOrderInput{
		EquipmentUnitID: "missing", WorkType: "repair",
	})
	assertCode(t, err, model.ErrNotFound)
}

func TestEngine_AssignTechnician_leavesPendingAssignment(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")

	a, err := env.engine.AssignTechnician(context.Background(), managerRctx(), wo.ID, "user-tech", "")
	if err != nil {
		t.Fatalf("AssignTechnician error: %v", err)
	}
	if a.Phase != model.PhaseInitialTesting {
		t.Errorf("assignment phase = %s, want initial_testing", a.Phase)
	}
	got, _ := env.engine.GetWorkOrder(context.Background(), managerRctx(), wo.ID)
	if got.CurrentPhase != model.PhaseInitialTesting {
		t.Errorf("CurrentPhase = %s, want initial_testing", got.CurrentPhase)
	}
	if got.Status != model.StatusPending {
		t.Errorf("Status = %s, want pending until work starts", got.Status)
	}
	if got.AssignedTechnicianID != "user-tech" {
		t.Errorf("AssignedTechnicianID = %q", got.AssignedTechnicianID)
	}
}

func TestEngine_UpdateStatus(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	ctx := context.Background()

	got, err := env.engine.UpdateStatus(ctx, managerRctx(), wo.ID, model.StatusOnHold, "waiting on customer")
	if err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}
	if got.Status != model.StatusOnHold {
		t.Errorf("Status = %s, want on_hold", got.Status)
	}

	_, err = env.engine.UpdateStatus(ctx, managerRctx(), wo.ID, model.StatusCompleted, "")
	assertCode(t, err, model.ErrInvalidTransition)

	_, err = env.engine.UpdateStatus(ctx, managerRctx(), wo.ID, "bogus", "")
	assertCode(t, err, model.ErrValidationError)
}

func TestEngine_ListWorkOrders_tenantScoped(t *testing.T) {
	env := newTestEnv(t)
	env.createWorkOrder(t, "repair")
	env.createWorkOrder(t, "repair")

	got, err := env.engine.ListWorkOrders(context.Background(), managerRctx(), model.WorkOrderFilters{})
	if err != nil {
		t.Fatalf("ListWorkOrders error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}

	other := &model.RequestContext{SubjectID: "x", TenantID: "tenant-2"}
	got, _ = env.engine.ListWorkOrders(context.Background(), other, model.WorkOrderFilters{})
	if len(got) != 0 {
		t.Errorf("other tenant sees %d work orders", len(got))
	}
}

// --- Sessions and steps ---

func TestEngine_StartSession(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	ws := env.startSession(t, wo.ID)

	if ws.Status != model.SessionInProgress {
		t.Errorf("Status = %s, want in_progress", ws.Status)
	}
	if ws.ProcedureTemplateID != "initial_testing-proc" {
		t.Errorf("ProcedureTemplateID = %q", ws.ProcedureTemplateID)
	}
	if ws.CurrentStepID == nil || *ws.CurrentStepID != "a" {
		t.Errorf("CurrentStepID = %v, want a", ws.CurrentStepID)
	}
	got, _ := env.engine.GetWorkOrder(context.Background(), managerRctx(), wo.ID)
	if got.Status != model.StatusInProgress {
		t.Errorf("work order Status = %s, want in_progress", got.Status)
	}
}

func TestEngine_StartSession_wrongPhase(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	a, _ := env.engine.AssignTechnician(context.Background(), managerRctx(), wo.ID, "user-tech", "")

	_, err := env.engine.StartSession(context.Background(), techRctx(), StartSessionInput{
		WorkOrderID: wo.ID, AssignmentID: a.ID, Phase: model.PhaseTeardown,
	})
	assertCode(t, err, model.ErrInvalidTransition)
}

func TestEngine_StartSession_otherTechnicianForbidden(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	a, _ := env.engine.AssignTechnician(context.Background(), managerRctx(), wo.ID, "user-tech", "")

	intruder := &model.RequestContext{SubjectID: "user-other", TenantID: testTenant, Roles: []string{model.RoleTechnician}}
	_, err := env.engine.StartSession(context.Background(), intruder, StartSessionInput{
		WorkOrderID: wo.ID, AssignmentID: a.ID, Phase: a.Phase,
	})
	assertCode(t, err, model.ErrForbidden)
}

func TestEngine_StartSession_duplicateActive(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	ws := env.startSession(t, wo.ID)

	_, err := env.engine.StartSession(context.Background(), techRctx(), StartSessionInput{
		WorkOrderID: wo.ID, AssignmentID: ws.AssignmentID, Phase: ws.Phase,
	})
	assertCode(t, err, model.ErrConflict)
}

func TestEngine_StartSession_noProcedure(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	_ = env.store.SetTemplateActive(context.Background(), "initial_testing-proc", false)
	a, _ := env.engine.AssignTechnician(context.Background(), managerRctx(), wo.ID, "user-tech", "")

	_, err := env.engine.StartSession(context.Background(), techRctx(), StartSessionInput{
		WorkOrderID: wo.ID, AssignmentID: a.ID, Phase: a.Phase,
	})
	assertCode(t, err, model.ErrNoProcedure)

	// The failed start must not leave the assignment in progress.
	got, _ := env.store.GetAssignment(context.Background(), a.ID)
	if got.Status != model.AssignmentAssigned {
		t.Errorf("assignment Status = %s, want assigned", got.Status)
	}
}

func TestEngine_StartSession_ambiguousProcedure(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	alt := twoStepTemplate("initial_testing-pump", model.PhaseInitialTesting)
	alt.EquipmentType = "pump"
	_ = env.store.UpsertTemplate(context.Background(), alt)
	a, _ := env.engine.AssignTechnician(context.Background(), managerRctx(), wo.ID, "user-tech", "")

	in := StartSessionInput{WorkOrderID: wo.ID, AssignmentID: a.ID, Phase: a.Phase}
	_, err := env.engine.StartSession(context.Background(), techRctx(), in)
	assertCode(t, err, model.ErrAmbiguousProcedure)
	if n := len(err.(*model.ErrorEnvelope).Details); n != 2 {
		t.Errorf("candidates = %d, want 2", n)
	}

	in.ProcedureTemplateID = "initial_testing-pump"
	ws, err := env.engine.StartSession(context.Background(), techRctx(), in)
	if err != nil {
		t.Fatalf("StartSession with explicit procedure error: %v", err)
	}
	if ws.ProcedureTemplateID != "initial_testing-pump" {
		t.Errorf("ProcedureTemplateID = %q", ws.ProcedureTemplateID)
	}
}

func TestEngine_CompleteStep_progressIncreases(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tmpl := model.ProcedureTemplate{
		ID: "three", Name: "Three", Phase: model.PhaseInitialTesting, Active: true,
		Steps: []model.ProcedureStep{
			{ID: "s1", StepNumber: 1, Title: "One", StepType: model.StepTypeAction},
			{ID: "s2", StepNumber: 2, Title: "Two", StepType: model.StepTypeAction},
			{ID: "s3", StepNumber: 3, Title: "Three", StepType: model.StepTypeAction},
		},
	}
	_ = env.store.SetTemplateActive(ctx, "initial_testing-proc", false)
	_ = env.store.UpsertTemplate(ctx, tmpl)
	wo := env.createWorkOrder(t, "repair")
	ws := env.startSession(t, wo.ID)

	want := []struct {
		step     string
		progress int
		next     string
	}{
		{"s1", 33, "s2"},
		{"s2", 66, "s3"},
		{"s3", 100, ""},
	}
	last := 0
	for _, w := range want {
		p, err := env.engine.CompleteStep(ctx, techRctx(), ws.ID, w.step, CompleteStepInput{Result: model.ResultPass})
		if err != nil {
			t.Fatalf("CompleteStep(%s) error: %v", w.step, err)
		}
		if p.ProgressPercentage != w.progress {
			t.Errorf("progress after %s = %d, want %d", w.step, p.ProgressPercentage, w.progress)
		}
		if p.ProgressPercentage <= last {
			t.Errorf("progress did not increase: %d -> %d", last, p.ProgressPercentage)
		}
		last = p.ProgressPercentage
		if w.next == "" {
			if p.CurrentStepID != nil || !p.AllComplete {
				t.Errorf("after last step CurrentStepID = %v, AllComplete = %v", p.CurrentStepID, p.AllComplete)
			}
		} else if p.CurrentStepID == nil || *p.CurrentStepID != w.next {
			t.Errorf("CurrentStepID after %s = %v, want %s", w.step, p.CurrentStepID, w.next)
		}
	}
}

func TestEngine_CompleteStep_duplicate(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	ws := env.startSession(t, wo.ID)
	in := CompleteStepInput{Result: model.ResultPass}

	if _, err := env.engine.CompleteStep(context.Background(), techRctx(), ws.ID, "b", in); err != nil {
		t.Fatal(err)
	}
	_, err := env.engine.CompleteStep(context.Background(), techRctx(), ws.ID, "b", in)
	assertCode(t, err, model.ErrConflict)
}

func TestEngine_CompleteStep_missingMeasurement(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	ws := env.startSession(t, wo.ID)

	_, err := env.engine.CompleteStep(context.Background(), techRctx(), ws.ID, "a", CompleteStepInput{Result: model.ResultPass})
	assertCode(t, err, model.ErrValidationError)
	if d := err.(*model.ErrorEnvelope).Details; len(d) != 1 || d[0].Field != "measurements.reading" {
		t.Errorf("details = %v", d)
	}
}

func TestEngine_CompleteStep_notApplicable(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	ws := env.startSession(t, wo.ID)

	// na skips the measurement requirement.
	if _, err := env.engine.CompleteStep(context.Background(), techRctx(), ws.ID, "a", CompleteStepInput{
		Result: model.ResultNA, Observations: "ignored",
	}); err != nil {
		t.Fatalf("CompleteStep error: %v", err)
	}
	completions, _ := env.store.ListCompletions(context.Background(), ws.ID)
	if len(completions) != 1 {
		t.Fatalf("completions = %d, want 1", len(completions))
	}
	if completions[0].Result != model.ResultPass {
		t.Errorf("Result = %s, want pass", completions[0].Result)
	}
	if completions[0].Observations != model.NotApplicableObservation {
		t.Errorf("Observations = %q, want %q", completions[0].Observations, model.NotApplicableObservation)
	}
}

func TestEngine_CompleteStep_unknownStepAndResult(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	ws := env.startSession(t, wo.ID)

	_, err := env.engine.CompleteStep(context.Background(), techRctx(), ws.ID, "zzz", CompleteStepInput{Result: model.ResultPass})
	assertCode(t, err, model.ErrNotFound)

	_, err = env.engine.CompleteStep(context.Background(), techRctx(), ws.ID, "b", CompleteStepInput{Result: "maybe"})
	assertCode(t, err, model.ErrValidationError)
}

func TestEngine_PauseResume(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	ws := env.startSession(t, wo.ID)
	ctx := context.Background()

	paused, err := env.engine.PauseSession(ctx, techRctx(), ws.ID)
	if err != nil {
		t.Fatalf("PauseSession error: %v", err)
	}
	if paused.Status != model.SessionPaused {
		t.Errorf("Status = %s, want paused", paused.Status)
	}

	_, err = env.engine.CompleteStep(ctx, techRctx(), ws.ID, "b", CompleteStepInput{Result: model.ResultPass})
	assertCode(t, err, model.ErrInvalidTransition)

	_, err = env.engine.PauseSession(ctx, techRctx(), ws.ID)
	assertCode(t, err, model.ErrInvalidTransition)

	resumed, err := env.engine.ResumeSession(ctx, techRctx(), ws.ID)
	if err != nil {
		t.Fatalf("ResumeSession error: %v", err)
	}
	if resumed.Status != model.SessionInProgress {
		t.Errorf("Status = %s, want in_progress", resumed.Status)
	}
}

// --- Reports ---

func TestEngine_SubmitReport_advancesWithoutApproval(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	res := env.runPhase(t, wo.ID)

	if res.Approval != nil {
		t.Error("initial_testing should not require approval")
	}
	if res.Report.Status != model.ReportSubmitted {
		t.Errorf("report Status = %s, want submitted", res.Report.Status)
	}
	if res.WorkOrder.CurrentPhase != model.PhaseTeardown {
		t.Errorf("CurrentPhase = %s, want teardown", res.WorkOrder.CurrentPhase)
	}
	if res.Report.Data.TotalSteps != 2 || res.Report.Data.CompletedSteps != 2 {
		t.Errorf("payload steps = %d/%d", res.Report.Data.CompletedSteps, res.Report.Data.TotalSteps)
	}
	if res.Report.Data.Steps[0].StepID != "a" {
		t.Errorf("report steps not in step order: %v", res.Report.Data.Steps)
	}

	ws, _ := env.engine.GetSession(context.Background(), techRctx(), res.Report.SessionID)
	if ws.Status != model.SessionCompleted || ws.ProgressPercentage != 100 {
		t.Errorf("session = %s %d%%, want completed 100%%", ws.Status, ws.ProgressPercentage)
	}
}

func TestEngine_SubmitReport_incomplete(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	ws := env.startSession(t, wo.ID)
	_, _ = env.engine.CompleteStep(context.Background(), techRctx(), ws.ID, "b", CompleteStepInput{Result: model.ResultPass})

	_, err := env.engine.SubmitReport(context.Background(), techRctx(), ws.ID, SubmitReportInput{})
	assertCode(t, err, model.ErrInvalidTransition)
}

func TestEngine_SubmitReport_secondReportRejected(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	res := env.runPhase(t, wo.ID)

	_, err := env.engine.SubmitReport(context.Background(), techRctx(), res.Report.SessionID, SubmitReportInput{})
	assertCode(t, err, model.ErrConflict)

	reports, _ := env.engine.ListReports(context.Background(), techRctx(), wo.ID)
	if len(reports) != 1 {
		t.Errorf("reports = %d, want 1", len(reports))
	}
}

func TestEngine_SubmitReport_failedStepsDoNotBlock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	wo := env.createWorkOrder(t, "repair")
	ws := env.startSession(t, wo.ID)
	_, _ = env.engine.CompleteStep(ctx, techRctx(), ws.ID, "a", CompleteStepInput{
		Result: model.ResultFail, Measurements: map[string]any{"reading": 99},
	})
	_, _ = env.engine.CompleteStep(ctx, techRctx(), ws.ID, "b", CompleteStepInput{Result: model.ResultPass})

	res, err := env.engine.SubmitReport(ctx, techRctx(), ws.ID, SubmitReportInput{})
	if err != nil {
		t.Fatalf("SubmitReport error: %v", err)
	}
	if res.Report.Data.FailedSteps != 1 {
		t.Errorf("FailedSteps = %d, want 1", res.Report.Data.FailedSteps)
	}
	if !strings.Contains(res.Report.Summary, "1 step(s) failed") {
		t.Errorf("Summary = %q", res.Report.Summary)
	}
}

func TestEngine_MarkReportSent(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	res := env.runPhase(t, wo.ID)

	_, err := env.engine.MarkReportSent(context.Background(), managerRctx(), res.Report.ID, "")
	assertCode(t, err, model.ErrValidationError)

	r, err := env.engine.MarkReportSent(context.Background(), managerRctx(), res.Report.ID, "reports/r.pdf")
	if err != nil {
		t.Fatalf("MarkReportSent error: %v", err)
	}
	if r.Status != model.ReportSent || r.SentAt == nil || r.PDFPath != "reports/r.pdf" {
		t.Errorf("report = %+v", r)
	}
}

func TestCompileReport(t *testing.T) {
	tmpl := twoStepTemplate("p", model.PhaseTeardown)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	completions := []model.StepCompletion{
		{StepID: "b", Result: model.ResultPass},
		{StepID: "ghost", Result: model.ResultFail},
	}
	photos := []model.Photo{
		{ID: "late", CapturedAt: at.Add(time.Hour)},
		{ID: "early", CapturedAt: at},
	}

	payload, summary := CompileReport(&tmpl, completions, photos)
	if payload.CompletedSteps != 1 || payload.FailedSteps != 0 {
		t.Errorf("completed/failed = %d/%d, want 1/0", payload.CompletedSteps, payload.FailedSteps)
	}
	if payload.Photos[0].ID != "early" {
		t.Errorf("photos not ordered by capture time: %v", payload.Photos)
	}
	if summary != "Completed 1 of 2 steps in Procedure p" {
		t.Errorf("summary = %q", summary)
	}
}

// --- Approvals ---

func TestEngine_RepairScope_approve(t *testing.T) {
	env := newTestEnv(t)
	wo, res := env.toRepairScope(t)

	if wo.CurrentPhase != model.PhaseRepairScope {
		t.Fatalf("CurrentPhase = %s, want repair_scope", wo.CurrentPhase)
	}
	if res.Approval == nil {
		t.Fatal("repair_scope report should open an approval")
	}
	if res.Approval.NextPhase != model.PhaseRebuild || res.Approval.Status != model.ApprovalPending {
		t.Errorf("approval = %s -> %s", res.Approval.Status, res.Approval.NextPhase)
	}
	if res.Approval.FindingsSummary != res.Report.Summary {
		t.Errorf("FindingsSummary = %q, want report summary", res.Approval.FindingsSummary)
	}

	dec, err := env.engine.Decide(context.Background(), managerRctx(), res.Approval.ID, DecisionInput{
		Decision: model.DecisionApproved, Notes: "go ahead",
	})
	if err != nil {
		t.Fatalf("Decide error: %v", err)
	}
	if dec.WorkOrder.CurrentPhase != model.PhaseRebuild {
		t.Errorf("CurrentPhase = %s, want rebuild", dec.WorkOrder.CurrentPhase)
	}
	if dec.WorkOrder.Status != model.StatusInProgress {
		t.Errorf("Status = %s, want in_progress", dec.WorkOrder.Status)
	}
	if dec.Approval.ApprovedBy != "user-manager" || dec.Approval.ApprovedAt == nil {
		t.Errorf("approval decided by %q at %v", dec.Approval.ApprovedBy, dec.Approval.ApprovedAt)
	}
	r, _ := env.engine.GetReport(context.Background(), managerRctx(), res.Report.ID)
	if r.Status != model.ReportApproved {
		t.Errorf("report Status = %s, want approved", r.Status)
	}
}

func TestEngine_RepairScope_reject(t *testing.T) {
	env := newTestEnv(t)
	wo, res := env.toRepairScope(t)
	ctx := context.Background()

	dec, err := env.engine.Decide(ctx, managerRctx(), res.Approval.ID, DecisionInput{
		Decision: model.DecisionRejected, Reason: "insufficient findings",
	})
	if err != nil {
		t.Fatalf("Decide error: %v", err)
	}
	if dec.WorkOrder.CurrentPhase != model.PhaseRepairScope {
		t.Errorf("CurrentPhase = %s, want repair_scope", dec.WorkOrder.CurrentPhase)
	}
	if dec.Approval.RejectionReason != "insufficient findings" {
		t.Errorf("RejectionReason = %q", dec.Approval.RejectionReason)
	}
	r, _ := env.engine.GetReport(ctx, managerRctx(), res.Report.ID)
	if r.Status != model.ReportRejected {
		t.Errorf("report Status = %s, want rejected", r.Status)
	}

	// Resubmission reopens the gate and returns the report to submitted.
	again, err := env.engine.RequestApproval(ctx, techRctx(), model.ApprovalRequest{
		WorkOrderID:     wo.ID,
		ReportID:        res.Report.ID,
		PhaseCompleted:  model.PhaseRepairScope,
		FindingsSummary: "impeller worn 2mm beyond tolerance",
	})
	if err != nil {
		t.Fatalf("RequestApproval error: %v", err)
	}
	if again.NextPhase != model.PhaseRebuild {
		t.Errorf("NextPhase = %s, want rebuild", again.NextPhase)
	}
	r, _ = env.engine.GetReport(ctx, managerRctx(), res.Report.ID)
	if r.Status != model.ReportSubmitted {
		t.Errorf("report Status = %s, want submitted", r.Status)
	}
}

func TestEngine_Decide_rejectWithoutReason(t *testing.T) {
	env := newTestEnv(t)
	_, res := env.toRepairScope(t)

	_, err := env.engine.Decide(context.Background(), managerRctx(), res.Approval.ID, DecisionInput{
		Decision: model.DecisionRejected, Reason: "  ",
	})
	assertCode(t, err, model.ErrValidationError)

	a, _ := env.engine.GetApproval(context.Background(), managerRctx(), res.Approval.ID)
	if a.Status != model.ApprovalPending {
		t.Errorf("Status = %s, want pending", a.Status)
	}
}

func TestEngine_Decide_notPending(t *testing.T) {
	env := newTestEnv(t)
	_, res := env.toRepairScope(t)
	ctx := context.Background()
	in := DecisionInput{Decision: model.DecisionApproved}

	if _, err := env.engine.Decide(ctx, managerRctx(), res.Approval.ID, in); err != nil {
		t.Fatal(err)
	}
	_, err := env.engine.Decide(ctx, managerRctx(), res.Approval.ID, in)
	assertCode(t, err, model.ErrApprovalNotPending)
}

func TestEngine_Decide_requiresCapability(t *testing.T) {
	env := newTestEnv(t)
	_, res := env.toRepairScope(t)

	_, err := env.engine.Decide(context.Background(), techRctx(), res.Approval.ID, DecisionInput{Decision: model.DecisionApproved})
	assertCode(t, err, model.ErrForbidden)
}

func TestEngine_Decide_invalidDecision(t *testing.T) {
	env := newTestEnv(t)
	_, res := env.toRepairScope(t)

	_, err := env.engine.Decide(context.Background(), managerRctx(), res.Approval.ID, DecisionInput{Decision: "maybe"})
	assertCode(t, err, model.ErrValidationError)
}

func TestEngine_RequestApproval_invalidTransition(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")

	_, err := env.engine.RequestApproval(context.Background(), techRctx(), model.ApprovalRequest{
		WorkOrderID:    wo.ID,
		PhaseCompleted: model.PhasePendingAssignment,
		NextPhase:      model.PhaseCompleted,
	})
	assertCode(t, err, model.ErrInvalidTransition)
}

func TestEngine_CancelApproval(t *testing.T) {
	env := newTestEnv(t)
	_, res := env.toRepairScope(t)
	ctx := context.Background()

	outsider := &model.RequestContext{SubjectID: "user-other", TenantID: testTenant, Roles: []string{model.RoleTechnician}}
	_, err := env.engine.CancelApproval(ctx, outsider, res.Approval.ID)
	assertCode(t, err, model.ErrForbidden)

	a, err := env.engine.CancelApproval(ctx, techRctx(), res.Approval.ID)
	if err != nil {
		t.Fatalf("CancelApproval error: %v", err)
	}
	if a.Status != model.ApprovalCancelled {
		t.Errorf("Status = %s, want cancelled", a.Status)
	}
}

// --- Full lifecycle ---

func TestEngine_RepairLifecycle_completes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, res := env.toRepairScope(t)
	if _, err := env.engine.Decide(ctx, managerRctx(), res.Approval.ID, DecisionInput{Decision: model.DecisionApproved}); err != nil {
		t.Fatal(err)
	}
	env.runPhase(t, res.WorkOrder.ID) // rebuild
	final := env.runPhase(t, res.WorkOrder.ID)

	if final.WorkOrder.CurrentPhase != model.PhaseCompleted {
		t.Errorf("CurrentPhase = %s, want completed", final.WorkOrder.CurrentPhase)
	}
	if final.WorkOrder.Status != model.StatusCompleted || final.WorkOrder.CompletedAt == nil {
		t.Errorf("Status = %s CompletedAt = %v", final.WorkOrder.Status, final.WorkOrder.CompletedAt)
	}

	events, _ := env.engine.History(ctx, managerRctx(), res.WorkOrder.ID)
	var phases []string
	for _, ev := range events {
		if ev.Event == model.EventPhaseAdvanced {
			phases = append(phases, ev.Data["to"].(string))
		}
	}
	want := "initial_testing,teardown,repair_scope,rebuild,final_testing,completed"
	if got := strings.Join(phases, ","); got != want {
		t.Errorf("phase trail = %s, want %s", got, want)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Fatalf("events out of order at %d", i)
		}
	}

	// Closed work orders accept no further work.
	_, err := env.engine.AssignTechnician(ctx, managerRctx(), res.WorkOrder.ID, "user-tech", "")
	assertCode(t, err, model.ErrWorkOrderClosed)
}

func TestEngine_InspectionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_ = env.store.UpsertTemplate(ctx, twoStepTemplate("awaiting-proc", model.PhaseAwaitingApproval))
	wo := env.createWorkOrder(t, model.WorkTypeInspection)

	res := env.runPhase(t, wo.ID)
	if res.Approval != nil || res.WorkOrder.CurrentPhase != model.PhaseAwaitingApproval {
		t.Fatalf("after inspection phase = %s approval = %v", res.WorkOrder.CurrentPhase, res.Approval)
	}
	res = env.runPhase(t, wo.ID)
	if res.Approval == nil || res.Approval.NextPhase != model.PhaseCompleted {
		t.Fatalf("awaiting_approval should gate on completed, got %+v", res.Approval)
	}
	dec, err := env.engine.Decide(ctx, managerRctx(), res.Approval.ID, DecisionInput{Decision: model.DecisionApproved})
	if err != nil {
		t.Fatal(err)
	}
	if dec.WorkOrder.Status != model.StatusCompleted {
		t.Errorf("Status = %s, want completed", dec.WorkOrder.Status)
	}
}

// --- Cancellation ---

func TestEngine_CancelWorkOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	wo, res := env.toRepairScope(t)

	got, err := env.engine.CancelWorkOrder(ctx, managerRctx(), wo.ID, "customer withdrew")
	if err != nil {
		t.Fatalf("CancelWorkOrder error: %v", err)
	}
	if got.CurrentPhase != model.PhaseCancelled || got.Status != model.StatusCancelled {
		t.Errorf("work order = %s/%s, want cancelled/cancelled", got.CurrentPhase, got.Status)
	}
	a, _ := env.engine.GetApproval(ctx, managerRctx(), res.Approval.ID)
	if a.Status != model.ApprovalCancelled {
		t.Errorf("approval Status = %s, want cancelled", a.Status)
	}

	_, err = env.engine.CancelWorkOrder(ctx, managerRctx(), wo.ID, "")
	assertCode(t, err, model.ErrWorkOrderClosed)
}

func TestEngine_CancelWorkOrder_pausesSessions(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	ws := env.startSession(t, wo.ID)

	if _, err := env.engine.CancelWorkOrder(context.Background(), managerRctx(), wo.ID, ""); err != nil {
		t.Fatal(err)
	}
	got, _ := env.store.GetSession(context.Background(), ws.ID)
	if got.Status != model.SessionPaused {
		t.Errorf("session Status = %s, want paused", got.Status)
	}
	_, err := env.engine.ResumeSession(context.Background(), techRctx(), ws.ID)
	assertCode(t, err, model.ErrWorkOrderClosed)
}

// --- Procedures ---

func TestEngine_CreateTemplate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tmpl := twoStepTemplate("", model.PhaseRebuild)
	got, err := env.engine.CreateTemplate(ctx, tmpl)
	if err != nil {
		t.Fatalf("CreateTemplate error: %v", err)
	}
	if got.ID == "" || got.Checksum == "" {
		t.Errorf("template = %+v, want generated id and checksum", got)
	}

	bad := twoStepTemplate("bad", model.PhaseRebuild)
	bad.Steps[1].StepNumber = 2
	_, err = env.engine.CreateTemplate(ctx, bad)
	assertCode(t, err, model.ErrValidationError)

	replacement := twoStepTemplate("rebuild-proc", model.PhaseRebuild)
	replacement.Steps = replacement.Steps[:1]
	_, err = env.engine.CreateTemplate(ctx, replacement)
	assertCode(t, err, model.ErrConflict)
	if kept, _ := env.engine.GetTemplate(ctx, "rebuild-proc"); len(kept.Steps) != 2 {
		t.Errorf("existing template steps = %d, want 2 after a rejected create", len(kept.Steps))
	}

	if _, err := env.engine.DeactivateTemplate(ctx, got.ID); err != nil {
		t.Fatalf("DeactivateTemplate error: %v", err)
	}
	list, _ := env.engine.ListTemplates(ctx, model.ProcedureFilters{Phase: model.PhaseRebuild, ActiveOnly: true})
	if len(list) != 1 || list[0].ID != "rebuild-proc" {
		t.Errorf("active rebuild templates = %v", list)
	}
}

func TestEngine_SessionKeepsItsProcedure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	wo := env.createWorkOrder(t, "repair")
	ws := env.startSession(t, wo.ID)
	if len(ws.Procedure.Steps) != 2 {
		t.Fatalf("session procedure steps = %d, want 2", len(ws.Procedure.Steps))
	}

	if _, err := env.engine.CompleteStep(ctx, techRctx(), ws.ID, "a", CompleteStepInput{
		Result: model.ResultPass, Measurements: map[string]any{"reading": 4.2},
	}); err != nil {
		t.Fatalf("CompleteStep(a) error: %v", err)
	}

	// The catalog drops step b while the session is running.
	edited := twoStepTemplate("initial_testing-proc", model.PhaseInitialTesting)
	edited.Steps = edited.Steps[1:]
	if err := env.store.UpsertTemplate(ctx, edited); err != nil {
		t.Fatal(err)
	}

	_, err := env.engine.SubmitReport(ctx, techRctx(), ws.ID, SubmitReportInput{})
	assertCode(t, err, model.ErrInvalidTransition)
	if got, _ := env.engine.GetWorkOrder(ctx, techRctx(), wo.ID); got.CurrentPhase != model.PhaseInitialTesting {
		t.Fatalf("CurrentPhase = %s, want initial_testing while step b is open", got.CurrentPhase)
	}

	progress, err := env.engine.CompleteStep(ctx, techRctx(), ws.ID, "b", CompleteStepInput{Result: model.ResultPass})
	if err != nil {
		t.Fatalf("CompleteStep(b) error: %v", err)
	}
	if progress.TotalSteps != 2 || !progress.AllComplete {
		t.Errorf("progress = %+v, want 2 of 2 complete", progress)
	}

	res, err := env.engine.SubmitReport(ctx, techRctx(), ws.ID, SubmitReportInput{})
	if err != nil {
		t.Fatalf("SubmitReport error: %v", err)
	}
	if res.Report.Data.TotalSteps != 2 || res.WorkOrder.CurrentPhase != model.PhaseTeardown {
		t.Errorf("report steps = %d, phase = %s; want 2 and teardown",
			res.Report.Data.TotalSteps, res.WorkOrder.CurrentPhase)
	}
}

func TestEngine_CompleteStep_freeFormMeasurements(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	wo := env.createWorkOrder(t, "repair")
	ws := env.startSession(t, wo.ID)

	var blank CompleteStepInput
	if err := json.Unmarshal([]byte(`{"result":"pass","measurements":{"reading":"  "}}`), &blank); err != nil {
		t.Fatalf("decode: %v", err)
	}
	_, err := env.engine.CompleteStep(ctx, techRctx(), ws.ID, "a", blank)
	assertCode(t, err, model.ErrValidationError)

	var in CompleteStepInput
	body := `{"result":"pass","measurements":{"reading":"480V","visual":"OK","clearance_mm":0.35}}`
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := env.engine.CompleteStep(ctx, techRctx(), ws.ID, "a", in); err != nil {
		t.Fatalf("CompleteStep(a) error: %v", err)
	}
	if _, err := env.engine.CompleteStep(ctx, techRctx(), ws.ID, "b", CompleteStepInput{Result: model.ResultPass}); err != nil {
		t.Fatalf("CompleteStep(b) error: %v", err)
	}

	res, err := env.engine.SubmitReport(ctx, techRctx(), ws.ID, SubmitReportInput{})
	if err != nil {
		t.Fatalf("SubmitReport error: %v", err)
	}
	got := res.Report.Data.Steps[0].Measurements
	if got["reading"] != "480V" || got["visual"] != "OK" || got["clearance_mm"] != 0.35 {
		t.Errorf("report measurements = %v", got)
	}
}

// conflictingUpdates fails every work order update made inside a
// transaction.
type conflictingUpdates struct {
	Store
}

func (c conflictingUpdates) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return c.Store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		return fn(ctx, conflictingUpdates{tx})
	})
}

func (conflictingUpdates) UpdateWorkOrder(context.Context, model.WorkOrder) error {
	return model.NewConflictError("work order version conflict")
}

type advanceCounter struct {
	nopRecorder
	advances []string
}

func (c *advanceCounter) RecordPhaseAdvance(from, to string) {
	c.advances = append(c.advances, from+"->"+to)
}

func TestEngine_PhaseAdvanceCountedAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	wo := env.createWorkOrder(t, "repair")
	ws := env.startSession(t, wo.ID)
	env.completeAll(t, ws.ID)

	counter := &advanceCounter{}
	failing := NewEngine(conflictingUpdates{env.store}, roleCapResolver{}, WithClock(testClock()), WithMetrics(counter))
	_, err := failing.SubmitReport(ctx, techRctx(), ws.ID, SubmitReportInput{})
	assertCode(t, err, model.ErrConflict)
	if len(counter.advances) != 0 {
		t.Errorf("advances = %v after a rolled back submit, want none", counter.advances)
	}
	if got, _ := env.store.GetSession(ctx, ws.ID); got.Status != model.SessionInProgress {
		t.Errorf("session Status = %s, want in_progress after rollback", got.Status)
	}

	committed := NewEngine(env.store, roleCapResolver{}, WithClock(testClock()), WithMetrics(counter))
	if _, err := committed.SubmitReport(ctx, techRctx(), ws.ID, SubmitReportInput{}); err != nil {
		t.Fatalf("SubmitReport error: %v", err)
	}
	if len(counter.advances) != 1 || counter.advances[0] != "initial_testing->teardown" {
		t.Errorf("advances = %v, want [initial_testing->teardown]", counter.advances)
	}
}

// --- Records ---

func TestEngine_AddPhoto(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	ws := env.startSession(t, wo.ID)

	p, err := env.engine.AddPhoto(context.Background(), techRctx(), ws.ID, PhotoInput{
		StepID: "a", Caption: "gauge", FileName: "IMG_1.JPG", ContentType: "image/jpeg",
		Size: 3, Body: bytes.NewReader([]byte{1, 2, 3}),
	})
	if err != nil {
		t.Fatalf("AddPhoto error: %v", err)
	}
	prefix := fmt.Sprintf("work-orders/%s/sessions/%s/", wo.ID, ws.ID)
	if !strings.HasPrefix(p.StoragePath, prefix) || !strings.HasSuffix(p.StoragePath, ".jpg") {
		t.Errorf("StoragePath = %q", p.StoragePath)
	}
	if len(env.blobs.objects[p.StoragePath]) != 3 {
		t.Error("photo bytes were not uploaded")
	}
}

func TestEngine_AddPhoto_uploadFailure(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	ws := env.startSession(t, wo.ID)
	env.blobs.failPut = true

	_, err := env.engine.AddPhoto(context.Background(), techRctx(), ws.ID, PhotoInput{
		FileName: "x.png", ContentType: "image/png", Size: 1, Body: bytes.NewReader([]byte{1}),
	})
	assertCode(t, err, model.ErrBackendUnavailable)
	photos, _ := env.store.ListPhotos(context.Background(), ws.ID)
	if len(photos) != 0 {
		t.Errorf("photos = %d, want 0", len(photos))
	}
}

func TestEngine_AddFinding(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	ws := env.startSession(t, wo.ID)
	ctx := context.Background()

	_, err := env.engine.AddFinding(ctx, techRctx(), ws.ID, FindingInput{Severity: "severe"})
	assertCode(t, err, model.ErrValidationError)

	f, err := env.engine.AddFinding(ctx, techRctx(), ws.ID, FindingInput{
		Severity: model.SeverityHigh, Description: "cracked volute",
	})
	if err != nil {
		t.Fatalf("AddFinding error: %v", err)
	}
	hist, _ := env.engine.EquipmentHistory(ctx, techRctx(), "unit-1", "")
	if len(hist.Findings) != 1 || hist.Findings[0].ID != f.ID {
		t.Errorf("history findings = %v", hist.Findings)
	}
}

func TestEngine_RecordPartsUsed(t *testing.T) {
	env := newTestEnv(t)
	wo := env.createWorkOrder(t, "repair")
	ctx := context.Background()

	_, err := env.engine.RecordPartsUsed(ctx, techRctx(), wo.ID, PartsInput{PartNumber: "SEAL-1", Quantity: 0})
	assertCode(t, err, model.ErrValidationError)

	if _, err := env.engine.RecordPartsUsed(ctx, techRctx(), wo.ID, PartsInput{PartNumber: "SEAL-1", Quantity: 2, UnitCost: 12.5}); err != nil {
		t.Fatalf("RecordPartsUsed error: %v", err)
	}
	events, _ := env.engine.History(ctx, managerRctx(), wo.ID)
	if events[len(events)-1].Event != model.EventPartsUsed {
		t.Errorf("last event = %s, want parts_used", events[len(events)-1].Event)
	}
}

func TestEngine_AIFeedback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	i, err := env.engine.RecordAIInteraction(ctx, techRctx(), model.AIInteraction{
		Function: model.AIFunctionAssistant, Prompt: "torque spec?", Response: "45 Nm",
	})
	if err != nil {
		t.Fatalf("RecordAIInteraction error: %v", err)
	}

	helpful := true
	_, err = env.engine.RecordAIFeedback(ctx, managerRctx(), i.ID, FeedbackInput{Helpful: &helpful})
	assertCode(t, err, model.ErrNotFound)

	got, err := env.engine.RecordAIFeedback(ctx, techRctx(), i.ID, FeedbackInput{Helpful: &helpful, Feedback: " spot on "})
	if err != nil {
		t.Fatalf("RecordAIFeedback error: %v", err)
	}
	if got.Helpful == nil || !*got.Helpful || got.Feedback != "spot on" {
		t.Errorf("feedback = %v %q", got.Helpful, got.Feedback)
	}
}

func TestEngine_EquipmentAndCustomers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, err := env.engine.CreateCustomer(ctx, managerRctx(), model.Customer{Name: "Acme Water"})
	if err != nil {
		t.Fatalf("CreateCustomer error: %v", err)
	}
	u, err := env.engine.CreateEquipment(ctx, managerRctx(), model.EquipmentUnit{SerialNumber: "SN-9", CustomerID: c.ID})
	if err != nil {
		t.Fatalf("CreateEquipment error: %v", err)
	}
	if _, err := env.engine.GetEquipment(ctx, managerRctx(), u.ID); err != nil {
		t.Errorf("GetEquipment error: %v", err)
	}

	_, err = env.engine.CreateEquipment(ctx, managerRctx(), model.EquipmentUnit{SerialNumber: "SN-10", CustomerID: "nope"})
	assertCode(t, err, model.ErrNotFound)

	_, err = env.engine.EquipmentHistory(ctx, managerRctx(), "", "")
	assertCode(t, err, model.ErrBadRequest)
}
