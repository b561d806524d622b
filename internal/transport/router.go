package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/fieldops/internal/assistant"
	"github.com/pitabwire/fieldops/internal/config"
	"github.com/pitabwire/fieldops/internal/idempotency"
	"github.com/pitabwire/fieldops/internal/observability"
	"github.com/pitabwire/fieldops/internal/openapi"
	"github.com/pitabwire/fieldops/internal/workflow"
	"github.com/pitabwire/fieldops/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Logger             *zap.Logger
	Authenticate       func(http.Handler) http.Handler
	CapabilityResolver model.CapabilityResolver
	Engine             *workflow.Engine
	Assistant          *assistant.Service
	Metrics            *observability.Metrics
	MetricsHandler     http.Handler
	Readiness          observability.ReadinessChecks
	Idempotency        idempotency.Store
	API                *openapi.Index
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics and the API document
// bypass authentication.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Defaults()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.MetricsHandler != nil {
		path := cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, deps.MetricsHandler)
	}
	if deps.API != nil {
		r.Method(http.MethodGet, "/openapi.json", deps.API.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}
	ttl := cfg.Idempotency.TTL
	idem := func(next http.Handler) http.Handler { return next }
	if cfg.Idempotency.Enabled && deps.Idempotency != nil {
		idem = idempotency.Middleware(deps.Idempotency, ttl, writeIdempotencyError, logger)
	}

	engine := deps.Engine
	can := RequireCapability

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContextMiddleware(cfg.Identity.ClaimPaths))
		r.Use(RequestLogging(logger))
		r.Use(ResolveCapabilities(deps.CapabilityResolver, logger))
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(LimitBody(cfg.Server.MaxUploadBytes))
		r.Use(idem)

		if engine != nil {
			r.Group(func(r chi.Router) {
				r.Use(ValidateRequests(deps.API))

				r.With(can(model.CapWorkOrdersCreate)).Post("/work-orders", handleCreateWorkOrder(engine))
				r.With(can(model.CapWorkOrdersView)).Get("/work-orders", handleListWorkOrders(engine))
				r.With(can(model.CapWorkOrdersView)).Get("/work-orders/{id}", handleGetWorkOrder(engine))
				r.With(can(model.CapWorkOrdersAssign)).Post("/work-orders/{id}/assignments", handleAssignTechnician(engine))
				r.With(can(model.CapWorkOrdersManage)).Post("/work-orders/{id}/status", handleUpdateStatus(engine))
				r.With(can(model.CapWorkOrdersManage)).Post("/work-orders/{id}/cancel", handleCancelWorkOrder(engine))
				r.With(can(model.CapWorkOrdersView)).Get("/work-orders/{id}/history", handleWorkOrderHistory(engine))
				r.With(can(model.CapWorkOrdersView)).Get("/work-orders/{id}/reports", handleListWorkOrderReports(engine))
				r.With(can(model.CapApprovalsRequest)).Post("/work-orders/{id}/approvals", handleRequestApproval(engine))
				r.With(can(model.CapSessionsExecute)).Post("/work-orders/{id}/parts", handleRecordParts(engine))

				r.With(can(model.CapSessionsExecute)).Post("/sessions", handleStartSession(engine))
				r.With(can(model.CapSessionsExecute, model.CapWorkOrdersView)).Get("/sessions/{id}", handleGetSession(engine))
				r.With(can(model.CapSessionsExecute)).Post("/sessions/{id}/steps/{stepId}/complete", handleCompleteStep(engine))
				r.With(can(model.CapSessionsExecute)).Post("/sessions/{id}/pause", handlePauseSession(engine))
				r.With(can(model.CapSessionsExecute)).Post("/sessions/{id}/resume", handleResumeSession(engine))
				r.With(can(model.CapSessionsExecute)).Post("/sessions/{id}/report", handleSubmitReport(engine))
				r.With(can(model.CapSessionsExecute)).Post("/sessions/{id}/photos", handleUploadPhoto(engine))
				r.With(can(model.CapSessionsExecute, model.CapWorkOrdersView)).Get("/sessions/{id}/photos", handleListPhotos(engine))
				r.With(can(model.CapSessionsExecute)).Post("/sessions/{id}/findings", handleAddFinding(engine))

				r.With(can(model.CapWorkOrdersView)).Get("/reports/{id}", handleGetReport(engine))
				r.With(can(model.CapReportsSend)).Post("/reports/{id}/sent", handleMarkReportSent(engine))

				r.With(can(model.CapWorkOrdersView)).Get("/approvals", handleListApprovals(engine))
				r.With(can(model.CapWorkOrdersView)).Get("/approvals/{id}", handleGetApproval(engine))
				r.With(can(model.CapApprovalsDecide)).Post("/approvals/{id}/decision", handleDecideApproval(engine))
				r.With(can(model.CapApprovalsRequest)).Post("/approvals/{id}/cancel", handleCancelApproval(engine))

				r.With(can(model.CapProceduresManage)).Post("/procedures", handleCreateProcedure(engine))
				r.With(can(model.CapWorkOrdersView, model.CapSessionsExecute)).Get("/procedures", handleListProcedures(engine))
				r.With(can(model.CapWorkOrdersView, model.CapSessionsExecute)).Get("/procedures/{id}", handleGetProcedure(engine))
				r.With(can(model.CapProceduresManage)).Post("/procedures/{id}/deactivate", handleDeactivateProcedure(engine))

				r.With(can(model.CapEquipmentManage)).Post("/equipment", handleCreateEquipment(engine))
				r.With(can(model.CapWorkOrdersView)).Get("/equipment/{id}", handleGetEquipment(engine))
				r.With(can(model.CapEquipmentManage)).Post("/customers", handleCreateCustomer(engine))

				r.With(can(model.CapAssistantUse)).Patch("/ai-interactions/{id}/feedback", handleAIFeedback(engine))
			})
		}

		// AI endpoints keep their flat {"error"} body, so they skip schema
		// validation and decode on their own.
		if deps.Assistant != nil {
			r.With(can(model.CapAssistantUse)).Post("/ai-assistant", handleAIAssistant(deps.Assistant, logger))
			r.With(can(model.CapAssistantUse)).Post("/ai-image-analysis", handleAIImageAnalysis(deps.Assistant, logger))
			r.With(can(model.CapAssistantUse)).Post("/ai-predictive-analysis", handleAIPredictiveAnalysis(deps.Assistant, logger))
		}
	})

	return r
}
