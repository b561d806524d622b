package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pitabwire/fieldops/internal/assistant"
	"github.com/pitabwire/fieldops/internal/observability"
	"github.com/pitabwire/fieldops/internal/workflow"
)

const notConfiguredMessage = "The AI upstream API key is not set. Set the API key via configuration (ai.api_key_env) and restart the service."

// aiError is the flat error body of the AI endpoints.
type aiError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeAIError maps assistant failures to the AI endpoints' error shape.
// Upstream details are logged, never returned.
func writeAIError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, generic string, err error) {
	var inErr *assistant.InputError
	switch {
	case errors.As(err, &inErr):
		WriteJSON(w, http.StatusBadRequest, aiError{Error: inErr.Message})
	case errors.Is(err, assistant.ErrNotConfigured):
		WriteJSON(w, http.StatusServiceUnavailable, aiError{
			Error:   assistant.ErrNotConfigured.Error(),
			Message: notConfiguredMessage,
		})
	default:
		observability.RequestLogger(r.Context(), logger).Error(generic, zap.Error(err))
		WriteJSON(w, http.StatusInternalServerError, aiError{Error: generic})
	}
}

// decodeAIBody decodes the request body, writing the AI error shape on failure.
func decodeAIBody(w http.ResponseWriter, r *http.Request, logger *zap.Logger, dst any) bool {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		WriteJSON(w, http.StatusBadRequest, aiError{Error: "Invalid JSON body"})
		return false
	}
	if ce := observability.RequestLogger(r.Context(), logger).Check(zap.DebugLevel, "ai request"); ce != nil {
		ce.Write(zap.Any("body", observability.RedactBody(raw, []string{"imageUrl"})))
	}
	data, err := json.Marshal(raw)
	if err == nil {
		err = json.Unmarshal(data, dst)
	}
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, aiError{Error: "Invalid JSON body"})
		return false
	}
	return true
}

func handleAIAssistant(svc *assistant.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var req assistant.AssistantRequest
		if !decodeAIBody(w, r, logger, &req) {
			return
		}
		resp, err := svc.Troubleshoot(r.Context(), rctx, req)
		if err != nil {
			writeAIError(w, r, logger, "Failed to get AI response", err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func handleAIImageAnalysis(svc *assistant.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var req assistant.ImageAnalysisRequest
		if !decodeAIBody(w, r, logger, &req) {
			return
		}
		resp, err := svc.AnalyzeImage(r.Context(), rctx, req)
		if err != nil {
			writeAIError(w, r, logger, "Failed to analyze image", err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func handleAIPredictiveAnalysis(svc *assistant.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var req assistant.PredictiveRequest
		if !decodeAIBody(w, r, logger, &req) {
			return
		}
		resp, err := svc.Predict(r.Context(), rctx, req)
		if err != nil {
			writeAIError(w, r, logger, "Failed to generate predictive analysis", err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func handleAIFeedback(engine *workflow.Engine) http.HandlerFunc {
	return update(http.StatusOK, false, engine.RecordAIFeedback)
}
