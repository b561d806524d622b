package assistant

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/pitabwire/fieldops/internal/invoker"
	"github.com/pitabwire/fieldops/model"
)

const troubleshootingPrompt = `You are an expert field service technician assistant for industrial equipment repair and maintenance.
Give practical, step-by-step troubleshooting guidance. Put safety first and call out lockout/tagout or PPE requirements when relevant.
Be concise and specific. If the problem needs a specialist or replacement parts, say so.`

// AssistantRequest is the body of POST /ai-assistant.
type AssistantRequest struct {
	Query   string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`
}

// AssistantResponse is the answer of POST /ai-assistant.
type AssistantResponse struct {
	Response      string `json:"response"`
	InteractionID string `json:"interactionId,omitempty"`
}

// Troubleshoot answers a technician's free-form question.
func (s *Service) Troubleshoot(ctx context.Context, rctx *model.RequestContext, req AssistantRequest) (AssistantResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return AssistantResponse{}, &InputError{Message: "Query is required"}
	}

	user := query
	if desc := describeContext(req.Context); desc != "" {
		user = "Context:\n" + desc + "\nQuestion: " + query
	}

	out, err := s.complete(ctx, model.AIFunctionAssistant, invoker.ChatRequest{
		Messages: []invoker.Message{
			{Role: "system", Content: troubleshootingPrompt},
			{Role: "user", Content: user},
		},
		Temperature: temperature(0.7),
	})
	if err != nil {
		return AssistantResponse{}, err
	}

	id := s.record(ctx, rctx, model.AIInteraction{
		Function:  model.AIFunctionAssistant,
		SessionID: contextString(req.Context, "session_id", "sessionId"),
		StepID:    contextString(req.Context, "step_id", "stepId"),
		Prompt:    query,
		Response:  out.Content,
	})
	return AssistantResponse{Response: out.Content, InteractionID: id}, nil
}

// Image analysis types.
const (
	AnalysisDamage      = "damage"
	AnalysisWear        = "wear"
	AnalysisMeasurement = "measurement"
	AnalysisGeneral     = "general"
)

var imageInstructions = map[string]string{
	AnalysisDamage:      "Identify visible damage such as cracks, corrosion, deformation, burn marks or broken parts. Rate the severity of each item.",
	AnalysisWear:        "Assess wear patterns, remaining service life and whether the component should be replaced or can stay in service.",
	AnalysisMeasurement: "Read any visible gauges, scales or markings and report the values with units. Flag readings that look out of tolerance.",
	AnalysisGeneral:     "Describe the component condition and anything a technician should act on.",
}

// ImageAnalysisRequest is the body of POST /ai-image-analysis.
type ImageAnalysisRequest struct {
	ImageURL      string `json:"imageUrl"`
	AnalysisType  string `json:"analysisType,omitempty"`
	ComponentType string `json:"componentType,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	StepID        string `json:"stepId,omitempty"`
}

// ImageAnalysisResponse is the answer of POST /ai-image-analysis.
type ImageAnalysisResponse struct {
	Analysis       string   `json:"analysis"`
	DetectedIssues []string `json:"detectedIssues"`
	Confidence     string   `json:"confidence"`
	InteractionID  string   `json:"interactionId,omitempty"`
}

// AnalyzeImage asks a vision model to inspect a component photo.
func (s *Service) AnalyzeImage(ctx context.Context, rctx *model.RequestContext, req ImageAnalysisRequest) (ImageAnalysisResponse, error) {
	imageURL := strings.TrimSpace(req.ImageURL)
	if imageURL == "" {
		return ImageAnalysisResponse{}, &InputError{Message: "imageUrl is required"}
	}
	kind := req.AnalysisType
	if kind == "" {
		kind = AnalysisGeneral
	}
	instructions, ok := imageInstructions[kind]
	if !ok {
		return ImageAnalysisResponse{}, &InputError{Message: "analysisType must be one of damage, wear, measurement, general"}
	}

	component := "equipment component"
	if c := strings.TrimSpace(req.ComponentType); c != "" {
		component = c
	}
	prompt := fmt.Sprintf("Analyze this photo of a %s. %s List each issue on its own line starting with \"- \".", component, instructions)

	out, err := s.complete(ctx, model.AIFunctionImage, invoker.ChatRequest{
		Model:    s.visionModel,
		Messages: []invoker.Message{
			{Role: "system", Content: "You are an expert equipment inspector analyzing photos taken by field technicians."},
			{Role: "user", Parts: []invoker.ContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &invoker.ImageURL{URL: imageURL, Detail: "high"}},
			}},
		},
		Temperature: temperature(0.3),
	})
	if err != nil {
		return ImageAnalysisResponse{}, err
	}

	resp := ImageAnalysisResponse{
		Analysis:       out.Content,
		DetectedIssues: DetectedIssues(out.Content),
		Confidence:     "medium",
	}
	if out.FinishReason == "stop" {
		resp.Confidence = "high"
	}
	resp.InteractionID = s.record(ctx, rctx, model.AIInteraction{
		Function:  model.AIFunctionImage,
		SessionID: req.SessionID,
		StepID:    req.StepID,
		Prompt:    prompt + "\n" + imageURL,
		Response:  out.Content,
	})
	return resp, nil
}

var listItem = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)

// DetectedIssues returns the bullet and numbered list items of an answer.
func DetectedIssues(analysis string) []string {
	issues := []string{}
	for _, line := range strings.Split(analysis, "\n") {
		m := listItem.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if item := strings.TrimSpace(m[1]); item != "" {
			issues = append(issues, item)
		}
	}
	return issues
}

// Predictive analysis types.
const (
	PredictFailure     = "failure_prediction"
	PredictMaintenance = "maintenance_recommendation"
	PredictCost        = "cost_forecast"
)

var predictiveInstructions = map[string]string{
	PredictFailure:     "Estimate the likelihood of failure in the next 90 days and name the components most at risk.",
	PredictMaintenance: "Recommend preventive maintenance actions and intervals based on the history.",
	PredictCost:        "Forecast maintenance and repair costs for the next 12 months with the main cost drivers.",
}

// PredictiveRequest is the body of POST /ai-predictive-analysis.
type PredictiveRequest struct {
	EquipmentUnitID  string `json:"equipmentUnitId,omitempty"`
	EquipmentModelID string `json:"equipmentModelId,omitempty"`
	AnalysisType     string `json:"analysisType,omitempty"`
}

// PredictiveResponse is the answer of POST /ai-predictive-analysis.
type PredictiveResponse struct {
	Analysis   string   `json:"analysis"`
	RiskScore  *float64 `json:"riskScore"`
	DataPoints int      `json:"dataPoints"`
	Confidence string   `json:"confidence"`
}

// Predict produces maintenance commentary from the equipment history.
func (s *Service) Predict(ctx context.Context, rctx *model.RequestContext, req PredictiveRequest) (PredictiveResponse, error) {
	if req.EquipmentUnitID == "" && req.EquipmentModelID == "" {
		return PredictiveResponse{}, &InputError{Message: "equipmentUnitId or equipmentModelId is required"}
	}
	kind := req.AnalysisType
	if kind == "" {
		kind = PredictFailure
	}
	instructions, ok := predictiveInstructions[kind]
	if !ok {
		return PredictiveResponse{}, &InputError{Message: "analysisType must be one of failure_prediction, maintenance_recommendation, cost_forecast"}
	}
	if !s.llm.Configured() {
		s.metrics.RecordAIRequest(model.AIFunctionPredictive, "not_configured")
		return PredictiveResponse{}, ErrNotConfigured
	}

	history, err := s.records.EquipmentHistory(ctx, rctx, req.EquipmentUnitID, req.EquipmentModelID)
	if err != nil {
		return PredictiveResponse{}, err
	}

	prompt := fmt.Sprintf("%s\n\nMaintenance history:\n%s\nEnd your answer with a line \"Risk Score: N\" where N is 0-100.",
		instructions, summarizeHistory(history))
	out, err := s.complete(ctx, model.AIFunctionPredictive, invoker.ChatRequest{
		Messages: []invoker.Message{
			{Role: "system", Content: "You are a reliability engineer performing predictive maintenance analysis for industrial equipment."},
			{Role: "user", Content: prompt},
		},
		Temperature: temperature(0.3),
	})
	if err != nil {
		return PredictiveResponse{}, err
	}

	points := len(history.WorkOrders)
	return PredictiveResponse{
		Analysis:   out.Content,
		RiskScore:  RiskScore(out.Content),
		DataPoints: points,
		Confidence: historyConfidence(points),
	}, nil
}

var riskScorePattern = regexp.MustCompile(`(?i)risk[\s_-]*score[^0-9\n]{0,15}(\d{1,3}(?:\.\d+)?)`)

// RiskScore extracts the "Risk Score: N" value. It returns nil when no score
// is present or the value lies outside 0..100.
func RiskScore(analysis string) *float64 {
	m := riskScorePattern.FindStringSubmatch(analysis)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > 100 {
		return nil
	}
	return &v
}

func historyConfidence(points int) string {
	switch {
	case points >= 10:
		return "high"
	case points >= 3:
		return "medium"
	default:
		return "low"
	}
}

func summarizeHistory(h model.EquipmentHistory) string {
	if len(h.WorkOrders) == 0 && len(h.Findings) == 0 && len(h.Parts) == 0 {
		return "No prior work orders recorded.\n"
	}
	var b strings.Builder
	for _, wo := range h.WorkOrders {
		fmt.Fprintf(&b, "- Work order %s (%s) opened %s, phase %s, status %s",
			wo.Number, wo.WorkType, wo.CreatedAt.Format("2006-01-02"), wo.CurrentPhase, wo.Status)
		if wo.Description != "" {
			fmt.Fprintf(&b, ": %s", wo.Description)
		}
		b.WriteString("\n")
	}
	for _, f := range h.Findings {
		fmt.Fprintf(&b, "- Finding (%s): %s\n", f.Severity, f.Description)
	}
	for _, p := range h.Parts {
		fmt.Fprintf(&b, "- Part %s x%d", p.PartNumber, p.Quantity)
		if p.Description != "" {
			fmt.Fprintf(&b, " (%s)", p.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}

func temperature(v float64) *float64 { return &v }
