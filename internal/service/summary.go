package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/apperr"
	"github.com/iliyamo/dermascan/internal/llm"
	"github.com/iliyamo/dermascan/internal/metrics"
	"github.com/iliyamo/dermascan/internal/model"
	"github.com/iliyamo/dermascan/internal/repository"
)

const (
	defaultSummaryModel   = "qwen-turbo"
	defaultSummaryVersion = "1.0"
	medicalDisclaimer     = "This is a screening tool, not diagnostic. Always consult healthcare providers for medical decisions."
)

const summarySystemPrompt = "You are a medical AI assistant specializing in dermatology. " +
	"Provide accurate, helpful analysis of skin lesion results in the exact JSON format requested."

const summaryUserPrompt = `Explain these skin lesion classification results to a non-expert patient.
Predicted class: %s
Confidence: %s
Model version: %s

Respond only with a JSON object with the keys summary, key_findings, step_by_step_action_plan,
interpretation {risk_level (low|moderate|high), confidence_assessment},
recommendations {immediate_actions, follow_up, monitoring},
context {lesion_type_explanation, what_to_watch_for, reassurance_factors} and medical_disclaimer.`

// SummaryService stores LLM summaries, derives history summaries from
// predictions, and generates new summaries through the LLM.
type SummaryService struct {
	summaries SummaryStore
	images    ImageStore
	preds     PredictionStore
	llm       Completer
	model     string
	audit     Auditor
	log       *zap.Logger
	now       func() time.Time
}

func NewSummaryService(summaries SummaryStore, images ImageStore, preds PredictionStore, completer Completer, modelName string, audit Auditor, log *zap.Logger) *SummaryService {
	if modelName == "" {
		modelName = defaultSummaryModel
	}
	return &SummaryService{
		summaries: summaries,
		images:    images,
		preds:     preds,
		llm:       completer,
		model:     modelName,
		audit:     audit,
		log:       log,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (s *SummaryService) WithClock(now func() time.Time) *SummaryService {
	s.now = now
	return s
}

type SummaryInput struct {
	UserID          string         `json:"userId"`
	UploadID        string         `json:"uploadId"`
	OriginalResults map[string]any `json:"originalResults"`
	LLMSummary      map[string]any `json:"llmSummary"`
	GeneratedAt     string         `json:"generatedAt"`
	ModelUsed       string         `json:"modelUsed"`
	Version         string         `json:"version"`
}

// Store persists a summary.  predicted_class, confidence_score and
// risk_level are copied out of the nested documents.
func (s *SummaryService) Store(ctx context.Context, in SummaryInput) (string, error) {
	if in.UserID == "" || in.OriginalResults == nil || in.LLMSummary == nil {
		return "", apperr.Validation("Required fields missing: userId, originalResults, llmSummary")
	}
	now := s.now().UTC()
	doc := &model.LLMSummary{
		UserID:            in.UserID,
		OriginalMLResults: in.OriginalResults,
		Summary:           in.LLMSummary,
		GeneratedAt:       in.GeneratedAt,
		ModelUsed:         in.ModelUsed,
		Version:           in.Version,
		CreatedTimestamp:  now,
		PredictedClass:    in.OriginalResults["predicted_class"],
		ConfidenceScore:   in.OriginalResults["confidence_scores"],
		RiskLevel:         summaryRiskLevel(in.LLMSummary),
	}
	if in.UploadID != "" {
		doc.UploadID = &in.UploadID
	}
	if doc.GeneratedAt == "" {
		doc.GeneratedAt = now.Format(time.RFC3339Nano)
	}
	if doc.ModelUsed == "" {
		doc.ModelUsed = defaultSummaryModel
	}
	if doc.Version == "" {
		doc.Version = defaultSummaryVersion
	}
	id, err := s.summaries.Insert(ctx, doc)
	if err != nil {
		return "", apperr.Internal("Failed to store summary", err)
	}
	return id.Hex(), nil
}

func summaryRiskLevel(summary map[string]any) string {
	if in, ok := summary["interpretation"].(map[string]any); ok {
		if r, ok := in["risk_level"].(string); ok && r != "" {
			return r
		}
	}
	return "unknown"
}

// Get returns one stored summary.
func (s *SummaryService) Get(ctx context.Context, id string) (*model.LLMSummary, error) {
	if id == "" {
		return nil, apperr.Validation("Summary ID required")
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperr.NotFound("Summary not found")
	}
	sum, err := s.summaries.GetByID(ctx, oid)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("Summary not found")
	}
	if err != nil {
		return nil, apperr.Internal("Failed to load summary", err)
	}
	return sum, nil
}

// summarySortFields are the fields a user listing may be sorted by.
var summarySortFields = map[string]bool{
	"created_timestamp": true,
	"generated_at":      true,
	"risk_level":        true,
	"predicted_class":   true,
}

// ListForUser returns a user's stored summaries, newest first by sortBy.
func (s *SummaryService) ListForUser(ctx context.Context, userID, sortBy string, limit int64) ([]model.SummaryView, error) {
	if userID == "" {
		return nil, apperr.Validation("User ID required")
	}
	if !summarySortFields[sortBy] {
		sortBy = "created_timestamp"
	}
	if limit <= 0 {
		limit = 10
	}
	list, err := s.summaries.ListByUser(ctx, userID, sortBy, limit)
	if err != nil {
		return nil, apperr.Internal("Failed to load summaries", err)
	}
	out := make([]model.SummaryView, 0, len(list))
	for i := range list {
		out = append(out, list[i].View())
	}
	return out, nil
}

// PredictionSummaries derives summaries from the user's predictions.
// fromDate, when set, keeps uploads at or after it.
func (s *SummaryService) PredictionSummaries(ctx context.Context, userID string, limit int64, fromDate string) ([]model.PredictionSummary, string, error) {
	if userID == "" {
		return nil, "", apperr.Validation("User ID required")
	}
	if limit <= 0 {
		limit = 10
	}
	var since time.Time
	timeRange := "all time"
	if fromDate != "" {
		t, err := parseDate(fromDate)
		if err != nil {
			return nil, "", apperr.Validation("Invalid fromDate")
		}
		since = t
		timeRange = "since " + fromDate
	}

	images, err := s.images.ListByUser(ctx, userID, since, limit)
	if err != nil {
		return nil, "", apperr.Internal("Failed to load images", err)
	}
	ids := make([]primitive.ObjectID, 0, len(images))
	for _, img := range images {
		ids = append(ids, img.ID)
	}
	preds, err := s.preds.ByImageIDs(ctx, ids)
	if err != nil {
		return nil, "", apperr.Internal("Failed to load predictions", err)
	}

	out := make([]model.PredictionSummary, 0, len(images))
	for _, img := range images {
		p, ok := preds[img.ID]
		if !ok {
			continue
		}
		out = append(out, model.PredictionSummary{
			ID:                 p.ID.Hex(),
			UserID:             userID,
			ImageID:            img.ID.Hex(),
			Filename:           img.Filename,
			UploadTimestamp:    img.UploadTimestamp,
			PredictedClass:     p.PredictedClass,
			ConfidenceScores:   p.ConfidenceScores,
			ModelVersion:       p.ModelVersion,
			InferenceTimestamp: p.InferenceTimestamp,
			ImageURI:           img.ImageURI,
			GradcamURI:         p.GradcamURI,
			AnalysisType:       "skin_lesion_classification",
			RiskLevel:          RiskLevel(p.PredictedClass, p.ConfidenceScores),
			MedicalTerminology: MedicalTerms(p.PredictedClass),
		})
	}
	return out, timeRange, nil
}

var highRiskMarkers = []string{"mel", "malignant", "bcc", "akiec"}

// RiskLevel grades a prediction by class and its highest confidence value.
// Non-numeric scores are ignored.
func RiskLevel(predictedClass string, scores map[string]any) string {
	top := 0.0
	for _, v := range scores {
		if f, ok := toFloat(v); ok && f > top {
			top = f
		}
	}
	class := strings.ToLower(predictedClass)
	highRisk := false
	for _, m := range highRiskMarkers {
		if class != "" && strings.Contains(class, m) {
			highRisk = true
			break
		}
	}
	if highRisk {
		switch {
		case top > 80:
			return "High"
		case top > 60:
			return "Medium-High"
		}
		return "Medium"
	}
	switch {
	case top > 90:
		return "Low"
	case top > 70:
		return "Low-Medium"
	}
	return "Medium"
}

var medicalTerms = []struct {
	key   string
	terms []string
}{
	{"mel", []string{"Melanoma", "Malignant melanoma", "Skin cancer"}},
	{"nv", []string{"Melanocytic nevi", "Mole", "Nevus", "Benign lesion"}},
	{"bcc", []string{"Basal cell carcinoma", "BCC", "Skin cancer"}},
	{"akiec", []string{"Actinic keratoses", "Solar keratosis", "Pre-cancerous lesion"}},
	{"bkl", []string{"Benign keratosis", "Seborrheic keratosis", "Benign lesion"}},
	{"df", []string{"Dermatofibroma", "Fibrous histiocytoma", "Benign tumor"}},
	{"vasc", []string{"Vascular lesion", "Hemangioma", "Blood vessel lesion"}},
}

// MedicalTerms maps a class label to lay and clinical names.  Unknown
// labels map to themselves.
func MedicalTerms(predictedClass string) []string {
	if predictedClass == "" {
		return []string{}
	}
	class := strings.ToLower(predictedClass)
	for _, m := range medicalTerms {
		if strings.Contains(class, m.key) {
			return append([]string(nil), m.terms...)
		}
	}
	return []string{predictedClass}
}

// GenerateInput is the body of a summary generation request.
type GenerateInput struct {
	MLResults map[string]any `json:"mlResults"`
	UserID    string         `json:"userId"`
	UploadID  string         `json:"uploadId"`
}

// Generated is the outcome of Generate.  Fallback is set when the LLM could
// not be reached and a rule-based summary was returned instead.
type Generated struct {
	Summary  map[string]any
	Stored   bool
	Fallback bool
}

// Generate asks the LLM for a patient-facing summary of mlResults.  A reply
// that is not valid JSON is replaced by the rule-based summary and still
// stored; an LLM error yields the rule-based summary with Fallback set and
// nothing stored.
func (s *SummaryService) Generate(ctx context.Context, in GenerateInput, client model.ClientInfo) (Generated, error) {
	if in.MLResults == nil || in.UserID == "" {
		return Generated{}, apperr.Validation("ML results and user ID are required")
	}

	confidence := "Not available"
	if c := promptConfidence(in.MLResults); c != 0 {
		confidence = fmt.Sprintf("%.2f%%", c)
	}
	modelVersion, _ := in.MLResults["model_version"].(string)
	if modelVersion == "" {
		modelVersion = "v1.0"
	}
	class, _ := in.MLResults["predicted_class"].(string)

	reply, err := s.llm.Complete(ctx, llm.Request{
		Model: s.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: summarySystemPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf(summaryUserPrompt, class, confidence, modelVersion)},
		},
		Temperature: 0.3,
		MaxTokens:   800,
		TopP:        0.9,
		JSON:        true,
	})
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("llm").Inc()
		metrics.SummaryFallbacks.Inc()
		s.log.Warn("llm summary failed, using fallback", zap.String("user_id", in.UserID), zap.Error(err))
		return Generated{Summary: FallbackSummary(in.MLResults), Fallback: true}, nil
	}

	var summary map[string]any
	if err := json.Unmarshal([]byte(reply), &summary); err != nil || summary == nil {
		metrics.SummaryFallbacks.Inc()
		s.log.Warn("llm summary is not a JSON object, using fallback", zap.String("user_id", in.UserID))
		summary = FallbackSummary(in.MLResults)
	}

	stored := true
	id, err := s.Store(ctx, SummaryInput{
		UserID:          in.UserID,
		UploadID:        in.UploadID,
		OriginalResults: in.MLResults,
		LLMSummary:      summary,
		ModelUsed:       s.model,
		Version:         defaultSummaryVersion,
	})
	if err != nil {
		stored = false
		s.log.Error("store generated summary failed", zap.String("user_id", in.UserID), zap.Error(err))
	}
	s.audit.Record(ctx, model.ActionSummaryGenerated, in.UserID, map[string]any{
		"summary_id": id,
		"upload_id":  in.UploadID,
		"model_used": s.model,
		"stored":     stored,
	}, client)
	return Generated{Summary: summary, Stored: stored}, nil
}

// promptConfidence prefers a numeric confidence_score and otherwise takes
// the highest value of confidence_scores.confidence_scores.
func promptConfidence(ml map[string]any) float64 {
	if f, ok := ml["confidence_score"].(float64); ok {
		return f
	}
	inner := nestedScores(ml)
	top, found := 0.0, false
	for _, v := range inner {
		if f, ok := toFloat(v); ok && (!found || f > top) {
			top, found = f, true
		}
	}
	return top
}

func nestedScores(ml map[string]any) map[string]any {
	outer, _ := ml["confidence_scores"].(map[string]any)
	inner, _ := outer["confidence_scores"].(map[string]any)
	return inner
}

// FallbackSummary builds a rule-based summary in the same shape the LLM is
// asked to produce.
func FallbackSummary(ml map[string]any) map[string]any {
	outer, _ := ml["confidence_scores"].(map[string]any)
	lesionLabel, _ := outer["lesion_type"].(string)

	confidence := 0.0
	if lesionLabel != "" {
		if f, ok := toFloat(nestedScores(ml)[lesionLabel]); ok {
			confidence = f
		}
	}
	if confidence == 0 {
		if f, ok := toFloat(ml["confidence_score"]); ok {
			confidence = f
		}
	}

	predicted, _ := ml["predicted_class"].(string)
	prediction := strings.ToLower(predicted)
	if prediction == "" {
		prediction = "unknown"
	}
	lesionType := lesionLabel
	if lesionType == "" {
		lesionType = predicted
	}
	pct := fmt.Sprintf("%.2f%%", confidence)

	risk := "moderate"
	var text string
	switch {
	case strings.Contains(prediction, "benign") || strings.Contains(prediction, "nevus"):
		risk = "low"
		text = fmt.Sprintf("The analysis suggests this is a benign (non-cancerous) lesion (%s) with a high confidence of %s. "+
			"Benign lesions are generally not dangerous, but regular self-monitoring is recommended. "+
			"If you notice any changes in size, color, or shape, consult a dermatologist.", lesionType, pct)
	case strings.Contains(prediction, "malignant") || strings.Contains(prediction, "melanoma"):
		risk = "high"
		text = fmt.Sprintf("The analysis detected features suggestive of a potentially malignant lesion (%s), with a confidence of %s. "+
			"It is important to consult a dermatologist for further evaluation as soon as possible.", lesionType, pct)
	default:
		text = fmt.Sprintf("The analysis provided a %s confidence assessment for the detected lesion type: %s. "+
			"Please consult a healthcare professional for a more detailed evaluation and next steps.", pct, lesionType)
	}

	certainty := "lower"
	switch {
	case confidence > 80:
		certainty = "high"
	case confidence > 60:
		certainty = "moderate"
	}

	actions := []any{"Continue regular self-examination", "Take note of any changes"}
	followUp := "Regular dermatology check-ups as recommended"
	if risk == "high" {
		actions = []any{"Schedule appointment with dermatologist", "Monitor for changes"}
		followUp = "Consult a dermatologist within 1-2 weeks"
	}
	reassurance := []any{"Analysis completed successfully"}
	if confidence > 70 {
		reassurance = []any{"High confidence analysis", "Clear imaging quality"}
	}

	return map[string]any{
		"summary": text,
		"interpretation": map[string]any{
			"risk_level":            risk,
			"confidence_assessment": fmt.Sprintf("%s confidence indicates %s certainty in the analysis.", pct, certainty),
			"key_findings":          []any{"Detected: " + lesionType, "Confidence: " + pct},
		},
		"recommendations": map[string]any{
			"immediate_actions": actions,
			"follow_up":         followUp,
			"monitoring":        "Check monthly for size, color, or shape changes",
		},
		"context": map[string]any{
			"lesion_type_explanation": "This appears to be classified as: " + predicted,
			"what_to_watch_for":       []any{"Changes in size", "Changes in color", "Irregular borders", "Unusual symptoms"},
			"reassurance_factors":     reassurance,
		},
		"medical_disclaimer": medicalDisclaimer,
	}
}

// toFloat reads JSON numbers and numeric strings.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f)
	}
	return 0, false
}
