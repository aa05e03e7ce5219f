package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LLMSummary is a document in the `llm_summaries` collection.  Summaries
// are written once and never updated.  PredictedClass, ConfidenceScore and
// RiskLevel are denormalized from OriginalMLResults and LLMSummary so they
// can be queried directly.
type LLMSummary struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	UserID            string             `bson:"user_id" json:"user_id"`
	UploadID          *string            `bson:"upload_id" json:"upload_id"`
	OriginalMLResults map[string]any     `bson:"original_ml_results" json:"original_ml_results"`
	Summary           map[string]any     `bson:"llm_summary" json:"llm_summary"`
	GeneratedAt       string             `bson:"generated_at" json:"generated_at"`
	ModelUsed         string             `bson:"model_used" json:"model_used"`
	Version           string             `bson:"version" json:"version"`
	CreatedTimestamp  time.Time          `bson:"created_timestamp" json:"created_timestamp"`
	PredictedClass    any                `bson:"predicted_class" json:"predicted_class"`
	ConfidenceScore   any                `bson:"confidence_score" json:"confidence_score"`
	RiskLevel         string             `bson:"risk_level" json:"risk_level"`
}

// SummaryView is the camelCase shape served by the per-user summary listing.
type SummaryView struct {
	ID               string         `json:"_id"`
	UserID           string         `json:"userId"`
	UploadID         *string        `json:"uploadId"`
	OriginalResults  map[string]any `json:"originalResults"`
	LLMSummary       map[string]any `json:"llmSummary"`
	GeneratedAt      string         `json:"generatedAt"`
	ModelUsed        string         `json:"modelUsed"`
	Version          string         `json:"version"`
	CreatedTimestamp time.Time      `json:"createdTimestamp"`
	PredictedClass   any            `json:"predictedClass"`
	ConfidenceScore  any            `json:"confidenceScore"`
	RiskLevel        string         `json:"riskLevel"`
}

// View converts s to its camelCase listing form.
func (s *LLMSummary) View() SummaryView {
	return SummaryView{
		ID:               s.ID.Hex(),
		UserID:           s.UserID,
		UploadID:         s.UploadID,
		OriginalResults:  s.OriginalMLResults,
		LLMSummary:       s.Summary,
		GeneratedAt:      s.GeneratedAt,
		ModelUsed:        s.ModelUsed,
		Version:          s.Version,
		CreatedTimestamp: s.CreatedTimestamp,
		PredictedClass:   s.PredictedClass,
		ConfidenceScore:  s.ConfidenceScore,
		RiskLevel:        s.RiskLevel,
	}
}

// PredictionSummary is a summary derived on the fly from an Image and its
// Prediction, with a heuristic risk level and lay terminology attached.
type PredictionSummary struct {
	ID                 string         `json:"_id"`
	UserID             string         `json:"user_id"`
	ImageID            string         `json:"image_id"`
	Filename           string         `json:"filename"`
	UploadTimestamp    time.Time      `json:"upload_timestamp"`
	PredictedClass     string         `json:"predicted_class"`
	ConfidenceScores   map[string]any `json:"confidence_scores"`
	ModelVersion       string         `json:"model_version"`
	InferenceTimestamp time.Time      `json:"inference_timestamp"`
	ImageURI           string         `json:"image_uri"`
	GradcamURI         string         `json:"gradcam_uri"`
	AnalysisType       string         `json:"analysis_type"`
	RiskLevel          string         `json:"risk_level"`
	MedicalTerminology []string       `json:"medical_terminology"`
}
