package model

import (
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Image is a document in the `images` collection.  UserID is a free string:
// the hex id of a registered user, or "anonymous" for unauthenticated uploads.
type Image struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	UserID          string             `bson:"user_id"`
	ImageURI        string             `bson:"image_uri"`
	Filename        string             `bson:"filename"`
	UploadTimestamp time.Time          `bson:"upload_timestamp"`
}

// Prediction is a document in the `predictions` collection, linked to one
// Image by ImageID.  ConfidenceScores is stored exactly as the ML service
// returned it.  GradcamURI may be empty and is patched later.
type Prediction struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty"`
	ImageID            primitive.ObjectID `bson:"image_id"`
	PredictedClass     string             `bson:"predicted_class"`
	ConfidenceScores   map[string]any     `bson:"confidence_scores"`
	ConfidenceScore    *float64           `bson:"confidence_score,omitempty"`
	ModelVersion       string             `bson:"model_version"`
	InferenceTimestamp time.Time          `bson:"inference_timestamp"`
	GradcamURI         string             `bson:"gradcam_uri"`
	Notes              string             `bson:"notes,omitempty"`
}

// PredictionRecord joins an Image with its Prediction for history views.
type PredictionRecord struct {
	ImageID            string         `json:"image_id"`
	PredictionID       string         `json:"prediction_id"`
	Filename           string         `json:"filename"`
	ImageURI           string         `json:"image_uri"`
	FilePath           string         `json:"file_path"`
	UploadTimestamp    time.Time      `json:"upload_timestamp"`
	PredictedClass     string         `json:"predicted_class"`
	ConfidenceScores   map[string]any `json:"confidence_scores"`
	ConfidenceScore    *float64       `json:"confidence_score,omitempty"`
	ModelVersion       string         `json:"model_version"`
	InferenceTimestamp time.Time      `json:"inference_timestamp"`
	GradcamURI         string         `json:"gradcam_uri"`
	Notes              string         `json:"notes,omitempty"`
}

// NewPredictionRecord joins img and p.
func NewPredictionRecord(img Image, p Prediction) PredictionRecord {
	return PredictionRecord{
		ImageID:            img.ID.Hex(),
		PredictionID:       p.ID.Hex(),
		Filename:           img.Filename,
		ImageURI:           img.ImageURI,
		FilePath:           relativePath(img.ImageURI),
		UploadTimestamp:    img.UploadTimestamp,
		PredictedClass:     p.PredictedClass,
		ConfidenceScores:   p.ConfidenceScores,
		ConfidenceScore:    p.ConfidenceScore,
		ModelVersion:       p.ModelVersion,
		InferenceTimestamp: p.InferenceTimestamp,
		GradcamURI:         p.GradcamURI,
		Notes:              p.Notes,
	}
}

// relativePath drops the scheme and host of an absolute URI, keeping the path
// and query.  Anything that is not an absolute URL is returned as is.
func relativePath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return uri
	}
	rel := u.EscapedPath()
	if rel == "" {
		rel = "/"
	}
	if u.RawQuery != "" {
		rel += "?" + u.RawQuery
	}
	return rel
}
