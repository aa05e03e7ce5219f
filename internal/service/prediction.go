package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/apperr"
	"github.com/iliyamo/dermascan/internal/metrics"
	"github.com/iliyamo/dermascan/internal/model"
	"github.com/iliyamo/dermascan/internal/repository"
	"github.com/iliyamo/dermascan/internal/storage"
)

// PredictionService stores classification results and serves the history
// views.  It also runs the Grad-CAM pipeline and the raw uploads.
type PredictionService struct {
	images      ImageStore
	predictions PredictionStore
	objects     ObjectStorage
	renderer    GradcamRenderer
	audit       Auditor
	log         *zap.Logger
	now         func() time.Time
}

func NewPredictionService(images ImageStore, predictions PredictionStore, objects ObjectStorage, renderer GradcamRenderer, audit Auditor, log *zap.Logger) *PredictionService {
	return &PredictionService{
		images:      images,
		predictions: predictions,
		objects:     objects,
		renderer:    renderer,
		audit:       audit,
		log:         log,
		now:         time.Now,
	}
}

// WithClock replaces the time source.
func (s *PredictionService) WithClock(now func() time.Time) *PredictionService {
	s.now = now
	return s
}

// StoreInput carries one classification result.  ConfidenceScores and
// GradcamURI are pointers so that "absent" and "empty" stay distinct.
type StoreInput struct {
	UserID           string         `json:"user_id"`
	ImageURI         string         `json:"image_uri"`
	Filename         string         `json:"filename"`
	PredictedClass   string         `json:"predicted_class"`
	ConfidenceScores map[string]any `json:"confidence_scores"`
	ConfidenceScore  any            `json:"confidence_score"`
	ModelVersion     string         `json:"model_version"`
	GradcamURI       *string        `json:"gradcam_uri"`
	Notes            any            `json:"notes"`
}

type Stored struct {
	ImageID      string `json:"image_id"`
	PredictionID string `json:"prediction_id"`
}

// Store inserts the Image and then its Prediction.  When the Prediction
// insert fails the Image is removed again so no orphan is left behind.
func (s *PredictionService) Store(ctx context.Context, in StoreInput, client model.ClientInfo) (Stored, error) {
	if in.UserID == "" || in.ImageURI == "" || in.Filename == "" || in.PredictedClass == "" ||
		in.ConfidenceScores == nil || in.ModelVersion == "" || in.GradcamURI == nil {
		return Stored{}, apperr.Validation("Missing required fields")
	}

	now := s.now().UTC()
	img := &model.Image{
		UserID:          in.UserID,
		ImageURI:        in.ImageURI,
		Filename:        in.Filename,
		UploadTimestamp: now,
	}
	imageID, err := s.images.Insert(ctx, img)
	if err != nil {
		return Stored{}, apperr.Internal("Failed to store image", err)
	}

	p := &model.Prediction{
		ImageID:            imageID,
		PredictedClass:     in.PredictedClass,
		ConfidenceScores:   in.ConfidenceScores,
		ModelVersion:       in.ModelVersion,
		InferenceTimestamp: now,
		GradcamURI:         *in.GradcamURI,
	}
	if f, ok := in.ConfidenceScore.(float64); ok {
		p.ConfidenceScore = &f
	}
	if n, ok := in.Notes.(string); ok {
		p.Notes = strings.TrimSpace(n)
	}
	predictionID, err := s.predictions.Insert(ctx, p)
	if err != nil {
		if derr := s.images.Delete(context.WithoutCancel(ctx), imageID); derr != nil {
			s.log.Error("orphan image cleanup failed", zap.String("image_id", imageID.Hex()), zap.Error(derr))
		}
		return Stored{}, apperr.Internal("Failed to store prediction", err)
	}

	s.audit.Record(ctx, model.ActionPredictionMade, in.UserID, map[string]any{
		"image_id":          imageID.Hex(),
		"prediction_id":     predictionID.Hex(),
		"filename":          in.Filename,
		"predicted_class":   in.PredictedClass,
		"confidence_scores": in.ConfidenceScores,
		"model_version":     in.ModelVersion,
		"has_gradcam":       *in.GradcamURI != "",
	}, client)
	return Stored{ImageID: imageID.Hex(), PredictionID: predictionID.Hex()}, nil
}

// History returns every prediction of userID, newest upload first, and
// audits the access.
func (s *PredictionService) History(ctx context.Context, userID string, client model.ClientInfo) ([]model.PredictionRecord, error) {
	if userID == "" {
		return nil, apperr.Validation("User ID required")
	}
	records, err := s.records(ctx, userID, time.Time{}, 0)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, model.ActionPredictionHistoryAccessed, userID, map[string]any{
		"predictions_count": len(records),
	}, client)
	return records, nil
}

// Recent returns the latest limit predictions of userID.  limit defaults to 10.
func (s *PredictionService) Recent(ctx context.Context, userID string, limit int64) ([]model.PredictionRecord, error) {
	if userID == "" {
		return nil, apperr.Validation("User ID required")
	}
	if limit <= 0 {
		limit = 10
	}
	return s.records(ctx, userID, time.Time{}, limit)
}

// records joins images with their predictions.  Predictions are resolved in
// one query; images that have none are skipped.
func (s *PredictionService) records(ctx context.Context, userID string, since time.Time, limit int64) ([]model.PredictionRecord, error) {
	images, preds, err := s.joined(ctx, userID, since, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.PredictionRecord, 0, len(images))
	for _, img := range images {
		if p, ok := preds[img.ID]; ok {
			out = append(out, model.NewPredictionRecord(img, p))
		}
	}
	return out, nil
}

func (s *PredictionService) joined(ctx context.Context, userID string, since time.Time, limit int64) ([]model.Image, map[primitive.ObjectID]model.Prediction, error) {
	images, err := s.images.ListByUser(ctx, userID, since, limit)
	if err != nil {
		return nil, nil, apperr.Internal("Failed to load images", err)
	}
	ids := make([]primitive.ObjectID, 0, len(images))
	for _, img := range images {
		ids = append(ids, img.ID)
	}
	preds, err := s.predictions.ByImageIDs(ctx, ids)
	if err != nil {
		return nil, nil, apperr.Internal("Failed to load predictions", err)
	}
	return images, preds, nil
}

// UpdateGradcamURI patches one prediction.  A prediction that is missing, or
// already carries uri, is reported as not found.
func (s *PredictionService) UpdateGradcamURI(ctx context.Context, predictionID, uri string) error {
	if predictionID == "" || uri == "" {
		return apperr.Validation("Missing prediction_id or gradcam_uri")
	}
	oid, err := primitive.ObjectIDFromHex(predictionID)
	if err != nil {
		return apperr.Validation("Invalid prediction_id")
	}
	modified, err := s.predictions.SetGradcamURI(ctx, oid, uri)
	if err != nil {
		return apperr.Internal("Failed to update prediction", err)
	}
	if !modified {
		return apperr.NotFound("Prediction not found or not updated")
	}
	return nil
}

// GenerateGradcam renders a Grad-CAM overlay for a stored prediction and
// returns its public URL.  If the prediction cannot be patched afterwards
// the uploaded object is deleted.
func (s *PredictionService) GenerateGradcam(ctx context.Context, predictionID string, client model.ClientInfo) (string, error) {
	if predictionID == "" {
		return "", apperr.Validation("Missing prediction_id")
	}
	oid, err := primitive.ObjectIDFromHex(predictionID)
	if err != nil {
		return "", apperr.Validation("Invalid prediction_id")
	}
	p, err := s.predictions.GetByID(ctx, oid)
	if errors.Is(err, repository.ErrNotFound) {
		return "", apperr.NotFound("Prediction not found")
	}
	if err != nil {
		return "", apperr.Internal("Failed to load prediction", err)
	}
	img, err := s.images.GetByID(ctx, p.ImageID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && img.ImageURI == "") {
		return "", apperr.NotFound("Original image not found")
	}
	if err != nil {
		return "", apperr.Internal("Failed to load image", err)
	}

	original, err := s.renderer.Fetch(ctx, img.ImageURI)
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("image_fetch").Inc()
		return "", apperr.Upstream("Failed to download original image", err)
	}
	overlay, err := s.renderer.Gradcam(ctx, img.Filename, original)
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("inference").Inc()
		return "", apperr.Upstream("Grad-CAM generation failed", err)
	}

	key := storage.ObjectKey(storage.GradcamPrefix, predictionID+".jpg", s.now())
	url, err := s.objects.Put(ctx, key, "image/jpeg", overlay)
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("object_storage").Inc()
		return "", apperr.Upstream("Failed to upload Grad-CAM", err)
	}
	if _, err := s.predictions.SetGradcamURI(ctx, oid, url); err != nil {
		if derr := s.objects.Delete(context.WithoutCancel(ctx), key); derr != nil {
			s.log.Error("gradcam object cleanup failed", zap.String("key", key), zap.Error(derr))
		}
		return "", apperr.Internal("Failed to update prediction", err)
	}

	s.audit.Record(ctx, model.ActionGradcamGenerated, img.UserID, map[string]any{
		"prediction_id": predictionID,
		"gradcam_uri":   url,
	}, client)
	return url, nil
}

// Upload is a file received from a multipart form.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// UploadImage stores an original image under uploads/ and returns its URL.
func (s *PredictionService) UploadImage(ctx context.Context, userID string, f Upload, client model.ClientInfo) (string, error) {
	url, err := s.put(ctx, storage.UploadsPrefix, f)
	if err != nil {
		return "", err
	}
	s.audit.Record(ctx, model.ActionImageUpload, uploader(userID), map[string]any{
		"filename":      f.Filename,
		"filesize":      len(f.Data),
		"mimetype":      f.ContentType,
		"uploaded_path": url,
	}, client)
	return url, nil
}

// UploadGradcam stores a Grad-CAM image under gradcam/.  When predictionID
// is set the prediction is patched as well; a failed patch is logged and
// reported through the returned flag, never as an error.
func (s *PredictionService) UploadGradcam(ctx context.Context, userID, predictionID string, f Upload, client model.ClientInfo) (string, bool, error) {
	url, err := s.put(ctx, storage.GradcamPrefix, f)
	if err != nil {
		return "", false, err
	}
	details := map[string]any{
		"filename":      f.Filename,
		"filesize":      len(f.Data),
		"mimetype":      f.ContentType,
		"uploaded_path": url,
		"prediction_id": nil,
	}
	if predictionID != "" {
		details["prediction_id"] = predictionID
	}
	s.audit.Record(ctx, model.ActionGradcamUpload, uploader(userID), details, client)

	if predictionID == "" {
		return url, false, nil
	}
	oid, err := primitive.ObjectIDFromHex(predictionID)
	if err != nil {
		s.log.Warn("gradcam upload with invalid prediction_id", zap.String("prediction_id", predictionID))
		return url, false, nil
	}
	modified, err := s.predictions.SetGradcamURI(ctx, oid, url)
	if err != nil {
		s.log.Error("update gradcam_uri failed", zap.String("prediction_id", predictionID), zap.Error(err))
		return url, false, nil
	}
	return url, modified, nil
}

func (s *PredictionService) put(ctx context.Context, prefix string, f Upload) (string, error) {
	if len(f.Data) == 0 {
		return "", apperr.Validation("No file uploaded")
	}
	url, err := s.objects.Put(ctx, storage.ObjectKey(prefix, f.Filename, s.now()), f.ContentType, f.Data)
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("object_storage").Inc()
		return "", apperr.Upstream("Upload failed", err)
	}
	return url, nil
}

func uploader(userID string) string {
	if userID == "" {
		return "anonymous"
	}
	return userID
}
