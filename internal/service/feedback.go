package service

import (
	"context"
	"time"

	"github.com/iliyamo/dermascan/internal/apperr"
	"github.com/iliyamo/dermascan/internal/model"
)

const recentFeedbackWindow = 7 * 24 * time.Hour

// TokenResolver maps a bearer token to its user.  AuthService implements it.
type TokenResolver interface {
	ResolveToken(ctx context.Context, raw string) (*model.User, *model.AuthToken, error)
}

// FeedbackService records user ratings of LLM summaries.
type FeedbackService struct {
	store  FeedbackStore
	tokens TokenResolver
	audit  Auditor
	system SystemAuditor
	now    func() time.Time
}

func NewFeedbackService(store FeedbackStore, tokens TokenResolver, audit Auditor, system SystemAuditor) *FeedbackService {
	return &FeedbackService{store: store, tokens: tokens, audit: audit, system: system, now: time.Now}
}

// WithClock replaces the time source.
func (s *FeedbackService) WithClock(now func() time.Time) *FeedbackService {
	s.now = now
	return s
}

type FeedbackInput struct {
	SummaryID       string `json:"summary_id"`
	UserID          string `json:"user_id"`
	ImageID         string `json:"image_id"`
	FeedbackType    string `json:"feedback_type"`
	UsefulnessScore *int   `json:"usefulness_score"`
	UserComment     string `json:"user_comment"`
	Timestamp       string `json:"timestamp"`
}

// Submit stores one feedback entry and returns its id.  A zero usefulness
// score is treated as absent.
func (s *FeedbackService) Submit(ctx context.Context, in FeedbackInput) (string, error) {
	if in.SummaryID == "" || in.UserID == "" || in.FeedbackType == "" {
		return "", apperr.Validation("Required fields missing: summary_id, user_id, feedback_type")
	}
	score := in.UsefulnessScore
	if score != nil && *score == 0 {
		score = nil
	}
	if score != nil && (*score < 1 || *score > 5) {
		return "", apperr.Validation("usefulness_score must be between 1 and 5")
	}

	now := s.now().UTC()
	f := &model.Feedback{
		SummaryID:       in.SummaryID,
		UserID:          in.UserID,
		FeedbackType:    in.FeedbackType,
		UsefulnessScore: score,
		UserComment:     in.UserComment,
		Timestamp:       in.Timestamp,
		CreatedAt:       now,
		Context:         model.FeedbackContext{Platform: "web_app", Feature: "llm_summaries"},
	}
	if in.ImageID != "" {
		f.ImageID = &in.ImageID
	}
	if f.Timestamp == "" {
		f.Timestamp = now.Format(time.RFC3339Nano)
	}
	id, err := s.store.Insert(ctx, f)
	if err != nil {
		return "", apperr.Internal("Failed to store feedback", err)
	}

	s.system.RecordSystem(ctx, in.UserID, "feedback_submitted", map[string]any{
		"feedback_id":      id.Hex(),
		"feedback_type":    in.FeedbackType,
		"usefulness_score": score,
	})
	return id.Hex(), nil
}

// List returns a user's feedback, newest first.  limit defaults to 50.
func (s *FeedbackService) List(ctx context.Context, f model.FeedbackFilter, limit int64) ([]model.FeedbackView, error) {
	if f.UserID == "" {
		return nil, apperr.Validation("User ID required")
	}
	if limit <= 0 {
		limit = 50
	}
	entries, err := s.store.Find(ctx, f, limit)
	if err != nil {
		return nil, apperr.Internal("Failed to load feedback", err)
	}
	out := make([]model.FeedbackView, 0, len(entries))
	for i := range entries {
		out = append(out, entries[i].View())
	}
	return out, nil
}

// Analytics aggregates all feedback for an admin identified by adminToken.
// Any token problem, including a non-admin caller, is reported the same way.
func (s *FeedbackService) Analytics(ctx context.Context, adminToken string, client model.ClientInfo) (model.FeedbackAnalytics, error) {
	denied := apperr.Auth("Admin access required")
	if adminToken == "" {
		return model.FeedbackAnalytics{}, denied
	}
	u, _, err := s.tokens.ResolveToken(ctx, adminToken)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			return model.FeedbackAnalytics{}, err
		}
		return model.FeedbackAnalytics{}, denied
	}
	if !u.IsAdmin() {
		return model.FeedbackAnalytics{}, denied
	}

	a, err := s.store.Analytics(ctx, s.now().Add(-recentFeedbackWindow))
	if err != nil {
		return model.FeedbackAnalytics{}, apperr.Internal("Failed to compute feedback analytics", err)
	}
	a.AverageUsefulness = averageUsefulness(a.FeedbackByType)

	s.audit.Record(ctx, model.ActionFeedbackAnalytics, u.ID.Hex(), map[string]any{
		"accessed_by":    u.Username,
		"total_feedback": a.TotalFeedback,
	}, client)
	return a, nil
}

// averageUsefulness is the mean of the per-type averages; types without any
// score count as zero.
func averageUsefulness(stats []model.FeedbackTypeStat) float64 {
	if len(stats) == 0 {
		return 0
	}
	var sum float64
	for _, st := range stats {
		if st.AvgUsefulness != nil {
			sum += *st.AvgUsefulness
		}
	}
	return sum / float64(len(stats))
}
