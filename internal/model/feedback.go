package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Feedback is a document in the `feedback` collection: a user's rating of
// one LLM summary.
type Feedback struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	SummaryID       string             `bson:"summary_id"`
	UserID          string             `bson:"user_id"`
	ImageID         *string            `bson:"image_id"`
	FeedbackType    string             `bson:"feedback_type"` // helpful, not_helpful, inaccurate, suggestion
	UsefulnessScore *int               `bson:"usefulness_score"`
	UserComment     string             `bson:"user_comment"`
	Timestamp       string             `bson:"timestamp"`
	CreatedAt       time.Time          `bson:"created_at"`
	Context         FeedbackContext    `bson:"context"`
}

type FeedbackContext struct {
	Platform string `bson:"platform"`
	Feature  string `bson:"feature"`
}

// FeedbackView is the camelCase listing form of a Feedback.
type FeedbackView struct {
	ID              string    `json:"_id"`
	SummaryID       string    `json:"summaryId"`
	UserID          string    `json:"userId"`
	ImageID         *string   `json:"imageId"`
	FeedbackType    string    `json:"feedbackType"`
	UsefulnessScore *int      `json:"usefulnessScore"`
	UserComment     string    `json:"userComment"`
	Timestamp       string    `json:"timestamp"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (f *Feedback) View() FeedbackView {
	return FeedbackView{
		ID:              f.ID.Hex(),
		SummaryID:       f.SummaryID,
		UserID:          f.UserID,
		ImageID:         f.ImageID,
		FeedbackType:    f.FeedbackType,
		UsefulnessScore: f.UsefulnessScore,
		UserComment:     f.UserComment,
		Timestamp:       f.Timestamp,
		CreatedAt:       f.CreatedAt,
	}
}

// FeedbackFilter narrows a feedback query.  UserID is required by callers.
type FeedbackFilter struct {
	UserID       string
	SummaryID    string
	FeedbackType string
}

// FeedbackTypeStat is one per-type row of the feedback analytics.
type FeedbackTypeStat struct {
	FeedbackType  string   `bson:"_id" json:"_id"`
	Count         int64    `bson:"count" json:"count"`
	AvgUsefulness *float64 `bson:"avgUsefulness" json:"avgUsefulness"`
}

// UsefulnessBucket counts feedback entries with a given score.
type UsefulnessBucket struct {
	Score int   `bson:"_id" json:"_id"`
	Count int64 `bson:"count" json:"count"`
}

// FeedbackAnalytics aggregates the feedback collection.
type FeedbackAnalytics struct {
	TotalFeedback          int64              `json:"totalFeedback"`
	RecentFeedback         int64              `json:"recentFeedback"`
	FeedbackByType         []FeedbackTypeStat `json:"feedbackByType"`
	UsefulnessDistribution []UsefulnessBucket `json:"usefulnessDistribution"`
	AverageUsefulness      float64            `json:"averageUsefulness"`
}
