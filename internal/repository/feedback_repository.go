package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iliyamo/dermascan/internal/database"
	"github.com/iliyamo/dermascan/internal/model"
)

// FeedbackRepo handles the `feedback` collection.
type FeedbackRepo struct{ C *mongo.Collection }

func NewFeedbackRepo(s *database.Store) *FeedbackRepo { return &FeedbackRepo{C: s.Feedback} }

func (r *FeedbackRepo) Insert(ctx context.Context, f *model.Feedback) (primitive.ObjectID, error) {
	res, err := r.C.InsertOne(ctx, f)
	if err != nil {
		return primitive.NilObjectID, mapErr(err)
	}
	id, _ := res.InsertedID.(primitive.ObjectID)
	f.ID = id
	return id, nil
}

// Find lists feedback newest first.
func (r *FeedbackRepo) Find(ctx context.Context, f model.FeedbackFilter, limit int64) ([]model.Feedback, error) {
	q := bson.M{"user_id": f.UserID}
	if f.SummaryID != "" {
		q["summary_id"] = f.SummaryID
	}
	if f.FeedbackType != "" {
		q["feedback_type"] = f.FeedbackType
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cur, err := r.C.Find(ctx, q, opts)
	if err != nil {
		return nil, mapErr(err)
	}
	out := []model.Feedback{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Analytics aggregates counts per type, the usefulness distribution and the
// number of entries created at or after since.  AverageUsefulness is left to
// the caller.
func (r *FeedbackRepo) Analytics(ctx context.Context, since time.Time) (model.FeedbackAnalytics, error) {
	var a model.FeedbackAnalytics

	byType := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$feedback_type"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "avgUsefulness", Value: bson.D{{Key: "$avg", Value: "$usefulness_score"}}},
		}}},
	}
	cur, err := r.C.Aggregate(ctx, byType)
	if err != nil {
		return a, mapErr(err)
	}
	a.FeedbackByType = []model.FeedbackTypeStat{}
	if err := cur.All(ctx, &a.FeedbackByType); err != nil {
		return a, err
	}

	dist := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"usefulness_score": bson.M{"$exists": true, "$ne": nil}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$usefulness_score"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
	cur, err = r.C.Aggregate(ctx, dist)
	if err != nil {
		return a, mapErr(err)
	}
	a.UsefulnessDistribution = []model.UsefulnessBucket{}
	if err := cur.All(ctx, &a.UsefulnessDistribution); err != nil {
		return a, err
	}

	if a.TotalFeedback, err = r.C.CountDocuments(ctx, bson.M{}); err != nil {
		return a, err
	}
	if a.RecentFeedback, err = r.C.CountDocuments(ctx, bson.M{"created_at": bson.M{"$gte": since}}); err != nil {
		return a, err
	}
	return a, nil
}
