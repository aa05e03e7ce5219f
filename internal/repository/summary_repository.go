package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iliyamo/dermascan/internal/database"
	"github.com/iliyamo/dermascan/internal/model"
)

// SummaryRepo handles the `llm_summaries` collection.
type SummaryRepo struct{ C *mongo.Collection }

func NewSummaryRepo(s *database.Store) *SummaryRepo { return &SummaryRepo{C: s.Summaries} }

func (r *SummaryRepo) Insert(ctx context.Context, s *model.LLMSummary) (primitive.ObjectID, error) {
	res, err := r.C.InsertOne(ctx, s)
	if err != nil {
		return primitive.NilObjectID, mapErr(err)
	}
	id, _ := res.InsertedID.(primitive.ObjectID)
	s.ID = id
	return id, nil
}

func (r *SummaryRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*model.LLMSummary, error) {
	var s model.LLMSummary
	if err := r.C.FindOne(ctx, bson.M{"_id": id}).Decode(&s); err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

// ListByUser returns a user's summaries sorted descending by sortBy.
func (r *SummaryRepo) ListByUser(ctx context.Context, userID, sortBy string, limit int64) ([]model.LLMSummary, error) {
	opts := options.Find().SetSort(bson.D{{Key: sortBy, Value: -1}}).SetLimit(limit)
	cur, err := r.C.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, mapErr(err)
	}
	out := []model.LLMSummary{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
