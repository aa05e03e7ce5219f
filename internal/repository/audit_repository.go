package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iliyamo/dermascan/internal/database"
	"github.com/iliyamo/dermascan/internal/model"
)

// AuditRepo handles the append-only `system_logs` collection.  There is no
// update or delete path.
type AuditRepo struct{ C *mongo.Collection }

func NewAuditRepo(s *database.Store) *AuditRepo { return &AuditRepo{C: s.Logs} }

func (r *AuditRepo) Insert(ctx context.Context, e *model.AuditEntry) error {
	_, err := r.C.InsertOne(ctx, e)
	return mapErr(err)
}

func auditQuery(f model.AuditFilter) bson.M {
	q := bson.M{}
	if f.UserID != "" {
		q["user_id"] = f.UserID
	}
	if f.Action != "" {
		q["action"] = f.Action
	}
	ts := bson.M{}
	if !f.Since.IsZero() {
		ts["$gte"] = f.Since
	}
	if !f.Until.IsZero() {
		ts["$lte"] = f.Until
	}
	if len(ts) > 0 {
		q["timestamp"] = ts
	}
	return q
}

// Find returns matching entries, newest first, plus the total match count.
func (r *AuditRepo) Find(ctx context.Context, f model.AuditFilter, limit int64) ([]model.AuditEntry, int64, error) {
	q := auditQuery(f)
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(limit)
	cur, err := r.C.Find(ctx, q, opts)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	logs := []model.AuditEntry{}
	if err := cur.All(ctx, &logs); err != nil {
		return nil, 0, err
	}
	total, err := r.C.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// Stats groups entries by action (most frequent first) and counts the total
// and the entries at or after since.
func (r *AuditRepo) Stats(ctx context.Context, since time.Time) (model.AuditStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$action"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "last_occurrence", Value: bson.D{{Key: "$max", Value: "$timestamp"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}}}},
	}
	var st model.AuditStats
	cur, err := r.C.Aggregate(ctx, pipeline)
	if err != nil {
		return st, mapErr(err)
	}
	st.ActionBreakdown = []model.ActionCount{}
	if err := cur.All(ctx, &st.ActionBreakdown); err != nil {
		return st, err
	}
	if st.TotalLogs, err = r.C.CountDocuments(ctx, bson.M{}); err != nil {
		return st, err
	}
	if st.LogsLast24h, err = r.C.CountDocuments(ctx, bson.M{"timestamp": bson.M{"$gte": since}}); err != nil {
		return st, err
	}
	return st, nil
}
