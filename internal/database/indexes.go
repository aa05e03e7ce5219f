package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Index names referenced when classifying duplicate-key errors.
const (
	UsernameIndex  = "uniq_username"
	EmailIndex     = "uniq_email"
	TokenHashIndex = "uniq_token_hash"
)

// EnsureIndexes creates the indexes the repositories depend on.  Uniqueness
// of usernames, emails and token hashes is enforced here, not by lookups
// before insert.  Creating an index that already exists is a no-op.
func EnsureIndexes(ctx context.Context, s *Store) error {
	specs := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.Users, []mongo.IndexModel{
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetName(UsernameIndex).SetUnique(true).SetPartialFilterExpression(bson.M{"username": bson.M{"$type": "string"}})},
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetName(EmailIndex).SetUnique(true)},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		}},
		{s.Tokens, []mongo.IndexModel{
			{Keys: bson.D{{Key: "token_hash", Value: 1}}, Options: options.Index().SetName(TokenHashIndex).SetUnique(true)},
		}},
		{s.Images, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "upload_timestamp", Value: -1}}},
		}},
		{s.Predictions, []mongo.IndexModel{
			{Keys: bson.D{{Key: "image_id", Value: 1}}},
		}},
		{s.Summaries, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_timestamp", Value: -1}}},
		}},
		{s.Logs, []mongo.IndexModel{
			{Keys: bson.D{{Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "action", Value: 1}}},
		}},
		{s.Feedback, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		}},
	}
	for _, sp := range specs {
		if _, err := sp.coll.Indexes().CreateMany(ctx, sp.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", sp.coll.Name(), err)
		}
	}
	return nil
}
