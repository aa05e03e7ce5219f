package database

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names owned by this server.
const (
	UsersCollection       = "users"
	TokensCollection      = "auth_tokens"
	ImagesCollection      = "images"
	PredictionsCollection = "predictions"
	SummariesCollection   = "llm_summaries"
	LogsCollection        = "system_logs"
	FeedbackCollection    = "feedback"
)

// Open connects to MongoDB and verifies the connection.
func Open(uri string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(25).
		SetServerSelectionTimeout(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	// Ping with timeout
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// Store holds the collection handles built once at startup.  It is passed
// explicitly to every repository constructor.
type Store struct {
	DB          *mongo.Database
	Users       *mongo.Collection
	Tokens      *mongo.Collection
	Images      *mongo.Collection
	Predictions *mongo.Collection
	Summaries   *mongo.Collection
	Logs        *mongo.Collection
	Feedback    *mongo.Collection
}

// NewStore binds the collection handles of db.
func NewStore(db *mongo.Database) *Store {
	return &Store{
		DB:          db,
		Users:       db.Collection(UsersCollection),
		Tokens:      db.Collection(TokensCollection),
		Images:      db.Collection(ImagesCollection),
		Predictions: db.Collection(PredictionsCollection),
		Summaries:   db.Collection(SummariesCollection),
		Logs:        db.Collection(LogsCollection),
		Feedback:    db.Collection(FeedbackCollection),
	}
}
