package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/iliyamo/dermascan/internal/database"
	"github.com/iliyamo/dermascan/internal/model"
)

// TokenRepo persists session token hashes (unique 'token_hash' index).
type TokenRepo struct{ C *mongo.Collection }

func NewTokenRepo(s *database.Store) *TokenRepo { return &TokenRepo{C: s.Tokens} }

// Store inserts a token document.
func (r *TokenRepo) Store(ctx context.Context, t *model.AuthToken) error {
	_, err := r.C.InsertOne(ctx, t)
	return mapErr(err)
}

// GetByHash returns the token with tokenHash.  Expiry is not checked here;
// callers decide against their own clock.
func (r *TokenRepo) GetByHash(ctx context.Context, tokenHash string) (*model.AuthToken, error) {
	var t model.AuthToken
	if err := r.C.FindOne(ctx, bson.M{"token_hash": tokenHash}).Decode(&t); err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}
