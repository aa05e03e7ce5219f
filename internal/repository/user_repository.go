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

type UserRepo struct{ C *mongo.Collection }

func NewUserRepo(s *database.Store) *UserRepo { return &UserRepo{C: s.Users} }

// Create inserts u and returns its id.  Duplicate usernames or emails come
// back as ErrUsernameExists / ErrEmailExists from the unique indexes.
func (r *UserRepo) Create(ctx context.Context, u *model.User) (primitive.ObjectID, error) {
	res, err := r.C.InsertOne(ctx, u)
	if err != nil {
		return primitive.NilObjectID, mapErr(err)
	}
	id, _ := res.InsertedID.(primitive.ObjectID)
	u.ID = id
	return id, nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *UserRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*model.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *UserRepo) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	var u model.User
	if err := r.C.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

// TouchLastLogin records a successful login.
func (r *UserRepo) TouchLastLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	_, err := r.C.UpdateByID(ctx, id, bson.M{"$set": bson.M{"last_login": at}})
	return mapErr(err)
}

// SetRole changes a user's role.  ErrNotFound when no user has id.
func (r *UserRepo) SetRole(ctx context.Context, id primitive.ObjectID, role string) error {
	res, err := r.C.UpdateByID(ctx, id, bson.M{"$set": bson.M{"role": role}})
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns one page of users, newest first, with password material
// projected out, plus the total count for the filter.
func (r *UserRepo) List(ctx context.Context, role string, skip, limit int64) ([]model.User, int64, error) {
	filter := bson.M{}
	if role != "" {
		filter["role"] = role
	}
	opts := options.Find().
		SetProjection(bson.M{"password_hash": 0, "salt": 0}).
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(skip).
		SetLimit(limit)
	cur, err := r.C.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	users := []model.User{}
	if err := cur.All(ctx, &users); err != nil {
		return nil, 0, err
	}
	total, err := r.C.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// CountAdmins reports how many users hold the admin role.
func (r *UserRepo) CountAdmins(ctx context.Context) (int64, error) {
	return r.C.CountDocuments(ctx, bson.M{"role": model.RoleAdmin})
}

// WithoutUsername lists users created before usernames existed.
func (r *UserRepo) WithoutUsername(ctx context.Context) ([]model.User, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"username": bson.M{"$exists": false}},
		bson.M{"username": nil},
		bson.M{"username": ""},
	}}
	cur, err := r.C.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	users := []model.User{}
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// UsernameTaken reports whether any user already has username.
func (r *UserRepo) UsernameTaken(ctx context.Context, username string) (bool, error) {
	n, err := r.C.CountDocuments(ctx, bson.M{"username": username}, options.Count().SetLimit(1))
	return n > 0, err
}

// SetUsername assigns a username to an existing user.
func (r *UserRepo) SetUsername(ctx context.Context, id primitive.ObjectID, username string) error {
	_, err := r.C.UpdateByID(ctx, id, bson.M{"$set": bson.M{"username": username}})
	return mapErr(err)
}
