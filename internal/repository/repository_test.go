package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/iliyamo/dermascan/internal/database"
	"github.com/iliyamo/dermascan/internal/model"
)

func dupKey(index string) bson.D {
	return mtest.CreateWriteErrorsResponse(mtest.WriteError{
		Index:   0,
		Code:    11000,
		Message: "E11000 duplicate key error collection: test.users index: " + index + " dup key",
	})
}

func TestUserRepo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("create returns id", func(mt *mtest.T) {
		repo := NewUserRepo(database.NewStore(mt.DB))
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		u := &model.User{Username: "drtest", Email: "dr@test.com", Role: model.RoleUser}
		id, err := repo.Create(ctx, u)
		require.NoError(mt, err)
		assert.False(mt, id.IsZero())
		assert.Equal(mt, id, u.ID)
	})

	mt.Run("create maps duplicate email", func(mt *mtest.T) {
		repo := NewUserRepo(database.NewStore(mt.DB))
		mt.AddMockResponses(dupKey(database.EmailIndex))

		_, err := repo.Create(ctx, &model.User{Username: "a", Email: "dr@test.com"})
		assert.ErrorIs(mt, err, ErrEmailExists)
	})

	mt.Run("create maps duplicate username", func(mt *mtest.T) {
		repo := NewUserRepo(database.NewStore(mt.DB))
		mt.AddMockResponses(dupKey(database.UsernameIndex))

		_, err := repo.Create(ctx, &model.User{Username: "drtest", Email: "x@test.com"})
		assert.ErrorIs(mt, err, ErrUsernameExists)
	})

	mt.Run("get by username decodes", func(mt *mtest.T) {
		repo := NewUserRepo(database.NewStore(mt.DB))
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.users", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: id},
			{Key: "username", Value: "drtest"},
			{Key: "email", Value: "dr@test.com"},
			{Key: "role", Value: "admin"},
		}))

		u, err := repo.GetByUsername(ctx, "drtest")
		require.NoError(mt, err)
		assert.Equal(mt, id, u.ID)
		assert.True(mt, u.IsAdmin())
		assert.Nil(mt, u.LastLogin)
	})

	mt.Run("get by email not found", func(mt *mtest.T) {
		repo := NewUserRepo(database.NewStore(mt.DB))
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.users", mtest.FirstBatch))

		_, err := repo.GetByEmail(ctx, "nobody@test.com")
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("set role on missing user", func(mt *mtest.T) {
		repo := NewUserRepo(database.NewStore(mt.DB))
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))

		err := repo.SetRole(ctx, primitive.NewObjectID(), model.RoleAdmin)
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("list returns page and total", func(mt *mtest.T) {
		repo := NewUserRepo(database.NewStore(mt.DB))
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "test.users", mtest.FirstBatch,
				bson.D{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "username", Value: "b"}},
				bson.D{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "username", Value: "a"}},
			),
			mtest.CreateCursorResponse(0, "test.users", mtest.FirstBatch, bson.D{{Key: "n", Value: int32(7)}}),
		)

		users, total, err := repo.List(ctx, "", 0, 2)
		require.NoError(mt, err)
		assert.Len(mt, users, 2)
		assert.Equal(mt, "b", users[0].Username)
		assert.Equal(mt, int64(7), total)
	})
}

func TestPredictionRepo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("by image ids keeps first per image", func(mt *mtest.T) {
		repo := NewPredictionRepo(database.NewStore(mt.DB))
		imgA, imgB := primitive.NewObjectID(), primitive.NewObjectID()
		first := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.predictions", mtest.FirstBatch,
			bson.D{{Key: "_id", Value: first}, {Key: "image_id", Value: imgA}, {Key: "predicted_class", Value: "nv"}},
			bson.D{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "image_id", Value: imgA}, {Key: "predicted_class", Value: "mel"}},
			bson.D{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "image_id", Value: imgB}, {Key: "predicted_class", Value: "bcc"}},
		))

		got, err := repo.ByImageIDs(ctx, []primitive.ObjectID{imgA, imgB})
		require.NoError(mt, err)
		require.Len(mt, got, 2)
		assert.Equal(mt, first, got[imgA].ID)
		assert.Equal(mt, "bcc", got[imgB].PredictedClass)
	})

	mt.Run("by image ids with no ids skips the query", func(mt *mtest.T) {
		repo := NewPredictionRepo(database.NewStore(mt.DB))
		got, err := repo.ByImageIDs(ctx, nil)
		require.NoError(mt, err)
		assert.Empty(mt, got)
	})

	mt.Run("set gradcam uri reports modification", func(mt *mtest.T) {
		repo := NewPredictionRepo(database.NewStore(mt.DB))
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
		)

		ok, err := repo.SetGradcamURI(ctx, primitive.NewObjectID(), "https://cdn/x.jpg")
		require.NoError(mt, err)
		assert.True(mt, ok)

		ok, err = repo.SetGradcamURI(ctx, primitive.NewObjectID(), "https://cdn/x.jpg")
		require.NoError(mt, err)
		assert.False(mt, ok)
	})
}

func TestAuditRepoStats(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("stats", func(mt *mtest.T) {
		repo := NewAuditRepo(database.NewStore(mt.DB))
		last := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "test.system_logs", mtest.FirstBatch,
				bson.D{{Key: "_id", Value: "USER_LOGIN_SUCCESS"}, {Key: "count", Value: int32(5)}, {Key: "last_occurrence", Value: last}},
				bson.D{{Key: "_id", Value: "USER_LOGOUT"}, {Key: "count", Value: int32(2)}, {Key: "last_occurrence", Value: last}},
			),
			mtest.CreateCursorResponse(0, "test.system_logs", mtest.FirstBatch, bson.D{{Key: "n", Value: int32(7)}}),
			mtest.CreateCursorResponse(0, "test.system_logs", mtest.FirstBatch, bson.D{{Key: "n", Value: int32(3)}}),
		)

		st, err := repo.Stats(context.Background(), last.Add(-24*time.Hour))
		require.NoError(mt, err)
		require.Len(mt, st.ActionBreakdown, 2)
		assert.Equal(mt, "USER_LOGIN_SUCCESS", st.ActionBreakdown[0].Action)
		assert.Equal(mt, int64(5), st.ActionBreakdown[0].Count)
		assert.True(mt, last.Equal(st.ActionBreakdown[0].LastOccurrence))
		assert.Equal(mt, int64(7), st.TotalLogs)
		assert.Equal(mt, int64(3), st.LogsLast24h)
	})
}

func TestAuditQuery(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	q := auditQuery(model.AuditFilter{UserID: "u1", Action: "USER_LOGOUT", Since: since})
	assert.Equal(t, "u1", q["user_id"])
	assert.Equal(t, "USER_LOGOUT", q["action"])
	assert.Equal(t, bson.M{"$gte": since}, q["timestamp"])

	assert.Empty(t, auditQuery(model.AuditFilter{}))
}
