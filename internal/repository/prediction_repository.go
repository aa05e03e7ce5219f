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

// ImageRepo handles the `images` collection.
type ImageRepo struct{ C *mongo.Collection }

func NewImageRepo(s *database.Store) *ImageRepo { return &ImageRepo{C: s.Images} }

func (r *ImageRepo) Insert(ctx context.Context, img *model.Image) (primitive.ObjectID, error) {
	res, err := r.C.InsertOne(ctx, img)
	if err != nil {
		return primitive.NilObjectID, mapErr(err)
	}
	id, _ := res.InsertedID.(primitive.ObjectID)
	img.ID = id
	return id, nil
}

// Delete removes an image document.  It is used to undo an Insert whose
// paired prediction could not be written.
func (r *ImageRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	_, err := r.C.DeleteOne(ctx, bson.M{"_id": id})
	return mapErr(err)
}

func (r *ImageRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*model.Image, error) {
	var img model.Image
	if err := r.C.FindOne(ctx, bson.M{"_id": id}).Decode(&img); err != nil {
		return nil, mapErr(err)
	}
	return &img, nil
}

// ListByUser returns a user's images, newest upload first.  since filters on
// upload_timestamp when non-zero; limit <= 0 means no limit.
func (r *ImageRepo) ListByUser(ctx context.Context, userID string, since time.Time, limit int64) ([]model.Image, error) {
	filter := bson.M{"user_id": userID}
	if !since.IsZero() {
		filter["upload_timestamp"] = bson.M{"$gte": since}
	}
	opts := options.Find().SetSort(bson.D{{Key: "upload_timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := r.C.Find(ctx, filter, opts)
	if err != nil {
		return nil, mapErr(err)
	}
	images := []model.Image{}
	if err := cur.All(ctx, &images); err != nil {
		return nil, err
	}
	return images, nil
}

// PredictionRepo handles the `predictions` collection.
type PredictionRepo struct{ C *mongo.Collection }

func NewPredictionRepo(s *database.Store) *PredictionRepo {
	return &PredictionRepo{C: s.Predictions}
}

func (r *PredictionRepo) Insert(ctx context.Context, p *model.Prediction) (primitive.ObjectID, error) {
	res, err := r.C.InsertOne(ctx, p)
	if err != nil {
		return primitive.NilObjectID, mapErr(err)
	}
	id, _ := res.InsertedID.(primitive.ObjectID)
	p.ID = id
	return id, nil
}

func (r *PredictionRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*model.Prediction, error) {
	var p model.Prediction
	if err := r.C.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

// ByImageIDs resolves the predictions of many images in one query, keyed by
// image id.  If an image somehow has several predictions the first one
// returned wins.
func (r *PredictionRepo) ByImageIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]model.Prediction, error) {
	out := make(map[primitive.ObjectID]model.Prediction, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := r.C.Find(ctx, bson.M{"image_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, mapErr(err)
	}
	var preds []model.Prediction
	if err := cur.All(ctx, &preds); err != nil {
		return nil, err
	}
	for _, p := range preds {
		if _, seen := out[p.ImageID]; !seen {
			out[p.ImageID] = p
		}
	}
	return out, nil
}

// SetGradcamURI patches gradcam_uri and reports whether a document changed.
func (r *PredictionRepo) SetGradcamURI(ctx context.Context, id primitive.ObjectID, uri string) (bool, error) {
	res, err := r.C.UpdateByID(ctx, id, bson.M{"$set": bson.M{"gradcam_uri": uri}})
	if err != nil {
		return false, mapErr(err)
	}
	return res.ModifiedCount > 0, nil
}
