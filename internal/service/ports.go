// Package service holds the business logic behind each HTTP route.  Services
// depend on the small interfaces below; the MongoDB repositories, the S3
// client, the inference client and the LLM client satisfy them in
// production.
package service

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/iliyamo/dermascan/internal/llm"
	"github.com/iliyamo/dermascan/internal/model"
)

type UserStore interface {
	Create(ctx context.Context, u *model.User) (primitive.ObjectID, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*model.User, error)
	TouchLastLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error
	SetRole(ctx context.Context, id primitive.ObjectID, role string) error
	List(ctx context.Context, role string, skip, limit int64) ([]model.User, int64, error)
}

// MaintenanceUserStore adds the queries used by offline tooling.
type MaintenanceUserStore interface {
	UserStore
	CountAdmins(ctx context.Context) (int64, error)
	WithoutUsername(ctx context.Context) ([]model.User, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	SetUsername(ctx context.Context, id primitive.ObjectID, username string) error
}

type TokenStore interface {
	Store(ctx context.Context, t *model.AuthToken) error
	GetByHash(ctx context.Context, tokenHash string) (*model.AuthToken, error)
}

type AuditStore interface {
	Insert(ctx context.Context, e *model.AuditEntry) error
	Find(ctx context.Context, f model.AuditFilter, limit int64) ([]model.AuditEntry, int64, error)
	Stats(ctx context.Context, since time.Time) (model.AuditStats, error)
}

type ImageStore interface {
	Insert(ctx context.Context, img *model.Image) (primitive.ObjectID, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*model.Image, error)
	ListByUser(ctx context.Context, userID string, since time.Time, limit int64) ([]model.Image, error)
}

type PredictionStore interface {
	Insert(ctx context.Context, p *model.Prediction) (primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*model.Prediction, error)
	ByImageIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]model.Prediction, error)
	SetGradcamURI(ctx context.Context, id primitive.ObjectID, uri string) (bool, error)
}

type SummaryStore interface {
	Insert(ctx context.Context, s *model.LLMSummary) (primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*model.LLMSummary, error)
	ListByUser(ctx context.Context, userID, sortBy string, limit int64) ([]model.LLMSummary, error)
}

type FeedbackStore interface {
	Insert(ctx context.Context, f *model.Feedback) (primitive.ObjectID, error)
	Find(ctx context.Context, f model.FeedbackFilter, limit int64) ([]model.Feedback, error)
	Analytics(ctx context.Context, since time.Time) (model.FeedbackAnalytics, error)
}

// ObjectStorage stores uploaded files and returns public URLs.
type ObjectStorage interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
	Delete(ctx context.Context, key string) error
}

// GradcamRenderer is the external inference service.
type GradcamRenderer interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	Gradcam(ctx context.Context, filename string, image []byte) ([]byte, error)
}

// Completer is an LLM chat completion endpoint.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Auditor records audit events.  Implementations never fail the caller.
type Auditor interface {
	Record(ctx context.Context, action model.AuditAction, userID string, details map[string]any, client model.ClientInfo)
}

// SystemAuditor records actions raised by background features, named in
// snake_case and without client information.
type SystemAuditor interface {
	RecordSystem(ctx context.Context, userID, action string, details map[string]any)
}
