package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/apperr"
	"github.com/iliyamo/dermascan/internal/model"
	"github.com/iliyamo/dermascan/internal/repository"
	"github.com/iliyamo/dermascan/internal/utils"
)

var usernameStrip = regexp.MustCompile(`[^a-z0-9_-]`)

// MaintenanceService backs the offline admin tooling.
type MaintenanceService struct {
	users MaintenanceUserStore
	audit Auditor
	log   *zap.Logger
	now   func() time.Time
}

func NewMaintenanceService(users MaintenanceUserStore, audit Auditor, log *zap.Logger) *MaintenanceService {
	return &MaintenanceService{users: users, audit: audit, log: log, now: time.Now}
}

// Backfilled is one username assigned by BackfillUsernames.
type Backfilled struct {
	UserID   string
	Email    string
	Username string
}

// BackfillUsernames gives each user without a username one derived from the
// local part of their email, adding a numeric suffix until it is free.
func (s *MaintenanceService) BackfillUsernames(ctx context.Context) ([]Backfilled, error) {
	users, err := s.users.WithoutUsername(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Backfilled, 0, len(users))
	for _, u := range users {
		base := UsernameFromEmail(u.Email)
		name := base
		for suffix := 1; ; suffix++ {
			taken, err := s.users.UsernameTaken(ctx, name)
			if err != nil {
				return out, err
			}
			if !taken {
				break
			}
			name = fmt.Sprintf("%s%d", base, suffix)
		}
		if err := s.users.SetUsername(ctx, u.ID, name); err != nil {
			return out, fmt.Errorf("set username for %s: %w", u.Email, err)
		}
		s.log.Info("username assigned", zap.String("email", u.Email), zap.String("username", name))
		out = append(out, Backfilled{UserID: u.ID.Hex(), Email: u.Email, Username: name})
	}
	if len(out) > 0 {
		s.audit.Record(ctx, model.ActionUsernamesBackfilled, "", map[string]any{
			"updated_count": len(out),
		}, model.SystemClient)
	}
	return out, nil
}

// UsernameFromEmail lowercases the local part of email and drops every
// character outside [a-z0-9_-].
func UsernameFromEmail(email string) string {
	local, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(email)), "@")
	base := usernameStrip.ReplaceAllString(local, "")
	if base == "" {
		base = "user"
	}
	return base
}

// PromoteByRef sets the admin role on the user named by ref, which is a
// username or a hex user id.  It reports false when the user already was an
// admin.
func (s *MaintenanceService) PromoteByRef(ctx context.Context, ref string) (*model.User, bool, error) {
	var (
		u   *model.User
		err error
	)
	if oid, perr := primitive.ObjectIDFromHex(ref); perr == nil {
		u, err = s.users.GetByID(ctx, oid)
	} else {
		u, err = s.users.GetByUsername(ctx, normalize(ref))
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, false, err
	}
	if u.IsAdmin() {
		return u, false, nil
	}
	if err := s.users.SetRole(ctx, u.ID, model.RoleAdmin); err != nil {
		return nil, false, err
	}
	u.Role = model.RoleAdmin
	s.audit.Record(ctx, model.ActionUserPromoted, u.ID.Hex(), map[string]any{
		"promoted_by":     "system",
		"target_username": u.Username,
		"target_email":    u.Email,
	}, model.SystemClient)
	return u, true, nil
}

type AdminInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// CreateAdmin creates the first admin account.  It does nothing and returns
// nil when an admin already exists.
func (s *MaintenanceService) CreateAdmin(ctx context.Context, in AdminInput) (*model.User, error) {
	n, err := s.users.CountAdmins(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, nil
	}
	if !usernamePattern.MatchString(in.Username) {
		return nil, apperr.Validation("Username must be 3-20 characters long and contain only letters, numbers, underscores, or hyphens")
	}
	if !emailPattern.MatchString(in.Email) {
		return nil, apperr.Validation("Invalid email format")
	}
	if len(in.Password) < MinPasswordLength {
		return nil, apperr.Validation("Password must be at least 6 characters long")
	}
	salt, err := utils.NewSalt()
	if err != nil {
		return nil, err
	}
	hash, err := utils.HashPassword(in.Password, salt)
	if err != nil {
		return nil, err
	}
	first, last := in.FirstName, in.LastName
	if first == "" && last == "" {
		first, last = "System", "Administrator"
	}
	u := &model.User{
		Username:         normalize(in.Username),
		Email:            normalize(in.Email),
		PasswordHash:     hash,
		Salt:             salt,
		FirstName:        first,
		LastName:         last,
		Role:             model.RoleAdmin,
		CreatedAt:        s.now().UTC(),
		ProfileCompleted: true,
	}
	id, err := s.users.Create(ctx, u)
	switch {
	case errors.Is(err, repository.ErrUsernameExists):
		return nil, apperr.Conflict("Username already taken")
	case errors.Is(err, repository.ErrEmailExists):
		return nil, apperr.Conflict("Email already registered")
	case err != nil:
		return nil, err
	}
	u.ID = id
	s.audit.Record(ctx, model.ActionAdminUserCreated, id.Hex(), map[string]any{
		"username": u.Username,
		"email":    u.Email,
	}, model.SystemClient)
	return u, nil
}
