package service

import (
	"context"
	"errors"
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

// MinPasswordLength is the server-side password policy.
const MinPasswordLength = 6

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,20}$`)
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// AuthService implements registration, login and session checks on top of
// the users and auth_tokens collections.
type AuthService struct {
	users  UserStore
	tokens TokenStore
	audit  Auditor
	ttl    time.Duration
	log    *zap.Logger
	now    func() time.Time
}

func NewAuthService(users UserStore, tokens TokenStore, audit Auditor, ttl time.Duration, log *zap.Logger) *AuthService {
	return &AuthService{users: users, tokens: tokens, audit: audit, ttl: ttl, log: log, now: time.Now}
}

// WithClock replaces the time source; used by tests to move past expiry.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type Registered struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Register validates in and creates a user with role "user".
func (s *AuthService) Register(ctx context.Context, in RegisterInput, client model.ClientInfo) (Registered, error) {
	in.Username, in.Email = strings.TrimSpace(in.Username), strings.TrimSpace(in.Email)
	fail := func(err error) (Registered, error) {
		msg, _ := errMessage(err)
		s.audit.Record(ctx, model.ActionUserRegistrationFailed, "", failure(msg, map[string]any{
			"attempted_username": in.Username,
			"attempted_email":    in.Email,
		}), client)
		return Registered{}, err
	}

	if in.Username == "" || in.Email == "" || in.Password == "" {
		return fail(apperr.Validation("Username, email, and password required"))
	}
	if !usernamePattern.MatchString(in.Username) {
		return fail(apperr.Validation("Username must be 3-20 characters long and contain only letters, numbers, underscores, or hyphens"))
	}
	if !emailPattern.MatchString(in.Email) {
		return fail(apperr.Validation("Invalid email format"))
	}
	if len(in.Password) < MinPasswordLength {
		return fail(apperr.Validation("Password must be at least 6 characters long"))
	}

	salt, err := utils.NewSalt()
	if err != nil {
		return fail(apperr.Internal("Registration failed", err))
	}
	hash, err := utils.HashPassword(in.Password, salt)
	if err != nil {
		return fail(apperr.Internal("Registration failed", err))
	}

	first, last := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	u := &model.User{
		Username:         normalize(in.Username),
		Email:            normalize(in.Email),
		PasswordHash:     hash,
		Salt:             salt,
		FirstName:        first,
		LastName:         last,
		Role:             model.RoleUser,
		CreatedAt:        s.now().UTC(),
		ProfileCompleted: first != "" && last != "",
	}
	id, err := s.users.Create(ctx, u)
	switch {
	case errors.Is(err, repository.ErrUsernameExists):
		return fail(apperr.Conflict("Username already taken"))
	case errors.Is(err, repository.ErrEmailExists):
		return fail(apperr.Conflict("Email already registered"))
	case err != nil:
		return fail(apperr.Internal("Registration failed", err))
	}

	s.audit.Record(ctx, model.ActionUserRegistration, id.Hex(), map[string]any{
		"username":          u.Username,
		"email":             u.Email,
		"profile_completed": u.ProfileCompleted,
	}, client)
	return Registered{UserID: id.Hex(), Username: u.Username, Email: u.Email}, nil
}

// Session is what a successful login hands back.  Token is the plaintext
// bearer token; it is never stored.
type Session struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	Expiry    time.Time `json:"expiry"`
}

// Login authenticates by username, falling back to email, and issues a new
// session token.
func (s *AuthService) Login(ctx context.Context, usernameOrEmail, password string, client model.ClientInfo) (Session, error) {
	fail := func(userID, reason string, err error) (Session, error) {
		msg := reason
		if msg == "" {
			msg, _ = errMessage(err)
		}
		s.audit.Record(ctx, model.ActionUserLoginFailed, userID, failure(msg, map[string]any{
			"attempted_login": usernameOrEmail,
		}), client)
		return Session{}, err
	}

	if usernameOrEmail == "" || password == "" {
		return fail("", "", apperr.Validation("Username/email and password required"))
	}
	login := normalize(usernameOrEmail)

	u, err := s.users.GetByUsername(ctx, login)
	if errors.Is(err, repository.ErrNotFound) {
		u, err = s.users.GetByEmail(ctx, login)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return fail("", "User not found", apperr.Auth("Login failed: user not found"))
	}
	if err != nil {
		return fail("", "", apperr.Internal("Login failed", err))
	}

	if !utils.VerifyPassword(u.PasswordHash, u.Salt, password) {
		return fail(u.ID.Hex(), "Invalid password", apperr.Auth("Login failed: password mismatch"))
	}

	now := s.now().UTC()
	tok, err := utils.NewSessionToken(now, s.ttl)
	if err != nil {
		return fail(u.ID.Hex(), "", apperr.Internal("Login failed", err))
	}
	if err := s.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		s.log.Warn("update last_login failed", zap.String("user_id", u.ID.Hex()), zap.Error(err))
	}
	hash := utils.HashToken(tok.Raw)
	if err := s.tokens.Store(ctx, &model.AuthToken{
		UserID:      u.ID,
		TokenHash:   hash,
		Expiry:      tok.Exp,
		Permissions: []string{model.RoleUser},
		IssuedAt:    now,
	}); err != nil {
		return fail(u.ID.Hex(), "", apperr.Internal("Login failed", err))
	}

	s.audit.Record(ctx, model.ActionUserLoginSuccess, u.ID.Hex(), map[string]any{
		"username":   u.Username,
		"email":      u.Email,
		"session_id": hash,
	}, client)

	role := u.Role
	if role == "" {
		role = model.RoleUser
	}
	return Session{
		UserID:    u.ID.Hex(),
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      role,
		Token:     tok.Raw,
		Expiry:    tok.Exp,
	}, nil
}

// Token resolution failures.  The admin gate maps each to its own message.
var (
	ErrTokenInvalid = apperr.Auth("Invalid token")
	ErrTokenExpired = apperr.Auth("Token expired")
	ErrTokenNoUser  = apperr.Auth("User not found")
)

// ResolveToken maps a plaintext bearer token to its token document and user.
// It is shared by the session check and the admin gate.
func (s *AuthService) ResolveToken(ctx context.Context, raw string) (*model.User, *model.AuthToken, error) {
	t, err := s.tokens.GetByHash(ctx, utils.HashToken(raw))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, nil, apperr.Internal("Authentication error", err)
	}
	if t.Expired(s.now()) {
		return nil, nil, ErrTokenExpired
	}
	u, err := s.users.GetByID(ctx, t.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrTokenNoUser
	}
	if err != nil {
		return nil, nil, apperr.Internal("Authentication error", err)
	}
	return u, t, nil
}

// SessionInfo is the result of a successful session check.
type SessionInfo struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// CheckSession validates a token.  Expiry is fixed at issuance.
func (s *AuthService) CheckSession(ctx context.Context, raw string, client model.ClientInfo) (SessionInfo, error) {
	fail := func(err error) (SessionInfo, error) {
		msg, _ := errMessage(err)
		s.audit.Record(ctx, model.ActionSessionCheckFailed, "", failure(msg, nil), client)
		return SessionInfo{}, err
	}

	if raw == "" {
		return fail(apperr.Validation("Token required"))
	}
	u, t, err := s.ResolveToken(ctx, raw)
	if err != nil {
		return fail(err)
	}
	role := u.Role
	if role == "" {
		role = model.RoleUser
	}
	return SessionInfo{
		UserID:      u.ID.Hex(),
		Username:    u.Username,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Role:        role,
		Permissions: t.Permissions,
	}, nil
}

// Profile returns the public profile of userID and records the access.
func (s *AuthService) Profile(ctx context.Context, userID string, client model.ClientInfo) (model.Profile, error) {
	if userID == "" {
		return model.Profile{}, apperr.Validation("User ID required")
	}
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return model.Profile{}, apperr.Validation("Invalid user ID")
	}
	u, err := s.users.GetByID(ctx, oid)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Profile{}, apperr.NotFound("User not found")
	}
	if err != nil {
		return model.Profile{}, apperr.Internal("Failed to load profile", err)
	}
	s.audit.Record(ctx, model.ActionProfileAccessed, userID, map[string]any{
		"username": u.Username,
	}, client)
	return u.Profile(), nil
}

// LogLogout records a logout.  Tokens are not revoked; they lapse at expiry.
func (s *AuthService) LogLogout(ctx context.Context, userID, username string, client model.ClientInfo) error {
	if userID == "" {
		return apperr.Validation("User ID required")
	}
	if username == "" {
		username = "unknown"
	}
	s.audit.Record(ctx, model.ActionUserLogout, userID, map[string]any{"username": username}, client)
	return nil
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// errMessage extracts the client-facing message of an *apperr.Error.
func errMessage(err error) (string, bool) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Message, true
	}
	if err != nil {
		return err.Error(), false
	}
	return "", false
}
