package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/apperr"
	"github.com/iliyamo/dermascan/internal/model"
	"github.com/iliyamo/dermascan/internal/service/servicetest"
)

var testClient = model.ClientInfo{IP: "203.0.113.7", UserAgent: "Mozilla/5.0 Chrome/120"}

type authFixture struct {
	svc    *AuthService
	users  *servicetest.Users
	tokens *servicetest.Tokens
	audit  *servicetest.Recorder
	now    time.Time
}

func newAuthFixture() *authFixture {
	f := &authFixture{
		users:  servicetest.NewUsers(),
		tokens: servicetest.NewTokens(),
		audit:  &servicetest.Recorder{},
		now:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewAuthService(f.users, f.tokens, f.audit, 24*time.Hour, zap.NewNop()).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *authFixture) register(t *testing.T, username, email, password string) Registered {
	t.Helper()
	r, err := f.svc.Register(context.Background(), RegisterInput{Username: username, Email: email, Password: password}, testClient)
	require.NoError(t, err)
	return r
}

func TestRegisterLoginCheckSession(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	reg := f.register(t, "  DrTest ", "Dr@Test.com", "secret1")
	assert.Equal(t, "drtest", reg.Username)
	assert.Equal(t, "dr@test.com", reg.Email)

	stored, err := f.users.GetByUsername(ctx, "drtest")
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, stored.Role)
	assert.Nil(t, stored.LastLogin)
	assert.NotContains(t, stored.PasswordHash, "secret1")
	assert.Len(t, stored.Salt, 32)

	sess, err := f.svc.Login(ctx, "DRTEST", "secret1", testClient)
	require.NoError(t, err)
	assert.Len(t, sess.Token, 64)
	assert.Equal(t, f.now.Add(24*time.Hour), sess.Expiry)
	assert.Equal(t, 1, f.tokens.Len())

	info, err := f.svc.CheckSession(ctx, sess.Token, testClient)
	require.NoError(t, err)
	assert.Equal(t, reg.UserID, info.UserID)
	assert.Equal(t, []string{model.RoleUser}, info.Permissions)

	stored, err = f.users.GetByUsername(ctx, "drtest")
	require.NoError(t, err)
	require.NotNil(t, stored.LastLogin)

	assert.Equal(t, []model.AuditAction{model.ActionUserRegistration, model.ActionUserLoginSuccess}, f.audit.Actions())
	ev, _ := f.audit.Last(model.ActionUserLoginSuccess)
	assert.NotEmpty(t, ev.Details["session_id"])
	assert.NotEqual(t, sess.Token, ev.Details["session_id"])
}

func TestLoginByEmail(t *testing.T) {
	f := newAuthFixture()
	f.register(t, "drtest", "dr@test.com", "secret1")

	sess, err := f.svc.Login(context.Background(), "DR@test.com", "secret1", testClient)
	require.NoError(t, err)
	assert.Equal(t, "drtest", sess.Username)
}

func TestLoginFailures(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	f.register(t, "drtest", "dr@test.com", "secret1")

	_, err := f.svc.Login(ctx, "drtest", "wrong-pass", testClient)
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))
	assert.Equal(t, "Login failed: password mismatch", err.Error())

	_, err = f.svc.Login(ctx, "nobody", "secret1", testClient)
	assert.Equal(t, "Login failed: user not found", err.Error())

	_, err = f.svc.Login(ctx, "", "secret1", testClient)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	assert.Equal(t, 0, f.tokens.Len())
	var reasons []any
	for _, e := range f.audit.Events() {
		if e.Action == model.ActionUserLoginFailed {
			assert.Equal(t, false, e.Details["success"])
			reasons = append(reasons, e.Details["error_message"])
		}
	}
	assert.Equal(t, []any{"Invalid password", "User not found", "Username/email and password required"}, reasons)
}

func TestAuthFailuresAreAudited(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture()
	f.register(t, "drtest", "dr@test.com", "secret1")

	count := func(action model.AuditAction) int {
		n := 0
		for _, e := range f.audit.Events() {
			if e.Action == action {
				n++
			}
		}
		return n
	}

	_, err := f.svc.Login(ctx, "someone", "", testClient)
	require.Error(t, err)
	assert.Equal(t, 1, count(model.ActionUserLoginFailed))

	_, err = f.svc.CheckSession(ctx, "", testClient)
	require.Error(t, err)
	assert.Equal(t, 1, count(model.ActionSessionCheckFailed))
	ev, _ := f.audit.Last(model.ActionSessionCheckFailed)
	assert.Equal(t, "Token required", ev.Details["error_message"])

	f.tokens.FailStore = true
	_, err = f.svc.Login(ctx, "drtest", "secret1", testClient)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Equal(t, 2, count(model.ActionUserLoginFailed))
	ev, _ = f.audit.Last(model.ActionUserLoginFailed)
	assert.Equal(t, "Login failed", ev.Details["error_message"])
	assert.NotEmpty(t, ev.UserID)
	assert.Equal(t, 0, count(model.ActionUserLoginSuccess))
}

func TestRegisterValidation(t *testing.T) {
	f := newAuthFixture()
	cases := []struct {
		name string
		in   RegisterInput
		msg  string
	}{
		{"missing", RegisterInput{Username: "abc", Email: "a@b.co"}, "Username, email, and password required"},
		{"short username", RegisterInput{Username: "ab", Email: "a@b.co", Password: "secret1"}, "Username must be 3-20 characters long and contain only letters, numbers, underscores, or hyphens"},
		{"bad chars", RegisterInput{Username: "a b c", Email: "a@b.co", Password: "secret1"}, "Username must be 3-20 characters long and contain only letters, numbers, underscores, or hyphens"},
		{"bad email", RegisterInput{Username: "abc", Email: "not-an-email", Password: "secret1"}, "Invalid email format"},
		{"short password", RegisterInput{Username: "abc", Email: "a@b.co", Password: "12345"}, "Password must be at least 6 characters long"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tc.in, testClient)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Equal(t, tc.msg, err.Error())
		})
	}
	for _, e := range f.audit.Events() {
		assert.Equal(t, model.ActionUserRegistrationFailed, e.Action)
		assert.Equal(t, false, e.Details["success"])
	}
}

func TestRegisterDuplicates(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	f.register(t, "drtest", "dr@test.com", "secret1")

	_, err := f.svc.Register(ctx, RegisterInput{Username: "DRTEST", Email: "other@test.com", Password: "secret1"}, testClient)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, "Username already taken", err.Error())

	_, err = f.svc.Register(ctx, RegisterInput{Username: "other", Email: " DR@test.com", Password: "secret1"}, testClient)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, "Email already registered", err.Error())
}

func TestCheckSessionExpiry(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	f.register(t, "drtest", "dr@test.com", "secret1")
	sess, err := f.svc.Login(ctx, "drtest", "secret1", testClient)
	require.NoError(t, err)

	f.now = f.now.Add(24*time.Hour - time.Second)
	_, err = f.svc.CheckSession(ctx, sess.Token, testClient)
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Second)
	_, err = f.svc.CheckSession(ctx, sess.Token, testClient)
	assert.Equal(t, "Token expired", err.Error())

	_, err = f.svc.CheckSession(ctx, "deadbeef", testClient)
	assert.Equal(t, "Invalid token", err.Error())

	ev, ok := f.audit.Last(model.ActionSessionCheckFailed)
	require.True(t, ok)
	assert.Equal(t, "Invalid token", ev.Details["error_message"])

	_, err = f.svc.CheckSession(ctx, "", testClient)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestProfileAndLogout(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	reg := f.register(t, "drtest", "dr@test.com", "secret1")

	p, err := f.svc.Profile(ctx, reg.UserID, testClient)
	require.NoError(t, err)
	assert.Equal(t, "drtest", p.Username)
	accessed, ok := f.audit.Last(model.ActionProfileAccessed)
	require.True(t, ok)
	assert.Equal(t, reg.UserID, accessed.UserID)

	_, err = f.svc.Profile(ctx, "", testClient)
	assert.Equal(t, "User ID required", err.Error())
	_, err = f.svc.Profile(ctx, "65f000000000000000000000", testClient)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	require.NoError(t, f.svc.LogLogout(ctx, reg.UserID, "", testClient))
	ev, ok := f.audit.Last(model.ActionUserLogout)
	require.True(t, ok)
	assert.Equal(t, "unknown", ev.Details["username"])
	assert.Error(t, f.svc.LogLogout(ctx, "", "x", testClient))
}
