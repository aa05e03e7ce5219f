package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/model"
	"github.com/iliyamo/dermascan/internal/service/servicetest"
	"github.com/iliyamo/dermascan/internal/utils"
)

func TestUsernameFromEmail(t *testing.T) {
	assert.Equal(t, "johndoe", UsernameFromEmail("John.Doe@x.com"))
	assert.Equal(t, "a_b-c", UsernameFromEmail("A_b-c+tag@x.com")[:5])
	assert.Equal(t, "user", UsernameFromEmail("...@x.com"))
}

func TestBackfillUsernames(t *testing.T) {
	users := servicetest.NewUsers()
	rec := &servicetest.Recorder{}
	svc := NewMaintenanceService(users, rec, zap.NewNop())
	ctx := context.Background()

	users.Put(model.User{Username: "jane", Email: "existing@x.com"})
	users.Put(model.User{Email: "jane@a.com"})
	users.Put(model.User{Email: "jane@b.com"})

	done, err := svc.BackfillUsernames(ctx)
	require.NoError(t, err)
	require.Len(t, done, 2)
	assert.Equal(t, "jane1", done[0].Username)
	assert.Equal(t, "jane2", done[1].Username)

	left, err := users.WithoutUsername(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
	ev, ok := rec.Last(model.ActionUsernamesBackfilled)
	require.True(t, ok)
	assert.Equal(t, 2, ev.Details["updated_count"])
}

func TestPromoteByRef(t *testing.T) {
	users := servicetest.NewUsers()
	rec := &servicetest.Recorder{}
	svc := NewMaintenanceService(users, rec, zap.NewNop())
	ctx := context.Background()
	id := users.Put(model.User{Username: "drtest", Email: "dr@test.com", Role: model.RoleUser})

	u, changed, err := svc.PromoteByRef(ctx, id.Hex())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.RoleAdmin, u.Role)

	_, changed, err = svc.PromoteByRef(ctx, "DrTest")
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = svc.PromoteByRef(ctx, "ghost")
	assert.Equal(t, "User not found", err.Error())
}

func TestCreateAdminOnlyOnce(t *testing.T) {
	users := servicetest.NewUsers()
	rec := &servicetest.Recorder{}
	svc := NewMaintenanceService(users, rec, zap.NewNop())
	ctx := context.Background()

	u, err := svc.CreateAdmin(ctx, AdminInput{Username: "Admin", Email: "admin@example.com", Password: "Admin123!"})
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "admin", u.Username)
	assert.Equal(t, model.RoleAdmin, u.Role)
	assert.Equal(t, "System", u.FirstName)
	assert.True(t, utils.VerifyPassword(u.PasswordHash, u.Salt, "Admin123!"))

	ev, ok := rec.Last(model.ActionAdminUserCreated)
	require.True(t, ok)
	assert.Equal(t, model.SystemClient, ev.Client)

	again, err := svc.CreateAdmin(ctx, AdminInput{Username: "second", Email: "s@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Nil(t, again)

	_, err = NewMaintenanceService(servicetest.NewUsers(), rec, zap.NewNop()).
		CreateAdmin(ctx, AdminInput{Username: "x", Email: "x@example.com", Password: "secret1"})
	assert.Error(t, err)
}
