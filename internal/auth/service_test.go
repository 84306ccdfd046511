package auth

import (
	"context"
	"testing"
	"time"

	"github.com/crashdock/crashdock/internal/common"
	"github.com/crashdock/crashdock/pkg/config"
	"github.com/crashdock/crashdock/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestService(t *testing.T) *Service {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	wrapped := &common.Database{DB: db}
	require.NoError(t, wrapped.Migrate())

	// No cache in tests; every validation goes to the database
	return NewService(wrapped, nil, &config.AuthConfig{
		JWTSecret:     "test-secret",
		JWTExpiration: time.Hour,
		BCryptCost:    4,
	})
}

func TestRegister(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	user, err := service.Register(ctx, &types.RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	assert.Equal(t, "alice", user.Username)
	assert.True(t, user.IsActive)
	assert.False(t, user.IsAdmin)
	assert.Empty(t, user.Password)
}

func TestRegisterDuplicate(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	req := &types.RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "password123",
	}
	_, err := service.Register(ctx, req)
	require.NoError(t, err)

	_, err = service.Register(ctx, req)
	assert.Error(t, err)

	// Same email under a different username is also rejected
	_, err = service.Register(ctx, &types.RegisterRequest{
		Username: "alice2",
		Email:    "alice@example.com",
		Password: "password123",
	})
	assert.Error(t, err)
}

func TestLoginAndValidateToken(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	registered, err := service.Register(ctx, &types.RegisterRequest{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	token, err := service.Login(ctx, &types.LoginRequest{
		Username: "bob",
		Password: "password123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
	assert.Equal(t, registered.ID, token.UserID)

	user, err := service.ValidateToken(ctx, token.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	assert.Equal(t, "bob", user.Username)
	assert.Empty(t, user.Password)
}

func TestLoginWrongPassword(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	_, err := service.Register(ctx, &types.RegisterRequest{
		Username: "carol",
		Email:    "carol@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	_, err = service.Login(ctx, &types.LoginRequest{
		Username: "carol",
		Password: "wrong",
	})
	assert.Error(t, err)

	_, err = service.Login(ctx, &types.LoginRequest{
		Username: "nobody",
		Password: "password123",
	})
	assert.Error(t, err)
}

func TestValidateTokenGarbage(t *testing.T) {
	service := setupTestService(t)

	_, err := service.ValidateToken(context.Background(), "not.a.token")
	assert.Error(t, err)
}

func TestCreateUser(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	user, err := service.CreateUser(ctx, &types.CreateUserRequest{
		Username: "moderator",
		Email:    "mod@example.com",
		Password: "password123",
		IsAdmin:  true,
		IsActive: true,
	})
	require.NoError(t, err)

	assert.True(t, user.IsAdmin)
	assert.True(t, user.IsActive)
	assert.Empty(t, user.Password)

	// Provisioned accounts can log in right away
	_, err = service.Login(ctx, &types.LoginRequest{Username: "moderator", Password: "password123"})
	assert.NoError(t, err)

	// Same username is rejected
	_, err = service.CreateUser(ctx, &types.CreateUserRequest{
		Username: "moderator",
		Email:    "other@example.com",
		Password: "password123",
		IsActive: true,
	})
	assert.Error(t, err)
}

func TestListUsers(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	for _, name := range []string{"alice", "alina", "bob"} {
		_, err := service.Register(ctx, &types.RegisterRequest{
			Username: name,
			Email:    name + "@example.com",
			Password: "password123",
		})
		require.NoError(t, err)
	}

	users, err := service.ListUsers(ctx, "")
	require.NoError(t, err)
	assert.Len(t, users, 3)
	for _, u := range users {
		assert.Empty(t, u.Password)
	}

	users, err = service.ListUsers(ctx, "ALI")
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestUpdateUser(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	registered, err := service.Register(ctx, &types.RegisterRequest{
		Username: "dave",
		Email:    "dave@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	isAdmin := true
	isActive := false
	newPassword := "newpassword1"
	updated, err := service.UpdateUser(ctx, registered.ID, &types.UpdateUserRequest{
		Password: &newPassword,
		IsAdmin:  &isAdmin,
		IsActive: &isActive,
	})
	require.NoError(t, err)

	assert.True(t, updated.IsAdmin)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "dave", updated.Username)

	// Old password no longer works; the account is disabled anyway
	_, err = service.Login(ctx, &types.LoginRequest{Username: "dave", Password: "password123"})
	assert.Error(t, err)

	_, err = service.UpdateUser(ctx, uuid.New(), &types.UpdateUserRequest{IsAdmin: &isAdmin})
	assert.Error(t, err)
}

func TestUpdateUserUsernameTaken(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	_, err := service.Register(ctx, &types.RegisterRequest{
		Username: "eve",
		Email:    "eve@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	second, err := service.Register(ctx, &types.RegisterRequest{
		Username: "frank",
		Email:    "frank@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	taken := "eve"
	_, err = service.UpdateUser(ctx, second.ID, &types.UpdateUserRequest{Username: &taken})
	assert.Error(t, err)
}

func TestDeleteUser(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	registered, err := service.Register(ctx, &types.RegisterRequest{
		Username: "gone",
		Email:    "gone@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	require.NoError(t, service.DeleteUser(ctx, registered.ID))

	_, err = service.GetUserByID(ctx, registered.ID)
	assert.Error(t, err)

	assert.Error(t, service.DeleteUser(ctx, registered.ID))
}
