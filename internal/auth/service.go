package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/crashdock/crashdock/internal/common"
	"github.com/crashdock/crashdock/pkg/config"
	"github.com/crashdock/crashdock/pkg/types"
	"github.com/crashdock/crashdock/pkg/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service handles authentication operations
type Service struct {
	db     *common.Database
	cache  *common.Cache
	config *config.AuthConfig
}

// NewService creates a new authentication service. The cache is optional;
// without it every token validation hits the database.
func NewService(db *common.Database, cache *common.Cache, config *config.AuthConfig) *Service {
	return &Service{
		db:     db,
		cache:  cache,
		config: config,
	}
}

// Register creates a new user account
func (s *Service) Register(ctx context.Context, req *types.RegisterRequest) (*types.User, error) {
	var existingUser types.User
	if err := s.db.Where("username = ? OR email = ?", req.Username, req.Email).First(&existingUser).Error; err == nil {
		return nil, fmt.Errorf("user with username or email already exists")
	}

	hashedPassword, err := utils.HashPassword(req.Password, s.config.BCryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &types.User{
		Username: req.Username,
		Email:    req.Email,
		Password: hashedPassword,
		IsActive: true,
		IsAdmin:  false,
	}

	if err := s.db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	user.Password = ""
	return user, nil
}

// Login authenticates a user and returns a JWT token
func (s *Service) Login(ctx context.Context, req *types.LoginRequest) (*types.AuthToken, error) {
	var user types.User
	if err := s.db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("invalid credentials")
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !user.IsActive {
		return nil, fmt.Errorf("user account is disabled")
	}

	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, fmt.Errorf("invalid credentials")
	}

	token, err := utils.GenerateJWT(user.ID, s.config.JWTSecret, s.config.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	authToken := &types.AuthToken{
		Token:     token,
		ExpiresAt: time.Now().Add(s.config.JWTExpiration),
		UserID:    user.ID,
	}

	if s.cache != nil {
		cacheKey := fmt.Sprintf("token:%s", user.ID.String())
		if err := s.cache.Set(ctx, cacheKey, authToken, s.config.JWTExpiration); err != nil {
			log.Warn().Err(err).Msg("failed to cache auth token")
		}
	}

	return authToken, nil
}

// ValidateToken validates a JWT token and returns the user it belongs to.
// This is the identity used to attribute uploaded artifacts.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*types.User, error) {
	userID, err := utils.ValidateJWT(tokenString, s.config.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	cacheKey := fmt.Sprintf("user:%s", userID.String())
	var user types.User
	if s.cache != nil {
		if err := s.cache.Get(ctx, cacheKey, &user); err == nil {
			return &user, nil
		}
	}

	if err := s.db.Where("id = ? AND is_active = ?", userID, true).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Password = ""
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, &user, 10*time.Minute); err != nil {
			log.Warn().Err(err).Msg("failed to cache user")
		}
	}

	return &user, nil
}

// GetUserByID retrieves a user by ID
func (s *Service) GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	var user types.User
	if err := s.db.Where("id = ?", userID).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Password = ""
	return &user, nil
}

// ListUsers returns all accounts, optionally filtered by a username
// substring. Admin surface.
func (s *Service) ListUsers(ctx context.Context, query string) ([]*types.User, error) {
	q := s.db.WithContext(ctx).Model(&types.User{}).Order("username")
	if query != "" {
		q = q.Where("LOWER(username) LIKE LOWER(?)", "%"+query+"%")
	}

	var users []*types.User
	if err := q.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	for _, u := range users {
		u.Password = ""
	}
	return users, nil
}

// CreateUser provisions an account with admin-chosen flags
func (s *Service) CreateUser(ctx context.Context, req *types.CreateUserRequest) (*types.User, error) {
	var existing types.User
	if err := s.db.Where("username = ? OR email = ?", req.Username, req.Email).First(&existing).Error; err == nil {
		return nil, fmt.Errorf("user with username or email already exists")
	}

	hashedPassword, err := utils.HashPassword(req.Password, s.config.BCryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &types.User{
		Username: req.Username,
		Email:    req.Email,
		Password: hashedPassword,
		IsActive: req.IsActive,
		IsAdmin:  req.IsAdmin,
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Info().Str("username", user.Username).Bool("is_admin", user.IsAdmin).Msg("user provisioned")

	user.Password = ""
	return user, nil
}

// UpdateUser applies the request's non-nil fields to an account. Cached
// identity is dropped so a password or flag change takes effect on the next
// token validation.
func (s *Service) UpdateUser(ctx context.Context, id uuid.UUID, req *types.UpdateUserRequest) (*types.User, error) {
	var user types.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if req.Username != nil && *req.Username != user.Username {
		var existing types.User
		if err := s.db.Where("username = ? AND id <> ?", *req.Username, id).First(&existing).Error; err == nil {
			return nil, fmt.Errorf("username already taken")
		}
		user.Username = *req.Username
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.Password != nil && *req.Password != "" {
		hashed, err := utils.HashPassword(*req.Password, s.config.BCryptCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.Password = hashed
	}
	if req.IsAdmin != nil {
		user.IsAdmin = *req.IsAdmin
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	if err := s.db.WithContext(ctx).Save(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.invalidateUser(ctx, id)
	log.Info().Str("username", user.Username).Msg("user updated")

	user.Password = ""
	return &user, nil
}

// DeleteUser removes an account and drops its cached identity
func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&types.User{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user not found")
	}

	s.invalidateUser(ctx, id)
	log.Info().Str("user_id", id.String()).Msg("user deleted")
	return nil
}

func (s *Service) invalidateUser(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	for _, key := range []string{
		fmt.Sprintf("user:%s", id.String()),
		fmt.Sprintf("token:%s", id.String()),
	} {
		if err := s.cache.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to drop cached identity")
		}
	}
}
