package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/farepay/farepay-api/internal/domain/user"
	"github.com/farepay/farepay-api/internal/pkg/jwt"
)

// PasswordVerifier checks a password against a stored hash
type PasswordVerifier interface {
	Verify(password, hash string) (bool, error)
}

// Service is the identity provider: it turns credentials into a user identity.
type Service struct {
	userRepo   user.Repository
	jwtService *jwt.Service
	passwords  PasswordVerifier
	now        func() time.Time
}

// NewService creates auth service
func NewService(userRepo user.Repository, jwtService *jwt.Service, passwords PasswordVerifier) *Service {
	return &Service{
		userRepo:   userRepo,
		jwtService: jwtService,
		passwords:  passwords,
		now:        time.Now,
	}
}

// Authenticate resolves credentials to an active user.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*user.User, error) {
	u, err := s.userRepo.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, user.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := s.passwords.Verify(password, u.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if !u.IsActive {
		return nil, ErrUserInactive
	}

	if err := s.userRepo.UpdateLastLogin(ctx, u.ID, s.now()); err != nil {
		log.Warn().Err(err).Str("user_id", u.ID.String()).Msg("failed to record last login")
	}
	return u, nil
}

// Login authenticates and issues an access token
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	u, err := s.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	accessToken, expiresAt, err := s.jwtService.GenerateAccessToken(u.ID, string(u.Role))
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		User: UserResponseFromEntity(u),
		Tokens: TokensResponse{
			AccessToken: accessToken,
			TokenType:   "Bearer",
			ExpiresAt:   expiresAt,
		},
	}, nil
}

// Me returns the profile of the authenticated user
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*UserResponse, error) {
	u, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := UserResponseFromEntity(u)
	return &resp, nil
}
