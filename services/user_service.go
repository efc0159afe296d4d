// services/user_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/brandviz/brandviz/internal/apperr"
	"github.com/brandviz/brandviz/internal/auth"
	"github.com/brandviz/brandviz/internal/config"
	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/internal/repository"
)

type userService struct {
	cfg     *config.Config
	repos   *repository.Manager
	tokens  *auth.TokenIssuer
	credits CreditService
	logger  zerolog.Logger
}

func NewUserService(cfg *config.Config, repos *repository.Manager, tokens *auth.TokenIssuer, credits CreditService, logger zerolog.Logger) UserService {
	return &userService{
		cfg:     cfg,
		repos:   repos,
		tokens:  tokens,
		credits: credits,
		logger:  logger.With().Str("component", "users").Logger(),
	}
}

func (s *userService) Signup(ctx context.Context, input SignupInput) (*AuthSession, error) {
	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	user := &models.User{Email: email, Name: name, PasswordHash: hash}

	if err := s.repos.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict("email already registered")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if bonus := s.cfg.Analysis.SignupBonusCredits; bonus > 0 {
		_, err := s.credits.Grant(ctx, LedgerEntry{
			UserID:      user.ID,
			Amount:      bonus,
			SourceType:  SourceSignup,
			SourceID:    user.ID.String(),
			Description: "Signup bonus",
		})
		if err != nil {
			// the account exists; the bonus can be granted by an admin later
			s.logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to grant signup bonus")
		}
	}

	s.logger.Info().Str("user_id", user.ID.String()).Msg("user signed up")
	return s.session(user)
}

func (s *userService) Login(ctx context.Context, input LoginInput) (*AuthSession, error) {
	user, err := s.repos.Users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(input.Email)))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Unauthorized("invalid email or password")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	ok, err := auth.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, apperr.Unauthorized("invalid email or password")
	}
	return s.session(user)
}

func (s *userService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	userID, err := s.tokens.Validate(token)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, err, "invalid or expired session")
	}

	user, err := s.repos.Users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Unauthorized("invalid or expired session")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

func (s *userService) session(user *models.User) (*AuthSession, error) {
	token, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &AuthSession{User: user, Token: token, ExpiresAt: expiresAt}, nil
}
