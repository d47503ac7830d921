package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/auth"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/session"
)

type LoginResult struct {
	Token     string
	ExpiresAt time.Time
}

// AccountService covers signup, login and logout. Logging in opens a
// session; logging out closes it, which invalidates every token issued for it.
type AccountService struct {
	users    repository.UserRepository
	sessions session.Store
	tokens   *auth.TokenManager
	guard    *auth.Guard
	log      *slog.Logger
}

func NewAccountService(users repository.UserRepository, sessions session.Store, tokens *auth.TokenManager, guard *auth.Guard) *AccountService {
	return &AccountService{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		guard:    guard,
		log:      slog.Default(),
	}
}

func (s *AccountService) Signup(ctx context.Context, username, email, password string) (*domain.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := s.users.CreateUser(ctx, &domain.User{
		Username:     strings.TrimSpace(username),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "user signed up", slog.String("user_id", user.ID))
	return user, nil
}

func (s *AccountService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, auth.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		return nil, err
	}

	sess, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	token, expiresAt, err := s.tokens.Issue(user.ID, sess.ID)
	if err != nil {
		_ = s.sessions.Delete(ctx, sess.ID)
		return nil, err
	}

	return &LoginResult{Token: token, ExpiresAt: expiresAt}, nil
}

// Logout ends the session named by token.
func (s *AccountService) Logout(ctx context.Context, token string) error {
	sessionID, err := s.guard.SessionID(token)
	if err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *AccountService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetUserByID(ctx, userID)
}
