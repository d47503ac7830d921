// Package auth resolves who is calling. It issues and parses session
// tokens and hashes passwords; it never touches cart state.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/session"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type SessionGetter interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// Guard turns a bearer token into a user ID. A token is only honoured while
// the session it names still exists and belongs to the token's subject.
type Guard struct {
	tokens   *TokenManager
	sessions SessionGetter
}

func NewGuard(tokens *TokenManager, sessions SessionGetter) *Guard {
	return &Guard{tokens: tokens, sessions: sessions}
}

func (g *Guard) ResolveIdentity(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing session token", ErrUnauthenticated)
	}

	claims, err := g.tokens.Parse(token)
	if err != nil {
		return "", err
	}

	sess, err := g.sessions.Get(ctx, claims.SessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return "", fmt.Errorf("%w: session expired or logged out", ErrUnauthenticated)
	}
	if err != nil {
		return "", fmt.Errorf("lookup session: %w", err)
	}
	if sess.UserID != claims.Subject {
		return "", fmt.Errorf("%w: session does not belong to token subject", ErrUnauthenticated)
	}

	return sess.UserID, nil
}

// SessionID extracts the session a token was issued for without checking
// that the session still exists.
func (g *Guard) SessionID(token string) (string, error) {
	claims, err := g.tokens.Parse(token)
	if err != nil {
		return "", err
	}
	return claims.SessionID, nil
}
