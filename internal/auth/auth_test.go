package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/session"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	sessions map[string]*session.Session
	err      error
}

func (f *fakeSessions) Get(_ context.Context, id string) (*session.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return s, nil
}

func newGuard(sessions *fakeSessions) (*Guard, *TokenManager) {
	tokens := NewTokenManager("test-secret", time.Hour)
	return NewGuard(tokens, sessions), tokens
}

func TestResolveIdentity_Valid(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]*session.Session{
		"s1": {ID: "s1", UserID: "u1"},
	}}
	guard, tokens := newGuard(sessions)

	token, _, err := tokens.Issue("u1", "s1")
	require.NoError(t, err)

	userID, err := guard.ResolveIdentity(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestResolveIdentity_Rejections(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]*session.Session{
		"s1": {ID: "s1", UserID: "u1"},
		"s2": {ID: "s2", UserID: "someone-else"},
	}}
	guard, tokens := newGuard(sessions)

	loggedOut, _, err := tokens.Issue("u1", "gone")
	require.NoError(t, err)
	stolen, _, err := tokens.Issue("u1", "s2")
	require.NoError(t, err)
	foreign, _, err := NewTokenManager("other-secret", time.Hour).Issue("u1", "s1")
	require.NoError(t, err)

	expiredManager := NewTokenManager("test-secret", time.Hour)
	expiredManager.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := expiredManager.Issue("u1", "s1")
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		SessionID: "s1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"logged out":   loggedOut,
		"wrong owner":  stolen,
		"wrong secret": foreign,
		"expired":      expired,
		"alg none":     noneAlg,
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := guard.ResolveIdentity(context.Background(), token)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestResolveIdentity_SessionStoreDown(t *testing.T) {
	sessions := &fakeSessions{err: errors.New("redis down")}
	guard, tokens := newGuard(sessions)

	token, _, err := tokens.Issue("u1", "s1")
	require.NoError(t, err)

	_, err = guard.ResolveIdentity(context.Background(), token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
}

func TestSessionID(t *testing.T) {
	guard, tokens := newGuard(&fakeSessions{})

	token, _, err := tokens.Issue("u1", "s9")
	require.NoError(t, err)

	sid, err := guard.SessionID(token)
	require.NoError(t, err)
	assert.Equal(t, "s9", sid)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)

	assert.NoError(t, CheckPassword(hash, "correct horse"))
	assert.ErrorIs(t, CheckPassword(hash, "battery staple"), ErrInvalidCredentials)
}
