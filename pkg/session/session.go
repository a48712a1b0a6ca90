package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"github.com/Defelo/nginx-keycloak/pkg/kvs"
	"github.com/Defelo/nginx-keycloak/pkg/oidc"
	"github.com/rs/zerolog/log"
)

const (
	sessionIDLength  = 64
	sessionIDCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Session is an authenticated session.
type Session struct {
	// ID is the opaque value the proxy stores as the session cookie. It is
	// also the partition key for everything kept about the session.
	ID       string
	UserInfo oidc.UserInfo
}

// Manager creates and looks up sessions. Tokens live in the store, the
// session manager is stateless.
type Manager struct {
	idp   *oidc.Client
	store *kvs.Store
}

// NewManager creates a session manager.
func NewManager(idp *oidc.Client, store *kvs.Store) *Manager {
	return &Manager{
		idp:   idp,
		store: store,
	}
}

// Create exchanges an authorization code for a token pair, mints a session
// ID and persists the tokens under it. Any failure aborts the whole
// operation, nothing is written by later stages.
func (m *Manager) Create(ctx context.Context, code string, callbackURL *url.URL) (Session, error) {
	token, err := m.idp.ExchangeCode(ctx, code, callbackURL)
	if err != nil {
		return Session{}, fmt.Errorf("fetch token pair: %w", err)
	}

	info, err := m.idp.Userinfo(ctx, token.AccessToken)
	if err != nil {
		return Session{}, fmt.Errorf("fetch user info: %w", err)
	}

	sessionID := newSessionID()

	if err = m.store.StoreTokens(ctx, sessionID, tokenPair(token)); err != nil {
		return Session{}, fmt.Errorf("persist token pair: %w", err)
	}

	return Session{
		ID:       sessionID,
		UserInfo: info,
	}, nil
}

// Lookup resolves a session ID back to a session. When the stored access
// token no longer passes the userinfo endpoint, the refresh token is
// exchanged for a new pair and both keys are overwritten. A failure
// anywhere in the refresh path fails the lookup.
func (m *Manager) Lookup(ctx context.Context, sessionID string) (Session, error) {
	tokens, err := m.store.LoadTokens(ctx, sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("fetch token pair: %w", err)
	}

	info, err := m.idp.Userinfo(ctx, tokens.AccessToken)
	if err != nil {
		log.Debug().Err(err).Msg("Access token rejected, refreshing session")

		refreshed, refreshErr := m.idp.Refresh(ctx, tokens.RefreshToken)
		if refreshErr != nil {
			return Session{}, fmt.Errorf("refresh token pair: %w", refreshErr)
		}

		info, err = m.idp.Userinfo(ctx, refreshed.AccessToken)
		if err != nil {
			return Session{}, fmt.Errorf("fetch user info with refreshed token: %w", err)
		}

		if err = m.store.StoreTokens(ctx, sessionID, tokenPair(refreshed)); err != nil {
			return Session{}, fmt.Errorf("persist refreshed token pair: %w", err)
		}
	}

	return Session{
		ID:       sessionID,
		UserInfo: info,
	}, nil
}

func tokenPair(token oidc.TokenResponse) kvs.TokenPair {
	return kvs.TokenPair{
		AccessToken:     token.AccessToken,
		RefreshToken:    token.RefreshToken,
		AccessTokenTTL:  time.Duration(token.ExpiresIn) * time.Second,
		RefreshTokenTTL: time.Duration(token.RefreshExpiresIn) * time.Second,
	}
}

func newSessionID() string {
	id := make([]byte, sessionIDLength)
	max := big.NewInt(int64(len(sessionIDCharset)))
	for i := range id {
		n, _ := rand.Int(rand.Reader, max)
		id[i] = sessionIDCharset[n.Int64()]
	}

	return string(id)
}
