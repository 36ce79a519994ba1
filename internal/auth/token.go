package auth

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vigia/internal/database"
	"vigia/internal/logging"
)

const tokenKey = "auth_token"

// TokenStore holds the opaque bearer token attached to the realtime
// handshake and REST calls. The token is persisted in local settings
// storage; its absence allows anonymous operation. When the token happens
// to be a JWT, an expired one is treated as absent rather than sent to be
// rejected. Claims are inspected without verification: the client never
// holds the signing secret.
type TokenStore struct {
	db *database.Database

	mu    sync.RWMutex
	token string
}

// NewTokenStore loads any persisted token from the database.
func NewTokenStore(db *database.Database) (*TokenStore, error) {
	token, err := db.GetSetting(tokenKey)
	if err != nil {
		return nil, err
	}
	return &TokenStore{db: db, token: token}, nil
}

// Token returns the current bearer token, or "" when absent or expired.
func (s *TokenStore) Token() string {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return ""
	}
	if expired(token) {
		logging.Debug("[Auth] Persisted token is expired, operating anonymously")
		return ""
	}
	return token
}

// Set stores and persists a new token.
func (s *TokenStore) Set(token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return s.db.SetSetting(tokenKey, token)
}

// Clear removes the token.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return s.db.DeleteSetting(tokenKey)
}

// expired reports whether token is a JWT with an exp claim in the past.
// Opaque non-JWT tokens are never considered expired locally.
func expired(token string) bool {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}
