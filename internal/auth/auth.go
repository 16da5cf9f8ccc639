// Package auth handles account registration, login, and request
// authentication. Passwords are hashed with bcrypt; sessions are opaque
// bearer tokens held in memory with a fixed TTL.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vtrade/ledger-engine/internal/model"
	"github.com/vtrade/ledger-engine/internal/store"
)

// DefaultSessionTTL is how long issued tokens stay valid.
const DefaultSessionTTL = 24 * time.Hour

type ctxKey struct{}

type session struct {
	accountID string
	expiresAt time.Time
}

// Service issues and validates sessions against the account store.
type Service struct {
	store store.Store
	ttl   time.Duration

	mu       sync.RWMutex
	sessions map[string]session
}

// NewService creates an auth service. ttl ≤ 0 selects DefaultSessionTTL.
func NewService(st store.Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Service{
		store:    st,
		ttl:      ttl,
		sessions: make(map[string]session),
	}
}

// Register creates a new account with the initial virtual balance.
func (s *Service) Register(ctx context.Context, username, password string) (*model.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(password) < 4 {
		return nil, fmt.Errorf("username and a password of at least 4 characters are required: %w", model.ErrUnauthorized)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	acct := &model.Account{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		Balance:      model.InitialBalance,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// Login verifies credentials and returns a fresh bearer token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	acct, err := s.store.GetAccountByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		// Do not leak whether the username exists.
		return "", fmt.Errorf("invalid credentials: %w", model.ErrUnauthorized)
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return "", fmt.Errorf("invalid credentials: %w", model.ErrUnauthorized)
	}

	token := uuid.New().String() + uuid.New().String()

	s.mu.Lock()
	s.sessions[token] = session{accountID: acct.ID, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return token, nil
}

// Authenticate resolves a bearer token to an account ID.
func (s *Service) Authenticate(token string) (string, error) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("unknown token: %w", model.ErrUnauthorized)
	}
	if time.Now().After(sess.expiresAt) {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		return "", fmt.Errorf("expired token: %w", model.ErrUnauthorized)
	}
	return sess.accountID, nil
}

// Middleware rejects requests without a valid Authorization: Bearer token
// and stores the authenticated account ID in the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}

		accountID, err := s.Authenticate(token)
		if err != nil {
			http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), accountID)))
	})
}

// WithAccountID returns ctx carrying the authenticated account ID.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, accountID)
}

// AccountID extracts the authenticated account ID set by Middleware.
func AccountID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}
