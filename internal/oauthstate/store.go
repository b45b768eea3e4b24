package oauthstate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/axiombridge/credential-gateway/internal/apperr"
	"github.com/axiombridge/credential-gateway/internal/models"
	"github.com/gorilla/securecookie"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists OAuthState records keyed by state token.
type Store interface {
	Save(ctx context.Context, s *models.OAuthState) error
	// ValidateAndConsume atomically reads and deletes the record for state.
	// Returns apperr.ErrInvalidState if absent, apperr.ErrExpiredState if
	// past TTL (the row is still deleted in that case).
	ValidateAndConsume(ctx context.Context, state string) (*models.OAuthState, error)
	CleanupExpired(ctx context.Context) error
}

// PostgresStore is the canonical, production-required backing store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Save(ctx context.Context, rec *models.OAuthState) error {
	const q = `
		INSERT INTO oauth_states (state_token, code_verifier, code_challenge, redirect_after, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.pool.Exec(ctx, q, rec.State, rec.CodeVerifier, rec.CodeChallenge, rec.RedirectAfterLogin, rec.ExpiresAt, rec.CreatedAt)
	if err != nil {
		return errors.Join(apperr.ErrDatabaseUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) ValidateAndConsume(ctx context.Context, state string) (*models.OAuthState, error) {
	const q = `
		DELETE FROM oauth_states
		WHERE state_token = $1
		RETURNING state_token, code_verifier, code_challenge, redirect_after, expires_at, created_at
	`
	var rec models.OAuthState
	err := s.pool.QueryRow(ctx, q, state).Scan(
		&rec.State, &rec.CodeVerifier, &rec.CodeChallenge, &rec.RedirectAfterLogin, &rec.ExpiresAt, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrInvalidState
	}
	if err != nil {
		return nil, errors.Join(apperr.ErrDatabaseUnavailable, err)
	}
	if rec.IsExpired(time.Now().UTC()) {
		return nil, apperr.ErrExpiredState
	}
	return &rec, nil
}

func (s *PostgresStore) CleanupExpired(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM oauth_states WHERE expires_at <= now()`)
	if err != nil {
		return errors.Join(apperr.ErrDatabaseUnavailable, err)
	}
	return nil
}

// MemoryStore is a development-only in-process store. Nothing selects it
// automatically: cmd/server always constructs a PostgresStore and refuses to
// start without a database, so MemoryStore is only reached by code that
// constructs it directly, such as tests (see SPEC_FULL.md §9 OQ1 / §4.4).
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*models.OAuthState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*models.OAuthState)}
}

func (s *MemoryStore) Save(_ context.Context, rec *models.OAuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[rec.State] = rec
	return nil
}

func (s *MemoryStore) ValidateAndConsume(_ context.Context, state string) (*models.OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[state]
	if !ok {
		return nil, apperr.ErrInvalidState
	}
	delete(s.items, state)
	if rec.IsExpired(time.Now().UTC()) {
		return nil, apperr.ErrExpiredState
	}
	return rec, nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for k, v := range s.items {
		if v.IsExpired(now) {
			delete(s.items, k)
		}
	}
	return nil
}

// DebugDump encodes the store's pending state tokens (state -> expiry, no
// verifiers or challenges) through codec into a single cookie-shaped string
// an operator can paste into a local decode tool. Exists only so a
// development run of the fallback store has something better than "trust
// me" to inspect; never called against PostgresStore.
func (s *MemoryStore) DebugDump(codec *securecookie.SecureCookie) (string, error) {
	s.mu.Lock()
	snapshot := make(map[string]string, len(s.items))
	for state, rec := range s.items {
		snapshot[state] = rec.ExpiresAt.Format(time.RFC3339)
	}
	s.mu.Unlock()
	return codec.Encode("oauthstate_debug", snapshot)
}
