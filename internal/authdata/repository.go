// Package authdata consolidates every SQL statement that writes the
// identity/session/token schema. No other package issues SQL against the
// users, linked_accounts, tokens, token_scopes, or sessions_table tables;
// callers go through the Repository methods below. The oauth_states table is
// owned by oauthstate.PostgresStore.
package authdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/axiombridge/credential-gateway/internal/apperr"
	"github.com/axiombridge/credential-gateway/internal/models"
	"github.com/axiombridge/credential-gateway/internal/sessioncookie"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the Auth Repository (C3).
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		state := pgErr.SQLState()
		// 23xxx is the class of integrity-constraint-violation SQLSTATEs.
		if strings.HasPrefix(state, "23") {
			return fmt.Errorf("%w: %v", apperr.ErrConstraintViolation, err)
		}
	}
	return fmt.Errorf("%w: %v", apperr.ErrDatabaseUnavailable, err)
}

// UpsertUserByEmail finds a user by case-insensitive primary_email, updating
// last-login and any non-nil display fields, or inserts a new row. On a
// duplicate-email race the winning caller receives the existing id.
func (r *Repository) UpsertUserByEmail(ctx context.Context, email string, firstName, lastName, displayName, avatarURL *string, verified bool) (uuid.UUID, error) {
	now := time.Now().UTC()
	const q = `
		INSERT INTO users (id, primary_email, first_name, last_name, display_name, avatar_url, is_verified, created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $8)
		ON CONFLICT (primary_email) DO UPDATE SET
			first_name    = COALESCE(EXCLUDED.first_name, users.first_name),
			last_name     = COALESCE(EXCLUDED.last_name, users.last_name),
			display_name  = COALESCE(EXCLUDED.display_name, users.display_name),
			avatar_url    = COALESCE(EXCLUDED.avatar_url, users.avatar_url),
			updated_at    = EXCLUDED.updated_at,
			last_login_at = EXCLUDED.last_login_at
		RETURNING id
	`
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, q, uuid.New(), email, firstName, lastName, displayName, avatarURL, verified, now).Scan(&id)
	if err != nil {
		return uuid.Nil, classify(err)
	}
	return id, nil
}

// UpsertLinkedAccount binds a user to one external provider account, unique
// on (user_id, provider_id, provider_user_id); on an existing row it updates
// the profile snapshot and last_login_at.
func (r *Repository) UpsertLinkedAccount(ctx context.Context, userID uuid.UUID, providerID models.ProviderID, providerUserID, profileEmail string, profileName, profileAvatar *string, profileBlob []byte) (uuid.UUID, error) {
	now := time.Now().UTC()
	if profileBlob == nil {
		profileBlob = []byte("{}")
	}
	const q = `
		INSERT INTO linked_accounts (id, user_id, provider_id, provider_user_id, provider_email, provider_display_name, provider_avatar_url, provider_profile_data, is_active, connected_at, last_login_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, $9, $9, $9)
		ON CONFLICT (user_id, provider_id, provider_user_id) DO UPDATE SET
			provider_email        = EXCLUDED.provider_email,
			provider_display_name = EXCLUDED.provider_display_name,
			provider_avatar_url   = EXCLUDED.provider_avatar_url,
			provider_profile_data = EXCLUDED.provider_profile_data,
			last_login_at         = EXCLUDED.last_login_at,
			updated_at            = EXCLUDED.updated_at
		RETURNING id
	`
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, q, uuid.New(), userID, providerID, providerUserID, profileEmail, profileName, profileAvatar, profileBlob, now).Scan(&id)
	if err != nil {
		return uuid.Nil, classify(err)
	}
	return id, nil
}

// StoreOAuthTokens upserts the access token (and refresh token if present)
// for a linked account, then mints a fresh session token for the user.
// Returns the new session token's id.
func (r *Repository) StoreOAuthTokens(ctx context.Context, linkedAccountID, userID uuid.UUID, access string, refresh *string, expiresIn time.Duration) (uuid.UUID, error) {
	now := time.Now().UTC()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, classify(err)
	}
	defer tx.Rollback(ctx)

	accessExpiry := now.Add(expiresIn)
	const upsertAccess = `
		INSERT INTO tokens (id, linked_account_id, type_id, value, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (linked_account_id, type_id) WHERE linked_account_id IS NOT NULL DO UPDATE SET
			value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.Exec(ctx, upsertAccess, uuid.New(), linkedAccountID, models.TokenTypeOAuthAccess, access, accessExpiry, now); err != nil {
		return uuid.Nil, classify(err)
	}

	if refresh != nil {
		refreshExpiry := now.Add(30 * 24 * time.Hour)
		const upsertRefresh = `
			INSERT INTO tokens (id, linked_account_id, type_id, value, expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			ON CONFLICT (linked_account_id, type_id) WHERE linked_account_id IS NOT NULL DO UPDATE SET
				value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
		`
		if _, err := tx.Exec(ctx, upsertRefresh, uuid.New(), linkedAccountID, models.TokenTypeOAuthRefresh, *refresh, refreshExpiry, now); err != nil {
			return uuid.Nil, classify(err)
		}
	}

	sessionTokenID := uuid.New()
	sessionExpiry := now.Add(24 * time.Hour)
	const insertSessionToken = `
		INSERT INTO tokens (id, user_id, type_id, value, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`
	if _, err := tx.Exec(ctx, insertSessionToken, sessionTokenID, userID, models.TokenTypeSession, sessioncookie.RandomOpaqueValue(), sessionExpiry, now); err != nil {
		return uuid.Nil, classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, classify(err)
	}
	return sessionTokenID, nil
}

// PersistAccessTokenScopes resolves the current access token for the linked
// account and inserts the granted scopes, ignoring ones already recorded.
func (r *Repository) PersistAccessTokenScopes(ctx context.Context, linkedAccountID uuid.UUID, scopes []string) error {
	if len(scopes) == 0 {
		return nil
	}
	var tokenID uuid.UUID
	const findAccess = `SELECT id FROM tokens WHERE linked_account_id = $1 AND type_id = $2`
	err := r.pool.QueryRow(ctx, findAccess, linkedAccountID, models.TokenTypeOAuthAccess).Scan(&tokenID)
	if err != nil {
		return classify(err)
	}
	now := time.Now().UTC()
	const insertScope = `
		INSERT INTO token_scopes (token_id, scope, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_id, scope) DO NOTHING
	`
	for _, scope := range scopes {
		if _, err := r.pool.Exec(ctx, insertScope, tokenID, scope, now); err != nil {
			return classify(err)
		}
	}
	return nil
}

// CreateSession inserts a row into sessions_table for a session lasting ttl
// from now. Routed through models.BrowserSession so the ttl-must-be-positive
// invariant is enforced in one place rather than at every call site.
func (r *Repository) CreateSession(ctx context.Context, sessionID, userID, tokenID uuid.UUID, ttl time.Duration) (time.Time, error) {
	sess := models.NewBrowserSession(sessionID, userID, tokenID, time.Now().UTC(), ttl)
	const q = `
		INSERT INTO sessions_table (session_id, user_id, token_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, q, sess.SessionID, sess.UserID, sess.TokenID, sess.ExpiresAt, sess.CreatedAt)
	if err != nil {
		return time.Time{}, classify(err)
	}
	return sess.ExpiresAt, nil
}

// EnforceSingleSession deletes all sessions and all session-type tokens for
// the user. Must run before CreateSession / StoreOAuthTokens in flows that
// call both, so a login collapses to exactly one live session.
func (r *Repository) EnforceSingleSession(ctx context.Context, userID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM sessions_table WHERE user_id = $1`, userID); err != nil {
		return classify(err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM tokens WHERE user_id = $1 AND type_id = $2`, userID, models.TokenTypeSession); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

// ValidateSession parses the "{user_uuid}:{token_uuid}" cookie, joins
// tokens<->users where the token is a live session token owned by that
// user, and returns the user projection.
func (r *Repository) ValidateSession(ctx context.Context, cookie string) (*models.User, error) {
	userID, tokenID, ok := sessioncookie.Parse(cookie)
	if !ok {
		return nil, apperr.ErrInvalidSession
	}
	const q = `
		SELECT u.id, u.primary_email, u.first_name, u.last_name, u.display_name, u.avatar_url, u.is_verified, u.created_at, u.updated_at, u.last_login_at
		FROM tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.id = $1 AND t.type_id = $2 AND t.expires_at > now() AND u.id = $3
	`
	var u models.User
	err := r.pool.QueryRow(ctx, q, tokenID, models.TokenTypeSession, userID).Scan(
		&u.ID, &u.PrimaryEmail, &u.FirstName, &u.LastName, &u.DisplayName, &u.AvatarURL, &u.IsVerified, &u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrInvalidSession
	}
	if err != nil {
		return nil, classify(err)
	}
	return &u, nil
}

// Logout parses the cookie, deletes the sessions_table row and the backing
// session token. Idempotent: missing rows are not an error.
func (r *Repository) Logout(ctx context.Context, cookie string) error {
	_, tokenID, ok := sessioncookie.Parse(cookie)
	if !ok {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM sessions_table WHERE token_id = $1`, tokenID); err != nil {
		return classify(err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM tokens WHERE id = $1`, tokenID); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

func (r *Repository) latestGoogleToken(ctx context.Context, typeID models.TokenType, whereClause, arg string, argVal any) (*models.Token, error) {
	q := fmt.Sprintf(`
		SELECT t.id, t.linked_account_id, t.type_id, t.value, t.expires_at, t.created_at, t.updated_at
		FROM tokens t
		JOIN linked_accounts la ON la.id = t.linked_account_id
		JOIN users u ON u.id = la.user_id
		WHERE la.provider_id = $1 AND t.type_id = $2 AND %s
		ORDER BY t.created_at DESC
		LIMIT 1
	`, whereClause)
	var tok models.Token
	err := r.pool.QueryRow(ctx, q, models.ProviderGoogle, typeID, argVal).Scan(
		&tok.ID, &tok.LinkedAccountID, &tok.TypeID, &tok.Value, &tok.ExpiresAt, &tok.CreatedAt, &tok.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &tok, nil
}

// GetLatestValidGoogleAccessTokenByEmail returns the most recent non-expired
// Google access token for the user matched by email, or nil if none.
func (r *Repository) GetLatestValidGoogleAccessTokenByEmail(ctx context.Context, email string) (*models.Token, error) {
	tok, err := r.latestGoogleToken(ctx, models.TokenTypeOAuthAccess, "u.primary_email = $3 AND (t.expires_at IS NULL OR t.expires_at > now())", "email", email)
	return tok, err
}

// GetLatestValidGoogleAccessTokenByUserID returns the most recent non-expired
// Google access token for the user, or nil if none.
func (r *Repository) GetLatestValidGoogleAccessTokenByUserID(ctx context.Context, userID uuid.UUID) (*models.Token, error) {
	tok, err := r.latestGoogleToken(ctx, models.TokenTypeOAuthAccess, "u.id = $3 AND (t.expires_at IS NULL OR t.expires_at > now())", "user_id", userID)
	return tok, err
}

// GetLatestGoogleRefreshTokenByUserID returns the most recent Google refresh
// token for the user, or nil if none. Refresh tokens are not filtered by
// expiry here; callers attempt the refresh and handle rejection.
func (r *Repository) GetLatestGoogleRefreshTokenByUserID(ctx context.Context, userID uuid.UUID) (*models.Token, error) {
	tok, err := r.latestGoogleToken(ctx, models.TokenTypeOAuthRefresh, "u.id = $3", "user_id", userID)
	return tok, err
}

// UpdateAccessToken looks up the user's Google linked account and upserts
// the new access token value and expiry.
func (r *Repository) UpdateAccessToken(ctx context.Context, userID uuid.UUID, newValue string, expiresAt time.Time) error {
	var linkedAccountID uuid.UUID
	const findLinked = `SELECT id FROM linked_accounts WHERE user_id = $1 AND provider_id = $2 LIMIT 1`
	if err := r.pool.QueryRow(ctx, findLinked, userID, models.ProviderGoogle).Scan(&linkedAccountID); err != nil {
		return classify(err)
	}
	now := time.Now().UTC()
	const upsert = `
		INSERT INTO tokens (id, linked_account_id, type_id, value, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (linked_account_id, type_id) WHERE linked_account_id IS NOT NULL DO UPDATE SET
			value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
	`
	_, err := r.pool.Exec(ctx, upsert, uuid.New(), linkedAccountID, models.TokenTypeOAuthAccess, newValue, expiresAt, now)
	return classify(err)
}

// DevTokenInfo is the masked projection returned by DevFetchGoogleTokenInfo.
type DevTokenInfo struct {
	AccessTokenMasked  string     `json:"access_token_masked"`
	RefreshTokenMasked *string    `json:"refresh_token_masked,omitempty"`
	AccessExpiresAt    *time.Time `json:"access_expires_at,omitempty"`
}

// DevFetchGoogleTokenInfo returns a masked view of the stored Google tokens
// for operator debugging. Callers MUST gate this behind ENVIRONMENT=development.
func (r *Repository) DevFetchGoogleTokenInfo(ctx context.Context, userID uuid.UUID) (*DevTokenInfo, error) {
	access, err := r.GetLatestValidGoogleAccessTokenByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if access == nil {
		return nil, apperr.ErrInvalidSession
	}
	info := &DevTokenInfo{
		AccessTokenMasked: maskSecret(access.Value),
		AccessExpiresAt:   access.ExpiresAt,
	}
	if refresh, err := r.GetLatestGoogleRefreshTokenByUserID(ctx, userID); err == nil && refresh != nil {
		masked := maskSecret(refresh.Value)
		info.RefreshTokenMasked = &masked
	}
	return info, nil
}

func maskSecret(v string) string {
	if len(v) <= 10 {
		return "<redacted>"
	}
	return v[:6] + "..." + v[len(v)-4:]
}
