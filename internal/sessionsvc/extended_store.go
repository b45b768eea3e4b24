package sessionsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/axiombridge/credential-gateway/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AxiomSessionData is the Axiom-specific slice of the extended per-browser
// session blob stored in account_sessions.
type AxiomSessionData struct {
	AxiomAccessToken  string `json:"axiom_access_token,omitempty"`
	AxiomRefreshToken string `json:"axiom_refresh_token,omitempty"`
	AxiomUserID       string `json:"axiom_user_id,omitempty"`
	UpdatedAt         int64  `json:"axiom_updated_at,omitempty"`

	// Pending* fields hold the in-flight Step1 result between the
	// /axiom/login and /axiom/login/otp requests, since the OTP arrives
	// out-of-band (email) and the two HTTP calls are never the same request.
	PendingOTPJWT       string `json:"axiom_pending_otp_jwt,omitempty"`
	PendingEmail        string `json:"axiom_pending_email,omitempty"`
	PendingB64Password  string `json:"axiom_pending_b64_password,omitempty"`
	PendingSubmittedOTP string `json:"axiom_pending_submitted_otp,omitempty"`
}

// ExtendedStore is a read-modify-write JSON blob store over account_sessions,
// adapted from the teacher's generic postgres session.Store to the
// id/data/expires column shape §6 specifies, and to per-row transactional
// locking so concurrent mutations of the same blob don't clobber each other
// (spec.md §9 "mixed sync/async mutation of session blob").
type ExtendedStore struct {
	pool *pgxpool.Pool
}

func NewExtendedStore(pool *pgxpool.Pool) *ExtendedStore {
	return &ExtendedStore{pool: pool}
}

// UpdateAxiomTokens merges Axiom credentials into the blob keyed by
// sessionKey (the literal session_id cookie value), creating the row with a
// 24h expiry if absent.
func (s *ExtendedStore) UpdateAxiomTokens(ctx context.Context, sessionKey, access, refresh, axiomUserID string, now time.Time) error {
	return s.mutate(ctx, sessionKey, now, func(blob map[string]any) {
		blob["axiom_access_token"] = access
		blob["axiom_refresh_token"] = refresh
		blob["axiom_user_id"] = axiomUserID
		blob["axiom_updated_at"] = now.Unix()
	})
}

// SavePendingOTP records the Step1 result (otp jwt, email, derived password)
// so the subsequent /axiom/login/otp request can complete Step2 without the
// caller resubmitting the password.
func (s *ExtendedStore) SavePendingOTP(ctx context.Context, sessionKey, otpJWT, email, b64Password string, now time.Time) error {
	return s.mutate(ctx, sessionKey, now, func(blob map[string]any) {
		blob["axiom_pending_otp_jwt"] = otpJWT
		blob["axiom_pending_email"] = email
		blob["axiom_pending_b64_password"] = b64Password
		delete(blob, "axiom_pending_submitted_otp")
	})
}

// RecordSubmittedOTP stores the last code the caller submitted to Step2,
// readable back as AxiomSessionData.PendingSubmittedOTP. The retry in
// AxiomHandler.HandleOTP compares against the code in the current request,
// not against this stored value.
func (s *ExtendedStore) RecordSubmittedOTP(ctx context.Context, sessionKey, code string, now time.Time) error {
	return s.mutate(ctx, sessionKey, now, func(blob map[string]any) {
		blob["axiom_pending_submitted_otp"] = code
	})
}

// ClearPendingOTP removes the pending Step1 state, called once Step2
// succeeds or the flow is abandoned.
func (s *ExtendedStore) ClearPendingOTP(ctx context.Context, sessionKey string, now time.Time) error {
	return s.mutate(ctx, sessionKey, now, func(blob map[string]any) {
		delete(blob, "axiom_pending_otp_jwt")
		delete(blob, "axiom_pending_email")
		delete(blob, "axiom_pending_b64_password")
		delete(blob, "axiom_pending_submitted_otp")
	})
}

// mutate is the shared SELECT...FOR UPDATE / mutate / upsert sequence every
// blob write uses, factored out of UpdateAxiomTokens.
func (s *ExtendedStore) mutate(ctx context.Context, sessionKey string, now time.Time, fn func(blob map[string]any)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrDatabaseUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var (
		data    string
		expires int64
	)
	err = tx.QueryRow(ctx, `SELECT data, expires FROM account_sessions WHERE id = $1 FOR UPDATE`, sessionKey).Scan(&data, &expires)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		data = "{}"
		expires = now.Add(24 * time.Hour).Unix()
	case err != nil:
		return fmt.Errorf("%w: %v", apperr.ErrDatabaseUnavailable, err)
	}

	blob := map[string]any{}
	if err := json.Unmarshal([]byte(data), &blob); err != nil {
		blob = map[string]any{}
	}
	fn(blob)

	newData, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("marshal extended session blob: %w", err)
	}

	const upsert = `
		INSERT INTO account_sessions (id, data, expires)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, expires = EXCLUDED.expires
	`
	if _, err := tx.Exec(ctx, upsert, sessionKey, string(newData), expires); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrDatabaseUnavailable, err)
	}
	return tx.Commit(ctx)
}

// GetAxiomSessionData reads the Axiom fields out of the blob for sessionKey,
// returning (nil, nil) if the row is absent or expired.
func (s *ExtendedStore) GetAxiomSessionData(ctx context.Context, sessionKey string) (*AxiomSessionData, error) {
	var (
		data    string
		expires int64
	)
	err := s.pool.QueryRow(ctx, `SELECT data, expires FROM account_sessions WHERE id = $1`, sessionKey).Scan(&data, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrDatabaseUnavailable, err)
	}
	if expires < time.Now().Unix() {
		return nil, nil
	}
	var out AxiomSessionData
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal extended session blob: %w", err)
	}
	return &out, nil
}
