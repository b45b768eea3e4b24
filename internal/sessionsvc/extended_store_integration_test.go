package sessionsvc_test

import (
	"testing"
	"time"

	"github.com/axiombridge/credential-gateway/internal/data"
	"github.com/axiombridge/credential-gateway/internal/sessionsvc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtendedStore_PendingOTPLifecycle(t *testing.T) {
	db, cleanup := data.SetupTestDB(t)
	defer cleanup()
	store := sessionsvc.NewExtendedStore(db.Pool)
	ctx := t.Context()
	now := time.Now().UTC()
	sessionKey := "extended-store-session-1"

	absent, err := store.GetAxiomSessionData(ctx, sessionKey)
	require.NoError(t, err)
	assert.Nil(t, absent)

	require.NoError(t, store.SavePendingOTP(ctx, sessionKey, "otp-jwt-value", "trader@axiom.example.com", "b64-password", now))

	pending, err := store.GetAxiomSessionData(ctx, sessionKey)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "otp-jwt-value", pending.PendingOTPJWT)
	assert.Equal(t, "trader@axiom.example.com", pending.PendingEmail)

	require.NoError(t, store.RecordSubmittedOTP(ctx, sessionKey, "111111", now))
	pending, err = store.GetAxiomSessionData(ctx, sessionKey)
	require.NoError(t, err)
	assert.Equal(t, "111111", pending.PendingSubmittedOTP)

	require.NoError(t, store.UpdateAxiomTokens(ctx, sessionKey, "axiom-access", "axiom-refresh", "axiom-user-1", now))
	pending, err = store.GetAxiomSessionData(ctx, sessionKey)
	require.NoError(t, err)
	assert.Equal(t, "axiom-access", pending.AxiomAccessToken)
	// The pending Step1 fields must survive an UpdateAxiomTokens write: the
	// blob is merged, not replaced.
	assert.Equal(t, "otp-jwt-value", pending.PendingOTPJWT)

	require.NoError(t, store.ClearPendingOTP(ctx, sessionKey, now))
	pending, err = store.GetAxiomSessionData(ctx, sessionKey)
	require.NoError(t, err)
	assert.Empty(t, pending.PendingOTPJWT)
	assert.Equal(t, "axiom-access", pending.AxiomAccessToken, "ClearPendingOTP must not touch the committed axiom tokens")
}

func TestExtendedStore_GetAxiomSessionData_ExpiredRowTreatedAsAbsent(t *testing.T) {
	db, cleanup := data.SetupTestDB(t)
	defer cleanup()
	store := sessionsvc.NewExtendedStore(db.Pool)
	ctx := t.Context()
	sessionKey := "extended-store-session-expired"

	past := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.SavePendingOTP(ctx, sessionKey, "otp-jwt-value", "trader@axiom.example.com", "b64-password", past))

	got, err := store.GetAxiomSessionData(ctx, sessionKey)
	require.NoError(t, err)
	assert.Nil(t, got)
}
