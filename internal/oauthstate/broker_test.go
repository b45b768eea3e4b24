package oauthstate

import (
	"context"
	"testing"
	"time"

	"github.com/axiombridge/credential-gateway/internal/apperr"
	"github.com/gorilla/securecookie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBroker() *Broker {
	store := NewMemoryStore()
	return NewBroker(store, ProviderConfig{
		AuthEndpoint: "https://accounts.google.com/o/oauth2/v2/auth",
		ClientID:     "test-client-id",
		RedirectURI:  "https://gateway.example.com/auth/callback",
		Scope:        "https://www.googleapis.com/auth/gmail.readonly openid profile email",
		ExtraParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
	}, 10*time.Minute)
}

func TestBroker_AuthorizationURL_ContainsRequiredParams(t *testing.T) {
	b := testBroker()
	authURL, state, err := b.AuthorizationURL(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, state)
	assert.Contains(t, authURL, "client_id=test-client-id")
	assert.Contains(t, authURL, "code_challenge=")
	assert.Contains(t, authURL, "code_challenge_method=S256")
	assert.Contains(t, authURL, "access_type=offline")
	assert.Contains(t, authURL, "state="+state)
}

func TestBroker_ValidateAndConsumeState_ConsumesOnce(t *testing.T) {
	b := testBroker()
	_, state, err := b.AuthorizationURL(context.Background(), nil)
	require.NoError(t, err)

	rec, err := b.ValidateAndConsumeState(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, VerifyPKCE(rec.CodeVerifier, rec.CodeChallenge))

	_, err = b.ValidateAndConsumeState(context.Background(), state)
	assert.Error(t, err)
}

func TestBroker_ValidateAndConsumeState_UnknownState(t *testing.T) {
	b := testBroker()
	_, err := b.ValidateAndConsumeState(context.Background(), "never-issued")
	assert.Error(t, err)
}

func TestBroker_ValidateAndConsumeState_Expired(t *testing.T) {
	store := NewMemoryStore()
	b := NewBroker(store, ProviderConfig{
		AuthEndpoint: "https://accounts.google.com/o/oauth2/v2/auth",
		ClientID:     "test-client-id",
		RedirectURI:  "https://gateway.example.com/auth/callback",
		Scope:        "openid",
	}, -1*time.Second)

	_, state, err := b.AuthorizationURL(context.Background(), nil)
	require.NoError(t, err)

	_, err = b.ValidateAndConsumeState(context.Background(), state)
	assert.ErrorIs(t, err, apperr.ErrExpiredState)
}

func TestBroker_AuthorizationURL_CarriesRedirectAfterLogin(t *testing.T) {
	b := testBroker()
	redirect := "/dashboard"
	_, state, err := b.AuthorizationURL(context.Background(), &redirect)
	require.NoError(t, err)

	rec, err := b.ValidateAndConsumeState(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, rec.RedirectAfterLogin)
	assert.Equal(t, redirect, *rec.RedirectAfterLogin)
}

func TestMemoryStore_DebugDump_EncodesPendingStates(t *testing.T) {
	store := NewMemoryStore()
	b := NewBroker(store, ProviderConfig{
		AuthEndpoint: "https://accounts.google.com/o/oauth2/v2/auth",
		ClientID:     "test-client-id",
		RedirectURI:  "https://gateway.example.com/auth/callback",
		Scope:        "openid",
	}, 10*time.Minute)
	_, _, err := b.AuthorizationURL(context.Background(), nil)
	require.NoError(t, err)

	codec := securecookie.New(securecookie.GenerateRandomKey(32), nil)
	encoded, err := store.DebugDump(codec)
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)

	var decoded map[string]string
	require.NoError(t, codec.Decode("oauthstate_debug", encoded, &decoded))
	assert.Len(t, decoded, 1)
}
