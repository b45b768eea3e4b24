package oauthexchange

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/axiombridge/credential-gateway/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestService(t *testing.T, tokenHandler http.HandlerFunc) (*Service, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(tokenHandler)
	t.Cleanup(srv.Close)
	cfg := &oauth2.Config{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		RedirectURL:  "https://gateway.example.com/auth/callback",
		Endpoint: oauth2.Endpoint{
			TokenURL: srv.URL + "/token",
		},
	}
	return NewService(cfg), srv
}

func tokenResponseHandler(accessToken, refreshToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}
}

func TestExchangeCode_Success(t *testing.T) {
	svc, _ := newTestService(t, tokenResponseHandler("access-123", "refresh-456"))
	tok, err := svc.ExchangeCode(t.Context(), "auth-code", "verifier-value")
	require.NoError(t, err)
	assert.Equal(t, "access-123", tok.AccessToken)
	assert.Equal(t, "refresh-456", tok.RefreshToken)
}

func TestExchangeCode_ProviderRejected(t *testing.T) {
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})
	_, err := svc.ExchangeCode(t.Context(), "bad-code", "verifier-value")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrOAuthRejected)
}

func TestExchangeCode_ProviderUnavailable(t *testing.T) {
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"temporarily_unavailable"}`))
	})
	_, err := svc.ExchangeCode(t.Context(), "auth-code", "verifier-value")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrProviderUnavailable)
}

func TestExchangeCode_EmptyAccessToken(t *testing.T) {
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"token_type": "Bearer"})
	})
	_, err := svc.ExchangeCode(t.Context(), "auth-code", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnexpected)
}

func TestRefreshAccessToken_Success(t *testing.T) {
	svc, _ := newTestService(t, tokenResponseHandler("new-access", ""))
	res, err := svc.RefreshAccessToken(t.Context(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", res.AccessToken)
}

func TestRefreshAccessToken_RotatesRefreshToken(t *testing.T) {
	svc, _ := newTestService(t, tokenResponseHandler("new-access", "rotated-refresh"))
	res, err := svc.RefreshAccessToken(t.Context(), "old-refresh")
	require.NoError(t, err)
	require.NotNil(t, res.RefreshToken)
	assert.Equal(t, "rotated-refresh", *res.RefreshToken)
}

func TestUserInfoFromIDToken_NoIDTokenReturnsNil(t *testing.T) {
	svc, _ := newTestService(t, tokenResponseHandler("access", "refresh"))
	info := svc.UserInfoFromIDToken(t.Context(), &oauth2.Token{AccessToken: "access"})
	assert.Nil(t, info)
}
