package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/axiombridge/credential-gateway/internal/api"
	"github.com/axiombridge/credential-gateway/internal/authdata"
	"github.com/axiombridge/credential-gateway/internal/data"
	"github.com/axiombridge/credential-gateway/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevHandler_HandleGoogleTokenInfo_ReturnsMaskedTokens(t *testing.T) {
	db, cleanup := data.SetupTestDB(t)
	defer cleanup()
	repo := authdata.New(db.Pool)
	ctx := context.Background()

	userID, err := repo.UpsertUserByEmail(ctx, "dev-token-info@example.com", nil, nil, nil, nil, true)
	require.NoError(t, err)
	linkedID, err := repo.UpsertLinkedAccount(ctx, userID, models.ProviderGoogle, "google-sub-dev", "dev-token-info@example.com", nil, nil, nil)
	require.NoError(t, err)
	refresh := "refresh-secret-value"
	_, err = repo.StoreOAuthTokens(ctx, linkedID, userID, "access-secret-value", &refresh, time.Hour)
	require.NoError(t, err)

	handler := api.NewDevHandler(repo)
	r := chi.NewRouter()
	r.With(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			u := &models.User{ID: userID, PrimaryEmail: "dev-token-info@example.com"}
			ctx := context.WithValue(req.Context(), api.ContextUserKey, u)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}).Group(func(r chi.Router) {
		api.RegisterDevRoutes(r, handler)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/dev/google-token-info")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "access...alue", body["access_token_masked"])
	assert.Equal(t, "refres...alue", body["refresh_token_masked"])
}
