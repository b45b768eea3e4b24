package sessionsvc_test

import (
	"context"
	"testing"
	"time"

	"github.com/axiombridge/credential-gateway/internal/authdata"
	"github.com/axiombridge/credential-gateway/internal/data"
	"github.com/axiombridge/credential-gateway/internal/oauthexchange"
	"github.com/axiombridge/credential-gateway/internal/sessionsvc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchanger struct {
	result *oauthexchange.RefreshResult
	err    error
}

func (f *fakeExchanger) RefreshAccessToken(_ context.Context, _ string) (*oauthexchange.RefreshResult, error) {
	return f.result, f.err
}

func TestService_CompleteLogin_ThenValidateCookie(t *testing.T) {
	db, cleanup := data.SetupTestDB(t)
	defer cleanup()
	repo := authdata.New(db.Pool)
	svc := sessionsvc.NewService(repo, &fakeExchanger{}, 24*time.Hour)
	ctx := t.Context()

	refresh := "refresh-token"
	tr := sessionsvc.TokenResponse{
		AccessToken:  "access-token",
		RefreshToken: &refresh,
		ExpiresIn:    time.Hour,
		Scopes:       []string{"openid", "email", "https://www.googleapis.com/auth/gmail.readonly"},
	}
	ui := sessionsvc.UserInfo{
		ProviderUserID: "google-sub-100",
		Email:          "complete-login@example.com",
		EmailVerified:  true,
		Name:           "Grace Hopper",
		Picture:        "https://example.com/avatar.png",
	}

	cookie, expiresAt, err := svc.CompleteLogin(ctx, tr, ui, []byte(`{"name":"Grace Hopper"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, cookie)
	assert.True(t, expiresAt.After(time.Now().UTC()))

	user, err := svc.ValidateCookie(ctx, cookie)
	require.NoError(t, err)
	assert.Equal(t, "complete-login@example.com", user.PrimaryEmail)

	require.NoError(t, svc.Logout(ctx, cookie))
	_, err = svc.ValidateCookie(ctx, cookie)
	assert.Error(t, err)
}

func TestService_CompleteLogin_SecondLoginRevokesFirstSession(t *testing.T) {
	db, cleanup := data.SetupTestDB(t)
	defer cleanup()
	repo := authdata.New(db.Pool)
	svc := sessionsvc.NewService(repo, &fakeExchanger{}, 24*time.Hour)
	ctx := t.Context()

	tr := sessionsvc.TokenResponse{AccessToken: "access-1", ExpiresIn: time.Hour}
	ui := sessionsvc.UserInfo{ProviderUserID: "google-sub-200", Email: "single-session@example.com", EmailVerified: true}

	firstCookie, _, err := svc.CompleteLogin(ctx, tr, ui, nil)
	require.NoError(t, err)

	secondCookie, _, err := svc.CompleteLogin(ctx, tr, ui, nil)
	require.NoError(t, err)

	_, err = svc.ValidateCookie(ctx, firstCookie)
	assert.Error(t, err, "logging in again must invalidate the prior session")

	_, err = svc.ValidateCookie(ctx, secondCookie)
	assert.NoError(t, err)
}

func TestService_GetGoogleAccessTokenForUser_RefreshesExpiredToken(t *testing.T) {
	db, cleanup := data.SetupTestDB(t)
	defer cleanup()
	repo := authdata.New(db.Pool)
	exchanger := &fakeExchanger{result: &oauthexchange.RefreshResult{AccessToken: "refreshed-access", ExpiresIn: time.Hour}}
	svc := sessionsvc.NewService(repo, exchanger, 24*time.Hour)
	ctx := t.Context()

	refresh := "refresh-for-user"
	tr := sessionsvc.TokenResponse{AccessToken: "stale-access", RefreshToken: &refresh, ExpiresIn: -time.Hour}
	ui := sessionsvc.UserInfo{ProviderUserID: "google-sub-300", Email: "refresh-user@example.com", EmailVerified: true}

	cookie, _, err := svc.CompleteLogin(ctx, tr, ui, nil)
	require.NoError(t, err)
	user, err := svc.ValidateCookie(ctx, cookie)
	require.NoError(t, err)

	token, ok, err := svc.GetGoogleAccessTokenForUser(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "refreshed-access", token)
}
