// Package sessionsvc is the Session Service (C6): it combines the Auth
// Repository (C3) and the OAuth Exchange (C5) into the high-level
// operations the HTTP surface calls.
package sessionsvc

import (
	"context"
	"time"

	"github.com/axiombridge/credential-gateway/internal/authdata"
	"github.com/axiombridge/credential-gateway/internal/models"
	"github.com/axiombridge/credential-gateway/internal/oauthexchange"
	"github.com/axiombridge/credential-gateway/internal/sessioncookie"
	"github.com/google/uuid"
)

// Exchanger is the subset of oauthexchange.Service the session service needs,
// narrowed to an interface so tests can substitute a fake.
type Exchanger interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*oauthexchange.RefreshResult, error)
}

// TokenResponse carries the fields the Session Service persists after a
// successful code exchange, independent of the golang.org/x/oauth2 type so
// C3/C6 stay decoupled from that package.
type TokenResponse struct {
	AccessToken  string
	RefreshToken *string
	ExpiresIn    time.Duration
	Scopes       []string
}

// UserInfo carries the subset of oauthexchange.UserInfo that CompleteLogin
// persists; it has no GivenName or FamilyName fields.
type UserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	Picture        string
}

type Service struct {
	repo      *authdata.Repository
	exchanger Exchanger
	sessionTTL time.Duration
}

func NewService(repo *authdata.Repository, exchanger Exchanger, sessionTTL time.Duration) *Service {
	return &Service{repo: repo, exchanger: exchanger, sessionTTL: sessionTTL}
}

// CompleteLogin runs the full post-callback persistence sequence: upsert
// user, upsert linked account, enforce single session, store tokens, create
// session. Returns the session_id cookie value and its expiry.
func (s *Service) CompleteLogin(ctx context.Context, tr TokenResponse, ui UserInfo, profileBlob []byte) (string, time.Time, error) {
	var name *string
	if ui.Name != "" {
		name = &ui.Name
	}

	userID, err := s.repo.UpsertUserByEmail(ctx, ui.Email, nil, nil, name, picturePtr(ui.Picture), ui.EmailVerified)
	if err != nil {
		return "", time.Time{}, err
	}

	linkedAccountID, err := s.repo.UpsertLinkedAccount(ctx, userID, models.ProviderGoogle, ui.ProviderUserID, ui.Email, name, picturePtr(ui.Picture), profileBlob)
	if err != nil {
		return "", time.Time{}, err
	}

	if err := s.repo.EnforceSingleSession(ctx, userID); err != nil {
		return "", time.Time{}, err
	}

	sessionTokenID, err := s.repo.StoreOAuthTokens(ctx, linkedAccountID, userID, tr.AccessToken, tr.RefreshToken, tr.ExpiresIn)
	if err != nil {
		return "", time.Time{}, err
	}

	if len(tr.Scopes) > 0 {
		if err := s.repo.PersistAccessTokenScopes(ctx, linkedAccountID, tr.Scopes); err != nil {
			return "", time.Time{}, err
		}
	}

	newSessionID := uuid.New()
	expiresAt, err := s.repo.CreateSession(ctx, newSessionID, userID, sessionTokenID, s.sessionTTL)
	if err != nil {
		return "", time.Time{}, err
	}

	return sessioncookie.Format(userID, sessionTokenID), expiresAt, nil
}

func picturePtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ValidateCookie is a direct pass-through to the repository.
func (s *Service) ValidateCookie(ctx context.Context, cookie string) (*models.User, error) {
	return s.repo.ValidateSession(ctx, cookie)
}

// Logout is idempotent; see authdata.Repository.Logout.
func (s *Service) Logout(ctx context.Context, cookie string) error {
	return s.repo.Logout(ctx, cookie)
}

// GetGoogleAccessTokenForUser returns a valid access token for the user,
// auto-refreshing via C5 and persisting the result if the stored one has
// expired but a refresh token exists. Returns ("", false, nil) if neither
// step produces a usable token.
func (s *Service) GetGoogleAccessTokenForUser(ctx context.Context, userID uuid.UUID) (string, bool, error) {
	tok, err := s.repo.GetLatestValidGoogleAccessTokenByUserID(ctx, userID)
	if err != nil {
		return "", false, err
	}
	if tok != nil {
		return tok.Value, true, nil
	}

	refresh, err := s.repo.GetLatestGoogleRefreshTokenByUserID(ctx, userID)
	if err != nil {
		return "", false, err
	}
	if refresh == nil {
		return "", false, nil
	}

	result, err := s.exchanger.RefreshAccessToken(ctx, refresh.Value)
	if err != nil {
		return "", false, err
	}

	newExpiry := time.Now().UTC().Add(result.ExpiresIn)
	if err := s.repo.UpdateAccessToken(ctx, userID, result.AccessToken, newExpiry); err != nil {
		return "", false, err
	}
	return result.AccessToken, true, nil
}

// GetGoogleAccessTokenForEmail returns a valid access token keyed by email.
// It does not auto-refresh: refreshing requires a canonical user id.
func (s *Service) GetGoogleAccessTokenForEmail(ctx context.Context, email string) (string, bool, error) {
	tok, err := s.repo.GetLatestValidGoogleAccessTokenByEmail(ctx, email)
	if err != nil {
		return "", false, err
	}
	if tok == nil {
		return "", false, nil
	}
	return tok.Value, true, nil
}
