// Package oauthstate is the OAuth State Broker (C4): it builds authorize
// URLs, generates CSRF state and PKCE pairs, and consumes state tokens
// exactly once.
package oauthstate

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/axiombridge/credential-gateway/internal/models"
)

// ProviderConfig describes the parameters needed to compose an authorize URL
// for one identity provider.
type ProviderConfig struct {
	AuthEndpoint string
	ClientID     string
	RedirectURI  string
	Scope        string
	// ExtraParams are appended verbatim (e.g. Google's access_type=offline,
	// prompt=consent, required to obtain a refresh token on consent).
	ExtraParams map[string]string
}

// Broker builds authorization URLs and mediates state validation.
type Broker struct {
	store    Store
	provider ProviderConfig
	ttl      time.Duration
}

func NewBroker(store Store, provider ProviderConfig, ttl time.Duration) *Broker {
	return &Broker{store: store, provider: provider, ttl: ttl}
}

// AuthorizationURL builds the authorize URL, persists an OAuthState, and
// returns both the URL and the state token.
func (b *Broker) AuthorizationURL(ctx context.Context, redirectAfterLogin *string) (string, string, error) {
	verifier, err := newCodeVerifier()
	if err != nil {
		return "", "", fmt.Errorf("generate pkce verifier: %w", err)
	}
	challenge := challengeFromVerifier(verifier)

	state, err := newStateToken()
	if err != nil {
		return "", "", fmt.Errorf("generate state token: %w", err)
	}

	now := time.Now().UTC()
	rec := &models.OAuthState{
		State:              state,
		CodeVerifier:       verifier,
		CodeChallenge:      challenge,
		RedirectAfterLogin: redirectAfterLogin,
		CreatedAt:          now,
		ExpiresAt:          now.Add(b.ttl),
	}
	if err := b.store.Save(ctx, rec); err != nil {
		return "", "", err
	}

	q := url.Values{}
	q.Set("client_id", b.provider.ClientID)
	q.Set("redirect_uri", b.provider.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", b.provider.Scope)
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	for k, v := range b.provider.ExtraParams {
		q.Set(k, v)
	}
	return b.provider.AuthEndpoint + "?" + q.Encode(), state, nil
}

// ValidateAndConsumeState delegates to the backing store; consumption
// prevents replay (P3, E3).
func (b *Broker) ValidateAndConsumeState(ctx context.Context, state string) (*models.OAuthState, error) {
	return b.store.ValidateAndConsume(ctx, state)
}

// VerifyPKCE recomputes S256(verifier) and compares it byte-equal to challenge.
func VerifyPKCE(verifier, challenge string) bool {
	return challengeFromVerifier(verifier) == challenge
}

func challengeFromVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// newCodeVerifier generates a PKCE verifier of 128 base64url characters
// (96 random bytes base64url-encode to exactly 128 characters with no
// padding), within RFC 7636's 43-128 character bound.
func newCodeVerifier() (string, error) {
	b := make([]byte, 96)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// newStateToken generates a 128-bit opaque random state value.
func newStateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
