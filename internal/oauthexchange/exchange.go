// Package oauthexchange is the OAuth Exchange (C5): it trades an
// authorization code for tokens, fetches userinfo, and refreshes expired
// access tokens against the configured identity provider.
package oauthexchange

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/axiombridge/credential-gateway/internal/apperr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	goauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

const googleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

var (
	ErrTokenExchange  = errors.New("failed to exchange authorization code for token")
	ErrUserInfo       = errors.New("failed to retrieve user information")
	ErrInvalidEmail   = errors.New("invalid email format")
	ErrInvalidIDToken = errors.New("invalid id token")
)

// UserInfo is the normalized profile returned by FetchUserInfo or the
// ID-token fast path. ProviderUserID is the "sub" (or "id") field observed
// on the wire.
type UserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	GivenName      string
	FamilyName     string
	Picture        string
}

// Service is the Google OAuth2 client. config.ClientID/ClientSecret/RedirectURL
// and config.Scopes/Endpoint are set by the caller (cmd/server wiring).
type Service struct {
	config *oauth2.Config
	log    zerolog.Logger
}

func NewService(config *oauth2.Config) *Service {
	return &Service{
		config: config,
		log:    zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger(),
	}
}

// ExchangeCode trades the authorization code for a token, using the PKCE
// verifier if non-empty. Classifies provider failures per spec: 400/401 ->
// OAuthRejected, 429/5xx -> ProviderUnavailable.
func (s *Service) ExchangeCode(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}
	tok, err := s.config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, classifyOAuthError(err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", apperr.ErrUpstreamUnexpected)
	}
	return tok, nil
}

func classifyOAuthError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		switch {
		case status == 400 || status == 401:
			return fmt.Errorf("%w: %v", apperr.ErrOAuthRejected, err)
		case status == 429 || status >= 500:
			return fmt.Errorf("%w: %v", apperr.ErrProviderUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrTokenExchange, err)
}

// FetchUserInfo calls the provider's userinfo endpoint with the official
// Google API client.
func (s *Service) FetchUserInfo(ctx context.Context, tok *oauth2.Token) (*UserInfo, error) {
	svc, err := goauth2.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(tok)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfo, err)
	}
	info, err := svc.Userinfo.Get().Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfo, err)
	}
	if info.Email == "" {
		return nil, fmt.Errorf("%w: missing email", ErrUserInfo)
	}
	if _, err := mail.ParseAddress(info.Email); err != nil {
		return nil, ErrInvalidEmail
	}
	providerUserID := info.Id
	return &UserInfo{
		ProviderUserID: providerUserID,
		Email:          info.Email,
		EmailVerified:  info.VerifiedEmail,
		Name:           info.Name,
		GivenName:      info.GivenName,
		FamilyName:     info.FamilyName,
		Picture:        info.Picture,
	}, nil
}

// UserInfoFromIDToken decodes and verifies the id_token's claims via
// Google's published JWKS, returning nil (not an error) when the token
// is missing or any required field is absent — the caller falls back to
// FetchUserInfo in that case.
func (s *Service) UserInfoFromIDToken(ctx context.Context, tok *oauth2.Token) *UserInfo {
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil
	}
	claims, err := s.validateIDToken(ctx, raw)
	if err != nil {
		s.log.Debug().Err(err).Msg("id token fast path failed, falling back to userinfo")
		return nil
	}
	email, _ := claims["email"].(string)
	sub, _ := claims["sub"].(string)
	if email == "" || sub == "" {
		return nil
	}
	verified, _ := claims["email_verified"].(bool)
	name, _ := claims["name"].(string)
	given, _ := claims["given_name"].(string)
	family, _ := claims["family_name"].(string)
	picture, _ := claims["picture"].(string)
	return &UserInfo{
		ProviderUserID: sub,
		Email:          email,
		EmailVerified:  verified,
		Name:           name,
		GivenName:      given,
		FamilyName:     family,
		Picture:        picture,
	}
}

func (s *Service) validateIDToken(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse unverified: %w", err)
	}
	kid, ok := unverified.Header["kid"].(string)
	if !ok {
		return nil, errors.New("missing kid in token header")
	}

	key, err := s.googlePublicKey(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("fetch public key: %w", err)
	}

	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("validate signature: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidIDToken
	}
	if err := validateClaims(claims, s.config.ClientID); err != nil {
		return nil, err
	}
	return claims, nil
}

func validateClaims(claims jwt.MapClaims, clientID string) error {
	iss, ok := claims["iss"].(string)
	if !ok || !strings.HasPrefix(iss, "https://accounts.google.com") {
		return errors.New("invalid issuer")
	}
	aud, ok := claims["aud"].(string)
	if !ok || aud != clientID {
		return errors.New("invalid audience")
	}
	exp, ok := claims["exp"].(float64)
	if !ok || float64(time.Now().Unix()) > exp {
		return errors.New("token expired")
	}
	iat, ok := claims["iat"].(float64)
	if !ok || float64(time.Now().Unix()) < iat {
		return errors.New("token used before issued")
	}
	return nil
}

func (s *Service) googlePublicKey(ctx context.Context, kid string) (interface{}, error) {
	set, err := jwk.Fetch(ctx, googleJWKSURL)
	if err != nil {
		return nil, err
	}
	key, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("key id %q not found in jwks", kid)
	}
	rawKey, err := jwk.PublicKeyOf(key)
	if err != nil {
		return nil, fmt.Errorf("export raw public key: %w", err)
	}
	return rawKey, nil
}

// RefreshResult carries the fields spec.md requires from a refresh call.
type RefreshResult struct {
	AccessToken  string
	ExpiresIn    time.Duration
	RefreshToken *string // set only if the provider rotated it
}

// RefreshAccessToken exchanges a refresh token for a new access token via
// oauth2.Config.TokenSource, the same idiom the teacher's OAuth middleware
// uses for its own refresh path.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	src := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	newTok, err := src.Token()
	if err != nil {
		return nil, classifyOAuthError(err)
	}
	res := &RefreshResult{
		AccessToken: newTok.AccessToken,
		ExpiresIn:   time.Until(newTok.Expiry),
	}
	if newTok.RefreshToken != "" && newTok.RefreshToken != refreshToken {
		res.RefreshToken = &newTok.RefreshToken
	}
	return res, nil
}
