// Package apperr defines the shared error-kind taxonomy used across the
// credential gateway. Every component wraps a lower-level failure into one
// of these sentinels so the HTTP boundary can classify it without knowing
// which component produced it.
package apperr

import "errors"

var (
	// ErrDatabaseUnavailable indicates the datastore could not be reached.
	ErrDatabaseUnavailable = errors.New("database unavailable")

	// ErrConstraintViolation indicates a unique-index race at the datastore.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrInvalidState indicates an OAuth callback referenced an unknown state token.
	ErrInvalidState = errors.New("invalid oauth state")

	// ErrExpiredState indicates an OAuth callback referenced a state token past its TTL.
	ErrExpiredState = errors.New("expired oauth state")

	// ErrOAuthRejected indicates the identity provider returned a 4xx during token exchange.
	ErrOAuthRejected = errors.New("oauth rejected")

	// ErrProviderUnavailable indicates the identity provider returned 429/5xx.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrInvalidSession indicates a session cookie is absent, malformed, expired, or forged.
	ErrInvalidSession = errors.New("invalid session")

	// ErrRateLimited indicates an upstream (Axiom) rate-limit response.
	ErrRateLimited = errors.New("rate limited")

	// ErrOTPUnavailable indicates no OTP email was found within the search window.
	ErrOTPUnavailable = errors.New("otp unavailable")

	// ErrUpstreamUnexpected indicates an upstream response whose shape didn't match expectations.
	ErrUpstreamUnexpected = errors.New("upstream unexpected response")
)

// HTTPStatus maps an error kind to the response code the HTTP boundary should use.
// Falls back to 500 for anything not in the taxonomy.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrDatabaseUnavailable):
		return 500
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrExpiredState):
		return 400
	case errors.Is(err, ErrOAuthRejected):
		return 400
	case errors.Is(err, ErrProviderUnavailable):
		return 502
	case errors.Is(err, ErrInvalidSession):
		return 401
	case errors.Is(err, ErrRateLimited):
		return 429
	case errors.Is(err, ErrUpstreamUnexpected):
		return 502
	case errors.Is(err, ErrOTPUnavailable):
		return 404
	default:
		return 500
	}
}
