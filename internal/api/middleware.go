package api

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"

	"github.com/axiombridge/credential-gateway/internal/models"
	"github.com/axiombridge/credential-gateway/internal/sessioncookie"
	"github.com/rs/zerolog/log"
)

type contextKey string

const ContextUserKey contextKey = "user"

// CookieValidator is the subset of sessionsvc.Service the auth middleware needs.
type CookieValidator interface {
	ValidateCookie(ctx context.Context, cookie string) (*models.User, error)
}

// AuthMiddleware validates the session_id cookie and attaches the resolved
// user to the request context, rejecting the request with 401 otherwise.
func AuthMiddleware(svc CookieValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessioncookie.Name)
			if err != nil {
				RespondError(w, http.StatusUnauthorized, "not authenticated: no session cookie")
				return
			}
			user, err := svc.ValidateCookie(r.Context(), cookie.Value)
			if err != nil {
				log.Debug().Err(err).Msg("session validation failed")
				RespondError(w, http.StatusUnauthorized, "not authenticated: invalid session")
				return
			}
			ctx := context.WithValue(r.Context(), ContextUserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext retrieves the user AuthMiddleware attached to the request.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(ContextUserKey).(*models.User)
	return u, ok
}

const (
	csrfTokenLength = 32
	csrfCookieName  = "csrf_token"
	csrfHeaderName  = "X-CSRF-Token"
)

// CSRF implements the double-submit cookie pattern: a random token is set as
// a readable (non-HttpOnly) cookie, and every unsafe request must echo it
// back in a header. A cross-origin attacker can trigger the request but
// cannot read the cookie to populate the header.
type CSRF struct {
	secure bool
}

func NewCSRF(secure bool) *CSRF {
	return &CSRF{secure: secure}
}

func (m *CSRF) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) {
			if _, err := r.Cookie(csrfCookieName); err != nil {
				token, genErr := generateCSRFToken()
				if genErr != nil {
					RespondError(w, http.StatusInternalServerError, "failed to generate csrf token")
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     csrfCookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: false,
					Secure:   m.secure,
					SameSite: http.SameSiteLaxMode,
					MaxAge:   86400,
				})
			}
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(csrfCookieName)
		if err != nil {
			RespondError(w, http.StatusForbidden, "csrf token not found")
			return
		}
		header := r.Header.Get(csrfHeaderName)
		if header == "" || !constantTimeEqual(cookie.Value, header) {
			RespondError(w, http.StatusForbidden, "invalid csrf token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func generateCSRFToken() (string, error) {
	b := make([]byte, csrfTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
