// Package sessioncookie is the single place that parses and formats the
// "{user_uuid}:{token_uuid}" session cookie value. Every component that
// needs to read or write that shape calls here instead of splitting the
// string itself.
package sessioncookie

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const Name = "session_id"

// Format renders the canonical cookie value for a user/session-token pair.
func Format(userID, tokenID uuid.UUID) string {
	return userID.String() + ":" + tokenID.String()
}

// Parse splits "{user_uuid}:{token_uuid}" into its two components. ok is
// false for anything that isn't exactly two valid UUIDs joined by a colon.
func Parse(cookie string) (userID, tokenID uuid.UUID, ok bool) {
	parts := strings.SplitN(cookie, ":", 2)
	if len(parts) != 2 {
		return uuid.Nil, uuid.Nil, false
	}
	u, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	t, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	return u, t, true
}

// NewCookie builds the Set-Cookie value per the wire format: HttpOnly,
// Path=/, SameSite=Lax, Max-Age=maxAge, Secure unless development. The
// callback handler passes the session's remaining lifetime in whole seconds,
// which is 86400 for the default 24h session.
func NewCookie(value string, secure bool, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     Name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

// ClearCookie builds an expired cookie that deletes the session_id cookie in
// the browser. Uses the same SameSite/HttpOnly/Secure attributes as
// NewCookie so clearing is never rejected by a browser that accepted the
// original set.
func ClearCookie(secure bool) *http.Cookie {
	c := NewCookie("", secure, -1)
	return c
}

// RandomOpaqueValue returns a random hex string suitable for a session
// token's secret Value column.
func RandomOpaqueValue() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("sessioncookie: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
