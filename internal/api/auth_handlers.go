package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/axiombridge/credential-gateway/internal/apperr"
	"github.com/axiombridge/credential-gateway/internal/config"
	"github.com/axiombridge/credential-gateway/internal/oauthexchange"
	"github.com/axiombridge/credential-gateway/internal/oauthstate"
	"github.com/axiombridge/credential-gateway/internal/sessioncookie"
	"github.com/axiombridge/credential-gateway/internal/sessionsvc"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

var googleScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"openid", "profile", "email",
}

// AuthHandler wires the OAuth State Broker (C4), OAuth Exchange (C5), and
// Session Service (C6) onto the HTTP surface.
type AuthHandler struct {
	broker   *oauthstate.Broker
	exchange *oauthexchange.Service
	sessions *sessionsvc.Service
	cfg      *config.AppConfig
}

func NewAuthHandler(cfg *config.AppConfig, broker *oauthstate.Broker, exchange *oauthexchange.Service, sessions *sessionsvc.Service) *AuthHandler {
	return &AuthHandler{broker: broker, exchange: exchange, sessions: sessions, cfg: cfg}
}

// HandleLogin redirects to Google's consent screen with a freshly minted
// PKCE challenge and CSRF state, per spec.md §4.4.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var redirectAfter *string
	if v := r.URL.Query().Get("redirect"); v != "" {
		redirectAfter = &v
	}
	authURL, _, err := h.broker.AuthorizationURL(r.Context(), redirectAfter)
	if err != nil {
		log.Error().Err(err).Msg("failed to build authorization url")
		RespondError(w, apperr.HTTPStatus(err), "failed to start login")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback exchanges the authorization code, fetches the user's
// profile, and persists the login via the Session Service.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		RespondError(w, http.StatusBadRequest, "oauth provider rejected the request: "+errParam)
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		RespondError(w, http.StatusBadRequest, "missing code or state")
		return
	}

	oauthState, err := h.broker.ValidateAndConsumeState(ctx, state)
	if err != nil {
		log.Warn().Err(err).Msg("oauth state validation failed")
		RespondError(w, apperr.HTTPStatus(err), "invalid or expired state")
		return
	}

	tok, err := h.exchange.ExchangeCode(ctx, code, oauthState.CodeVerifier)
	if err != nil {
		log.Error().Err(err).Msg("token exchange failed")
		RespondError(w, apperr.HTTPStatus(err), "failed to exchange authorization code")
		return
	}

	info := h.exchange.UserInfoFromIDToken(ctx, tok)
	if info == nil {
		info, err = h.exchange.FetchUserInfo(ctx, tok)
		if err != nil {
			log.Error().Err(err).Msg("failed to fetch user info")
			RespondError(w, apperr.HTTPStatus(err), "failed to fetch user profile")
			return
		}
	}

	profileBlob, _ := marshalProfile(info)

	expiresIn := time.Hour
	if !tok.Expiry.IsZero() {
		expiresIn = time.Until(tok.Expiry)
	}
	tr := sessionsvc.TokenResponse{
		AccessToken: tok.AccessToken,
		ExpiresIn:   expiresIn,
		Scopes:      googleScopes,
	}
	if tok.RefreshToken != "" {
		rt := tok.RefreshToken
		tr.RefreshToken = &rt
	}
	ui := sessionsvc.UserInfo{
		ProviderUserID: info.ProviderUserID,
		Email:          info.Email,
		EmailVerified:  info.EmailVerified,
		Name:           info.Name,
		Picture:        info.Picture,
	}

	cookieValue, expiresAt, err := h.sessions.CompleteLogin(ctx, tr, ui, profileBlob)
	if err != nil {
		log.Error().Err(err).Msg("failed to complete login")
		RespondError(w, apperr.HTTPStatus(err), "failed to complete login")
		return
	}

	http.SetCookie(w, sessioncookie.NewCookie(cookieValue, !h.cfg.IsDevelopment(), int(time.Until(expiresAt).Round(time.Second).Seconds())))

	if oauthState.RedirectAfterLogin != nil && *oauthState.RedirectAfterLogin != "" {
		http.Redirect(w, r, *oauthState.RedirectAfterLogin, http.StatusFound)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleLogout clears the session row and the cookie.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessioncookie.Name)
	if err == nil {
		if logoutErr := h.sessions.Logout(r.Context(), cookie.Value); logoutErr != nil {
			log.Warn().Err(logoutErr).Msg("logout cleanup failed")
		}
	}
	http.SetCookie(w, sessioncookie.ClearCookie(!h.cfg.IsDevelopment()))
	RespondJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// RegisterAuthRoutes mounts the Google OAuth endpoints named in spec.md §6.
func RegisterAuthRoutes(r chi.Router, h *AuthHandler) {
	r.Get("/auth/login", h.HandleLogin)
	r.Get("/auth/callback", h.HandleCallback)
	r.Post("/auth/logout", h.HandleLogout)
}

func marshalProfile(info *oauthexchange.UserInfo) ([]byte, error) {
	return json.Marshal(map[string]string{
		"name":        info.Name,
		"given_name":  info.GivenName,
		"family_name": info.FamilyName,
		"picture":     info.Picture,
	})
}
