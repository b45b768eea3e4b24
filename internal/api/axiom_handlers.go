package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/axiombridge/credential-gateway/internal/apperr"
	"github.com/axiombridge/credential-gateway/internal/axiomlogin"
	"github.com/axiombridge/credential-gateway/internal/mailreader"
	"github.com/axiombridge/credential-gateway/internal/sessioncookie"
	"github.com/axiombridge/credential-gateway/internal/sessionsvc"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// AxiomHandler is the HTTP surface for the two-step Axiom login (C7),
// backed by the Mail Reader (C8) for OTP retries and the extended session
// store for in-flight state between the two requests.
type AxiomHandler struct {
	client     *axiomlogin.Client
	mailReader *mailreader.Reader
	extended   *sessionsvc.ExtendedStore
}

func NewAxiomHandler(client *axiomlogin.Client, mailReader *mailreader.Reader, extended *sessionsvc.ExtendedStore) *AxiomHandler {
	return &AxiomHandler{client: client, mailReader: mailReader, extended: extended}
}

type axiomLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type axiomLoginResponse struct {
	Status string `json:"status"`
}

// HandleLogin runs Step1: derive the password, POST to Axiom, and stash the
// OTP JWT against the caller's session so /axiom/login/otp can finish.
func (h *AxiomHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req axiomLoginRequest
	if err := DecodeJSON(r, &req); err != nil || req.Email == "" || req.Password == "" {
		RespondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	b64Password, err := axiomlogin.HashPassword(req.Password)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "password contains unsupported characters")
		return
	}

	otpJWT, err := h.client.Step1(r.Context(), req.Email, b64Password)
	if err != nil {
		logAxiomFailure(r, user.ID.String(), "step1", err)
		RespondError(w, apperr.HTTPStatus(err), axiomErrorMessage(err))
		return
	}

	cookie, _ := r.Cookie(sessioncookie.Name)
	if err := h.extended.SavePendingOTP(r.Context(), cookie.Value, otpJWT, req.Email, b64Password, time.Now().UTC()); err != nil {
		log.Error().Err(err).Msg("failed to persist pending axiom otp state")
		RespondError(w, apperr.HTTPStatus(err), "failed to persist login state")
		return
	}

	RespondJSON(w, http.StatusOK, axiomLoginResponse{Status: "otp_pending"})
}

type axiomOTPRequest struct {
	Code string `json:"code"`
}

type axiomOTPResponse struct {
	Status string `json:"status"`
	UserID string `json:"axiom_user_id,omitempty"`
}

// HandleOTP runs Step2 with the caller-supplied code, retrying once against a
// freshly fetched OTP (per spec.md §4.7) if the first attempt fails for a
// non-rate-limit reason.
func (h *AxiomHandler) HandleOTP(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req axiomOTPRequest
	if err := DecodeJSON(r, &req); err != nil || req.Code == "" {
		RespondError(w, http.StatusBadRequest, "code is required")
		return
	}

	cookie, err := r.Cookie(sessioncookie.Name)
	if err != nil {
		RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	pending, err := h.extended.GetAxiomSessionData(r.Context(), cookie.Value)
	if err != nil {
		RespondError(w, apperr.HTTPStatus(err), "failed to load pending login state")
		return
	}
	if pending == nil || pending.PendingOTPJWT == "" {
		RespondError(w, http.StatusBadRequest, "no axiom login in progress")
		return
	}

	now := time.Now().UTC()
	_ = h.extended.RecordSubmittedOTP(r.Context(), cookie.Value, req.Code, now)

	tokens, err := h.client.Step2(r.Context(), pending.PendingOTPJWT, pending.PendingEmail, pending.PendingB64Password, req.Code)
	if err != nil && !errors.Is(err, apperr.ErrRateLimited) {
		tokens, err = h.retryWithFreshOTP(r, pending, user.PrimaryEmail, req.Code, err)
	}
	if err != nil {
		logAxiomFailure(r, user.ID.String(), "step2", err)
		RespondError(w, apperr.HTTPStatus(err), axiomErrorMessage(err))
		return
	}

	if err := h.extended.UpdateAxiomTokens(r.Context(), cookie.Value, tokens.AccessToken, tokens.RefreshToken, tokens.UserID, now); err != nil {
		log.Error().Err(err).Msg("failed to persist axiom tokens")
		RespondError(w, apperr.HTTPStatus(err), "failed to persist axiom session")
		return
	}
	if err := h.extended.ClearPendingOTP(r.Context(), cookie.Value, now); err != nil {
		log.Warn().Err(err).Msg("failed to clear pending otp state")
	}

	RespondJSON(w, http.StatusOK, axiomOTPResponse{Status: "authenticated", UserID: tokens.UserID})
}

// retryWithFreshOTP waits the fixed retry interval, refetches the OTP code
// (strict window, then a looser fallback), and retries Step2 once if the
// refetched code differs from what was already submitted. If no fresh code
// turns up, it surfaces origErr — the original Step2 failure — rather than a
// generic OTP-unavailable error, matching axiomlogin.Orchestrator.Login.
func (h *AxiomHandler) retryWithFreshOTP(r *http.Request, pending *sessionsvc.AxiomSessionData, inboxEmail, submittedCode string, origErr error) (*axiomlogin.AxiomTokens, error) {
	ctx := r.Context()
	select {
	case <-time.After(10 * time.Second):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	newCode, found, err := h.mailReader.GetAxiomOTP(ctx, inboxEmail)
	if err != nil || !found {
		newCode, found, err = h.mailReader.GetAxiomOTPWithin(ctx, inboxEmail, 300, 4)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrOTPUnavailable, err)
	}
	if !found || newCode == submittedCode {
		return nil, origErr
	}

	return h.client.Step2(ctx, pending.PendingOTPJWT, pending.PendingEmail, pending.PendingB64Password, newCode)
}

func axiomErrorMessage(err error) string {
	if errors.Is(err, apperr.ErrRateLimited) {
		return "rate limited by axiom, please wait before retrying"
	}
	if errors.Is(err, apperr.ErrOTPUnavailable) {
		return "could not retrieve a valid otp code from email"
	}
	return "axiom login failed"
}

func logAxiomFailure(r *http.Request, userID, step string, err error) {
	log.Warn().Err(err).Str("user_id", userID).Str("step", step).Msg("axiom login failed")
}

// RegisterAxiomRoutes mounts the Axiom two-step login endpoints, both of
// which require an authenticated session.
func RegisterAxiomRoutes(r chi.Router, h *AxiomHandler) {
	r.Post("/axiom/login", h.HandleLogin)
	r.Post("/axiom/login/otp", h.HandleOTP)
}
