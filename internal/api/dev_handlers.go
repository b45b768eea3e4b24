package api

import (
	"net/http"

	"github.com/axiombridge/credential-gateway/internal/apperr"
	"github.com/axiombridge/credential-gateway/internal/authdata"
	"github.com/go-chi/chi/v5"
)

// DevHandler exposes operator-only introspection endpoints backed by
// authdata.Repository's dev-only read paths. RegisterDevRoutes must only be
// called when the caller has already confirmed ENVIRONMENT=development;
// nothing in this package enforces that gate itself.
type DevHandler struct {
	repo *authdata.Repository
}

func NewDevHandler(repo *authdata.Repository) *DevHandler {
	return &DevHandler{repo: repo}
}

// HandleGoogleTokenInfo returns a masked view of the caller's stored Google
// access/refresh tokens, for local operator debugging only.
func (h *DevHandler) HandleGoogleTokenInfo(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	info, err := h.repo.DevFetchGoogleTokenInfo(r.Context(), user.ID)
	if err != nil {
		RespondError(w, apperr.HTTPStatus(err), "no google token on file")
		return
	}
	RespondJSON(w, http.StatusOK, info)
}

// RegisterDevRoutes mounts the operator-only introspection endpoints named in
// SPEC_FULL.md §3. Callers MUST only invoke this behind an
// ENVIRONMENT=development check.
func RegisterDevRoutes(r chi.Router, h *DevHandler) {
	r.Get("/dev/google-token-info", h.HandleGoogleTokenInfo)
}
