package authrefresh

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tutormesh/coordinator/internal/domain"
)

// Handlers provides HTTP handlers for the token-refresh endpoint.
type Handlers struct {
	service *Service
	log     zerolog.Logger
}

// NewHandlers constructs a Handlers.
func NewHandlers(service *Service, log zerolog.Logger) *Handlers {
	return &Handlers{service: service, log: log.With().Str("module", "authrefresh_handlers").Logger()}
}

// RegisterRoutes registers the refresh route.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Post("/auth/refresh", h.Refresh)
}

type refreshRequest struct {
	SessionID    string `json:"sessionId"`
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    string `json:"expiresAt"`
}

// Refresh handles POST /auth/refresh.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.RefreshToken == "" {
		http.Error(w, "sessionId and refreshToken are required", http.StatusBadRequest)
		return
	}

	tokens, err := h.service.Refresh(r.Context(), req.SessionID, req.RefreshToken)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(refreshResponse{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			ExpiresAt:    tokens.ExpiresAt.UTC().Format(http.TimeFormat),
		})
	case errors.Is(err, ErrUnauthorized):
		http.Error(w, "refresh token invalid, revoked, or expired", http.StatusUnauthorized)
	case errors.Is(err, domain.ErrLockHeld):
		http.Error(w, "refresh already in progress, retry shortly", http.StatusTooManyRequests)
	default:
		h.log.Error().Err(err).Str("sessionId", req.SessionID).Msg("refresh failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
