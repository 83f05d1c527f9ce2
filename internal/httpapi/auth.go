package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/Kocoro-lab/Shannon/go/research/internal/auth"
	"go.uber.org/zap"
)

// TokenHandler exchanges an authenticated caller (typically an API key) for a
// short-lived JWT, so browsers can open the stream endpoints with ?token=.
//
//	POST /api/v1/auth/token
type TokenHandler struct {
	jwt    *auth.JWTManager
	logger *zap.Logger
}

// NewTokenHandler constructs a new handler.
func NewTokenHandler(jwt *auth.JWTManager, logger *zap.Logger) *TokenHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenHandler{jwt: jwt, logger: logger}
}

// RegisterRoutes registers the token endpoint on the given mux.
func (h *TokenHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/token", h.handleToken)
}

type tokenRequest struct {
	Scopes []string `json:"scopes"`
}

type tokenResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	Scopes      []string `json:"scopes"`
}

func (h *TokenHandler) handleToken(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user.TokenType == auth.TokenTypeNone {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if h.jwt == nil {
		writeError(w, http.StatusNotImplemented, "token issuing is not configured")
		return
	}

	var req tokenRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	// a token never carries more than its caller holds
	scopes := user.Scopes
	if len(req.Scopes) > 0 {
		scopes = make([]string, 0, len(req.Scopes))
		for _, s := range req.Scopes {
			if !user.HasScope(s) {
				writeError(w, http.StatusForbidden, "scope not granted: "+sanitizeErr(s))
				return
			}
			scopes = append(scopes, s)
		}
	}

	token, err := h.jwt.Generate(user.Subject, scopes)
	if err != nil {
		h.logger.Warn("Token generation failed", zap.String("subject", user.Subject), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "Bearer", Scopes: scopes})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sanitizeErr trims error messages for safe client output (UTF-8 safe).
func sanitizeErr(s string) string {
	runes := []rune(s)
	if len(runes) > 200 {
		return string(runes[:200])
	}
	return s
}
