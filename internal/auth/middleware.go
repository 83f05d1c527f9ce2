package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ContextKey is the key type for context values
type ContextKey string

// UserContextKey is the context key for user information
const UserContextKey ContextKey = "user"

var anonymous = &UserContext{Subject: "anonymous", Scopes: DefaultScopes, TokenType: TokenTypeNone}

// Middleware authenticates HTTP requests with a bearer JWT or an X-API-Key.
type Middleware struct {
	jwt      *JWTManager
	keys     *APIKeyVerifier
	skipAuth bool
	logger   *zap.Logger
}

// NewMiddleware creates a new authentication middleware. With skipAuth every
// request runs as an anonymous caller holding the default scopes.
func NewMiddleware(jwtManager *JWTManager, keys *APIKeyVerifier, skipAuth bool, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{jwt: jwtManager, keys: keys, skipAuth: skipAuth, logger: logger}
}

// HTTPMiddleware rejects unauthenticated requests with 401.
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipAuth {
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), anonymous)))
			return
		}
		user, err := m.authenticate(r)
		if err != nil {
			m.logger.Debug("Authentication failed", zap.String("path", r.URL.Path), zap.Error(err))
			writeUnauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func (m *Middleware) authenticate(r *http.Request) (*UserContext, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, err := ExtractBearerToken(header)
		if err != nil {
			return nil, err
		}
		if m.jwt == nil {
			return nil, ErrInvalidToken
		}
		return m.jwt.Validate(token)
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return m.keys.Verify(key)
	}
	// EventSource cannot send custom headers
	if strings.HasPrefix(r.URL.Path, "/stream/") {
		if key := r.URL.Query().Get("api_key"); key != "" {
			return m.keys.Verify(key)
		}
		if token := r.URL.Query().Get("token"); token != "" && m.jwt != nil {
			return m.jwt.Validate(token)
		}
	}
	return nil, ErrMissingAuth
}

// RequireScope wraps next so callers without scope get 403.
func RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			writeUnauthorized(w, ErrMissingAuth)
			return
		}
		if !user.HasScope(scope) {
			http.Error(w, `{"error":"missing required scope: `+scope+`"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	msg := "unauthorized"
	switch {
	case errors.Is(err, ErrInvalidAPIKey):
		msg = "invalid API key"
	case errors.Is(err, ErrInvalidToken):
		msg = "invalid token"
	case errors.Is(err, ErrMissingAuth):
		msg = "authentication required"
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="research"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// ExtractBearerToken returns the token of a "Bearer <token>" header.
func ExtractBearerToken(header string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(parts[1]), nil
}

// WithUser stores the caller in ctx.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// UserFromContext extracts user context from context
func UserFromContext(ctx context.Context) (*UserContext, bool) {
	user, ok := ctx.Value(UserContextKey).(*UserContext)
	return user, ok && user != nil
}
