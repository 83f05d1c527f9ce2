package auth

import "errors"

// Scopes
const (
	ScopeResearchRead  = "research:read"
	ScopeResearchWrite = "research:write"
)

// DefaultScopes are granted to API keys and to tokens issued without explicit scopes.
var DefaultScopes = []string{ScopeResearchRead, ScopeResearchWrite}

const (
	TokenTypeJWT    = "jwt"
	TokenTypeAPIKey = "api_key"
	TokenTypeNone   = "none"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrMissingAuth   = errors.New("missing authentication")
)

// UserContext describes the authenticated caller of a request.
type UserContext struct {
	Subject   string   `json:"subject"`
	Scopes    []string `json:"scopes"`
	TokenType string   `json:"token_type"`
	TokenID   string   `json:"token_id,omitempty"`
}

// HasScope reports whether the caller was granted scope.
func (u *UserContext) HasScope(scope string) bool {
	if u == nil {
		return false
	}
	for _, s := range u.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
