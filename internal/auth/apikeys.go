package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HashAPIKey returns the bcrypt hash stored in auth.api_key_hashes.
func HashAPIKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("API key must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash API key: %w", err)
	}
	return string(h), nil
}

// APIKeyVerifier checks presented keys against configured bcrypt hashes.
// Verified keys are remembered by SHA-256 digest so bcrypt runs once per key.
type APIKeyVerifier struct {
	hashes []string

	mu       sync.RWMutex
	verified map[string]int
}

func NewAPIKeyVerifier(hashes []string) *APIKeyVerifier {
	clean := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			clean = append(clean, h)
		}
	}
	return &APIKeyVerifier{hashes: clean, verified: make(map[string]int)}
}

// Enabled reports whether any key is configured.
func (v *APIKeyVerifier) Enabled() bool { return v != nil && len(v.hashes) > 0 }

// Verify returns the caller context for a valid key.
func (v *APIKeyVerifier) Verify(key string) (*UserContext, error) {
	if !v.Enabled() || key == "" {
		return nil, ErrInvalidAPIKey
	}
	digest := digestKey(key)

	v.mu.RLock()
	idx, ok := v.verified[digest]
	v.mu.RUnlock()
	if ok {
		return apiKeyUser(idx), nil
	}

	for i, h := range v.hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(key)) == nil {
			v.mu.Lock()
			v.verified[digest] = i
			v.mu.Unlock()
			return apiKeyUser(i), nil
		}
	}
	return nil, ErrInvalidAPIKey
}

func apiKeyUser(idx int) *UserContext {
	return &UserContext{
		Subject:   fmt.Sprintf("api-key-%d", idx+1),
		Scopes:    DefaultScopes,
		TokenType: TokenTypeAPIKey,
	}
}

func digestKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
