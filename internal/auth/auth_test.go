package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", "", time.Hour)
	token, err := m.Generate("alice", nil)
	require.NoError(t, err)

	user, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Subject)
	assert.Equal(t, TokenTypeJWT, user.TokenType)
	assert.True(t, user.HasScope(ScopeResearchWrite))
	assert.NotEmpty(t, user.TokenID)
}

func TestJWTRejectsWrongKeyIssuerAndExpiry(t *testing.T) {
	m := NewJWTManager("secret", "", time.Hour)
	token, err := m.Generate("alice", []string{ScopeResearchRead})
	require.NoError(t, err)

	_, err = NewJWTManager("other", "", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewJWTManager("secret", "someone-else", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	later := NewJWTManager("secret", "", time.Hour)
	later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = later.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, CustomClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "x", Issuer: DefaultIssuer}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.Validate(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAPIKeyVerifier(t *testing.T) {
	h, err := bcrypt.GenerateFromPassword([]byte("key-two"), bcrypt.MinCost)
	require.NoError(t, err)
	v := NewAPIKeyVerifier([]string{"", "$2a$04$invalidinvalidinvalidinvalidinvalidinvalidinvalidinv", string(h)})

	user, err := v.Verify("key-two")
	require.NoError(t, err)
	assert.Equal(t, "api-key-2", user.Subject)
	assert.Equal(t, TokenTypeAPIKey, user.TokenType)

	// second lookup is served from the digest cache
	user, err = v.Verify("key-two")
	require.NoError(t, err)
	assert.Equal(t, "api-key-2", user.Subject)

	_, err = v.Verify("wrong")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
	_, err = NewAPIKeyVerifier(nil).Verify("key-two")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestHashAPIKey(t *testing.T) {
	h, err := HashAPIKey("abc")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte("abc")))
	_, err = HashAPIKey(" ")
	assert.Error(t, err)
}

func TestHTTPMiddleware(t *testing.T) {
	jm := NewJWTManager("secret", "", time.Hour)
	token, err := jm.Generate("bob", []string{ScopeResearchRead})
	require.NoError(t, err)
	h, err := bcrypt.GenerateFromPassword([]byte("sk-test"), bcrypt.MinCost)
	require.NoError(t, err)

	mw := NewMiddleware(jm, NewAPIKeyVerifier([]string{string(h)}), false, zaptest.NewLogger(t))
	handler := mw.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(user.Subject))
	}))

	tests := []struct {
		name   string
		path   string
		header map[string]string
		code   int
		body   string
	}{
		{"bearer", "/api/v1/research", map[string]string{"Authorization": "Bearer " + token}, 200, "bob"},
		{"api key", "/api/v1/research", map[string]string{"X-API-Key": "sk-test"}, 200, "api-key-1"},
		{"stream query key", "/stream/sse?run_id=x&api_key=sk-test", nil, 200, "api-key-1"},
		{"query key outside stream", "/api/v1/research?api_key=sk-test", nil, 401, ""},
		{"bad token", "/api/v1/research", map[string]string{"Authorization": "Bearer nope"}, 401, ""},
		{"malformed header", "/api/v1/research", map[string]string{"Authorization": "Basic abc"}, 401, ""},
		{"missing", "/api/v1/research", nil, 401, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestSkipAuthAndRequireScope(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	open := NewMiddleware(nil, nil, true, nil).HTTPMiddleware(RequireScope(ScopeResearchWrite, ok))
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/research", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	jm := NewJWTManager("secret", "", time.Hour)
	token, err := jm.Generate("reader", []string{ScopeResearchRead})
	require.NoError(t, err)
	guarded := NewMiddleware(jm, nil, false, nil).HTTPMiddleware(RequireScope(ScopeResearchWrite, ok))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/research", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
