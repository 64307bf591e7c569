package http_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	httphandler "github.com/robertarktes/ticket-marketplace/internal/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoPrincipal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := httphandler.PrincipalFrom(r.Context()); ok {
			w.Write([]byte(id.String()))
			return
		}
		w.Write([]byte("anonymous"))
	})
}

func TestPrincipalMiddleware_RS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	mw, err := httphandler.PrincipalMiddleware(string(pubPEM))
	require.NoError(t, err)
	h := mw(echoPrincipal())

	user := uuid.New()
	sign := func(claims jwt.RegisteredClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	serve := func(auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if auth != "" {
			req.Header.Set("Authorization", "Bearer "+auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := serve(sign(jwt.RegisteredClaims{Subject: user.String(), ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user.String(), rec.Body.String())

	rec = serve("")
	assert.Equal(t, "anonymous", rec.Body.String())

	rec = serve(sign(jwt.RegisteredClaims{Subject: user.String(), ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "expired token")

	rec = serve(sign(jwt.RegisteredClaims{Subject: user.String()}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "expiry is required")

	rec = serve(sign(jwt.RegisteredClaims{Subject: "someone", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "subject must be a user id")

	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: user.String()}).SignedString([]byte("secret"))
	require.NoError(t, err)
	rec = serve(hs)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "only RS256 is accepted")
}

func TestPrincipalMiddleware_Header(t *testing.T) {
	mw, err := httphandler.PrincipalMiddleware("")
	require.NoError(t, err)
	h := mw(echoPrincipal())

	user := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", user.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, user.String(), rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "nope")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPrincipalMiddleware_BadKey(t *testing.T) {
	_, err := httphandler.PrincipalMiddleware("not a pem")
	assert.Error(t, err)
}

func TestIdempotencyMiddleware(t *testing.T) {
	h := httphandler.IdempotencyMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	cases := []struct {
		name   string
		method string
		key    string
		want   int
	}{
		{"get passes", http.MethodGet, "", http.StatusNoContent},
		{"post without key", http.MethodPost, "", http.StatusBadRequest},
		{"post short key", http.MethodPost, "abc", http.StatusBadRequest},
		{"post valid key", http.MethodPost, uuid.NewString(), http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/", nil)
			if tc.key != "" {
				req.Header.Set("Idempotency-Key", tc.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
