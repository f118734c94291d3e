package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key-ase"

const testIssuer = "https://idp.test/realms/ase"

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, testIssuer, testLogger())
}

// generateToken генерирует подписанный JWT. Пустой sub не включается в claims.
func generateToken(t *testing.T, key *rsa.PrivateKey, sub, scope string, exp time.Time, issuer string) string {
	t.Helper()

	claims := jwt.MapClaims{
		"iss":   issuer,
		"email": "user@example.com",
		"exp":   jwt.NewNumericDate(exp),
		"iat":   jwt.NewNumericDate(time.Now()),
	}
	if sub != "" {
		claims["sub"] = sub
	}
	if scope != "" {
		claims["scope"] = scope
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// captureHandler запоминает claims из контекста.
func captureHandler(got **AuthClaims) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestJWTAuth_Middleware(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	hour := time.Now().Add(time.Hour)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"без заголовка", "", http.StatusUnauthorized},
		{"не Bearer", "Basic abc", http.StatusUnauthorized},
		{"пустой токен", "Bearer ", http.StatusUnauthorized},
		{"мусор", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"просрочен", "Bearer " + generateToken(t, key, "user-1", "", time.Now().Add(-time.Hour), testIssuer), http.StatusUnauthorized},
		{"чужой issuer", "Bearer " + generateToken(t, key, "user-1", "", hour, "https://evil.test"), http.StatusUnauthorized},
		{"чужой ключ", "Bearer " + generateToken(t, otherKey, "user-1", "", hour, testIssuer), http.StatusUnauthorized},
		{"без sub", "Bearer " + generateToken(t, key, "", "", hour, testIssuer), http.StatusUnauthorized},
		{"валидный", "Bearer " + generateToken(t, key, "user-1", "", hour, testIssuer), http.StatusOK},
		{"bearer в нижнем регистре", "bearer " + generateToken(t, key, "user-1", "", hour, testIssuer), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *AuthClaims
			h := auth.Middleware()(captureHandler(&got))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/suggestions", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("статус = %d, ожидался %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				if got == nil || got.Subject != "user-1" {
					t.Fatalf("claims = %+v, ожидался sub user-1", got)
				}
				if got.Email != "user@example.com" {
					t.Errorf("email = %q", got.Email)
				}
			} else if got != nil {
				t.Errorf("обработчик не должен вызываться")
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	hour := time.Now().Add(time.Hour)

	tests := []struct {
		name       string
		scope      string
		wantStatus int
	}{
		{"без scope", "", http.StatusForbidden},
		{"другой scope", "openid profile", http.StatusForbidden},
		{"нужный scope", "openid " + ScopeJobOutcomes, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *AuthClaims
			h := auth.Middleware()(RequireScope(ScopeJobOutcomes)(captureHandler(&got)))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/j-1/outcome", http.NoBody)
			req.Header.Set("Authorization", "Bearer "+generateToken(t, key, "executor", tt.scope, hour, testIssuer))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("статус = %d, ожидался %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequireScope_NoClaims(t *testing.T) {
	h := RequireScope(ScopeJobOutcomes)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("статус = %d, ожидался 401", rec.Code)
	}
}

func TestSubjectFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if sub := SubjectFromContext(req.Context()); sub != "" {
		t.Errorf("sub без claims = %q", sub)
	}
	ctx := WithClaims(req.Context(), &AuthClaims{Subject: "user-7"})
	if sub := SubjectFromContext(ctx); sub != "user-7" {
		t.Errorf("sub = %q, ожидался user-7", sub)
	}
}
