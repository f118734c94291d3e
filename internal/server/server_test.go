package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/syncengine/internal/api/handlers"
	"github.com/bigkaa/syncengine/internal/api/middleware"
	"github.com/bigkaa/syncengine/internal/api/openapi"
	"github.com/bigkaa/syncengine/internal/config"
	"github.com/bigkaa/syncengine/internal/domain/model"
)

const (
	testKeyID  = "test-key-server"
	testIssuer = "https://idp.test/realms/ase"
)

type stubWebhooks struct {
	handled int
}

func (s *stubWebhooks) Enabled() bool { return true }

func (s *stubWebhooks) HandleNotification(context.Context, model.WebhookNotification) model.WebhookResult {
	s.handled++
	return model.WebhookResultIgnored
}

func (s *stubWebhooks) Subscribe(context.Context, string, model.IntegrationType) (*model.WebhookSubscription, error) {
	return nil, nil
}

func (s *stubWebhooks) Unsubscribe(context.Context, string, model.IntegrationType) error {
	return nil
}

func signToken(t *testing.T, key *rsa.PrivateKey, scope string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": "user-1",
		"iss": testIssuer,
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
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

func newTestServer(t *testing.T, webhooks *stubWebhooks) (http.Handler, *rsa.PrivateKey) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	jwks, _ := json.Marshal(map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA", "kid": testKeyID, "use": "sig", "alg": "RS256",
			"n": base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e": base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	})
	kf, err := keyfunc.NewJWKSetJSON(jwks)
	if err != nil {
		t.Fatal(err)
	}
	auth := middleware.NewJWTAuthWithKeyfunc(kf, testIssuer, logger)

	doc, err := openapi.Load()
	if err != nil {
		t.Fatal(err)
	}
	validator, err := middleware.NewRequestValidator(doc, logger)
	if err != nil {
		t.Fatal(err)
	}

	h := handlers.NewAPIHandler(handlers.NewHealthHandler(nil, nil), nil, webhooks, nil, nil, nil, logger)
	public := []string{"/health/", "/metrics", "/api/v1/webhooks/"}
	srv := New(&config.Config{Port: 8020, ShutdownTimeout: time.Second}, logger, h,
		handlers.RouteOptions{JobOutcomeMiddlewares: []func(http.Handler) http.Handler{
			middleware.RequireScope(middleware.ScopeJobOutcomes),
		}},
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		WithExclusions(auth.Middleware(), public...),
		WithExclusions(validator.Middleware(), public...),
	)
	return srv.Handler(), key
}

func TestServer_AuthAndValidation(t *testing.T) {
	webhooks := &stubWebhooks{}
	router, key := newTestServer(t, webhooks)
	userToken := signToken(t, key, "")
	executorToken := signToken(t, key, "sync:outcomes")

	tests := []struct {
		name       string
		method     string
		target     string
		token      string
		body       string
		wantStatus int
	}{
		{"liveness без токена", http.MethodGet, "/health/live", "", "", http.StatusOK},
		{"readiness без PostgreSQL", http.MethodGet, "/health/ready", "", "", http.StatusServiceUnavailable},
		{"метрики без токена", http.MethodGet, "/metrics", "", "", http.StatusOK},
		{"webhook без токена", http.MethodPost, "/api/v1/webhooks/calendar", "", "not json", http.StatusOK},
		{"API без токена", http.MethodGet, "/api/v1/suggestions", "", "", http.StatusUnauthorized},
		{"контракт проверяется после JWT", http.MethodPost, "/api/v1/integrations/outlook/sync", userToken, "", http.StatusBadRequest},
		{"результат без scope", http.MethodPost, "/api/v1/jobs/j-1/outcome", userToken, `{"result":"success"}`, http.StatusForbidden},
		{"результат исполнителя нарушает контракт", http.MethodPost, "/api/v1/jobs/j-1/outcome", executorToken, `{"result":"done"}`, http.StatusBadRequest},
		{"неизвестный путь", http.MethodGet, "/api/v1/unknown", userToken, "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader = http.NoBody
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.target, body)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("статус = %d, ожидался %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	if webhooks.handled != 1 {
		t.Errorf("webhook обработан %d раз, ожидался 1", webhooks.handled)
	}
}

func TestWithExclusions(t *testing.T) {
	blocked := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := WithExclusions(blocked, "/health/")(next)

	for path, want := range map[string]int{
		"/health/live":        http.StatusOK,
		"/api/v1/suggestions": http.StatusTeapot,
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		if rec.Code != want {
			t.Errorf("%s: статус = %d, ожидался %d", path, rec.Code, want)
		}
	}
}
