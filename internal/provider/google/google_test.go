package google

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/bigkaa/syncengine/internal/domain/model"
	"github.com/bigkaa/syncengine/internal/repository"
	"github.com/bigkaa/syncengine/internal/service"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mock TokenStoreRepository ---

type memTokenStore struct {
	tokens map[string]*model.StoredToken
	err    error
}

func (m *memTokenStore) Get(_ context.Context, userID string, _ model.IntegrationType) (*model.StoredToken, error) {
	if m.err != nil {
		return nil, m.err
	}
	if t, ok := m.tokens[userID]; ok {
		return t, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memTokenStore) DeviceTokens(context.Context, string) ([]string, error) {
	return nil, nil
}

// tokenServer — OAuth token endpoint: refresh token "good" обновляется,
// "revoked" — invalid_grant, "broken" — invalid_client.
func tokenServer(t *testing.T, calls *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("refresh_token") {
		case "good":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "fresh", "token_type": "Bearer", "expires_in": 3600,
			})
		case "revoked":
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "invalid_grant", "error_description": "Token has been expired or revoked.",
			})
		case "broken":
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIntrospect(t *testing.T) {
	calls := 0
	srv := tokenServer(t, &calls)

	future := t0.Add(30 * time.Minute)
	soon := t0.Add(2 * time.Hour)
	past := t0.Add(-time.Hour)
	store := &memTokenStore{tokens: map[string]*model.StoredToken{
		"fresh-access":  {AccessToken: "a", RefreshToken: "good", Expiry: &future},
		"needs-refresh": {AccessToken: "a", RefreshToken: "good", Expiry: &past},
		"grant-revoked": {AccessToken: "a", RefreshToken: "revoked", Expiry: &past},
		"bad-client":    {AccessToken: "a", RefreshToken: "broken"},
		"server-error":  {AccessToken: "a", RefreshToken: "boom"},
		"marked":        {AccessToken: "a", RefreshToken: "good", RevokedAt: &past},
		"access-only":   {AccessToken: "a", Expiry: &soon},
		"access-gone":   {AccessToken: "a", Expiry: &past},
	}}

	in := NewIntrospector(Config{
		ClientID: "id", ClientSecret: "secret",
		Endpoint: oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
	}, store, testLogger())
	in.now = func() time.Time { return t0 }

	tests := []struct {
		user    string
		want    *model.Introspection
		wantErr bool
	}{
		{user: "fresh-access", want: &model.Introspection{Valid: true}},
		{user: "needs-refresh", want: &model.Introspection{Valid: true}},
		{user: "grant-revoked", want: &model.Introspection{Revoked: true}},
		{user: "bad-client", want: &model.Introspection{}},
		{user: "server-error", wantErr: true},
		{user: "marked", want: &model.Introspection{Revoked: true}},
		{user: "missing", want: &model.Introspection{Revoked: true}},
		{user: "access-only", want: &model.Introspection{Valid: true, ExpiryDate: &soon}},
		{user: "access-gone", want: &model.Introspection{ExpiryDate: &past}},
	}

	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			got, err := in.Introspect(context.Background(), tt.user, model.IntegrationGoogleCalendar)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ожидалась ошибка, получено %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if got.Valid != tt.want.Valid || got.Revoked != tt.want.Revoked {
				t.Errorf("valid=%v revoked=%v, ожидалось valid=%v revoked=%v",
					got.Valid, got.Revoked, tt.want.Valid, tt.want.Revoked)
			}
			if (got.ExpiryDate == nil) != (tt.want.ExpiryDate == nil) ||
				(got.ExpiryDate != nil && !got.ExpiryDate.Equal(*tt.want.ExpiryDate)) {
				t.Errorf("ExpiryDate = %v, ожидается %v", got.ExpiryDate, tt.want.ExpiryDate)
			}
		})
	}
}

func TestIntrospect_NoNetworkForFreshAccessToken(t *testing.T) {
	calls := 0
	srv := tokenServer(t, &calls)
	future := t0.Add(30 * time.Minute)
	store := &memTokenStore{tokens: map[string]*model.StoredToken{
		"user-1": {AccessToken: "a", RefreshToken: "good", Expiry: &future},
	}}
	in := NewIntrospector(Config{Endpoint: oauth2.Endpoint{TokenURL: srv.URL}}, store, testLogger())
	in.now = func() time.Time { return t0 }

	if _, err := in.Introspect(context.Background(), "user-1", model.IntegrationGoogleCalendar); err != nil {
		t.Fatalf("Introspect ошибка: %v", err)
	}
	if calls != 0 {
		t.Errorf("обращений к серверу авторизации: %d, ожидалось 0", calls)
	}
}

func TestIntrospect_StoreError(t *testing.T) {
	store := &memTokenStore{err: errors.New("connection refused")}
	in := NewIntrospector(Config{}, store, testLogger())
	if _, err := in.Introspect(context.Background(), "user-1", model.IntegrationGoogleCalendar); err == nil {
		t.Error("ошибка хранилища должна возвращаться")
	}
}

// calendarAPI — fake Calendar API для events.watch и channels.stop.
type calendarAPI struct {
	mu      sync.Mutex
	watched []map[string]any
	stopped []map[string]any
	auth    []string
}

func (c *calendarAPI) handler(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth = append(c.auth, r.Header.Get("Authorization"))

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	switch {
	case strings.HasSuffix(r.URL.Path, "/calendars/primary/events/watch"):
		c.watched = append(c.watched, body)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"kind":        "api#channel",
			"id":          body["id"],
			"resourceId":  "res-42",
			"resourceUri": "https://www.googleapis.com/calendar/v3/calendars/primary/events",
			"expiration":  "1773046800000",
		})
	case strings.HasSuffix(r.URL.Path, "/channels/stop"):
		c.stopped = append(c.stopped, body)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func TestCalendarChannels(t *testing.T) {
	api := &calendarAPI{}
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	defer srv.Close()

	future := time.Now().Add(time.Hour)
	store := &memTokenStore{tokens: map[string]*model.StoredToken{
		"user-1": {AccessToken: "access-1", RefreshToken: "good", Expiry: &future},
	}}
	channels := NewCalendarChannels(Config{}, store, srv.URL+"/calendar/v3/", testLogger())
	ctx := context.Background()

	ch, err := channels.Watch(ctx, service.WatchRequest{
		UserID: "user-1", IntegrationType: model.IntegrationGoogleCalendar,
		ChannelID: "ch-1", Token: "secret", Address: "https://sync.example.com/hook", TTL: 7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("Watch ошибка: %v", err)
	}
	if ch.ChannelID != "ch-1" || ch.ResourceID != "res-42" {
		t.Errorf("канал = %+v", ch)
	}
	if !ch.Expiration.Equal(time.UnixMilli(1773046800000).UTC()) {
		t.Errorf("Expiration = %v", ch.Expiration)
	}

	if len(api.watched) != 1 {
		t.Fatalf("вызовов events.watch: %d", len(api.watched))
	}
	w := api.watched[0]
	if w["type"] != "web_hook" || w["address"] != "https://sync.example.com/hook" || w["token"] != "secret" {
		t.Errorf("тело watch = %v", w)
	}
	if api.auth[0] != "Bearer access-1" {
		t.Errorf("Authorization = %q", api.auth[0])
	}

	err = channels.Stop(ctx, &model.WebhookSubscription{ChannelID: "ch-1", ResourceID: "res-42", UserID: "user-1"})
	if err != nil {
		t.Fatalf("Stop ошибка: %v", err)
	}
	if len(api.stopped) != 1 || api.stopped[0]["id"] != "ch-1" || api.stopped[0]["resourceId"] != "res-42" {
		t.Errorf("тело stop = %v", api.stopped)
	}
}

func TestCalendarChannels_Errors(t *testing.T) {
	past := t0.Add(-time.Hour)
	store := &memTokenStore{tokens: map[string]*model.StoredToken{
		"revoked": {AccessToken: "a", RevokedAt: &past},
	}}
	channels := NewCalendarChannels(Config{}, store, "http://127.0.0.1:1/", testLogger())
	ctx := context.Background()

	_, err := channels.Watch(ctx, service.WatchRequest{UserID: "user-1", IntegrationType: model.IntegrationGoogleContacts})
	if !errors.Is(err, service.ErrPushUnsupported) {
		t.Errorf("contacts: %v, ожидается ErrPushUnsupported", err)
	}
	_, err = channels.Watch(ctx, service.WatchRequest{UserID: "missing", IntegrationType: model.IntegrationGoogleCalendar})
	if !errors.Is(err, ErrNoToken) {
		t.Errorf("без токена: %v, ожидается ErrNoToken", err)
	}
	if _, err := channels.Watch(ctx, service.WatchRequest{UserID: "revoked", IntegrationType: model.IntegrationGoogleCalendar}); err == nil {
		t.Error("отозванный токен должен давать ошибку")
	}
}
