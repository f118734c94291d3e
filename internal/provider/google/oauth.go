// Пакет google — интеграция с Google API: интроспекция OAuth-токенов
// интеграций и управление push-каналами Google Calendar.
//
// Токены читаются из хранилища CRUD-сервиса (integration_tokens) и не
// перезаписываются: обновлённый access token используется только в рамках
// одного вызова.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"

	"github.com/bigkaa/syncengine/internal/domain/model"
	"github.com/bigkaa/syncengine/internal/repository"
)

// Config — параметры OAuth-клиента Google.
type Config struct {
	ClientID     string
	ClientSecret string
	// Endpoint — OAuth-эндпоинты (пустой TokenURL — google.Endpoint).
	Endpoint oauth2.Endpoint
	// HTTPClient — HTTP-клиент для обращений к OAuth и API (nil — по умолчанию).
	HTTPClient *http.Client
}

// ErrNoToken — у пользователя нет сохранённого токена интеграции.
var ErrNoToken = errors.New("токен интеграции не найден")

// tokenSource строит источник токенов по сохранённому токену пользователя.
type tokenSource struct {
	cfg    *oauth2.Config
	client *http.Client
	tokens repository.TokenStoreRepository
}

func newTokenSource(cfg Config, tokens repository.TokenStoreRepository) *tokenSource {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = oauthgoogle.Endpoint
	}
	return &tokenSource{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
		},
		client: cfg.HTTPClient,
		tokens: tokens,
	}
}

// withClient добавляет HTTP-клиент в контекст для oauth2.
func (s *tokenSource) withClient(ctx context.Context) context.Context {
	if s.client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.client)
}

// load читает сохранённый токен пользователя.
func (s *tokenSource) load(ctx context.Context, userID string, integration model.IntegrationType) (*model.StoredToken, error) {
	st, err := s.tokens.Get(ctx, userID, integration)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("загрузка токена интеграции: %w", err)
	}
	return st, nil
}

// oauthToken преобразует сохранённый токен в oauth2.Token.
func oauthToken(st *model.StoredToken) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  st.AccessToken,
		RefreshToken: st.RefreshToken,
		TokenType:    st.TokenType,
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if st.Expiry != nil {
		tok.Expiry = *st.Expiry
	}
	return tok
}

// httpClient возвращает HTTP-клиент с авторизацией пользователя.
func (s *tokenSource) httpClient(ctx context.Context, userID string, integration model.IntegrationType) (*http.Client, error) {
	st, err := s.load(ctx, userID, integration)
	if err != nil {
		return nil, err
	}
	if st.RevokedAt != nil {
		return nil, fmt.Errorf("токен интеграции отозван %s", st.RevokedAt.Format(time.RFC3339))
	}
	ctx = s.withClient(ctx)
	return oauth2.NewClient(ctx, s.cfg.TokenSource(ctx, oauthToken(st))), nil
}

// isInvalidGrant — отклонён ли refresh token сервером авторизации.
func isInvalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	return re.ErrorCode == "invalid_grant"
}

// isUnauthorized — отказ сервера авторизации, не связанный с отзывом.
func isUnauthorized(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return false
	}
	return re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized
}
