package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/syncengine/internal/domain/model"
	"github.com/bigkaa/syncengine/internal/repository"
)

// refreshMargin — access token, истекающий раньше, обновляется при проверке.
const refreshMargin = time.Minute

// Introspector — проверка OAuth-токенов интеграций (service.Introspector).
//
// Правила:
//   - токена нет или он отмечен отозванным — revoked;
//   - есть refresh token: действующий access token принимается без сети,
//     иначе выполняется обновление; invalid_grant — revoked, иной отказ
//     сервера авторизации — недействителен;
//   - без refresh token срок авторизации равен сроку access token.
type Introspector struct {
	tokens *tokenSource
	logger *slog.Logger
	now    func() time.Time
}

// NewIntrospector создаёт интроспектор поверх хранилища токенов.
func NewIntrospector(cfg Config, tokens repository.TokenStoreRepository, logger *slog.Logger) *Introspector {
	return &Introspector{
		tokens: newTokenSource(cfg, tokens),
		logger: logger.With(slog.String("component", "google_introspector")),
		now:    time.Now,
	}
}

// Introspect проверяет токен пары (пользователь, интеграция).
func (i *Introspector) Introspect(ctx context.Context, userID string, integration model.IntegrationType) (*model.Introspection, error) {
	st, err := i.tokens.load(ctx, userID, integration)
	if err != nil {
		if errors.Is(err, ErrNoToken) {
			return &model.Introspection{Valid: false, Revoked: true}, nil
		}
		return nil, err
	}
	if st.RevokedAt != nil {
		return &model.Introspection{Valid: false, Revoked: true}, nil
	}

	now := i.now()

	if st.RefreshToken == "" {
		if st.Expiry == nil {
			return &model.Introspection{Valid: st.AccessToken != ""}, nil
		}
		exp := st.Expiry.UTC()
		return &model.Introspection{Valid: now.Before(exp), ExpiryDate: &exp}, nil
	}

	if st.AccessToken != "" && st.Expiry != nil && st.Expiry.After(now.Add(refreshMargin)) {
		return &model.Introspection{Valid: true}, nil
	}

	ctx = i.tokens.withClient(ctx)
	tok := oauthToken(st)
	// Принудительное обновление: истёкший Expiry заставляет источник обратиться к серверу
	tok.Expiry = now.Add(-time.Second)
	if _, err := i.tokens.cfg.TokenSource(ctx, tok).Token(); err != nil {
		switch {
		case isInvalidGrant(err):
			i.logger.Info("Refresh token отозван",
				slog.String("user_id", userID),
				slog.String("integration_type", string(integration)),
			)
			return &model.Introspection{Valid: false, Revoked: true}, nil
		case isUnauthorized(err):
			return &model.Introspection{Valid: false}, nil
		default:
			return nil, fmt.Errorf("обновление токена: %w", err)
		}
	}
	return &model.Introspection{Valid: true}, nil
}
