// gateway.go — аутентификация на API Gateway (ASE_JWT_JWKS_URL не задан).
// Gateway проверяет токен сам и передаёт пользователя в заголовках.
package middleware

import (
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/syncengine/internal/api/errors"
)

// Заголовки, выставляемые API Gateway.
const (
	HeaderUserID     = "X-User-ID"
	HeaderUserScopes = "X-User-Scopes"
)

// GatewayAuth помещает в контекст claims из заголовков Gateway.
// Запрос без X-User-ID отклоняется с 401.
func GatewayAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if subject == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок "+HeaderUserID)
				return
			}
			claims := &AuthClaims{
				Subject: subject,
				Scopes:  strings.Fields(r.Header.Get(HeaderUserScopes)),
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
