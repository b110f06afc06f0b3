// Package middleware содержит HTTP middleware сервиса выдачи подарочных карт.
package middleware

import (
	"crypto/hmac"
	"net/http"
	"strings"
)

// WebhookTokenHeader: заголовок с общим секретом магазина.
const WebhookTokenHeader = "X-Webhook-Token"

// TokenAuth сверяет секрет из заголовка запроса с настроенным токеном.
type TokenAuth struct {
	token    []byte
	bearer   bool
	optional bool
}

// NewAdminAuth проверяет заголовок Authorization: Bearer <token>.
// Пустой токен закрывает доступ полностью.
func NewAdminAuth(token string) *TokenAuth {
	return &TokenAuth{token: []byte(token), bearer: true}
}

// NewWebhookAuth проверяет заголовок X-Webhook-Token. Пустой токен отключает проверку.
func NewWebhookAuth(token string) *TokenAuth {
	return &TokenAuth{token: []byte(token), optional: true}
}

// Middleware отклоняет запросы без верного токена с кодом 401.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.allowed(r) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *TokenAuth) allowed(r *http.Request) bool {
	if len(a.token) == 0 {
		return a.optional
	}

	var got string
	if a.bearer {
		scheme, value, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return false
		}
		got = strings.TrimSpace(value)
	} else {
		got = r.Header.Get(WebhookTokenHeader)
	}

	return hmac.Equal([]byte(got), a.token)
}
