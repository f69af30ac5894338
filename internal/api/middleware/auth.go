package middleware

import (
	"net/http"
	"strings"

	"firisync/pkg/crypto"
)

// ServiceAuth - middleware проверки сервисного токена
//
// Вызывающий сервис передаёт токен в заголовке Authorization: Bearer <token>.
// Токен сравнивается с bcrypt хешем из API_TOKEN_HASH.
// Пустой хеш отключает проверку (локальное развертывание).
//
// Использование:
//
//	api := router.PathPrefix("/api/v1").Subrouter()
//	api.Use(middleware.ServiceAuth(cfg.Security.APITokenHash))
func ServiceAuth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokenHash == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="firisync"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if err := crypto.VerifyToken(token, tokenHash); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="firisync", error="invalid_token"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken извлекает токен из заголовка Authorization
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
