package middleware

import (
	"net/http"
	"strings"

	"github.com/authrelay/authrelay/internal/ledger"
)

// Auth resolves bearer tokens to ledger accounts and attaches the
// authenticated account set to the request context. Requests without a
// recognized token pass through with no accounts; actions that require
// native authority are rejected downstream.
func Auth(tokens map[string][]string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token != "" {
				if accounts, ok := tokens[token]; ok && len(accounts) > 0 {
					ctx := ledger.WithAuthorizedAccounts(r.Context(), accounts...)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
