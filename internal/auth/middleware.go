package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/bandroomhq/settlement/internal"
)

// Middleware extracts and verifies the bearer token, placing the actor user
// ID in the request context for command handlers.
type Middleware struct {
	verifier *Verifier
	logger   *slog.Logger
}

func NewMiddleware(verifier *Verifier, logger *slog.Logger) *Middleware {
	return &Middleware{verifier: verifier, logger: logger}
}

func (m *Middleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userID, err := m.verifier.VerifyToken(token)
		if err != nil {
			m.logger.Warn("token verification failed", "error", err, "path", r.URL.Path)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := internal.ContextWithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) < 7 || !strings.EqualFold(authHeader[:7], "Bearer ") {
		return ""
	}
	return authHeader[7:]
}
