package middleware

import (
	"context"
	"net/http"

	"github.com/pliu/etoe/internal/models"
)

type contextKey string

const UserKey contextKey = "user"

// Authenticator resolves an opaque bearer token to a user.
type Authenticator interface {
	Authenticate(token string) (models.User, bool)
}

// TokenFromRequest reads the Authorization header. Browsers cannot set
// headers on a WebSocket handshake, so /ws also accepts ?token=.
func TokenFromRequest(r *http.Request) string {
	token := r.Header.Get("Authorization")
	if token == "" && r.URL.Path == "/ws" {
		token = r.URL.Query().Get("token")
	}
	return token
}

func AuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := auth.Authenticate(TokenFromRequest(r))
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the user AuthMiddleware attached to the request.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(UserKey).(models.User)
	return user, ok
}
