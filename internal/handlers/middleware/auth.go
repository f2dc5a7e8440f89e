package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkalinin/tokengate/internal/handlers/principalctx"
	"github.com/pkalinin/tokengate/internal/handlers/render"
	"github.com/pkalinin/tokengate/internal/models"
)

type authService interface {
	Authenticate(ctx context.Context, bearerToken string) (models.Principal, error)
}

type AuthMiddleware struct {
	auth authService
}

func NewAuth(auth authService) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

// Auth verifies the bearer token and puts the principal into the context.
// Any verification failure is a uniform 401.
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		principal, err := m.auth.Authenticate(r.Context(), token)
		if err != nil {
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := principalctx.New(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}
