package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pkalinin/tokengate/internal/handlers/middleware"
	"github.com/pkalinin/tokengate/internal/handlers/principalctx"
	"github.com/pkalinin/tokengate/internal/handlers/render"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	authHandler *AuthHandler,
	authMiddleware *middleware.AuthMiddleware,
	mds ...func(next http.Handler) http.Handler,
) http.Handler {
	api := http.NewServeMux()
	api.Handle("/auth/", http.StripPrefix("/auth", authHandler.Handler()))
	api.Handle("GET /me", authMiddleware.Auth(handleMe()))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))
	root.Handle("GET /metrics", promhttp.Handler())

	return chain(root, mds...)
}

// handleMe echoes the principal of the verified access token.
// It exists so there is at least one protected endpoint to gate.
func handleMe() http.Handler {
	type MeResponse struct {
		UserID   string `json:"userId"`
		Name     string `json:"name"`
		Role     string `json:"role"`
		FamilyID string `json:"familyId"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalctx.FromContext(r.Context())
		if !ok {
			// Middleware guarantees the principal, but don't panic if miswired
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		render.JSON(w, MeResponse{
			UserID:   p.UserID.String(),
			Name:     p.Name,
			Role:     p.Role,
			FamilyID: p.FamilyID,
		})
	})
}
