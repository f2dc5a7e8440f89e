package integration

import (
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stretchr/testify/require"

	"github.com/pkalinin/tokengate/internal/handlers"
	"github.com/pkalinin/tokengate/internal/handlers/middleware"
	"github.com/pkalinin/tokengate/internal/repository/postgres"
	"github.com/pkalinin/tokengate/internal/service/auth"
	"github.com/pkalinin/tokengate/internal/testutil"
)

type Services struct {
	AuthService *auth.AuthService
	RefreshRepo *postgres.RefreshTokenRepo
}

// Create db transaction and run server with that connection (one connection cause one transaction)
// The full production stack is wired: auth endpoints, protected /api/me and metrics
func RunTx(dbpool *pgxpool.Pool, t *testing.T, fn func(srvURL string, services Services)) {
	testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
		// Initialize repositories
		userRepo := &postgres.UserRepo{DB: tx}
		refreshRepo := &postgres.RefreshTokenRepo{DB: tx}

		// Initialize services
		issuer, err := auth.NewIssuer(auth.IssuerConfig{SecretKey: "test-secret"}, refreshRepo)
		require.NoError(t, err, "issuer should be created without errors")

		coordinator, err := auth.NewCoordinator(issuer, userRepo, refreshRepo, nil)
		require.NoError(t, err, "coordinator should be created without errors")

		as, err := auth.NewService(auth.Config{}, issuer, coordinator, userRepo, nil)
		require.NoError(t, err, "auth service starting error", err)

		// Initializer handlers
		authHandler := handlers.NewAuth(as)
		authMiddleware := middleware.NewAuth(as)

		// Complete all together as router
		router := handlers.NewRouter(
			authHandler,
			authMiddleware,
		)

		// Run http server with the router in transaction
		srv := httptest.NewServer(router)
		defer srv.Close()

		fn(srv.URL, Services{
			AuthService: as,
			RefreshRepo: refreshRepo,
		})
	})
}
