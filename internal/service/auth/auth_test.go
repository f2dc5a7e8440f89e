package auth

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkalinin/tokengate/internal/apperrors"
	"github.com/pkalinin/tokengate/internal/repository/postgres"
	"github.com/pkalinin/tokengate/internal/testutil"
)

func Test_AuthService(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Begin new db transaction and create new AuthService
	// Rollback transaction when test stops
	withTx := func(t *testing.T, accessTTL time.Duration, refreshTTL time.Duration, fn func(s *AuthService)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			userRepo := &postgres.UserRepo{DB: tx}
			refreshRepo := &postgres.RefreshTokenRepo{DB: tx}

			issuer, err := NewIssuer(IssuerConfig{
				SecretKey:  "test-secret-key",
				AccessTTL:  accessTTL,
				RefreshTTL: refreshTTL,
			}, refreshRepo)
			require.NoError(t, err, "issuer should be created without errors")

			coordinator, err := NewCoordinator(issuer, userRepo, refreshRepo, nil)
			require.NoError(t, err, "coordinator should be created without errors")

			s, err := NewService(Config{}, issuer, coordinator, userRepo, nil)
			require.NoError(t, err, "auth service could't be started", err)

			fn(s)
		})
	}

	t.Run("new auth service defaults", func(t *testing.T) {
		withTx(t, time.Minute, time.Hour, func(s *AuthService) {
			require.Equal(t, BcryptHasher{}, s.hasher, "default hasher should be set to BcryptHasher")
		})
	})

	t.Run("Register", func(t *testing.T) {
		t.Run("new user ok", func(t *testing.T) {
			withTx(t, 15*time.Minute, 24*time.Hour, func(s *AuthService) {
				user, err := s.Register(t.Context(), "nkiryanov", "pwd", "Nikita", "admin")

				require.NoError(t, err, "registering new user should be ok")
				assert.Equal(t, "nkiryanov", user.Username)
				assert.Equal(t, "Nikita", user.Name)
				assert.Equal(t, "admin", user.Role)
				assert.NotEqual(t, "pwd", user.HashedPassword, "password must be stored hashed")
			})
		})

		t.Run("fail if user exists", func(t *testing.T) {
			withTx(t, 15*time.Minute, 24*time.Hour, func(s *AuthService) {
				_, err := s.Register(t.Context(), "nkiryanov", "pwd", "Nikita", "admin")
				require.NoError(t, err, "no error has should happen if user not exists")

				_, err = s.Register(t.Context(), "nkiryanov", "other-pwd", "Other", "customer")

				require.Error(t, err)
				require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
			})
		})
	})

	t.Run("Login", func(t *testing.T) {
		t.Run("existing user ok", func(t *testing.T) {
			withTx(t, 15*time.Minute, 24*time.Hour, func(s *AuthService) {
				_, err := s.Register(t.Context(), "nkiryanov", "pwd", "Nikita", "admin")
				require.NoError(t, err)

				pair, err := s.Login(t.Context(), "nkiryanov", "pwd")

				require.NoError(t, err)
				require.NotEmpty(t, pair.Access.Value, "access token should not be empty")
				require.NotEmpty(t, pair.Refresh.Value, "refresh token should not be empty")
				assert.WithinDuration(t, time.Now().Add(15*time.Minute), pair.Access.ExpiresAt, time.Second)
				assert.WithinDuration(t, time.Now().Add(24*time.Hour), pair.Refresh.ExpiresAt, time.Second)
			})
		})

		t.Run("each login starts new family", func(t *testing.T) {
			withTx(t, 15*time.Minute, 24*time.Hour, func(s *AuthService) {
				_, err := s.Register(t.Context(), "nkiryanov", "pwd", "Nikita", "admin")
				require.NoError(t, err)

				first, err := s.Login(t.Context(), "nkiryanov", "pwd")
				require.NoError(t, err)
				second, err := s.Login(t.Context(), "nkiryanov", "pwd")
				require.NoError(t, err)

				firstClaims, err := DecodeClaims(first.Access.Value)
				require.NoError(t, err)
				secondClaims, err := DecodeClaims(second.Access.Value)
				require.NoError(t, err)

				assert.NotEqual(t, firstClaims.FamilyID, secondClaims.FamilyID, "every login should mint a new family")
			})
		})

		tests := []struct {
			name     string
			login    string
			password string
		}{
			{
				name:     "login fail if wrong password",
				login:    "nkiryanov",
				password: "wrong",
			},
			{
				name:     "login fail if user not exists",
				login:    "not-existed-user",
				password: "password",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				withTx(t, 15*time.Minute, 24*time.Hour, func(s *AuthService) {
					_, err := s.Register(t.Context(), "nkiryanov", "pwd", "Nikita", "admin")
					require.NoError(t, err)

					_, err = s.Login(t.Context(), tt.login, tt.password)

					require.Error(t, err)
					// Same error for unknown user and wrong password, no way to probe usernames
					require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
				})
			})
		}
	})

	t.Run("Refresh", func(t *testing.T) {
		t.Run("refresh once ok", func(t *testing.T) {
			withTx(t, 15*time.Minute, 24*time.Hour, func(s *AuthService) {
				_, err := s.Register(t.Context(), "nkiryanov", "pwd", "Nikita", "admin")
				require.NoError(t, err)
				initialPair, err := s.Login(t.Context(), "nkiryanov", "pwd")
				require.NoError(t, err)

				newPair, err := s.Refresh(t.Context(), initialPair.Access.Value, initialPair.Refresh.Value)

				require.NoError(t, err)
				require.NotEqual(t, initialPair.Access.Value, newPair.Access.Value, "new access token should be different")
				require.NotEqual(t, initialPair.Refresh.Value, newPair.Refresh.Value, "new refresh token should be different")
			})
		})

		t.Run("fail if used once", func(t *testing.T) {
			withTx(t, 15*time.Minute, 24*time.Hour, func(s *AuthService) {
				_, err := s.Register(t.Context(), "nkiryanov", "pwd", "Nikita", "admin")
				require.NoError(t, err)
				initialPair, err := s.Login(t.Context(), "nkiryanov", "pwd")
				require.NoError(t, err)

				_, err = s.Refresh(t.Context(), initialPair.Access.Value, initialPair.Refresh.Value)
				require.NoError(t, err)

				_, err = s.Refresh(t.Context(), initialPair.Access.Value, initialPair.Refresh.Value)
				require.Error(t, err)
				require.ErrorIs(t, err, apperrors.ErrRefreshFailed, "caller gets the uniform refresh error")
			})
		})
	})

	t.Run("Revoke then refresh fails", func(t *testing.T) {
		withTx(t, 15*time.Minute, 24*time.Hour, func(s *AuthService) {
			_, err := s.Register(t.Context(), "nkiryanov", "pwd", "Nikita", "admin")
			require.NoError(t, err)
			pair, err := s.Login(t.Context(), "nkiryanov", "pwd")
			require.NoError(t, err)

			require.NoError(t, s.Revoke(t.Context(), pair.Access.Value, pair.Refresh.Value))

			_, err = s.Refresh(t.Context(), pair.Access.Value, pair.Refresh.Value)
			require.Error(t, err)
			require.ErrorIs(t, err, apperrors.ErrRefreshFailed)
		})
	})

	t.Run("Authenticate", func(t *testing.T) {
		t.Run("valid token ok", func(t *testing.T) {
			withTx(t, 15*time.Minute, 24*time.Hour, func(s *AuthService) {
				user, err := s.Register(t.Context(), "nkiryanov", "pwd", "Nikita", "admin")
				require.NoError(t, err)
				pair, err := s.Login(t.Context(), "nkiryanov", "pwd")
				require.NoError(t, err)

				principal, err := s.Authenticate(t.Context(), pair.Access.Value)

				require.NoError(t, err)
				assert.Equal(t, user.ID, principal.UserID)
				assert.Equal(t, "Nikita", principal.Name)
				assert.Equal(t, "admin", principal.Role)
				assert.NotEmpty(t, principal.FamilyID)
			})
		})

		t.Run("fail on garbage", func(t *testing.T) {
			withTx(t, 15*time.Minute, 24*time.Hour, func(s *AuthService) {
				_, err := s.Authenticate(t.Context(), "invalid token")
				require.Error(t, err, "parsing even not a token should return an error")
			})
		})

		t.Run("fail on expired token", func(t *testing.T) {
			withTx(t, time.Second, 24*time.Hour, func(s *AuthService) {
				_, err := s.Register(t.Context(), "nkiryanov", "pwd", "Nikita", "admin")
				require.NoError(t, err)
				pair, err := s.Login(t.Context(), "nkiryanov", "pwd")
				require.NoError(t, err)

				// Wait for the token to expire
				time.Sleep(time.Second + 100*time.Millisecond)

				_, err = s.Authenticate(t.Context(), pair.Access.Value)
				require.Error(t, err, "token has to become expired")
			})
		})
	})

	t.Run("Register fail without role", func(t *testing.T) {
		withTx(t, 15*time.Minute, 24*time.Hour, func(s *AuthService) {
			_, err := s.Register(t.Context(), "roleless", "pwd", "No Role", "")
			require.NoError(t, err, "user row itself can be created")

			// But a user without role can't be issued a token
			_, err = s.Login(t.Context(), "roleless", "pwd")
			require.Error(t, err)
			require.ErrorIs(t, err, apperrors.ErrNoRoleAssigned)
		})
	})
}
