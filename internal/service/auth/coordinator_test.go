package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkalinin/tokengate/internal/apperrors"
	"github.com/pkalinin/tokengate/internal/models"
	"github.com/pkalinin/tokengate/internal/repository/postgres"
	"github.com/pkalinin/tokengate/internal/testutil"
)

type coordinatorDeps struct {
	userRepo    *postgres.UserRepo
	refreshRepo *postgres.RefreshTokenRepo
	issuer      *Issuer
	coordinator *Coordinator
}

func Test_Coordinator(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Begin new db transaction, build the refresh stack on top of it and
	// rollback when test stops
	withTx := func(t *testing.T, fn func(d coordinatorDeps)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			userRepo := &postgres.UserRepo{DB: tx}
			refreshRepo := &postgres.RefreshTokenRepo{DB: tx}

			issuer, err := NewIssuer(IssuerConfig{SecretKey: "test-secret-key"}, refreshRepo)
			require.NoError(t, err, "issuer should be created without errors")

			coordinator, err := NewCoordinator(issuer, userRepo, refreshRepo, nil)
			require.NoError(t, err, "coordinator should be created without errors")

			fn(coordinatorDeps{
				userRepo:    userRepo,
				refreshRepo: refreshRepo,
				issuer:      issuer,
				coordinator: coordinator,
			})
		})
	}

	createUser := func(t *testing.T, d coordinatorDeps, username string) models.User {
		user, err := d.userRepo.CreateUser(t.Context(), models.User{
			Username:       username,
			Name:           "Test User",
			Role:           "admin",
			HashedPassword: "not-a-real-hash",
		})
		require.NoError(t, err)
		return user
	}

	login := func(t *testing.T, d coordinatorDeps, user models.User) (models.TokenPair, string) {
		familyID := NewFamilyID()
		pair, err := d.issuer.IssuePair(t.Context(), user, familyID)
		require.NoError(t, err)
		return pair, familyID
	}

	t.Run("refresh rotates the pair", func(t *testing.T) {
		withTx(t, func(d coordinatorDeps) {
			user := createUser(t, d, "rotate-ok")
			pair, familyID := login(t, d, user)

			newPair, err := d.coordinator.Refresh(t.Context(), pair.Access.Value, pair.Refresh.Value)

			require.NoError(t, err)
			assert.NotEqual(t, pair.Access.Value, newPair.Access.Value, "new access token should be different")
			assert.NotEqual(t, pair.Refresh.Value, newPair.Refresh.Value, "new refresh token should be different")

			claims, err := DecodeClaims(newPair.Access.Value)
			require.NoError(t, err)
			assert.Equal(t, familyID, claims.FamilyID, "rotation must keep the family")
			assert.Equal(t, "admin", claims.Role)
			assert.Equal(t, user.Name, claims.Name)

			old, err := d.refreshRepo.Get(t.Context(), pair.Refresh.Value)
			require.NoError(t, err)
			assert.False(t, old.IsValid, "rotated token has to be invalid in the store")
		})
	})

	t.Run("unknown token rejected without side effects", func(t *testing.T) {
		withTx(t, func(d coordinatorDeps) {
			user := createUser(t, d, "unknown-token")
			pair, _ := login(t, d, user)

			_, err := d.coordinator.Refresh(t.Context(), pair.Access.Value, "no-such-token")

			require.Error(t, err)
			require.ErrorIs(t, err, apperrors.ErrRefreshFailed)

			// The uniform error carries nothing else
			assert.Equal(t, apperrors.ErrRefreshFailed, err)

			got, err := d.refreshRepo.Get(t.Context(), pair.Refresh.Value)
			require.NoError(t, err)
			assert.True(t, got.IsValid, "a miss must not touch existing records")
		})
	})

	t.Run("binding mismatch invalidates presented record only", func(t *testing.T) {
		withTx(t, func(d coordinatorDeps) {
			alice := createUser(t, d, "alice")
			bob := createUser(t, d, "bob")
			alicePair, aliceFamily := login(t, d, alice)
			bobPair, _ := login(t, d, bob)

			// Second record in alice's family, must survive the mismatch
			sibling, err := d.issuer.IssueRefreshToken(t.Context(), alice.ID, aliceFamily)
			require.NoError(t, err)

			// Bob's access token presented with alice's refresh token
			_, err = d.coordinator.Refresh(t.Context(), bobPair.Access.Value, alicePair.Refresh.Value)

			require.Error(t, err)
			require.ErrorIs(t, err, apperrors.ErrRefreshFailed)

			presented, err := d.refreshRepo.Get(t.Context(), alicePair.Refresh.Value)
			require.NoError(t, err)
			assert.False(t, presented.IsValid, "presented record has to be invalidated")

			got, err := d.refreshRepo.Get(t.Context(), sibling.Token)
			require.NoError(t, err)
			assert.True(t, got.IsValid, "mismatch is not proven reuse, family must not be burned")

			got, err = d.refreshRepo.Get(t.Context(), bobPair.Refresh.Value)
			require.NoError(t, err)
			assert.True(t, got.IsValid, "bob is not involved")
		})
	})

	t.Run("malformed access token invalidates presented record", func(t *testing.T) {
		withTx(t, func(d coordinatorDeps) {
			user := createUser(t, d, "malformed-access")
			pair, _ := login(t, d, user)

			_, err := d.coordinator.Refresh(t.Context(), "not-a-jwt-at-all", pair.Refresh.Value)

			require.Error(t, err)
			require.ErrorIs(t, err, apperrors.ErrRefreshFailed)

			got, err := d.refreshRepo.Get(t.Context(), pair.Refresh.Value)
			require.NoError(t, err)
			assert.False(t, got.IsValid)
		})
	})

	t.Run("reuse burns the whole family", func(t *testing.T) {
		withTx(t, func(d coordinatorDeps) {
			user := createUser(t, d, "reuse")
			pair, _ := login(t, d, user)

			newPair, err := d.coordinator.Refresh(t.Context(), pair.Access.Value, pair.Refresh.Value)
			require.NoError(t, err)

			// Replay the already rotated token
			_, err = d.coordinator.Refresh(t.Context(), pair.Access.Value, pair.Refresh.Value)
			require.Error(t, err)
			require.ErrorIs(t, err, apperrors.ErrRefreshFailed)

			// The legitimate newest token went down with the family
			_, err = d.coordinator.Refresh(t.Context(), newPair.Access.Value, newPair.Refresh.Value)
			require.Error(t, err, "newest token must be burned after reuse detection")
			require.ErrorIs(t, err, apperrors.ErrRefreshFailed)
		})
	})

	t.Run("expired record invalidated, family kept", func(t *testing.T) {
		withTx(t, func(d coordinatorDeps) {
			user := createUser(t, d, "expired")
			familyID := NewFamilyID()

			expired, err := d.issuer.NewRefreshToken(user.ID, familyID)
			require.NoError(t, err)
			expired.ExpiresAt = time.Now().Add(-time.Hour)
			_, err = d.refreshRepo.Save(t.Context(), expired)
			require.NoError(t, err)

			sibling, err := d.issuer.IssueRefreshToken(t.Context(), user.ID, familyID)
			require.NoError(t, err)

			access, err := d.issuer.IssueAccessToken(t.Context(), user, familyID)
			require.NoError(t, err)

			_, err = d.coordinator.Refresh(t.Context(), access.Value, expired.Token)

			require.Error(t, err)
			require.ErrorIs(t, err, apperrors.ErrRefreshFailed)

			got, err := d.refreshRepo.Get(t.Context(), expired.Token)
			require.NoError(t, err)
			assert.False(t, got.IsValid, "expired record has to be invalidated")

			got, err = d.refreshRepo.Get(t.Context(), sibling.Token)
			require.NoError(t, err)
			assert.True(t, got.IsValid, "expiry is not fraud, family must not be burned")
		})
	})

	t.Run("refresh fails for deleted user", func(t *testing.T) {
		withTx(t, func(d coordinatorDeps) {
			user := models.User{
				ID:       uuid.New(),
				Name:     "Ghost",
				Role:     "admin",
				Username: "ghost",
			}
			familyID := NewFamilyID()

			// Record exists but the user row does not
			refresh, err := d.issuer.IssueRefreshToken(t.Context(), user.ID, familyID)
			require.NoError(t, err)
			access, err := d.issuer.IssueAccessToken(t.Context(), user, familyID)
			require.NoError(t, err)

			_, err = d.coordinator.Refresh(t.Context(), access.Value, refresh.Token)

			require.Error(t, err)
			require.ErrorIs(t, err, apperrors.ErrRefreshFailed)
		})
	})

	t.Run("Revoke", func(t *testing.T) {
		t.Run("burns the family", func(t *testing.T) {
			withTx(t, func(d coordinatorDeps) {
				user := createUser(t, d, "revoke-ok")
				pair, _ := login(t, d, user)

				err := d.coordinator.Revoke(t.Context(), pair.Access.Value, pair.Refresh.Value)
				require.NoError(t, err)

				got, err := d.refreshRepo.Get(t.Context(), pair.Refresh.Value)
				require.NoError(t, err)
				assert.False(t, got.IsValid)

				_, err = d.coordinator.Refresh(t.Context(), pair.Access.Value, pair.Refresh.Value)
				require.Error(t, err, "revoked pair must not refresh")
			})
		})

		t.Run("is idempotent", func(t *testing.T) {
			withTx(t, func(d coordinatorDeps) {
				user := createUser(t, d, "revoke-twice")
				pair, _ := login(t, d, user)

				require.NoError(t, d.coordinator.Revoke(t.Context(), pair.Access.Value, pair.Refresh.Value))
				require.NoError(t, d.coordinator.Revoke(t.Context(), pair.Access.Value, pair.Refresh.Value))
			})
		})

		t.Run("unknown token is silent no-op", func(t *testing.T) {
			withTx(t, func(d coordinatorDeps) {
				user := createUser(t, d, "revoke-unknown")
				pair, _ := login(t, d, user)

				err := d.coordinator.Revoke(t.Context(), pair.Access.Value, "no-such-token")
				require.NoError(t, err)

				got, err := d.refreshRepo.Get(t.Context(), pair.Refresh.Value)
				require.NoError(t, err)
				assert.True(t, got.IsValid, "nothing should be touched")
			})
		})

		t.Run("binding mismatch is silent no-op", func(t *testing.T) {
			withTx(t, func(d coordinatorDeps) {
				alice := createUser(t, d, "revoke-alice")
				bob := createUser(t, d, "revoke-bob")
				alicePair, _ := login(t, d, alice)
				bobPair, _ := login(t, d, bob)

				// Bob can't revoke alice's session
				err := d.coordinator.Revoke(t.Context(), bobPair.Access.Value, alicePair.Refresh.Value)
				require.NoError(t, err)

				got, err := d.refreshRepo.Get(t.Context(), alicePair.Refresh.Value)
				require.NoError(t, err)
				assert.True(t, got.IsValid, "alice's session must stay alive")
			})
		})
	})
}
