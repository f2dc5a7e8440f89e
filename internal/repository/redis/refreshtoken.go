// Package redis provides a redis-backed refresh token store.
// It is wire-compatible with the postgres one: records are kept forever
// (no TTL) and only ever flipped to invalid, family membership lives in a
// set key so the whole lineage can be burned in one script.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pkalinin/tokengate/internal/apperrors"
	"github.com/pkalinin/tokengate/internal/models"
)

const (
	tokenKeyPrefix  = "refresh:token:"
	familyKeyPrefix = "refresh:family:"
)

// Every mutation is a single Lua script, so the store needs no locks:
// redis executes scripts atomically and that is the whole concurrency story.
var (
	saveScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SADD", KEYS[2], ARGV[2])
return 1
`)

	invalidateScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then
  return 0
end
local rec = cjson.decode(v)
rec["is_valid"] = false
redis.call("SET", KEYS[1], cjson.encode(rec))
return 1
`)

	invalidateFamilyScript = redis.NewScript(`
local members = redis.call("SMEMBERS", KEYS[1])
for _, token in ipairs(members) do
  local key = ARGV[1] .. token
  local v = redis.call("GET", key)
  if v then
    local rec = cjson.decode(v)
    rec["is_valid"] = false
    redis.call("SET", key, cjson.encode(rec))
  end
end
return #members
`)

	rotateScript = redis.NewScript(`
local old = redis.call("GET", KEYS[1])
if not old then
  return "notfound"
end
local rec = cjson.decode(old)
if rec["is_valid"] == false then
  return "used"
end
rec["is_valid"] = false
redis.call("SET", KEYS[1], cjson.encode(rec))
redis.call("SET", KEYS[2], ARGV[1])
redis.call("SADD", KEYS[3], ARGV[2])
return "ok"
`)
)

// Stored record shape, decoded by the Lua scripts with cjson as well
type storedToken struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	FamilyID  string    `json:"family_id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IsValid   bool      `json:"is_valid"`
}

type RefreshTokenRepo struct {
	Client *redis.Client
}

func tokenKey(tokenValue string) string {
	return tokenKeyPrefix + tokenValue
}

func familyKey(familyID string) string {
	return familyKeyPrefix + familyID
}

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	data, err := json.Marshal(storedToken(token))
	if err != nil {
		return token, fmt.Errorf("marshal error: %w", err)
	}

	keys := []string{tokenKey(token.Token), familyKey(token.FamilyID)}
	created, err := saveScript.Run(ctx, r.Client, keys, data, token.Token).Int()
	switch {
	case err != nil:
		return token, fmt.Errorf("redis error: %w", err)
	case created == 0:
		return token, fmt.Errorf("repo error: token value is taken already")
	default:
		return token, nil
	}
}

func (r *RefreshTokenRepo) Get(ctx context.Context, tokenValue string) (models.RefreshToken, error) {
	var token models.RefreshToken

	data, err := r.Client.Get(ctx, tokenKey(tokenValue)).Bytes()
	switch {
	case err == redis.Nil:
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	case err != nil:
		return token, fmt.Errorf("redis error: %w", err)
	}

	var stored storedToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return token, fmt.Errorf("unmarshal error: %w", err)
	}

	return models.RefreshToken(stored), nil
}

func (r *RefreshTokenRepo) Invalidate(ctx context.Context, tokenValue string) error {
	existed, err := invalidateScript.Run(ctx, r.Client, []string{tokenKey(tokenValue)}).Int()
	switch {
	case err != nil:
		return fmt.Errorf("redis error: %w", err)
	case existed == 0:
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return nil
	}
}

func (r *RefreshTokenRepo) InvalidateFamily(ctx context.Context, familyID string) error {
	err := invalidateFamilyScript.Run(ctx, r.Client, []string{familyKey(familyID)}, tokenKeyPrefix).Err()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepo) Rotate(ctx context.Context, oldTokenValue string, next models.RefreshToken) (models.RefreshToken, error) {
	data, err := json.Marshal(storedToken(next))
	if err != nil {
		return next, fmt.Errorf("marshal error: %w", err)
	}

	keys := []string{tokenKey(oldTokenValue), tokenKey(next.Token), familyKey(next.FamilyID)}
	status, err := rotateScript.Run(ctx, r.Client, keys, data, next.Token).Text()

	switch {
	case err != nil:
		return next, fmt.Errorf("redis error: %w", err)
	case status == "notfound":
		return next, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	case status == "used":
		return next, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenIsUsed)
	default:
		return next, nil
	}
}
