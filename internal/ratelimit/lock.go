package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Deletes the key only while it still carries the caller's token.
const claimReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrClaimStoreDisabled = errors.New("claim_store_disabled")
	ErrEmptyClaimKey      = errors.New("empty_claim_key")
	ErrInvalidClaimTTL    = errors.New("invalid_claim_ttl")
)

// Claim is a key held in Redis until its TTL runs out or its holder
// releases it.
type Claim struct {
	Key   string
	Token string
}

// ClaimStore hands out first-come claims on keys under a fixed prefix.
type ClaimStore struct {
	client redis.UniversalClient
	prefix string
	script *redis.Script
}

func NewClaimStore(client redis.UniversalClient, prefix string) *ClaimStore {
	if client == nil {
		return nil
	}
	return &ClaimStore{
		client: client,
		prefix: prefix,
		script: redis.NewScript(claimReleaseScript),
	}
}

// Acquire reports false when someone else already holds key.
func (s *ClaimStore) Acquire(ctx context.Context, key string, ttl time.Duration) (Claim, bool, error) {
	if s == nil || s.client == nil {
		return Claim{}, false, ErrClaimStoreDisabled
	}
	if key == "" {
		return Claim{}, false, ErrEmptyClaimKey
	}
	if ttl <= 0 {
		return Claim{}, false, ErrInvalidClaimTTL
	}

	claim := Claim{Key: s.prefix + key, Token: uuid.NewString()}
	ok, err := s.client.SetNX(ctx, claim.Key, claim.Token, ttl).Result()
	if err != nil {
		return Claim{}, false, err
	}
	if !ok {
		return Claim{}, false, nil
	}
	return claim, true, nil
}

// Release reports whether the claim was still held and got dropped.
func (s *ClaimStore) Release(ctx context.Context, claim Claim) (bool, error) {
	if s == nil || s.client == nil || claim.Key == "" || claim.Token == "" {
		return false, nil
	}
	n, err := s.script.Run(ctx, s.client, []string{claim.Key}, claim.Token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
