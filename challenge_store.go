package clockauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeExactLua deletes a key only when its value matches the expected one.
// The compare and delete run as a single server-side step, so two callers
// presenting the same one-time value cannot both succeed.
//
// Replies: 0 missing, 1 mismatch, 2 consumed.
const consumeExactLua = `
local v = redis.call("GET", KEYS[1])
if not v then
  return 0
end
if v ~= ARGV[1] then
  return 1
end
redis.call("DEL", KEYS[1])
return 2
`

var consumeExactScript = redis.NewScript(consumeExactLua)

const (
	consumeMissing  = 0
	consumeMismatch = 1
	consumeOK       = 2
)

var errNoChallenge = errors.New("no pending challenge")

// twoFactorChallengeStore holds at most one pending two-factor item per
// subject: either a login challenge or an enrollment secret awaiting
// confirmation. Both live under the same key, so starting one flow cancels
// the other. Values carry a one-byte kind tag.
type twoFactorChallengeStore struct {
	rdb    redis.UniversalClient
	prefix string
}

const (
	challengeKindLogin   = "c:"
	challengeKindPending = "p:"
)

func newTwoFactorChallengeStore(rdb redis.UniversalClient, prefix string) *twoFactorChallengeStore {
	return &twoFactorChallengeStore{rdb: rdb, prefix: prefix}
}

func (s *twoFactorChallengeStore) key(subject string) string {
	return s.prefix + ":a2f:" + subject
}

func (s *twoFactorChallengeStore) SaveLoginChallenge(ctx context.Context, subject, token string, ttl time.Duration) error {
	return s.save(ctx, subject, challengeKindLogin+token, ttl)
}

func (s *twoFactorChallengeStore) SavePendingSecret(ctx context.Context, subject, secret string, ttl time.Duration) error {
	return s.save(ctx, subject, challengeKindPending+secret, ttl)
}

func (s *twoFactorChallengeStore) save(ctx context.Context, subject, value string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.key(subject), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// GetLoginChallenge returns the pending login challenge token without
// consuming it.
func (s *twoFactorChallengeStore) GetLoginChallenge(ctx context.Context, subject string) (string, error) {
	return s.get(ctx, subject, challengeKindLogin)
}

// GetPendingSecret returns the enrollment secret awaiting confirmation
// without consuming it.
func (s *twoFactorChallengeStore) GetPendingSecret(ctx context.Context, subject string) (string, error) {
	return s.get(ctx, subject, challengeKindPending)
}

func (s *twoFactorChallengeStore) get(ctx context.Context, subject, kind string) (string, error) {
	v, err := s.rdb.Get(ctx, s.key(subject)).Result()
	if errors.Is(err, redis.Nil) {
		return "", errNoChallenge
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !strings.HasPrefix(v, kind) {
		return "", errNoChallenge
	}
	return v[len(kind):], nil
}

// ConsumeLoginChallenge atomically removes the pending login challenge if
// token matches it. Only one of any concurrent callers can succeed.
func (s *twoFactorChallengeStore) ConsumeLoginChallenge(ctx context.Context, subject, token string) error {
	return s.consume(ctx, subject, challengeKindLogin+token)
}

// ConsumePendingSecret atomically removes the pending enrollment secret if
// secret matches it.
func (s *twoFactorChallengeStore) ConsumePendingSecret(ctx context.Context, subject, secret string) error {
	return s.consume(ctx, subject, challengeKindPending+secret)
}

func (s *twoFactorChallengeStore) consume(ctx context.Context, subject, value string) error {
	status, err := consumeExactScript.Run(ctx, s.rdb, []string{s.key(subject)}, value).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if status != consumeOK {
		return errNoChallenge
	}
	return nil
}

func (s *twoFactorChallengeStore) Delete(ctx context.Context, subject string) error {
	if err := s.rdb.Del(ctx, s.key(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
