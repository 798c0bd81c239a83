package clockauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var errResetNotFound = errors.New("reset token not found")

// passwordResetStore mirrors outstanding reset tokens in Redis so each token
// is honored at most once. The mirror is keyed by a hash of the token (keys
// stay bounded) and stores the subject id; the signed token itself carries
// the rest.
type passwordResetStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func newPasswordResetStore(rdb redis.UniversalClient, prefix string) *passwordResetStore {
	return &passwordResetStore{rdb: rdb, prefix: prefix}
}

func (s *passwordResetStore) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return s.prefix + ":pwreset:" + hex.EncodeToString(sum[:])
}

// Save records the token as outstanding for subject. Issuing a new token
// does not invalidate prior ones; each mirror entry expires on its own TTL.
func (s *passwordResetStore) Save(ctx context.Context, token, subject string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.key(token), subject, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Consume atomically removes the mirror entry if it belongs to subject.
// A second consume of the same token fails, as does a token minted for a
// different subject.
func (s *passwordResetStore) Consume(ctx context.Context, token, subject string) error {
	status, err := consumeExactScript.Run(ctx, s.rdb, []string{s.key(token)}, subject).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if status != consumeOK {
		return errResetNotFound
	}
	return nil
}
