package clockauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// No 0/O, 1/I/L to keep codes easy to read back over the phone.
const backupCodeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

var errBackupCodeInvalid = errors.New("backup code invalid or already used")

// backupCodeStore keeps hashed recovery codes per subject in a Redis set.
// Removing a member is Redis-atomic, so each code is spendable exactly once
// even under concurrent attempts; the remaining codes stay intact.
type backupCodeStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func newBackupCodeStore(rdb redis.UniversalClient, prefix string) *backupCodeStore {
	return &backupCodeStore{rdb: rdb, prefix: prefix}
}

func (s *backupCodeStore) key(subject string) string {
	return s.prefix + ":a2fbackup:" + subject
}

// Replace discards any existing codes for subject and stores hashes of the
// new batch.
func (s *backupCodeStore) Replace(ctx context.Context, subject string, codes []string, ttl time.Duration) error {
	members := make([]interface{}, 0, len(codes))
	for _, code := range codes {
		members = append(members, hashBackupCode(code))
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.key(subject))
	if len(members) > 0 {
		pipe.SAdd(ctx, s.key(subject), members...)
		pipe.Expire(ctx, s.key(subject), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Consume spends one code. The removal decides the race: of any concurrent
// callers presenting the same code, exactly one sees it removed.
func (s *backupCodeStore) Consume(ctx context.Context, subject, code string) error {
	removed, err := s.rdb.SRem(ctx, s.key(subject), hashBackupCode(code)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if removed == 0 {
		return errBackupCodeInvalid
	}
	return nil
}

func (s *backupCodeStore) DeleteAll(ctx context.Context, subject string) error {
	if err := s.rdb.Del(ctx, s.key(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func hashBackupCode(code string) string {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func generateBackupCodes(count, length int) ([]string, error) {
	codes := make([]string, 0, count)
	max := big.NewInt(int64(len(backupCodeCharset)))
	for i := 0; i < count; i++ {
		var b strings.Builder
		b.Grow(length)
		for j := 0; j < length; j++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, err
			}
			b.WriteByte(backupCodeCharset[n.Int64()])
		}
		codes = append(codes, b.String())
	}
	return codes, nil
}
