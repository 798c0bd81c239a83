package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound means the subject has no live session record.
	ErrNotFound = errors.New("session record not found")
	// ErrRefreshMismatch means the presented refresh token does not match
	// the stored one. The caller presented a stale or foreign token.
	ErrRefreshMismatch = errors.New("refresh token mismatch")
	// ErrUnavailable wraps transport failures talking to the backing store.
	ErrUnavailable = errors.New("session store unavailable")
)

// rotateLua atomically swaps the stored refresh token for a new one, but
// only when the presented token matches the stored one. The record blob is
// parsed in place: byte 1 is the version, bytes 2-3 the big-endian refresh
// length, the refresh token follows, and the final 8 bytes are the expiry
// (replaced wholesale with ARGV[4], encoded by the caller).
//
// Replies: {0} no record, {1} token mismatch, {2, blob} rotated, {3} the
// stored blob could not be parsed.
const rotateLua = `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end
if #data < 19 or string.byte(data, 1) ~= 1 then
  return {3}
end
local rlen = string.byte(data, 2) * 256 + string.byte(data, 3)
if #data < 3 + rlen + 8 then
  return {3}
end
local stored = string.sub(data, 4, 3 + rlen)
if stored ~= ARGV[1] then
  return {1}
end
local nlen = #ARGV[2]
local updated = string.sub(data, 1, 1)
  .. string.char(math.floor(nlen / 256), nlen % 256)
  .. ARGV[2]
  .. string.sub(data, 4 + rlen, #data - 8)
  .. ARGV[4]
redis.call("SET", KEYS[1], updated, "EX", tonumber(ARGV[3]))
return {2, updated}
`

var rotateScript = redis.NewScript(rotateLua)

// Store keeps at most one session record per subject in Redis. Saving
// overwrites whatever record exists (last writer wins); rotation is a
// compare-and-swap so two racing refreshes cannot both succeed.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) key(subject string) string {
	return s.prefix + ":sess:" + subject
}

// Save writes the record for subject, replacing any existing one.
func (s *Store) Save(ctx context.Context, subject string, rec *Record, ttl time.Duration) error {
	blob, err := Encode(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(subject), blob, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get returns the subject's record, or ErrNotFound.
func (s *Store) Get(ctx context.Context, subject string) (*Record, error) {
	blob, err := s.rdb.Get(ctx, s.key(subject)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Decode(blob)
}

// Delete removes the subject's record. Deleting a missing record is not an
// error.
func (s *Store) Delete(ctx context.Context, subject string) error {
	if err := s.rdb.Del(ctx, s.key(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Rotate swaps the stored refresh token for next if and only if provided
// matches the stored token, re-arming the record's TTL to the full refresh
// lifetime. On success it returns the updated record.
func (s *Store) Rotate(ctx context.Context, subject, provided, next string, ttl time.Duration) (*Record, error) {
	if len(next) == 0 || len(next) > 0xFFFF {
		return nil, errors.New("invalid refresh token length")
	}
	expiry := make([]byte, 8)
	putInt64(expiry, time.Now().Add(ttl).Unix())

	res, err := rotateScript.Run(ctx, s.rdb,
		[]string{s.key(subject)},
		provided, next, int64(ttl.Seconds()), expiry,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: empty rotate reply", ErrUnavailable)
	}
	status, _ := res[0].(int64)
	switch status {
	case 0:
		return nil, ErrNotFound
	case 1:
		return nil, ErrRefreshMismatch
	case 2:
		blob, _ := res[1].(string)
		return Decode([]byte(blob))
	default:
		return nil, ErrCorruptRecord
	}
}

func putInt64(b []byte, v int64) {
	u := uint64(v)
	for i := 7; i >= 0; i-- {
		b[i] = byte(u)
		u >>= 8
	}
}
