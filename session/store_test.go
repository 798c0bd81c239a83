package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, "ca"), mr
}

func TestSaveGetRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Unix()
	rec := &Record{
		RefreshToken: "refresh-token-1",
		Email:        "ada@example.com",
		Roles:        []string{"admin", "user"},
		CreatedAt:    now,
		ExpiresAt:    now + 3600,
	}
	if err := st.Save(ctx, "sub-1", rec, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := st.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RefreshToken != rec.RefreshToken || got.Email != rec.Email {
		t.Fatalf("record mismatch: %+v", got)
	}
	if len(got.Roles) != 2 || got.Roles[0] != "admin" || got.Roles[1] != "user" {
		t.Fatalf("roles mismatch: %v", got.Roles)
	}
	if got.CreatedAt != rec.CreatedAt || got.ExpiresAt != rec.ExpiresAt {
		t.Fatalf("timestamps mismatch: %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	st, _ := newTestStore(t)
	if _, err := st.Get(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	first := &Record{RefreshToken: "first", Email: "a@b.c", CreatedAt: 1, ExpiresAt: 2}
	second := &Record{RefreshToken: "second", Email: "a@b.c", CreatedAt: 3, ExpiresAt: 4}
	if err := st.Save(ctx, "sub-1", first, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := st.Save(ctx, "sub-1", second, time.Hour); err != nil {
		t.Fatal(err)
	}

	got, err := st.Get(ctx, "sub-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.RefreshToken != "second" {
		t.Fatalf("want second record, got %q", got.RefreshToken)
	}
}

func TestRotate(t *testing.T) {
	st, mr := newTestStore(t)
	ctx := context.Background()

	rec := &Record{
		RefreshToken: "old-token",
		Email:        "ada@example.com",
		Roles:        []string{"user"},
		CreatedAt:    100,
		ExpiresAt:    200,
	}
	if err := st.Save(ctx, "sub-1", rec, time.Minute); err != nil {
		t.Fatal(err)
	}

	updated, err := st.Rotate(ctx, "sub-1", "old-token", "new-token", time.Hour)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if updated.RefreshToken != "new-token" {
		t.Fatalf("want new-token, got %q", updated.RefreshToken)
	}
	if updated.Email != "ada@example.com" || updated.CreatedAt != 100 {
		t.Fatalf("rotation must preserve metadata: %+v", updated)
	}
	if updated.ExpiresAt == 200 {
		t.Fatal("rotation must advance the stored expiry")
	}

	// TTL re-armed to the full refresh lifetime, not the minute left over.
	if ttl := mr.TTL("ca:sess:sub-1"); ttl < 50*time.Minute {
		t.Fatalf("TTL not re-armed: %v", ttl)
	}

	// The old token no longer rotates.
	if _, err := st.Rotate(ctx, "sub-1", "old-token", "another", time.Hour); !errors.Is(err, ErrRefreshMismatch) {
		t.Fatalf("want ErrRefreshMismatch, got %v", err)
	}
	// The new one does.
	if _, err := st.Rotate(ctx, "sub-1", "new-token", "third", time.Hour); err != nil {
		t.Fatalf("second rotate: %v", err)
	}
}

func TestRotateMissing(t *testing.T) {
	st, _ := newTestStore(t)
	if _, err := st.Rotate(context.Background(), "ghost", "a", "b", time.Hour); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestRotateCorruptBlob(t *testing.T) {
	st, mr := newTestStore(t)
	mr.Set("ca:sess:sub-1", "garbage")
	if _, err := st.Rotate(context.Background(), "sub-1", "a", "b", time.Hour); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("want ErrCorruptRecord, got %v", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	rec := &Record{RefreshToken: "tok", Email: "a@b.c", CreatedAt: 1, ExpiresAt: 2}
	if err := st.Save(ctx, "sub-1", rec, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := st.Delete(ctx, "sub-1"); err != nil {
		t.Fatal(err)
	}
	if err := st.Delete(ctx, "sub-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := st.Get(ctx, "sub-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
}

func TestEncodeRejectsOversizedFields(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := Encode(&Record{RefreshToken: "tok", Roles: []string{string(long)}}); err == nil {
		t.Fatal("want error for oversized role")
	}
	if _, err := Encode(&Record{RefreshToken: ""}); err == nil {
		t.Fatal("want error for empty refresh token")
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	rec := &Record{RefreshToken: "tok", Email: "a@b.c", CreatedAt: 1, ExpiresAt: 2}
	blob, err := Encode(rec)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(blob); i++ {
		if _, err := Decode(blob[:i]); !errors.Is(err, ErrCorruptRecord) {
			t.Fatalf("truncation at %d not rejected: %v", i, err)
		}
	}
}
