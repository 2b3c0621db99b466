package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestMemoryRefreshTokenStore_Basics(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRefreshTokenStore().(*memoryRefreshTokenStore)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	ok, err := store.Exists(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("expected missing token false,nil; got %v,%v", ok, err)
	}
	if err := store.Store(ctx, "jti-1", "u1", time.Minute); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	ok, err = store.Exists(ctx, "jti-1")
	if err != nil || !ok {
		t.Fatalf("expected token exists, got %v,%v", ok, err)
	}

	now = now.Add(2 * time.Minute)
	ok, err = store.Exists(ctx, "jti-1")
	if err != nil || ok {
		t.Fatalf("expected token expired, got %v,%v", ok, err)
	}
}

func TestMemoryRefreshTokenStore_RevokeAndEmptyJTI(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRefreshTokenStore()
	if err := store.Store(ctx, "", "u1", time.Minute); err != nil {
		t.Fatalf("empty jti store should be no-op, got %v", err)
	}
	if err := store.Store(ctx, "jti-2", "u1", time.Minute); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	revoked, err := store.Revoke(ctx, "jti-2")
	if err != nil || !revoked {
		t.Fatalf("expected revoke true,nil; got %v,%v", revoked, err)
	}
	revoked, err = store.Revoke(ctx, "jti-2")
	if err != nil || revoked {
		t.Fatalf("expected second revoke false,nil; got %v,%v", revoked, err)
	}
}

func TestMemoryRefreshTokenStore_RevokeUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRefreshTokenStore()
	_ = store.Store(ctx, "a", "u1", time.Minute)
	_ = store.Store(ctx, "b", "u1", time.Minute)
	_ = store.Store(ctx, "c", "u2", time.Minute)

	if err := store.RevokeUser(ctx, "u1"); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	for _, jti := range []string{"a", "b"} {
		if ok, _ := store.Exists(ctx, jti); ok {
			t.Fatalf("expected %s revoked", jti)
		}
	}
	if ok, _ := store.Exists(ctx, "c"); !ok {
		t.Fatalf("other users' tokens must survive")
	}
}

func TestRedisRefreshTokenStore_Basics(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredisClient(t)
	store := NewRedisRefreshTokenStore(client)

	if err := store.Store(ctx, " j1 ", "u1", time.Hour); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if !mr.Exists("auth:refresh:j1") {
		t.Fatalf("expected key auth:refresh:j1")
	}
	if ttl := mr.TTL("auth:refresh:j1"); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %v", ttl)
	}
	members, err := mr.SMembers("auth:refresh:user:u1")
	if err != nil || len(members) != 1 || members[0] != "j1" {
		t.Fatalf("expected user index to contain j1, got %v,%v", members, err)
	}

	ok, err := store.Exists(ctx, "j1")
	if err != nil || !ok {
		t.Fatalf("expected exists true,nil; got %v,%v", ok, err)
	}

	revoked, err := store.Revoke(ctx, "j1")
	if err != nil || !revoked {
		t.Fatalf("expected revoke true,nil; got %v,%v", revoked, err)
	}
	revoked, err = store.Revoke(ctx, "j1")
	if err != nil || revoked {
		t.Fatalf("expected second revoke false,nil; got %v,%v", revoked, err)
	}
}

func TestRedisRefreshTokenStore_ExpiryAndRevokeUser(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredisClient(t)
	store := NewRedisRefreshTokenStore(client)

	_ = store.Store(ctx, "j1", "u1", time.Minute)
	_ = store.Store(ctx, "j2", "u1", time.Hour)
	_ = store.Store(ctx, "j3", "u2", time.Hour)

	mr.FastForward(2 * time.Minute)
	if ok, _ := store.Exists(ctx, "j1"); ok {
		t.Fatalf("expected j1 expired")
	}

	if err := store.RevokeUser(ctx, "u1"); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if ok, _ := store.Exists(ctx, "j2"); ok {
		t.Fatalf("expected j2 revoked")
	}
	if ok, _ := store.Exists(ctx, "j3"); !ok {
		t.Fatalf("expected j3 to survive")
	}
}

func TestRedisRefreshTokenStore_ErrorPaths(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredisClient(t)
	store := NewRedisRefreshTokenStore(client)

	if ok, err := store.Exists(ctx, ""); err != nil || ok {
		t.Fatalf("empty jti exists should be false,nil; got %v,%v", ok, err)
	}
	mr.Close()
	if err := store.Store(ctx, "j1", "u1", time.Minute); err == nil {
		t.Fatalf("expected store error with redis down")
	}
	if _, err := store.Exists(ctx, "j1"); err == nil {
		t.Fatalf("expected exists error with redis down")
	}
	if NewRedisRefreshTokenStore(nil) != nil {
		t.Fatalf("nil client must yield nil store")
	}
}

func TestRedisRefreshTokenStore_RevokeSurvivesBrokenIndex(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredisClient(t)
	store := NewRedisRefreshTokenStore(client)

	if err := store.Store(ctx, "j1", "u1", time.Minute); err != nil {
		t.Fatalf("store: %v", err)
	}
	// El índice pasa a ser un string: SREM responde WRONGTYPE.
	mr.Del("auth:refresh:user:u1")
	if err := mr.Set("auth:refresh:user:u1", "corrupt"); err != nil {
		t.Fatalf("set: %v", err)
	}

	ok, err := store.Revoke(ctx, "j1")
	if err != nil || !ok {
		t.Fatalf("expected revoke true,nil despite index failure; got %v,%v", ok, err)
	}
	if exists, _ := store.Exists(ctx, "j1"); exists {
		t.Fatalf("revoked token must not exist")
	}
	if ok, err := store.Revoke(ctx, "j1"); err != nil || ok {
		t.Fatalf("second revoke should be false,nil; got %v,%v", ok, err)
	}
}
