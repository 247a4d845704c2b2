package session

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ehr/portal/internal/wizard"
)

func sampleSession(id string) *Session {
	return &Session{
		ID:     id,
		Flow:   "visit",
		UserID: "dr-1",
		State: wizard.State{
			Flow:         "visit",
			Step:         1,
			ParentID:     "V0001",
			Precondition: wizard.Precondition{ID: "P001", Label: "Jane Doe"},
			Drafts:       map[wizard.StepKey][]wizard.Entry{"symptoms": {{"name": "Cough"}}},
			Created:      map[wizard.StepKey][]string{},
			Submitted:    map[wizard.StepKey]bool{"basic": true},
		},
	}
}

func TestMemoryStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	if err := store.Put(ctx, sampleSession("s1")); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.State.ParentID != "V0001" || got.State.Drafts["symptoms"][0]["name"] != "Cough" {
		t.Errorf("unexpected session %+v", got.State)
	}

	// Changing the returned copy must not reach the store.
	got.State.Drafts["symptoms"][0]["name"] = "Fever"
	again, _ := store.Get(ctx, "s1")
	if again.State.Drafts["symptoms"][0]["name"] != "Cough" {
		t.Error("store shares state with callers")
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_ = store.Put(ctx, sampleSession("s1"))
	_ = store.Put(ctx, sampleSession("s2"))
	now = now.Add(2 * time.Minute)

	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired session to be gone, got %v", err)
	}
	if n := store.Sweep(); n != 1 {
		t.Errorf("expected sweep to remove 1 session, removed %d", n)
	}
}

func TestMemoryStore_Lock(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	unlock, err := store.Lock(ctx, "s1")
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}
	if _, err := store.Lock(ctx, "s1"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if other, err := store.Lock(ctx, "s2"); err != nil {
		t.Errorf("locks must be per session: %v", err)
	} else {
		other()
	}

	unlock()
	unlock()
	relock, err := store.Lock(ctx, "s1")
	if err != nil {
		t.Fatalf("expected lock to be free after unlock: %v", err)
	}
	relock()
}

// TestRedisStore runs against a real server when REDIS_URL is set.
func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, url)
	if err != nil {
		t.Fatalf("NewRedisClient() error: %v", err)
	}
	defer client.Close()
	store := NewRedisStore(client, time.Minute)

	s := sampleSession("redis-test-" + time.Now().Format("150405.000000"))
	if err := store.Put(ctx, s); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	defer store.Delete(ctx, s.ID)

	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.State.Precondition.ID != "P001" {
		t.Errorf("unexpected precondition %+v", got.State.Precondition)
	}

	unlock, err := store.Lock(ctx, s.ID)
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}
	if _, err := store.Lock(ctx, s.ID); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	unlock()

	if err := store.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := store.Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestRedisStore_LockOutlivesTTL holds the lock for several TTLs and expects
// it to stay held until released.
func TestRedisStore_LockOutlivesTTL(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, url)
	if err != nil {
		t.Fatalf("NewRedisClient() error: %v", err)
	}
	defer client.Close()
	store := NewRedisStore(client, time.Minute)
	store.lockTTL = 150 * time.Millisecond

	id := "redis-lock-" + time.Now().Format("150405.000000")
	unlock, err := store.Lock(ctx, id)
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}
	time.Sleep(4 * store.lockTTL)
	if _, err := store.Lock(ctx, id); !errors.Is(err, ErrBusy) {
		t.Errorf("expected lock still held after %v, got %v", 4*store.lockTTL, err)
	}
	unlock()
	unlock()

	relock, err := store.Lock(ctx, id)
	if err != nil {
		t.Fatalf("Lock() after unlock error: %v", err)
	}
	relock()
}

func TestNewRedisClient_BadURL(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), "not-a-redis-url"); err == nil {
		t.Error("expected error for malformed url")
	}
}
