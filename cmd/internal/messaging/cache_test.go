package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"skiff/cmd/internal/kv"
)

func testMessages(conversationID string, n int) []Message {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Message{
			ID:             fmt.Sprintf("msg-%03d", i),
			ConversationID: conversationID,
			SenderID:       "1",
			RecipientID:    "789",
			Body:           fmt.Sprintf("message %d", i),
			ReadStatus:     ReadStatusUnread,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestCacheGetAfterSetReturnsIdenticalSnapshot(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	c := NewConversationCache(slog.Default(), WithCacheClock(mock))

	msgs := testMessages("conv-a", 3)
	c.Set(ctx, "conv-a", msgs)

	got, ok := c.Get(ctx, "conv-a")
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if len(got) != len(msgs) {
		t.Fatalf("expected %d messages, got %d", len(msgs), len(got))
	}
	for i := range msgs {
		if got[i] != msgs[i] {
			t.Fatalf("message %d differs: %+v vs %+v", i, got[i], msgs[i])
		}
	}
}

func TestCacheExpiresAfterMaxAge(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	c := NewConversationCache(slog.Default(),
		WithCacheClock(mock),
		WithCacheMaxAge(5*time.Minute),
	)

	c.Set(ctx, "conv-a", testMessages("conv-a", 2))

	mock.Add(4 * time.Minute)
	if _, ok := c.Get(ctx, "conv-a"); !ok {
		t.Fatalf("entry should still be fresh at 4m")
	}

	mock.Add(2 * time.Minute)
	if _, ok := c.Get(ctx, "conv-a"); ok {
		t.Fatalf("entry should have expired at 6m")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewConversationCache(slog.Default(), WithCacheCapacity(2, 1<<20))

	c.Set(ctx, "conv-a", testMessages("conv-a", 1))
	c.Set(ctx, "conv-b", testMessages("conv-b", 1))

	// Touch conv-a so conv-b becomes the LRU victim.
	if _, ok := c.Get(ctx, "conv-a"); !ok {
		t.Fatalf("expected hit for conv-a")
	}

	c.Set(ctx, "conv-c", testMessages("conv-c", 1))

	if _, ok := c.Get(ctx, "conv-a"); !ok {
		t.Fatalf("conv-a should have survived eviction")
	}
	if _, ok := c.Get(ctx, "conv-b"); ok {
		t.Fatalf("conv-b should have been evicted")
	}
}

func TestCacheStatsCountHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	c := NewConversationCache(slog.Default())

	c.Set(ctx, "conv-a", testMessages("conv-a", 1))

	if _, ok := c.Get(ctx, "conv-a"); !ok {
		t.Fatalf("expected hit")
	}
	if _, ok := c.Get(ctx, "conv-missing"); ok {
		t.Fatalf("expected miss")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("expected 1 hit / 1 miss, got %d / %d", stats.Hits, stats.Misses)
	}
	if stats.Entries != 1 {
		t.Fatalf("expected 1 entry, got %d", stats.Entries)
	}
}

func TestCacheDurableTierSurvivesMemoryLoss(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory()

	c1 := NewConversationCache(slog.Default(), WithCacheBackend(backend))
	msgs := testMessages("conv-a", 3)
	c1.Set(ctx, "conv-a", msgs)

	// A fresh cache instance simulates a reload: memory tier is empty,
	// durable tier is not.
	c2 := NewConversationCache(slog.Default(), WithCacheBackend(backend))
	got, ok := c2.Get(ctx, "conv-a")
	if !ok {
		t.Fatalf("expected durable-tier hit after reload")
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
}

func TestCacheClearRemovesBothTiers(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory()
	c := NewConversationCache(slog.Default(), WithCacheBackend(backend))

	c.Set(ctx, "conv-a", testMessages("conv-a", 1))
	c.Clear(ctx, "conv-a")

	if _, ok := c.Get(ctx, "conv-a"); ok {
		t.Fatalf("expected miss after clear")
	}
	if backend.Len() != 0 {
		t.Fatalf("durable tier should be empty, has %d keys", backend.Len())
	}
}

// failingBackend breaks every operation to exercise the degrade path.
type failingBackend struct{}

func (failingBackend) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("backend down")
}
func (failingBackend) Set(context.Context, string, string) error { return errors.New("backend down") }
func (failingBackend) Delete(context.Context, string) error      { return errors.New("backend down") }

func TestCacheSwallowsBackendFailures(t *testing.T) {
	ctx := context.Background()
	c := NewConversationCache(slog.Default(), WithCacheBackend(failingBackend{}))

	// Set must not panic or fail; the memory tier still works.
	c.Set(ctx, "conv-a", testMessages("conv-a", 2))

	got, ok := c.Get(ctx, "conv-a")
	if !ok || len(got) != 2 {
		t.Fatalf("memory tier should serve despite backend failure, ok=%v n=%d", ok, len(got))
	}
}
