package kv

import (
	"context"
	"testing"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, ok, err := m.Get(ctx, "skiff/conv/abc"); err != nil || ok {
		t.Fatalf("missing key must report absent, got ok=%v err=%v", ok, err)
	}

	if err := m.Set(ctx, "skiff/conv/abc", `{"messages":[]}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := m.Get(ctx, "skiff/conv/abc")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if v != `{"messages":[]}` {
		t.Fatalf("unexpected value %q", v)
	}

	if err := m.Set(ctx, "skiff/conv/abc", "v2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	if v, _, _ := m.Get(ctx, "skiff/conv/abc"); v != "v2" {
		t.Fatalf("overwrite lost, got %q", v)
	}

	if err := m.Delete(ctx, "skiff/conv/abc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "skiff/conv/abc"); ok {
		t.Fatalf("deleted key must be absent")
	}
	if err := m.Delete(ctx, "skiff/conv/abc"); err != nil {
		t.Fatalf("deleting a missing key must not error, got %v", err)
	}
}

func TestMemoryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMemory()
	if err := m.Set(ctx, "k", "v"); err == nil {
		t.Fatalf("expected context error on Set")
	}
	if _, _, err := m.Get(ctx, "k"); err == nil {
		t.Fatalf("expected context error on Get")
	}
	if m.Len() != 0 {
		t.Fatalf("cancelled writes must not land")
	}
}
