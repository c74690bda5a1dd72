// Package kv defines the persistent key-value backend used by the
// conversation cache's durable tier, plus the built-in implementations
// (in-memory, PostgreSQL, Redis).
//
// Backends are best-effort by contract: the cache treats every backend
// failure as a cache miss and keeps serving from memory. Implementations
// should therefore return errors rather than panic, and must tolerate
// concurrent use.
package kv

import "context"

// Backend is the minimal durable key-value contract.
//
// Get reports found=false (with nil error) for missing keys so callers
// can distinguish "absent" from "backend broken".
type Backend interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
