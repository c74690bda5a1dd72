package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// scriptedFetch replays a fixed sequence of fetch outcomes, then
// repeats the final one.
type scriptedFetch struct {
	mu      sync.Mutex
	seq     []fetchResult
	i       int
	fetches int
}

type fetchResult struct {
	msgs []Message
	err  error
}

func (s *scriptedFetch) fetch(_ context.Context) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	r := s.seq[s.i]
	if s.i < len(s.seq)-1 {
		s.i++
	}
	return r.msgs, r.err
}

func (s *scriptedFetch) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// recorder collects poller hook invocations.
type recorder struct {
	mu       sync.Mutex
	states   []ConnectionState
	updates  [][]Message
	errs     []error
	authErrs []error
}

func (r *recorder) hooks() PollerHooks {
	return PollerHooks{
		OnUpdate: func(msgs []Message) {
			r.mu.Lock()
			r.updates = append(r.updates, msgs)
			r.mu.Unlock()
		},
		OnState: func(s ConnectionState) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnAuthError: func(err error) {
			r.mu.Lock()
			r.authErrs = append(r.authErrs, err)
			r.mu.Unlock()
		},
	}
}

func newTestPoller(t *testing.T, fetch FetchFunc, rec *recorder) (*Poller, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	p := NewPoller(slog.Default(), fetch, rec.hooks(),
		WithPollInterval(time.Second),
		WithPollerClock(mock),
	)
	return p, mock
}

func TestPollerDisconnectsAfterThreeFailures(t *testing.T) {
	netErr := errors.New("connection refused")
	script := &scriptedFetch{seq: []fetchResult{{err: netErr}}}
	rec := &recorder{}
	p, mock := newTestPoller(t, script.fetch, rec)

	p.Start(context.Background())
	defer p.Stop()

	mock.Add(time.Second)
	mock.Add(time.Second)
	if p.State() != StateConnected {
		t.Fatalf("state should still be connected after 2 failures, got %s", p.State())
	}

	mock.Add(time.Second)
	if p.State() != StateDisconnected {
		t.Fatalf("state should be disconnected after 3 failures, got %s", p.State())
	}
	if len(rec.errs) != 1 {
		t.Fatalf("exactly one user-facing error expected, got %d", len(rec.errs))
	}
}

func TestPollerSuppressesRepeatedErrors(t *testing.T) {
	script := &scriptedFetch{seq: []fetchResult{{err: errors.New("down")}}}
	rec := &recorder{}
	p, mock := newTestPoller(t, script.fetch, rec)

	p.Start(context.Background())
	defer p.Stop()

	// Three interval failures, then several backoff retries.
	for i := 0; i < 3; i++ {
		mock.Add(time.Second)
	}
	mock.Add(time.Second)      // retry at 1s backoff (failure 4)
	mock.Add(2 * time.Second)  // retry at 2s backoff (failure 5)
	mock.Add(4 * time.Second)  // retry at 4s backoff (failure 6)

	if len(rec.errs) != 1 {
		t.Fatalf("repeated failures must not emit additional errors, got %d", len(rec.errs))
	}
}

func TestPollerRecoversThroughReconnecting(t *testing.T) {
	msgs := testMessages("conv-a", 2)
	script := &scriptedFetch{seq: []fetchResult{
		{err: errors.New("down")},
		{err: errors.New("down")},
		{err: errors.New("down")},
		{msgs: msgs},
	}}
	rec := &recorder{}
	p, mock := newTestPoller(t, script.fetch, rec)

	p.Start(context.Background())
	defer p.Stop()

	for i := 0; i < 3; i++ {
		mock.Add(time.Second)
	}
	if p.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", p.State())
	}

	// Backoff after the 3rd failure is 1s; the retry succeeds.
	mock.Add(time.Second)

	if p.State() != StateConnected {
		t.Fatalf("expected connected after successful retry, got %s", p.State())
	}

	want := []ConnectionState{StateDisconnected, StateReconnecting, StateConnected}
	if len(rec.states) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, rec.states)
	}
	for i := range want {
		if rec.states[i] != want[i] {
			t.Fatalf("transition %d: expected %s, got %s", i, want[i], rec.states[i])
		}
	}

	if len(rec.updates) != 1 || len(rec.updates[0]) != 2 {
		t.Fatalf("expected one snapshot update with 2 messages, got %v", rec.updates)
	}
}

func TestPollerDeliversOnlyOnCountGrowth(t *testing.T) {
	two := testMessages("conv-a", 2)
	three := testMessages("conv-a", 3)
	script := &scriptedFetch{seq: []fetchResult{
		{msgs: two},
		{msgs: two},
		{msgs: three},
		{msgs: three},
	}}
	rec := &recorder{}
	p, mock := newTestPoller(t, script.fetch, rec)

	p.Start(context.Background())
	defer p.Stop()

	for i := 0; i < 4; i++ {
		mock.Add(time.Second)
	}

	if len(rec.updates) != 2 {
		t.Fatalf("expected updates only when the count grows (2), got %d", len(rec.updates))
	}
	if len(rec.updates[0]) != 2 || len(rec.updates[1]) != 3 {
		t.Fatalf("unexpected update sizes: %d, %d", len(rec.updates[0]), len(rec.updates[1]))
	}
}

func TestPollerAuthFailureTerminatesPolling(t *testing.T) {
	authErr := E(KindAuthentication, "httpapi.request", errors.New("token expired"))
	script := &scriptedFetch{seq: []fetchResult{{err: authErr}}}
	rec := &recorder{}
	p, mock := newTestPoller(t, script.fetch, rec)

	p.Start(context.Background())

	mock.Add(time.Second)
	if len(rec.authErrs) != 1 {
		t.Fatalf("expected auth hook invocation, got %d", len(rec.authErrs))
	}

	// Polling is dead: no further fetches regardless of elapsed time.
	before := script.count()
	mock.Add(time.Minute)
	if script.count() != before {
		t.Fatalf("polling should have terminated after auth failure")
	}
	if len(rec.errs) != 0 {
		t.Fatalf("auth failures bypass the generic error path, got %v", rec.errs)
	}
}

func TestPollerOfflineSuspendsAndOnlineResumes(t *testing.T) {
	msgs := testMessages("conv-a", 1)
	script := &scriptedFetch{seq: []fetchResult{{msgs: msgs}}}
	rec := &recorder{}
	p, mock := newTestPoller(t, script.fetch, rec)

	p.Start(context.Background())
	defer p.Stop()

	p.SetOnline(false)
	if p.Online() {
		t.Fatalf("expected offline")
	}
	mock.Add(time.Minute)
	if script.count() != 0 {
		t.Fatalf("no fetches should happen while offline, got %d", script.count())
	}

	p.SetOnline(true)
	// The online signal triggers an immediate fetch.
	if script.count() != 1 {
		t.Fatalf("expected immediate fetch on reconnect, got %d", script.count())
	}

	// reconnecting was observed before the fetch succeeded.
	if len(rec.states) == 0 || rec.states[0] != StateReconnecting {
		t.Fatalf("expected reconnecting transition first, got %v", rec.states)
	}
	if p.State() != StateConnected {
		t.Fatalf("expected connected after resume, got %s", p.State())
	}
}

func TestPollerStartWhileActiveIsNoOp(t *testing.T) {
	script := &scriptedFetch{seq: []fetchResult{{msgs: nil}}}
	rec := &recorder{}
	p, mock := newTestPoller(t, script.fetch, rec)

	p.Start(context.Background())
	p.Start(context.Background())
	defer p.Stop()

	mock.Add(time.Second)
	if script.count() != 1 {
		t.Fatalf("double start must not double the poll loop, got %d fetches", script.count())
	}
}

func TestPollerStopClearsTimersAndIsIdempotent(t *testing.T) {
	script := &scriptedFetch{seq: []fetchResult{{msgs: nil}}}
	rec := &recorder{}
	p, mock := newTestPoller(t, script.fetch, rec)

	p.Start(context.Background())
	p.Stop()
	p.Stop()

	mock.Add(time.Minute)
	if script.count() != 0 {
		t.Fatalf("no fetches after stop, got %d", script.count())
	}
}

func TestBackoffDelayIsNonDecreasingAndCapped(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{3, 1 * time.Second},
		{4, 2 * time.Second},
		{5, 4 * time.Second},
		{6, 8 * time.Second},
		{7, 16 * time.Second},
		{8, 30 * time.Second},
		{9, 30 * time.Second},
		{20, 30 * time.Second},
	}

	prev := time.Duration(0)
	for _, tc := range cases {
		got := backoffDelay(tc.failures)
		if got != tc.want {
			t.Fatalf("failures=%d: expected %v, got %v", tc.failures, tc.want, got)
		}
		if got < prev {
			t.Fatalf("backoff must be non-decreasing: %v after %v", got, prev)
		}
		prev = got
	}
}
