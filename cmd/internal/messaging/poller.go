package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ConnectionState is the poller's connectivity verdict for one
// conversation.
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateReconnecting ConnectionState = "reconnecting"
)

// FetchFunc retrieves the full message list for the conversation.
type FetchFunc func(ctx context.Context) ([]Message, error)

// PollerHooks are the callbacks a Poller drives. All hooks are invoked
// without internal locks held; nil hooks are skipped.
type PollerHooks struct {
	// OnUpdate delivers a new full snapshot when the fetched count
	// exceeds the last known count.
	OnUpdate func(msgs []Message)
	// OnState fires on every connection state transition.
	OnState func(state ConnectionState)
	// OnError fires once when the failure threshold is reached.
	// Subsequent identical failures are suppressed until recovery.
	OnError func(err error)
	// OnAuthError fires when a fetch fails with KindAuthentication.
	// Polling terminates immediately; the global sign-out handler owns
	// what happens next.
	OnAuthError func(err error)
}

// Poller schedules periodic fetches for one conversation and drives the
// connected -> disconnected -> reconnecting cycle.
//
// New-message detection is a pure count comparison against the last
// delivered snapshot; edits and deletions are not detected. That
// mirrors the polling contract of the message API, which has no change
// cursor.
//
// Scheduling is a callback chain on clock.AfterFunc rather than a
// free-running goroutine, so at most one fetch is in flight and Stop
// can clear every pending timer deterministically.
type Poller struct {
	log   *slog.Logger
	clk   clock.Clock
	fetch FetchFunc
	hooks PollerHooks

	interval time.Duration

	mu           sync.Mutex
	active       bool
	online       bool
	state        ConnectionState
	failures     int
	errorEmitted bool
	lastCount    int
	timer        *clock.Timer
	ctx          context.Context
	cancel       context.CancelFunc
}

// PollerOption configures Poller behavior.
type PollerOption func(*Poller)

// WithPollInterval sets the poll cadence (default 5s).
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithPollerClock injects the time source (tests use a mock).
func WithPollerClock(clk clock.Clock) PollerOption {
	return func(p *Poller) {
		if clk != nil {
			p.clk = clk
		}
	}
}

// NewPoller constructs a stopped poller. The host is assumed online
// until SetOnline says otherwise.
func NewPoller(log *slog.Logger, fetch FetchFunc, hooks PollerHooks, opts ...PollerOption) *Poller {
	if log == nil {
		log = slog.Default()
	}
	p := &Poller{
		log:      log,
		clk:      clock.New(),
		fetch:    fetch,
		hooks:    hooks,
		interval: defaultPollInterval,
		online:   true,
		state:    StateConnected,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start begins the poll loop. Starting an active poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return
	}
	p.active = true
	p.state = StateConnected
	p.failures = 0
	p.errorEmitted = false
	p.ctx, p.cancel = context.WithCancel(ctx)
	if p.online {
		p.scheduleLocked(p.interval)
	}
	p.mu.Unlock()

	p.log.Debug("poll.start", "interval", p.interval)
}

// Stop clears all pending timers and deactivates the loop. Idempotent.
// An in-flight fetch is not interrupted; its result is discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	p.active = false
	p.clearTimerLocked()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.log.Debug("poll.stop")
}

// State reports the current connection state.
func (p *Poller) State() ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Online reports the last host connectivity signal.
func (p *Poller) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// SeedCount records the message count of an externally loaded snapshot
// so the next poll diffs against it instead of zero.
func (p *Poller) SeedCount(n int) {
	p.mu.Lock()
	if n > p.lastCount {
		p.lastCount = n
	}
	p.mu.Unlock()
}

// SetOnline feeds the host online/offline signal. Going offline
// suspends polling; coming back online transitions straight to
// reconnecting and restarts the loop with an immediate fetch.
func (p *Poller) SetOnline(online bool) {
	p.mu.Lock()
	if p.online == online {
		p.mu.Unlock()
		return
	}
	p.online = online

	if !online {
		p.clearTimerLocked()
		p.mu.Unlock()
		p.log.Info("poll.suspend", "reason", "offline")
		return
	}

	if !p.active {
		p.mu.Unlock()
		return
	}

	p.state = StateReconnecting
	p.clearTimerLocked()
	p.mu.Unlock()

	p.log.Info("poll.resume", "reason", "online")
	p.emitState(StateReconnecting)
	p.cycle()
}

// cycle runs one poll step: fetch, classify the outcome, schedule the
// next step. It is the only place timers are armed besides SetOnline.
func (p *Poller) cycle() {
	p.mu.Lock()
	if !p.active || !p.online {
		p.mu.Unlock()
		return
	}
	ctx := p.ctx
	p.mu.Unlock()

	msgs, err := p.fetch(ctx)

	p.mu.Lock()
	if !p.active {
		// Torn down while the fetch was in flight; drop the result.
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.failLocked(err)
		return
	}
	p.successLocked(msgs)
}

// failLocked handles a fetch failure. Caller holds p.mu; the method
// unlocks before invoking hooks.
func (p *Poller) failLocked(err error) {
	metricPollFailures.Inc()

	if KindOf(err) == KindAuthentication {
		p.active = false
		p.clearTimerLocked()
		if p.cancel != nil {
			p.cancel()
		}
		p.mu.Unlock()

		p.log.Warn("poll.auth.fail", "err", err)
		if p.hooks.OnAuthError != nil {
			p.hooks.OnAuthError(err)
		}
		return
	}

	p.failures++
	failures := p.failures
	emitError := false
	var newState ConnectionState

	if failures == maxPollFailures {
		p.state = StateDisconnected
		newState = StateDisconnected
		if !p.errorEmitted {
			p.errorEmitted = true
			emitError = true
		}
	} else if failures > maxPollFailures && p.state == StateReconnecting {
		// A backoff retry failed; fall back to disconnected until the
		// next scheduled attempt.
		p.state = StateDisconnected
		newState = StateDisconnected
	}

	var delay time.Duration
	if failures >= maxPollFailures {
		delay = backoffDelay(failures)
		p.scheduleReconnectLocked(delay)
	} else {
		delay = p.interval
		p.scheduleLocked(delay)
	}
	p.mu.Unlock()

	p.log.Info("poll.fail", "failures", failures, "retry_in", delay, "err", err)
	if newState != "" {
		p.emitState(newState)
	}
	if emitError {
		if p.hooks.OnError != nil {
			p.hooks.OnError(E(KindNetwork, "poll.fetch", err))
		}
	}
}

// successLocked handles a successful fetch. Caller holds p.mu; the
// method unlocks before invoking hooks.
func (p *Poller) successLocked(msgs []Message) {
	recovered := p.state != StateConnected
	if recovered {
		p.state = StateConnected
		metricReconnects.Inc()
	}
	p.failures = 0
	p.errorEmitted = false

	updated := len(msgs) > p.lastCount
	if updated {
		p.lastCount = len(msgs)
	}

	p.scheduleLocked(p.interval)
	p.mu.Unlock()

	if recovered {
		p.log.Info("poll.reconnected")
		p.emitState(StateConnected)
	}
	if updated && p.hooks.OnUpdate != nil {
		p.hooks.OnUpdate(msgs)
	}
}

// scheduleLocked arms the next regular poll tick. Caller holds p.mu.
func (p *Poller) scheduleLocked(d time.Duration) {
	p.clearTimerLocked()
	p.timer = p.clk.AfterFunc(d, p.cycle)
}

// scheduleReconnectLocked arms a backoff retry that enters the
// reconnecting state before fetching. Caller holds p.mu.
func (p *Poller) scheduleReconnectLocked(d time.Duration) {
	p.clearTimerLocked()
	p.timer = p.clk.AfterFunc(d, func() {
		p.mu.Lock()
		if !p.active || !p.online {
			p.mu.Unlock()
			return
		}
		transition := p.state != StateReconnecting
		p.state = StateReconnecting
		p.mu.Unlock()

		if transition {
			p.emitState(StateReconnecting)
		}
		p.cycle()
	})
}

func (p *Poller) clearTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Poller) emitState(s ConnectionState) {
	if p.hooks.OnState != nil {
		p.hooks.OnState(s)
	}
}

// backoffDelay computes min(1s * 2^(failures-3), 30s).
func backoffDelay(failures int) time.Duration {
	shift := failures - maxPollFailures
	if shift < 0 {
		shift = 0
	}
	if shift > 5 {
		// 1s << 5 = 32s already exceeds the cap.
		return backoffCap
	}
	d := backoffBase << uint(shift)
	if d > backoffCap {
		d = backoffCap
	}
	return d
}
