package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"skiff/cmd/internal/messaging"
)

// GateState is the lifecycle of a booking messaging gate.
type GateState string

const (
	GateUninitialized GateState = "uninitialized"
	GateInitializing  GateState = "initializing"
	GateEnabled       GateState = "enabled"
	GateDisabled      GateState = "disabled"
)

// GateConfig assembles a Gate's collaborators. User, Bookings, and
// Messages are required; the rest default to engine defaults.
type GateConfig struct {
	User     messaging.Identity
	Bookings Transport
	Messages messaging.Transport

	Cache     *messaging.ConversationCache
	Limiter   *messaging.RateLimiter
	Validator messaging.SecurityValidator

	PollInterval time.Duration
	Clock        clock.Clock

	OnChange  func(messaging.Snapshot)
	OnSignOut func(err error)
}

// Gate is the booking-scoped entry point to messaging. It owns a
// messaging.Session by composition and delegates to it only while the
// booking's status and access checks hold.
//
// Initialization runs four ordered checks, each a distinct failure
// point: status allow-list, captain resolution, conversation-id
// derivation, and an independent access validation. A later booking
// status change that fails the allow-list disables messaging again and
// tears the session down.
type Gate struct {
	log *slog.Logger
	cfg GateConfig

	mu        sync.Mutex
	state     GateState
	booking   *Booking
	captainID string
	convID    string
	hasAccess bool
	accessErr error
	session   *messaging.Session
}

// NewGate constructs an uninitialized gate for the given user.
func NewGate(log *slog.Logger, cfg GateConfig) (*Gate, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(cfg.User.ID) == "" {
		return nil, messaging.ErrNoIdentity
	}
	if cfg.Bookings == nil {
		return nil, errors.New("booking: nil booking transport")
	}
	if cfg.Messages == nil {
		return nil, errors.New("booking: nil message transport")
	}
	return &Gate{
		log:   log,
		cfg:   cfg,
		state: GateUninitialized,
	}, nil
}

// Initialize fetches the booking record and evaluates the gate.
func (g *Gate) Initialize(ctx context.Context, bookingID string) error {
	b, err := g.cfg.Bookings.BookingByID(ctx, bookingID)
	if err != nil {
		wrapped := classify("gate.booking.fetch", err)
		g.disable(wrapped)
		return wrapped
	}
	return g.UpdateBooking(ctx, b)
}

// UpdateBooking (re)evaluates the gate against a booking record. Call
// it whenever the booking reference or its status changes; a session
// active under previously valid checks is torn down when they fail.
func (g *Gate) UpdateBooking(ctx context.Context, b Booking) error {
	g.mu.Lock()
	g.state = GateInitializing
	g.booking = &b
	g.mu.Unlock()

	// Step 1: status allow-list. Failing this skips the remaining steps.
	if !b.Status.AllowsMessaging() {
		err := messaging.Errorf(messaging.KindValidation, "gate.init",
			"%w: status %s", ErrStatusNotAllowed, b.Status)
		g.disable(err)
		g.log.Info("gate.disable", "booking_id", b.ID, "status", string(b.Status), "reason", "status_not_allowed")
		return err
	}

	// Step 2: counterpart resolution.
	captainID, err := ResolveCaptainID(b)
	if err != nil {
		wrapped := messaging.E(messaging.KindUnknown, "gate.init", err)
		g.disable(wrapped)
		g.log.Warn("gate.captain.unresolved", "booking_id", b.ID, "err", err)
		return wrapped
	}

	// Step 3: deterministic conversation id.
	convID := ConversationID(b.ID, g.cfg.User.ID, captainID)

	// Step 4: independent access validation.
	dec, err := g.cfg.Bookings.ValidateAccess(ctx, b.ID, g.cfg.User.ID)
	if err != nil {
		wrapped := classify("gate.access", err)
		g.disable(wrapped)
		g.log.Warn("gate.access.fail", "booking_id", b.ID, "err", err)
		return wrapped
	}
	if !dec.HasAccess {
		wrapped := messaging.Errorf(messaging.KindAuthorization, "gate.access",
			"%w: %s", ErrAccessDenied, dec.Reason)
		g.disable(wrapped)
		g.log.Info("gate.access.denied", "booking_id", b.ID, "reason", dec.Reason)
		return wrapped
	}
	if strings.TrimSpace(dec.CounterpartID) != "" {
		captainID = strings.TrimSpace(dec.CounterpartID)
	}

	return g.enable(ctx, b, captainID, convID)
}

// enable activates (or keeps) the conversation session.
func (g *Gate) enable(ctx context.Context, b Booking, captainID, convID string) error {
	g.mu.Lock()
	if g.session != nil && g.convID == convID {
		g.state = GateEnabled
		g.captainID = captainID
		g.hasAccess = true
		g.accessErr = nil
		g.mu.Unlock()
		return nil
	}
	old := g.session
	g.session = nil
	g.mu.Unlock()

	if old != nil {
		old.Close()
	}

	sess, err := messaging.NewSession(g.log, messaging.SessionConfig{
		ConversationID: convID,
		User:           g.cfg.User,
		CounterpartID:  captainID,
		Booking: &messaging.BookingContext{
			BookingID: b.ID,
			Status:    string(b.Status),
			CaptainID: captainID,
		},
		Transport:    g.cfg.Messages,
		Cache:        g.cfg.Cache,
		Limiter:      g.cfg.Limiter,
		Validator:    g.cfg.Validator,
		PollInterval: g.cfg.PollInterval,
		Clock:        g.cfg.Clock,
		OnChange:     g.cfg.OnChange,
		OnSignOut:    g.cfg.OnSignOut,
	})
	if err != nil {
		wrapped := messaging.E(messaging.KindUnknown, "gate.session", err)
		g.disable(wrapped)
		return wrapped
	}

	// Initial load failures are recoverable through the poll loop; the
	// gate is enabled as soon as the checks pass.
	if err := sess.Start(ctx); err != nil {
		g.log.Info("gate.session.load.fail", "booking_id", b.ID, "err", err)
	}

	g.mu.Lock()
	g.state = GateEnabled
	g.captainID = captainID
	g.convID = convID
	g.hasAccess = true
	g.accessErr = nil
	g.session = sess
	g.mu.Unlock()

	g.log.Info("gate.enable", "booking_id", b.ID, "conversation_id", convID, "captain_id", captainID)
	return nil
}

// disable records the failure and tears down any active session.
func (g *Gate) disable(err error) {
	g.mu.Lock()
	g.state = GateDisabled
	g.hasAccess = false
	g.captainID = ""
	g.convID = ""
	g.accessErr = err
	old := g.session
	g.session = nil
	g.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// SendMessage delegates to the session after re-checking the gate
// conditions: a resolved captain and validated access.
func (g *Gate) SendMessage(ctx context.Context, body string) error {
	g.mu.Lock()
	captainID := g.captainID
	hasAccess := g.hasAccess
	sess := g.session
	g.mu.Unlock()

	if captainID == "" {
		return messaging.E(messaging.KindValidation, "gate.send", ErrCaptainUnresolved)
	}
	if !hasAccess || sess == nil {
		return messaging.E(messaging.KindAuthorization, "gate.send", ErrNotEnabled)
	}
	return sess.SendMessage(ctx, body)
}

// Session exposes the active conversation session (nil unless enabled).
func (g *Gate) Session() *messaging.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

// State reports the gate lifecycle state.
func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// IsMessagingEnabled reports whether sends may currently be delegated.
func (g *Gate) IsMessagingEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == GateEnabled && g.hasAccess && g.captainID != ""
}

// CaptainID returns the resolved counterpart id ("" when unresolved).
func (g *Gate) CaptainID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captainID
}

// ConversationID returns the derived conversation id ("" when disabled).
func (g *Gate) ConversationID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.convID
}

// AccessError returns the gate-level failure, if any.
func (g *Gate) AccessError() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.accessErr
}

// Err surfaces the most specific current error: a gate access error
// takes precedence over any session-level error.
func (g *Gate) Err() error {
	g.mu.Lock()
	accessErr := g.accessErr
	sess := g.session
	g.mu.Unlock()

	if accessErr != nil {
		return accessErr
	}
	if sess != nil {
		return sess.Snapshot().Err
	}
	return nil
}

// Close tears the gate down, closing any active session. Idempotent.
func (g *Gate) Close() {
	g.mu.Lock()
	old := g.session
	g.session = nil
	g.state = GateUninitialized
	g.hasAccess = false
	g.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// classify wraps transport errors that are not already kinded.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var me *messaging.Error
	if errors.As(err, &me) {
		return err
	}
	return messaging.E(messaging.KindOf(err), op, err)
}
