package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"skiff/cmd/ids"
)

const provisionalIDPrefix = "prov_"

// PendingSend is a failed optimistic send retained for manual retry.
type PendingSend struct {
	ProvisionalID string
	Body          string
	RecipientID   string
	Attempts      int
}

// Snapshot is the session's reactive field set, copied atomically.
type Snapshot struct {
	Messages        []Message
	Loading         bool
	LoadingMore     bool
	Sending         bool
	Err             error
	ErrKind         Kind
	HasMore         bool
	ConnectionState ConnectionState
	Online          bool
}

// SessionConfig assembles a Session's collaborators. ConversationID,
// User, CounterpartID, and Transport are required; nil components get
// engine defaults.
type SessionConfig struct {
	ConversationID string
	User           Identity
	CounterpartID  string
	Booking        *BookingContext

	Transport Transport
	Cache     *ConversationCache
	Limiter   *RateLimiter
	Validator SecurityValidator

	PollInterval time.Duration
	Clock        clock.Clock

	// OnChange fires after every state mutation with a fresh Snapshot.
	// It must not call back into the session.
	OnChange func(Snapshot)

	// OnSignOut fires when an operation fails with KindAuthentication.
	OnSignOut func(err error)
}

// Session is the public per-conversation API: load, send, mark-read,
// retry, refresh, plus reactive status via Snapshot/OnChange.
//
// All state a session mutates is owned by the session instance and
// disposed by Close; nothing leaks across conversations except the
// injected shared cache and limiter, which are concurrency-safe.
type Session struct {
	log *slog.Logger
	clk clock.Clock

	conversationID string
	user           Identity
	counterpartID  string
	booking        *BookingContext

	transport Transport
	cache     *ConversationCache
	limiter   *RateLimiter
	validator SecurityValidator
	poller    *Poller

	refresh singleflight.Group

	onChange  func(Snapshot)
	onSignOut func(error)

	mu          sync.Mutex
	closed      bool
	list        *conversationList
	pending     map[string]*PendingSend
	loading     bool
	loadingMore bool
	sending     bool
	err         error
	hasMore     bool
	connState   ConnectionState
	online      bool
}

// NewSession constructs a Session. The poll loop does not run until
// Start is called.
func NewSession(log *slog.Logger, cfg SessionConfig) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(cfg.ConversationID) == "" {
		return nil, errors.New("messaging: empty conversation id")
	}
	if strings.TrimSpace(cfg.User.ID) == "" {
		return nil, ErrNoIdentity
	}
	if strings.TrimSpace(cfg.CounterpartID) == "" {
		return nil, errors.New("messaging: empty counterpart id")
	}
	if cfg.Transport == nil {
		return nil, errors.New("messaging: nil transport")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	s := &Session{
		log:            log.With("conversation_id", cfg.ConversationID),
		clk:            clk,
		conversationID: cfg.ConversationID,
		user:           cfg.User,
		counterpartID:  cfg.CounterpartID,
		booking:        cfg.Booking,
		transport:      cfg.Transport,
		cache:          cfg.Cache,
		limiter:        cfg.Limiter,
		validator:      cfg.Validator,
		onChange:       cfg.OnChange,
		onSignOut:      cfg.OnSignOut,
		list:           newConversationList(),
		pending:        make(map[string]*PendingSend),
		connState:      StateConnected,
		online:         true,
	}
	if s.cache == nil {
		s.cache = NewConversationCache(log, WithCacheClock(clk))
	}
	if s.limiter == nil {
		s.limiter = NewRateLimiter(rateLimitEvents, rateLimitWindow)
	}
	if s.validator == nil {
		s.validator = NewStandardValidator(log, maxBodyChars)
	}

	pollOpts := []PollerOption{WithPollerClock(clk)}
	if cfg.PollInterval > 0 {
		pollOpts = append(pollOpts, WithPollInterval(cfg.PollInterval))
	}
	s.poller = NewPoller(s.log, s.fetchAll, PollerHooks{
		OnUpdate:    s.applyPolledSnapshot,
		OnState:     s.applyConnectionState,
		OnError:     s.applyPollError,
		OnAuthError: s.applyAuthError,
	}, pollOpts...)

	return s, nil
}

// Start performs the initial cache-first load and begins polling.
// Polling starts even when the initial load fails; the poll loop is the
// recovery path for transient errors.
func (s *Session) Start(ctx context.Context) error {
	err := s.LoadMessages(ctx, true)
	s.poller.Start(ctx)
	return err
}

// Close tears the session down: stops all timers, discards optimistic
// entries still pending confirmation, and rejects further operations.
// Idempotent. In-flight network calls are not cancelled; their results
// are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.list.DiscardStaged()
	s.pending = make(map[string]*PendingSend)
	s.mu.Unlock()

	s.poller.Stop()
	s.log.Debug("session.close")
	s.emitChange()
}

// Snapshot returns the reactive field set.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Messages:        s.list.Snapshot(),
		Loading:         s.loading,
		LoadingMore:     s.loadingMore,
		Sending:         s.sending,
		Err:             s.err,
		ErrKind:         KindOf(s.err),
		HasMore:         s.hasMore,
		ConnectionState: s.connState,
		Online:          s.online,
	}
}

// PendingSends lists retained failed sends, for retry UIs.
func (s *Session) PendingSends() []PendingSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingSend, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, *p)
	}
	return out
}

// LoadMessages loads the conversation. With useCache, a fresh cached
// snapshot is served immediately and a background refresh races in
// behind it; on a cold cache the call blocks on the network fetch.
func (s *Session) LoadMessages(ctx context.Context, useCache bool) error {
	if err := s.guard(); err != nil {
		return err
	}

	if useCache {
		if msgs, ok := s.cache.Get(ctx, s.conversationID); ok {
			s.mu.Lock()
			s.list.Replace(msgs)
			s.mu.Unlock()
			s.poller.SeedCount(len(msgs))
			s.log.Debug("load.cache.hit", "count", len(msgs))
			s.emitChange()

			s.backgroundRefresh()
			return nil
		}
	}

	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()
	s.emitChange()

	msgs, err := s.fetchAll(ctx)

	s.mu.Lock()
	s.loading = false
	if err != nil {
		s.err = s.classify("session.load", err)
		s.mu.Unlock()
		s.emitChange()
		s.maybeSignOut(err)
		return s.classify("session.load", err)
	}
	s.list.Replace(msgs)
	s.mu.Unlock()

	s.poller.SeedCount(len(msgs))
	s.cache.Set(ctx, s.conversationID, msgs)
	s.emitChange()
	return nil
}

// SendMessage validates, rate-limits, optimistically appends, and sends
// body to the counterpart. Failed sends are rolled back and retained as
// PendingSends for manual retry.
func (s *Session) SendMessage(ctx context.Context, body string) error {
	if err := s.guard(); err != nil {
		return err
	}

	if strings.TrimSpace(body) == "" {
		return E(KindValidation, "session.send", ErrEmptyBody)
	}
	if !s.poller.Online() {
		return E(KindNetwork, "session.send", ErrOffline)
	}

	res := s.validator.Validate(ctx, ValidationInput{
		Body:          body,
		SenderID:      s.user.ID,
		CounterpartID: s.counterpartID,
		Booking:       s.booking,
	})
	if !res.Valid {
		metricSends.WithLabelValues(sendResultRejected).Inc()
		err := Errorf(KindValidation, "session.send", "%w: %s", ErrContentRejected, strings.Join(res.Errors, "; "))
		s.setErr(err)
		return err
	}

	if !s.limiter.Allow(s.user.ID, s.clk.Now()) {
		metricRateLimited.Inc()
		err := E(KindValidation, "session.send", ErrRateLimited)
		s.setErr(err)
		return err
	}

	return s.dispatch(ctx, res.SanitizedBody, "", 1)
}

// Retry re-issues a retained failed send by its provisional id.
// Attempts are capped; exceeding the cap discards the entry and
// reports a terminal error.
func (s *Session) Retry(ctx context.Context, provisionalID string) error {
	if err := s.guard(); err != nil {
		return err
	}

	s.mu.Lock()
	p, ok := s.pending[provisionalID]
	if !ok {
		s.mu.Unlock()
		return E(KindValidation, "session.retry", ErrNoPendingSend)
	}
	if p.Attempts >= maxSendAttempts {
		delete(s.pending, provisionalID)
		s.mu.Unlock()
		s.emitChange()
		return E(KindValidation, "session.retry", ErrRetryExhausted)
	}
	body := p.Body
	attempts := p.Attempts + 1
	s.mu.Unlock()

	return s.dispatch(ctx, body, provisionalID, attempts)
}

// dispatch runs the optimistic two-phase send: stage a provisional
// entry, issue the create, then confirm or roll back.
func (s *Session) dispatch(ctx context.Context, body, provisionalID string, attempt int) error {
	now := s.clk.Now().UTC()

	if provisionalID == "" {
		id, err := ids.NewULID(now)
		if err != nil {
			return E(KindUnknown, "session.send", err)
		}
		provisionalID = provisionalIDPrefix + id
	}

	provisional := Message{
		ID:             provisionalID,
		ConversationID: s.conversationID,
		SenderID:       s.user.ID,
		RecipientID:    s.counterpartID,
		Body:           body,
		ReadStatus:     ReadStatusUnread,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.mu.Lock()
	s.sending = true
	if err := s.list.Stage(provisional); err != nil {
		s.sending = false
		s.mu.Unlock()
		return E(KindUnknown, "session.send", err)
	}
	delete(s.pending, provisionalID)
	s.mu.Unlock()
	s.emitChange()

	confirmed, err := s.transport.CreateMessage(ctx, CreateMessageInput{
		ConversationID: s.conversationID,
		SenderID:       s.user.ID,
		RecipientID:    s.counterpartID,
		Body:           body,
	})

	if err != nil {
		wrapped := s.classify("session.send", err)

		s.mu.Lock()
		s.list.Discard(provisionalID)
		s.sending = false
		s.err = wrapped
		retained := false
		if KindOf(wrapped) != KindAuthentication && attempt < maxSendAttempts {
			s.pending[provisionalID] = &PendingSend{
				ProvisionalID: provisionalID,
				Body:          body,
				RecipientID:   s.counterpartID,
				Attempts:      attempt,
			}
			retained = true
		}
		s.mu.Unlock()

		metricSends.WithLabelValues(sendResultFailed).Inc()
		s.log.Warn("send.fail", "provisional_id", provisionalID, "attempt", attempt, "retained", retained, "err", err)
		s.emitChange()
		s.maybeSignOut(err)

		if attempt >= maxSendAttempts {
			return E(KindValidation, "session.send", ErrRetryExhausted)
		}
		return wrapped
	}

	s.mu.Lock()
	s.list.Confirm(provisionalID, confirmed)
	delete(s.pending, provisionalID)
	s.sending = false
	merged := s.confirmedSnapshotLocked()
	s.mu.Unlock()

	s.poller.SeedCount(len(merged))
	s.cache.Set(ctx, s.conversationID, merged)
	metricSends.WithLabelValues(sendResultConfirmed).Inc()
	s.log.Debug("send.confirmed", "message_id", confirmed.ID, "attempt", attempt)
	s.emitChange()
	return nil
}

// LoadMore refetches the full set and diffs against the held count.
// The message API has no pagination cursor, so this is the only "load
// older" strategy available.
func (s *Session) LoadMore(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.loading || s.loadingMore {
		s.mu.Unlock()
		return nil
	}
	held := s.list.ConfirmedLen()
	s.loadingMore = true
	s.mu.Unlock()
	s.emitChange()

	msgs, err := s.fetchAll(ctx)

	s.mu.Lock()
	s.loadingMore = false
	if err != nil {
		s.err = s.classify("session.load_more", err)
		s.mu.Unlock()
		s.emitChange()
		s.maybeSignOut(err)
		return s.classify("session.load_more", err)
	}
	s.hasMore = len(msgs) > held
	if len(msgs) > held {
		s.list.Replace(msgs)
	}
	s.mu.Unlock()

	if len(msgs) > held {
		s.poller.SeedCount(len(msgs))
		s.cache.Set(ctx, s.conversationID, msgs)
	}
	s.emitChange()
	return nil
}

// MarkAsRead marks a message read on the server, then flips the local
// copy. Non-auth failures are logged and ignored; auth failures invoke
// the sign-out hook.
func (s *Session) MarkAsRead(ctx context.Context, messageID string) error {
	if err := s.guard(); err != nil {
		return err
	}

	if err := s.transport.MarkRead(ctx, messageID); err != nil {
		if KindOf(err) == KindAuthentication {
			wrapped := s.classify("session.mark_read", err)
			s.setErr(wrapped)
			s.maybeSignOut(err)
			return wrapped
		}
		s.log.Info("mark_read.fail", "message_id", messageID, "err", err)
		return nil
	}

	s.mu.Lock()
	flipped := s.list.MarkRead(messageID)
	s.mu.Unlock()
	if flipped {
		s.emitChange()
	}
	return nil
}

// Refresh bypasses the cache: clears the stored snapshot and blocks on
// a full network fetch.
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	s.cache.Clear(ctx, s.conversationID)
	return s.LoadMessages(ctx, false)
}

// ClearError resets the surfaced error.
func (s *Session) ClearError() {
	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
	s.emitChange()
}

// SetOnline feeds the host online/offline signal through to the poller.
func (s *Session) SetOnline(online bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.online = online
	s.mu.Unlock()

	s.poller.SetOnline(online)
	s.emitChange()
}

// ---- internal ----

func (s *Session) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return E(KindValidation, "session", ErrSessionClosed)
	}
	return nil
}

// fetchAll is the poller's FetchFunc and the shared full-history fetch.
func (s *Session) fetchAll(ctx context.Context) ([]Message, error) {
	msgs, err := s.transport.MessagesByConversation(ctx, s.conversationID)
	if err != nil {
		return nil, err
	}
	msgs = dedupeByID(msgs)
	sortMessages(msgs)
	return msgs, nil
}

// backgroundRefresh refreshes the list behind a served cache hit.
// singleflight collapses concurrent refreshes for the conversation.
func (s *Session) backgroundRefresh() {
	go func() {
		_, _, _ = s.refresh.Do(s.conversationID, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			msgs, err := s.fetchAll(ctx)
			if err != nil {
				// Background refreshes never surface errors; the poll
				// loop owns failure accounting.
				s.log.Debug("load.refresh.fail", "err", err)
				return nil, nil
			}
			s.applyPolledSnapshot(msgs)
			return nil, nil
		})
	}()
}

// applyPolledSnapshot installs a fetched snapshot (poller OnUpdate).
func (s *Session) applyPolledSnapshot(msgs []Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.list.Replace(msgs)
	s.mu.Unlock()

	s.poller.SeedCount(len(msgs))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.cache.Set(ctx, s.conversationID, msgs)
	cancel()

	s.emitChange()
}

func (s *Session) applyConnectionState(state ConnectionState) {
	s.mu.Lock()
	s.connState = state
	s.mu.Unlock()
	s.emitChange()
}

func (s *Session) applyPollError(err error) {
	s.setErr(err)
}

func (s *Session) applyAuthError(err error) {
	s.setErr(s.classify("poll.fetch", err))
	if s.onSignOut != nil {
		s.onSignOut(err)
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.emitChange()
}

func (s *Session) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return err
	}
	return E(KindOf(err), op, err)
}

func (s *Session) maybeSignOut(err error) {
	if KindOf(err) == KindAuthentication && s.onSignOut != nil {
		s.onSignOut(err)
	}
}

// confirmedSnapshotLocked returns the visible list minus staged
// provisional entries, for cache persistence. Caller holds s.mu.
func (s *Session) confirmedSnapshotLocked() []Message {
	snap := s.list.Snapshot()
	out := snap[:0]
	for _, m := range snap {
		if !strings.HasPrefix(m.ID, provisionalIDPrefix) {
			out = append(out, m)
		}
	}
	return out
}

func (s *Session) emitChange() {
	if s.onChange == nil {
		return
	}
	s.onChange(s.Snapshot())
}
