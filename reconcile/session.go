package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/platform"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultInterval        = 2000 * time.Millisecond
	DefaultCompletionDelay = 3000 * time.Millisecond
)

var (
	ErrInvalidPaymentID = errors.New("reconcile: payment id is required")
	ErrNoAuthority      = errors.New("reconcile: no authority configured")
)

// Options tune a session. Everything is optional.
type Options struct {
	Interval        time.Duration
	CompletionDelay time.Duration

	// OnComplete fires once, CompletionDelay after the payment completed, unless the
	// session was disposed first.
	OnComplete func(platform.PaymentRecord)
	// OnTerminal fires as soon as the payment reaches completed, failed or cancelled.
	OnTerminal func(State, platform.PaymentRecord)
	// Listener is subscribed before the first fetch so it sees every event.
	Listener func(Event)

	// Authority overrides the registry's authority for this session.
	Authority Authority
	Journal   Journal
	Snapshots SnapshotStore
	Clock     clockwork.Clock
	Logger    *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.CompletionDelay <= 0 {
		o.CompletionDelay = DefaultCompletionDelay
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Session follows one payment: it owns the poll loop, the state machine and the
// subscribers. Create it with NewSession or Registry.CreateSession.
type Session struct {
	paymentID string
	handle    string
	authority Authority
	opts      Options
	clock     clockwork.Clock
	logger    *zap.Logger

	machine *Machine
	events  *dispatcher
	poller  *poller

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	finished   bool
	disposed   bool
	done       chan struct{}
	closed     chan struct{}
	completion clockwork.Timer

	applied     atomic.Bool
	stopOnce    sync.Once
	disposeOnce sync.Once
	onDispose   func(*Session)
}

// NewSession starts following paymentID. Cancelling ctx disposes the session.
func NewSession(ctx context.Context, authority Authority, paymentID string, opts Options) (*Session, error) {
	s, err := newSession(ctx, authority, paymentID, opts)
	if err != nil {
		return nil, err
	}
	s.start()
	return s, nil
}

func newSession(ctx context.Context, authority Authority, paymentID string, opts Options) (*Session, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, ErrInvalidPaymentID
	}
	if opts.Authority != nil {
		authority = opts.Authority
	}
	if authority == nil {
		return nil, ErrNoAuthority
	}
	opts = opts.withDefaults()

	s := &Session{
		paymentID: paymentID,
		handle:    uuid.New().String(),
		authority: authority,
		opts:      opts,
		clock:     opts.Clock,
		logger:    opts.Logger,
		events:    newDispatcher(),
		done:      make(chan struct{}),
		closed:    make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.machine = newMachine(paymentID, s.events.publish, s.clock.Now, s.logger)

	p := newPoller(paymentID, opts.Interval, s.clock, s.logger)
	p.fetch = func(ctx context.Context) (*platform.PaymentRecord, error) {
		return s.authority.GetPayment(ctx, s.paymentID)
	}
	p.onRecord = s.applyRecord
	p.onError = s.machine.reportError
	s.poller = p

	if opts.Listener != nil {
		s.events.subscribe(opts.Listener)
	}
	return s, nil
}

func (s *Session) start() {
	if s.opts.Snapshots != nil {
		rec, err := s.opts.Snapshots.Load(s.ctx, s.paymentID)
		if err != nil {
			s.logger.Warn("failed to load payment snapshot",
				zap.String("payment_id", s.paymentID),
				zap.Error(err))
		} else if rec != nil {
			s.machine.seed(*rec)
		}
	}

	activeSessions.Inc()
	s.logger.Info("reconciliation session started",
		zap.String("payment_id", s.paymentID),
		zap.String("handle", s.handle),
		zap.Duration("interval", s.opts.Interval))
	s.poller.start(s.ctx)
	context.AfterFunc(s.ctx, s.Dispose)
}

func (s *Session) applyRecord(rec platform.PaymentRecord) {
	prev, tr, ok := s.machine.apply(rec)
	if !ok {
		return
	}
	s.persist(prev, tr)
	if tr.Terminal {
		s.finish(tr)
	}
}

// persist writes the snapshot and, for the first record and every state change, a journal
// entry. Storage trouble never affects the session.
func (s *Session) persist(prev State, tr Transition) {
	first := s.applied.CompareAndSwap(false, true)
	if s.opts.Snapshots != nil {
		if err := s.opts.Snapshots.Save(s.ctx, tr.Record); err != nil {
			s.logger.Warn("failed to save payment snapshot",
				zap.String("payment_id", s.paymentID),
				zap.Error(err))
		}
	}
	if s.opts.Journal != nil && (first || prev != tr.State) {
		entry := JournalEntry{
			PaymentID: s.paymentID,
			Handle:    s.handle,
			From:      prev,
			To:        tr.State,
			Status:    tr.Raw,
			At:        s.clock.Now().UTC(),
		}
		if err := s.opts.Journal.Record(s.ctx, entry); err != nil {
			s.logger.Warn("failed to journal transition",
				zap.String("payment_id", s.paymentID),
				zap.Error(err))
		}
	}
}

func (s *Session) finish(tr Transition) {
	s.stopPolling()

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	if tr.State == StateCompleted && s.opts.OnComplete != nil {
		rec := tr.Record
		s.completion = s.clock.AfterFunc(s.opts.CompletionDelay, func() { s.complete(rec) })
	}
	close(s.done)
	s.mu.Unlock()

	s.logger.Info("payment reached terminal state",
		zap.String("payment_id", s.paymentID),
		zap.String("state", string(tr.State)))
	if s.opts.OnTerminal != nil {
		s.opts.OnTerminal(tr.State, tr.Record)
	}
}

func (s *Session) complete(rec platform.PaymentRecord) {
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return
	}
	s.opts.OnComplete(rec)
}

func (s *Session) stopPolling() {
	s.stopOnce.Do(func() {
		s.poller.stop()
		activeSessions.Dec()
	})
}

// Dispose stops polling, cancels in-flight requests and the pending completion hook, and
// drops any response that arrives afterwards. Safe to call more than once.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() {
		s.stopPolling()
		s.cancel()
		s.machine.dispose()

		s.mu.Lock()
		s.disposed = true
		if s.completion != nil {
			s.completion.Stop()
		}
		if !s.finished {
			s.finished = true
			close(s.done)
		}
		close(s.closed)
		s.mu.Unlock()

		s.events.close()
		if s.onDispose != nil {
			s.onDispose(s)
		}
		s.logger.Info("reconciliation session disposed",
			zap.String("payment_id", s.paymentID),
			zap.String("handle", s.handle))
	})
}

// Subscribe registers fn for every event, delivered in order on a separate goroutine.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.events.subscribe(fn)
}

// Watch subscribes fn and delivers the current snapshot to it first. Events published
// before the snapshot was taken are never delivered to fn, and none after it are missed.
func (s *Session) Watch(fn func(Event)) (unsubscribe func()) {
	s.machine.snapshotWith(func(snap Event) {
		var id uint64
		id, unsubscribe = s.events.add(fn)
		s.events.publishTo(id, snap)
	})
	return unsubscribe
}

// Done is closed once the payment is terminal or the session was disposed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Closed is closed once Dispose has run.
func (s *Session) Closed() <-chan struct{} { return s.closed }

func (s *Session) PaymentID() string { return s.paymentID }

// Handle identifies this poll loop; a replacement session for the same payment gets a new one.
func (s *Session) Handle() string { return s.handle }

func (s *Session) State() State { return s.machine.State() }

func (s *Session) AwaitingSubmission() bool { return s.machine.AwaitingSubmission() }

func (s *Session) Verifying() bool { return s.machine.Verifying() }

// Record is the last record the platform returned, or the cached snapshot before that.
func (s *Session) Record() *platform.PaymentRecord { return s.machine.Record() }

// Snapshot describes the session as a state event.
func (s *Session) Snapshot() Event { return s.machine.Snapshot() }

func (s *Session) Draft() Draft { return s.machine.Draft() }

// SetDraft stores in-progress input so a consumer can restore its form.
func (s *Session) SetDraft(d Draft) { s.machine.SetDraft(d) }

// Disposed reports whether Dispose was called.
func (s *Session) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *Session) isClosed() bool {
	return s.Disposed() || s.machine.State().Terminal()
}
