package reconcile

import (
	"sync"
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/platform"

	"go.uber.org/zap"
)

// Draft is the player's in-progress remediation input. The machine clears it when the
// platform asks for a fresh code and after a card was accepted.
type Draft struct {
	ThreeDSCode string     `json:"three_ds_code,omitempty"`
	Card        CardFields `json:"card"`
}

// Machine holds the reconciliation state of one payment. All mutations go through its
// mutex, so poll responses and submission results apply one at a time.
type Machine struct {
	mu        sync.Mutex
	paymentID string
	state     State
	record    *platform.PaymentRecord
	awaiting  bool
	verifying bool
	disposed  bool
	draft     Draft

	publish func(Event)
	now     func() time.Time
	logger  *zap.Logger
}

func newMachine(paymentID string, publish func(Event), now func() time.Time, logger *zap.Logger) *Machine {
	if publish == nil {
		publish = func(Event) {}
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		paymentID: paymentID,
		state:     StatePending,
		publish:   publish,
		now:       now,
		logger:    logger,
	}
}

// Apply feeds one fresh record from the platform into the machine. It returns the
// classification and whether the machine accepted it: records arriving after a terminal
// state or after dispose are dropped, and unknown statuses change nothing.
func (m *Machine) Apply(rec platform.PaymentRecord) (Transition, bool) {
	_, tr, ok := m.apply(rec)
	return tr, ok
}

// apply is Apply that also reports the state the machine left.
func (m *Machine) apply(rec platform.PaymentRecord) (State, Transition, bool) {
	tr := Classify(rec.Status, rec)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed || m.state.Terminal() {
		return m.state, tr, false
	}
	if tr.State == StateUnknown {
		m.logger.Warn("ignoring unknown payment status",
			zap.String("payment_id", m.paymentID),
			zap.String("status", rec.Status),
			zap.String("current_state", string(m.state)))
		m.publishLocked(EventError, &UnknownStatusError{Status: rec.Status})
		return m.state, tr, false
	}

	prev := m.state
	wasVerifying := m.verifying
	cp := rec
	m.state = tr.State
	m.record = &cp

	switch tr.State {
	case StateWaiting3DS, State3DSRejected:
		// A repeat of the same state while verifying means the platform wants another code.
		if prev != tr.State || wasVerifying {
			m.draft.ThreeDSCode = ""
		}
		m.awaiting = true
	case StateRequiresNewCard:
		// Card fields survive a repeat of this state; they are cleared only after a
		// successful submission.
		m.awaiting = true
	default:
		m.awaiting = false
	}
	m.verifying = false

	if prev != tr.State {
		m.logger.Info("payment state changed",
			zap.String("payment_id", m.paymentID),
			zap.String("from", string(prev)),
			zap.String("to", string(tr.State)))
	}
	transitionsTotal.WithLabelValues(string(tr.State)).Inc()
	m.publishLocked(EventState, nil)
	return prev, tr, true
}

// seed shows a cached record until the first poll answers. The state stays pending.
func (m *Machine) seed(rec platform.PaymentRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		cp := rec
		m.record = &cp
	}
}

// markVerifying records an accepted submission: the form closes and a spinner shows until
// the next poll. The current state is left to the platform.
func (m *Machine) markVerifying(clearCard bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed || m.state.Terminal() {
		return false
	}
	m.awaiting = false
	m.verifying = true
	m.draft.ThreeDSCode = ""
	if clearCard {
		m.draft.Card = CardFields{}
	}
	m.publishLocked(EventVerifying, nil)
	return true
}

// submissionFailed re-opens the form after a rejected or failed submission.
func (m *Machine) submissionFailed(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed || m.state.Terminal() {
		return
	}
	m.verifying = false
	m.awaiting = m.state.action() == ActionEnter3DSCode || m.state.action() == ActionEnterNewCard
	m.publishLocked(EventError, err)
}

// reportError publishes an advisory error without touching state.
func (m *Machine) reportError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.publishLocked(EventError, err)
}

// dispose freezes the machine; later Apply calls are dropped.
func (m *Machine) dispose() {
	m.mu.Lock()
	m.disposed = true
	m.mu.Unlock()
}

// publishLocked must be called with m.mu held so events leave in the order they happened.
func (m *Machine) publishLocked(kind EventKind, err error) {
	m.publish(Event{
		Kind:               kind,
		PaymentID:          m.paymentID,
		State:              m.state,
		Action:             m.state.action(),
		AwaitingSubmission: m.awaiting,
		Verifying:          m.verifying,
		Record:             m.recordLocked(),
		Err:                err,
		At:                 m.now(),
	})
}

func (m *Machine) recordLocked() *platform.PaymentRecord {
	if m.record == nil {
		return nil
	}
	cp := *m.record
	return &cp
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AwaitingSubmission reports whether a remediation form should be shown.
func (m *Machine) AwaitingSubmission() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.awaiting
}

// Verifying reports whether a submission was accepted and is waiting for confirmation.
func (m *Machine) Verifying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifying
}

// Record returns a copy of the last record applied, or nil before the first one.
func (m *Machine) Record() *platform.PaymentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordLocked()
}

func (m *Machine) Draft() Draft {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draft
}

// SetDraft replaces the in-progress input.
func (m *Machine) SetDraft(d Draft) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft = d
}

// Snapshot returns state, flags and record under a single lock.
func (m *Machine) Snapshot() Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// snapshotWith runs fn with the snapshot while no event can be published.
func (m *Machine) snapshotWith(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.snapshotLocked())
}

func (m *Machine) snapshotLocked() Event {
	return Event{
		Kind:               EventState,
		PaymentID:          m.paymentID,
		State:              m.state,
		Action:             m.state.action(),
		AwaitingSubmission: m.awaiting,
		Verifying:          m.verifying,
		Record:             m.recordLocked(),
		At:                 m.now(),
	}
}
