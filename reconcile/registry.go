package reconcile

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Registry keeps at most one live session per payment id.
type Registry struct {
	authority Authority
	defaults  Options

	createMu sync.Mutex
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns a registry whose sessions poll authority unless Options name another.
// defaults fills every Options field a CreateSession call leaves empty.
func NewRegistry(authority Authority, defaults Options) *Registry {
	return &Registry{
		authority: authority,
		defaults:  defaults,
		sessions:  make(map[string]*Session),
	}
}

// CreateSession starts polling paymentID. A live session for the same payment is disposed
// first, so two loops never poll the same payment.
func (r *Registry) CreateSession(ctx context.Context, paymentID string, opts Options) (*Session, error) {
	paymentID = strings.TrimSpace(paymentID)
	s, err := newSession(ctx, r.authority, paymentID, r.merge(opts))
	if err != nil {
		return nil, err
	}
	s.onDispose = r.forget

	r.createMu.Lock()
	defer r.createMu.Unlock()

	r.mu.Lock()
	prev := r.sessions[paymentID]
	r.sessions[paymentID] = s
	r.mu.Unlock()

	if prev != nil {
		s.logger.Info("replacing reconciliation session",
			zap.String("payment_id", paymentID),
			zap.String("previous_handle", prev.Handle()))
		prev.Dispose()
	}
	s.start()
	return s, nil
}

func (r *Registry) merge(o Options) Options {
	d := r.defaults
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.CompletionDelay <= 0 {
		o.CompletionDelay = d.CompletionDelay
	}
	if o.OnComplete == nil {
		o.OnComplete = d.OnComplete
	}
	if o.OnTerminal == nil {
		o.OnTerminal = d.OnTerminal
	}
	if o.Listener == nil {
		o.Listener = d.Listener
	}
	if o.Authority == nil {
		o.Authority = d.Authority
	}
	if o.Journal == nil {
		o.Journal = d.Journal
	}
	if o.Snapshots == nil {
		o.Snapshots = d.Snapshots
	}
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	return o
}

// forget drops s from the map unless a newer session already took its place.
func (r *Registry) forget(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.paymentID]; ok && cur == s {
		delete(r.sessions, s.paymentID)
	}
}

// Get returns the live session for paymentID.
func (r *Registry) Get(paymentID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[strings.TrimSpace(paymentID)]
	return s, ok
}

// Dispose disposes the session for paymentID and reports whether there was one.
func (r *Registry) Dispose(paymentID string) bool {
	s, ok := r.Get(paymentID)
	if !ok {
		return false
	}
	s.Dispose()
	return true
}

// List returns the payment ids with a live session, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close disposes every session.
func (r *Registry) Close() {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()
	for _, s := range all {
		s.Dispose()
	}
}
