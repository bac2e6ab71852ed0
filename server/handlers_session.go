package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/config"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/platform"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/reconcile"

	"go.uber.org/zap"
)

// eventView is the JSON shape of a session snapshot and of every streamed event.
type eventView struct {
	Type               string                  `json:"type"`
	PaymentID          string                  `json:"payment_id"`
	State              reconcile.State         `json:"state"`
	Action             reconcile.Action        `json:"action"`
	AwaitingSubmission bool                    `json:"awaiting_submission"`
	Verifying          bool                    `json:"verifying"`
	Payment            *platform.PaymentRecord `json:"payment,omitempty"`
	Error              *APIError               `json:"error,omitempty"`
	At                 time.Time               `json:"at"`
}

type sessionView struct {
	Handle string `json:"handle"`
	eventView
}

func viewOf(ev reconcile.Event) eventView {
	v := eventView{
		Type:               ev.Kind.String(),
		PaymentID:          ev.PaymentID,
		State:              ev.State,
		Action:             ev.Action,
		AwaitingSubmission: ev.AwaitingSubmission,
		Verifying:          ev.Verifying,
		Payment:            ev.Record,
		At:                 ev.At,
	}
	if ev.Err != nil {
		_, body := apiError(ev.Err)
		v.Error = &body
	}
	return v
}

func sessionViewOf(sess *reconcile.Session) sessionView {
	return sessionView{Handle: sess.Handle(), eventView: viewOf(sess.Snapshot())}
}

type createSessionRequest struct {
	PaymentID  string `json:"payment_id"`
	IntervalMS int    `json:"interval_ms,omitempty"`
}

// createSession implements POST /reconciler/sessions. The caller's token must be able to read
// the payment on the platform, and is then used for every platform call the session makes.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "token required", "TOKEN_REQUIRED")
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body", "INVALID_BODY")
		return
	}
	req.PaymentID = strings.TrimSpace(req.PaymentID)
	if req.PaymentID == "" {
		writeError(w, http.StatusBadRequest, "payment_id required", "INVALID_BODY")
		return
	}

	authority := s.client.WithTokens(platform.StaticToken(token))
	if _, err := authority.GetPayment(r.Context(), req.PaymentID); err != nil {
		s.logger.Info("session refused by platform",
			zap.String("payment_id", req.PaymentID),
			zap.Error(err))
		writeErr(w, err)
		return
	}

	var self atomic.Pointer[reconcile.Session]
	opts := reconcile.Options{
		Authority: authority,
		// Drop the session from memory once the completion redirect has fired.
		OnComplete: func(rec platform.PaymentRecord) {
			s.logger.Info("payment completed, releasing session", zap.String("payment_id", rec.PaymentID))
			s.release(self.Load())
		},
		OnTerminal: func(state reconcile.State, rec platform.PaymentRecord) {
			s.onTerminal(state, rec)
			if state == reconcile.StateCompleted {
				return
			}
			s.clock.AfterFunc(s.retainTerminal(), func() {
				s.logger.Info("releasing finished session",
					zap.String("payment_id", rec.PaymentID),
					zap.String("state", string(state)))
				s.release(self.Load())
			})
		},
	}
	if req.IntervalMS > 0 {
		opts.Interval = time.Duration(req.IntervalMS) * time.Millisecond
	}

	// The owner check, the registry swap and the owner record happen as one step.
	s.mu.Lock()
	if _, live := s.registry.Get(req.PaymentID); live && !s.ownedByLocked(req.PaymentID, token) {
		s.mu.Unlock()
		writeError(w, http.StatusForbidden, "session belongs to another token", "FORBIDDEN")
		return
	}
	sess, err := s.registry.CreateSession(s.baseCtx, req.PaymentID, opts)
	if err == nil {
		self.Store(sess)
		s.owners[sess.PaymentID()] = token
	}
	s.mu.Unlock()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionViewOf(sess))
}

// release disposes sess and forgets its owner unless a newer session took the payment over.
func (s *Server) release(sess *reconcile.Session) {
	if sess == nil {
		return
	}
	sess.Dispose()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, live := s.registry.Get(sess.PaymentID()); !live {
		delete(s.owners, sess.PaymentID())
	}
}

func (s *Server) retainTerminal() time.Duration {
	if s.cfg.RetainTerminal > 0 {
		return s.cfg.RetainTerminal
	}
	return config.DefaultRetainTerminal
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "token required", "TOKEN_REQUIRED")
		return
	}
	list := []sessionView{}
	for _, id := range s.registry.List() {
		if !s.ownedBy(id, token) {
			continue
		}
		if sess, ok := s.registry.Get(id); ok {
			list = append(list, sessionViewOf(sess))
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": list})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionViewOf(sess))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.session(w, r)
	if !ok {
		return
	}
	s.release(sess)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getDraft(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Draft())
}

// putDraft stores what the player has typed so far; nothing is sent to the platform.
func (s *Server) putDraft(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.session(w, r)
	if !ok {
		return
	}
	var d reconcile.Draft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body", "INVALID_BODY")
		return
	}
	sess.SetDraft(d)
	writeJSON(w, http.StatusOK, sess.Draft())
}

// getSteps proxies the platform's processing history for the payment.
func (s *Server) getSteps(w http.ResponseWriter, r *http.Request) {
	sess, token, ok := s.session(w, r)
	if !ok {
		return
	}
	steps, err := s.client.WithTokens(platform.StaticToken(token)).GetPaymentSteps(r.Context(), sess.PaymentID())
	if err != nil {
		s.logger.Warn("failed to load payment steps", zap.String("payment_id", sess.PaymentID()), zap.Error(err))
		writeErr(w, err)
		return
	}
	if steps == nil {
		steps = []platform.PaymentStep{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"steps": steps})
}

// getHistory returns the journaled state changes for the payment.
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.session(w, r)
	if !ok {
		return
	}
	if s.journal == nil {
		writeError(w, http.StatusNotImplemented, "journal not configured", "JOURNAL_DISABLED")
		return
	}
	entries, err := s.journal.ByPayment(r.Context(), sess.PaymentID())
	if err != nil {
		s.logger.Error("failed to read journal", zap.String("payment_id", sess.PaymentID()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read history", "JOURNAL_ERROR")
		return
	}
	if entries == nil {
		entries = []reconcile.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}
