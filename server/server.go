package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/config"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/operator"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/platform"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/reconcile"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// History is a journal the server can also read back.
type History interface {
	reconcile.Journal
	ByPayment(ctx context.Context, paymentID string) ([]reconcile.JournalEntry, error)
}

// Deps are the optional collaborators of a Server.
type Deps struct {
	Journal   History
	Snapshots reconcile.SnapshotStore
	Operator  *operator.Client
	Clock     clockwork.Clock
	Logger    *zap.Logger
}

type Server struct {
	cfg      *config.Config
	client   *platform.Client
	registry *reconcile.Registry
	operator *operator.Client
	journal  History
	clock    clockwork.Clock
	logger   *zap.Logger

	// Sessions outlive the request that created them.
	baseCtx context.Context

	mu     sync.Mutex
	owners map[string]string // payment id -> token that created the session
}

func New(ctx context.Context, cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	// Sessions use per-request tokens; the base client never authenticates on its own.
	client := platform.NewClient(cfg.PlatformURL, platform.StaticToken(""), logger)
	s := &Server{
		cfg:      cfg,
		client:   client,
		operator: deps.Operator,
		journal:  deps.Journal,
		clock:    clock,
		logger:   logger,
		baseCtx:  ctx,
		owners:   make(map[string]string),
	}
	defaults := reconcile.Options{
		Interval:        cfg.PollInterval,
		CompletionDelay: cfg.CompletionDelay,
		OnTerminal:      s.onTerminal,
		Clock:           clock,
		Logger:          logger,
		Snapshots:       deps.Snapshots,
	}
	if deps.Journal != nil {
		defaults.Journal = deps.Journal
	}
	s.registry = reconcile.NewRegistry(client, defaults)
	return s
}

// Handler returns the routed, logged and CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /reconciler/sessions", s.listSessions)
	mux.HandleFunc("POST /reconciler/sessions", s.createSession)
	mux.HandleFunc("GET /reconciler/sessions/{paymentId}", s.getSession)
	mux.HandleFunc("DELETE /reconciler/sessions/{paymentId}", s.deleteSession)
	mux.HandleFunc("POST /reconciler/sessions/{paymentId}/3ds", s.submitThreeDS)
	mux.HandleFunc("POST /reconciler/sessions/{paymentId}/new-card", s.submitNewCard)
	mux.HandleFunc("GET /reconciler/sessions/{paymentId}/draft", s.getDraft)
	mux.HandleFunc("PUT /reconciler/sessions/{paymentId}/draft", s.putDraft)
	mux.HandleFunc("GET /reconciler/sessions/{paymentId}/steps", s.getSteps)
	mux.HandleFunc("GET /reconciler/sessions/{paymentId}/history", s.getHistory)
	mux.HandleFunc("GET /reconciler/sessions/{paymentId}/events", s.streamEvents)

	return cors(s.requestLogger(mux))
}

// Run serves until ctx is cancelled, then drains connections and disposes every session.
func (s *Server) Run(ctx context.Context) error {
	port := s.cfg.Port
	if port <= 0 {
		port = 8082
	}
	httpSrv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("reconciler listening",
			zap.String("addr", httpSrv.Addr),
			zap.String("platform", s.cfg.PlatformURL))
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		s.registry.Close()
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := httpSrv.Shutdown(shutdownCtx)
	s.registry.Close()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

// Close disposes every session.
func (s *Server) Close() {
	s.registry.Close()
}

func cors(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// requestLogger logs method and path for each request (no body or secrets).
func (s *Server) requestLogger(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"service":  "payment-reconciler",
		"sessions": len(s.registry.List()),
	})
}

// onTerminal tells the operator backend how the payment ended.
func (s *Server) onTerminal(state reconcile.State, rec platform.PaymentRecord) {
	if s.operator == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(s.baseCtx, 15*time.Second)
		defer cancel()
		if _, err := s.operator.NotifyOutcome(ctx, string(state), rec); err != nil {
			s.logger.Warn("operator outcome notification failed",
				zap.String("payment_id", rec.PaymentID),
				zap.String("state", string(state)),
				zap.Error(err))
			return
		}
		s.logger.Info("operator notified of payment outcome",
			zap.String("payment_id", rec.PaymentID),
			zap.String("state", string(state)))
	}()
}

// bearerToken reads the player token from Authorization or ?token=.
func bearerToken(r *http.Request) string {
	token := r.Header.Get("Authorization")
	if token != "" && strings.HasPrefix(token, "Bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return token
}

func (s *Server) ownedBy(paymentID, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownedByLocked(paymentID, token)
}

func (s *Server) ownedByLocked(paymentID, token string) bool {
	owner, ok := s.owners[paymentID]
	return ok && subtle.ConstantTimeCompare([]byte(owner), []byte(token)) == 1
}

// session resolves {paymentId} and checks the caller's token. It writes the error response
// itself and returns false when the request cannot go on.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*reconcile.Session, string, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "token required", "TOKEN_REQUIRED")
		return nil, "", false
	}
	paymentID := strings.TrimSpace(r.PathValue("paymentId"))
	sess, ok := s.registry.Get(paymentID)
	if !ok {
		writeError(w, http.StatusNotFound, "no session for payment", "SESSION_NOT_FOUND")
		return nil, "", false
	}
	if !s.ownedBy(sess.PaymentID(), token) {
		writeError(w, http.StatusForbidden, "session belongs to another token", "FORBIDDEN")
		return nil, "", false
	}
	return sess, token, true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
