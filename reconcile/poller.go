package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/platform"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// poller fetches the payment on every tick and hands the record to onRecord. At most one
// fetch is outstanding; a tick that finds one in flight is skipped, not queued.
type poller struct {
	paymentID string
	interval  time.Duration
	clock     clockwork.Clock
	fetch     func(ctx context.Context) (*platform.PaymentRecord, error)
	onRecord  func(platform.PaymentRecord)
	onError   func(error)
	logger    *zap.Logger

	mu      sync.Mutex
	ticker  clockwork.Ticker
	stopped bool
	stopCh  chan struct{}

	inFlight atomic.Bool
	skipped  atomic.Int64
	fetches  atomic.Int64
}

func newPoller(paymentID string, interval time.Duration, clock clockwork.Clock, logger *zap.Logger) *poller {
	return &poller{
		paymentID: paymentID,
		interval:  interval,
		clock:     clock,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// start arms the ticker and fires the first fetch immediately.
func (p *poller) start(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.ticker = p.clock.NewTicker(p.interval)
	ticks := p.ticker.Chan()
	p.mu.Unlock()

	p.tick(ctx)
	go p.loop(ctx, ticks)
}

func (p *poller) loop(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			p.stop()
			return
		case <-p.stopCh:
			return
		case <-ticks:
			p.tick(ctx)
		}
	}
}

func (p *poller) tick(ctx context.Context) {
	if p.isStopped() || ctx.Err() != nil {
		return
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		pollTicksSkipped.Inc()
		p.logger.Debug("poll tick skipped, fetch still in flight", zap.String("payment_id", p.paymentID))
		return
	}
	p.fetches.Add(1)
	go p.fetchOnce(ctx)
}

func (p *poller) fetchOnce(ctx context.Context) {
	defer p.inFlight.Store(false)
	started := time.Now()
	rec, err := p.fetch(ctx)
	pollDuration.Observe(time.Since(started).Seconds())
	// The session may have been disposed or finished while the request was out.
	if ctx.Err() != nil || p.isStopped() {
		pollsTotal.WithLabelValues("dropped").Inc()
		return
	}
	if err == nil && rec == nil {
		err = errors.New("empty payment record")
	}
	if err != nil {
		pollsTotal.WithLabelValues("error").Inc()
		p.logger.Warn("failed to load payment",
			zap.String("payment_id", p.paymentID),
			zap.Error(err))
		p.onError(&NetworkError{Op: "poll", Err: err})
		return
	}
	pollsTotal.WithLabelValues("ok").Inc()
	p.onRecord(*rec)
}

// stop releases the ticker. Safe to call more than once and from any goroutine.
func (p *poller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	if p.ticker != nil {
		p.ticker.Stop()
	}
	close(p.stopCh)
}

func (p *poller) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *poller) busy() bool {
	return p.inFlight.Load()
}
