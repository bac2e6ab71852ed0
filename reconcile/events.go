package reconcile

import (
	"sync"
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/platform"
)

// EventKind tags an Event.
type EventKind int

const (
	// EventState is sent for every status applied to the machine.
	EventState EventKind = iota
	// EventVerifying is sent after a submission was accepted and the session waits for the
	// next poll to confirm it.
	EventVerifying
	// EventError carries a NetworkError, ValidationError, RejectedError or UnknownStatusError.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventVerifying:
		return "verifying"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is what subscribers receive. State, Action and the flags always describe the session
// at the moment the event was produced.
type Event struct {
	Kind               EventKind
	PaymentID          string
	State              State
	Action             Action
	AwaitingSubmission bool
	Verifying          bool
	Record             *platform.PaymentRecord
	Err                error
	At                 time.Time

	seq uint64 // publish order
	to  uint64 // listener id for a snapshot sent to one listener; zero means everyone
}

type listener struct {
	id    uint64
	after uint64 // events with seq <= after were published before the listener joined
	fn    func(Event)
}

// dispatcher delivers events to listeners in publish order on its own goroutine, so a
// listener may call back into the session without deadlocking.
type dispatcher struct {
	mu        sync.Mutex
	queue     []Event
	listeners []listener
	nextID    uint64
	seq       uint64
	closed    bool
	wake      chan struct{}
	finished  chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake:     make(chan struct{}, 1),
		finished: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) subscribe(fn func(Event)) func() {
	_, unsubscribe := d.add(fn)
	return unsubscribe
}

// add registers fn for events published from now on.
func (d *dispatcher) add(fn func(Event)) (uint64, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.listeners = append(d.listeners, listener{id: id, after: d.seq, fn: fn})
	return id, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, l := range d.listeners {
			if l.id == id {
				d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
				return
			}
		}
	}
}

// publish queues ev. Events published after close are dropped.
func (d *dispatcher) publish(ev Event) {
	d.publishTo(0, ev)
}

// publishTo queues ev for listener id only, or for everyone when id is zero.
func (d *dispatcher) publishTo(id uint64, ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.seq++
	ev.seq = d.seq
	ev.to = id
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
	d.signal()
}

// close stops accepting events; already queued events are still delivered.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.finished)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 {
			if d.closed {
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			<-d.wake
			d.mu.Lock()
		}
		batch := d.queue
		d.queue = nil
		ls := make([]listener, len(d.listeners))
		copy(ls, d.listeners)
		d.mu.Unlock()
		for _, ev := range batch {
			for _, l := range ls {
				if ev.seq <= l.after || (ev.to != 0 && ev.to != l.id) {
					continue
				}
				l.fn(ev)
			}
		}
	}
}
