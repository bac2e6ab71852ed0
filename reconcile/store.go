package reconcile

import (
	"context"
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/platform"
)

// JournalEntry is one state change of a payment as seen by a session.
type JournalEntry struct {
	PaymentID string    `json:"payment_id"`
	Handle    string    `json:"handle"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Status    string    `json:"status"` // raw platform status
	At        time.Time `json:"at"`
}

// Journal keeps an append-only history of state changes.
type Journal interface {
	Record(ctx context.Context, e JournalEntry) error
}

// SnapshotStore caches the last record seen for a payment. Load returns nil, nil on a miss.
type SnapshotStore interface {
	Save(ctx context.Context, rec platform.PaymentRecord) error
	Load(ctx context.Context, paymentID string) (*platform.PaymentRecord, error)
}

// Authority is the part of the platform API a session talks to. *platform.Client
// implements it.
type Authority interface {
	GetPayment(ctx context.Context, paymentID string) (*platform.PaymentRecord, error)
	SubmitThreeDSCode(ctx context.Context, paymentID, code string) error
	SubmitNewCard(ctx context.Context, paymentID string, card platform.NewCardRequest) error
}

var _ Authority = (*platform.Client)(nil)
