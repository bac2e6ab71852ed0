package journal

import (
	"context"
	"os"
	"testing"
	"time"

	payrec "github.com/Ashenafi-pixel/gamecrafter-payment-reconciler"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/reconcile"

	"github.com/google/uuid"
)

func entry(paymentID string, from, to reconcile.State) reconcile.JournalEntry {
	return reconcile.JournalEntry{
		PaymentID: paymentID,
		Handle:    "h-1",
		From:      from,
		To:        to,
		Status:    string(to),
		At:        time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}
}

func TestFileJournal_RecordAndByPayment(t *testing.T) {
	ctx := context.Background()
	j := NewFileJournal(t.TempDir())

	got, err := j.ByPayment(ctx, "p-1")
	if err != nil || len(got) != 0 {
		t.Fatalf("empty journal: %v, %v", got, err)
	}
	for _, e := range []reconcile.JournalEntry{
		entry("p-1", reconcile.StatePending, reconcile.StateWaiting3DS),
		entry("p-2", reconcile.StatePending, reconcile.StateFailed),
		entry("p-1", reconcile.StateWaiting3DS, reconcile.StateCompleted),
	} {
		if err := j.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	got, err = j.ByPayment(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].To != reconcile.StateWaiting3DS || got[1].To != reconcile.StateCompleted {
		t.Fatalf("entries = %+v", got)
	}
}

func TestFileJournal_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := NewFileJournal(dir).Record(ctx, entry("p-1", reconcile.StatePending, reconcile.StateCompleted)); err != nil {
		t.Fatal(err)
	}
	got, err := NewFileJournal(dir).ByPayment(ctx, "p-1")
	if err != nil || len(got) != 1 {
		t.Fatalf("after reopen: %v, %v", got, err)
	}
	if !got[0].At.Equal(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", got[0].At)
	}
}

func TestPostgresJournal(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := payrec.GetDB()
	if err != nil {
		t.Fatal(err)
	}
	j := NewPostgresJournal(db)
	if err := j.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	id := "test-" + uuid.NewString()
	if err := j.Record(ctx, entry(id, reconcile.StatePending, reconcile.StateCardChecking)); err != nil {
		t.Fatal(err)
	}
	if err := j.Record(ctx, entry(id, reconcile.StateCardChecking, reconcile.StateCompleted)); err != nil {
		t.Fatal(err)
	}
	got, err := j.ByPayment(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].From != reconcile.StateCardChecking || got[1].To != reconcile.StateCompleted {
		t.Fatalf("entries = %+v", got)
	}
	_, _ = db.ExecContext(ctx, `DELETE FROM payment_transitions WHERE payment_id = $1`, id)
}
