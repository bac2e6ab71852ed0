package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/reconcile"
)

const schema = `CREATE TABLE IF NOT EXISTS payment_transitions (
	id          BIGSERIAL PRIMARY KEY,
	payment_id  TEXT        NOT NULL,
	handle      TEXT        NOT NULL,
	from_state  TEXT        NOT NULL,
	to_state    TEXT        NOT NULL,
	raw_status  TEXT        NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS payment_transitions_payment_id_idx ON payment_transitions (payment_id, id)`

// PostgresJournal stores entries in the payment_transitions table.
type PostgresJournal struct {
	db *sql.DB
}

// NewPostgresJournal wraps db, which is expected to come from payrec.GetDB or payrec.OpenDB.
func NewPostgresJournal(db *sql.DB) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// EnsureSchema creates the table and index when missing.
func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create payment_transitions: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Record(ctx context.Context, e reconcile.JournalEntry) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO payment_transitions (payment_id, handle, from_state, to_state, raw_status, observed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.PaymentID, e.Handle, string(e.From), string(e.To), e.Status, e.At)
	if err != nil {
		return fmt.Errorf("insert transition for %s: %w", e.PaymentID, err)
	}
	return nil
}

// ByPayment returns the entries for paymentID, oldest first.
func (j *PostgresJournal) ByPayment(ctx context.Context, paymentID string) ([]reconcile.JournalEntry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT payment_id, handle, from_state, to_state, raw_status, observed_at
		 FROM payment_transitions WHERE payment_id = $1 ORDER BY id`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reconcile.JournalEntry
	for rows.Next() {
		var e reconcile.JournalEntry
		var from, to string
		if err := rows.Scan(&e.PaymentID, &e.Handle, &from, &to, &e.Status, &e.At); err != nil {
			return nil, err
		}
		e.From = reconcile.State(from)
		e.To = reconcile.State(to)
		out = append(out, e)
	}
	return out, rows.Err()
}
