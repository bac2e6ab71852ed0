// Package journal keeps the history of payment state changes seen by reconciliation
// sessions, either in a JSON file or in Postgres.
package journal

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/reconcile"
)

var (
	_ reconcile.Journal = (*FileJournal)(nil)
	_ reconcile.Journal = (*PostgresJournal)(nil)
)

// FileJournal appends entries to data/transitions.json.
type FileJournal struct {
	mu      sync.Mutex
	dataDir string
}

func NewFileJournal(dataDir string) *FileJournal {
	if dataDir == "" {
		dataDir = "data"
	}
	return &FileJournal{dataDir: dataDir}
}

func (j *FileJournal) path() string {
	return filepath.Join(j.dataDir, "transitions.json")
}

func (j *FileJournal) read() ([]reconcile.JournalEntry, error) {
	data, err := os.ReadFile(j.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []reconcile.JournalEntry
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Record appends e to the file.
func (j *FileJournal) Record(_ context.Context, e reconcile.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.MkdirAll(j.dataDir, 0755); err != nil {
		return err
	}
	list, err := j.read()
	if err != nil {
		return err
	}
	list = append(list, e)
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	tmp := j.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, j.path())
}

// ByPayment returns the entries for paymentID, oldest first.
func (j *FileJournal) ByPayment(_ context.Context, paymentID string) ([]reconcile.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	list, err := j.read()
	if err != nil {
		return nil, err
	}
	var out []reconcile.JournalEntry
	for _, e := range list {
		if e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	return out, nil
}
