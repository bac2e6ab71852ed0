// Package snapshot caches the last payment record each session saw, so a restarted consumer
// can show something before its first poll answers.
package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/platform"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/reconcile"
)

var (
	_ reconcile.SnapshotStore = (*FileStore)(nil)
	_ reconcile.SnapshotStore = (*RedisCache)(nil)
)

// FileStore keeps snapshots in memory and persists them to data/payment_snapshots.json.
type FileStore struct {
	mu      sync.Mutex
	records map[string]platform.PaymentRecord
	dataDir string
}

func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		dataDir = "data"
	}
	s := &FileStore{
		records: make(map[string]platform.PaymentRecord),
		dataDir: dataDir,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) path() string {
	return filepath.Join(s.dataDir, "payment_snapshots.json")
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var list []platform.PaymentRecord
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	for _, r := range list {
		if r.PaymentID != "" {
			s.records[r.PaymentID] = r
		}
	}
	return nil
}

// save must be called with s.mu held.
func (s *FileStore) save() error {
	list := make([]platform.PaymentRecord, 0, len(s.records))
	for _, r := range s.records {
		list = append(list, r)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(s.path(), data, 0644)
}

func (s *FileStore) Save(_ context.Context, rec platform.PaymentRecord) error {
	if rec.PaymentID == "" {
		return ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.PaymentID] = rec
	return s.save()
}

func (s *FileStore) Load(_ context.Context, paymentID string) (*platform.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[paymentID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Delete forgets paymentID.
func (s *FileStore) Delete(_ context.Context, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[paymentID]; !ok {
		return nil
	}
	delete(s.records, paymentID)
	return s.save()
}
