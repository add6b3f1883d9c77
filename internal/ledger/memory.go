package ledger

import (
	"context"
	"strconv"
	"sync"
	"time"

	"codeberg.org/mutker/solarledger/internal/derive"
	"codeberg.org/mutker/solarledger/internal/errors"
)

// MemoryStore is an in-process Client used for tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[RecordID]Record
	next    uint64
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[RecordID]Record),
		now:     time.Now,
	}
}

func (m *MemoryStore) Register(ctx context.Context, sub Submission) (RecordID, error) {
	if err := errors.FromContext(ctx); err != nil {
		return "", err
	}
	if err := validateSubmission(sub); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	id := RecordID(strconv.FormatUint(m.next, 10))
	m.records[id] = Record{
		ID:            id,
		Fingerprint:   sub.Fingerprint,
		Metric:        sub.Metric,
		RawFieldValue: sub.RawFieldValue,
		Payload:       append([]byte(nil), sub.Payload...),
		CommittedAt:   m.now().UTC(),
	}

	return id, nil
}

func (m *MemoryStore) Get(ctx context.Context, id RecordID) (Record, error) {
	if err := errors.FromContext(ctx); err != nil {
		return Record{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return Record{}, errors.New().WithData(ErrRecordNotFound, id)
	}
	rec.Payload = append([]byte(nil), rec.Payload...)

	return rec, nil
}

func (m *MemoryStore) Verify(ctx context.Context, id RecordID, fp derive.Fingerprint) (bool, error) {
	rec, err := m.Get(ctx, id)
	if err != nil {
		return false, err
	}

	return rec.Fingerprint == fp, nil
}

// Len returns the number of committed records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.records)
}
