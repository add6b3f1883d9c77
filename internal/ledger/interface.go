package ledger

import (
	"context"
	"time"

	"codeberg.org/mutker/solarledger/internal/derive"
)

// RecordID is the ledger-assigned handle of a committed record.
type RecordID string

func (id RecordID) String() string {
	return string(id)
}

// Client is the ledger as seen by the register/verify protocol: an
// append-only store of immutable records keyed by ledger-assigned IDs.
type Client interface {
	// Register commits one record and returns its ID. Nothing is stored
	// when it returns an error.
	Register(ctx context.Context, sub Submission) (RecordID, error)

	// Get returns the record stored under id.
	Get(ctx context.Context, id RecordID) (Record, error)

	// Verify reports whether the record's stored fingerprint equals fp.
	Verify(ctx context.Context, id RecordID, fp derive.Fingerprint) (bool, error)
}

// Submission carries the values a registration commits.
type Submission struct {
	Fingerprint   derive.Fingerprint
	Metric        float64
	RawFieldValue string
	Payload       []byte
}

// Record is an immutable committed unit.
type Record struct {
	ID            RecordID
	Fingerprint   derive.Fingerprint
	Metric        float64
	RawFieldValue string
	Payload       []byte
	CommittedAt   time.Time
}
