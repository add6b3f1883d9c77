package metrics

import (
	"context"
	"net/http"
	"time"
)

// Collector records the outcome of protocol operations.
type Collector interface {
	Record(ctx context.Context, event *Event) error
	Handler() http.Handler
	Close() error
}

type Operation string

const (
	OpRegister Operation = "register"
	OpVerify   Operation = "verify"
)

// OutcomeOK is the outcome label of a successful operation. Failed
// operations are labelled with their error code.
const OutcomeOK = "ok"

// Event describes one finished register or verify call.
type Event struct {
	Timestamp time.Time
	Operation Operation
	Outcome   string
	Duration  time.Duration
	// PowerRating is set for successful registrations.
	PowerRating float64
	Integrity   IntegrityMetrics
}

type IntegrityMetrics struct {
	Checked  bool
	Matched  bool
	Drifted  bool
	External bool
}
