// Package registry sequences the register and verify protocol over a
// telemetry source and a ledger.
package registry

import (
	"context"
	"time"

	"codeberg.org/mutker/solarledger/internal/derive"
	"codeberg.org/mutker/solarledger/internal/errors"
	"codeberg.org/mutker/solarledger/internal/ledger"
	"codeberg.org/mutker/solarledger/internal/metrics"
	"codeberg.org/mutker/solarledger/internal/telemetry"
	"github.com/google/uuid"
)

// Registrar fetches a reading, derives its metric and fingerprint and
// commits them to the ledger.
type Registrar struct {
	source  telemetry.Source
	deriver *derive.Deriver
	ledger  ledger.Client
	field   string
	options
}

func NewRegistrar(source telemetry.Source, deriver *derive.Deriver, client ledger.Client, field string, opts ...Option) *Registrar {
	r := &Registrar{
		source:  source,
		deriver: deriver,
		ledger:  client,
		field:   field,
		options: defaultOptions(),
	}
	for _, opt := range opts {
		opt(&r.options)
	}

	return r
}

// Register commits one record for the sensor's current reading and returns
// the ID the ledger assigned to it. Each call fetches a fresh reading and
// submits it exactly once; on error no record was committed by this call.
func (r *Registrar) Register(ctx context.Context) (ledger.RecordID, error) {
	start := time.Now()
	attempt := uuid.NewString()

	id, derived, err := r.register(ctx, attempt)

	event := &metrics.Event{Operation: metrics.OpRegister}
	if err == nil {
		event.PowerRating = derived.Metric
	}
	r.observe(ctx, event, start, err)

	if err != nil {
		r.log.Warn().
			Str("attempt", attempt).
			Str("error_code", string(outcomeCode(err))).
			Err(err).
			Msg("Registration failed")
		return "", err
	}

	r.log.Info().
		Str("attempt", attempt).
		Str("record_id", id.String()).
		Str("fingerprint", derived.Fingerprint.String()).
		Float64("power_rating", derived.Metric).
		Msg("Reading registered")

	return id, nil
}

func (r *Registrar) register(ctx context.Context, attempt string) (ledger.RecordID, derive.Derivation, error) {
	errFactory := errors.New()

	reading, err := r.source.Latest(ctx, r.field)
	if err != nil {
		return "", derive.Derivation{}, classify(ctx, errors.ErrTelemetryUnavailable, err)
	}

	r.log.Debug().
		Str("attempt", attempt).
		Str("field", reading.Field).
		Str("value", reading.FieldValue).
		Time("observed_at", reading.ObservedAt).
		Msg("Reading fetched")

	derived, err := r.deriver.Derive(reading)
	if err != nil {
		return "", derive.Derivation{}, err
	}

	// Nothing is submitted once the caller has given up.
	if ctxErr := errors.FromContext(ctx); ctxErr != nil {
		return "", derive.Derivation{}, ctxErr
	}

	id, err := r.ledger.Register(ctx, ledger.Submission{
		Fingerprint:   derived.Fingerprint,
		Metric:        derived.Metric,
		RawFieldValue: derived.RawFieldValue,
		Payload:       derived.CanonicalPayload,
	})
	if err != nil {
		return "", derive.Derivation{}, classify(ctx, errors.ErrCommitFailed, err)
	}
	if id == "" {
		return "", derive.Derivation{}, errFactory.WithMessage(errors.ErrCommitFailed, "ledger returned an empty record ID")
	}

	return id, derived, nil
}
