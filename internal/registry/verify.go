package registry

import (
	"context"
	"time"

	"codeberg.org/mutker/solarledger/internal/derive"
	"codeberg.org/mutker/solarledger/internal/errors"
	"codeberg.org/mutker/solarledger/internal/ledger"
	"codeberg.org/mutker/solarledger/internal/metrics"
	"codeberg.org/mutker/solarledger/internal/telemetry"
)

// Result reports the checks run against one record.
type Result struct {
	RecordID ledger.RecordID
	// Matched is true when the stored fingerprint equals the one recomputed
	// from the stored payload.
	Matched bool
	// ExpectedFingerprint is the fingerprint stored with the record.
	ExpectedFingerprint derive.Fingerprint
	// ActualFingerprint is recomputed from the stored payload.
	ActualFingerprint derive.Fingerprint
	// External is the caller-supplied fingerprint, if any.
	External *derive.Fingerprint
	// Drifted is true when External differs from the stored fingerprint.
	Drifted bool
}

// DriftChecked reports whether an external fingerprint was compared.
func (r Result) DriftChecked() bool {
	return r.External != nil
}

// Err turns a failed check into a coded error. Integrity failures take
// precedence over drift.
func (r Result) Err() error {
	errFactory := errors.New()

	if !r.Matched {
		return errFactory.WithData(errors.ErrIntegrityViolation, struct {
			RecordID string
			Stored   string
			Actual   string
		}{
			RecordID: r.RecordID.String(),
			Stored:   r.ExpectedFingerprint.String(),
			Actual:   r.ActualFingerprint.String(),
		})
	}
	if r.Drifted {
		return errFactory.WithData(errors.ErrDriftDetected, struct {
			RecordID string
			Stored   string
			External string
		}{
			RecordID: r.RecordID.String(),
			Stored:   r.ExpectedFingerprint.String(),
			External: r.External.String(),
		})
	}

	return nil
}

// Verifier checks committed records against their own payload and,
// optionally, against a fingerprint of the sensor's current state.
type Verifier struct {
	ledger  ledger.Client
	source  telemetry.Source
	deriver *derive.Deriver
	field   string
	options
}

// NewVerifier returns a Verifier. source and deriver are only needed by
// VerifyLive and may be nil otherwise.
func NewVerifier(client ledger.Client, source telemetry.Source, deriver *derive.Deriver, field string, opts ...Option) *Verifier {
	v := &Verifier{
		ledger:  client,
		source:  source,
		deriver: deriver,
		field:   field,
		options: defaultOptions(),
	}
	for _, opt := range opts {
		opt(&v.options)
	}

	return v
}

// Verify loads the record and recomputes its fingerprint from the stored
// payload. When external is non-nil it is also compared against the stored
// fingerprint to detect drift. A failed check is reported in the Result,
// not as an error; errors mean the record could not be checked at all.
func (v *Verifier) Verify(ctx context.Context, id ledger.RecordID, external *derive.Fingerprint) (Result, error) {
	start := time.Now()

	res, err := v.verify(ctx, id, external)

	v.observe(ctx, &metrics.Event{
		Operation: metrics.OpVerify,
		Integrity: metrics.IntegrityMetrics{
			Checked:  err == nil,
			Matched:  res.Matched,
			Drifted:  res.Drifted,
			External: res.DriftChecked(),
		},
	}, start, err)

	if err != nil {
		v.log.Warn().
			Str("record_id", id.String()).
			Str("error_code", string(outcomeCode(err))).
			Err(err).
			Msg("Verification failed")
		return Result{}, err
	}

	event := v.log.Info()
	if !res.Matched || res.Drifted {
		event = v.log.Warn()
	}
	event.
		Str("record_id", id.String()).
		Bool("matched", res.Matched).
		Bool("drift_checked", res.DriftChecked()).
		Bool("drifted", res.Drifted).
		Str("stored", res.ExpectedFingerprint.String()).
		Str("recomputed", res.ActualFingerprint.String()).
		Msg("Record verified")

	return res, nil
}

func (v *Verifier) verify(ctx context.Context, id ledger.RecordID, external *derive.Fingerprint) (Result, error) {
	rec, err := v.ledger.Get(ctx, id)
	if err != nil {
		if errors.HasCode(err, errors.ErrRecordNotFound) {
			return Result{}, err
		}
		return Result{}, classify(ctx, errors.ErrUnavailable, err)
	}

	res := Result{
		RecordID:            rec.ID,
		ExpectedFingerprint: rec.Fingerprint,
		ActualFingerprint:   recompute(rec.Payload),
	}
	if res.RecordID == "" {
		res.RecordID = id
	}
	res.Matched = res.ActualFingerprint == res.ExpectedFingerprint

	if external != nil {
		fp := *external
		res.External = &fp
		res.Drifted = fp != rec.Fingerprint
	}

	return res, nil
}

// VerifyLive fetches the sensor's current reading and verifies the record
// against its fingerprint.
func (v *Verifier) VerifyLive(ctx context.Context, id ledger.RecordID) (Result, error) {
	if v.source == nil || v.deriver == nil {
		return Result{}, errors.New().WithMessage(errors.ErrInvalidArgument, "live verification needs a telemetry source")
	}

	reading, err := v.source.Latest(ctx, v.field)
	if err != nil {
		return Result{}, classify(ctx, errors.ErrTelemetryUnavailable, err)
	}

	derived, err := v.deriver.Derive(reading)
	if err != nil {
		return Result{}, err
	}

	return v.Verify(ctx, id, &derived.Fingerprint)
}

// recompute re-canonicalizes a stored payload and hashes it. A payload that
// no longer parses is hashed as stored so the mismatch is still reported.
func recompute(stored []byte) derive.Fingerprint {
	payload, err := telemetry.ParsePayload(stored)
	if err != nil {
		return derive.FingerprintBytes(stored)
	}

	fp, _, err := derive.FingerprintOf(payload)
	if err != nil {
		return derive.FingerprintBytes(stored)
	}

	return fp
}
