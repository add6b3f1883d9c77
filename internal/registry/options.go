package registry

import (
	"context"
	"time"

	"codeberg.org/mutker/solarledger/internal/errors"
	"codeberg.org/mutker/solarledger/internal/logger"
	"codeberg.org/mutker/solarledger/internal/metrics"
)

// Option configures a Registrar or Verifier.
type Option func(*options)

type options struct {
	log     logger.Logger
	metrics metrics.Collector
}

func defaultOptions() options {
	return options{
		log: logger.Default(),
	}
}

// WithLogger replaces the package-level logger.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithMetrics reports every finished operation to c.
func WithMetrics(c metrics.Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

func (o *options) observe(ctx context.Context, event *metrics.Event, start time.Time, err error) {
	if o.metrics == nil {
		return
	}

	event.Timestamp = start
	event.Duration = time.Since(start)
	event.Outcome = metrics.OutcomeOK
	if err != nil {
		event.Outcome = string(outcomeCode(err))
	}

	// Record even when the operation's context is already done.
	if recErr := o.metrics.Record(context.WithoutCancel(ctx), event); recErr != nil {
		o.log.Warn().Err(recErr).Msg("Failed to record metrics")
	}
}

// outcomeCode picks the protocol-level code of err.
func outcomeCode(err error) errors.ErrorCode {
	for _, code := range []errors.ErrorCode{
		errors.ErrCanceled,
		errors.ErrTimeout,
		errors.ErrTelemetryUnavailable,
		errors.ErrInvalidReading,
		errors.ErrSerialization,
		errors.ErrCommitFailed,
		errors.ErrRecordNotFound,
	} {
		if errors.HasCode(err, code) {
			return code
		}
	}
	if code := errors.CodeOf(err); code != "" {
		return code
	}
	return errors.ErrInternal
}

// classify wraps a collaborator failure in code, unless the failure was
// caused by ctx being canceled or timing out.
func classify(ctx context.Context, code errors.ErrorCode, err error) error {
	if errors.HasCode(err, errors.ErrCanceled) || errors.HasCode(err, errors.ErrTimeout) {
		return err
	}
	if ctxErr := errors.FromContext(ctx); ctxErr != nil {
		return errors.New().Wrap(ctxErr.Code(), err)
	}
	if errors.HasCode(err, code) {
		return err
	}
	return errors.New().Wrap(code, err)
}
