package registry_test

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/solarledger/internal/derive"
	"codeberg.org/mutker/solarledger/internal/errors"
	"codeberg.org/mutker/solarledger/internal/ledger"
	"codeberg.org/mutker/solarledger/internal/metrics"
	"codeberg.org/mutker/solarledger/internal/registry"
	"codeberg.org/mutker/solarledger/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const field = "field1"

func payloadFor(value string) telemetry.Payload {
	return telemetry.Payload{
		"created_at": "2024-03-01T10:00:00Z",
		"entry_id":   "91",
		field:        value,
	}
}

func staticSource(value string) telemetry.Source {
	return telemetry.SourceFunc(func(_ context.Context, f string) (telemetry.Reading, error) {
		return telemetry.NewReading(f, payloadFor(value))
	})
}

func failingSource(err error) telemetry.Source {
	return telemetry.SourceFunc(func(context.Context, string) (telemetry.Reading, error) {
		return telemetry.Reading{}, err
	})
}

func unitDeriver(t *testing.T) *derive.Deriver {
	t.Helper()

	d, err := derive.New(derive.Config{Resistance: 1.0})
	require.NoError(t, err)
	return d
}

// rejectingLedger fails every Register call and counts them.
type rejectingLedger struct {
	*ledger.MemoryStore
	calls int
	err   error
}

func (l *rejectingLedger) Register(context.Context, ledger.Submission) (ledger.RecordID, error) {
	l.calls++
	return "", l.err
}

// countingLedger records submissions before delegating.
type countingLedger struct {
	*ledger.MemoryStore
	submissions []ledger.Submission
}

func (l *countingLedger) Register(ctx context.Context, sub ledger.Submission) (ledger.RecordID, error) {
	l.submissions = append(l.submissions, sub)
	return l.MemoryStore.Register(ctx, sub)
}

type recordingCollector struct {
	mu     sync.Mutex
	events []metrics.Event
}

func (c *recordingCollector) Record(_ context.Context, e *metrics.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, *e)
	return nil
}

func (*recordingCollector) Handler() http.Handler { return http.NotFoundHandler() }
func (*recordingCollector) Close() error          { return nil }

func TestRegisterAndVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := &countingLedger{MemoryStore: ledger.NewMemoryStore()}
	d := unitDeriver(t)

	id, err := registry.NewRegistrar(staticSource("3.0"), d, store, field).Register(ctx)
	require.NoError(t, err)
	require.Len(t, store.submissions, 1)
	assert.InDelta(t, 9.0, store.submissions[0].Metric, 1e-12)
	assert.Equal(t, "3.0", store.submissions[0].RawFieldValue)

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)

	payload, err := telemetry.ParsePayload(rec.Payload)
	require.NoError(t, err)
	recomputed, _, err := derive.FingerprintOf(payload)
	require.NoError(t, err)

	res, err := registry.NewVerifier(store, nil, nil, field).Verify(ctx, id, &recomputed)
	require.NoError(t, err)
	assert.Equal(t, id, res.RecordID)
	assert.True(t, res.Matched)
	assert.True(t, res.DriftChecked())
	assert.False(t, res.Drifted)
	assert.Equal(t, rec.Fingerprint, res.ExpectedFingerprint)
	assert.Equal(t, rec.Fingerprint, res.ActualFingerprint)
	assert.NoError(t, res.Err())
}

func TestVerifyDetectsDrift(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	d := unitDeriver(t)

	id, err := registry.NewRegistrar(staticSource("3.0"), d, store, field).Register(ctx)
	require.NoError(t, err)

	current, err := telemetry.NewReading(field, payloadFor("3.1"))
	require.NoError(t, err)
	derived, err := d.Derive(current)
	require.NoError(t, err)

	res, err := registry.NewVerifier(store, nil, nil, field).Verify(ctx, id, &derived.Fingerprint)
	require.NoError(t, err)
	assert.True(t, res.Matched, "stored record is intact")
	assert.True(t, res.Drifted)
	assert.True(t, errors.HasCode(res.Err(), errors.ErrDriftDetected))
}

func TestVerifyLive(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	d := unitDeriver(t)

	id, err := registry.NewRegistrar(staticSource("3.0"), d, store, field).Register(ctx)
	require.NoError(t, err)

	res, err := registry.NewVerifier(store, staticSource("3.0"), d, field).VerifyLive(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.False(t, res.Drifted)

	res, err = registry.NewVerifier(store, staticSource("3.1"), d, field).VerifyLive(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Drifted)

	_, err = registry.NewVerifier(store, failingSource(stderrors.New("down")), d, field).VerifyLive(ctx, id)
	assert.True(t, errors.HasCode(err, errors.ErrTelemetryUnavailable))

	_, err = registry.NewVerifier(store, nil, nil, field).VerifyLive(ctx, id)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
}

func TestVerifyNotFound(t *testing.T) {
	store := ledger.NewMemoryStore()

	res, err := registry.NewVerifier(store, nil, nil, field).Verify(context.Background(), "nonexistent-id", nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrRecordNotFound))
	assert.False(t, res.Matched)
}

func TestVerifyDetectsTamperedPayload(t *testing.T) {
	ctx := context.Background()
	inner := ledger.NewMemoryStore()

	payload := []byte(`{"field1":"3.0"}`)
	id, err := inner.Register(ctx, ledger.Submission{
		// Fingerprint of a different payload than the one stored.
		Fingerprint:   derive.FingerprintBytes([]byte(`{"field1":"2.0"}`)),
		Metric:        9,
		RawFieldValue: "3.0",
		Payload:       payload,
	})
	require.NoError(t, err)

	res, err := registry.NewVerifier(inner, nil, nil, field).Verify(ctx, id, nil)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.False(t, res.DriftChecked())
	assert.Equal(t, derive.FingerprintBytes(payload), res.ActualFingerprint)
	assert.True(t, errors.HasCode(res.Err(), errors.ErrIntegrityViolation))
}

func TestVerifyCorruptPayload(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()

	id, err := store.Register(ctx, ledger.Submission{
		Fingerprint:   derive.FingerprintBytes([]byte(`{"field1":"3.0"}`)),
		Metric:        9,
		RawFieldValue: "3.0",
		Payload:       []byte(`{"field1":"3.0"`),
	})
	require.NoError(t, err)

	res, err := registry.NewVerifier(store, nil, nil, field).Verify(ctx, id, nil)
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestRegisterTelemetryUnavailable(t *testing.T) {
	store := &countingLedger{MemoryStore: ledger.NewMemoryStore()}

	sources := map[string]telemetry.Source{
		"fetch error": failingSource(stderrors.New("connection refused")),
		"empty feed":  failingSource(errors.New().New(telemetry.ErrEmptyFeed)),
		"coded":       failingSource(errors.New().New(errors.ErrTelemetryUnavailable)),
	}

	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			_, err := registry.NewRegistrar(src, unitDeriver(t), store, field).Register(context.Background())
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrTelemetryUnavailable))
		})
	}
	assert.Empty(t, store.submissions)
}

func TestRegisterInvalidReadingNeverCommits(t *testing.T) {
	for _, value := range []string{"-5", "abc", "1e200"} {
		t.Run(value, func(t *testing.T) {
			store := &countingLedger{MemoryStore: ledger.NewMemoryStore()}

			_, err := registry.NewRegistrar(staticSource(value), unitDeriver(t), store, field).Register(context.Background())
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrInvalidReading))
			assert.Empty(t, store.submissions)
		})
	}
}

func TestRegisterUnserializablePayloadNeverCommits(t *testing.T) {
	source := telemetry.SourceFunc(func(_ context.Context, f string) (telemetry.Reading, error) {
		raw := payloadFor("3.0")
		raw["status"] = "ok\xff"
		return telemetry.NewReading(f, raw)
	})
	store := &countingLedger{MemoryStore: ledger.NewMemoryStore()}

	_, err := registry.NewRegistrar(source, unitDeriver(t), store, field).Register(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrSerialization))
	assert.Empty(t, store.submissions)
}

func TestRegisteredRecordVerifiesWithEscapedText(t *testing.T) {
	ctx := context.Background()
	source := telemetry.SourceFunc(func(_ context.Context, f string) (telemetry.Reading, error) {
		raw := payloadFor("3.0")
		raw["status"] = "ok \ufffd <tab>\t\u2028"
		return telemetry.NewReading(f, raw)
	})
	store := ledger.NewMemoryStore()

	id, err := registry.NewRegistrar(source, unitDeriver(t), store, field).Register(ctx)
	require.NoError(t, err)

	res, err := registry.NewVerifier(store, nil, nil, field).Verify(ctx, id, nil)
	require.NoError(t, err)
	assert.True(t, res.Matched)
}

func TestRegisterCommitFailedLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	cause := stderrors.New("insufficient funds for gas")
	store := &rejectingLedger{MemoryStore: ledger.NewMemoryStore(), err: cause}

	id, err := registry.NewRegistrar(staticSource("3.0"), unitDeriver(t), store, field).Register(ctx)
	require.Error(t, err)
	assert.Empty(t, id)
	assert.True(t, errors.HasCode(err, errors.ErrCommitFailed))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, store.calls, "commit is not retried")

	assert.Equal(t, 0, store.Len())
	_, err = store.Get(ctx, "1")
	assert.True(t, errors.HasCode(err, errors.ErrRecordNotFound))
}

func TestRegisterFetchesFreshReadingEachCall(t *testing.T) {
	ctx := context.Background()
	store := &countingLedger{MemoryStore: ledger.NewMemoryStore()}

	values := []string{"3.0", "4.0"}
	calls := 0
	src := telemetry.SourceFunc(func(_ context.Context, f string) (telemetry.Reading, error) {
		v := values[calls]
		calls++
		return telemetry.NewReading(f, payloadFor(v))
	})

	r := registry.NewRegistrar(src, unitDeriver(t), store, field)
	first, err := r.Register(ctx)
	require.NoError(t, err)
	second, err := r.Register(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.NotEqual(t, first, second)
	require.Len(t, store.submissions, 2)
	assert.NotEqual(t, store.submissions[0].Fingerprint, store.submissions[1].Fingerprint)
}

func TestRegisterCanceled(t *testing.T) {
	store := &countingLedger{MemoryStore: ledger.NewMemoryStore()}

	ctx, cancel := context.WithCancel(context.Background())
	src := telemetry.SourceFunc(func(_ context.Context, f string) (telemetry.Reading, error) {
		cancel()
		return telemetry.NewReading(f, payloadFor("3.0"))
	})

	_, err := registry.NewRegistrar(src, unitDeriver(t), store, field).Register(ctx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCanceled))
	assert.Empty(t, store.submissions)
}

func TestRegisterTimeoutIsDistinct(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	src := telemetry.SourceFunc(func(ctx context.Context, _ string) (telemetry.Reading, error) {
		return telemetry.Reading{}, ctx.Err()
	})

	_, err := registry.NewRegistrar(src, unitDeriver(t), ledger.NewMemoryStore(), field).Register(ctx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrTimeout))
	assert.False(t, errors.HasCode(err, errors.ErrTelemetryUnavailable))
}

func TestOperationsAreReportedToMetrics(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	collector := &recordingCollector{}

	id, err := registry.NewRegistrar(staticSource("3.0"), unitDeriver(t), store, field, registry.WithMetrics(collector)).Register(ctx)
	require.NoError(t, err)
	_, err = registry.NewRegistrar(staticSource("abc"), unitDeriver(t), store, field, registry.WithMetrics(collector)).Register(ctx)
	require.Error(t, err)
	_, err = registry.NewVerifier(store, nil, nil, field, registry.WithMetrics(collector)).Verify(ctx, id, nil)
	require.NoError(t, err)

	require.Len(t, collector.events, 3)
	assert.Equal(t, metrics.OpRegister, collector.events[0].Operation)
	assert.Equal(t, metrics.OutcomeOK, collector.events[0].Outcome)
	assert.InDelta(t, 9.0, collector.events[0].PowerRating, 1e-12)
	assert.Equal(t, string(errors.ErrInvalidReading), collector.events[1].Outcome)
	assert.Equal(t, metrics.OpVerify, collector.events[2].Operation)
	assert.True(t, collector.events[2].Integrity.Matched)
}
