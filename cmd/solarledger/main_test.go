package main

import (
	"bytes"
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/solarledger/internal/derive"
	"codeberg.org/mutker/solarledger/internal/errors"
	"codeberg.org/mutker/solarledger/internal/ledger"
	"codeberg.org/mutker/solarledger/internal/logger"
	"codeberg.org/mutker/solarledger/internal/registry"
	"codeberg.org/mutker/solarledger/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	errFactory := errors.New()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", errFactory.New(errors.ErrRecordNotFound), exitNotFound},
		{"drift", errFactory.New(errors.ErrDriftDetected), exitDrift},
		{"integrity", errFactory.New(errors.ErrIntegrityViolation), exitIntegrity},
		{"other", errFactory.New(errors.ErrCommitFailed), exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func seedLedger(t *testing.T, payload string) string {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")
	store, err := ledger.NewSQLiteStore(context.Background(), ledger.Config{
		DBPath:    dbPath,
		BackupDir: filepath.Join(dir, "backups"),
	}, logger.Default())
	require.NoError(t, err)

	_, err = store.Register(context.Background(), ledger.Submission{
		Fingerprint:   derive.FingerprintBytes([]byte(payload)),
		Metric:        9,
		RawFieldValue: "3.0",
		Payload:       []byte(payload),
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	return dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("SOLARLEDGER_CONFIG", "")

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVerifyCommand(t *testing.T) {
	payload := `{"created_at":"2024-01-01T00:00:00Z","field1":"3.0"}`
	dbPath := seedLedger(t, payload)

	out, err := execute(t, "verify", "1", "--db", dbPath, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "integrity:   ok")
	assert.NotContains(t, out, "drift:")

	other := derive.FingerprintBytes([]byte(`{"field1":"3.1"}`))
	out, err = execute(t, "verify", "1", "--db", dbPath, "--log-level", "error", "--expected", other.String())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrDriftDetected))
	assert.Contains(t, out, "drift:       DRIFTED")
}

func TestVerifyCommandNotFound(t *testing.T) {
	dbPath := seedLedger(t, `{"field1":"3.0"}`)

	_, err := execute(t, "verify", "7", "--db", dbPath, "--log-level", "error")
	require.Error(t, err)
	assert.Equal(t, exitNotFound, exitCode(err))
}

func TestShowCommand(t *testing.T) {
	dbPath := seedLedger(t, `{"field1":"3.0"}`)

	out, err := execute(t, "show", "1", "--db", dbPath, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "1"`)
	assert.Contains(t, out, `"raw_field_value": "3.0"`)
	assert.Contains(t, out, `"field1": "3.0"`)
}

func TestLoopRegistersUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	source := telemetry.SourceFunc(func(_ context.Context, field string) (telemetry.Reading, error) {
		if calls.Add(1) >= 3 {
			cancel()
		}
		return telemetry.NewReading(field, telemetry.Payload{"field1": "3.0"})
	})

	deriver, err := derive.New(derive.DefaultConfig())
	require.NoError(t, err)
	store := ledger.NewMemoryStore()

	reg := registry.NewRegistrar(source, deriver, store, "field1")

	done := make(chan error, 1)
	go func() { done <- loop(ctx, reg, time.Millisecond) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}

	assert.GreaterOrEqual(t, store.Len(), 2)
}
