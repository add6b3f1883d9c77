package ledger

import (
	"context"
	stderrors "errors"
	"regexp"
	"testing"
	"time"

	"codeberg.org/mutker/solarledger/internal/derive"
	"codeberg.org/mutker/solarledger/internal/errors"
	"codeberg.org/mutker/solarledger/internal/logger"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteRegisterRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newSQLiteStore(db, logger.Default())
	payload := []byte(`{"field1":"3.0"}`)
	fp := derive.FingerprintBytes(payload)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO records")).
		WithArgs(fp.String(), 9.0, "3.0", payload, sqlmock.AnyArg()).
		WillReturnError(stderrors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = store.Register(context.Background(), Submission{
		Fingerprint:   fp,
		Metric:        9,
		RawFieldValue: "3.0",
		Payload:       payload,
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrStorageAccess))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRegisterCommitFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newSQLiteStore(db, logger.Default())
	store.now = func() time.Time { return time.Unix(1700000000, 0) }
	payload := []byte(`{"field1":"3.0"}`)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO records")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), time.Unix(1700000000, 0).UnixNano()).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit().WillReturnError(stderrors.New("database is locked"))

	_, err = store.Register(context.Background(), Submission{
		Fingerprint:   derive.FingerprintBytes(payload),
		Metric:        9,
		RawFieldValue: "3.0",
		Payload:       payload,
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrTransactionFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteGetCorruptFingerprint(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newSQLiteStore(db, logger.Default())

	rows := sqlmock.NewRows([]string{"id", "fingerprint", "metric", "raw_value", "payload", "committed_at"}).
		AddRow(int64(3), "0xnothex", 9.0, "3.0", []byte(`{}`), int64(0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, fingerprint")).WithArgs(int64(3)).WillReturnRows(rows)

	_, err = store.Get(context.Background(), "3")
	assert.True(t, errors.HasCode(err, ErrCorruptRecord))
	assert.NoError(t, mock.ExpectationsWereMet())
}
