package ledger

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"codeberg.org/mutker/solarledger/internal/derive"
	"codeberg.org/mutker/solarledger/internal/errors"
	"codeberg.org/mutker/solarledger/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a durable Client backed by a local sqlite database.
// Records are append-only; the schema rejects UPDATE and DELETE.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
	mu     sync.Mutex
	now    func() time.Time
}

func NewSQLiteStore(ctx context.Context, cfg Config, log logger.Logger) (*SQLiteStore, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(ctx, db, cfg.BackupDir, log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Ledger store initialized")

	return newSQLiteStore(db, log), nil
}

func newSQLiteStore(db *sql.DB, log logger.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		logger: log,
		now:    time.Now,
	}
}

func (s *SQLiteStore) Register(ctx context.Context, sub Submission) (RecordID, error) {
	if err := validateSubmission(sub); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", s.storageError(ctx, ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				s.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
		}
	}()

	res, err := tx.ExecContext(ctx, insertRecordSQL,
		sub.Fingerprint.String(),
		sub.Metric,
		sub.RawFieldValue,
		sub.Payload,
		s.now().UTC().UnixNano(),
	)
	if err != nil {
		return "", s.storageError(ctx, ErrStorageAccess, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return "", s.storageError(ctx, ErrStorageAccess, err)
	}

	if err := tx.Commit(); err != nil {
		return "", s.storageError(ctx, ErrTransactionFailed, err)
	}
	committed = true

	recordID := RecordID(strconv.FormatInt(id, 10))
	s.logger.Debug().
		Str("record_id", recordID.String()).
		Str("fingerprint", sub.Fingerprint.String()).
		Msg("Record committed")

	return recordID, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id RecordID) (Record, error) {
	errFactory := errors.New()

	rowID, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil || rowID <= 0 {
		return Record{}, errFactory.WithData(ErrRecordNotFound, id)
	}

	var (
		rec         Record
		storedID    int64
		fingerprint string
		committedAt int64
	)
	err = s.db.QueryRowContext(ctx, selectRecordSQL, rowID).Scan(
		&storedID,
		&fingerprint,
		&rec.Metric,
		&rec.RawFieldValue,
		&rec.Payload,
		&committedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, errFactory.WithData(ErrRecordNotFound, id)
	}
	if err != nil {
		return Record{}, s.storageError(ctx, ErrStorageAccess, err)
	}

	fp, err := derive.ParseFingerprint(fingerprint)
	if err != nil {
		return Record{}, errFactory.Wrap(ErrCorruptRecord, err)
	}

	rec.ID = RecordID(strconv.FormatInt(storedID, 10))
	rec.Fingerprint = fp
	rec.CommittedAt = time.Unix(0, committedAt).UTC()

	return rec, nil
}

func (s *SQLiteStore) Verify(ctx context.Context, id RecordID, fp derive.Fingerprint) (bool, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}

	return rec.Fingerprint == fp, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to checkpoint WAL")
	}

	if err := s.db.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}

	s.logger.Info().Msg("Ledger store closed")

	return nil
}

// storageError reports cancellation of ctx in preference to the driver error
// it caused.
func (s *SQLiteStore) storageError(ctx context.Context, code errors.ErrorCode, err error) error {
	if ctxErr := errors.FromContext(ctx); ctxErr != nil {
		return ctxErr
	}
	return errors.New().Wrap(code, err)
}
