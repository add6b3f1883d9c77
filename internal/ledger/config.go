package ledger

import (
	"math"

	"codeberg.org/mutker/solarledger/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm   = 0o755
	defaultDBPath    = "/var/lib/solarledger/ledger.db"
	defaultBackupDir = "/var/lib/solarledger/backups"
)

type Config struct {
	DBPath    string
	BackupDir string
}

func DefaultConfig() Config {
	return Config{
		DBPath:    defaultDBPath,
		BackupDir: defaultBackupDir,
	}
}

func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New().New(ErrInvalidDBPath)
	}
	return nil
}

// validateSubmission applies the checks every adapter enforces before
// committing.
func validateSubmission(sub Submission) error {
	errFactory := errors.New()

	switch {
	case sub.Fingerprint.IsZero():
		return errFactory.WithMessage(ErrRejected, "submission has no fingerprint")
	case len(sub.Payload) == 0:
		return errFactory.WithMessage(ErrRejected, "submission has no payload")
	case math.IsNaN(sub.Metric) || math.IsInf(sub.Metric, 0) || sub.Metric < 0:
		return errFactory.WithData(ErrRejected, struct {
			Reason string
			Metric float64
		}{
			Reason: "metric out of range",
			Metric: sub.Metric,
		})
	}

	return nil
}
