package metrics

import "codeberg.org/mutker/solarledger/internal/errors"

const (
	defaultListen    = "127.0.0.1:9464"
	defaultNamespace = "solarledger"
)

type Config struct {
	Enabled   bool
	Listen    string
	Namespace string
}

func DefaultConfig() Config {
	return Config{
		Listen:    defaultListen,
		Namespace: defaultNamespace,
		Enabled:   false, // Disabled by default
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate the listener if metrics is enabled
	if c.Enabled && c.Listen == "" {
		return errFactory.New(ErrInvalidListen)
	}
	return nil
}
