package telemetry

import (
	"strings"
	"time"

	"codeberg.org/mutker/solarledger/internal/errors"
)

const (
	defaultBaseURL = "https://api.thingspeak.com"
	defaultField   = "field1"
	defaultTimeout = 10 * time.Second
)

type Config struct {
	BaseURL   string
	ChannelID string
	Field     string
	APIKey    string
	Timeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL: defaultBaseURL,
		Field:   defaultField,
		Timeout: defaultTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.BaseURL == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "telemetry base URL is required")
	}
	if c.ChannelID == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "telemetry channel ID is required")
	}
	if _, err := fieldNumber(c.Field); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			Field string
			Value time.Duration
		}{
			Field: "timeout",
			Value: c.Timeout,
		})
	}

	return nil
}

// fieldNumber turns a feed field name such as "field1" into its channel
// field number ("1").
func fieldNumber(field string) (string, error) {
	n := strings.TrimPrefix(field, "field")
	if n == "" || n == field || strings.Trim(n, "0123456789") != "" {
		return "", errors.New().WithData(ErrInvalidConfig, struct {
			Field string
			Value string
		}{
			Field: "field",
			Value: field,
		})
	}

	return n, nil
}
