// Package derive turns a raw telemetry reading into the values committed to
// the ledger: a power rating computed from the reading's voltage and a
// fingerprint of the provider payload.
package derive

import (
	"math"
	"strconv"
	"strings"

	"codeberg.org/mutker/solarledger/internal/errors"
	"codeberg.org/mutker/solarledger/internal/telemetry"
)

// DefaultResistance is the load constant R in P = V²/R.
const DefaultResistance = 1000.0

type Config struct {
	Resistance float64
	// MaxVoltage rejects readings above it. Zero disables the ceiling.
	MaxVoltage float64
}

func DefaultConfig() Config {
	return Config{
		Resistance: DefaultResistance,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if math.IsNaN(c.Resistance) || math.IsInf(c.Resistance, 0) || c.Resistance <= 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			Field string
			Value float64
		}{
			Field: "resistance",
			Value: c.Resistance,
		})
	}
	if math.IsNaN(c.MaxVoltage) || math.IsInf(c.MaxVoltage, 0) || c.MaxVoltage < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			Field string
			Value float64
		}{
			Field: "max_voltage",
			Value: c.MaxVoltage,
		})
	}

	return nil
}

// Derivation is everything a registration commits for one reading.
type Derivation struct {
	Metric           float64
	RawFieldValue    string
	Voltage          float64
	Fingerprint      Fingerprint
	CanonicalPayload []byte
}

type Deriver struct {
	cfg Config
}

func New(cfg Config) (*Deriver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Deriver{cfg: cfg}, nil
}

// Derive computes the power rating and payload fingerprint of r. It has no
// side effects and returns the same result for the same reading.
func (d *Deriver) Derive(r telemetry.Reading) (Derivation, error) {
	voltage, err := d.Voltage(r.FieldValue)
	if err != nil {
		return Derivation{}, err
	}

	metric := d.PowerRating(voltage)
	if math.IsNaN(metric) || math.IsInf(metric, 0) {
		return Derivation{}, errors.New().WithData(ErrInvalidReading, struct {
			Reason string
			Value  string
		}{
			Reason: "metric out of range",
			Value:  r.FieldValue,
		})
	}

	fp, canonical, err := FingerprintOf(r.Raw)
	if err != nil {
		return Derivation{}, err
	}

	return Derivation{
		Metric:           metric,
		RawFieldValue:    r.FieldValue,
		Voltage:          voltage,
		Fingerprint:      fp,
		CanonicalPayload: canonical,
	}, nil
}

// Voltage parses a field value into a finite, non-negative voltage within
// the configured ceiling.
func (d *Deriver) Voltage(value string) (float64, error) {
	errFactory := errors.New()

	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, errFactory.Wrap(ErrInvalidReading, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errFactory.WithData(ErrInvalidReading, struct {
			Reason string
			Value  string
		}{
			Reason: "not finite",
			Value:  value,
		})
	}
	if v < 0 {
		return 0, errFactory.WithData(ErrInvalidReading, struct {
			Reason string
			Value  string
		}{
			Reason: "negative voltage",
			Value:  value,
		})
	}
	if d.cfg.MaxVoltage > 0 && v > d.cfg.MaxVoltage {
		return 0, errFactory.WithData(ErrInvalidReading, struct {
			Reason string
			Value  string
			Max    float64
		}{
			Reason: "voltage above ceiling",
			Value:  value,
			Max:    d.cfg.MaxVoltage,
		})
	}

	return v, nil
}

// PowerRating returns V²/R.
func (d *Deriver) PowerRating(voltage float64) float64 {
	return voltage * voltage / d.cfg.Resistance
}
