package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"codeberg.org/mutker/solarledger/internal/errors"
	"github.com/gowebpki/jcs"
)

const createdAtKey = "created_at"

// Payload is a provider feed entry held as a key-value structure. Numbers
// decoded from provider JSON are kept as json.Number; Canonical rewrites them
// in ES6 form, so 1.50 and 1.5 serialize alike.
type Payload map[string]any

// ParsePayload decodes a JSON object into a Payload.
func ParsePayload(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, errors.New().Wrap(ErrSerialization, err)
	}
	if p == nil {
		return nil, errors.New().WithMessage(ErrSerialization, "payload is not a JSON object")
	}
	if dec.More() {
		return nil, errors.New().WithMessage(ErrSerialization, "trailing data after payload object")
	}

	return p, nil
}

// Canonical serializes the payload in the JSON Canonicalization Scheme
// (RFC 8785): sorted keys, no insignificant whitespace and ES6 number form.
// Equal payloads always produce equal bytes regardless of key order.
// Strings must be valid UTF-8.
func (p Payload) Canonical() ([]byte, error) {
	errFactory := errors.New()

	if err := checkText(map[string]any(p)); err != nil {
		return nil, errFactory.Wrap(ErrSerialization, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(p)); err != nil {
		return nil, errFactory.Wrap(ErrSerialization, err)
	}

	canonical, err := jcs.Transform(bytes.TrimSpace(buf.Bytes()))
	if err != nil {
		return nil, errFactory.Wrap(ErrSerialization, err)
	}

	return canonical, nil
}

// Field returns the scalar value stored under name as text.
func (p Payload) Field(name string) (string, bool) {
	switch v := p[name].(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}

// NewReading builds a Reading for field out of a feed entry.
func NewReading(field string, raw Payload) (Reading, error) {
	errFactory := errors.New()

	value, ok := raw.Field(field)
	if !ok {
		return Reading{}, errFactory.WithData(ErrMalformedFeed, struct {
			Field  string
			Reason string
		}{
			Field:  field,
			Reason: "missing or non-scalar field",
		})
	}

	var observedAt time.Time
	if ts, ok := raw[createdAtKey].(string); ok {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return Reading{}, errFactory.Wrap(ErrMalformedFeed, err)
		}
		observedAt = t.UTC()
	}

	return Reading{
		Field:      field,
		FieldValue: value,
		ObservedAt: observedAt,
		Raw:        raw,
	}, nil
}

// checkText rejects keys and string values that are not valid UTF-8.
func checkText(v any) error {
	switch val := v.(type) {
	case string:
		if !utf8.ValidString(val) {
			return fmt.Errorf("invalid UTF-8 in string %q", val)
		}
	case Payload:
		return checkText(map[string]any(val))
	case map[string]any:
		for k, item := range val {
			if !utf8.ValidString(k) {
				return fmt.Errorf("invalid UTF-8 in key %q", k)
			}
			if err := checkText(item); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range val {
			if err := checkText(item); err != nil {
				return err
			}
		}
	}

	return nil
}
