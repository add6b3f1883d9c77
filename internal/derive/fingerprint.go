package derive

import (
	"encoding/hex"
	"strings"

	"codeberg.org/mutker/solarledger/internal/errors"
	"codeberg.org/mutker/solarledger/internal/telemetry"
	"golang.org/x/crypto/sha3"
)

// FingerprintSize is the digest length in bytes.
const FingerprintSize = 32

// Fingerprint is the Keccak-256 digest of a canonical payload.
type Fingerprint [FingerprintSize]byte

// String renders the fingerprint as 0x-prefixed lowercase hex.
func (f Fingerprint) String() string {
	return "0x" + hex.EncodeToString(f[:])
}

func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// ParseFingerprint parses a hex fingerprint with or without the 0x prefix.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint

	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return f, errors.New().Wrap(errors.ErrInvalidArgument, err)
	}
	if len(b) != FingerprintSize {
		return f, errors.New().WithData(errors.ErrInvalidArgument, struct {
			Reason string
			Length int
		}{
			Reason: "fingerprint must be 32 bytes",
			Length: len(b),
		})
	}
	copy(f[:], b)

	return f, nil
}

// FingerprintBytes hashes already-canonical payload bytes.
func FingerprintBytes(canonical []byte) Fingerprint {
	var f Fingerprint
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(canonical)
	copy(f[:], hasher.Sum(nil))
	return f
}

// FingerprintOf canonicalizes payload and hashes the result.
func FingerprintOf(payload telemetry.Payload) (Fingerprint, []byte, error) {
	canonical, err := payload.Canonical()
	if err != nil {
		return Fingerprint{}, nil, err
	}

	return FingerprintBytes(canonical), canonical, nil
}
