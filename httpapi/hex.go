package httpapi

import (
	"encoding/hex"

	"github.com/basis-protocol/tracker/errkind"
)

const (
	pubKeyHexLen = 66
	sigHexLen    = 130
)

// isLowerHex reports whether s contains only lowercase hex digits; the API
// requires lowercase hex on the wire.
func isLowerHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}

func decodeHexExact(field, s string, wantLen int) ([]byte, error) {
	if len(s) != wantLen || !isLowerHex(s) {
		return nil, errkind.New(errkind.InvalidHex,
			"%s must be %d lowercase hex characters", field, wantLen)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, errkind.New(errkind.InvalidHex, "%s is not valid hex: %v", field, err)
	}
	return raw, nil
}

// parsePubKeyHex decodes a 66-char lowercase-hex compressed public key.
func parsePubKeyHex(field, s string) ([]byte, error) {
	return decodeHexExact(field, s, pubKeyHexLen)
}

// parseSignatureHex decodes a 130-char lowercase-hex 65-byte signature.
func parseSignatureHex(field, s string) ([65]byte, error) {
	var out [65]byte
	raw, err := decodeHexExact(field, s, sigHexLen)
	if err != nil {
		return out, err
	}
	copy(out[:], raw)
	return out, nil
}
