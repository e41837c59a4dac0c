package scanner

import (
	"encoding/hex"

	"github.com/basis-protocol/tracker/errkind"
)

// Ergo auto-serializes register values with a leading Sigma type
// descriptor byte. groupElementTag marks a compressed EC point (R4, the
// reserve owner's public key); collByteTag marks a length-prefixed byte
// collection (R6, the tracker-NFT id).
const (
	groupElementTag byte = 0x07
	collByteTag     byte = 0x0e
)

// parseOwnerPk decodes R4: either a bare 33-byte compressed point, or one
// prefixed with the 0x07 GroupElement sigma tag, which is normalised away.
func parseOwnerPk(hexVal string) ([33]byte, error) {
	var out [33]byte
	raw, err := hex.DecodeString(hexVal)
	if err != nil {
		return out, errkind.New(errkind.InvalidHex, "R4 is not valid hex: %v", err)
	}

	if len(raw) == 34 && raw[0] == groupElementTag {
		raw = raw[1:]
	}
	if len(raw) != 33 {
		return out, errkind.New(errkind.InvalidLength,
			"R4 must decode to 33 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// parseTrackerNftID decodes R6: a Coll[Byte] register holding the 32-byte
// tracker-NFT id. Length must be exactly 32 after stripping the type tag
// and VLQ-encoded length byte, or the box is rejected.
func parseTrackerNftID(hexVal string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(hexVal)
	if err != nil {
		return out, errkind.New(errkind.InvalidHex, "R6 is not valid hex: %v", err)
	}

	if len(raw) >= 2 && raw[0] == collByteTag {
		length := int(raw[1])
		if length == 32 && len(raw) == 34 {
			copy(out[:], raw[2:])
			return out, nil
		}
	}

	if len(raw) == 32 {
		copy(out[:], raw)
		return out, nil
	}

	return out, errkind.New(errkind.InvalidLength,
		"R6 must decode to a 32-byte tracker-NFT id")
}
