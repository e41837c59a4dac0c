package tracker

import (
	"math/bits"

	"github.com/basis-protocol/tracker/errkind"
)

// addChecked adds b to sum, reporting errkind.AmountOverflow instead of
// silently wrapping past math.MaxUint64.
func addChecked(sum, b uint64) (uint64, error) {
	result, carry := bits.Add64(sum, b, 0)
	if carry != 0 {
		return 0, errkind.New(errkind.AmountOverflow, "amount overflow: %d + %d", sum, b)
	}
	return result, nil
}
