package conv

import (
	"errors"
	"fmt"
	"math"
)

// ErrOverflow is wrapped by every conversion error in this package.
var ErrOverflow = errors.New("integer overflow")

// IntToInt32 converts int to int32 safely.
func IntToInt32(v int) (int32, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d cannot be converted to int32", ErrOverflow, v)
	}
	return int32(v), nil
}

// Uint64ToInt converts uint64 to int safely.
func Uint64ToInt(v uint64) (int, error) {
	if v > uint64(math.MaxInt) {
		return 0, fmt.Errorf("%w: %d cannot be converted to int (too large)", ErrOverflow, v)
	}
	return int(v), nil
}
