package guac

import (
	"errors"
	"math"
)

// ErrOverflow is returned by the checked arithmetic helpers below. Spec.md
// §5 requires all overflow-prone size math (stream buffer growth, pool
// sizing, rectangle dimensions) to use checked multiplication and halt the
// operation rather than wrap.
var ErrOverflow = errors.New("guac: integer overflow in size computation")

// CheckedMulInt multiplies two non-negative ints, returning ErrOverflow
// instead of silently wrapping.
func CheckedMulInt(a, b int) (int, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	result := a * b
	if result/a != b {
		return 0, ErrOverflow
	}
	if result < 0 {
		return 0, ErrOverflow
	}
	return result, nil
}

// CheckedAddInt adds two ints, returning ErrOverflow on wraparound.
func CheckedAddInt(a, b int) (int, error) {
	result := a + b
	if (b > 0 && result < a) || (b < 0 && result > a) {
		return 0, ErrOverflow
	}
	return result, nil
}

// NextPow2Cap doubles `size` until it is >= need, returning ErrOverflow if
// that would exceed hardCap or overflow an int. Used by the growable byte
// buffer in internal/imagestream.
func NextPow2Cap(size, need, hardCap int) (int, error) {
	if size <= 0 {
		size = 1
	}
	for size < need {
		next, err := CheckedMulInt(size, 2)
		if err != nil {
			return 0, err
		}
		size = next
		if size > hardCap {
			return 0, ErrOverflow
		}
	}
	if size > hardCap {
		return 0, ErrOverflow
	}
	return size, nil
}

// Base64Length computes the number of base64 characters (with padding)
// that encoding n raw bytes will produce: ceil(n/3)*4.
func Base64Length(n int) int {
	return int(math.Ceil(float64(n)/3)) * 4
}
