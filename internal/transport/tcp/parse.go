package tcp

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidFormat marks a request line that is not a list of numbers.
var ErrInvalidFormat = errors.New("invalid input format")

// ParseLine parses whitespace-separated float32 values. A trailing carriage
// return is tolerated. NaN and infinities are rejected.
func ParseLine(line string) ([]float32, error) {
	fields := strings.Fields(line)
	values := make([]float32, 0, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: token %d %q", ErrInvalidFormat, i, f)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: token %d %q is not finite", ErrInvalidFormat, i, f)
		}
		values = append(values, float32(v))
	}
	return values, nil
}
