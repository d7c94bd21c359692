package utils

import (
	"math"
	"strconv"
)

// ParseID parses a positive database identifier from a path parameter.
func ParseID(s string) (uint, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 || n > math.MaxUint32 {
		return 0, false
	}
	return uint(n), true
}

// IsUnitInterval reports whether v is a finite number in [0,1].
func IsUnitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
