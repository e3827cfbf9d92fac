package store

import (
	"fmt"
	"strconv"
	"strings"
)

const EmployeeIDWidth = 3

// NextEmployeeID computes the identifier following greatest, the highest
// existing identifier carrying prefix. When greatest is empty numbering
// starts at 1. When its suffix does not parse, count+1 is used and the
// returned bool is true.
func NextEmployeeID(prefix, greatest string, count int) (string, bool) {
	if greatest == "" {
		return FormatEmployeeID(prefix, 1), false
	}
	if !strings.HasPrefix(greatest, prefix) {
		return FormatEmployeeID(prefix, count+1), true
	}
	value, err := strconv.Atoi(strings.TrimPrefix(greatest, prefix))
	if err != nil || value < 0 {
		return FormatEmployeeID(prefix, count+1), true
	}
	return FormatEmployeeID(prefix, value+1), false
}

// IsEmployeeIDOf reports whether id is prefix followed only by decimal
// digits. ALLYX001 does not belong to ALLY.
func IsEmployeeIDOf(prefix, id string) bool {
	suffix, ok := strings.CutPrefix(id, prefix)
	if !ok || suffix == "" {
		return false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FreeEmployeeID advances candidate until taken reports it unused. Identifiers
// of another prefix can collide with ours, e.g. ALLY1 + 001 and ALLY + 1001.
func FreeEmployeeID(prefix, candidate string, taken func(string) (bool, error)) (string, error) {
	for {
		used, err := taken(candidate)
		if err != nil || !used {
			return candidate, err
		}
		value, err := strconv.Atoi(strings.TrimPrefix(candidate, prefix))
		if err != nil {
			return "", fmt.Errorf("%w: employee id %q", ErrInvalidIdentifier, candidate)
		}
		candidate = FormatEmployeeID(prefix, value+1)
	}
}

func FormatEmployeeID(prefix string, number int) string {
	return fmt.Sprintf("%s%0*d", prefix, EmployeeIDWidth, number)
}

// EmployeeIDLess orders identifiers of one prefix by length, then bytes, so
// ALLY1000 sorts after ALLY999.
func EmployeeIDLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
