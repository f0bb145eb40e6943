package metaads

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Number is a metric value as returned by the ads API. The API sends most
// numbers as JSON strings; Number accepts strings, bare numbers and null, and
// never fails to decode so that one malformed field cannot drop a record.
type Number string

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "" || s == "null":
		*n = ""
	case s[0] == '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			*n = Number(s)
			return nil
		}
		*n = Number(strings.TrimSpace(str))
	default:
		*n = Number(s)
	}
	return nil
}

// Present reports whether the field carried any value.
func (n Number) Present() bool { return n != "" }

// Decimal parses the value. ok is false when the value is absent or not numeric.
func (n Number) Decimal() (decimal.Decimal, bool) {
	if n == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

var (
	minInt64 = decimal.NewFromInt(math.MinInt64)
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
)

// Int parses the value as a whole number, truncating any fraction. ok is false
// when the value is absent, not numeric or outside the int64 range.
func (n Number) Int() (int64, bool) {
	d, ok := n.Decimal()
	if !ok {
		return 0, false
	}
	d = d.Truncate(0)
	if d.LessThan(minInt64) || d.GreaterThan(maxInt64) {
		return 0, false
	}
	return d.IntPart(), true
}
