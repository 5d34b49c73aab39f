// Package serial models contiguous ranges of excise adhesive label (EAL)
// serial numbers under a three-letter prefix.
package serial

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"ealtrack/internal/apperr"
)

// Width is the canonical number of digits of a serial.
const Width = 10

// MaxNumber is the largest serial representable in Width digits.
const MaxNumber int64 = 9_999_999_999

var (
	prefixPattern    = regexp.MustCompile(`^[A-Z]{3}$`)
	numberPattern    = regexp.MustCompile(`^\d{10}$`)
	ealNumberPattern = regexp.MustCompile(`^(?:([A-Z]{3})-?)?(\d{10})$`)
)

// Number is a serial compared numerically and transmitted zero padded.
type Number int64

func (n Number) String() string {
	return fmt.Sprintf("%0*d", Width, int64(n))
}

func (n Number) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.String())
}

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		data = []byte(raw)
	}
	parsed, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid serial %q", string(data))
	}
	*n = Number(parsed)
	return nil
}

// Range is an inclusive interval of serials [From, To] under Prefix.
type Range struct {
	Prefix string `json:"prefix"`
	From   Number `json:"serialFrom"`
	To     Number `json:"serialTo"`
}

// Parse validates the textual form of a range the way operators enter it:
// a three-letter upper-case prefix and two 10-digit serials with from < to.
func Parse(prefix, from, to string) (Range, error) {
	prefix = strings.TrimSpace(prefix)
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)

	if !prefixPattern.MatchString(prefix) {
		return Range{}, apperr.Invalid("prefix", "Prefix must be 3 uppercase letters (A-Z)")
	}
	if !numberPattern.MatchString(from) {
		return Range{}, apperr.Invalid("serialFrom", "Serial From must be a 10-digit number")
	}
	if !numberPattern.MatchString(to) {
		return Range{}, apperr.Invalid("serialTo", "Serial To must be a 10-digit number")
	}

	fromN, _ := strconv.ParseInt(from, 10, 64)
	toN, _ := strconv.ParseInt(to, 10, 64)
	if fromN >= toN {
		return Range{}, apperr.Invalid("serialTo", "Serial To must be greater than Serial From")
	}
	return Range{Prefix: prefix, From: Number(fromN), To: Number(toN)}, nil
}

// ParseEALNumber splits a single label number. Accepted forms are
// "ABC0000000001", "ABC-0000000001" and a bare "0000000001" (empty prefix).
func ParseEALNumber(raw string) (string, Number, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	m := ealNumberPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", 0, apperr.Invalid("ealNumber", "EAL Number must be a 3-letter prefix followed by a 10-digit serial")
	}
	n, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return "", 0, apperr.Invalid("ealNumber", "invalid serial %q", m[2])
	}
	return m[1], Number(n), nil
}

// Format renders a label number as prefix + zero padded serial.
func Format(prefix string, n Number) string {
	return prefix + n.String()
}

func (r Range) Length() int64 {
	return int64(r.To) - int64(r.From) + 1
}

// Valid reports whether r is a well-formed non-empty interval.
func (r Range) Valid() bool {
	return prefixPattern.MatchString(r.Prefix) && r.From >= 0 && r.From <= r.To && int64(r.To) <= MaxNumber
}

func (r Range) Overlaps(o Range) bool {
	return r.Prefix == o.Prefix && r.From <= o.To && o.From <= r.To
}

func (r Range) Contains(o Range) bool {
	return r.Prefix == o.Prefix && r.From <= o.From && o.To <= r.To
}

func (r Range) ContainsSerial(prefix string, n Number) bool {
	return r.Prefix == prefix && r.From <= n && n <= r.To
}

func (r Range) Equal(o Range) bool {
	return r.Prefix == o.Prefix && r.From == o.From && r.To == o.To
}

// Intersect returns the common part of r and o, if any.
func (r Range) Intersect(o Range) (Range, bool) {
	if !r.Overlaps(o) {
		return Range{}, false
	}
	out := Range{Prefix: r.Prefix, From: max(r.From, o.From), To: min(r.To, o.To)}
	return out, true
}

// ToCaseCount converts the label count into whole cases.
func (r Range) ToCaseCount(bottlesPerCase int64) (int64, error) {
	if bottlesPerCase < 1 {
		return 0, apperr.Invalid("bottlesPerCase", "bottles per case must be positive")
	}
	if r.Length()%bottlesPerCase != 0 {
		return 0, apperr.Violation("divisibility", "Serial range not divisible by bottles per case.")
	}
	return r.Length() / bottlesPerCase, nil
}

// CaseAligned reports whether r starts right after and ends exactly on a case
// boundary, i.e. it covers whole cases numbered from serial 1.
func (r Range) CaseAligned(bottlesPerCase int64) bool {
	if bottlesPerCase < 1 {
		return false
	}
	return int64(r.To)%bottlesPerCase == 0 && (int64(r.From)-1)%bottlesPerCase == 0
}

func (r Range) String() string {
	return fmt.Sprintf("%s-%s", Format(r.Prefix, r.From), Format(r.Prefix, r.To))
}
