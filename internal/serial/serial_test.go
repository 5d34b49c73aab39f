package serial

import (
	"encoding/json"
	"errors"
	"testing"

	"ealtrack/internal/apperr"
)

func TestParseValidatesPrefix(t *testing.T) {
	if _, err := Parse("ab1", "0000000001", "0000000012"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for prefix ab1, got %v", err)
	}
	r, err := Parse("ABC", "0000000001", "0000000012")
	if err != nil {
		t.Fatalf("expected ABC to be accepted: %v", err)
	}
	if r.Prefix != "ABC" || r.From != 1 || r.To != 12 {
		t.Fatalf("unexpected range %+v", r)
	}
}

func TestParseRejectsMalformedSerials(t *testing.T) {
	cases := []struct {
		name     string
		from, to string
		field    string
	}{
		{"short from", "123", "0000000012", "serialFrom"},
		{"letters in to", "0000000001", "00000000AB", "serialTo"},
		{"eleven digits", "00000000001", "0000000012", "serialFrom"},
		{"equal bounds", "0000000005", "0000000005", "serialTo"},
		{"reversed bounds", "0000000010", "0000000001", "serialTo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse("ABC", tc.from, tc.to)
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, ve.Field)
			}
		})
	}
}

func TestRangeLengthOverlapAndContainment(t *testing.T) {
	a := Range{Prefix: "ABC", From: 1, To: 24}
	b := Range{Prefix: "ABC", From: 13, To: 36}
	c := Range{Prefix: "XYZ", From: 1, To: 24}
	inner := Range{Prefix: "ABC", From: 13, To: 24}

	if a.Length() != 24 {
		t.Fatalf("expected length 24, got %d", a.Length())
	}
	if !a.Overlaps(b) || !b.Overlaps(a) {
		t.Fatalf("expected a and b to overlap")
	}
	if a.Overlaps(c) {
		t.Fatalf("ranges with different prefixes must never overlap")
	}
	if !a.Contains(inner) || a.Contains(b) {
		t.Fatalf("unexpected containment result")
	}
	if a.Overlaps(Range{Prefix: "ABC", From: 25, To: 48}) {
		t.Fatalf("adjacent ranges must not overlap")
	}

	got, ok := a.Intersect(b)
	if !ok || !got.Equal(inner) {
		t.Fatalf("expected intersection %v, got %v (%v)", inner, got, ok)
	}
}

func TestToCaseCountDivisibility(t *testing.T) {
	n, err := Range{Prefix: "ABC", From: 1, To: 12}.ToCaseCount(12)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 case, got %d (%v)", n, err)
	}

	_, err = Range{Prefix: "ABC", From: 1, To: 10}.ToCaseCount(12)
	if !errors.Is(err, apperr.ErrInvariant) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if apperr.RuleOf(err) != "divisibility" {
		t.Fatalf("expected divisibility rule, got %q", apperr.RuleOf(err))
	}
}

func TestCaseAligned(t *testing.T) {
	cases := []struct {
		from, to Number
		want     bool
	}{
		{1, 12, true},
		{13, 36, true},
		{2, 13, false},
		{1, 11, false},
		{0, 11, false},
	}
	for _, tc := range cases {
		r := Range{Prefix: "ABC", From: tc.from, To: tc.to}
		if got := r.CaseAligned(12); got != tc.want {
			t.Fatalf("CaseAligned(%v) = %v, want %v", r, got, tc.want)
		}
	}
}

func TestParseEALNumberForms(t *testing.T) {
	for _, raw := range []string{"ABC0000000007", "abc-0000000007", " ABC-0000000007 "} {
		prefix, n, err := ParseEALNumber(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if prefix != "ABC" || n != 7 {
			t.Fatalf("parse %q: got %s %d", raw, prefix, n)
		}
	}

	prefix, n, err := ParseEALNumber("0000000007")
	if err != nil || prefix != "" || n != 7 {
		t.Fatalf("bare serial: got %q %d %v", prefix, n, err)
	}

	if _, _, err := ParseEALNumber("AB0000000007"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNumberJSONIsZeroPadded(t *testing.T) {
	raw, err := json.Marshal(Range{Prefix: "ABC", From: 1, To: 12})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"prefix":"ABC","serialFrom":"0000000001","serialTo":"0000000012"}`
	if string(raw) != want {
		t.Fatalf("got %s, want %s", raw, want)
	}

	var n Number
	if err := json.Unmarshal([]byte(`42`), &n); err != nil || n != 42 {
		t.Fatalf("numeric form: %d %v", n, err)
	}
	if Format("ABC", 1) != "ABC0000000001" {
		t.Fatalf("unexpected format %s", Format("ABC", 1))
	}
}
