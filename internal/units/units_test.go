package units

import (
	"math"
	"testing"
)

func TestParseAliases(t *testing.T) {
	cases := map[string]Unit{
		"Years": Years,
		"yr":    Years,
		"d":     Days,
		" min ": Minutes,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %s, got %s", in, want, got)
		}
	}
	if _, err := Parse("fortnight"); err == nil {
		t.Fatalf("expected error for unknown unit")
	}
}

func TestConvert(t *testing.T) {
	v, err := Convert(1, Years, Months)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(v-12) > 1e-9 {
		t.Fatalf("expected 12 months, got %v", v)
	}

	v, err = Convert(48, Hours, Days)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(v-2) > 1e-9 {
		t.Fatalf("expected 2 days, got %v", v)
	}

	if _, err := Convert(1, Unit("eons"), Days); err == nil {
		t.Fatalf("expected error for unknown unit")
	}
}

func TestQuantityIn(t *testing.T) {
	q, err := Quantity{Value: 2, Unit: Weeks}.In(Days)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Unit != Days || math.Abs(q.Value-14) > 1e-9 {
		t.Fatalf("expected 14 days, got %+v", q)
	}
}
