package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestToMinor(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1499", 149900},
		{"10.5", 1050},
		{"0.01", 1},
		{"19.999", 2000},
	}
	for _, tt := range tests {
		got, err := ToMinor(decimal.RequireFromString(tt.in))
		if err != nil {
			t.Fatalf("ToMinor(%s) unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ToMinor(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestToMinorRejectsNonPositive(t *testing.T) {
	for _, in := range []string{"0", "-5"} {
		if _, err := ToMinor(decimal.RequireFromString(in)); err == nil {
			t.Fatalf("expected %s to be rejected", in)
		}
	}
}

func TestFromMinorAndSum(t *testing.T) {
	if got := FromMinor(149900); !got.Equal(decimal.NewFromInt(1499)) {
		t.Fatalf("expected 1499, got %s", got)
	}
	total := Sum(decimal.NewFromInt(400), decimal.NewFromInt(600))
	if !total.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected 1000, got %s", total)
	}
}
