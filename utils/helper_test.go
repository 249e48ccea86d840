package utils

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestYearOf(t *testing.T) {
	// A local-time date near midnight on New Year's Eve must bucket into
	// the UTC year, or the same invoice number could collide across the
	// boundary depending on server timezone.
	yangon := time.FixedZone("MMT", int(6*time.Hour.Seconds()+30*time.Minute.Seconds()))
	late := time.Date(2026, 1, 1, 3, 0, 0, 0, yangon) // 2025-12-31 20:30 UTC
	if got := YearOf(late); got != 2025 {
		t.Errorf("YearOf = %d; want 2025", got)
	}
	if got := YearOf(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)); got != 2026 {
		t.Errorf("YearOf = %d; want 2026", got)
	}
}

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1,234.50", "1234.5"},
		{" 42 ", "42"},
		{"", "0"},
		{"-7.25", "-7.25"},
	}
	for _, tc := range cases {
		got, err := ParseDecimal(tc.in)
		if err != nil {
			t.Errorf("ParseDecimal(%q): %v", tc.in, err)
			continue
		}
		want, _ := decimal.NewFromString(tc.want)
		if got.Cmp(want) != 0 {
			t.Errorf("ParseDecimal(%q) = %s; want %s", tc.in, got, tc.want)
		}
	}
	if _, err := ParseDecimal("abc"); err == nil {
		t.Error("expected error for non-numeric input")
	}
}

func TestRoundMoney(t *testing.T) {
	in, _ := decimal.NewFromString("10.005")
	want, _ := decimal.NewFromString("10.01")
	if got := RoundMoney(in); got.Cmp(want) != 0 {
		t.Errorf("RoundMoney(10.005) = %s; want 10.01", got)
	}
}

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]int{3, 1, 3, 2, 1})
	want := []int{3, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("UniqueSlice = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("UniqueSlice = %v; want %v (order preserved)", got, want)
		}
	}
}

func TestMergeIntSlices(t *testing.T) {
	got := MergeIntSlices([]int{1, 2}, []int{2, 3})
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("MergeIntSlices = %v; want [1 2 3]", got)
	}
}

func TestIsValidEmail(t *testing.T) {
	valid := []string{"a@b.co", "user.name+tag@example.com"}
	for _, e := range valid {
		if !IsValidEmail(e) {
			t.Errorf("IsValidEmail(%q) = false; want true", e)
		}
	}
	invalid := []string{"", "plainaddress", "missing@tld", "@example.com"}
	for _, e := range invalid {
		if IsValidEmail(e) {
			t.Errorf("IsValidEmail(%q) = true; want false", e)
		}
	}
}
