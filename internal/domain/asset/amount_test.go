package asset

import "testing"

func TestStringFormatsEightDigits(t *testing.T) {
	cases := []struct {
		in   Amount
		want string
	}{
		{0, "0.00000000"},
		{1, "0.00000001"},
		{100_000_000, "1.00000000"},
		{150_000_000, "1.50000000"},
		{-25_000_000, "-0.25000000"},
	}
	for _, c := range cases {
		if got := c.in.String(); got != c.want {
			t.Fatalf("String(%d) = %s, want %s", int64(c.in), got, c.want)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []string{"0.00000000", "1.00000000", "12.34567800", "0.00000001"} {
		a, err := Parse(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if a.String() != s {
			t.Fatalf("round trip %q -> %q", s, a.String())
		}
	}
}

func TestParseRejectsTooManyDigits(t *testing.T) {
	if _, err := Parse("1.123456789"); err == nil {
		t.Fatal("expected error for 9 fractional digits")
	}
}

func TestFromFloatRounds(t *testing.T) {
	if got := FromFloat(0.1 + 0.2); got != 30_000_000 {
		t.Fatalf("FromFloat(0.3) = %d", int64(got))
	}
}

func TestMulHours(t *testing.T) {
	rate := FromFloat(0.5)
	if got := rate.MulHours(2); got.String() != "1.00000000" {
		t.Fatalf("0.5/h for 2h = %s", got.String())
	}
}
