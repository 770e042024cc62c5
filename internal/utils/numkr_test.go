package utils

import "testing"

func TestParsePriceKRW(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"19,500원", 19500, true},
		{"₩21,000", 21000, true},
		{"21 000", 21000, true},
		{"25,000원 → 19,500원", 19500, true},
		{"  ", 0, false},
		{"품절", 0, false},
		{"-", 0, false},
		{"-500", 0, false},
		{"99,999,999,999,999,999,999원", 0, false},
	}
	for _, c := range cases {
		got, ok := ParsePriceKRW(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("ParsePriceKRW(%q) = %d,%v want %d,%v", c.in, got, ok, c.want, c.ok)
		}
	}
}
