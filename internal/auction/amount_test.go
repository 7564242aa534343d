package auction

import (
	"math/big"
	"testing"

	xerrors "BidToEarn-Agent/internal/errors"
)

func TestParseETH(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"1", "1000000000000000000"},
		{"1.5", "1500000000000000000"},
		{"0.1", "100000000000000000"},
		{"0.000000000000000001", "1"},
		{"12.345678901234567891", ""},
		{"", ""},
		{"-1", ""},
		{"1.2.3", ""},
		{"abc", ""},
	}
	for _, tc := range cases {
		got, err := ParseETH(tc.in)
		if tc.want == "" {
			if xerrors.CodeOf(err) != xerrors.CodeInvalidAmount {
				t.Errorf("ParseETH(%q): expected CodeInvalidAmount, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseETH(%q): %v", tc.in, err)
			continue
		}
		if got.String() != tc.want {
			t.Errorf("ParseETH(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestFormatWeiRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1.5", "0.1", "2", "0.000000000000000001"} {
		wei, err := ParseETH(s)
		if err != nil {
			t.Fatalf("ParseETH(%q): %v", s, err)
		}
		if got := FormatWei(wei); got != s {
			t.Errorf("FormatWei(ParseETH(%q)) = %q", s, got)
		}
	}
}

func TestFormatWeiLargeValue(t *testing.T) {
	wei, _ := new(big.Int).SetString("1000000000000000000000", 10)
	if got := FormatWei(wei); got != "1000" {
		t.Errorf("FormatWei(1000 ETH) = %q", got)
	}
}
