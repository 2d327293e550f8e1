package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func equalDecimal(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s = %s, want %s", name, got, want)
	}
}

func TestParseDecimalAcceptsCommaAndPeriod(t *testing.T) {
	cases := map[string]string{
		"150":        "150",
		"33,3":       "33.3",
		"33.3":       "33.3",
		" 1 234,50 ": "1234.50",
		"1.234,50":   "1234.50",
		"1,234.50":   "1234.50",
		"1,234,567":  "1234567",
		"12,5 %":     "12.5",
		"99 kr":      "99",
		"\u22124,5":  "-4.5",
		"1 234,5":    "1234.5",
	}
	for raw, want := range cases {
		got, err := ParseDecimal(raw)
		if err != nil {
			t.Fatalf("ParseDecimal(%q) error: %v", raw, err)
		}
		equalDecimal(t, raw, got, want)
	}
}

func TestParseDecimalRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "   ", "abc", "1,2.3,4", "%"} {
		if _, err := ParseDecimal(raw); !errors.Is(err, ErrInvalidNumber) {
			t.Fatalf("ParseDecimal(%q) expected ErrInvalidNumber, got %v", raw, err)
		}
	}
}

func TestRoundHalfUp(t *testing.T) {
	equalDecimal(t, "2.345", RoundMoney(dec("2.345")), "2.35")
	equalDecimal(t, "2.344", RoundMoney(dec("2.344")), "2.34")
	equalDecimal(t, "33.35", RoundPercent(dec("33.35")), "33.4")
	equalDecimal(t, "-2.345", RoundMoney(dec("-2.345")), "-2.34")
	equalDecimal(t, "149.999", RoundMoney(dec("149.999")), "150")
}

func TestFormatterUsesLocaleSeparator(t *testing.T) {
	sv := NewFormatter("sv")
	if got := sv.Money(dec("150")); got != "150,00" {
		t.Fatalf("sv money = %q", got)
	}
	if got := sv.Percent(dec("33.333")); got != "33,3" {
		t.Fatalf("sv percent = %q", got)
	}

	en := NewFormatter("en")
	if got := en.Money(dec("1234.5")); got != "1234.50" {
		t.Fatalf("en money = %q", got)
	}

	fallback := NewFormatter("not a locale!")
	if got := fallback.Money(dec("2")); got != "2,00" {
		t.Fatalf("fallback money = %q", got)
	}

	var zero Formatter
	if got := zero.Percent(dec("12.25")); got != "12.3" {
		t.Fatalf("zero formatter percent = %q", got)
	}
}
