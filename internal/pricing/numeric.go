package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const (
	MoneyPlaces   = 2
	PercentPlaces = 1
)

var (
	ErrInvalidNumber = errors.New("invalid number")

	hundred   = decimal.NewFromInt(100)
	half      = decimal.RequireFromString("0.5")
	MaxMargin = decimal.RequireFromString("99.9")
)

// ParseDecimal reads a user-typed number. Both comma and period are accepted
// as decimal separator; when both appear, the last one is the decimal separator
// and the other is grouping. Spaces, apostrophes, a trailing "%" and a trailing
// "kr" are ignored.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "%")
	lower := strings.ToLower(s)
	if strings.HasSuffix(lower, "kr") {
		s = s[:len(s)-2]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'', '\t':
			return -1
		case '\u2212':
			return '-'
		}
		return r
	}, s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty value", ErrInvalidNumber)
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	if strings.Count(s, ",")+strings.Count(s, ".") > 1 {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}
	return d, nil
}

// RoundHalfUp rounds ties toward positive infinity at the given number of places.
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Shift(places).Add(half).Floor().Shift(-places)
}

func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return RoundHalfUp(d, MoneyPlaces)
}

func RoundPercent(d decimal.Decimal) decimal.Decimal {
	return RoundHalfUp(d, PercentPlaces)
}

func clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}

// Formatter renders numbers for display with the locale's decimal separator.
// Grouping separators are omitted so grid cells can be parsed back.
type Formatter struct {
	printer *message.Printer
}

func NewFormatter(locale string) Formatter {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.Swedish
	}
	return Formatter{printer: message.NewPrinter(tag)}
}

func (f Formatter) Money(d decimal.Decimal) string {
	return f.format(RoundMoney(d), MoneyPlaces)
}

func (f Formatter) Percent(d decimal.Decimal) string {
	return f.format(RoundPercent(d), PercentPlaces)
}

func (f Formatter) format(d decimal.Decimal, places int) string {
	if f.printer == nil {
		return d.StringFixed(int32(places))
	}
	return f.printer.Sprint(number.Decimal(d.InexactFloat64(), number.Scale(places), number.NoSeparator()))
}
