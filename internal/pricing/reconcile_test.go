package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"prisportal/backend/internal/domain"
)

func TestCustomerPriceGroupEditScenario(t *testing.T) {
	purchase := dec("100")

	row := EditBasePrice(purchase, dec("150"))
	equalDecimal(t, "margin", row.MarginPercentage, "33.3")
	equalDecimal(t, "final", row.FinalPrice, "150")

	row = EditMargin(purchase, dec("50"))
	equalDecimal(t, "base", row.BasePrice, "200")
	equalDecimal(t, "final", row.FinalPrice, "200")
	equalDecimal(t, "margin", row.MarginPercentage, "50")

	row = EditFinalPrice(purchase, dec("125"))
	equalDecimal(t, "base", row.BasePrice, "125")
	equalDecimal(t, "margin", row.MarginPercentage, "20")
}

func TestFinalPriceAlwaysEqualsBasePrice(t *testing.T) {
	purchase := dec("37.40")
	for _, row := range []Row{
		EditBasePrice(purchase, dec("59.999")),
		EditMargin(purchase, dec("42.7")),
		EditMargin(purchase, dec("150")),
		EditFinalPrice(purchase, dec("12.345")),
		EditBasePrice(decimal.Zero, dec("10")),
	} {
		if !row.FinalPrice.Equal(row.BasePrice) {
			t.Fatalf("final %s != base %s", row.FinalPrice, row.BasePrice)
		}
	}
}

func TestMarginEditClamp(t *testing.T) {
	for _, purchase := range []string{"0", "0.01", "10", "100", "4999.95"} {
		for _, m := range []string{"0", "12.5", "99.9", "100", "250", "99.95"} {
			row := EditMargin(dec(purchase), dec(m))
			if row.MarginPercentage.GreaterThan(MaxMargin) {
				t.Fatalf("purchase %s margin %s: margin %s above cap", purchase, m, row.MarginPercentage)
			}
			if row.BasePrice.LessThan(RoundMoney(dec(purchase))) {
				t.Fatalf("purchase %s margin %s: base %s below purchase", purchase, m, row.BasePrice)
			}
		}
	}

	row := EditMargin(dec("10"), dec("100"))
	equalDecimal(t, "capped base", row.BasePrice, "10000")
	equalDecimal(t, "capped margin", row.MarginPercentage, "99.9")
}

func TestMarginIsZeroWithoutPositivePrices(t *testing.T) {
	equalDecimal(t, "zero purchase", EditBasePrice(decimal.Zero, dec("80")).MarginPercentage, "0")
	equalDecimal(t, "zero price", EditBasePrice(dec("80"), decimal.Zero).MarginPercentage, "0")
	equalDecimal(t, "negative price", EditBasePrice(dec("80"), dec("-5")).MarginPercentage, "0")
}

func TestReconciliationRoundTrip(t *testing.T) {
	purchases := []string{"1", "9.99", "100", "249.5", "1000"}
	factors := []string{"1", "1.05", "1.333", "2", "4.5"}

	for _, p := range purchases {
		for _, f := range factors {
			purchase := dec(p)
			base := RoundMoney(purchase.Mul(dec(f)))

			first := EditBasePrice(purchase, base)
			second := EditMargin(purchase, first.MarginPercentage)
			third := EditBasePrice(purchase, second.BasePrice)

			if third.MarginPercentage.Sub(first.MarginPercentage).Abs().GreaterThan(dec("0.1")) {
				t.Fatalf("purchase %s base %s: margin drifted %s -> %s", p, base, first.MarginPercentage, third.MarginPercentage)
			}
			// A 0.05 margin rounding step moves the price by at most base²/purchase × 0.0005.
			tolerance := base.Mul(base).Div(purchase).Mul(dec("0.0005")).Add(dec("0.01"))
			if second.BasePrice.Sub(base).Abs().GreaterThan(tolerance) {
				t.Fatalf("purchase %s base %s: round trip gave %s (tolerance %s)", p, base, second.BasePrice, tolerance)
			}
		}
	}
}

func TestContractDiscountScenario(t *testing.T) {
	equalDecimal(t, "sum", ApplyDiscount(dec("200"), domain.DiscountPercent, dec("10")), "180")
	equalDecimal(t, "discount", SolveDiscount(dec("200"), domain.DiscountPercent, dec("160")), "20")

	equalDecimal(t, "kr sum", ApplyDiscount(dec("200"), domain.DiscountAmount, dec("25")), "175")
	equalDecimal(t, "kr discount", SolveDiscount(dec("200"), domain.DiscountAmount, dec("160")), "40")
}

func TestSolveDiscountClamps(t *testing.T) {
	equalDecimal(t, "sum above price", SolveDiscount(dec("100"), domain.DiscountPercent, dec("130")), "0")
	equalDecimal(t, "negative sum", SolveDiscount(dec("100"), domain.DiscountPercent, dec("-10")), "100")
	equalDecimal(t, "zero price", SolveDiscount(decimal.Zero, domain.DiscountPercent, dec("10")), "0")
	equalDecimal(t, "kr above price", SolveDiscount(dec("100"), domain.DiscountAmount, dec("130")), "0")
	equalDecimal(t, "kr floor", ApplyDiscount(dec("20"), domain.DiscountAmount, dec("25")), "0")
}

func TestSupplierNetPrice(t *testing.T) {
	ps := domain.ProductSupplier{BasePrice: dec("80"), DiscountType: domain.DiscountPercent, DiscountValue: dec("12.5")}
	equalDecimal(t, "percent", SupplierNetPrice(ps), "70")
	ps.DiscountType = domain.DiscountAmount
	ps.DiscountValue = dec("5.5")
	equalDecimal(t, "amount", SupplierNetPrice(ps), "74.5")
}
