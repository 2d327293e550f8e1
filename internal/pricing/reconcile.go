package pricing

import (
	"github.com/shopspring/decimal"

	"prisportal/backend/internal/domain"
)

// Row is the reconciled state of a single-product customer price group rule.
// FinalPrice always equals BasePrice.
type Row struct {
	PurchasePrice    decimal.Decimal
	BasePrice        decimal.Decimal
	MarginPercentage decimal.Decimal
	FinalPrice       decimal.Decimal
}

// Margin is the unrounded margin of price over purchase, in percent.
// It is zero when either value is not positive.
func Margin(purchase, price decimal.Decimal) decimal.Decimal {
	if !purchase.IsPositive() || !price.IsPositive() {
		return decimal.Zero
	}
	return price.Sub(purchase).Div(price).Mul(hundred)
}

// RoundedMargin is Margin rounded for display and storage, never above MaxMargin.
func RoundedMargin(purchase, price decimal.Decimal) decimal.Decimal {
	m := RoundPercent(Margin(purchase, price))
	if m.GreaterThan(MaxMargin) {
		return MaxMargin
	}
	return m
}

func EditBasePrice(purchase, value decimal.Decimal) Row {
	price := RoundMoney(value)
	return Row{
		PurchasePrice:    purchase,
		BasePrice:        price,
		MarginPercentage: RoundedMargin(purchase, value),
		FinalPrice:       price,
	}
}

func EditFinalPrice(purchase, value decimal.Decimal) Row {
	return EditBasePrice(purchase, value)
}

// EditMargin solves the price that yields margin m over purchase. m is capped
// at MaxMargin so the denominator stays positive.
func EditMargin(purchase, m decimal.Decimal) Row {
	if m.GreaterThan(MaxMargin) {
		m = MaxMargin
	}
	denom := decimal.NewFromInt(1).Sub(m.Div(hundred))
	price := purchase
	if denom.IsPositive() {
		price = purchase.Div(denom)
	}
	rounded := RoundMoney(price)
	return Row{
		PurchasePrice:    purchase,
		BasePrice:        rounded,
		MarginPercentage: RoundPercent(m),
		FinalPrice:       rounded,
	}
}

// ApplyDiscount is the contract and campaign sum of a price and its discount.
// The sum never goes below zero.
func ApplyDiscount(price decimal.Decimal, dtype domain.DiscountType, discount decimal.Decimal) decimal.Decimal {
	var sum decimal.Decimal
	switch dtype {
	case domain.DiscountAmount:
		sum = price.Sub(discount)
	default:
		sum = price.Mul(decimal.NewFromInt(1).Sub(discount.Div(hundred)))
	}
	if sum.IsNegative() {
		sum = decimal.Zero
	}
	return RoundMoney(sum)
}

// SolveDiscount inverts ApplyDiscount for an edited sum, keeping the price fixed.
// Percent discounts are clamped to [0, 100], amount discounts to >= 0.
func SolveDiscount(price decimal.Decimal, dtype domain.DiscountType, sum decimal.Decimal) decimal.Decimal {
	switch dtype {
	case domain.DiscountAmount:
		d := price.Sub(sum)
		if d.IsNegative() {
			d = decimal.Zero
		}
		return RoundMoney(d)
	default:
		if !price.IsPositive() {
			return decimal.Zero
		}
		d := decimal.NewFromInt(1).Sub(sum.Div(price)).Mul(hundred)
		return RoundMoney(clamp(d, decimal.Zero, hundred))
	}
}

// SupplierNetPrice is a supplier's offer less its discount.
func SupplierNetPrice(ps domain.ProductSupplier) decimal.Decimal {
	return ApplyDiscount(ps.BasePrice, ps.DiscountType, ps.DiscountValue)
}
