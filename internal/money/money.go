// Package money holds the currency arithmetic shared by every billing
// component. All amounts are decimal.Decimal with two fractional digits once
// they leave this package.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrInvalidTaxRate = errors.New("invalid_tax_rate")

var (
	half    = decimal.New(5, -1)
	hundred = decimal.NewFromInt(100)
)

// Split is a gross amount broken into its net and tax parts.
type Split struct {
	Net   decimal.Decimal `json:"net"`
	Tax   decimal.Decimal `json:"tax"`
	Gross decimal.Decimal `json:"gross"`
}

// Round2 rounds half-up to two decimal places. Ties move toward positive
// infinity, so -0.005 becomes 0.00 and 0.005 becomes 0.01.
func Round2(x decimal.Decimal) decimal.Decimal {
	return x.Shift(2).Add(half).Floor().Shift(-2)
}

// FromFloat converts a float and rounds it to cents.
func FromFloat(v float64) decimal.Decimal {
	return Round2(decimal.NewFromFloat(v))
}

// Percent returns an integer percentage as a decimal.
func Percent(p int) decimal.Decimal {
	return decimal.NewFromInt(int64(p))
}

// PercentOf returns Round2(amount * percent / 100).
func PercentOf(amount decimal.Decimal, percent decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(percent).Div(hundred))
}

// GrossToNet splits gross at ratePercent. The net part is rounded and the tax
// part is derived by subtraction so that Net+Tax == Gross holds exactly.
func GrossToNet(gross, ratePercent decimal.Decimal) (Split, error) {
	if ratePercent.LessThanOrEqual(hundred.Neg()) {
		return Split{}, ErrInvalidTaxRate
	}
	gross = Round2(gross)
	divisor := decimal.NewFromInt(1).Add(ratePercent.Div(hundred))
	net := Round2(gross.Div(divisor))
	return Split{
		Net:   net,
		Tax:   gross.Sub(net),
		Gross: gross,
	}, nil
}

// NetToGross adds tax at ratePercent on top of net.
func NetToGross(net, ratePercent decimal.Decimal) (Split, error) {
	if ratePercent.LessThanOrEqual(hundred.Neg()) {
		return Split{}, ErrInvalidTaxRate
	}
	net = Round2(net)
	tax := PercentOf(net, ratePercent)
	return Split{
		Net:   net,
		Tax:   tax,
		Gross: net.Add(tax),
	}, nil
}

// ItemTotalsFromNet computes the totals of a line item priced net per unit.
func ItemTotalsFromNet(quantity, unitNet, ratePercent decimal.Decimal) (Split, error) {
	return NetToGross(quantity.Mul(unitNet), ratePercent)
}

// Sum adds amounts and rounds the result.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return Round2(total)
}
