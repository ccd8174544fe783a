package domain

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/kitchenbill/internal/money"
)

// Decompose splits a final invoice into the project totals, the prior
// partial payments and the remaining balance, all at AggregateTaxRate.
// itemGross holds the gross total of every project line item; when it is
// empty the project gross is reconstructed from the invoices themselves.
func Decompose(final InvoiceRef, partials []InvoiceRef, itemGross []decimal.Decimal) (Breakdown, *ReconciliationWarning, error) {
	rate := money.Percent(AggregateTaxRate)

	priorGross := decimal.Zero
	for _, p := range partials {
		priorGross = priorGross.Add(p.Amount)
	}

	var b Breakdown
	if len(itemGross) > 0 {
		b.ProjectGross = money.Sum(itemGross...)
		b.FromItems = true
	} else {
		b.ProjectGross = money.Round2(final.Amount.Add(priorGross))
	}

	project, err := money.GrossToNet(b.ProjectGross, rate)
	if err != nil {
		return Breakdown{}, nil, err
	}
	b.ProjectNet = project.Net
	b.ProjectTax = project.Tax

	b.PriorPayments = make([]PriorPayment, 0, len(partials))
	b.PriorNetSum = decimal.Zero
	b.PriorTaxSum = decimal.Zero
	for _, p := range partials {
		split, err := money.GrossToNet(p.Amount, rate)
		if err != nil {
			return Breakdown{}, nil, err
		}
		b.PriorPayments = append(b.PriorPayments, PriorPayment{
			InvoiceID:     p.ID,
			InvoiceNumber: p.Number,
			Gross:         split.Gross,
			Net:           split.Net,
			Tax:           split.Tax,
		})
		b.PriorNetSum = b.PriorNetSum.Add(split.Net)
		b.PriorTaxSum = b.PriorTaxSum.Add(split.Tax)
	}

	b.RestNet = b.ProjectNet.Sub(b.PriorNetSum)
	b.RestTax = b.ProjectTax.Sub(b.PriorTaxSum)
	b.RestGross = money.Round2(final.Amount)

	expected := money.Round2(b.ProjectGross.Sub(priorGross))
	if !expected.Equal(b.RestGross) {
		return b, &ReconciliationWarning{
			Expected:   expected,
			Actual:     b.RestGross,
			Difference: b.RestGross.Sub(expected),
		}, nil
	}
	return b, nil, nil
}
