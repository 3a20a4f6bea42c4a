// Package tax computes per-line and aggregate IVA figures for an invoice.
// The engine is a pure function over its inputs: no clock, no store, no
// side effects, which keeps it property-testable.
package tax

import (
	"sort"

	"github.com/shopspring/decimal"

	"facturador/internal/billing/models"
	"facturador/internal/billing/money"
	dErrors "facturador/pkg/domain-errors"
)

// Engine resolves rates through a table and computes breakdowns.
type Engine struct {
	rates *RateTable
}

// NewEngine builds an engine over the given rate table.
func NewEngine(rates *RateTable) *Engine {
	return &Engine{rates: rates}
}

// Compute fills the computed amounts on each line and returns the grouped
// breakdown for the invoice.
//
// Rounding discipline: each line base is rounded once; group tax is computed
// on the summed group base and rounded once. Line tax figures are derived the
// same way for display but the group figures are authoritative, so group
// bases and taxes always sum exactly to the invoice totals.
func (e *Engine) Compute(inv *models.Invoice) (models.TaxBreakdown, error) {
	if len(inv.Lines) == 0 {
		return models.TaxBreakdown{}, dErrors.New(dErrors.CodeUnprocessable, "invoice has no lines")
	}

	type group struct {
		pct  decimal.Decimal
		base decimal.Decimal
	}
	groups := make(map[string]*group)

	for i := range inv.Lines {
		line := &inv.Lines[i]
		if err := validateLine(line, inv.IsRectification()); err != nil {
			return models.TaxBreakdown{}, err
		}
		pct, ok := e.rates.RateOn(line.RateClass, inv.IssueDate)
		if !ok {
			return models.TaxBreakdown{}, dErrors.Newf(dErrors.CodeUnprocessable,
				"no %s rate in force on %s", line.RateClass, inv.IssueDate.Format("2006-01-02"))
		}

		line.BaseAmount = money.LineBase(line.Quantity, line.UnitPrice, line.DiscountPct)
		line.RatePct = pct
		line.TaxAmount = money.TaxOn(line.BaseAmount, pct)
		line.LineTotal = line.BaseAmount.Add(line.TaxAmount)

		key := pct.String()
		g, ok := groups[key]
		if !ok {
			g = &group{pct: pct}
			groups[key] = g
		}
		g.base = g.base.Add(line.BaseAmount)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	// Deterministic group order: ascending rate.
	sort.Slice(keys, func(i, j int) bool {
		return groups[keys[i]].pct.LessThan(groups[keys[j]].pct)
	})

	breakdown := models.TaxBreakdown{}
	for _, k := range keys {
		g := groups[k]
		tax := money.TaxOn(g.base, g.pct)
		breakdown.Groups = append(breakdown.Groups, models.TaxGroup{
			RatePct: g.pct,
			Base:    g.base,
			Tax:     tax,
		})
		breakdown.TotalBase = breakdown.TotalBase.Add(g.base)
		breakdown.TotalTax = breakdown.TotalTax.Add(tax)
	}
	breakdown.Total = breakdown.TotalBase.Add(breakdown.TotalTax)
	return breakdown, nil
}

// validateLine checks one line. Rectifying invoices may carry negative unit
// prices, that is how a credit note reverses amounts.
func validateLine(line *models.InvoiceLine, rectifying bool) error {
	if !line.Quantity.IsPositive() {
		return dErrors.Newf(dErrors.CodeUnprocessable, "line %d: quantity must be positive", line.LineNumber)
	}
	if line.UnitPrice.IsNegative() && !rectifying {
		return dErrors.Newf(dErrors.CodeUnprocessable, "line %d: unit price cannot be negative", line.LineNumber)
	}
	if line.DiscountPct.IsNegative() || line.DiscountPct.GreaterThan(decimal.NewFromInt(100)) {
		return dErrors.Newf(dErrors.CodeUnprocessable, "line %d: discount must be between 0 and 100", line.LineNumber)
	}
	if !line.RateClass.Valid() {
		return dErrors.Newf(dErrors.CodeUnprocessable, "line %d: unknown rate class %q", line.LineNumber, line.RateClass)
	}
	if line.Description == "" {
		return dErrors.Newf(dErrors.CodeUnprocessable, "line %d: description is required", line.LineNumber)
	}
	return nil
}
