package tax

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"facturador/internal/billing/models"
)

// ratePeriod binds a percentage to the date it came into force.
type ratePeriod struct {
	from time.Time
	pct  decimal.Decimal
}

// RateTable resolves a rate class to the percentage in force on a given date.
// Rates change by statute, so the table is versioned by effective date; a
// line keeps the percentage resolved at issuance even if the statute later
// changes.
type RateTable struct {
	periods map[models.RateClass][]ratePeriod
}

// NewRateTable returns an empty table. Use AddRate to populate, or
// StatutoryRates for the current Spanish IVA schedule.
func NewRateTable() *RateTable {
	return &RateTable{periods: make(map[models.RateClass][]ratePeriod)}
}

// AddRate registers a percentage for a class effective from the given date.
// Periods may be added in any order.
func (t *RateTable) AddRate(class models.RateClass, effectiveFrom time.Time, pct decimal.Decimal) {
	ps := append(t.periods[class], ratePeriod{from: effectiveFrom, pct: pct})
	sort.Slice(ps, func(i, j int) bool { return ps[i].from.Before(ps[j].from) })
	t.periods[class] = ps
}

// RateOn returns the percentage in force for class on date. The second
// return is false when no period covers the date.
func (t *RateTable) RateOn(class models.RateClass, date time.Time) (decimal.Decimal, bool) {
	ps := t.periods[class]
	for i := len(ps) - 1; i >= 0; i-- {
		if !ps[i].from.After(date) {
			return ps[i].pct, true
		}
	}
	return decimal.Decimal{}, false
}

// StatutoryRates builds the Spanish IVA schedule: general 21%, reduced 10%,
// super-reduced 4%, and the sanitary-services rate 4%. Effective dates start
// at the 2012 rate reform, the oldest period this system can invoice in.
func StatutoryRates() *RateTable {
	t := NewRateTable()
	reform := time.Date(2012, time.September, 1, 0, 0, 0, 0, time.UTC)
	t.AddRate(models.RateGeneral, reform, decimal.NewFromInt(21))
	t.AddRate(models.RateReduced, reform, decimal.NewFromInt(10))
	t.AddRate(models.RateSuperReduced, reform, decimal.NewFromInt(4))
	t.AddRate(models.RateMedical, reform, decimal.NewFromInt(4))
	return t
}
