package velocity

import (
	"sort"
)

// Sales-velocity ranking: units sold over the last 60 days divided by the
// days the product actually had stock, with a sanity clamp against sparse
// history.

const (
	WindowDays = 60

	// minEffectiveDays caps velocity at sales/7: one lucky day of history
	// must not make a product look like it sells its whole window daily.
	minEffectiveDays = 7

	// Stock-history samples required before trusting days-with-stock over
	// the full window.
	minHistoryPoints = 7
)

// Status buckets, worst first.
const (
	StatusCritical = "critical"
	StatusLow      = "low"
	StatusWarning  = "warning"
	StatusGood     = "good"
)

// VariantSales is the per-variant input: what sold and what the stock
// history says.
type VariantSales struct {
	Sku           string
	ProductID     string
	ProductTitle  string
	StockQuantity int

	UnitsSold60   int
	Revenue60     float64
	HistoryPoints int // stock-history samples inside the window
	DaysWithStock int // of those, days with quantity > 0
}

// ProductRank is one output row, grouped by product (not variant).
type ProductRank struct {
	ProductID     string  `json:"productId"`
	ProductTitle  string  `json:"productTitle"`
	UnitsSold60   int     `json:"unitsSold60Days"`
	Revenue60     float64 `json:"revenue60Days"`
	StockQuantity int     `json:"stockQuantity"`
	EffectiveDays int     `json:"effectiveDays"`
	Velocity      float64 `json:"salesVelocity"` // units per day
	StockDays     float64 `json:"stockDays"`     // current stock / velocity
	Status        string  `json:"status"`
}

// EffectiveDays prefers observed days-with-stock when the history is dense
// enough, else assumes the product was stocked the whole window.
func EffectiveDays(historyPoints, daysWithStock int) int {
	if historyPoints >= minHistoryPoints && daysWithStock > 0 {
		return daysWithStock
	}
	return WindowDays
}

// ClampedVelocity applies the sanity cap: never report faster than the
// whole window's sales spread over minEffectiveDays.
func ClampedVelocity(unitsSold60, effectiveDays int) float64 {
	if effectiveDays <= 0 {
		effectiveDays = WindowDays
	}
	v := float64(unitsSold60) / float64(effectiveDays)
	cap := float64(unitsSold60) / float64(minEffectiveDays)
	if v > cap {
		return cap
	}
	return v
}

// StatusFor buckets a product by 60-day unit sales.
func StatusFor(unitsSold60 int) string {
	switch {
	case unitsSold60 == 0:
		return StatusCritical
	case unitsSold60 <= 10:
		return StatusLow
	case unitsSold60 <= 50:
		return StatusWarning
	default:
		return StatusGood
	}
}

// Rank aggregates variant rows by product and orders the result by units
// sold, then velocity. Deterministic for a given input.
func Rank(variants []VariantSales) []ProductRank {
	byProduct := map[string]*ProductRank{}
	histPoints := map[string]int{}
	histDays := map[string]int{}

	for _, v := range variants {
		pid := v.ProductID
		if pid == "" {
			pid = v.Sku
		}
		p, ok := byProduct[pid]
		if !ok {
			p = &ProductRank{ProductID: pid, ProductTitle: v.ProductTitle}
			byProduct[pid] = p
		}
		p.UnitsSold60 += v.UnitsSold60
		p.Revenue60 += v.Revenue60
		p.StockQuantity += v.StockQuantity
		if v.ProductTitle != "" && p.ProductTitle == "" {
			p.ProductTitle = v.ProductTitle
		}
		// History is tracked per variant; the product gets the densest one.
		if v.HistoryPoints > histPoints[pid] {
			histPoints[pid] = v.HistoryPoints
			histDays[pid] = v.DaysWithStock
		}
	}

	out := make([]ProductRank, 0, len(byProduct))
	for pid, p := range byProduct {
		p.EffectiveDays = EffectiveDays(histPoints[pid], histDays[pid])
		p.Velocity = ClampedVelocity(p.UnitsSold60, p.EffectiveDays)
		p.Status = StatusFor(p.UnitsSold60)
		if p.Velocity > 0 {
			p.StockDays = float64(p.StockQuantity) / p.Velocity
		}
		out = append(out, *p)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UnitsSold60 != out[j].UnitsSold60 {
			return out[i].UnitsSold60 > out[j].UnitsSold60
		}
		if out[i].Velocity != out[j].Velocity {
			return out[i].Velocity > out[j].Velocity
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out
}
