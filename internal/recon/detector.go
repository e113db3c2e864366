package recon

import (
	"sort"

	"sewdle/internal/ledger"
)

// Duplicate is one over-counted (delivery, SKU) pair found in the ledger.
//
// The repair math assumes all successful entries should have collapsed into
// a single one of the average size: duplicated = total - total/count. That
// holds when a sync was re-fired verbatim; when the entries carry different
// quantities (legitimate partial syncs) the assumption is shaky, so Uniform
// is false and operators review before fixing.
type Duplicate struct {
	DeliveryID         string `json:"deliveryId"`
	Sku                string `json:"sku"`
	SyncCount          int    `json:"syncCount"`
	TotalQuantity      int    `json:"totalQuantity"`
	DuplicatedQuantity int    `json:"duplicatedQuantity"`
	Uniform            bool   `json:"uniform"`
}

type skuAgg struct {
	deliveryID string
	sku        string
	quantities []int
}

// Detect scans ledger entries for repeated successful syncs of the same
// (delivery, SKU) pair. Read-only and deterministic: the same entries always
// produce the same list, so operators can re-run it freely.
//
// Only rows tied to a delivery participate. Webhook rows carry no delivery id
// and their AddedQuantity is a stock delta, not a push; two coincidentally
// equal deltas are not a duplicate.
//
// Correction rows count as offsets, not as syncs: a pair whose excess has
// already been compensated drops out of the list, which is what makes the
// fixer safe to re-run.
func Detect(entries []ledger.Entry) ([]Duplicate, error) {
	aggs := map[[2]string]*skuAgg{}
	corrected := map[[2]string]int{}

	for _, e := range entries {
		if e.DeliveryID == "" {
			continue
		}
		results, err := ledger.DecodeResults(e.Results)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			if r.Type != ledger.ResultSuccess || r.AddedQuantity == 0 {
				continue
			}
			key := [2]string{e.DeliveryID, r.Sku}
			if e.Trigger == "correction" {
				// Corrections subtract stock, so AddedQuantity is negative.
				corrected[key] += -r.AddedQuantity
				continue
			}
			agg, ok := aggs[key]
			if !ok {
				agg = &skuAgg{deliveryID: e.DeliveryID, sku: r.Sku}
				aggs[key] = agg
			}
			agg.quantities = append(agg.quantities, r.AddedQuantity)
		}
	}

	var dups []Duplicate
	for key, agg := range aggs {
		count := len(agg.quantities)
		if count < 2 {
			continue
		}
		total := 0
		uniform := true
		for i, q := range agg.quantities {
			total += q
			if i > 0 && q != agg.quantities[0] {
				uniform = false
			}
		}
		excess := total - total/count - corrected[key]
		if excess <= 0 {
			continue
		}
		dups = append(dups, Duplicate{
			DeliveryID:         agg.deliveryID,
			Sku:                agg.sku,
			SyncCount:          count,
			TotalQuantity:      total,
			DuplicatedQuantity: excess,
			Uniform:            uniform,
		})
	}

	sort.Slice(dups, func(i, j int) bool {
		if dups[i].DeliveryID != dups[j].DeliveryID {
			return dups[i].DeliveryID < dups[j].DeliveryID
		}
		return dups[i].Sku < dups[j].Sku
	})
	return dups, nil
}

// FilterDelivery narrows a detection result to one delivery.
func FilterDelivery(dups []Duplicate, deliveryID string) []Duplicate {
	out := make([]Duplicate, 0, len(dups))
	for _, d := range dups {
		if d.DeliveryID == deliveryID {
			out = append(out, d)
		}
	}
	return out
}
