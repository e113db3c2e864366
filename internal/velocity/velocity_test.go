package velocity

import (
	"math"
	"testing"
)

func TestEffectiveDays(t *testing.T) {
	cases := []struct {
		name          string
		historyPoints int
		daysWithStock int
		want          int
	}{
		{"dense history uses observed days", 30, 12, 12},
		{"sparse history falls back to window", 3, 2, WindowDays},
		{"dense but never stocked falls back", 10, 0, WindowDays},
		{"threshold boundary", 7, 7, 7},
		{"just under threshold", 6, 6, WindowDays},
	}
	for _, tc := range cases {
		if got := EffectiveDays(tc.historyPoints, tc.daysWithStock); got != tc.want {
			t.Errorf("%s: EffectiveDays(%d, %d) = %d, want %d",
				tc.name, tc.historyPoints, tc.daysWithStock, got, tc.want)
		}
	}
}

func TestClampedVelocity(t *testing.T) {
	// 100 units over 1 effective day must clamp to 100/7, not report 100.
	got := ClampedVelocity(100, 1)
	want := 100.0 / 7.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("ClampedVelocity(100, 1) = %v, want %v", got, want)
	}

	// Plausible history passes through unclamped.
	if got := ClampedVelocity(30, 60); got != 0.5 {
		t.Errorf("ClampedVelocity(30, 60) = %v, want 0.5", got)
	}

	// Zero effective days falls back to the window instead of dividing by zero.
	if got := ClampedVelocity(60, 0); got != 1.0 {
		t.Errorf("ClampedVelocity(60, 0) = %v, want 1", got)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		units int
		want  string
	}{
		{0, StatusCritical},
		{1, StatusLow},
		{10, StatusLow},
		{11, StatusWarning},
		{50, StatusWarning},
		{51, StatusGood},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.units); got != tc.want {
			t.Errorf("StatusFor(%d) = %q, want %q", tc.units, got, tc.want)
		}
	}
}

func TestRankGroupsByProductAndSorts(t *testing.T) {
	variants := []VariantSales{
		{Sku: "RUANA-AZUL-M", ProductID: "p1", ProductTitle: "Ruana Azul", StockQuantity: 4, UnitsSold60: 30, Revenue60: 900},
		{Sku: "RUANA-AZUL-L", ProductID: "p1", StockQuantity: 6, UnitsSold60: 25, Revenue60: 750},
		{Sku: "PONCHO-GRIS", ProductID: "p2", ProductTitle: "Poncho Gris", StockQuantity: 20, UnitsSold60: 5, Revenue60: 200},
		{Sku: "GORRO-NEGRO", ProductID: "p3", ProductTitle: "Gorro Negro", StockQuantity: 8, UnitsSold60: 0},
	}

	ranks := Rank(variants)
	if len(ranks) != 3 {
		t.Fatalf("len = %d, want 3", len(ranks))
	}

	// p1 first (55 units), then p2 (5), then p3 (0).
	if ranks[0].ProductID != "p1" || ranks[1].ProductID != "p2" || ranks[2].ProductID != "p3" {
		t.Fatalf("unexpected order: %s, %s, %s", ranks[0].ProductID, ranks[1].ProductID, ranks[2].ProductID)
	}

	p1 := ranks[0]
	if p1.UnitsSold60 != 55 || p1.Revenue60 != 1650 || p1.StockQuantity != 10 {
		t.Errorf("p1 aggregate = %d units, %v revenue, %d stock", p1.UnitsSold60, p1.Revenue60, p1.StockQuantity)
	}
	if p1.ProductTitle != "Ruana Azul" {
		t.Errorf("p1 title = %q, want title from the variant that has one", p1.ProductTitle)
	}
	if p1.Status != StatusGood {
		t.Errorf("p1 status = %q, want good", p1.Status)
	}

	if ranks[1].Status != StatusLow {
		t.Errorf("p2 status = %q, want low", ranks[1].Status)
	}
	if ranks[2].Status != StatusCritical {
		t.Errorf("p3 status = %q, want critical", ranks[2].Status)
	}
	if ranks[2].Velocity != 0 || ranks[2].StockDays != 0 {
		t.Errorf("zero-sales product must have zero velocity and stock days: %+v", ranks[2])
	}
}

func TestRankUsesDensestVariantHistory(t *testing.T) {
	variants := []VariantSales{
		{Sku: "A-M", ProductID: "p1", UnitsSold60: 20, HistoryPoints: 3, DaysWithStock: 2},
		{Sku: "A-L", ProductID: "p1", UnitsSold60: 10, HistoryPoints: 15, DaysWithStock: 10},
	}

	ranks := Rank(variants)
	if len(ranks) != 1 {
		t.Fatalf("len = %d, want 1", len(ranks))
	}
	if ranks[0].EffectiveDays != 10 {
		t.Errorf("EffectiveDays = %d, want 10 (densest variant's days-with-stock)", ranks[0].EffectiveDays)
	}
	if got, want := ranks[0].Velocity, 3.0; got != want {
		t.Errorf("Velocity = %v, want %v", got, want)
	}
}
