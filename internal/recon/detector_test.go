package recon

import (
	"testing"

	"sewdle/internal/ledger"
)

func entry(t *testing.T, deliveryID, trigger string, results []ledger.SyncResult) ledger.Entry {
	t.Helper()
	raw, err := ledger.EncodeResults(results)
	if err != nil {
		t.Fatalf("EncodeResults: %v", err)
	}
	return ledger.Entry{
		DeliveryID: deliveryID,
		Trigger:    trigger,
		Results:    raw,
	}
}

func TestDetectUniformDuplicate(t *testing.T) {
	// The same sync fired twice: 5 + 5 landed where 5 should have.
	entries := []ledger.Entry{
		entry(t, "d1", "manual", []ledger.SyncResult{{Type: ledger.ResultSuccess, Sku: "RUANA-AZUL-M", AddedQuantity: 5}}),
		entry(t, "d1", "manual", []ledger.SyncResult{{Type: ledger.ResultSuccess, Sku: "RUANA-AZUL-M", AddedQuantity: 5}}),
	}

	dups, err := Detect(entries)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dups) != 1 {
		t.Fatalf("len = %d, want 1", len(dups))
	}
	d := dups[0]
	if d.DeliveryID != "d1" || d.Sku != "RUANA-AZUL-M" {
		t.Errorf("unexpected key: %+v", d)
	}
	if d.SyncCount != 2 || d.TotalQuantity != 10 || d.DuplicatedQuantity != 5 {
		t.Errorf("counts = %d/%d/%d, want 2/10/5", d.SyncCount, d.TotalQuantity, d.DuplicatedQuantity)
	}
	if !d.Uniform {
		t.Error("expected Uniform")
	}
}

func TestDetectNonUniformDuplicate(t *testing.T) {
	entries := []ledger.Entry{
		entry(t, "d1", "manual", []ledger.SyncResult{{Type: ledger.ResultSuccess, Sku: "A", AddedQuantity: 3}}),
		entry(t, "d1", "manual", []ledger.SyncResult{{Type: ledger.ResultSuccess, Sku: "A", AddedQuantity: 5}}),
	}

	dups, err := Detect(entries)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dups) != 1 {
		t.Fatalf("len = %d, want 1", len(dups))
	}
	d := dups[0]
	if d.Uniform {
		t.Error("different quantities must not be flagged Uniform")
	}
	// total - total/count with integer division: 8 - 4 = 4
	if d.TotalQuantity != 8 || d.DuplicatedQuantity != 4 {
		t.Errorf("got total=%d duplicated=%d, want 8/4", d.TotalQuantity, d.DuplicatedQuantity)
	}
}

func TestDetectIgnoresSinglesFailuresAndCorrections(t *testing.T) {
	entries := []ledger.Entry{
		// Single successful sync: not a duplicate.
		entry(t, "d1", "manual", []ledger.SyncResult{{Type: ledger.ResultSuccess, Sku: "A", AddedQuantity: 5}}),
		// Errors and unmapped rows never count.
		entry(t, "d1", "manual", []ledger.SyncResult{{Type: ledger.ResultError, Sku: "A", Message: "boom"}}),
		entry(t, "d1", "manual", []ledger.SyncResult{{Type: ledger.ResultUnmapped, Sku: "A"}}),
		// A correction alone never counts as a sync.
		entry(t, "d2", "correction", []ledger.SyncResult{{Type: ledger.ResultSuccess, Sku: "A", AddedQuantity: -5}}),
	}

	dups, err := Detect(entries)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dups) != 0 {
		t.Errorf("expected no duplicates, got %+v", dups)
	}
}

func TestDetectIgnoresWebhookRows(t *testing.T) {
	// Two unrelated inventory webhooks happening to carry the same stock
	// delta look nothing like a re-fired delivery push.
	entries := []ledger.Entry{
		entry(t, "", "webhook", []ledger.SyncResult{{Type: ledger.ResultSuccess, Sku: "TEE-RED-M", AddedQuantity: 5}}),
		entry(t, "", "webhook", []ledger.SyncResult{{Type: ledger.ResultSuccess, Sku: "TEE-RED-M", AddedQuantity: 5}}),
	}

	dups, err := Detect(entries)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dups) != 0 {
		t.Errorf("webhook rows must not be grouped, got %+v", dups)
	}
}

func TestDetectAfterFixIsClean(t *testing.T) {
	// A fixed duplicate: two originals plus the compensating correction.
	// The correction offsets the excess, so re-running detection (and thus
	// the fixer) finds nothing left to repair.
	fixed := []ledger.Entry{
		entry(t, "d1", "manual", []ledger.SyncResult{{Type: ledger.ResultSuccess, Sku: "A", AddedQuantity: 5}}),
		entry(t, "d1", "manual", []ledger.SyncResult{{Type: ledger.ResultSuccess, Sku: "A", AddedQuantity: 5}}),
		entry(t, "d1", "correction", []ledger.SyncResult{{Type: ledger.ResultSuccess, Sku: "A", AddedQuantity: -5}}),
	}

	dups, err := Detect(fixed)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dups) != 0 {
		t.Fatalf("expected clean after fix, got %+v", dups)
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	entries := []ledger.Entry{
		entry(t, "d2", "manual", []ledger.SyncResult{{Type: ledger.ResultSuccess, Sku: "B", AddedQuantity: 2}}),
		entry(t, "d2", "manual", []ledger.SyncResult{{Type: ledger.ResultSuccess, Sku: "B", AddedQuantity: 2}}),
		entry(t, "d1", "manual", []ledger.SyncResult{{Type: ledger.ResultSuccess, Sku: "A", AddedQuantity: 5}}),
		entry(t, "d1", "manual", []ledger.SyncResult{{Type: ledger.ResultSuccess, Sku: "A", AddedQuantity: 5}}),
	}

	first, err := Detect(entries)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	second, err := Detect(entries)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("len = %d/%d, want 2/2", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("run mismatch at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
	if first[0].DeliveryID != "d1" || first[1].DeliveryID != "d2" {
		t.Errorf("expected delivery-sorted output, got %+v", first)
	}
}

func TestFilterDelivery(t *testing.T) {
	dups := []Duplicate{
		{DeliveryID: "d1", Sku: "A"},
		{DeliveryID: "d2", Sku: "B"},
		{DeliveryID: "d1", Sku: "C"},
	}
	got := FilterDelivery(dups, "d1")
	if len(got) != 2 || got[0].Sku != "A" || got[1].Sku != "C" {
		t.Errorf("unexpected filter result: %+v", got)
	}
}
