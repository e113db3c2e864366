package manifest

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

type fakeDDB struct {
	items []Item
	puts  []Item
}

func (f *fakeDDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	var it Item
	if err := attributevalue.UnmarshalMap(params.Item, &it); err != nil {
		return nil, err
	}
	f.puts = append(f.puts, it)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDDB) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	out := &dynamodb.QueryOutput{}
	for _, it := range f.items {
		av, err := attributevalue.MarshalMap(it)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, av)
	}
	return out, nil
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name     string
		known    bool
		expected int
		scanned  int
		want     string
	}{
		{"exact count verifies", true, 5, 5, ScanVerified},
		{"over-scan still verifies", true, 5, 7, ScanVerified},
		{"under-scan is missing", true, 5, 3, ScanMissing},
		{"zero scan is missing", true, 5, 0, ScanMissing},
		{"unknown sku is extra", false, 0, 2, ScanExtra},
	}
	for _, tc := range cases {
		if got := statusFor(tc.known, tc.expected, tc.scanned); got != tc.want {
			t.Errorf("%s: statusFor(%v, %d, %d) = %q, want %q",
				tc.name, tc.known, tc.expected, tc.scanned, got, tc.want)
		}
	}
}

func TestRecordScanLastWriteWins(t *testing.T) {
	t.Setenv("MANIFESTS_TABLE", "manifests-test")

	ddb := &fakeDDB{items: []Item{
		{ManifestID: "m1", Sku: "RUANA-AZUL-M", ExpectedQuantity: 5, ScanStatus: ScanPending},
	}}

	first, err := RecordScan(context.Background(), ddb, "taller.myshopify.com", "m1", "RUANA-AZUL-M", 3, "user-1")
	if err != nil {
		t.Fatalf("RecordScan: %v", err)
	}
	if first.ScanStatus != ScanMissing || first.ScannedQuantity != 3 {
		t.Errorf("first scan = %+v", first)
	}

	// A recount overwrites the earlier scan unconditionally.
	second, err := RecordScan(context.Background(), ddb, "taller.myshopify.com", "m1", "RUANA-AZUL-M", 5, "user-2")
	if err != nil {
		t.Fatalf("RecordScan: %v", err)
	}
	if second.ScanStatus != ScanVerified || second.ScannedQuantity != 5 {
		t.Errorf("second scan = %+v", second)
	}
	if second.ScannedBy != "user-2" {
		t.Errorf("ScannedBy = %q, want user-2", second.ScannedBy)
	}
	if len(ddb.puts) != 2 {
		t.Errorf("len(puts) = %d, want 2 (unconditional writes)", len(ddb.puts))
	}
}

func TestPutItemsResetsToPending(t *testing.T) {
	t.Setenv("MANIFESTS_TABLE", "manifests-test")

	ddb := &fakeDDB{}
	lines := []Line{
		{Sku: "RUANA-AZUL-M", ExpectedQuantity: 5, TrackingNumber: "1Z999AA10123456784"},
		{Sku: "PONCHO-GRIS-UNICA", ExpectedQuantity: 2},
	}
	if err := PutItems(context.Background(), ddb, "taller.myshopify.com", "m1", lines); err != nil {
		t.Fatalf("PutItems: %v", err)
	}
	if len(ddb.puts) != 2 {
		t.Fatalf("len(puts) = %d, want 2", len(ddb.puts))
	}
	for _, it := range ddb.puts {
		if it.ScanStatus != ScanPending || it.ScannedQuantity != 0 {
			t.Errorf("new line must start pending: %+v", it)
		}
	}
	if ddb.puts[0].TrackingNumber != "1Z999AA10123456784" {
		t.Errorf("TrackingNumber = %q", ddb.puts[0].TrackingNumber)
	}
}

func TestRecordScanByTrackingNumber(t *testing.T) {
	t.Setenv("MANIFESTS_TABLE", "manifests-test")

	ddb := &fakeDDB{items: []Item{
		{ManifestID: "m1", Sku: "RUANA-AZUL-M", TrackingNumber: "1Z999AA10123456784", ExpectedQuantity: 2},
	}}

	it, err := RecordScan(context.Background(), ddb, "taller.myshopify.com", "m1", "1Z999AA10123456784", 2, "user-1")
	if err != nil {
		t.Fatalf("RecordScan: %v", err)
	}
	if it.Sku != "RUANA-AZUL-M" {
		t.Errorf("tracking scan must resolve to the line's SKU, got %q", it.Sku)
	}
	if it.ScanStatus != ScanVerified {
		t.Errorf("ScanStatus = %q, want verified", it.ScanStatus)
	}
}

func TestRecordScanUnknownSKU(t *testing.T) {
	t.Setenv("MANIFESTS_TABLE", "manifests-test")

	ddb := &fakeDDB{items: []Item{
		{ManifestID: "m1", Sku: "RUANA-AZUL-M", ExpectedQuantity: 5},
	}}

	it, err := RecordScan(context.Background(), ddb, "taller.myshopify.com", "m1", "BUFANDA-ROJA", 1, "user-1")
	if err != nil {
		t.Fatalf("RecordScan: %v", err)
	}
	if it.ScanStatus != ScanExtra {
		t.Errorf("ScanStatus = %q, want extra", it.ScanStatus)
	}
	if it.ExpectedQuantity != 0 {
		t.Errorf("ExpectedQuantity = %d, want 0", it.ExpectedQuantity)
	}
}

func TestSummarize(t *testing.T) {
	items := []Item{
		{ScanStatus: ScanVerified},
		{ScanStatus: ScanVerified},
		{ScanStatus: ScanMissing},
		{ScanStatus: ScanExtra},
		{ScanStatus: ScanPending},
	}
	p := Summarize("m1", items)
	if p.Total != 5 || p.Verified != 2 || p.Missing != 1 || p.Extra != 1 || p.Pending != 1 {
		t.Errorf("progress = %+v", p)
	}
	if p.Complete {
		t.Error("manifest with pending and missing lines must not be complete")
	}

	done := []Item{{ScanStatus: ScanVerified}, {ScanStatus: ScanExtra}}
	if got := Summarize("m1", done); !got.Complete {
		t.Error("all-verified manifest (extras allowed) must be complete")
	}

	if got := Summarize("m1", nil); got.Complete {
		t.Error("empty manifest must not be complete")
	}
}
