package deliveries

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

type fakeDDB struct {
	puts    []Item
	updates []dynamodb.UpdateItemInput
}

func (f *fakeDDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	var it Item
	if err := attributevalue.UnmarshalMap(params.Item, &it); err != nil {
		return nil, err
	}
	f.puts = append(f.puts, it)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return &dynamodb.QueryOutput{}, nil
}

func (f *fakeDDB) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, *params)
	return &dynamodb.UpdateItemOutput{}, nil
}

func TestPutItemsResetsSyncFlags(t *testing.T) {
	t.Setenv("DELIVERIES_TABLE", "deliveries-test")

	ddb := &fakeDDB{}
	items := []Item{
		{Sku: "RUANA-AZUL-M", QuantityDelivered: 10, QuantityApproved: 8,
			SyncedToShopify: true, SyncErrorMessage: "stale", SyncedAt: "2026-01-01T00:00:00Z"},
		{Sku: "PONCHO-GRIS-UNICA", QuantityDelivered: 4, QuantityApproved: 4},
	}
	if err := PutItems(context.Background(), ddb, "taller.myshopify.com", "d1", items); err != nil {
		t.Fatalf("PutItems: %v", err)
	}
	if len(ddb.puts) != 2 {
		t.Fatalf("len(puts) = %d, want 2", len(ddb.puts))
	}

	for _, it := range ddb.puts {
		if it.SyncedToShopify || it.SyncErrorMessage != "" || it.SyncedAt != "" {
			t.Errorf("sync state must be reset on re-record: %+v", it)
		}
		if it.DeliveryID != "d1" {
			t.Errorf("DeliveryID = %q, want d1", it.DeliveryID)
		}
		if it.PK != "SHOP#taller.myshopify.com" || !strings.HasPrefix(it.SK, "DELIVERY#d1#ITEM#") {
			t.Errorf("unexpected keys: PK=%q SK=%q", it.PK, it.SK)
		}
	}
}

func TestMarkItemSyncedClearsError(t *testing.T) {
	t.Setenv("DELIVERIES_TABLE", "deliveries-test")

	ddb := &fakeDDB{}
	if err := MarkItemSynced(context.Background(), ddb, "taller.myshopify.com", "d1", "RUANA-AZUL-M"); err != nil {
		t.Fatalf("MarkItemSynced: %v", err)
	}
	if len(ddb.updates) != 1 {
		t.Fatalf("len(updates) = %d, want 1", len(ddb.updates))
	}

	expr := *ddb.updates[0].UpdateExpression
	if !strings.Contains(expr, "SyncedToShopify") || !strings.Contains(expr, "REMOVE SyncErrorMessage") {
		t.Errorf("update expression = %q", expr)
	}
}
