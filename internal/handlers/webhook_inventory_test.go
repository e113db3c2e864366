package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"sewdle/internal/catalog"
	"sewdle/internal/ledger"
	"sewdle/internal/shopify"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDDB holds product variants keyed by SKU and applies the update
// expressions the catalog package actually issues.
type fakeDDB struct {
	variants map[string]*catalog.ProductVariant
	puts     []dynamodb.PutItemInput
}

func newFakeDDB(variants ...catalog.ProductVariant) *fakeDDB {
	f := &fakeDDB{variants: map[string]*catalog.ProductVariant{}}
	for i := range variants {
		v := variants[i]
		f.variants[v.Sku] = &v
	}
	return f
}

func skuFromKey(key map[string]types.AttributeValue) string {
	sk, _ := key["SK"].(*types.AttributeValueMemberS)
	if sk == nil {
		return ""
	}
	return strings.TrimPrefix(sk.Value, "SKU#")
}

func (f *fakeDDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	v, ok := f.variants[skuFromKey(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	item, err := attributevalue.MarshalMap(*v)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, *params)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	v, ok := f.variants[skuFromKey(params.Key)]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if q, ok := params.ExpressionAttributeValues[":q"].(*types.AttributeValueMemberN); ok {
		n, err := strconv.Atoi(q.Value)
		if err != nil {
			return nil, err
		}
		v.StockQuantity = n
	}
	if i, ok := params.ExpressionAttributeValues[":i"].(*types.AttributeValueMemberN); ok {
		n, err := strconv.ParseInt(i.Value, 10, 64)
		if err != nil {
			return nil, err
		}
		v.InventoryItemID = n
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDDB) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	out := &dynamodb.QueryOutput{}
	for _, v := range f.variants {
		item, err := attributevalue.MarshalMap(*v)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func testDeps(ddb *fakeDDB, sku string) InventoryDeps {
	return InventoryDeps{
		DDB: ddb,
		Resolve: func(ctx context.Context, shopDomain, accessToken string, inventoryItemID int64) (*shopify.ResolvedItem, error) {
			return &shopify.ResolvedItem{SKU: sku}, nil
		},
		Token: func(ctx context.Context, subs []string, shopDomain string) (string, error) {
			return "shpat_test", nil
		},
		Users: func(ctx context.Context, shopDomain string) ([]string, error) {
			return []string{"user-1"}, nil
		},
	}
}

func intPtr(n int) *int { return &n }

func TestProcessInventoryEventOverwritesStock(t *testing.T) {
	t.Setenv("PRODUCT_VARIANTS_TABLE", "variants-test")

	ddb := newFakeDDB(catalog.ProductVariant{Sku: "TEE-RED-M", StockQuantity: 10})
	deps := testDeps(ddb, "TEE-RED-M")

	payload := InventoryLevelPayload{InventoryItemID: 987, Available: intPtr(42)}
	results, err := ProcessInventoryEvent(context.Background(), deps, "taller.myshopify.com", payload)
	if err != nil {
		t.Fatalf("ProcessInventoryEvent: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}

	r := results[0]
	if r.Type != ledger.ResultSuccess || r.Sku != "TEE-RED-M" {
		t.Errorf("unexpected result: %+v", r)
	}
	if r.NewQuantity != 42 || r.AddedQuantity != 32 {
		t.Errorf("quantities = new %d, added %d; want 42, 32", r.NewQuantity, r.AddedQuantity)
	}

	// The webhook's absolute value overwrites local stock.
	if got := ddb.variants["TEE-RED-M"].StockQuantity; got != 42 {
		t.Errorf("stored StockQuantity = %d, want 42", got)
	}
	// The inventory_item_id gets cached for later webhooks.
	if got := ddb.variants["TEE-RED-M"].InventoryItemID; got != 987 {
		t.Errorf("stored InventoryItemID = %d, want 987", got)
	}

	success, failure := ledger.Counts(results)
	if success != 1 || failure != 0 {
		t.Errorf("Counts = %d, %d; want 1, 0", success, failure)
	}
}

func TestProcessInventoryEventUnmappedSKU(t *testing.T) {
	t.Setenv("PRODUCT_VARIANTS_TABLE", "variants-test")

	ddb := newFakeDDB() // no local variants
	deps := testDeps(ddb, "UNKNOWN-SKU")

	results, err := ProcessInventoryEvent(context.Background(), deps, "taller.myshopify.com", InventoryLevelPayload{
		InventoryItemID: 1,
		Available:       intPtr(5),
	})
	if err != nil {
		t.Fatalf("ProcessInventoryEvent: %v", err)
	}
	if len(results) != 1 || results[0].Type != ledger.ResultUnmapped {
		t.Fatalf("expected one unmapped result, got %+v", results)
	}
	if results[0].Sku != "UNKNOWN-SKU" {
		t.Errorf("Sku = %q, want UNKNOWN-SKU", results[0].Sku)
	}
}

func TestProcessInventoryEventResolveFailure(t *testing.T) {
	t.Setenv("PRODUCT_VARIANTS_TABLE", "variants-test")

	ddb := newFakeDDB()
	deps := testDeps(ddb, "TEE-RED-M")
	deps.Resolve = func(ctx context.Context, shopDomain, accessToken string, inventoryItemID int64) (*shopify.ResolvedItem, error) {
		return nil, errors.New("graphql down")
	}

	results, err := ProcessInventoryEvent(context.Background(), deps, "taller.myshopify.com", InventoryLevelPayload{
		InventoryItemID: 1,
		Available:       intPtr(5),
	})
	if err != nil {
		t.Fatalf("processing failures go into the ledger, not the error: %v", err)
	}
	if len(results) != 1 || results[0].Type != ledger.ResultError {
		t.Fatalf("expected one error result, got %+v", results)
	}
}

func TestProcessInventoryEventNoConnectedUsers(t *testing.T) {
	t.Setenv("PRODUCT_VARIANTS_TABLE", "variants-test")

	ddb := newFakeDDB()
	deps := testDeps(ddb, "TEE-RED-M")
	deps.Users = func(ctx context.Context, shopDomain string) ([]string, error) {
		return nil, nil
	}

	results, err := ProcessInventoryEvent(context.Background(), deps, "nobody.myshopify.com", InventoryLevelPayload{
		InventoryItemID: 1,
		Available:       intPtr(5),
	})
	if err != nil {
		t.Fatalf("ProcessInventoryEvent: %v", err)
	}
	if results != nil {
		t.Errorf("expected no results for an unconnected shop, got %+v", results)
	}
}

func TestProcessInventoryConnectRecordsMappingOnly(t *testing.T) {
	t.Setenv("PRODUCT_VARIANTS_TABLE", "variants-test")

	ddb := newFakeDDB(catalog.ProductVariant{Sku: "TEE-RED-M", StockQuantity: 10})
	deps := testDeps(ddb, "TEE-RED-M")

	// Connect payloads may omit available entirely.
	results, err := ProcessInventoryConnect(context.Background(), deps, "taller.myshopify.com", InventoryLevelPayload{
		InventoryItemID: 987,
	})
	if err != nil {
		t.Fatalf("ProcessInventoryConnect: %v", err)
	}
	if len(results) != 1 || results[0].Type != ledger.ResultSuccess {
		t.Fatalf("expected one success result, got %+v", results)
	}

	// The mapping lands; stock is never touched.
	if got := ddb.variants["TEE-RED-M"].InventoryItemID; got != 987 {
		t.Errorf("stored InventoryItemID = %d, want 987", got)
	}
	if got := ddb.variants["TEE-RED-M"].StockQuantity; got != 10 {
		t.Errorf("StockQuantity = %d, connect must not change stock", got)
	}
	if results[0].AddedQuantity != 0 || results[0].NewQuantity != 0 {
		t.Errorf("connect result must carry no quantity change: %+v", results[0])
	}
}

func TestProcessInventoryConnectUnknownVariant(t *testing.T) {
	t.Setenv("PRODUCT_VARIANTS_TABLE", "variants-test")

	ddb := newFakeDDB() // no local variants
	deps := testDeps(ddb, "UNKNOWN-SKU")

	results, err := ProcessInventoryConnect(context.Background(), deps, "taller.myshopify.com", InventoryLevelPayload{
		InventoryItemID: 1,
	})
	if err != nil {
		t.Fatalf("ProcessInventoryConnect: %v", err)
	}
	if len(results) != 1 || results[0].Type != ledger.ResultUnmapped {
		t.Fatalf("expected unmapped for an unknown variant, got %+v", results)
	}
}

func TestProcessInventoryEventItemWithoutSKU(t *testing.T) {
	t.Setenv("PRODUCT_VARIANTS_TABLE", "variants-test")

	ddb := newFakeDDB()
	deps := testDeps(ddb, "")

	results, err := ProcessInventoryEvent(context.Background(), deps, "taller.myshopify.com", InventoryLevelPayload{
		InventoryItemID: 7,
		Available:       intPtr(5),
	})
	if err != nil {
		t.Fatalf("ProcessInventoryEvent: %v", err)
	}
	if len(results) != 1 || results[0].Type != ledger.ResultUnmapped {
		t.Fatalf("expected unmapped for a SKU-less item, got %+v", results)
	}
	if !strings.Contains(results[0].Message, "has no SKU") {
		t.Errorf("message = %q", results[0].Message)
	}
}
