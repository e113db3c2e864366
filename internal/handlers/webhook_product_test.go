package handlers

import (
	"context"
	"testing"

	"sewdle/internal/catalog"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

type variantIn struct {
	Sku     string
	Option1 string
	ItemID  int64
	Qty     int
}

func productPayload(title string, variants ...variantIn) ProductWebhookPayload {
	p := ProductWebhookPayload{ID: 555, Title: title}
	for _, v := range variants {
		wv := struct {
			ID                int64  `json:"id"`
			Sku               string `json:"sku"`
			Title             string `json:"title"`
			Option1           string `json:"option1"`
			Option2           string `json:"option2"`
			InventoryItemID   int64  `json:"inventory_item_id"`
			InventoryQuantity int    `json:"inventory_quantity"`
		}{}
		wv.Sku = v.Sku
		wv.Option1 = v.Option1
		wv.InventoryItemID = v.ItemID
		wv.InventoryQuantity = v.Qty
		p.Variants = append(p.Variants, wv)
	}
	return p
}

func unmarshalPut(t *testing.T, put dynamodb.PutItemInput, out *catalog.ProductVariant) {
	t.Helper()
	if err := attributevalue.UnmarshalMap(put.Item, out); err != nil {
		t.Fatalf("unmarshal put item: %v", err)
	}
}

func TestUpsertProductVariantsPreservesStock(t *testing.T) {
	t.Setenv("PRODUCT_VARIANTS_TABLE", "variants-test")

	ddb := newFakeDDB(catalog.ProductVariant{Sku: "RUANA-AZUL-M", StockQuantity: 17, InventoryItemID: 111})

	payload := productPayload("Ruana Azul", variantIn{Sku: "RUANA-AZUL-M", Option1: "M", Qty: 3})
	upserted, matched, skipped, err := UpsertProductVariants(context.Background(), ddb, "taller.myshopify.com", payload)
	if err != nil {
		t.Fatalf("UpsertProductVariants: %v", err)
	}
	if upserted != 1 || matched != 0 || skipped != 0 {
		t.Errorf("counts = %d/%d/%d, want 1/0/0", upserted, matched, skipped)
	}

	if len(ddb.puts) != 1 {
		t.Fatalf("len(puts) = %d, want 1", len(ddb.puts))
	}

	// inventory_quantity in product webhooks is stale; the existing stock
	// level must survive the upsert, as must the cached inventory item id.
	var stored catalog.ProductVariant
	unmarshalPut(t, ddb.puts[0], &stored)
	if stored.StockQuantity != 17 {
		t.Errorf("StockQuantity = %d, want 17 (existing value kept)", stored.StockQuantity)
	}
	if stored.InventoryItemID != 111 {
		t.Errorf("InventoryItemID = %d, want 111 (existing value kept)", stored.InventoryItemID)
	}
	if stored.ProductID != "555" || stored.ProductTitle != "Ruana Azul" {
		t.Errorf("product fields = %q, %q", stored.ProductID, stored.ProductTitle)
	}
}

func TestUpsertProductVariantsArtificialSKUMatches(t *testing.T) {
	t.Setenv("PRODUCT_VARIANTS_TABLE", "variants-test")

	ddb := newFakeDDB(catalog.ProductVariant{Sku: "RUANA-AZUL-M", StockQuantity: 17})

	// Shopify minted a placeholder SKU; the matcher must map the variant to
	// the real local SKU and only refresh the inventory item mapping.
	payload := productPayload("Ruana Azul", variantIn{Sku: "SHOPIFY-98765", Option1: "M", ItemID: 222, Qty: 3})
	upserted, matched, skipped, err := UpsertProductVariants(context.Background(), ddb, "taller.myshopify.com", payload)
	if err != nil {
		t.Fatalf("UpsertProductVariants: %v", err)
	}
	if upserted != 0 || matched != 1 || skipped != 0 {
		t.Errorf("counts = %d/%d/%d, want 0/1/0", upserted, matched, skipped)
	}

	// No catalog row keyed by the artificial SKU.
	if _, ok := ddb.variants["SHOPIFY-98765"]; ok {
		t.Error("artificial SKU must never become a catalog key")
	}
	if len(ddb.puts) != 0 {
		t.Errorf("matched variant must not rewrite the row, got %d puts", len(ddb.puts))
	}
	if got := ddb.variants["RUANA-AZUL-M"].InventoryItemID; got != 222 {
		t.Errorf("InventoryItemID = %d, want 222 (mapping refreshed)", got)
	}
	if got := ddb.variants["RUANA-AZUL-M"].StockQuantity; got != 17 {
		t.Errorf("StockQuantity = %d, want 17 (untouched)", got)
	}
}

func TestUpsertProductVariantsUnmatchedArtificialSkipped(t *testing.T) {
	t.Setenv("PRODUCT_VARIANTS_TABLE", "variants-test")

	ddb := newFakeDDB(catalog.ProductVariant{Sku: "PONCHO-GRIS-UNICA"})

	payload := productPayload("Bufanda Roja", variantIn{Sku: "SHOPIFY-11111", Option1: "M"})
	upserted, matched, skipped, err := UpsertProductVariants(context.Background(), ddb, "taller.myshopify.com", payload)
	if err != nil {
		t.Fatalf("UpsertProductVariants: %v", err)
	}
	if upserted != 0 || matched != 0 || skipped != 1 {
		t.Errorf("counts = %d/%d/%d, want 0/0/1", upserted, matched, skipped)
	}
	if len(ddb.puts) != 0 {
		t.Errorf("unmatched variant must not write anything, got %d puts", len(ddb.puts))
	}
}

func TestUpsertProductVariantsNewRealSKU(t *testing.T) {
	t.Setenv("PRODUCT_VARIANTS_TABLE", "variants-test")

	ddb := newFakeDDB()

	payload := productPayload("Gorro Negro", variantIn{Sku: "GORRO-NEGRO-UNICA", ItemID: 333, Qty: 8})
	upserted, matched, skipped, err := UpsertProductVariants(context.Background(), ddb, "taller.myshopify.com", payload)
	if err != nil {
		t.Fatalf("UpsertProductVariants: %v", err)
	}
	if upserted != 1 || matched != 0 || skipped != 0 {
		t.Errorf("counts = %d/%d/%d, want 1/0/0", upserted, matched, skipped)
	}
	if len(ddb.puts) != 1 {
		t.Fatalf("len(puts) = %d, want 1", len(ddb.puts))
	}

	// A brand-new SKU has no local stock to preserve, so the webhook's
	// quantity seeds it.
	var stored catalog.ProductVariant
	unmarshalPut(t, ddb.puts[0], &stored)
	if stored.StockQuantity != 8 || stored.InventoryItemID != 333 {
		t.Errorf("stored = %+v", stored)
	}
}
