package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sewdle/internal/catalog"
	"sewdle/internal/db"
	"sewdle/internal/shopify"
	"sewdle/internal/tenancy"

	"github.com/aws/aws-lambda-go/events"
)

// ProductWebhookPayload is Shopify's products/create|update webhook body
// (REST shape, numeric ids).
type ProductWebhookPayload struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Variants []struct {
		ID                int64  `json:"id"`
		Sku               string `json:"sku"`
		Title             string `json:"title"`
		Option1           string `json:"option1"`
		Option2           string `json:"option2"`
		InventoryItemID   int64  `json:"inventory_item_id"`
		InventoryQuantity int    `json:"inventory_quantity"`
	} `json:"variants"`
}

// ProductWebhook keeps the variant catalog in step with Shopify's product
// definitions.
//
// The one subtle rule is artificial SKUs: Shopify generates placeholder SKUs
// for variants created in its admin, and those must never become catalog
// keys. When the webhook carries an artificial (or empty) SKU we try to match
// the variant back to an existing local SKU by title and options; matched
// variants update that local row, unmatched ones are skipped and logged.
func ProductWebhook(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return errResp(400, "invalid body encoding")
		}
		body = decoded
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return jsonResp(200, map[string]any{"ok": true, "message": "connectivity check"})
	}

	topic := header(req, "x-shopify-topic")
	shopDomain := strings.ToLower(strings.TrimSpace(header(req, "x-shopify-shop-domain")))
	webhookID := header(req, "x-shopify-webhook-id")
	hmacHeader := header(req, "x-shopify-hmac-sha256")

	if !isValidShopDomain(shopDomain) {
		return errResp(400, "invalid shop domain")
	}

	secret, err := shopify.WebhookSecret(ctx)
	if err != nil {
		return errResp(500, "webhook secret unavailable")
	}
	if !shopify.VerifyWebhookHMAC(body, secret, hmacHeader) {
		if shopify.HMACEnforced() {
			return errResp(401, "invalid hmac")
		}
		fmt.Printf("product-webhook: hmac mismatch shop=%s topic=%s (log mode)\n", shopDomain, topic)
	}

	if topic != shopify.TopicProductCreate && topic != shopify.TopicProductUpdate {
		return jsonResp(200, map[string]any{"ok": true, "message": "topic not processed"})
	}

	var payload ProductWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return errResp(400, "invalid payload")
	}
	if payload.ID == 0 {
		return jsonResp(200, map[string]any{"ok": true, "message": "no product in payload"})
	}

	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		return errResp(500, "failed to init dynamodb")
	}

	dup, err := shopify.ClaimWebhook(ctx, ddb, webhookID, shopDomain, topic)
	if err != nil {
		return errResp(500, "dedupe claim failed")
	}
	if dup {
		return jsonResp(200, map[string]any{"ok": true, "message": "duplicate delivery"})
	}

	upserted, matched, skipped, err := UpsertProductVariants(ctx, ddb, shopDomain, payload)
	if err != nil {
		fmt.Printf("product-webhook: shop=%s product=%d failed: %v\n", shopDomain, payload.ID, err)
		return jsonResp(200, map[string]any{"ok": false, "error": err.Error()})
	}

	if subs, serr := tenancy.UsersForShop(ctx, ddb, shopDomain); serr == nil {
		nowISO := time.Now().UTC().Format(time.RFC3339)
		for _, sub := range subs {
			_ = shopify.UpdateLastEvent(ctx, ddb, sub, shopDomain, nowISO, topic, webhookID)
		}
	}

	return jsonResp(200, map[string]any{
		"ok":       true,
		"upserted": upserted,
		"matched":  matched,
		"skipped":  skipped,
	})
}

// UpsertProductVariants applies one product payload against the catalog.
func UpsertProductVariants(ctx context.Context, ddb catalog.DDBClient, shopDomain string, payload ProductWebhookPayload) (upserted, matched, skipped int, err error) {
	productID := fmt.Sprintf("%d", payload.ID)

	// Local SKU set, loaded once per webhook for the matcher.
	var localSKUs []string
	loadLocal := func() ([]string, error) {
		if localSKUs != nil {
			return localSKUs, nil
		}
		vs, err := catalog.ListVariants(ctx, ddb, shopDomain)
		if err != nil {
			return nil, err
		}
		localSKUs = make([]string, 0, len(vs))
		for _, v := range vs {
			localSKUs = append(localSKUs, v.Sku)
		}
		return localSKUs, nil
	}

	for _, wv := range payload.Variants {
		sku := strings.TrimSpace(wv.Sku)

		if sku == "" || catalog.IsArtificialSKU(sku) {
			skus, lerr := loadLocal()
			if lerr != nil {
				return upserted, matched, skipped, fmt.Errorf("list variants: %w", lerr)
			}
			cand := catalog.MatchVariant(catalog.ShopifyVariantInfo{
				ProductTitle: payload.Title,
				VariantTitle: wv.Title,
				Option1:      wv.Option1,
				Option2:      wv.Option2,
			}, skus)
			if cand == nil {
				fmt.Printf("product-webhook: shop=%s variant=%d sku=%q unmatched, skipping\n", shopDomain, wv.ID, wv.Sku)
				skipped++
				continue
			}
			fmt.Printf("product-webhook: shop=%s variant=%d sku=%q matched local %s via %s\n",
				shopDomain, wv.ID, wv.Sku, cand.SKU, cand.Method)

			// Refresh mapping only; stock stays owned by inventory webhooks.
			if wv.InventoryItemID != 0 {
				_ = catalog.RememberInventoryItem(ctx, ddb, shopDomain, cand.SKU, wv.InventoryItemID)
			}
			matched++
			continue
		}

		existing, gerr := catalog.GetVariantBySKU(ctx, ddb, shopDomain, sku)
		if gerr != nil {
			return upserted, matched, skipped, fmt.Errorf("variant lookup %s: %w", sku, gerr)
		}

		v := catalog.ProductVariant{
			Sku:             sku,
			ProductID:       productID,
			ProductTitle:    payload.Title,
			VariantTitle:    wv.Title,
			InventoryItemID: wv.InventoryItemID,
			StockQuantity:   wv.InventoryQuantity,
		}
		if existing != nil {
			// Product webhooks carry stale inventory_quantity; keep ours.
			v.StockQuantity = existing.StockQuantity
			if wv.InventoryItemID == 0 {
				v.InventoryItemID = existing.InventoryItemID
			}
		}
		if perr := catalog.PutVariant(ctx, ddb, shopDomain, v); perr != nil {
			return upserted, matched, skipped, fmt.Errorf("put variant %s: %w", sku, perr)
		}
		upserted++
	}

	return upserted, matched, skipped, nil
}
