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
	"sewdle/internal/ledger"
	"sewdle/internal/shopify"
	"sewdle/internal/tenancy"

	"github.com/aws/aws-lambda-go/events"
)

// InventoryLevelPayload is Shopify's inventory_levels/* webhook body.
type InventoryLevelPayload struct {
	InventoryItemID int64  `json:"inventory_item_id"`
	LocationID      int64  `json:"location_id"`
	Available       *int   `json:"available"`
	UpdatedAt       string `json:"updated_at"`
}

// InventoryDDB is the slice of DynamoDB the inventory path touches.
type InventoryDDB interface {
	catalog.DDBClient
	ledger.DDBClient
}

// InventoryDeps carries the external calls so tests can fake them.
type InventoryDeps struct {
	DDB     InventoryDDB
	Resolve func(ctx context.Context, shopDomain, accessToken string, inventoryItemID int64) (*shopify.ResolvedItem, error)
	Token   func(ctx context.Context, subs []string, shopDomain string) (string, error)
	Users   func(ctx context.Context, shopDomain string) ([]string, error)
}

// InventoryWebhook receives inventory_levels/* webhooks over HTTP.
//
// Shopify retries on non-2xx, so everything past HMAC verification answers
// 200: processing failures are recorded in the sync ledger instead of bounced
// back, which would only replay the same failure.
func InventoryWebhook(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return errResp(400, "invalid body encoding")
		}
		body = decoded
	}

	// Shopify sends an empty-body POST when verifying the endpoint.
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
		fmt.Printf("inventory-webhook: hmac mismatch shop=%s topic=%s (log mode)\n", shopDomain, topic)
	}

	if topic != shopify.TopicInventoryUpdate && topic != shopify.TopicInventoryConnect {
		return jsonResp(200, map[string]any{"ok": true, "message": "topic not processed"})
	}

	var payload InventoryLevelPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return errResp(400, "invalid payload")
	}
	if payload.InventoryItemID == 0 {
		return jsonResp(200, map[string]any{"ok": true, "message": "no inventory item in payload"})
	}
	if topic == shopify.TopicInventoryUpdate && payload.Available == nil {
		return jsonResp(200, map[string]any{"ok": true, "message": "no inventory change in payload"})
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

	deps := InventoryDeps{
		DDB:     ddb,
		Resolve: shopify.ResolveInventoryItem,
		Token:   shopify.TokenForShop,
		Users:   func(ctx context.Context, s string) ([]string, error) { return tenancy.UsersForShop(ctx, ddb, s) },
	}

	var results []ledger.SyncResult
	var procErr error
	if topic == shopify.TopicInventoryConnect {
		results, procErr = ProcessInventoryConnect(ctx, deps, shopDomain, payload)
	} else {
		results, procErr = ProcessInventoryEvent(ctx, deps, shopDomain, payload)
	}

	// One ledger row per webhook, success or not.
	if len(results) > 0 {
		if _, err := ledger.Append(ctx, deps.DDB, shopDomain, "", "webhook", results); err != nil {
			fmt.Printf("inventory-webhook: ledger append failed shop=%s: %v\n", shopDomain, err)
		}
	}

	if subs, err := deps.Users(ctx, shopDomain); err == nil {
		nowISO := time.Now().UTC().Format(time.RFC3339)
		for _, sub := range subs {
			_ = shopify.UpdateLastEvent(ctx, ddb, sub, shopDomain, nowISO, topic, webhookID)
		}
	}

	if procErr != nil {
		fmt.Printf("inventory-webhook: shop=%s item=%d failed: %v\n", shopDomain, payload.InventoryItemID, procErr)
		return jsonResp(200, map[string]any{"ok": false, "error": procErr.Error()})
	}

	success, failure := ledger.Counts(results)
	return jsonResp(200, map[string]any{
		"ok":           true,
		"successCount": success,
		"errorCount":   failure,
	})
}

// ProcessInventoryEvent resolves the inventory item to a SKU and overwrites
// the local stock level with Shopify's absolute quantity. Returns the sync
// results that go into the ledger; the error is non-nil only for failures
// that should also surface in the HTTP response body.
func ProcessInventoryEvent(ctx context.Context, deps InventoryDeps, shopDomain string, payload InventoryLevelPayload) ([]ledger.SyncResult, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	subs, err := deps.Users(ctx, shopDomain)
	if err != nil {
		return nil, fmt.Errorf("usersForShop: %w", err)
	}
	if len(subs) == 0 {
		// Shop not connected to anyone; nothing to sync.
		return nil, nil
	}

	token, err := deps.Token(ctx, subs, shopDomain)
	if err != nil {
		return []ledger.SyncResult{{
			Type:      ledger.ResultError,
			Message:   fmt.Sprintf("no usable access token: %v", err),
			Timestamp: now,
		}}, nil
	}

	resolved, err := deps.Resolve(ctx, shopDomain, token, payload.InventoryItemID)
	if err != nil {
		return []ledger.SyncResult{{
			Type:      ledger.ResultError,
			Message:   fmt.Sprintf("resolve inventory item %d: %v", payload.InventoryItemID, err),
			Timestamp: now,
		}}, nil
	}

	if resolved.SKU == "" {
		return []ledger.SyncResult{{
			Type:      ledger.ResultUnmapped,
			Message:   fmt.Sprintf("inventory item %d has no SKU", payload.InventoryItemID),
			Timestamp: now,
		}}, nil
	}

	variant, err := catalog.GetVariantBySKU(ctx, deps.DDB, shopDomain, resolved.SKU)
	if err != nil {
		return []ledger.SyncResult{{
			Type:      ledger.ResultError,
			Sku:       resolved.SKU,
			Message:   fmt.Sprintf("variant lookup: %v", err),
			Timestamp: now,
		}}, nil
	}
	if variant == nil {
		return []ledger.SyncResult{{
			Type:      ledger.ResultUnmapped,
			Sku:       resolved.SKU,
			Message:   "no local variant for SKU",
			Timestamp: now,
		}}, nil
	}

	newQty := *payload.Available
	delta := newQty - variant.StockQuantity

	if err := catalog.SetStock(ctx, deps.DDB, shopDomain, resolved.SKU, newQty); err != nil {
		return []ledger.SyncResult{{
			Type:      ledger.ResultError,
			Sku:       resolved.SKU,
			Message:   fmt.Sprintf("set stock: %v", err),
			Timestamp: now,
		}}, nil
	}
	_ = catalog.RememberInventoryItem(ctx, deps.DDB, shopDomain, resolved.SKU, payload.InventoryItemID)

	return []ledger.SyncResult{{
		Type:          ledger.ResultSuccess,
		Sku:           resolved.SKU,
		AddedQuantity: delta,
		NewQuantity:   newQty,
		Timestamp:     now,
	}}, nil
}

// ProcessInventoryConnect records the item to SKU mapping for a newly
// connected inventory level. Connect carries no trustworthy quantity, so the
// local stock level is never touched.
func ProcessInventoryConnect(ctx context.Context, deps InventoryDeps, shopDomain string, payload InventoryLevelPayload) ([]ledger.SyncResult, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	subs, err := deps.Users(ctx, shopDomain)
	if err != nil {
		return nil, fmt.Errorf("usersForShop: %w", err)
	}
	if len(subs) == 0 {
		return nil, nil
	}

	token, err := deps.Token(ctx, subs, shopDomain)
	if err != nil {
		return []ledger.SyncResult{{
			Type:      ledger.ResultError,
			Message:   fmt.Sprintf("no usable access token: %v", err),
			Timestamp: now,
		}}, nil
	}

	resolved, err := deps.Resolve(ctx, shopDomain, token, payload.InventoryItemID)
	if err != nil {
		return []ledger.SyncResult{{
			Type:      ledger.ResultError,
			Message:   fmt.Sprintf("resolve inventory item %d: %v", payload.InventoryItemID, err),
			Timestamp: now,
		}}, nil
	}
	if resolved.SKU == "" {
		return []ledger.SyncResult{{
			Type:      ledger.ResultUnmapped,
			Message:   fmt.Sprintf("inventory item %d has no SKU", payload.InventoryItemID),
			Timestamp: now,
		}}, nil
	}

	if err := catalog.RememberInventoryItem(ctx, deps.DDB, shopDomain, resolved.SKU, payload.InventoryItemID); err != nil {
		// Conditional failure means no local variant to hang the mapping on.
		return []ledger.SyncResult{{
			Type:      ledger.ResultUnmapped,
			Sku:       resolved.SKU,
			Message:   fmt.Sprintf("no local variant for SKU: %v", err),
			Timestamp: now,
		}}, nil
	}

	return []ledger.SyncResult{{
		Type:      ledger.ResultSuccess,
		Sku:       resolved.SKU,
		Message:   "inventory item mapped",
		Timestamp: now,
	}}, nil
}

func header(req events.APIGatewayV2HTTPRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
