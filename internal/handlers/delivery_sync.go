package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sewdle/internal/catalog"
	"sewdle/internal/db"
	"sewdle/internal/deliveries"
	"sewdle/internal/ledger"
	"sewdle/internal/shopify"
	"sewdle/internal/tenancy"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

type deliverySyncRequest struct {
	DeliveryID string `json:"deliveryId"`
	Force      bool   `json:"force"` // re-push lines already marked synced
}

// DeliverySyncHandler pushes a delivery's approved quantities into Shopify.
//
// Each line is adjusted, marked, and logged independently: a failure on one
// SKU doesn't roll back the others. Lines already flagged SyncedToShopify are
// skipped unless force is set, which is what makes operator double-clicks
// harmless.
func DeliverySyncHandler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if resp, ok := preflight(req); ok {
		return resp, nil
	}
	if req.RequestContext.HTTP.Method != "POST" {
		return errResp(405, "method not allowed")
	}

	sub, _, err := userSub(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	shopDomain := strings.ToLower(strings.TrimSpace(req.QueryStringParameters["shop"]))
	if !isValidShopDomain(shopDomain) {
		return errResp(400, "invalid shop")
	}

	var in deliverySyncRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return errResp(400, "invalid json body")
	}
	in.DeliveryID = strings.TrimSpace(in.DeliveryID)
	if in.DeliveryID == "" {
		return errResp(400, "deliveryId is required")
	}

	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		return errResp(500, "failed to init dynamodb")
	}

	if !shopAllowed(ctx, ddb, sub, shopDomain) {
		return errResp(403, "shop not connected to this user")
	}

	accessToken, _, err := shopify.LoadIntegrationAndDecryptToken(ctx, sub, shopDomain)
	if err != nil {
		return errResp(500, err.Error())
	}

	items, err := deliveries.ListItems(ctx, ddb, shopDomain, in.DeliveryID)
	if err != nil {
		return errResp(500, fmt.Sprintf("load delivery: %v", err))
	}
	if len(items) == 0 {
		return errResp(404, "delivery has no items")
	}

	locationGID, err := shopify.PrimaryLocationGID(ctx, shopDomain, accessToken)
	if err != nil {
		return errResp(502, fmt.Sprintf("resolve location: %v", err))
	}

	results := make([]ledger.SyncResult, 0, len(items))
	now := func() string { return time.Now().UTC().Format(time.RFC3339) }

	for _, it := range items {
		if it.QuantityApproved <= 0 {
			continue
		}
		if it.SyncedToShopify && !in.Force {
			continue
		}

		res := syncDeliveryItem(ctx, ddb, shopDomain, accessToken, locationGID, in.DeliveryID, it)
		res.Timestamp = now()
		results = append(results, res)
	}

	if len(results) == 0 {
		return jsonResp(200, map[string]any{
			"ok":      true,
			"message": "nothing to sync",
		})
	}

	entry, err := ledger.Append(ctx, ddb, shopDomain, in.DeliveryID, "manual", results)
	if err != nil {
		return errResp(500, fmt.Sprintf("ledger append: %v", err))
	}

	success, failure := ledger.Counts(results)
	return jsonResp(200, map[string]any{
		"ok":           failure == 0,
		"deliveryId":   in.DeliveryID,
		"successCount": success,
		"errorCount":   failure,
		"logId":        entry.SK,
		"results":      results,
	})
}

func syncDeliveryItem(ctx context.Context, ddb *dynamodb.Client, shopDomain, accessToken, locationGID, deliveryID string, it deliveries.Item) ledger.SyncResult {
	fail := func(msg string) ledger.SyncResult {
		_ = deliveries.SetItemError(ctx, ddb, shopDomain, deliveryID, it.Sku, msg)
		return ledger.SyncResult{Type: ledger.ResultError, Sku: it.Sku, Message: msg}
	}

	variant, err := catalog.GetVariantBySKU(ctx, ddb, shopDomain, it.Sku)
	if err != nil {
		return fail(fmt.Sprintf("variant lookup: %v", err))
	}
	if variant == nil {
		_ = deliveries.SetItemError(ctx, ddb, shopDomain, deliveryID, it.Sku, "no local variant for SKU")
		return ledger.SyncResult{Type: ledger.ResultUnmapped, Sku: it.Sku, Message: "no local variant for SKU"}
	}

	itemGID := ""
	if variant.InventoryItemID != 0 {
		itemGID = fmt.Sprintf("gid://shopify/InventoryItem/%d", variant.InventoryItemID)
	} else {
		itemGID, err = shopify.LookupInventoryItemGID(ctx, shopDomain, accessToken, it.Sku)
		if err != nil {
			return fail(fmt.Sprintf("inventory item lookup: %v", err))
		}
	}

	if err := shopify.AdjustInventory(ctx, shopDomain, accessToken, itemGID, locationGID, it.QuantityApproved, "received"); err != nil {
		return fail(fmt.Sprintf("shopify adjust: %v", err))
	}

	// Shopify accepted the delta; record it locally. The inventory webhook
	// will land with the authoritative absolute value shortly after.
	newQty := variant.StockQuantity + it.QuantityApproved
	if err := catalog.SetStock(ctx, ddb, shopDomain, it.Sku, newQty); err != nil {
		fmt.Printf("delivery-sync: local stock update failed shop=%s sku=%s: %v\n", shopDomain, it.Sku, err)
	}
	if err := deliveries.MarkItemSynced(ctx, ddb, shopDomain, deliveryID, it.Sku); err != nil {
		fmt.Printf("delivery-sync: mark synced failed shop=%s sku=%s: %v\n", shopDomain, it.Sku, err)
	}

	return ledger.SyncResult{
		Type:          ledger.ResultSuccess,
		Sku:           it.Sku,
		AddedQuantity: it.QuantityApproved,
		NewQuantity:   newQty,
	}
}

func shopAllowed(ctx context.Context, ddb *dynamodb.Client, sub, shopDomain string) bool {
	allowed, err := tenancy.GetAllowedShopsByUserSub(ctx, ddb, sub)
	if err != nil {
		return false
	}
	for _, s := range allowed {
		if strings.EqualFold(s, shopDomain) {
			return true
		}
	}
	return false
}
