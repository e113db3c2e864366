package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sewdle/internal/catalog"
	"sewdle/internal/db"
	"sewdle/internal/ledger"
	"sewdle/internal/recon"
	"sewdle/internal/shopify"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// ReconHandler is the duplication detector and fixer.
//
// GET  /recon/duplicates?shop=&deliveryId=   detect (read-only)
// POST /recon/fix                             apply compensating adjustments
func ReconHandler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if resp, ok := preflight(req); ok {
		return resp, nil
	}
	switch {
	case req.RawPath == "/recon/duplicates" && req.RequestContext.HTTP.Method == "GET":
		return reconDetect(ctx, req)
	case req.RawPath == "/recon/fix" && req.RequestContext.HTTP.Method == "POST":
		return reconFix(ctx, req)
	default:
		return errResp(404, "not found")
	}
}

func reconDetect(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, _, err := userSub(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	shopDomain := strings.ToLower(strings.TrimSpace(req.QueryStringParameters["shop"]))
	if !isValidShopDomain(shopDomain) {
		return errResp(400, "invalid shop")
	}

	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		return errResp(500, "failed to init dynamodb")
	}
	if !shopAllowed(ctx, ddb, sub, shopDomain) {
		return errResp(403, "shop not connected to this user")
	}

	entries, err := ledger.ListForShop(ctx, ddb, shopDomain)
	if err != nil {
		return errResp(500, fmt.Sprintf("load ledger: %v", err))
	}

	dups, err := recon.Detect(entries)
	if err != nil {
		return errResp(500, fmt.Sprintf("detect: %v", err))
	}
	if deliveryID := strings.TrimSpace(req.QueryStringParameters["deliveryId"]); deliveryID != "" {
		dups = recon.FilterDelivery(dups, deliveryID)
	}

	return jsonResp(200, map[string]any{
		"shop":       shopDomain,
		"duplicates": dups,
	})
}

type reconFixRequest struct {
	DeliveryID string `json:"deliveryId"`
	Sku        string `json:"sku,omitempty"` // limit the fix to one SKU
	Force      bool   `json:"force"`         // also fix non-uniform duplicates
}

// reconFix re-detects before fixing so the numbers are current, applies a
// negative inventory adjustment of the duplicated quantity, and writes a
// correction ledger row. The correction trigger keeps the detector from
// counting the fix as yet another sync, which makes the fixer idempotent:
// running it twice finds nothing the second time.
func reconFix(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, _, err := userSub(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	shopDomain := strings.ToLower(strings.TrimSpace(req.QueryStringParameters["shop"]))
	if !isValidShopDomain(shopDomain) {
		return errResp(400, "invalid shop")
	}

	var in reconFixRequest
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

	entries, err := ledger.ListForShop(ctx, ddb, shopDomain)
	if err != nil {
		return errResp(500, fmt.Sprintf("load ledger: %v", err))
	}
	dups, err := recon.Detect(entries)
	if err != nil {
		return errResp(500, fmt.Sprintf("detect: %v", err))
	}
	dups = recon.FilterDelivery(dups, in.DeliveryID)

	accessToken, _, err := shopify.LoadIntegrationAndDecryptToken(ctx, sub, shopDomain)
	if err != nil {
		return errResp(500, err.Error())
	}
	locationGID, err := shopify.PrimaryLocationGID(ctx, shopDomain, accessToken)
	if err != nil {
		return errResp(502, fmt.Sprintf("resolve location: %v", err))
	}

	var results []ledger.SyncResult
	skippedNonUniform := 0

	for _, d := range dups {
		if in.Sku != "" && !strings.EqualFold(d.Sku, in.Sku) {
			continue
		}
		if !d.Uniform && !in.Force {
			// Differing quantities may be legitimate partial syncs; an
			// operator has to confirm before we subtract anything.
			skippedNonUniform++
			continue
		}

		res := applyCorrection(ctx, ddb, shopDomain, accessToken, locationGID, d)
		res.Timestamp = time.Now().UTC().Format(time.RFC3339)
		results = append(results, res)
	}

	if len(results) > 0 {
		if _, err := ledger.Append(ctx, ddb, shopDomain, in.DeliveryID, "correction", results); err != nil {
			return errResp(500, fmt.Sprintf("ledger append: %v", err))
		}
	}

	success, failure := ledger.Counts(results)
	return jsonResp(200, map[string]any{
		"ok":                failure == 0,
		"deliveryId":        in.DeliveryID,
		"fixed":             success,
		"errors":            failure,
		"skippedNonUniform": skippedNonUniform,
		"results":           results,
	})
}

func applyCorrection(ctx context.Context, ddb *dynamodb.Client, shopDomain, accessToken, locationGID string, d recon.Duplicate) ledger.SyncResult {
	variant, err := catalog.GetVariantBySKU(ctx, ddb, shopDomain, d.Sku)
	if err != nil {
		return ledger.SyncResult{Type: ledger.ResultError, Sku: d.Sku, Message: fmt.Sprintf("variant lookup: %v", err)}
	}
	if variant == nil {
		return ledger.SyncResult{Type: ledger.ResultUnmapped, Sku: d.Sku, Message: "no local variant for SKU"}
	}

	itemGID := ""
	if variant.InventoryItemID != 0 {
		itemGID = fmt.Sprintf("gid://shopify/InventoryItem/%d", variant.InventoryItemID)
	} else {
		itemGID, err = shopify.LookupInventoryItemGID(ctx, shopDomain, accessToken, d.Sku)
		if err != nil {
			return ledger.SyncResult{Type: ledger.ResultError, Sku: d.Sku, Message: fmt.Sprintf("inventory item lookup: %v", err)}
		}
	}

	if err := shopify.AdjustInventory(ctx, shopDomain, accessToken, itemGID, locationGID, -d.DuplicatedQuantity, "correction"); err != nil {
		return ledger.SyncResult{Type: ledger.ResultError, Sku: d.Sku, Message: fmt.Sprintf("shopify adjust: %v", err)}
	}

	newQty := variant.StockQuantity - d.DuplicatedQuantity
	if err := catalog.SetStock(ctx, ddb, shopDomain, d.Sku, newQty); err != nil {
		fmt.Printf("recon-fix: local stock update failed shop=%s sku=%s: %v\n", shopDomain, d.Sku, err)
	}

	return ledger.SyncResult{
		Type:          ledger.ResultSuccess,
		Sku:           d.Sku,
		AddedQuantity: -d.DuplicatedQuantity,
		NewQuantity:   newQty,
		Message:       fmt.Sprintf("corrected %d duplicated units across %d syncs", d.DuplicatedQuantity, d.SyncCount),
	}
}
