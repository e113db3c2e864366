package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"sewdle/internal/db"
	"sewdle/internal/deliveries"
	"sewdle/internal/ledger"

	"github.com/aws/aws-lambda-go/events"
)

// DeliveriesHandler records and inspects workshop deliveries.
//
// PUT /deliveries                       create/replace a delivery's lines
// GET /deliveries?deliveryId=           list lines
// GET /deliveries/history?deliveryId=   the delivery's ledger rows
// GET /deliveries/ledger                the shop's ledger, paginated
func DeliveriesHandler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if resp, ok := preflight(req); ok {
		return resp, nil
	}

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

	switch {
	case req.RawPath == "/deliveries" && req.RequestContext.HTTP.Method == "PUT":
		return deliveryCreate(ctx, ddb, shopDomain, req.Body)
	case req.RawPath == "/deliveries" && req.RequestContext.HTTP.Method == "GET":
		return deliveryList(ctx, ddb, shopDomain, req)
	case req.RawPath == "/deliveries/history" && req.RequestContext.HTTP.Method == "GET":
		return deliveryHistory(ctx, ddb, shopDomain, req)
	case req.RawPath == "/deliveries/ledger" && req.RequestContext.HTTP.Method == "GET":
		return ledgerList(ctx, ddb, shopDomain, req)
	default:
		return errResp(404, "not found")
	}
}

type deliveryCreateRequest struct {
	DeliveryID string `json:"deliveryId"`
	Items      []struct {
		Sku               string `json:"sku"`
		QuantityDelivered int    `json:"quantityDelivered"`
		QuantityApproved  int    `json:"quantityApproved"`
	} `json:"items"`
}

func deliveryCreate(ctx context.Context, ddb deliveries.DDBClient, shopDomain, body string) (events.APIGatewayV2HTTPResponse, error) {
	var in deliveryCreateRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return errResp(400, "invalid json body")
	}
	in.DeliveryID = strings.TrimSpace(in.DeliveryID)
	if in.DeliveryID == "" || len(in.Items) == 0 {
		return errResp(400, "deliveryId and items are required")
	}

	lines := make([]deliveries.Item, 0, len(in.Items))
	for _, it := range in.Items {
		sku := strings.TrimSpace(it.Sku)
		if sku == "" || it.QuantityDelivered < 0 || it.QuantityApproved < 0 {
			return errResp(400, "every item needs a sku and non-negative quantities")
		}
		if it.QuantityApproved > it.QuantityDelivered {
			return errResp(400, fmt.Sprintf("sku %s: approved exceeds delivered", sku))
		}
		lines = append(lines, deliveries.Item{
			Sku:               sku,
			QuantityDelivered: it.QuantityDelivered,
			QuantityApproved:  it.QuantityApproved,
		})
	}

	if err := deliveries.PutItems(ctx, ddb, shopDomain, in.DeliveryID, lines); err != nil {
		return errResp(500, fmt.Sprintf("store delivery: %v", err))
	}

	return jsonResp(201, map[string]any{
		"ok":         true,
		"deliveryId": in.DeliveryID,
		"lines":      len(lines),
	})
}

func deliveryList(ctx context.Context, ddb deliveries.DDBClient, shopDomain string, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	deliveryID := strings.TrimSpace(req.QueryStringParameters["deliveryId"])
	if deliveryID == "" {
		return errResp(400, "deliveryId is required")
	}

	items, err := deliveries.ListItems(ctx, ddb, shopDomain, deliveryID)
	if err != nil {
		return errResp(500, fmt.Sprintf("load delivery: %v", err))
	}

	return jsonResp(200, map[string]any{
		"deliveryId": deliveryID,
		"items":      items,
	})
}

// ledgerList is the audit view: every sync row for the shop, newest first,
// cursor-paginated.
func ledgerList(ctx context.Context, ddb deliveries.DDBClient, shopDomain string, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	limit := int32(50)
	if s := strings.TrimSpace(req.QueryStringParameters["limit"]); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= 200 {
			limit = int32(n)
		}
	}

	page, err := ledger.ListForShopPage(ctx, ddb, shopDomain, limit, req.QueryStringParameters["nextToken"])
	if err != nil {
		if strings.Contains(err.Error(), "nextToken") {
			return errResp(400, err.Error())
		}
		return errResp(500, fmt.Sprintf("load ledger: %v", err))
	}

	rows := make([]map[string]any, 0, len(page.Entries))
	for _, e := range page.Entries {
		results, derr := ledger.DecodeResults(e.Results)
		if derr != nil {
			return errResp(500, fmt.Sprintf("decode results for %s: %v", e.SK, derr))
		}
		rows = append(rows, map[string]any{
			"id":           e.SK,
			"deliveryId":   e.DeliveryID,
			"trigger":      e.Trigger,
			"successCount": e.SuccessCount,
			"errorCount":   e.ErrorCount,
			"syncedAt":     e.SyncedAt,
			"results":      results,
		})
	}

	return jsonResp(200, map[string]any{
		"shop":      shopDomain,
		"entries":   rows,
		"nextToken": page.NextToken,
	})
}

func deliveryHistory(ctx context.Context, ddb deliveries.DDBClient, shopDomain string, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	deliveryID := strings.TrimSpace(req.QueryStringParameters["deliveryId"])
	if deliveryID == "" {
		return errResp(400, "deliveryId is required")
	}

	entries, err := ledger.ListForDelivery(ctx, ddb, shopDomain, deliveryID)
	if err != nil {
		return errResp(500, fmt.Sprintf("load history: %v", err))
	}

	type historyRow struct {
		ID           string              `json:"id"`
		Trigger      string              `json:"trigger"`
		SuccessCount int                 `json:"successCount"`
		ErrorCount   int                 `json:"errorCount"`
		SyncedAt     string              `json:"syncedAt"`
		Results      []ledger.SyncResult `json:"results"`
	}

	rows := make([]historyRow, 0, len(entries))
	for _, e := range entries {
		results, derr := ledger.DecodeResults(e.Results)
		if derr != nil {
			return errResp(500, fmt.Sprintf("decode results for %s: %v", e.SK, derr))
		}
		rows = append(rows, historyRow{
			ID:           e.SK,
			Trigger:      e.Trigger,
			SuccessCount: e.SuccessCount,
			ErrorCount:   e.ErrorCount,
			SyncedAt:     e.SyncedAt,
			Results:      results,
		})
	}

	return jsonResp(200, map[string]any{
		"deliveryId": deliveryID,
		"entries":    rows,
	})
}
