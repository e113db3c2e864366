package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"sewdle/internal/db"
	"sewdle/internal/manifest"

	"github.com/aws/aws-lambda-go/events"
)

// ManifestHandler backs the warehouse scan-to-verify flow.
//
// PUT  /manifests            create/replace a manifest's expected lines
// GET  /manifests?manifestId=  list lines + progress
// POST /manifests/scan        record one barcode scan (last write wins)
func ManifestHandler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
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
	case req.RawPath == "/manifests" && req.RequestContext.HTTP.Method == "PUT":
		return manifestCreate(ctx, ddb, shopDomain, req.Body)
	case req.RawPath == "/manifests" && req.RequestContext.HTTP.Method == "GET":
		return manifestGet(ctx, ddb, shopDomain, req)
	case req.RawPath == "/manifests/scan" && req.RequestContext.HTTP.Method == "POST":
		return manifestScan(ctx, ddb, shopDomain, sub, req.Body)
	default:
		return errResp(404, "not found")
	}
}

type manifestCreateRequest struct {
	ManifestID string          `json:"manifestId"`
	Items      []manifest.Line `json:"items"`
}

func manifestCreate(ctx context.Context, ddb manifest.DDBClient, shopDomain, body string) (events.APIGatewayV2HTTPResponse, error) {
	var in manifestCreateRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return errResp(400, "invalid json body")
	}
	in.ManifestID = strings.TrimSpace(in.ManifestID)
	if in.ManifestID == "" || len(in.Items) == 0 {
		return errResp(400, "manifestId and items are required")
	}
	for i := range in.Items {
		in.Items[i].Sku = strings.TrimSpace(in.Items[i].Sku)
		if in.Items[i].Sku == "" || in.Items[i].ExpectedQuantity <= 0 {
			return errResp(400, "every item needs a sku and a positive quantity")
		}
	}

	if err := manifest.PutItems(ctx, ddb, shopDomain, in.ManifestID, in.Items); err != nil {
		return errResp(500, fmt.Sprintf("store manifest: %v", err))
	}

	return jsonResp(201, map[string]any{
		"ok":         true,
		"manifestId": in.ManifestID,
		"lines":      len(in.Items),
	})
}

func manifestGet(ctx context.Context, ddb manifest.DDBClient, shopDomain string, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	manifestID := strings.TrimSpace(req.QueryStringParameters["manifestId"])
	if manifestID == "" {
		return errResp(400, "manifestId is required")
	}

	items, err := manifest.ListItems(ctx, ddb, shopDomain, manifestID)
	if err != nil {
		return errResp(500, fmt.Sprintf("load manifest: %v", err))
	}

	return jsonResp(200, map[string]any{
		"manifestId": manifestID,
		"items":      items,
		"progress":   manifest.Summarize(manifestID, items),
	})
}

type manifestScanRequest struct {
	ManifestID string `json:"manifestId"`
	Code       string `json:"code"` // SKU or tracking number off the barcode
	Quantity   int    `json:"quantity"`
}

func manifestScan(ctx context.Context, ddb manifest.DDBClient, shopDomain, sub, body string) (events.APIGatewayV2HTTPResponse, error) {
	var in manifestScanRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return errResp(400, "invalid json body")
	}
	in.ManifestID = strings.TrimSpace(in.ManifestID)
	in.Code = strings.TrimSpace(in.Code)
	if in.ManifestID == "" || in.Code == "" || in.Quantity < 0 {
		return errResp(400, "manifestId, code and a non-negative quantity are required")
	}

	item, err := manifest.RecordScan(ctx, ddb, shopDomain, in.ManifestID, in.Code, in.Quantity, sub)
	if err != nil {
		return errResp(500, fmt.Sprintf("record scan: %v", err))
	}

	return jsonResp(200, map[string]any{
		"ok":   true,
		"item": item,
	})
}
