package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sewdle/internal/catalog"
	"sewdle/internal/db"
	"sewdle/internal/etl"
	"sewdle/internal/sales"
	"sewdle/internal/velocity"

	"github.com/aws/aws-lambda-go/events"
)

// VelocityHandler ranks a shop's products by 60-day sales velocity.
//
// GET /velocity?shop=<domain>&status=<bucket>
func VelocityHandler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if resp, ok := preflight(req); ok {
		return resp, nil
	}
	if req.RequestContext.HTTP.Method != "GET" {
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

	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		return errResp(500, "failed to init dynamodb")
	}
	if !shopAllowed(ctx, ddb, sub, shopDomain) {
		return errResp(403, "shop not connected to this user")
	}

	variants, err := catalog.ListVariants(ctx, ddb, shopDomain)
	if err != nil {
		return errResp(500, fmt.Sprintf("list variants: %v", err))
	}
	if len(variants) == 0 {
		return jsonResp(200, map[string]any{"shop": shopDomain, "products": []velocity.ProductRank{}})
	}

	since := time.Now().UTC().AddDate(0, 0, -velocity.WindowDays)

	rows := make([]velocity.VariantSales, 0, len(variants))
	for _, v := range variants {
		vs := velocity.VariantSales{
			Sku:           v.Sku,
			ProductID:     v.ProductID,
			ProductTitle:  v.ProductTitle,
			StockQuantity: v.StockQuantity,
		}

		recs, err := sales.QuerySince(ctx, ddb, shopDomain, v.Sku, since)
		if err != nil {
			return errResp(500, fmt.Sprintf("sales query %s: %v", v.Sku, err))
		}
		for _, r := range recs {
			vs.UnitsSold60 += r.Quantity
			vs.Revenue60 += r.Revenue
		}

		points, daysWithStock, err := etl.HistoryStats(ctx, ddb, shopDomain, v.Sku, since)
		if err != nil {
			return errResp(500, fmt.Sprintf("stock history %s: %v", v.Sku, err))
		}
		vs.HistoryPoints = points
		vs.DaysWithStock = daysWithStock

		rows = append(rows, vs)
	}

	ranked := velocity.Rank(rows)

	if status := strings.TrimSpace(req.QueryStringParameters["status"]); status != "" {
		filtered := make([]velocity.ProductRank, 0, len(ranked))
		for _, p := range ranked {
			if p.Status == status {
				filtered = append(filtered, p)
			}
		}
		ranked = filtered
	}

	return jsonResp(200, map[string]any{
		"shop":       shopDomain,
		"windowDays": velocity.WindowDays,
		"products":   ranked,
	})
}
