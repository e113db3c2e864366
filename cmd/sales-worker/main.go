package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sewdle/internal/db"
	"sewdle/internal/sales"
	"sewdle/internal/shopify"
	"sewdle/internal/tenancy"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// EventBridge envelope as delivered through the SQS subscription.
type EBEvent struct {
	DetailType string         `json:"detail-type"`
	Source     string         `json:"source"`
	Time       string         `json:"time"`
	Detail     map[string]any `json:"detail"`
}

func handler(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		// Fail whole batch (infra issue)
		return events.SQSEventResponse{}, err
	}

	failures := make([]events.SQSBatchItemFailure, 0)

	for _, rec := range sqsEvent.Records {
		if err := processOne(ctx, ddb, rec.Body); err != nil {
			fmt.Printf("sales-worker: msgId=%s failed: %v\n", rec.MessageId, err)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}

	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

func processOne(ctx context.Context, ddb *dynamodb.Client, body string) error {
	var e EBEvent
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return fmt.Errorf("unmarshal eb event: %w", err)
	}

	meta := asMap(pickAny(e.Detail, "metadata"))
	topic := pickString(meta, "X-Shopify-Topic")
	shopDomain := pickString(meta, "X-Shopify-Shop-Domain")
	webhookID := pickString(meta, "X-Shopify-Webhook-Id")

	isOrder := strings.HasPrefix(topic, "orders/")
	isRefund := topic == shopify.TopicRefundsCreate
	if topic == "" || shopDomain == "" || (!isOrder && !isRefund) {
		// Not ours; treat as success (should not happen due to filter)
		return nil
	}

	raw, _ := json.Marshal(pickAny(e.Detail, "payload"))
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	// UpdateLastEvent (non-fatal)
	subs, err := tenancy.UsersForShop(ctx, ddb, shopDomain)
	if err != nil {
		return fmt.Errorf("usersForShop: %w", err)
	}
	nowISO := time.Now().UTC().Format(time.RFC3339)
	for _, sub := range subs {
		_ = shopify.UpdateLastEvent(ctx, ddb, sub, shopDomain, nowISO, topic, webhookID)
	}

	if isRefund {
		return recordRefund(ctx, ddb, shopDomain, payload)
	}
	return recordOrder(ctx, ddb, shopDomain, payload)
}

// recordOrder writes one sales record per line item. The conditional put in
// sales.Put drops replays, so orders/updated redeliveries of the same lines
// are harmless.
func recordOrder(ctx context.Context, ddb *dynamodb.Client, shopDomain string, order map[string]any) error {
	orderID := fmt.Sprintf("%v", pickAny(order, "id"))
	if orderID == "" || orderID == "<nil>" {
		return fmt.Errorf("missing order id")
	}

	status := pickString(order, "financial_status")
	processedAt := parseShopifyTime(pickString(order, "processed_at", "created_at", "updated_at"))

	lines, _ := pickAny(order, "line_items").([]any)
	for i, li := range lines {
		line := asMap(li)
		sku := strings.TrimSpace(pickString(line, "sku"))
		qty := asInt(pickAny(line, "quantity"))
		if sku == "" || qty == 0 {
			continue
		}

		unitPrice := asFloat(pickAny(line, "price"))
		r := sales.Record{
			Sku:             sku,
			ProductID:       stringify(pickAny(line, "product_id")),
			OrderID:         orderID,
			Quantity:        qty,
			Revenue:         unitPrice * float64(qty),
			FinancialStatus: status,
			ProcessedAt:     processedAt.Format(time.RFC3339),
		}
		if _, err := sales.Put(ctx, ddb, shopDomain, r, i); err != nil {
			return fmt.Errorf("put sale line %d: %w", i, err)
		}
	}
	return nil
}

// recordRefund writes negative-quantity records so velocity sums stay honest.
// The refund id keys the rows, so a refund never collides with its sale.
func recordRefund(ctx context.Context, ddb *dynamodb.Client, shopDomain string, refund map[string]any) error {
	refundID := fmt.Sprintf("%v", pickAny(refund, "id"))
	if refundID == "" || refundID == "<nil>" {
		return fmt.Errorf("missing refund id")
	}

	processedAt := parseShopifyTime(pickString(refund, "processed_at", "created_at"))

	lines, _ := pickAny(refund, "refund_line_items").([]any)
	for i, li := range lines {
		rli := asMap(li)
		qty := asInt(pickAny(rli, "quantity"))
		line := asMap(pickAny(rli, "line_item"))
		sku := strings.TrimSpace(pickString(line, "sku"))
		if sku == "" || qty == 0 {
			continue
		}

		unitPrice := asFloat(pickAny(line, "price"))
		r := sales.Record{
			Sku:             sku,
			ProductID:       stringify(pickAny(line, "product_id")),
			OrderID:         "refund-" + refundID,
			Quantity:        -qty,
			Revenue:         -unitPrice * float64(qty),
			FinancialStatus: "refunded",
			ProcessedAt:     processedAt.Format(time.RFC3339),
		}
		if _, err := sales.Put(ctx, ddb, shopDomain, r, i); err != nil {
			return fmt.Errorf("put refund line %d: %w", i, err)
		}
	}
	return nil
}

func parseShopifyTime(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

func pickString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func pickAny(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func main() { lambda.Start(handler) }
