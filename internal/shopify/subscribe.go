package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type webhookCreateReq struct {
	Webhook struct {
		Address string `json:"address"`
		Topic   string `json:"topic"`
		Format  string `json:"format"`
	} `json:"webhook"`
}

// CreateEventBridgeWebhook registers one topic whose address is the
// EventBridge partner event source ARN.
func CreateEventBridgeWebhook(ctx context.Context, shopDomain, apiVersion, accessToken, topic, eventSourceArn string) (string, error) {
	url := fmt.Sprintf("https://%s/admin/api/%s/webhooks.json", shopDomain, apiVersion)

	var payload webhookCreateReq
	payload.Webhook.Address = eventSourceArn
	payload.Webhook.Topic = topic
	payload.Webhook.Format = "json"

	b, _ := json.Marshal(payload)

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", accessToken)

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("create webhook failed: http %d: %s", res.StatusCode, string(raw))
	}

	return topic, nil
}

// SubscribeEventBridgeTopics subscribes a newly connected shop to everything
// the sync pipeline consumes. Order events arrive via EventBridge/SQS; the
// inventory and product topics also hit the HTTP webhook Lambdas directly.
func SubscribeEventBridgeTopics(ctx context.Context, shopDomain, apiVersion, accessToken, eventSourceArn string) (created []string, failed []map[string]string) {
	topics := []string{
		TopicInventoryUpdate,
		TopicInventoryConnect,
		TopicProductCreate,
		TopicProductUpdate,
		"orders/create",
		"orders/updated",
		"refunds/create",
	}

	for _, t := range topics {
		_, err := CreateEventBridgeWebhook(ctx, shopDomain, apiVersion, accessToken, t, eventSourceArn)
		if err != nil {
			failed = append(failed, map[string]string{"topic": t, "error": err.Error()})
			continue
		}
		created = append(created, t)
	}
	return created, failed
}
