package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Webhook topics Sewdle consumes.
const (
	TopicInventoryUpdate  = "inventory_levels/update"
	TopicInventoryConnect = "inventory_levels/connect"
	TopicProductCreate    = "products/create"
	TopicProductUpdate    = "products/update"
	TopicOrdersCreate     = "orders/create"
	TopicRefundsCreate    = "refunds/create"
)

// VerifyWebhookHMAC checks X-Shopify-Hmac-Sha256 against the raw request
// body: HMAC-SHA256 with the shared secret, base64-encoded.
func VerifyWebhookHMAC(body []byte, secret, headerB64 string) bool {
	headerB64 = strings.TrimSpace(headerB64)
	if secret == "" || headerB64 == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(headerB64))
}

// HMACEnforced reports whether a bad signature must reject the request.
// WEBHOOK_HMAC_MODE=log downgrades mismatches to a warning; anything else
// (including unset) enforces.
func HMACEnforced() bool {
	return strings.ToLower(strings.TrimSpace(os.Getenv("WEBHOOK_HMAC_MODE"))) != "log"
}

// VerifyOAuthHMAC checks the hex "hmac" query param Shopify attaches to
// OAuth callbacks: key-sorted params joined with &, hmac/signature excluded.
func VerifyOAuthHMAC(params map[string]string, secret, providedHex string) bool {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, params[k]))
	}
	msg := strings.Join(parts, "&")

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(msg))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(providedHex)))
}
