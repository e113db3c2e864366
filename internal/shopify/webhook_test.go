package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func signWebhook(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookHMAC(t *testing.T) {
	secret := "shpss_test_secret"
	body := []byte(`{"inventory_item_id":123,"available":42}`)
	valid := signWebhook(body, secret)

	if !VerifyWebhookHMAC(body, secret, valid) {
		t.Error("valid signature rejected")
	}
	if !VerifyWebhookHMAC(body, secret, "  "+valid+"  ") {
		t.Error("header whitespace should be tolerated")
	}

	// Any single-byte mutation of the body must fail verification.
	mutated := append([]byte(nil), body...)
	mutated[0] ^= 0x01
	if VerifyWebhookHMAC(mutated, secret, valid) {
		t.Error("mutated body accepted")
	}

	if VerifyWebhookHMAC(body, "wrong-secret", valid) {
		t.Error("wrong secret accepted")
	}
	if VerifyWebhookHMAC(body, secret, "") {
		t.Error("empty header accepted")
	}
	if VerifyWebhookHMAC(body, "", valid) {
		t.Error("empty secret accepted")
	}
}

func TestHMACEnforced(t *testing.T) {
	t.Setenv("WEBHOOK_HMAC_MODE", "")
	if !HMACEnforced() {
		t.Error("unset mode must enforce")
	}
	t.Setenv("WEBHOOK_HMAC_MODE", "log")
	if HMACEnforced() {
		t.Error("log mode must not enforce")
	}
	t.Setenv("WEBHOOK_HMAC_MODE", "strict")
	if !HMACEnforced() {
		t.Error("any other value must enforce")
	}
}

func TestVerifyOAuthHMAC(t *testing.T) {
	secret := "shpss_test_secret"
	params := map[string]string{
		"code":      "abc123",
		"shop":      "taller.myshopify.com",
		"state":     "nonce-1",
		"timestamp": "1700000000",
	}

	// Expected message: key-sorted params joined with &.
	msg := "code=abc123&shop=taller.myshopify.com&state=nonce-1&timestamp=1700000000"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	sig := hex.EncodeToString(mac.Sum(nil))

	withSig := map[string]string{}
	for k, v := range params {
		withSig[k] = v
	}
	withSig["hmac"] = sig

	if !VerifyOAuthHMAC(withSig, secret, sig) {
		t.Error("valid oauth hmac rejected")
	}

	// hmac and signature params stay out of the signed message.
	withSig["signature"] = "garbage"
	if !VerifyOAuthHMAC(withSig, secret, sig) {
		t.Error("signature param must be excluded from the message")
	}

	withSig["shop"] = "evil.myshopify.com"
	if VerifyOAuthHMAC(withSig, secret, sig) {
		t.Error("tampered params accepted")
	}
}
