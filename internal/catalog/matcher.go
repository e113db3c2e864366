package catalog

import (
	"strings"
)

// Heuristic matcher for Shopify variants that carry no usable SKU. It builds
// candidate keys out of the product title and variant options and, failing
// that, falls back to substring containment over size/color tokens. This is
// best-effort: ambiguous titles can mismatch, so callers log every decision
// instead of trusting it blindly.

var sizeTokens = []string{"XS", "S", "M", "L", "XL", "XXL", "XXXL", "UNICA"}

// ShopifyVariantInfo is the subset of a webhook variant payload the matcher
// looks at.
type ShopifyVariantInfo struct {
	ProductTitle string
	VariantTitle string
	Option1      string
	Option2      string
}

// MatchCandidate pairs a local SKU with how it was matched, for logging.
type MatchCandidate struct {
	SKU    string
	Method string // "exact-key" or "token-containment"
	Key    string
}

// NormalizeTitle uppercases, strips accents-ish punctuation and collapses
// separators so "Ruana Azul / M" and "RUANA-AZUL-M" key the same.
func NormalizeTitle(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	repl := strings.NewReplacer("/", " ", "|", " ", "_", " ", ".", " ", ",", " ")
	s = repl.Replace(s)
	fields := strings.Fields(s)
	return strings.Join(fields, "-")
}

// CandidateKeys lists the normalized keys to try against the local SKU set,
// most specific first.
func CandidateKeys(v ShopifyVariantInfo) []string {
	var keys []string
	add := func(parts ...string) {
		filtered := parts[:0]
		for _, p := range parts {
			if strings.TrimSpace(p) != "" {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) == 0 {
			return
		}
		k := NormalizeTitle(strings.Join(filtered, " "))
		for _, existing := range keys {
			if existing == k {
				return
			}
		}
		keys = append(keys, k)
	}

	add(v.ProductTitle, v.Option1, v.Option2)
	add(v.ProductTitle, v.Option2, v.Option1)
	add(v.ProductTitle, v.VariantTitle)
	add(v.ProductTitle, v.Option1)
	add(v.ProductTitle)
	return keys
}

// MatchVariant resolves a Shopify variant against the local SKU set. Exact
// key lookup wins; otherwise containment of the product title plus a size
// token. Returns nil when nothing fits.
func MatchVariant(v ShopifyVariantInfo, localSKUs []string) *MatchCandidate {
	index := make(map[string]string, len(localSKUs))
	for _, sku := range localSKUs {
		index[NormalizeTitle(sku)] = sku
	}

	for _, key := range CandidateKeys(v) {
		if sku, ok := index[key]; ok {
			return &MatchCandidate{SKU: sku, Method: "exact-key", Key: key}
		}
	}

	// Fallback: the SKU must contain the normalized product title, and if
	// the variant names a size, the SKU must carry that size token too.
	title := NormalizeTitle(v.ProductTitle)
	if title == "" {
		return nil
	}
	size := sizeToken(v)

	for _, sku := range localSKUs {
		norm := NormalizeTitle(sku)
		if !strings.Contains(norm, title) {
			continue
		}
		if size != "" && !hasToken(norm, size) {
			continue
		}
		return &MatchCandidate{SKU: sku, Method: "token-containment", Key: title}
	}
	return nil
}

func sizeToken(v ShopifyVariantInfo) string {
	for _, raw := range []string{v.Option1, v.Option2, v.VariantTitle} {
		t := strings.ToUpper(strings.TrimSpace(raw))
		for _, s := range sizeTokens {
			if t == s {
				return s
			}
		}
	}
	return ""
}

func hasToken(normalizedSKU, token string) bool {
	for _, part := range strings.Split(normalizedSKU, "-") {
		if part == token {
			return true
		}
	}
	return false
}
