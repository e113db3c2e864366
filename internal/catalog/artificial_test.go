package catalog

import "testing"

func TestIsArtificialSKU(t *testing.T) {
	cases := []struct {
		sku  string
		want bool
	}{
		{"", false},
		{"RUANA-AZUL-M", false},
		{"PONCHO-GRIS-UNICA", false},
		{"TEE-RED-M", false},
		{"SHOPIFY-12345", true},
		{"shopify-12345", false}, // prefix check is case-sensitive on purpose
		{"1700000000000", true},  // epoch millis
		{"SKU-1700000000000-X", true},
		{"ABC-X-123-FOO-V2-RED", true},
		{"A-B-C-D-V3-E", true},          // many separators + version token
		{"A-B-C-D-1234567890-E", true},  // many separators + long digit run
		{"A-B-C-D-E", false},            // many separators alone is not enough
		{"RUANA-AZUL-M-V2", false},      // too few separators for the version rule
		{"  RUANA-AZUL-M  ", false},     // trimmed before checks
	}

	for _, tc := range cases {
		if got := IsArtificialSKU(tc.sku); got != tc.want {
			t.Errorf("IsArtificialSKU(%q) = %v, want %v", tc.sku, got, tc.want)
		}
	}
}
