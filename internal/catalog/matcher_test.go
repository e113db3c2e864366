package catalog

import "testing"

func TestNormalizeTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Ruana Azul / M", "RUANA-AZUL-M"},
		{"RUANA-AZUL-M", "RUANA-AZUL-M"},
		{"  poncho  gris | unica ", "PONCHO-GRIS-UNICA"},
		{"Falda_Negra.L", "FALDA-NEGRA-L"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeTitle(tc.in); got != tc.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMatchVariantExactKey(t *testing.T) {
	local := []string{"RUANA-AZUL-M", "RUANA-AZUL-L", "PONCHO-GRIS-UNICA"}

	v := ShopifyVariantInfo{
		ProductTitle: "Ruana Azul",
		Option1:      "M",
	}
	got := MatchVariant(v, local)
	if got == nil {
		t.Fatal("expected a match, got nil")
	}
	if got.SKU != "RUANA-AZUL-M" {
		t.Errorf("SKU = %q, want RUANA-AZUL-M", got.SKU)
	}
	if got.Method != "exact-key" {
		t.Errorf("Method = %q, want exact-key", got.Method)
	}
}

func TestMatchVariantTokenContainment(t *testing.T) {
	// No candidate key matches (SKUs carry an extra prefix), so the matcher
	// falls back to containment and must respect the size token.
	local := []string{"2024-RUANA-AZUL-M", "2024-RUANA-AZUL-L"}

	v := ShopifyVariantInfo{
		ProductTitle: "Ruana Azul",
		Option1:      "L",
	}
	got := MatchVariant(v, local)
	if got == nil {
		t.Fatal("expected a match, got nil")
	}
	if got.SKU != "2024-RUANA-AZUL-L" {
		t.Errorf("SKU = %q, want 2024-RUANA-AZUL-L", got.SKU)
	}
	if got.Method != "token-containment" {
		t.Errorf("Method = %q, want token-containment", got.Method)
	}
}

func TestMatchVariantNoMatch(t *testing.T) {
	local := []string{"RUANA-AZUL-M", "PONCHO-GRIS-UNICA"}

	cases := []struct {
		name string
		v    ShopifyVariantInfo
	}{
		{"unknown product", ShopifyVariantInfo{ProductTitle: "Bufanda Roja", Option1: "M"}},
		{"size not stocked", ShopifyVariantInfo{ProductTitle: "Ruana Azul", Option1: "XL"}},
		{"empty variant", ShopifyVariantInfo{}},
	}
	for _, tc := range cases {
		if got := MatchVariant(tc.v, local); got != nil {
			t.Errorf("%s: expected nil, got %+v", tc.name, got)
		}
	}
}
