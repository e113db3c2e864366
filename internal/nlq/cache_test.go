package nlq

import (
	"strings"
	"testing"
)

func TestNormalizeQuestion(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  How much   stock\tdo I have? ", "how much stock do i have?"},
		{"TOTAL UNITS", "total units"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeQuestion(tc.in); got != tc.want {
			t.Errorf("NormalizeQuestion(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestShopsKeyOrderIndependent(t *testing.T) {
	a := ShopsKey([]string{"b.myshopify.com", "a.myshopify.com"})
	b := ShopsKey([]string{"a.myshopify.com", "b.myshopify.com"})
	if a != b {
		t.Errorf("shop order must not change the key: %q vs %q", a, b)
	}
	if a != "a.myshopify.com,b.myshopify.com" {
		t.Errorf("ShopsKey = %q", a)
	}

	// The input slice must not be reordered in place.
	shops := []string{"z.myshopify.com", "a.myshopify.com"}
	ShopsKey(shops)
	if shops[0] != "z.myshopify.com" {
		t.Error("ShopsKey mutated its input")
	}
}

func TestMakeCacheSK(t *testing.T) {
	base := CacheKey{
		Shops:      []string{"a.myshopify.com"},
		TodayISO:   "2026-03-01",
		MaxDays:    60,
		SchemaHash: "abc",
		Question:   "total stock?",
	}

	sk1 := MakeCacheSK(base)
	if !strings.HasPrefix(sk1, "ASK#") {
		t.Errorf("SK = %q, want ASK# prefix", sk1)
	}

	// Whitespace and case changes in the question hit the same entry.
	sameQ := base
	sameQ.Question = "  Total   STOCK? "
	if MakeCacheSK(sameQ) != sk1 {
		t.Error("normalized question variants must share a cache key")
	}

	// Any other dimension change misses.
	for name, k := range map[string]CacheKey{
		"different day":    {Shops: base.Shops, TodayISO: "2026-03-02", MaxDays: 60, SchemaHash: "abc", Question: base.Question},
		"different shops":  {Shops: []string{"b.myshopify.com"}, TodayISO: base.TodayISO, MaxDays: 60, SchemaHash: "abc", Question: base.Question},
		"different schema": {Shops: base.Shops, TodayISO: base.TodayISO, MaxDays: 60, SchemaHash: "def", Question: base.Question},
		"different window": {Shops: base.Shops, TodayISO: base.TodayISO, MaxDays: 30, SchemaHash: "abc", Question: base.Question},
	} {
		if MakeCacheSK(k) == sk1 {
			t.Errorf("%s must produce a different cache key", name)
		}
	}
}
