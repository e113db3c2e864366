package catalog

import (
	"regexp"
	"strings"
)

// Artificial SKUs are placeholders minted during earlier imports (epoch
// millis, generated variant codes). They are safe to overwrite when a real
// SKU arrives from a product webhook; operator-assigned SKUs are not.
var (
	longDigitRun      = regexp.MustCompile(`\d{13}`)
	tenDigitRun       = regexp.MustCompile(`\d{10,}`)
	generatedSkuShape = regexp.MustCompile(`^[A-Z]+-[A-Z]-\d+-.+-V\d+-`)
	versionToken      = regexp.MustCompile(`(^|-)V\d+(-|$)`)
)

func IsArtificialSKU(sku string) bool {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return false
	}

	if strings.HasPrefix(sku, "SHOPIFY-") {
		return true
	}
	if longDigitRun.MatchString(sku) {
		return true
	}
	if generatedSkuShape.MatchString(sku) {
		return true
	}

	if strings.Count(sku, "-") >= 4 {
		if versionToken.MatchString(sku) || tenDigitRun.MatchString(sku) {
			return true
		}
	}
	return false
}
