package shopify

import (
	"context"
	"fmt"
	"os"
	"strings"
)

func envLocationGID() string {
	return os.Getenv("SHOPIFY_LOCATION_GID")
}

type inventoryItemPage struct {
	InventoryItem struct {
		Id      string `json:"id"`
		Sku     string `json:"sku"`
		Variant struct {
			Id      string `json:"id"`
			Title   string `json:"title"`
			Product struct {
				Id    string `json:"id"`
				Title string `json:"title"`
			} `json:"product"`
		} `json:"variant"`
	} `json:"inventoryItem"`
}

// ResolvedItem is what a Shopify inventory_item_id maps back to.
type ResolvedItem struct {
	SKU          string
	VariantGID   string
	ProductGID   string
	ProductTitle string
	VariantTitle string
}

// ResolveInventoryItem looks up the canonical SKU for a numeric
// inventory_item_id via the Admin GraphQL API. A blank SKU is returned as-is;
// the caller decides whether that is an unmapped case.
func ResolveInventoryItem(ctx context.Context, shopDomain, accessToken string, inventoryItemID int64) (*ResolvedItem, error) {
	gid := fmt.Sprintf("gid://shopify/InventoryItem/%d", inventoryItemID)

	query := `
query ItemSku($id: ID!) {
  inventoryItem(id: $id) {
    id
    sku
    variant {
      id
      title
      product { id title }
    }
  }
}`

	resp, status, err := PostGraphQL[inventoryItemPage](ctx, shopDomain, APIVersion(), accessToken, query, map[string]any{"id": gid})
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("shopify inventoryItem lookup: http %d", status)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("shopify inventoryItem lookup: %s", GraphQLErrorText(resp.Errors))
	}
	if resp.Data.InventoryItem.Id == "" {
		return nil, fmt.Errorf("inventory item %d not found", inventoryItemID)
	}

	it := resp.Data.InventoryItem
	return &ResolvedItem{
		SKU:          strings.TrimSpace(it.Sku),
		VariantGID:   it.Variant.Id,
		ProductGID:   it.Variant.Product.Id,
		ProductTitle: it.Variant.Product.Title,
		VariantTitle: it.Variant.Title,
	}, nil
}

type variantSearchPage struct {
	ProductVariants struct {
		Edges []struct {
			Node struct {
				Id            string `json:"id"`
				Sku           string `json:"sku"`
				InventoryItem struct {
					Id string `json:"id"`
				} `json:"inventoryItem"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"productVariants"`
}

// LookupInventoryItemGID finds the inventory item backing a SKU. Shopify's
// sku: query is a prefix match, so the exact SKU is re-checked on the result.
func LookupInventoryItemGID(ctx context.Context, shopDomain, accessToken, sku string) (string, error) {
	query := `
query VariantBySku($q: String!) {
  productVariants(first: 5, query: $q) {
    edges {
      node {
        id
        sku
        inventoryItem { id }
      }
    }
  }
}`

	resp, status, err := PostGraphQL[variantSearchPage](ctx, shopDomain, APIVersion(), accessToken, query, map[string]any{
		"q": fmt.Sprintf("sku:%q", sku),
	})
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("shopify productVariants lookup: http %d", status)
	}
	if len(resp.Errors) > 0 {
		return "", fmt.Errorf("shopify productVariants lookup: %s", GraphQLErrorText(resp.Errors))
	}

	for _, e := range resp.Data.ProductVariants.Edges {
		if strings.EqualFold(strings.TrimSpace(e.Node.Sku), strings.TrimSpace(sku)) {
			return e.Node.InventoryItem.Id, nil
		}
	}
	return "", fmt.Errorf("no shopify variant with sku %q", sku)
}

type locationsPage struct {
	Locations struct {
		Edges []struct {
			Node struct {
				Id string `json:"id"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"locations"`
}

// PrimaryLocationGID returns the shop's first active location. Single-location
// shops are the norm for the workshops we serve; SHOPIFY_LOCATION_GID
// overrides for anyone else.
func PrimaryLocationGID(ctx context.Context, shopDomain, accessToken string) (string, error) {
	if v := strings.TrimSpace(envLocationGID()); v != "" {
		return v, nil
	}

	query := `
query FirstLocation {
  locations(first: 1) {
    edges { node { id } }
  }
}`

	resp, status, err := PostGraphQL[locationsPage](ctx, shopDomain, APIVersion(), accessToken, query, nil)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("shopify locations lookup: http %d", status)
	}
	if len(resp.Errors) > 0 {
		return "", fmt.Errorf("shopify locations lookup: %s", GraphQLErrorText(resp.Errors))
	}
	edges := resp.Data.Locations.Edges
	if len(edges) == 0 {
		return "", fmt.Errorf("shop %s has no locations", shopDomain)
	}
	return edges[0].Node.Id, nil
}

type adjustPage struct {
	InventoryAdjustQuantities struct {
		UserErrors []struct {
			Field   []string `json:"field"`
			Message string   `json:"message"`
		} `json:"userErrors"`
	} `json:"inventoryAdjustQuantities"`
}

// AdjustInventory posts a delta against the available quantity of one
// inventory item at one location. Used both by delivery sync (positive) and
// the duplication fixer's compensating adjustment (negative). Irreversible.
func AdjustInventory(ctx context.Context, shopDomain, accessToken, inventoryItemGID, locationGID string, delta int, reason string) error {
	if reason == "" {
		reason = "correction"
	}

	mutation := `
mutation AdjustStock($input: InventoryAdjustQuantitiesInput!) {
  inventoryAdjustQuantities(input: $input) {
    userErrors { field message }
  }
}`

	vars := map[string]any{
		"input": map[string]any{
			"reason": reason,
			"name":   "available",
			"changes": []map[string]any{
				{
					"inventoryItemId": inventoryItemGID,
					"locationId":      locationGID,
					"delta":           delta,
				},
			},
		},
	}

	resp, status, err := PostGraphQL[adjustPage](ctx, shopDomain, APIVersion(), accessToken, mutation, vars)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("shopify inventoryAdjustQuantities: http %d", status)
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("shopify inventoryAdjustQuantities: %s", GraphQLErrorText(resp.Errors))
	}
	if ues := resp.Data.InventoryAdjustQuantities.UserErrors; len(ues) > 0 {
		msgs := make([]string, 0, len(ues))
		for _, ue := range ues {
			msgs = append(msgs, ue.Message)
		}
		return fmt.Errorf("shopify inventoryAdjustQuantities: %s", strings.Join(msgs, "; "))
	}
	return nil
}
