package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"sewdle/internal/db"
	"sewdle/internal/sales"
	"sewdle/internal/security"
	"sewdle/internal/shopify"
	"sewdle/internal/users"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// StorefrontHandler routes the Shopify integration surface: OAuth connect and
// callback, shop listing, disconnect, and the manual sales backfill.
func StorefrontHandler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if resp, ok := preflight(req); ok {
		return resp, nil
	}
	switch req.RawPath {
	case "/storefront/shopify/connect":
		return storefrontConnect(ctx, req)
	case "/storefront/shopify/callback":
		return storefrontCallback(ctx, req)
	case "/storefront/shopify/shops":
		if req.RequestContext.HTTP.Method == "GET" {
			return storefrontListShops(ctx, req)
		}
		if req.RequestContext.HTTP.Method == "DELETE" {
			return storefrontDisconnectShop(ctx, req)
		}
		return errResp(405, "method not allowed")
	case "/storefront/shopify/sales-sync":
		if req.RequestContext.HTTP.Method == "POST" {
			return storefrontSalesSync(ctx, req)
		}
		return errResp(405, "method not allowed")
	default:
		return errResp(404, "not found")
	}
}

func storefrontConnect(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, email, err := userSub(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	shop := strings.ToLower(strings.TrimSpace(req.QueryStringParameters["shop"]))
	if !isValidShopDomain(shop) {
		return errResp(400, "invalid shop (expected like your-store.myshopify.com)")
	}

	state, err := randomState(24)
	if err != nil {
		return errResp(500, "failed to generate state")
	}

	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		return errResp(500, "failed to init dynamodb")
	}

	// creates user topic + sends confirm email once
	awsCfg, _ := config.LoadDefaultConfig(ctx)
	users.EnsureUserEmailAlerts(ctx, ddb, sns.NewFromConfig(awsCfg), sub, email)

	stateTable := db.OAuthStateTableName()
	if strings.TrimSpace(stateTable) == "" {
		return errResp(500, "OAUTH_STATE_TABLE not set")
	}

	exp := time.Now().UTC().Add(10 * time.Minute).Unix()

	_, err = ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(stateTable),
		Item: map[string]types.AttributeValue{
			"State":          &types.AttributeValueMemberS{Value: state},
			"UserSub":        &types.AttributeValueMemberS{Value: sub},
			"Shop":           &types.AttributeValueMemberS{Value: shop},
			"ExpiresAtEpoch": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", exp)},
		},
	})
	if err != nil {
		return errResp(500, "failed to store oauth state")
	}

	apiKey := os.Getenv("SHOPIFY_API_KEY")
	scopes := strings.TrimSpace(os.Getenv("SHOPIFY_SCOPES"))
	redirectBase := strings.TrimRight(os.Getenv("SHOPIFY_REDIRECT_BASE"), "/")
	if apiKey == "" || scopes == "" || redirectBase == "" {
		return errResp(500, "missing SHOPIFY_* env vars")
	}

	redirectURI := redirectBase + "/storefront/shopify/callback"

	authorize := fmt.Sprintf("https://%s/admin/oauth/authorize", shop)
	u, _ := url.Parse(authorize)
	q := u.Query()
	q.Set("client_id", apiKey)
	q.Set("scope", scopes)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	u.RawQuery = q.Encode()

	return jsonResp(200, map[string]any{
		"authorizeUrl": u.String(),
	})
}

func storefrontCallback(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	params := req.QueryStringParameters

	shop := strings.ToLower(strings.TrimSpace(params["shop"]))
	code := strings.TrimSpace(params["code"])
	state := strings.TrimSpace(params["state"])
	hmacParam := strings.TrimSpace(params["hmac"])

	if !isValidShopDomain(shop) || code == "" || state == "" || hmacParam == "" {
		return errResp(400, "missing required oauth params")
	}

	secret := os.Getenv("SHOPIFY_API_SECRET")
	if secret == "" {
		return errResp(500, "SHOPIFY_API_SECRET not set")
	}
	if !shopify.VerifyOAuthHMAC(params, secret, hmacParam) {
		return errResp(400, "invalid hmac")
	}

	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		return errResp(500, "failed to init dynamodb")
	}

	// Validate state
	stateTable := db.OAuthStateTableName()
	out, err := ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(stateTable),
		Key: map[string]types.AttributeValue{
			"State": &types.AttributeValueMemberS{Value: state},
		},
	})
	if err != nil || out.Item == nil {
		return errResp(400, "invalid or expired state")
	}

	sub := attrS(out.Item["UserSub"])
	shopFromState := attrS(out.Item["Shop"])
	if sub == "" || shopFromState == "" || shopFromState != shop {
		return errResp(400, "state mismatch")
	}

	// Exchange code -> access token
	apiKey := os.Getenv("SHOPIFY_API_KEY")
	tokenURL := fmt.Sprintf("https://%s/admin/oauth/access_token", shop)

	body := map[string]string{
		"client_id":     apiKey,
		"client_secret": secret,
		"code":          code,
	}
	b, _ := json.Marshal(body)

	httpReq, _ := http.NewRequestWithContext(ctx, "POST", tokenURL, strings.NewReader(string(b)))
	httpReq.Header.Set("content-type", "application/json")

	httpRes, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return errResp(502, "token exchange failed")
	}
	defer httpRes.Body.Close()

	raw, _ := io.ReadAll(httpRes.Body)
	if httpRes.StatusCode < 200 || httpRes.StatusCode >= 300 {
		return errResp(502, fmt.Sprintf("token exchange failed: %s", string(raw)))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		Scope       string `json:"scope"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil || tok.AccessToken == "" {
		return errResp(502, "invalid token response")
	}

	// Encrypt token before storing
	keyB64 := os.Getenv("TOKEN_ENC_KEY_B64")
	key, err := security.LoadKeyFromBase64(keyB64)
	if err != nil {
		return errResp(500, "invalid TOKEN_ENC_KEY_B64")
	}

	encTok, err := security.SealToken(key, tok.AccessToken)
	if err != nil {
		return errResp(500, "failed to encrypt token")
	}

	intTable := db.IntegrationsTableName()
	if strings.TrimSpace(intTable) == "" {
		return errResp(500, "INTEGRATIONS_TABLE not set")
	}

	_, err = ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(intTable),
		Item: map[string]types.AttributeValue{
			"PK":             &types.AttributeValueMemberS{Value: fmt.Sprintf("USER#%s", sub)},
			"SK":             &types.AttributeValueMemberS{Value: fmt.Sprintf("SHOPIFY#%s", shop)},
			"Provider":       &types.AttributeValueMemberS{Value: "shopify"},
			"Shop":           &types.AttributeValueMemberS{Value: shop},
			"AccessTokenEnc": &types.AttributeValueMemberS{Value: encTok},
			"Scope":          &types.AttributeValueMemberS{Value: tok.Scope},
			"CreatedAt":      &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return errResp(500, "failed to store integration")
	}

	mapTable := db.ShopToUserTableName()
	if mapTable != "" {
		_, _ = ddb.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(mapTable),
			Item: map[string]types.AttributeValue{
				"PK":        &types.AttributeValueMemberS{Value: fmt.Sprintf("SHOP#%s", shop)},
				"SK":        &types.AttributeValueMemberS{Value: fmt.Sprintf("USER#%s", sub)},
				"Shop":      &types.AttributeValueMemberS{Value: shop},
				"UserSub":   &types.AttributeValueMemberS{Value: sub},
				"CreatedAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
			},
		})
	}

	// Subscribe this shop to the webhook topics the sync needs
	eventSourceArn := strings.TrimSpace(os.Getenv("SHOPIFY_EVENTBRIDGE_SOURCE_ARN"))
	shopify.SubscribeEventBridgeTopics(ctx, shop, shopify.APIVersion(), tok.AccessToken, eventSourceArn)

	// one-time state cleanup
	_, _ = ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(stateTable),
		Key: map[string]types.AttributeValue{
			"State": &types.AttributeValueMemberS{Value: state},
		},
	})

	fe := strings.TrimRight(os.Getenv("FRONTEND_BASE_URL"), "/")
	if fe == "" {
		fe = "/"
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: 302,
		Headers: map[string]string{
			"location": fe + "/storefront?connected=1&shop=" + url.QueryEscape(shop),
		},
	}, nil
}

func storefrontListShops(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, _, err := userSub(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	intTable := db.IntegrationsTableName()
	if strings.TrimSpace(intTable) == "" {
		return errResp(500, "INTEGRATIONS_TABLE not set")
	}

	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		return errResp(500, "failed to init dynamodb")
	}

	out, err := ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(intTable),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :pref)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: fmt.Sprintf("USER#%s", sub)},
			":pref": &types.AttributeValueMemberS{Value: "SHOPIFY#"},
		},
		Limit: aws.Int32(50),
	})
	if err != nil {
		return errResp(500, "query failed")
	}

	type ShopItem struct {
		Shop               string `json:"shop"`
		Scope              string `json:"scope"`
		CreatedAt          string `json:"createdAt"`
		LastSyncAt         string `json:"lastSyncAt"`
		LastEventAt        string `json:"lastEventAt"`
		LastEventTopic     string `json:"lastEventTopic"`
		LastEventWebhookId string `json:"lastEventWebhookId"`
	}

	items := make([]ShopItem, 0, len(out.Items))
	for _, it := range out.Items {
		items = append(items, ShopItem{
			Shop:               attrS(it["Shop"]),
			Scope:              attrS(it["Scope"]),
			CreatedAt:          attrS(it["CreatedAt"]),
			LastSyncAt:         attrS(it["LastSyncAt"]),
			LastEventAt:        attrS(it["LastEventAt"]),
			LastEventTopic:     attrS(it["LastEventTopic"]),
			LastEventWebhookId: attrS(it["LastEventWebhookId"]),
		})
	}

	return jsonResp(200, map[string]any{"items": items})
}

func storefrontDisconnectShop(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, _, err := userSub(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	shop := strings.ToLower(strings.TrimSpace(req.QueryStringParameters["shop"]))
	if !isValidShopDomain(shop) {
		return errResp(400, "invalid shop")
	}

	intTable := db.IntegrationsTableName()
	if strings.TrimSpace(intTable) == "" {
		return errResp(500, "INTEGRATIONS_TABLE not set")
	}

	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		return errResp(500, "failed to init dynamodb")
	}

	_, err = ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(intTable),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("USER#%s", sub)},
			"SK": &types.AttributeValueMemberS{Value: fmt.Sprintf("SHOPIFY#%s", shop)},
		},
	})
	if err != nil {
		return errResp(500, "delete failed")
	}

	return jsonResp(200, map[string]any{"ok": true})
}

type orderLineItem struct {
	Sku      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Product  struct {
		Id string `json:"id"`
	} `json:"product"`
	OriginalTotalSet struct {
		ShopMoney struct {
			Amount string `json:"amount"`
		} `json:"shopMoney"`
	} `json:"originalTotalSet"`
}

type orderNode struct {
	Id                     string `json:"id"`
	Name                   string `json:"name"`
	ProcessedAt            string `json:"processedAt"`
	UpdatedAt              string `json:"updatedAt"`
	DisplayFinancialStatus string `json:"displayFinancialStatus"`
	LineItems              struct {
		Edges []struct {
			Node orderLineItem `json:"node"`
		} `json:"edges"`
	} `json:"lineItems"`
}

type ordersPage struct {
	Orders struct {
		Edges []struct {
			Cursor string    `json:"cursor"`
			Node   orderNode `json:"node"`
		} `json:"edges"`
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
	} `json:"orders"`
}

// storefrontSalesSync backfills order line items into the sales table.
// Resumes from the shop's LastSyncAt watermark; webhook-driven ingestion
// covers the live path, this covers gaps and first connects.
func storefrontSalesSync(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, _, err := userSub(req)
	if err != nil {
		return errResp(401, "unauthorized")
	}

	shopDomain := strings.ToLower(strings.TrimSpace(req.QueryStringParameters["shop"]))
	if !isValidShopDomain(shopDomain) {
		return errResp(400, "invalid shop")
	}

	limit := 50
	if s := strings.TrimSpace(req.QueryStringParameters["limit"]); s != "" {
		if n, e := strconv.Atoi(s); e == nil && n >= 1 && n <= 200 {
			limit = n
		}
	}

	intTable := db.IntegrationsTableName()
	if strings.TrimSpace(intTable) == "" || strings.TrimSpace(db.SalesTableName()) == "" {
		return errResp(500, "tables not configured")
	}

	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		return errResp(500, "failed to init dynamodb")
	}

	accessToken, integ, err := shopify.LoadIntegrationAndDecryptToken(ctx, sub, shopDomain)
	if err != nil {
		return errResp(500, err.Error())
	}

	// Orders updated after LastSyncAt, or last 30 days on first sync.
	since := integ.LastSyncAt
	if since == "" {
		since = time.Now().UTC().Add(-30 * 24 * time.Hour).Format(time.RFC3339)
	}

	gqlQuery := `
query OrdersSync($first: Int!, $after: String, $q: String!) {
  orders(first: $first, after: $after, query: $q, sortKey: UPDATED_AT) {
    edges {
      cursor
      node {
        id
        name
        processedAt
        updatedAt
        displayFinancialStatus

        lineItems(first: 50) {
          edges {
            node {
              sku
              quantity
              product { id }
              originalTotalSet { shopMoney { amount } }
            }
          }
        }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

	q := fmt.Sprintf("updated_at:>=%s", since)

	created := 0
	skipped := 0
	var endCursor *string
	newestUpdatedAt := since

	for created+skipped < limit {
		first := 50
		if limit-(created+skipped) < first {
			first = limit - (created + skipped)
		}

		vars := map[string]any{
			"first": first,
			"after": endCursor,
			"q":     q,
		}

		resp, status, err := shopify.PostGraphQL[ordersPage](ctx, shopDomain, shopify.APIVersion(), accessToken, gqlQuery, vars)
		if err != nil {
			return errResp(502, "shopify request failed")
		}
		if status < 200 || status >= 300 {
			return errResp(502, fmt.Sprintf("shopify error status %d", status))
		}
		if len(resp.Errors) > 0 {
			return jsonResp(502, map[string]any{
				"error":  "shopify graphql returned errors",
				"errors": shopify.GraphQLErrorText(resp.Errors),
			})
		}

		edges := resp.Data.Orders.Edges
		if len(edges) == 0 {
			break
		}

		for _, e := range edges {
			o := e.Node

			if o.UpdatedAt != "" && o.UpdatedAt > newestUpdatedAt {
				newestUpdatedAt = o.UpdatedAt
			}

			orderID := o.Id
			if i := strings.LastIndex(orderID, "/"); i >= 0 {
				orderID = orderID[i+1:]
			}

			for li, le := range o.LineItems.Edges {
				ln := le.Node
				sku := strings.TrimSpace(ln.Sku)
				if sku == "" || ln.Quantity == 0 {
					continue
				}

				revenue, _ := strconv.ParseFloat(ln.OriginalTotalSet.ShopMoney.Amount, 64)

				isNew, err := sales.Put(ctx, ddb, shopDomain, sales.Record{
					Sku:             sku,
					ProductID:       ln.Product.Id,
					OrderID:         orderID,
					Quantity:        ln.Quantity,
					Revenue:         revenue,
					FinancialStatus: strings.ToLower(o.DisplayFinancialStatus),
					ProcessedAt:     o.ProcessedAt,
				}, li)
				if err != nil {
					return errResp(500, fmt.Sprintf("store sale failed: %v", err))
				}
				if isNew {
					created++
				} else {
					skipped++
				}
			}

			if created+skipped >= limit {
				break
			}
		}

		if !resp.Data.Orders.PageInfo.HasNextPage || resp.Data.Orders.PageInfo.EndCursor == "" {
			break
		}
		c := resp.Data.Orders.PageInfo.EndCursor
		endCursor = &c
	}

	// Persist LastSyncAt per shop so next sync continues
	_, _ = ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(intTable),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("USER#%s", sub)},
			"SK": &types.AttributeValueMemberS{Value: fmt.Sprintf("SHOPIFY#%s", shopDomain)},
		},
		UpdateExpression: aws.String("SET LastSyncAt = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberS{Value: newestUpdatedAt},
		},
	})

	return jsonResp(200, map[string]any{
		"ok":         true,
		"shop":       shopDomain,
		"created":    created,
		"skipped":    skipped,
		"lastSyncAt": newestUpdatedAt,
	})
}

func randomState(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
