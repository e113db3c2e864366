package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func userSub(req events.APIGatewayV2HTTPRequest) (string, string, error) {
	// For HTTP API JWT authorizer, claims are in:
	// req.RequestContext.Authorizer.JWT.Claims
	if req.RequestContext.Authorizer.JWT.Claims == nil {
		return "", "", errors.New("missing authorizer claims")
	}
	claims := req.RequestContext.Authorizer.JWT.Claims
	sub := strings.TrimSpace(claims["sub"])
	if sub == "" {
		return "", "", fmt.Errorf("missing sub")
	}
	email := strings.TrimSpace(claims["email"])
	return sub, email, nil
}

func jsonResp(status int, v any) (events.APIGatewayV2HTTPResponse, error) {
	b, _ := json.Marshal(v)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers: map[string]string{
			"content-type":                "application/json",
			"access-control-allow-origin": "*",
		},
		Body: string(b),
	}, nil
}

// preflight answers CORS OPTIONS before any auth or method checks: the
// browser sends it without credentials, so a 401 there blocks every call.
func preflight(req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, bool) {
	if req.RequestContext.HTTP.Method != "OPTIONS" {
		return events.APIGatewayV2HTTPResponse{}, false
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: 200,
		Headers: map[string]string{
			"access-control-allow-origin":  "*",
			"access-control-allow-methods": "GET,POST,PUT,DELETE,OPTIONS",
			"access-control-allow-headers": "authorization,content-type",
		},
	}, true
}

func errResp(status int, msg string) (events.APIGatewayV2HTTPResponse, error) {
	return jsonResp(status, map[string]any{
		"error": msg,
	})
}

func attrS(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func isValidShopDomain(shop string) bool {
	if !strings.HasSuffix(shop, ".myshopify.com") {
		return false
	}
	if strings.Contains(shop, "/") || strings.Contains(shop, " ") {
		return false
	}
	return len(shop) >= len("a.myshopify.com")
}

func intersectAllowed(requested, allowed []string) []string {
	if len(requested) == 0 {
		return allowed
	}
	allowedSet := map[string]bool{}
	for _, a := range allowed {
		allowedSet[strings.ToLower(strings.TrimSpace(a))] = true
	}
	out := make([]string, 0, len(requested))
	seen := map[string]bool{}
	for _, r := range requested {
		r2 := strings.TrimSpace(r)
		if r2 == "" {
			continue
		}
		k := strings.ToLower(r2)
		if !allowedSet[k] || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r2)
	}
	return out
}
