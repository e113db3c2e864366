package handlers

import (
	"context"
	"testing"

	"github.com/aws/aws-lambda-go/events"
)

func optionsReq(path string) events.APIGatewayV2HTTPRequest {
	return events.APIGatewayV2HTTPRequest{
		RawPath: path,
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{Method: "OPTIONS"},
		},
	}
}

// Preflight carries no Authorization header, so it must be answered before
// the JWT and method checks get a chance to reject it.
func TestPreflightAnsweredBeforeAuth(t *testing.T) {
	cases := map[string]func(context.Context, events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error){
		"deliveries":    DeliveriesHandler,
		"delivery-sync": DeliverySyncHandler,
		"manifests":     ManifestHandler,
		"recon":         ReconHandler,
		"storefront":    StorefrontHandler,
		"velocity":      VelocityHandler,
	}
	for name, h := range cases {
		resp, err := h(context.Background(), optionsReq("/"+name))
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if resp.StatusCode != 200 {
			t.Errorf("%s: OPTIONS status = %d, want 200", name, resp.StatusCode)
		}
		if resp.Headers["access-control-allow-origin"] != "*" {
			t.Errorf("%s: missing CORS origin header", name)
		}
		if resp.Headers["access-control-allow-headers"] == "" {
			t.Errorf("%s: missing CORS allow-headers", name)
		}
	}
}
