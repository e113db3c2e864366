package shopify

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// WebhookSecret resolves the webhook shared secret. Preference order:
// SSM parameter named by WEBHOOK_SECRET_PARAM (SecureString), then the
// SHOPIFY_WEBHOOK_SECRET env var for local/dev setups.
func WebhookSecret(ctx context.Context) (string, error) {
	param := strings.TrimSpace(os.Getenv("WEBHOOK_SECRET_PARAM"))
	if param == "" {
		if v := strings.TrimSpace(os.Getenv("SHOPIFY_WEBHOOK_SECRET")); v != "" {
			return v, nil
		}
		return "", fmt.Errorf("neither WEBHOOK_SECRET_PARAM nor SHOPIFY_WEBHOOK_SECRET is set")
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return "", err
	}
	return webhookSecretFromSSM(ctx, ssm.NewFromConfig(cfg), param)
}

func webhookSecretFromSSM(ctx context.Context, c SSMClient, param string) (string, error) {
	out, err := c.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm GetParameter %s: %w", param, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("ssm parameter %s is empty", param)
	}
	return aws.ToString(out.Parameter.Value), nil
}
