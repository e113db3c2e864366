package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sewdle/internal/db"
	"sewdle/internal/ledger"
	"sewdle/internal/tenancy"
	"sewdle/internal/users"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Scheduled digest: scans the last day of sync logs per shop and notifies
// operators whose syncs had failures. Shops with a clean day stay quiet.
func handler(ctx context.Context, _ events.CloudWatchEvent) (map[string]any, error) {
	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		return nil, err
	}
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	snsClient := sns.NewFromConfig(awsCfg)

	shops, err := listShops(ctx, ddb)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	alerted := 0
	checked := 0

	for _, shop := range shops {
		checked++

		entries, err := ledger.ListForShop(ctx, ddb, shop)
		if err != nil {
			fmt.Printf("sync-alerts: shop=%s list logs failed: %v\n", shop, err)
			continue
		}

		failedSyncs := 0
		failedItems := 0
		for _, e := range entries {
			at, err := time.Parse(time.RFC3339, e.SyncedAt)
			if err != nil || at.Before(cutoff) {
				continue
			}
			if e.ErrorCount > 0 {
				failedSyncs++
				failedItems += e.ErrorCount
			}
		}
		if failedSyncs == 0 {
			continue
		}

		subs, err := tenancy.UsersForShop(ctx, ddb, shop)
		if err != nil || len(subs) == 0 {
			continue
		}

		subject := fmt.Sprintf("Sewdle: %d failed syncs for %s", failedSyncs, shop)
		message := strings.Join([]string{
			"Sewdle sync report (last 24h)",
			"",
			fmt.Sprintf("Shop: %s", shop),
			fmt.Sprintf("Syncs with failures: %d", failedSyncs),
			fmt.Sprintf("Items that failed to sync: %d", failedItems),
			"",
			"Open the sync history in the dashboard for per-item detail.",
		}, "\n")

		alerted += users.PublishSyncAlert(ctx, ddb, snsClient, subs, subject, message)
	}

	return map[string]any{"ok": true, "shops": checked, "published": alerted}, nil
}

// listShops scans the shop-to-user mapping and dedupes the shop domains.
// The table stays small (one row per operator-shop pair) so a scan is fine.
func listShops(ctx context.Context, ddb *dynamodb.Client) ([]string, error) {
	table := strings.TrimSpace(db.ShopToUserTableName())
	if table == "" {
		return nil, fmt.Errorf("SHOP_TO_USER_TABLE not set")
	}

	seen := map[string]bool{}
	var shops []string
	var startKey map[string]types.AttributeValue

	for {
		out, err := ddb.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(table),
			ProjectionExpression: aws.String("#s"),
			ExpressionAttributeNames: map[string]string{
				"#s": "Shop",
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan shop_to_user: %w", err)
		}
		for _, it := range out.Items {
			if v, ok := it["Shop"].(*types.AttributeValueMemberS); ok {
				shop := strings.TrimSpace(v.Value)
				if shop != "" && !seen[shop] {
					seen[shop] = true
					shops = append(shops, shop)
				}
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return shops, nil
}

func main() { lambda.Start(handler) }
