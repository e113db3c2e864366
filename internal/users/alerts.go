package users

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"sewdle/internal/db"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

func UserPK(sub string) string {
	return fmt.Sprintf("USER#%s", sub)
}

func shortHashSub(sub string) string {
	h := sha1.Sum([]byte(sub))
	// 8 bytes -> 16 hex chars, stable and short
	return hex.EncodeToString(h[:8])
}

// EnsureUserEmailAlerts ensures:
// - an SNS topic exists for the operator
// - an email subscription exists for their address (confirmed once by email)
// - Users table stores AlertsTopicArn
//
// Returns topicArn.
func EnsureUserEmailAlerts(ctx context.Context, ddb *dynamodb.Client, snsClient *sns.Client, sub, email string) (string, error) {
	sub = strings.TrimSpace(sub)
	email = strings.TrimSpace(email)

	if sub == "" || email == "" {
		return "", nil
	}

	stage := strings.TrimSpace(os.Getenv("ALERTS_STAGE"))
	if stage == "" {
		stage = "dev"
	}

	existing, _ := GetAlertsTopicArn(ctx, ddb, sub)
	if existing != "" {
		return existing, nil
	}

	// SNS topic names must be simple (no slashes, etc.)
	topicName := fmt.Sprintf("sewdle-sync-alerts-%s-%s", stage, shortHashSub(sub))

	ct, err := snsClient.CreateTopic(ctx, &sns.CreateTopicInput{
		Name: aws.String(topicName),
	})
	if err != nil {
		return "", err
	}
	topicArn := aws.ToString(ct.TopicArn)

	_, err = snsClient.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn: aws.String(topicArn),
		Protocol: aws.String("email"),
		Endpoint: aws.String(email),
	})
	if err != nil {
		return "", err
	}

	tbl := strings.TrimSpace(db.UsersTableName())
	if tbl != "" {
		_, _ = ddb.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(tbl),
			Item: map[string]types.AttributeValue{
				"PK":             &types.AttributeValueMemberS{Value: UserPK(sub)},
				"Email":          &types.AttributeValueMemberS{Value: email},
				"AlertsTopicArn": &types.AttributeValueMemberS{Value: topicArn},
				"UpdatedAt":      &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
			},
		})
	}

	return topicArn, nil
}

func GetAlertsTopicArn(ctx context.Context, ddb *dynamodb.Client, sub string) (string, error) {
	tbl := strings.TrimSpace(db.UsersTableName())
	if tbl == "" || strings.TrimSpace(sub) == "" {
		return "", nil
	}

	out, err := ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(tbl),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: UserPK(sub)},
		},
	})
	if err != nil || out.Item == nil {
		return "", err
	}

	if v, ok := out.Item["AlertsTopicArn"].(*types.AttributeValueMemberS); ok {
		return v.Value, nil
	}
	return "", nil
}

// PublishSyncAlert fans one alert out to every operator of the shop that has
// a confirmed topic. Failures are logged and skipped; alerting must never
// block the sync path.
func PublishSyncAlert(ctx context.Context, ddb *dynamodb.Client, snsClient *sns.Client, subs []string, subject, message string) int {
	sent := 0
	for _, sub := range subs {
		arn, err := GetAlertsTopicArn(ctx, ddb, sub)
		if err != nil || arn == "" {
			continue
		}
		_, err = snsClient.Publish(ctx, &sns.PublishInput{
			TopicArn: aws.String(arn),
			Subject:  aws.String(subject),
			Message:  aws.String(message),
		})
		if err != nil {
			fmt.Printf("alert publish failed sub=%s: %v\n", sub, err)
			continue
		}
		sent++
	}
	return sent
}
