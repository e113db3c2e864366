package deliveries

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sewdle/internal/db"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is one SKU line of a workshop delivery. QuantityApproved is what
// quality control accepted; that amount, and only that amount, should reach
// Shopify exactly once.
type Item struct {
	PK string `dynamodbav:"PK" json:"-"` // SHOP#<shop>
	SK string `dynamodbav:"SK" json:"-"` // DELIVERY#<id>#ITEM#<sku>

	DeliveryID        string `dynamodbav:"DeliveryID" json:"deliveryId"`
	Sku               string `dynamodbav:"Sku" json:"sku"`
	QuantityDelivered int    `dynamodbav:"QuantityDelivered" json:"quantityDelivered"`
	QuantityApproved  int    `dynamodbav:"QuantityApproved" json:"quantityApproved"`
	SyncedToShopify   bool   `dynamodbav:"SyncedToShopify" json:"syncedToShopify"`
	SyncErrorMessage  string `dynamodbav:"SyncErrorMessage,omitempty" json:"syncErrorMessage,omitempty"`
	SyncedAt          string `dynamodbav:"SyncedAt,omitempty" json:"syncedAt,omitempty"`
}

type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

func itemKey(shop, deliveryID, sku string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("SHOP#%s", shop)},
		"SK": &types.AttributeValueMemberS{Value: fmt.Sprintf("DELIVERY#%s#ITEM#%s", deliveryID, sku)},
	}
}

// PutItems records the lines of a delivery as they come out of quality
// control. Existing lines for the same (delivery, sku) are replaced, with
// their sync flags reset: re-recording a delivery means re-approving it.
func PutItems(ctx context.Context, ddb DDBClient, shop, deliveryID string, items []Item) error {
	table := strings.TrimSpace(db.DeliveriesTableName())
	if table == "" {
		return fmt.Errorf("DELIVERIES_TABLE not set")
	}

	for _, it := range items {
		it.PK = fmt.Sprintf("SHOP#%s", shop)
		it.SK = fmt.Sprintf("DELIVERY#%s#ITEM#%s", deliveryID, it.Sku)
		it.DeliveryID = deliveryID
		it.SyncedToShopify = false
		it.SyncErrorMessage = ""
		it.SyncedAt = ""

		av, err := attributevalue.MarshalMap(it)
		if err != nil {
			return err
		}
		if _, err := ddb.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(table),
			Item:      av,
		}); err != nil {
			return fmt.Errorf("put delivery item %s: %w", it.Sku, err)
		}
	}
	return nil
}

// ListItems returns every line of one delivery.
func ListItems(ctx context.Context, ddb DDBClient, shop, deliveryID string) ([]Item, error) {
	table := strings.TrimSpace(db.DeliveriesTableName())
	if table == "" {
		return nil, fmt.Errorf("DELIVERIES_TABLE not set")
	}

	out, err := ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :pref)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: fmt.Sprintf("SHOP#%s", shop)},
			":pref": &types.AttributeValueMemberS{Value: fmt.Sprintf("DELIVERY#%s#ITEM#", deliveryID)},
		},
	})
	if err != nil {
		return nil, err
	}

	var items []Item
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// MarkItemSynced flags a line as pushed. This runs after the Shopify call
// succeeds, so a crash between the two leaves the flag unset and a retry
// will push again; the reconciliation tool exists for exactly that window.
func MarkItemSynced(ctx context.Context, ddb DDBClient, shop, deliveryID, sku string) error {
	table := strings.TrimSpace(db.DeliveriesTableName())
	if table == "" {
		return fmt.Errorf("DELIVERIES_TABLE not set")
	}

	_, err := ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(table),
		Key:              itemKey(shop, deliveryID, sku),
		UpdateExpression: aws.String("SET SyncedToShopify = :t, SyncedAt = :at REMOVE SyncErrorMessage"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":  &types.AttributeValueMemberBOOL{Value: true},
			":at": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	return err
}

// SetItemError records why a line failed to push; surfaced to operators,
// never retried automatically.
func SetItemError(ctx context.Context, ddb DDBClient, shop, deliveryID, sku, message string) error {
	table := strings.TrimSpace(db.DeliveriesTableName())
	if table == "" {
		return fmt.Errorf("DELIVERIES_TABLE not set")
	}

	_, err := ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(table),
		Key:              itemKey(shop, deliveryID, sku),
		UpdateExpression: aws.String("SET SyncErrorMessage = :m"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m": &types.AttributeValueMemberS{Value: message},
		},
	})
	return err
}
