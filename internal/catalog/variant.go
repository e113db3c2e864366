package catalog

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

// ProductVariant is the single mutable stock quantity of record. Webhooks
// and sync jobs write StockQuantity; everything else reads it.
type ProductVariant struct {
	PK string `dynamodbav:"PK" json:"-"` // SHOP#<shop>
	SK string `dynamodbav:"SK" json:"-"` // SKU#<sku>

	Sku             string `dynamodbav:"Sku" json:"sku"`
	StockQuantity   int    `dynamodbav:"StockQuantity" json:"stockQuantity"`
	ProductID       string `dynamodbav:"ProductID" json:"productId"`
	ProductTitle    string `dynamodbav:"ProductTitle" json:"productTitle"`
	VariantTitle    string `dynamodbav:"VariantTitle" json:"variantTitle"`
	InventoryItemID int64  `dynamodbav:"InventoryItemID,omitempty" json:"inventoryItemId,omitempty"`
	UpdatedAt       string `dynamodbav:"UpdatedAt" json:"updatedAt"`
}

type DDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

func variantKey(shop, sku string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("SHOP#%s", shop)},
		"SK": &types.AttributeValueMemberS{Value: fmt.Sprintf("SKU#%s", sku)},
	}
}

// GetVariantBySKU does the exact-match lookup. (nil, nil) means unmapped;
// the caller records the miss, never fabricates a match.
func GetVariantBySKU(ctx context.Context, ddb DDBClient, shop, sku string) (*ProductVariant, error) {
	table := strings.TrimSpace(db.ProductVariantsTableName())
	if table == "" {
		return nil, fmt.Errorf("PRODUCT_VARIANTS_TABLE not set")
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, fmt.Errorf("empty sku")
	}

	out, err := ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       variantKey(shop, sku),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}

	var v ProductVariant
	if err := attributevalue.UnmarshalMap(out.Item, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func PutVariant(ctx context.Context, ddb DDBClient, shop string, v ProductVariant) error {
	table := strings.TrimSpace(db.ProductVariantsTableName())
	if table == "" {
		return fmt.Errorf("PRODUCT_VARIANTS_TABLE not set")
	}

	v.PK = fmt.Sprintf("SHOP#%s", shop)
	v.SK = fmt.Sprintf("SKU#%s", v.Sku)
	if v.UpdatedAt == "" {
		v.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	av, err := attributevalue.MarshalMap(v)
	if err != nil {
		return err
	}

	_, err = ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      av,
	})
	return err
}

// SetStock overwrites StockQuantity with the webhook's absolute value.
func SetStock(ctx context.Context, ddb DDBClient, shop, sku string, quantity int) error {
	table := strings.TrimSpace(db.ProductVariantsTableName())
	if table == "" {
		return fmt.Errorf("PRODUCT_VARIANTS_TABLE not set")
	}

	_, err := ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(table),
		Key:                 variantKey(shop, sku),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		UpdateExpression:    aws.String("SET StockQuantity = :q, UpdatedAt = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", quantity)},
			":t": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	return err
}

// RememberInventoryItem caches the Shopify inventory_item_id on a variant so
// later webhooks can skip the GraphQL round trip.
func RememberInventoryItem(ctx context.Context, ddb DDBClient, shop, sku string, inventoryItemID int64) error {
	table := strings.TrimSpace(db.ProductVariantsTableName())
	if table == "" {
		return fmt.Errorf("PRODUCT_VARIANTS_TABLE not set")
	}

	_, err := ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(table),
		Key:                 variantKey(shop, sku),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		UpdateExpression:    aws.String("SET InventoryItemID = :i"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":i": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", inventoryItemID)},
		},
	})
	return err
}

// ListVariants pages through every variant of a shop.
func ListVariants(ctx context.Context, ddb DDBClient, shop string) ([]ProductVariant, error) {
	table := strings.TrimSpace(db.ProductVariantsTableName())
	if table == "" {
		return nil, fmt.Errorf("PRODUCT_VARIANTS_TABLE not set")
	}

	var all []ProductVariant
	var startKey map[string]types.AttributeValue
	for {
		out, err := ddb.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(table),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :pref)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":   &types.AttributeValueMemberS{Value: fmt.Sprintf("SHOP#%s", shop)},
				":pref": &types.AttributeValueMemberS{Value: "SKU#"},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}

		var page []ProductVariant
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return all, nil
}
