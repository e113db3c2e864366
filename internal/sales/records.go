package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sewdle/internal/db"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Record is one order line item as it landed from Shopify. Keyed per
// (shop, SKU) with a time-ordered sort key so velocity queries are a single
// range read.
type Record struct {
	PK string `dynamodbav:"PK" json:"-"` // SHOP#<shop>#SKU#<sku>
	SK string `dynamodbav:"SK" json:"id"`

	Sku             string  `dynamodbav:"Sku" json:"sku"`
	ProductID       string  `dynamodbav:"ProductID" json:"productId"`
	OrderID         string  `dynamodbav:"OrderID" json:"orderId"`
	Quantity        int     `dynamodbav:"Quantity" json:"quantity"`
	Revenue         float64 `dynamodbav:"Revenue" json:"revenue"`
	FinancialStatus string  `dynamodbav:"FinancialStatus" json:"financialStatus"`
	ProcessedAt     string  `dynamodbav:"ProcessedAt" json:"processedAt"`
}

type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Fixed-width timestamp layout for sort keys. RFC3339Nano drops trailing
// fractional zeros, which breaks lexicographic ordering within a second.
const skTimeLayout = "2006-01-02T15:04:05.000000000Z"

func recordPK(shop, sku string) string {
	return fmt.Sprintf("SHOP#%s#SKU#%s", shop, sku)
}

// Put stores one line item idempotently: the (order, line) identity is baked
// into the sort key and a conditional put drops replays. Returns true when
// the record was new.
func Put(ctx context.Context, ddb DDBClient, shop string, r Record, lineIndex int) (bool, error) {
	table := strings.TrimSpace(db.SalesTableName())
	if table == "" {
		return false, fmt.Errorf("SALES_TABLE not set")
	}

	tm, err := time.Parse(time.RFC3339, r.ProcessedAt)
	if err != nil {
		tm = time.Now().UTC()
		r.ProcessedAt = tm.Format(time.RFC3339)
	}

	r.PK = recordPK(shop, r.Sku)
	r.SK = fmt.Sprintf("%s#ORDER#%s#%d", tm.UTC().Format(skTimeLayout), r.OrderID, lineIndex)

	av, err := attributevalue.MarshalMap(r)
	if err != nil {
		return false, err
	}

	_, err = ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// QuerySince returns a SKU's line items processed on or after the cutoff,
// restricted to the statuses velocity counts: paid, partially_paid, and the
// negative refund rows that compensate them.
func QuerySince(ctx context.Context, ddb DDBClient, shop, sku string, since time.Time) ([]Record, error) {
	table := strings.TrimSpace(db.SalesTableName())
	if table == "" {
		return nil, fmt.Errorf("SALES_TABLE not set")
	}

	var all []Record
	var startKey map[string]types.AttributeValue
	for {
		out, err := ddb.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(table),
			KeyConditionExpression: aws.String("PK = :pk AND SK >= :since"),
			FilterExpression:       aws.String("FinancialStatus IN (:paid, :partial, :refunded)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":       &types.AttributeValueMemberS{Value: recordPK(shop, sku)},
				":since":    &types.AttributeValueMemberS{Value: since.UTC().Format(skTimeLayout)},
				":paid":     &types.AttributeValueMemberS{Value: "paid"},
				":partial":  &types.AttributeValueMemberS{Value: "partially_paid"},
				":refunded": &types.AttributeValueMemberS{Value: "refunded"},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}

		var page []Record
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
