package ledger

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sewdle/internal/db"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Entry is one append-only sync log row: what was attempted and how it went.
// Rows are never mutated; reconciliation treats them as ground truth.
type Entry struct {
	PK string `dynamodbav:"PK" json:"-"` // SHOP#<shop>
	SK string `dynamodbav:"SK" json:"id"`

	DeliveryID   string `dynamodbav:"DeliveryID,omitempty" json:"deliveryId,omitempty"`
	Trigger      string `dynamodbav:"Trigger" json:"trigger"` // webhook | manual | correction
	Results      string `dynamodbav:"Results" json:"-"`       // JSON, see DecodeResults
	SuccessCount int    `dynamodbav:"SuccessCount" json:"successCount"`
	ErrorCount   int    `dynamodbav:"ErrorCount" json:"errorCount"`
	SyncedAt     string `dynamodbav:"SyncedAt" json:"syncedAt"`
}

type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Append writes one row. deliveryID may be empty (webhook-triggered syncs).
func Append(ctx context.Context, ddb DDBClient, shop, deliveryID, trigger string, results []SyncResult) (*Entry, error) {
	table := strings.TrimSpace(db.SyncLogsTableName())
	if table == "" {
		return nil, fmt.Errorf("SYNC_LOGS_TABLE not set")
	}

	raw, err := EncodeResults(results)
	if err != nil {
		return nil, err
	}
	success, failure := Counts(results)

	now := time.Now().UTC()
	e := Entry{
		PK:           fmt.Sprintf("SHOP#%s", shop),
		SK:           fmt.Sprintf("LOG#%s#%s", now.Format(time.RFC3339Nano), randHex(4)),
		DeliveryID:   deliveryID,
		Trigger:      trigger,
		Results:      raw,
		SuccessCount: success,
		ErrorCount:   failure,
		SyncedAt:     now.Format(time.RFC3339),
	}

	av, err := attributevalue.MarshalMap(e)
	if err != nil {
		return nil, err
	}

	// Append-only: refuse to clobber an existing row.
	_, err = ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListForShop returns all ledger rows for a shop, oldest first.
func ListForShop(ctx context.Context, ddb DDBClient, shop string) ([]Entry, error) {
	table := strings.TrimSpace(db.SyncLogsTableName())
	if table == "" {
		return nil, fmt.Errorf("SYNC_LOGS_TABLE not set")
	}

	var all []Entry
	var startKey map[string]types.AttributeValue
	for {
		out, err := ddb.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(table),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :pref)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":   &types.AttributeValueMemberS{Value: fmt.Sprintf("SHOP#%s", shop)},
				":pref": &types.AttributeValueMemberS{Value: "LOG#"},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}

		var page []Entry
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

// Page is one bounded slice of a shop's ledger plus the cursor to continue
// from. An empty NextToken means the read is exhausted.
type Page struct {
	Entries   []Entry
	NextToken string
}

// ListForShopPage reads one page of a shop's ledger, newest first. nextToken
// is the opaque cursor returned by the previous page; empty starts over.
func ListForShopPage(ctx context.Context, ddb DDBClient, shop string, limit int32, nextToken string) (*Page, error) {
	table := strings.TrimSpace(db.SyncLogsTableName())
	if table == "" {
		return nil, fmt.Errorf("SYNC_LOGS_TABLE not set")
	}

	startKey, err := DecodePageToken(nextToken)
	if err != nil {
		return nil, err
	}

	out, err := ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :pref)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: fmt.Sprintf("SHOP#%s", shop)},
			":pref": &types.AttributeValueMemberS{Value: "LOG#"},
		},
		ScanIndexForward:  aws.Bool(false),
		Limit:             aws.Int32(limit),
		ExclusiveStartKey: startKey,
	})
	if err != nil {
		return nil, err
	}

	var entries []Entry
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &entries); err != nil {
		return nil, err
	}
	return &Page{Entries: entries, NextToken: EncodePageToken(out.LastEvaluatedKey)}, nil
}

// EncodePageToken turns a LastEvaluatedKey into an opaque cursor: a tiny
// json map of {key: {S: value}}, base64url encoded.
func EncodePageToken(key map[string]types.AttributeValue) string {
	if len(key) == 0 {
		return ""
	}
	m := map[string]map[string]string{}
	for k, av := range key {
		if s, ok := av.(*types.AttributeValueMemberS); ok {
			m[k] = map[string]string{"S": s.Value}
		}
	}
	b, _ := json.Marshal(m)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodePageToken is the inverse of EncodePageToken. Empty token, nil key.
func DecodePageToken(token string) (map[string]types.AttributeValue, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid nextToken")
	}
	var m map[string]map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("invalid nextToken payload")
	}
	key := map[string]types.AttributeValue{}
	for k, v := range m {
		if v["S"] != "" {
			key[k] = &types.AttributeValueMemberS{Value: v["S"]}
		}
	}
	return key, nil
}

// ListForDelivery filters a shop's rows down to one delivery.
func ListForDelivery(ctx context.Context, ddb DDBClient, shop, deliveryID string) ([]Entry, error) {
	all, err := ListForShop(ctx, ddb, shop)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if e.DeliveryID == deliveryID {
			out = append(out, e)
		}
	}
	return out, nil
}

func randHex(nBytes int) string {
	b := make([]byte, nBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
