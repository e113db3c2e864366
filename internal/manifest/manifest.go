package manifest

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

// Scan statuses for a manifest line.
const (
	ScanPending  = "pending"
	ScanVerified = "verified"
	ScanMissing  = "missing"
	ScanExtra    = "extra"
)

// Item is one expected SKU on a shipping manifest. Warehouse staff scan
// barcodes against it; last scan wins, there is no scan history.
type Item struct {
	PK string `dynamodbav:"PK" json:"-"` // SHOP#<shop>
	SK string `dynamodbav:"SK" json:"-"` // MANIFEST#<id>#ITEM#<sku>

	ManifestID       string `dynamodbav:"ManifestID" json:"manifestId"`
	Sku              string `dynamodbav:"Sku" json:"sku"`
	TrackingNumber   string `dynamodbav:"TrackingNumber,omitempty" json:"trackingNumber,omitempty"`
	ExpectedQuantity int    `dynamodbav:"ExpectedQuantity" json:"expectedQuantity"`
	ScannedQuantity  int    `dynamodbav:"ScannedQuantity" json:"scannedQuantity"`
	ScanStatus       string `dynamodbav:"ScanStatus" json:"scanStatus"`
	ScannedAt        string `dynamodbav:"ScannedAt,omitempty" json:"scannedAt,omitempty"`
	ScannedBy        string `dynamodbav:"ScannedBy,omitempty" json:"scannedBy,omitempty"`
}

// Line is one expected manifest entry as supplied by the operator.
type Line struct {
	Sku              string `json:"sku"`
	ExpectedQuantity int    `json:"quantity"`
	TrackingNumber   string `json:"trackingNumber,omitempty"`
}

// Progress summarizes a manifest for the picking UI.
type Progress struct {
	ManifestID string `json:"manifestId"`
	Total      int    `json:"total"`
	Verified   int    `json:"verified"`
	Missing    int    `json:"missing"`
	Extra      int    `json:"extra"`
	Pending    int    `json:"pending"`
	Complete   bool   `json:"complete"`
}

type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

func itemKey(shop, manifestID, sku string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("SHOP#%s", shop)},
		"SK": &types.AttributeValueMemberS{Value: fmt.Sprintf("MANIFEST#%s#ITEM#%s", manifestID, sku)},
	}
}

// PutItems creates or replaces the expected lines of a manifest, all reset to
// pending.
func PutItems(ctx context.Context, ddb DDBClient, shop, manifestID string, lines []Line) error {
	table := strings.TrimSpace(db.ManifestsTableName())
	if table == "" {
		return fmt.Errorf("MANIFESTS_TABLE not set")
	}

	for _, ln := range lines {
		it := Item{
			PK:               fmt.Sprintf("SHOP#%s", shop),
			SK:               fmt.Sprintf("MANIFEST#%s#ITEM#%s", manifestID, ln.Sku),
			ManifestID:       manifestID,
			Sku:              ln.Sku,
			TrackingNumber:   ln.TrackingNumber,
			ExpectedQuantity: ln.ExpectedQuantity,
			ScanStatus:       ScanPending,
		}
		av, err := attributevalue.MarshalMap(it)
		if err != nil {
			return err
		}
		if _, err := ddb.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(table),
			Item:      av,
		}); err != nil {
			return fmt.Errorf("put manifest item %s: %w", ln.Sku, err)
		}
	}
	return nil
}

// RecordScan applies one barcode scan. The code matches a line's SKU or its
// tracking number. Unconditional write: a re-scan of the same line overwrites
// the previous result.
func RecordScan(ctx context.Context, ddb DDBClient, shop, manifestID, code string, scannedQty int, scannedBy string) (*Item, error) {
	table := strings.TrimSpace(db.ManifestsTableName())
	if table == "" {
		return nil, fmt.Errorf("MANIFESTS_TABLE not set")
	}

	items, err := ListItems(ctx, ddb, shop, manifestID)
	if err != nil {
		return nil, err
	}
	sku := code
	tracking := ""
	expected := 0
	known := false
	for _, it := range items {
		if it.Sku == code || (it.TrackingNumber != "" && it.TrackingNumber == code) {
			sku = it.Sku
			tracking = it.TrackingNumber
			expected = it.ExpectedQuantity
			known = true
			break
		}
	}

	status := statusFor(known, expected, scannedQty)
	now := time.Now().UTC().Format(time.RFC3339)

	it := Item{
		PK:               fmt.Sprintf("SHOP#%s", shop),
		SK:               fmt.Sprintf("MANIFEST#%s#ITEM#%s", manifestID, sku),
		ManifestID:       manifestID,
		Sku:              sku,
		TrackingNumber:   tracking,
		ExpectedQuantity: expected,
		ScannedQuantity:  scannedQty,
		ScanStatus:       status,
		ScannedAt:        now,
		ScannedBy:        scannedBy,
	}
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return nil, err
	}
	if _, err := ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      av,
	}); err != nil {
		return nil, err
	}
	return &it, nil
}

// Under-scanned counts as missing: a shortage needs a recount either way.
func statusFor(known bool, expected, scanned int) string {
	switch {
	case !known:
		return ScanExtra
	case scanned >= expected:
		return ScanVerified
	default:
		return ScanMissing
	}
}

// ListItems returns every line of a manifest.
func ListItems(ctx context.Context, ddb DDBClient, shop, manifestID string) ([]Item, error) {
	table := strings.TrimSpace(db.ManifestsTableName())
	if table == "" {
		return nil, fmt.Errorf("MANIFESTS_TABLE not set")
	}

	out, err := ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :pref)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: fmt.Sprintf("SHOP#%s", shop)},
			":pref": &types.AttributeValueMemberS{Value: fmt.Sprintf("MANIFEST#%s#ITEM#", manifestID)},
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

// Summarize folds manifest lines into a progress row.
func Summarize(manifestID string, items []Item) Progress {
	p := Progress{ManifestID: manifestID, Total: len(items)}
	for _, it := range items {
		switch it.ScanStatus {
		case ScanVerified:
			p.Verified++
		case ScanMissing:
			p.Missing++
		case ScanExtra:
			p.Extra++
		default:
			p.Pending++
		}
	}
	p.Complete = p.Total > 0 && p.Pending == 0 && p.Missing == 0
	return p
}
