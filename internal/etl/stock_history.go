package etl

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sewdle/internal/catalog"
	"sewdle/internal/db"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"
)

// StockRow matches the Glue table columns for the daily_stock lake.
type StockRow struct {
	ShopID       string `parquet:"name=shop_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	SnapshotDate string `parquet:"name=snapshot_date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"` // YYYY-MM-DD
	Sku          string `parquet:"name=sku, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	ProductID    string `parquet:"name=product_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Quantity     int64  `parquet:"name=quantity, type=INT64"`
}

// HistoryPoint is one (day, quantity) sample for a SKU, as stored in
// STOCK_HISTORY_TABLE.
type HistoryPoint struct {
	PK        string `dynamodbav:"PK"` // SHOP#<shop>#SKU#<sku>
	SK        string `dynamodbav:"SK"` // DAY#YYYY-MM-DD
	Sku       string `dynamodbav:"Sku"`
	ProductID string `dynamodbav:"ProductID,omitempty"`
	Day       string `dynamodbav:"Day"`
	Quantity  int    `dynamodbav:"Quantity"`
}

type StockHistoryETL struct {
	ddb *dynamodb.Client
	s3  *s3.Client
}

func NewStockHistoryETL(cfg aws.Config) *StockHistoryETL {
	return &StockHistoryETL{
		ddb: dynamodb.NewFromConfig(cfg),
		s3:  s3.NewFromConfig(cfg),
	}
}

// Handle is triggered by EventBridge schedule, once per day after close of
// business.
//
// Behavior:
// - Discover shops from SHOP_TO_USER_TABLE
// - Snapshot every variant's current StockQuantity into STOCK_HISTORY_TABLE
// - Write the same snapshot as Parquet under:
//     daily_stock/dt=YYYY-MM-DD/shop_id=<shop>/part-<rand>.parquet
//
// Env:
// - SHOP_TO_USER_TABLE (required)
// - PRODUCT_VARIANTS_TABLE (required)
// - STOCK_HISTORY_TABLE (required)
// - ANALYTICS_BUCKET (required)
// - DAILY_STOCK_PREFIX (default "daily_stock/")
// - ETL_TIMEZONE (default "America/Bogota")
func (h *StockHistoryETL) Handle(ctx context.Context, _ events.CloudWatchEvent) (map[string]any, error) {
	mapTable := strings.TrimSpace(db.ShopToUserTableName())
	variantsTable := strings.TrimSpace(db.ProductVariantsTableName())
	historyTable := strings.TrimSpace(db.StockHistoryTableName())

	bucket := strings.TrimSpace(os.Getenv("ANALYTICS_BUCKET"))
	prefix := strings.TrimSpace(os.Getenv("DAILY_STOCK_PREFIX"))
	if prefix == "" {
		prefix = "daily_stock/"
	}

	tzName := strings.TrimSpace(os.Getenv("ETL_TIMEZONE"))
	if tzName == "" {
		tzName = "America/Bogota"
	}

	if mapTable == "" {
		return nil, fmt.Errorf("missing env SHOP_TO_USER_TABLE")
	}
	if variantsTable == "" {
		return nil, fmt.Errorf("missing env PRODUCT_VARIANTS_TABLE")
	}
	if historyTable == "" {
		return nil, fmt.Errorf("missing env STOCK_HISTORY_TABLE")
	}
	if bucket == "" {
		return nil, fmt.Errorf("missing env ANALYTICS_BUCKET")
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", tzName, err)
	}
	dtStr := time.Now().In(loc).Format("2006-01-02")

	shops, err := h.listDistinctShops(ctx, mapTable)
	if err != nil {
		return nil, err
	}
	if len(shops) == 0 {
		return map[string]any{"ok": true, "written": 0, "reason": "no shops found"}, nil
	}

	written := 0
	variants := 0

	for _, shop := range shops {
		vs, err := catalog.ListVariants(ctx, h.ddb, shop)
		if err != nil {
			return nil, fmt.Errorf("list variants for shop=%s: %w", shop, err)
		}
		if len(vs) == 0 {
			continue
		}

		rows := make([]StockRow, 0, len(vs))
		for _, v := range vs {
			if err := h.putHistoryPoint(ctx, historyTable, shop, dtStr, v); err != nil {
				return nil, fmt.Errorf("history point shop=%s sku=%s: %w", shop, v.Sku, err)
			}
			rows = append(rows, StockRow{
				ShopID:       shop,
				SnapshotDate: dtStr,
				Sku:          v.Sku,
				ProductID:    v.ProductID,
				Quantity:     int64(v.StockQuantity),
			})
		}
		variants += len(vs)

		key := fmt.Sprintf("%sdt=%s/shop_id=%s/part-%s.parquet",
			ensureTrailingSlash(prefix),
			dtStr,
			shop,
			randHex(8),
		)
		if err := h.writeParquetRowsToS3(ctx, bucket, key, rows); err != nil {
			return nil, fmt.Errorf("write parquet for shop=%s dt=%s: %w", shop, dtStr, err)
		}
		written++
	}

	return map[string]any{
		"ok":       true,
		"shops":    len(shops),
		"dt":       dtStr,
		"written":  written,
		"variants": variants,
		"bucket":   bucket,
		"prefix":   prefix,
	}, nil
}

// putHistoryPoint upserts today's sample. Re-running the job on the same day
// just overwrites with the latest quantity.
func (h *StockHistoryETL) putHistoryPoint(ctx context.Context, table, shop, dtStr string, v catalog.ProductVariant) error {
	p := HistoryPoint{
		PK:        fmt.Sprintf("SHOP#%s#SKU#%s", shop, v.Sku),
		SK:        fmt.Sprintf("DAY#%s", dtStr),
		Sku:       v.Sku,
		ProductID: v.ProductID,
		Day:       dtStr,
		Quantity:  v.StockQuantity,
	}
	av, err := attributevalue.MarshalMap(p)
	if err != nil {
		return err
	}
	_, err = h.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      av,
	})
	return err
}

// listDistinctShops scans SHOP_TO_USER_TABLE and extracts the "Shop" attribute.
func (h *StockHistoryETL) listDistinctShops(ctx context.Context, table string) ([]string, error) {
	seen := map[string]bool{}
	shops := make([]string, 0, 64)

	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := h.ddb.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(table),
			ExclusiveStartKey:    startKey,
			ProjectionExpression: aws.String("#shop"),
			ExpressionAttributeNames: map[string]string{
				"#shop": "Shop",
			},
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan %s: %w", table, err)
		}

		for _, it := range out.Items {
			if v, ok := it["Shop"]; ok {
				if sv, ok2 := v.(*ddbtypes.AttributeValueMemberS); ok2 {
					s := strings.TrimSpace(sv.Value)
					if s == "" {
						continue
					}
					k := strings.ToLower(s)
					if !seen[k] {
						seen[k] = true
						shops = append(shops, s)
					}
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

func (h *StockHistoryETL) writeParquetRowsToS3(ctx context.Context, bucket, key string, rows []StockRow) error {
	tmpDir := os.TempDir()
	localPath := filepath.Join(tmpDir, "daily_stock_"+randHex(8)+".parquet")

	fw, err := local.NewLocalFileWriter(localPath)
	if err != nil {
		return fmt.Errorf("parquet file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(StockRow), 1)
	if err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.PageSize = 8 * 1024
	pw.CompressionType = 0 // no snappy

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return fmt.Errorf("parquet write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet write stop: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("parquet close: %w", err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read parquet tmp: %w", err)
	}
	defer func() { _ = os.Remove(localPath) }()

	_, err = h.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("s3 putobject failed: %w", err)
	}
	return nil
}

// HistoryStats counts a SKU's samples since the cutoff and how many of them
// had stock on hand. Feeds the velocity ranking.
func HistoryStats(ctx context.Context, ddb QueryClient, shop, sku string, since time.Time) (points int, daysWithStock int, err error) {
	table := strings.TrimSpace(db.StockHistoryTableName())
	if table == "" {
		return 0, 0, fmt.Errorf("STOCK_HISTORY_TABLE not set")
	}

	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := ddb.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(table),
			KeyConditionExpression: aws.String("PK = :pk AND SK >= :since"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk":    &ddbtypes.AttributeValueMemberS{Value: fmt.Sprintf("SHOP#%s#SKU#%s", shop, sku)},
				":since": &ddbtypes.AttributeValueMemberS{Value: "DAY#" + since.UTC().Format("2006-01-02")},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return 0, 0, err
		}

		var page []HistoryPoint
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return 0, 0, err
		}
		for _, p := range page {
			points++
			if p.Quantity > 0 {
				daysWithStock++
			}
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return points, daysWithStock, nil
}

// QueryClient is the slice of the DynamoDB API HistoryStats needs.
type QueryClient interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

func ensureTrailingSlash(s string) string {
	if s == "" {
		return ""
	}
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

func randHex(nBytes int) string {
	b := make([]byte, nBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
