package nlq

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
)

type GlueClient interface {
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
}

type TableSchema struct {
	Database   string
	Table      string
	Location   string
	Columns    []Column
	Partitions []Column
}

type Column struct {
	Name string
	Type string
}

func LoadTableSchemaFromEnv(ctx context.Context, c GlueClient) (*TableSchema, error) {
	dbName := strings.TrimSpace(os.Getenv("GLUE_DATABASE"))
	tbl := strings.TrimSpace(os.Getenv("DAILY_STOCK_TABLE"))
	if dbName == "" || tbl == "" {
		return nil, fmt.Errorf("missing env vars: GLUE_DATABASE and/or DAILY_STOCK_TABLE")
	}
	return LoadTableSchema(ctx, c, dbName, tbl)
}

func LoadTableSchema(ctx context.Context, c GlueClient, database, table string) (*TableSchema, error) {
	out, err := c.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(database),
		Name:         aws.String(table),
	})
	if err != nil {
		return nil, fmt.Errorf("glue GetTable %s.%s: %w", database, table, err)
	}

	ti := out.Table
	sd := ti.StorageDescriptor

	schema := &TableSchema{
		Database: database,
		Table:    aws.ToString(ti.Name),
		Location: aws.ToString(sd.Location),
	}

	for _, col := range sd.Columns {
		schema.Columns = append(schema.Columns, Column{
			Name: aws.ToString(col.Name),
			Type: aws.ToString(col.Type),
		})
	}
	for _, p := range ti.PartitionKeys {
		schema.Partitions = append(schema.Partitions, Column{
			Name: aws.ToString(p.Name),
			Type: aws.ToString(p.Type),
		})
	}

	// Stable ordering keeps the prompt (and its cache key) stable across runs.
	sort.Slice(schema.Columns, func(i, j int) bool { return schema.Columns[i].Name < schema.Columns[j].Name })
	sort.Slice(schema.Partitions, func(i, j int) bool { return schema.Partitions[i].Name < schema.Partitions[j].Name })

	return schema, nil
}

// CompactSchemaText returns a prompt-ready schema block, e.g.:
//
// DATABASE sewdle_analytics_prod
// TABLE daily_stock ( ... )
// PARTITIONED BY (dt date, shop_id string)
// LOCATION s3://...
func CompactSchemaText(s *TableSchema) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("DATABASE %s\n", s.Database))
	b.WriteString(fmt.Sprintf("TABLE %s (\n", s.Table))

	for i, c := range s.Columns {
		comma := ","
		if i == len(s.Columns)-1 {
			comma = ""
		}
		b.WriteString(fmt.Sprintf("  %s %s%s\n", c.Name, c.Type, comma))
	}
	b.WriteString(")\n")

	if len(s.Partitions) > 0 {
		b.WriteString("PARTITIONED BY (")
		for i, p := range s.Partitions {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("%s %s", p.Name, p.Type))
		}
		b.WriteString(")\n")
	}

	if s.Location != "" {
		b.WriteString(fmt.Sprintf("LOCATION %s\n", s.Location))
	}

	return b.String()
}
