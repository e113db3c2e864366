package ledger

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type pagingDDB struct {
	entries []Entry
	queries []dynamodb.QueryInput
}

func (f *pagingDDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return &dynamodb.PutItemOutput{}, nil
}

// Query serves entries newest-first in Limit-sized pages, resuming after the
// SK in ExclusiveStartKey, the way DynamoDB pages a descending range read.
func (f *pagingDDB) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, *params)

	start := 0
	if params.ExclusiveStartKey != nil {
		afterSK := ""
		if s, ok := params.ExclusiveStartKey["SK"].(*types.AttributeValueMemberS); ok {
			afterSK = s.Value
		}
		for i, e := range f.entries {
			if e.SK == afterSK {
				start = i + 1
				break
			}
		}
	}

	end := len(f.entries)
	if params.Limit != nil && start+int(*params.Limit) < end {
		end = start + int(*params.Limit)
	}

	out := &dynamodb.QueryOutput{}
	for _, e := range f.entries[start:end] {
		av, err := attributevalue.MarshalMap(e)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, av)
	}
	if end < len(f.entries) {
		last := f.entries[end-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: last.PK},
			"SK": &types.AttributeValueMemberS{Value: last.SK},
		}
	}
	return out, nil
}

func TestPageTokenRoundTrip(t *testing.T) {
	key := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "SHOP#taller.myshopify.com"},
		"SK": &types.AttributeValueMemberS{Value: "LOG#2026-03-01T00:00:00Z#ab12"},
	}

	token := EncodePageToken(key)
	if token == "" {
		t.Fatal("expected a token for a non-empty key")
	}

	got, err := DecodePageToken(token)
	if err != nil {
		t.Fatalf("DecodePageToken: %v", err)
	}
	for k := range key {
		want := key[k].(*types.AttributeValueMemberS).Value
		if s, ok := got[k].(*types.AttributeValueMemberS); !ok || s.Value != want {
			t.Errorf("key %s = %v, want %q", k, got[k], want)
		}
	}

	if EncodePageToken(nil) != "" {
		t.Error("empty key must encode to an empty token")
	}
	if key, err := DecodePageToken(""); err != nil || key != nil {
		t.Errorf("empty token = (%v, %v), want (nil, nil)", key, err)
	}
	if _, err := DecodePageToken("!!not-base64!!"); err == nil {
		t.Error("garbage token accepted")
	}
}

func TestListForShopPageResumesFromCursor(t *testing.T) {
	t.Setenv("SYNC_LOGS_TABLE", "sync-logs-test")

	// Newest first, as the descending query would return them.
	ddb := &pagingDDB{entries: []Entry{
		{PK: "SHOP#taller.myshopify.com", SK: "LOG#2026-03-03T00:00:00Z#c3", Trigger: "manual"},
		{PK: "SHOP#taller.myshopify.com", SK: "LOG#2026-03-02T00:00:00Z#b2", Trigger: "webhook"},
		{PK: "SHOP#taller.myshopify.com", SK: "LOG#2026-03-01T00:00:00Z#a1", Trigger: "manual"},
	}}

	first, err := ListForShopPage(context.Background(), ddb, "taller.myshopify.com", 2, "")
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first.Entries) != 2 || first.Entries[0].SK != "LOG#2026-03-03T00:00:00Z#c3" {
		t.Fatalf("first page = %+v", first.Entries)
	}
	if first.NextToken == "" {
		t.Fatal("expected a cursor with one entry remaining")
	}

	second, err := ListForShopPage(context.Background(), ddb, "taller.myshopify.com", 2, first.NextToken)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Entries) != 1 || second.Entries[0].SK != "LOG#2026-03-01T00:00:00Z#a1" {
		t.Fatalf("second page = %+v", second.Entries)
	}
	if second.NextToken != "" {
		t.Errorf("exhausted read must return an empty cursor, got %q", second.NextToken)
	}

	q := ddb.queries[0]
	if q.ScanIndexForward == nil || *q.ScanIndexForward {
		t.Error("audit list must read newest first")
	}
	if q.Limit == nil || *q.Limit != 2 {
		t.Errorf("Limit = %v, want 2", q.Limit)
	}
}

func TestListForShopPageRejectsBadToken(t *testing.T) {
	t.Setenv("SYNC_LOGS_TABLE", "sync-logs-test")

	if _, err := ListForShopPage(context.Background(), &pagingDDB{}, "taller.myshopify.com", 10, "%%%"); err == nil {
		t.Error("invalid cursor accepted")
	}
}
