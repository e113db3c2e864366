package tenancy

import (
	"context"
	"fmt"
	"os"
	"strings"

	"sewdle/internal/db"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type DDBClient interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// GetAllowedShopsByUserSub lists the shop domains an operator may touch,
// via the UserSub GSI on the shop-to-user mapping table.
func GetAllowedShopsByUserSub(ctx context.Context, ddb DDBClient, userSub string) ([]string, error) {
	userSub = strings.TrimSpace(userSub)
	if userSub == "" {
		return nil, fmt.Errorf("empty userSub")
	}

	table := strings.TrimSpace(db.ShopToUserTableName())
	if table == "" {
		return nil, fmt.Errorf("missing SHOP_TO_USER_TABLE")
	}

	indexName := strings.TrimSpace(os.Getenv("SHOP_TO_USER_GSI_USERSUB"))
	if indexName == "" {
		indexName = "GSI_UserSub"
	}

	out, err := ddb.Query(ctx, &dynamodb.QueryInput{
		TableName: aws.String(table),
		IndexName: aws.String(indexName),
		KeyConditionExpression: aws.String("#u = :u"),
		ExpressionAttributeNames: map[string]string{
			"#u": "UserSub",
			"#s": "Shop",
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":u": &ddbtypes.AttributeValueMemberS{Value: userSub},
		},
		ProjectionExpression: aws.String("#s"),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb query GSI_UserSub failed: %w", err)
	}

	shops := make([]string, 0, len(out.Items))
	for _, it := range out.Items {
		if v, ok := it["Shop"]; ok {
			if sv, ok2 := v.(*ddbtypes.AttributeValueMemberS); ok2 {
				val := strings.TrimSpace(sv.Value)
				if val != "" {
					shops = append(shops, val)
				}
			}
		}
	}
	return uniqueStrings(shops), nil
}

// UsersForShop is the reverse lookup: operator subs mapped to a shop domain.
func UsersForShop(ctx context.Context, ddb DDBClient, shopDomain string) ([]string, error) {
	tbl := db.ShopToUserTableName()
	if strings.TrimSpace(tbl) == "" {
		return nil, fmt.Errorf("SHOP_TO_USER_TABLE not set")
	}

	pk := fmt.Sprintf("SHOP#%s", shopDomain)

	out, err := ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(tbl),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :u)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: pk},
			":u":  &ddbtypes.AttributeValueMemberS{Value: "USER#"},
		},
	})
	if err != nil {
		return nil, err
	}

	var subs []string
	for _, it := range out.Items {
		if sk, ok := it["SK"].(*ddbtypes.AttributeValueMemberS); ok {
			// SK=USER#sub
			s := strings.TrimPrefix(sk.Value, "USER#")
			if s != "" {
				subs = append(subs, s)
			}
		}
	}
	return subs, nil
}

func uniqueStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		k := strings.ToLower(strings.TrimSpace(v))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}
