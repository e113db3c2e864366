package main

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"

	"sewdle/internal/etl"
)

// Runs after the nightly snapshot export so Athena picks up the new
// dt=/shop_id= partitions before the first morning query.
func handler(ctx context.Context, _ events.CloudWatchEvent) (etl.RepairResult, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return etl.RepairResult{}, fmt.Errorf("load aws config: %w", err)
	}

	res, err := etl.RepairPartitions(ctx, athena.NewFromConfig(cfg))
	if err != nil {
		return res, err
	}
	log.Printf("repair-partitions: state=%s queryId=%s", res.State, res.QueryID)
	return res, nil
}

func main() {
	lambda.Start(handler)
}
