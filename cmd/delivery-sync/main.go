package main

import (
	"sewdle/internal/handlers"

	"github.com/aws/aws-lambda-go/lambda"
)

func main() {
	lambda.Start(handlers.DeliverySyncHandler)
}
