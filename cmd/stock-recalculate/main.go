package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/stockbook_backend/config"
	"bitbucket.org/mmdatafocus/stockbook_backend/workflow"
	"github.com/joho/godotenv"
)

// Rebuilds product stock counts from the invoice history. With -product-id
// it recalculates a single product; without it, the whole catalog.
func main() {
	productId := flag.Int("product-id", 0, "recalculate only this product")
	envFile := flag.String("env", "", "optional .env file to load")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
			os.Exit(1)
		}
	} else {
		_ = godotenv.Load()
	}

	logger := config.GetLogger()
	config.ConnectDatabaseWithRetry()

	ctx := context.Background()
	var err error
	if *productId > 0 {
		err = workflow.RecalculateProductStock(ctx, logger, *productId)
	} else {
		err = workflow.RecalculateAllProducts(ctx, logger)
	}
	if err != nil {
		logger.Errorf("stock recalculation failed: %v", err)
		os.Exit(1)
	}
	logger.Info("stock recalculation complete")
}
