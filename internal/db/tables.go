package db

import "os"

func ProductVariantsTableName() string {
	return os.Getenv("PRODUCT_VARIANTS_TABLE")
}

func SyncLogsTableName() string {
	return os.Getenv("SYNC_LOGS_TABLE")
}

func DeliveriesTableName() string {
	return os.Getenv("DELIVERIES_TABLE")
}

func SalesTableName() string {
	return os.Getenv("SALES_TABLE")
}

func StockHistoryTableName() string {
	return os.Getenv("STOCK_HISTORY_TABLE")
}

func ManifestsTableName() string {
	return os.Getenv("MANIFESTS_TABLE")
}

func IntegrationsTableName() string {
	return os.Getenv("INTEGRATIONS_TABLE")
}

func OAuthStateTableName() string {
	return os.Getenv("OAUTH_STATE_TABLE")
}

func ShopToUserTableName() string {
	return os.Getenv("SHOP_TO_USER_TABLE")
}

func UsersTableName() string {
	return os.Getenv("USERS_TABLE")
}
