package fulfillment

import "fmt"

type StockDecrementPayload struct {
	OrderID   string `json:"order_id"`
	ItemID    string `json:"item_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	// Key deduplicates the decrement; empty means apply on every delivery.
	Key string `json:"key,omitempty"`
}

type ConfirmationEmailPayload struct {
	OrderID string `json:"order_id"`
}

type LowStockAlertPayload struct {
	ProductID string `json:"product_id"`
	Key       string `json:"key,omitempty"`
}

func StockKey(orderID, itemID string) string {
	return fmt.Sprintf("stock:%s:%s", orderID, itemID)
}

func ConfirmationKey(orderID string) string {
	return "confirmation:" + orderID
}

// lowStockKey ties the alert email to the decrement that caused it.
func lowStockKey(stockKey string) string {
	if stockKey == "" {
		return ""
	}
	return "lowstock:" + stockKey
}
