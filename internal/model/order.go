package model

import "time"

// OrderStatusCompleted is the only status this pipeline writes.
const OrderStatusCompleted = "completed"

// OrderMessage is the payload the API places on the queue.
// Pointer fields distinguish an absent value from a zero value.
type OrderMessage struct {
	UserID        *int64   `json:"userId" validate:"required,gt=0"`
	ProductID     *int64   `json:"productId"`
	ProductName   *string  `json:"productName" validate:"required,min=1"`
	SKU           *string  `json:"sku"`
	Quantity      *int     `json:"quantity" validate:"required,gt=0"`
	TotalPrice    *float64 `json:"totalPrice" validate:"required"`
	CorrelationID string   `json:"correlationId,omitempty"`
}

// Order represents a row in the orders table.
type Order struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	ProductID   *int64    `db:"product_id" json:"product_id,omitempty"`
	ProductName string    `db:"product_name" json:"product_name"`
	SKU         *string   `db:"sku" json:"sku,omitempty"`
	Quantity    int       `db:"quantity" json:"quantity"`
	TotalPrice  float64   `db:"total_price" json:"total_price"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ToOrder converts a validated message into the row to insert.
func (m *OrderMessage) ToOrder() *Order {
	return &Order{
		UserID:      *m.UserID,
		ProductID:   m.ProductID,
		ProductName: *m.ProductName,
		SKU:         m.SKU,
		Quantity:    *m.Quantity,
		TotalPrice:  *m.TotalPrice,
		Status:      OrderStatusCompleted,
	}
}
