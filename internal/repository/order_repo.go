package repository

import (
	"context"
	"fmt"

	"order-consumer/internal/model"

	"github.com/jackc/pgx/v5"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type OrderRepository interface {
	Create(ctx context.Context, o *model.Order) (int64, error)
}

type orderRepository struct {
	db DBTX
}

func NewOrderRepository(db DBTX) OrderRepository {
	return &orderRepository{db: db}
}

// Create inserts the order and fills in the generated id and created_at.
func (r *orderRepository) Create(ctx context.Context, o *model.Order) (int64, error) {
	query := `
		INSERT INTO orders (user_id, product_id, product_name, sku, quantity, total_price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		o.UserID,
		o.ProductID,
		o.ProductName,
		o.SKU,
		o.Quantity,
		o.TotalPrice,
		o.Status,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert order: %w", err)
	}
	return o.ID, nil
}
