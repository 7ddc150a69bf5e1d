package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/everwear/tryonbot/internal/models"
)

// ErrDuplicateOperation is returned when a notification with the same
// provider operation id has already been recorded.
var ErrDuplicateOperation = errors.New("payment operation already recorded")

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Record inserts the notification keyed on the provider operation id.
// A redelivered notification hits the unique key and maps to
// ErrDuplicateOperation, which is the reconciler's dedup signal.
func (r *PaymentRepository) Record(ctx context.Context, payment *models.Payment) error {
	const query = `
INSERT INTO payments (operation_id, user_id, amount, credits)
VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, payment.OperationID, payment.UserID, payment.Amount, payment.Credits)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrDuplicateOperation
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	payment.ID = id
	return nil
}

func (r *PaymentRepository) FindByOperationID(ctx context.Context, operationID string) (*models.Payment, error) {
	const query = `
SELECT id, operation_id, user_id, amount, credits, created_at
FROM payments WHERE operation_id = ? LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, operationID)
	var p models.Payment
	if err := row.Scan(&p.ID, &p.OperationID, &p.UserID, &p.Amount, &p.Credits, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}
