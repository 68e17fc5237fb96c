package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// MySQLAdapter implements port.LedgerStore, port.VariantRepository and
// port.OrderRepository on one database handle. Per-variant atomicity comes
// from InnoDB row locks: AppendMovement takes the variant row FOR UPDATE,
// so writers against the same variant serialize while disjoint variants
// proceed in parallel. No table-level or adapter-level lock exists.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) AppendMovement(ctx context.Context, mv domain.StockMovement) (domain.StockMovement, int, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockMovement{}, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var onHand int
	var tracked bool
	err = tx.QueryRowContext(ctx, `
		SELECT on_hand, track_inventory FROM variants WHERE id = ? FOR UPDATE`,
		mv.VariantID,
	).Scan(&onHand, &tracked)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockMovement{}, 0, port.ErrVariantNotFound
	}
	if err != nil {
		return domain.StockMovement{}, 0, fmt.Errorf("lock variant: %w", err)
	}

	if tracked && onHand+mv.Quantity < 0 {
		return domain.StockMovement{}, 0, port.ErrInsufficientStock
	}
	newOnHand := onHand + mv.Quantity

	if _, err := tx.ExecContext(ctx, `
		UPDATE variants SET on_hand = ?, updated_at = NOW() WHERE id = ?`,
		newOnHand, mv.VariantID,
	); err != nil {
		return domain.StockMovement{}, 0, fmt.Errorf("update on-hand: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, variant_id, kind, quantity, order_line_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		mv.ID, mv.VariantID, mv.Kind, mv.Quantity, mv.OrderLineID, mv.CreatedAt,
	)
	if err != nil {
		return domain.StockMovement{}, 0, fmt.Errorf("insert movement: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return domain.StockMovement{}, 0, fmt.Errorf("movement seq: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.StockMovement{}, 0, fmt.Errorf("commit: %w", err)
	}

	mv.Seq = seq
	return mv, newOnHand, nil
}

func (m *MySQLAdapter) ListMovements(ctx context.Context, variantID string, skip, take int) ([]domain.StockMovement, int, error) {
	// Count and page share one read transaction so a concurrent append
	// cannot make totalItems disagree with the visible window.
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM stock_movements WHERE variant_id = ?`, variantID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count movements: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT seq, id, variant_id, kind, quantity, order_line_id, created_at
		FROM stock_movements
		WHERE variant_id = ?
		ORDER BY seq ASC
		LIMIT ? OFFSET ?`,
		variantID, take, skip,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query movements: %w", err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, take)
	for rows.Next() {
		var mv domain.StockMovement
		if err := rows.Scan(&mv.Seq, &mv.ID, &mv.VariantID, &mv.Kind, &mv.Quantity, &mv.OrderLineID, &mv.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan movement: %w", err)
		}
		movements = append(movements, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()
	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit read tx: %w", err)
	}
	return movements, total, nil
}

func (m *MySQLAdapter) SumMovements(ctx context.Context, variantID string) (int, error) {
	var sum int
	err := m.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM stock_movements WHERE variant_id = ?`,
		variantID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum movements: %w", err)
	}
	return sum, nil
}

func (m *MySQLAdapter) SaleRecorded(ctx context.Context, orderLineID string) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM stock_movements WHERE order_line_id = ? AND kind = ?
		)`,
		orderLineID, domain.MovementSale,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sale lookup: %w", err)
	}
	return exists, nil
}

func (m *MySQLAdapter) ReversalRecorded(ctx context.Context, orderLineID string) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM stock_movements WHERE order_line_id = ? AND kind IN (?, ?)
		)`,
		orderLineID, domain.MovementCancellation, domain.MovementReturn,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("reversal lookup: %w", err)
	}
	return exists, nil
}

func (m *MySQLAdapter) GetSaleMovement(ctx context.Context, orderLineID string) (*domain.StockMovement, error) {
	var mv domain.StockMovement
	err := m.db.QueryRowContext(ctx, `
		SELECT seq, id, variant_id, kind, quantity, order_line_id, created_at
		FROM stock_movements
		WHERE order_line_id = ? AND kind = ?`,
		orderLineID, domain.MovementSale,
	).Scan(&mv.Seq, &mv.ID, &mv.VariantID, &mv.Kind, &mv.Quantity, &mv.OrderLineID, &mv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrMovementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query sale movement: %w", err)
	}
	return &mv, nil
}

func (m *MySQLAdapter) GetVariant(ctx context.Context, id string) (*domain.Variant, error) {
	var v domain.Variant
	err := m.db.QueryRowContext(ctx, `
		SELECT id, sku, on_hand, track_inventory, created_at, updated_at
		FROM variants WHERE id = ?`, id,
	).Scan(&v.ID, &v.SKU, &v.OnHand, &v.TrackInventory, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrVariantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query variant: %w", err)
	}
	return &v, nil
}

func (m *MySQLAdapter) CreateVariant(ctx context.Context, v domain.Variant) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO variants (id, sku, on_hand, track_inventory, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.SKU, v.OnHand, v.TrackInventory, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert variant: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) SetTracking(ctx context.Context, id string, track bool) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE variants SET track_inventory = ?, updated_at = NOW() WHERE id = ?`,
		track, id,
	)
	if err != nil {
		return fmt.Errorf("update tracking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Also zero when the flag already holds the requested value; check
		// existence so a redundant flag write does not look like a miss.
		var exists bool
		if err := m.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM variants WHERE id = ?)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("variant lookup: %w", err)
		}
		if !exists {
			return port.ErrVariantNotFound
		}
	}
	return nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var o domain.Order
	err := m.db.QueryRowContext(ctx, `
		SELECT id, state, created_at, updated_at FROM orders WHERE id = ?`, id,
	).Scan(&o.ID, &o.State, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, order_id, variant_id, quantity, stock_reconciled
		FROM order_lines WHERE order_id = ? ORDER BY position ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.VariantID, &line.Quantity, &line.StockReconciled); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		o.Lines = append(o.Lines, line)
	}
	return &o, rows.Err()
}

func (m *MySQLAdapter) CreateOrder(ctx context.Context, o domain.Order) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		o.ID, o.State, o.CreatedAt, o.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, line := range o.Lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_lines (id, order_id, variant_id, quantity, stock_reconciled, position)
			VALUES (?, ?, ?, ?, ?, ?)`,
			line.ID, o.ID, line.VariantID, line.Quantity, line.StockReconciled, i,
		); err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return tx.Commit()
}

func (m *MySQLAdapter) UpdateOrderState(ctx context.Context, id string, from, to domain.OrderState) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE orders SET state = ?, updated_at = NOW() WHERE id = ? AND state = ?`,
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("update order state: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrStaleOrderState
	}
	return nil
}

func (m *MySQLAdapter) MarkLineReconciled(ctx context.Context, lineID string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE order_lines SET stock_reconciled = TRUE WHERE id = ?`, lineID,
	)
	if err != nil {
		return fmt.Errorf("mark line reconciled: %w", err)
	}
	return nil
}
