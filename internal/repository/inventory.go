package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-memorial/internal/model"
)

const inventoryItemColumns = `id, name, code, unit, unit_price, current_stock, minimum_stock, updated_at`

// GetPackage は葬儀パッケージを取得します
func (r queries) GetPackage(ctx context.Context, id int64) (*model.FuneralPackage, error) {
	ctx, done := trace(ctx, "InventoryRepository.GetPackage")

	query := `SELECT id, name, base_price, is_active FROM funeral_packages WHERE id = $1`
	traceQuery(ctx, query)

	var pkg model.FuneralPackage
	err := sqlx.GetContext(ctx, r.q, &pkg, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		err = &model.NotFoundError{Entity: "package", ID: id}
		done(err)
		return nil, err
	}
	if err != nil {
		done(err)
		return nil, fmt.Errorf("failed to get package %d: %w", id, err)
	}

	done(nil)
	return &pkg, nil
}

// GetInventoryItem は在庫品目を取得します
func (r queries) GetInventoryItem(ctx context.Context, id int64) (*model.InventoryItem, error) {
	ctx, done := trace(ctx, "InventoryRepository.GetInventoryItem")

	query := `SELECT ` + inventoryItemColumns + ` FROM inventory_items WHERE id = $1`
	traceQuery(ctx, query)

	var item model.InventoryItem
	err := sqlx.GetContext(ctx, r.q, &item, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		err = &model.NotFoundError{Entity: "inventory_item", ID: id}
		done(err)
		return nil, err
	}
	if err != nil {
		done(err)
		return nil, fmt.Errorf("failed to get inventory item %d: %w", id, err)
	}

	done(nil)
	return &item, nil
}

// ListLowStockItems は最小在庫以下の品目を取得します
func (r queries) ListLowStockItems(ctx context.Context) ([]model.InventoryItem, error) {
	ctx, done := trace(ctx, "InventoryRepository.ListLowStockItems")

	query := `SELECT ` + inventoryItemColumns + `
		FROM inventory_items
		WHERE current_stock <= minimum_stock
		ORDER BY current_stock - minimum_stock ASC, id ASC`
	traceQuery(ctx, query)

	var items []model.InventoryItem
	if err := sqlx.SelectContext(ctx, r.q, &items, query); err != nil {
		done(err)
		return nil, fmt.Errorf("failed to list low stock items: %w", err)
	}

	done(nil)
	return items, nil
}

// ListStockMovements は品目の在庫移動を記録順に取得します
func (r queries) ListStockMovements(ctx context.Context, itemID int64) ([]model.StockMovement, error) {
	ctx, done := trace(ctx, "InventoryRepository.ListStockMovements")

	query := `
		SELECT id, item_id, movement_type, quantity, unit_price, reference_number, notes, employee_id, created_at
		FROM stock_movements
		WHERE item_id = $1
		ORDER BY created_at ASC, id ASC`
	traceQuery(ctx, query)

	var out []model.StockMovement
	if err := sqlx.SelectContext(ctx, r.q, &out, query, itemID); err != nil {
		done(err)
		return nil, fmt.Errorf("failed to list stock movements of item %d: %w", itemID, err)
	}

	done(nil)
	return out, nil
}

// ListReservationItems は予約に紐づく使用品目を取得します
func (r queries) ListReservationItems(ctx context.Context, reservationID int64) ([]model.ReservationInventoryItem, error) {
	ctx, done := trace(ctx, "InventoryRepository.ListReservationItems")

	query := `
		SELECT id, reservation_id, item_id, quantity, consumed_at, created_at
		FROM reservation_inventory_items
		WHERE reservation_id = $1
		ORDER BY id ASC`
	traceQuery(ctx, query)

	var out []model.ReservationInventoryItem
	if err := sqlx.SelectContext(ctx, r.q, &out, query, reservationID); err != nil {
		done(err)
		return nil, fmt.Errorf("failed to list items of reservation %d: %w", reservationID, err)
	}

	done(nil)
	return out, nil
}

// AddReservationItem は予約に使用品目を追加します
func (t *pgTx) AddReservationItem(ctx context.Context, item *model.ReservationInventoryItem) error {
	ctx, done := trace(ctx, "InventoryRepository.AddReservationItem")

	query := `
		INSERT INTO reservation_inventory_items (reservation_id, item_id, quantity, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	err := t.tx.QueryRowxContext(ctx, query, item.ReservationID, item.ItemID, item.Quantity, item.CreatedAt).Scan(&item.ID)
	if err != nil {
		done(err)
		return mapPQError(fmt.Errorf("failed to add reservation item: %w", err))
	}

	done(nil)
	return nil
}

// MarkReservationItemConsumed は使用品目を消費済みにします
func (t *pgTx) MarkReservationItemConsumed(ctx context.Context, id int64, at time.Time) error {
	ctx, done := trace(ctx, "InventoryRepository.MarkReservationItemConsumed")

	query := `UPDATE reservation_inventory_items SET consumed_at = $1 WHERE id = $2 AND consumed_at IS NULL`

	result, err := t.tx.ExecContext(ctx, query, at, id)
	if err != nil {
		done(err)
		return fmt.Errorf("failed to mark reservation item consumed: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		done(err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		err := &model.NotFoundError{Entity: "reservation_inventory_item", ID: id}
		done(err)
		return err
	}

	done(nil)
	return nil
}

// AdjustStock は在庫数を増減し、更新後の品目を返します
func (t *pgTx) AdjustStock(ctx context.Context, itemID int64, delta int, at time.Time) (*model.InventoryItem, error) {
	ctx, done := trace(ctx, "InventoryRepository.AdjustStock")

	query := `
		UPDATE inventory_items
		SET current_stock = current_stock + $1, updated_at = $2
		WHERE id = $3
		RETURNING ` + inventoryItemColumns

	var item model.InventoryItem
	err := t.tx.GetContext(ctx, &item, query, delta, at, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		err = &model.NotFoundError{Entity: "inventory_item", ID: itemID}
		done(err)
		return nil, err
	}
	if err != nil {
		done(err)
		return nil, fmt.Errorf("failed to adjust stock of item %d: %w", itemID, err)
	}

	done(nil)
	return &item, nil
}

// CreateStockMovement は在庫移動を記録します
func (t *pgTx) CreateStockMovement(ctx context.Context, m *model.StockMovement) error {
	ctx, done := trace(ctx, "InventoryRepository.CreateStockMovement")

	query := `
		INSERT INTO stock_movements (
			item_id, movement_type, quantity, unit_price, reference_number, notes, employee_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		RETURNING id`

	err := t.tx.QueryRowxContext(ctx, query,
		m.ItemID,
		m.MovementType,
		m.Quantity,
		m.UnitPrice,
		m.ReferenceNumber,
		m.Notes,
		m.EmployeeID,
		m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		done(err)
		return mapPQError(fmt.Errorf("failed to create stock movement: %w", err))
	}

	done(nil)
	return nil
}
