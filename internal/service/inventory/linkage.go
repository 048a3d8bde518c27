package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/uma-arai/sbcntr-memorial/internal/model"
	"github.com/uma-arai/sbcntr-memorial/internal/repository"
	"go.uber.org/zap"
)

// Linkage は予約と在庫の連動を担当します
type Linkage struct {
	store  repository.Reader
	logger *zap.Logger
}

// NewLinkage は新しいLinkageを作成します
func NewLinkage(store repository.Reader, logger *zap.Logger) *Linkage {
	return &Linkage{store: store, logger: logger}
}

// UsageResult は在庫引き落としの結果です
type UsageResult struct {
	Movements []model.StockMovement
	// LowStock は引き落とし後に最小在庫以下となった品目です
	LowStock []model.InventoryItem
}

// CheckStock は予約時に使用品目の在庫が足りているかを確認します
func (l *Linkage) CheckStock(ctx context.Context, r repository.Reader, itemID int64, quantity int) error {
	if quantity <= 0 {
		return &model.ValidationError{Field: "quantity", Message: "must be positive"}
	}
	item, err := r.GetInventoryItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.CurrentStock < quantity {
		return &model.InventoryError{
			ItemID: itemID,
			Err:    fmt.Errorf("insufficient stock: have %d, need %d", item.CurrentStock, quantity),
		}
	}
	return nil
}

// ApplyUsage は予約の未消費の使用品目を在庫から引き落とします
// 予約のステータス更新と同じトランザクション内で呼び出します。在庫がマイナスになっても失敗させません
func (l *Linkage) ApplyUsage(ctx context.Context, tx repository.Tx, reservation *model.Reservation, actor *int64, now time.Time) (*UsageResult, error) {
	items, err := tx.ListReservationItems(ctx, reservation.ID)
	if err != nil {
		return nil, &model.InventoryError{Err: fmt.Errorf("failed to list reservation items: %w", err)}
	}

	result := &UsageResult{}
	for _, it := range items {
		if it.ConsumedAt != nil {
			continue
		}

		item, err := tx.AdjustStock(ctx, it.ItemID, -it.Quantity, now)
		if err != nil {
			return nil, &model.InventoryError{ItemID: it.ItemID, Err: err}
		}

		movement := model.StockMovement{
			ItemID:          it.ItemID,
			MovementType:    model.MovementUsage,
			Quantity:        -it.Quantity,
			UnitPrice:       item.UnitPrice,
			ReferenceNumber: model.UsageReference(reservation.ID),
			Notes:           fmt.Sprintf("used by reservation %d", reservation.ID),
			EmployeeID:      actor,
			CreatedAt:       now,
		}
		if err := tx.CreateStockMovement(ctx, &movement); err != nil {
			return nil, &model.InventoryError{ItemID: it.ItemID, Err: err}
		}

		if err := tx.MarkReservationItemConsumed(ctx, it.ID, now); err != nil {
			return nil, &model.InventoryError{ItemID: it.ItemID, Err: err}
		}

		result.Movements = append(result.Movements, movement)
		if item.IsLow() {
			l.logger.Warn("Inventory item at or below minimum stock",
				zap.Int64("item_id", item.ID),
				zap.String("code", item.Code),
				zap.Int("current_stock", item.CurrentStock),
				zap.Int("minimum_stock", item.MinimumStock),
				zap.Int64("reservation_id", reservation.ID),
			)
			result.LowStock = append(result.LowStock, *item)
		}
	}
	return result, nil
}

// LowStockReport は最小在庫以下(マイナス在庫を含む)の品目を返します
func (l *Linkage) LowStockReport(ctx context.Context) ([]model.InventoryItem, error) {
	items, err := l.store.ListLowStockItems(ctx)
	if err != nil {
		return nil, &model.SystemError{Op: "list low stock items", Err: err}
	}
	return items, nil
}
