package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uma-arai/sbcntr-memorial/internal/model"
	"github.com/uma-arai/sbcntr-memorial/internal/repository"
	"go.uber.org/zap"
)

func TestLinkage_ApplyUsage(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	staff := int64(7)

	tests := []struct {
		name         string
		stock        int
		minimum      int
		quantity     int
		consumed     bool
		wantStock    int
		wantMoves    int
		wantLowStock bool
	}{
		{name: "在庫10から3を引き落とす", stock: 10, minimum: 2, quantity: 3, wantStock: 7, wantMoves: 1},
		{name: "マイナス在庫も許容する", stock: 1, minimum: 0, quantity: 3, wantStock: -2, wantMoves: 1, wantLowStock: true},
		{name: "最小在庫ちょうどは在庫不足として報告", stock: 5, minimum: 2, quantity: 3, wantStock: 2, wantMoves: 1, wantLowStock: true},
		{name: "消費済みの品目は引き落とさない", stock: 10, minimum: 0, quantity: 3, consumed: true, wantStock: 10, wantMoves: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := repository.NewMemoryStore()
			itemID := store.AddInventoryItem(model.InventoryItem{
				Name:         "Urn",
				Code:         "URN-01",
				UnitPrice:    decimal.NewFromInt(15000),
				CurrentStock: tt.stock,
				MinimumStock: tt.minimum,
			})
			resID := store.PutReservation(model.Reservation{CustomerID: 1, PetID: 1, Status: model.StatusInProgress})
			item := model.ReservationInventoryItem{ReservationID: resID, ItemID: itemID, Quantity: tt.quantity}
			if tt.consumed {
				consumedAt := now.Add(-time.Hour)
				item.ConsumedAt = &consumedAt
			}
			store.PutReservationItem(item)

			linkage := NewLinkage(store, zap.NewNop())
			res, err := store.GetReservation(ctx, resID)
			require.NoError(t, err)

			var result *UsageResult
			err = store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
				var err error
				result, err = linkage.ApplyUsage(ctx, tx, res, &staff, now)
				return err
			})
			require.NoError(t, err)
			assert.Len(t, result.Movements, tt.wantMoves)
			assert.Equal(t, tt.wantLowStock, len(result.LowStock) > 0)

			got, err := store.GetInventoryItem(ctx, itemID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStock, got.CurrentStock)

			movements, err := store.ListStockMovements(ctx, itemID)
			require.NoError(t, err)
			require.Len(t, movements, tt.wantMoves)
			if tt.wantMoves == 1 {
				assert.Equal(t, -tt.quantity, movements[0].Quantity)
				assert.Equal(t, model.MovementUsage, movements[0].MovementType)
				assert.Equal(t, model.UsageReference(resID), movements[0].ReferenceNumber)
				assert.Equal(t, &staff, movements[0].EmployeeID)
				assert.True(t, decimal.NewFromInt(15000).Equal(movements[0].UnitPrice))
			}

			items, err := store.ListReservationItems(ctx, resID)
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.NotNil(t, items[0].ConsumedAt)
		})
	}
}

func TestLinkage_ApplyUsage_MissingItem(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	store := repository.NewMemoryStore()
	okItem := store.AddInventoryItem(model.InventoryItem{Code: "OK", CurrentStock: 10})
	resID := store.PutReservation(model.Reservation{Status: model.StatusInProgress})
	store.PutReservationItem(model.ReservationInventoryItem{ReservationID: resID, ItemID: okItem, Quantity: 2})
	store.PutReservationItem(model.ReservationInventoryItem{ReservationID: resID, ItemID: 999, Quantity: 1})

	linkage := NewLinkage(store, zap.NewNop())
	res, err := store.GetReservation(ctx, resID)
	require.NoError(t, err)

	err = store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := linkage.ApplyUsage(ctx, tx, res, nil, now)
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInventory)
	assert.ErrorIs(t, err, model.ErrNotFound)

	var invErr *model.InventoryError
	require.True(t, errors.As(err, &invErr))
	assert.Equal(t, int64(999), invErr.ItemID)
	assert.True(t, invErr.Retryable())

	// トランザクションがロールバックされ、先に処理した品目も元に戻る
	item, err := store.GetInventoryItem(ctx, okItem)
	require.NoError(t, err)
	assert.Equal(t, 10, item.CurrentStock)
	movements, err := store.ListStockMovements(ctx, okItem)
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestLinkage_CheckStock(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	itemID := store.AddInventoryItem(model.InventoryItem{Code: "URN", CurrentStock: 3})
	linkage := NewLinkage(store, zap.NewNop())

	tests := []struct {
		name     string
		itemID   int64
		quantity int
		wantErr  error
	}{
		{name: "在庫が足りる", itemID: itemID, quantity: 3},
		{name: "在庫不足", itemID: itemID, quantity: 4, wantErr: model.ErrInventory},
		{name: "数量が0", itemID: itemID, quantity: 0, wantErr: model.ErrValidation},
		{name: "存在しない品目", itemID: 999, quantity: 1, wantErr: model.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := linkage.CheckStock(ctx, store, tt.itemID, tt.quantity)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLinkage_LowStockReport(t *testing.T) {
	store := repository.NewMemoryStore()
	store.AddInventoryItem(model.InventoryItem{Code: "OK", CurrentStock: 10, MinimumStock: 2})
	neg := store.AddInventoryItem(model.InventoryItem{Code: "NEG", CurrentStock: -1, MinimumStock: 0})
	edge := store.AddInventoryItem(model.InventoryItem{Code: "EDGE", CurrentStock: 2, MinimumStock: 2})

	items, err := NewLinkage(store, zap.NewNop()).LowStockReport(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	// 不足数の大きい順
	assert.Equal(t, neg, items[0].ID)
	assert.Equal(t, edge, items[1].ID)
}
