package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType は在庫移動の種類です
type MovementType string

const (
	MovementIn     MovementType = "in"
	MovementOut    MovementType = "out"
	MovementAdjust MovementType = "adjust"
	MovementReturn MovementType = "return"
	MovementUsage  MovementType = "usage"
)

// FuneralPackage は葬儀パッケージです。キャンセル料の基準価格を持ちます
type FuneralPackage struct {
	ID        int64           `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	BasePrice decimal.Decimal `db:"base_price" json:"base_price"`
	IsActive  bool            `db:"is_active" json:"is_active"`
}

// InventoryItem は在庫品目です
type InventoryItem struct {
	ID           int64           `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	Code         string          `db:"code" json:"code"`
	Unit         string          `db:"unit" json:"unit"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
	CurrentStock int             `db:"current_stock" json:"current_stock"`
	MinimumStock int             `db:"minimum_stock" json:"minimum_stock"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// IsLow は最小在庫以下(マイナス在庫を含む)かを判定します
func (i InventoryItem) IsLow() bool {
	return i.CurrentStock <= i.MinimumStock
}

// StockMovement は在庫の入出庫記録です。Quantityは符号付きです
type StockMovement struct {
	ID              int64           `db:"id" json:"id"`
	ItemID          int64           `db:"item_id" json:"item_id"`
	MovementType    MovementType    `db:"movement_type" json:"movement_type"`
	Quantity        int             `db:"quantity" json:"quantity"`
	UnitPrice       decimal.Decimal `db:"unit_price" json:"unit_price"`
	ReferenceNumber string          `db:"reference_number" json:"reference_number"`
	Notes           string          `db:"notes" json:"notes"`
	EmployeeID      *int64          `db:"employee_id" json:"employee_id,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// ReservationInventoryItem は予約に紐づく使用品目です。完了時に一度だけ消費されます
type ReservationInventoryItem struct {
	ID            int64      `db:"id" json:"id"`
	ReservationID int64      `db:"reservation_id" json:"reservation_id"`
	ItemID        int64      `db:"item_id" json:"item_id"`
	Quantity      int        `db:"quantity" json:"quantity"`
	ConsumedAt    *time.Time `db:"consumed_at" json:"consumed_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// UsageReference は予約による在庫使用の参照番号を返します
func UsageReference(reservationID int64) string {
	return fmt.Sprintf("RSV-%d", reservationID)
}
