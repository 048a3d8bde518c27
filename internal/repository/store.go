package repository

import (
	"context"
	"time"

	"github.com/uma-arai/sbcntr-memorial/internal/model"
)

// ReservationFilter は予約一覧の絞り込み条件です。nilの項目は条件に含めません
type ReservationFilter struct {
	Status      *model.ReservationStatus
	StaffID     *int64
	IsEmergency *bool
	RoomID      *int64
	// ScheduledFrom <= scheduled_at < ScheduledTo
	ScheduledFrom *time.Time
	ScheduledTo   *time.Time
	Limit         int
	Offset        int
}

// Reader は読み取り専用の問い合わせです。状態を変更しません
type Reader interface {
	GetReservation(ctx context.Context, id int64) (*model.Reservation, error)
	ListReservations(ctx context.Context, f ReservationFilter) ([]model.Reservation, error)
	// ListActiveReservationsByRoom は2時間枠が [from, to) と交差する終端でない予約を返します
	ListActiveReservationsByRoom(ctx context.Context, roomID int64, from, to time.Time) ([]model.Reservation, error)
	// ListReservationIDsByStatus は scheduled_at <= scheduledBefore の予約IDを昇順で返します
	ListReservationIDsByStatus(ctx context.Context, status model.ReservationStatus, scheduledBefore time.Time) ([]int64, error)
	ListHistory(ctx context.Context, reservationID int64) ([]model.ReservationHistory, error)

	GetRoom(ctx context.Context, id int64) (*model.Room, error)
	ListRooms(ctx context.Context, activeOnly bool) ([]model.Room, error)
	// ListBookedRoomIDs は [from, to) に予約日時がある終端でない予約の部屋IDを返します
	ListBookedRoomIDs(ctx context.Context, from, to time.Time) ([]int64, error)

	GetPackage(ctx context.Context, id int64) (*model.FuneralPackage, error)

	GetInventoryItem(ctx context.Context, id int64) (*model.InventoryItem, error)
	ListLowStockItems(ctx context.Context) ([]model.InventoryItem, error)
	ListStockMovements(ctx context.Context, itemID int64) ([]model.StockMovement, error)
	ListReservationItems(ctx context.Context, reservationID int64) ([]model.ReservationInventoryItem, error)
}

// Tx はトランザクション内の操作です
// Lock系のメソッドは行ロック(SELECT ... FOR UPDATE)を取得し、コミットまで保持します
type Tx interface {
	Reader

	LockReservation(ctx context.Context, id int64) (*model.Reservation, error)
	// LockReservations はID昇順でロックを取得します。存在しないIDは結果に含まれません
	LockReservations(ctx context.Context, ids []int64) ([]model.Reservation, error)
	LockRoom(ctx context.Context, id int64) (*model.Room, error)

	CreateReservation(ctx context.Context, r *model.Reservation) error
	UpdateReservation(ctx context.Context, r *model.Reservation) error
	AppendHistory(ctx context.Context, h *model.ReservationHistory) error

	AddReservationItem(ctx context.Context, item *model.ReservationInventoryItem) error
	MarkReservationItemConsumed(ctx context.Context, id int64, at time.Time) error
	// AdjustStock は在庫数をdeltaだけ増減し、更新後の品目を返します。マイナス在庫も許容します
	AdjustStock(ctx context.Context, itemID int64, delta int, at time.Time) (*model.InventoryItem, error)
	CreateStockMovement(ctx context.Context, m *model.StockMovement) error

	UpdateRoomStatus(ctx context.Context, roomID int64, status model.RoomStatus, at time.Time) error

	// Savepoint はfnが失敗した場合にfn内の変更のみを取り消します
	Savepoint(ctx context.Context, name string, fn func() error) error
}

// Store は予約コアの永続化を担当します
type Store interface {
	Reader

	// WithTx はfnをトランザクション内で実行します。fnがエラーを返した場合はロールバックします
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// AcquireTickLock はリコンサイラの実行ロックを取得します
	// 既に他で保持されている場合はacquired=falseを返します
	AcquireTickLock(ctx context.Context) (release func(), acquired bool, err error)
}
