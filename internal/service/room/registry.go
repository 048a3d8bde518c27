package room

import (
	"context"
	"fmt"
	"time"

	"github.com/uma-arai/sbcntr-memorial/internal/common/clock"
	"github.com/uma-arai/sbcntr-memorial/internal/model"
	"github.com/uma-arai/sbcntr-memorial/internal/repository"
	"go.uber.org/zap"
)

// Registry は追悼室の一覧と現在の状態を管理します
// 状態の書き込みはRecomputeのみで、リコンサイラと予約の状態遷移から呼び出されます
type Registry struct {
	store  repository.Reader
	clock  clock.Clock
	logger *zap.Logger
}

// NewRegistry は新しいRegistryを作成します
func NewRegistry(store repository.Reader, clk clock.Clock, logger *zap.Logger) *Registry {
	return &Registry{store: store, clock: clk, logger: logger}
}

// ListRooms は有効な部屋の一覧を返します
func (r *Registry) ListRooms(ctx context.Context) ([]model.Room, error) {
	rooms, err := r.store.ListRooms(ctx, true)
	if err != nil {
		return nil, &model.SystemError{Op: "list rooms", Err: err}
	}
	return rooms, nil
}

// ListAvailableRooms は指定日に終端でない予約が1件もない有効な部屋を返します
// 枠単位ではなく日単位の粗い判定です
func (r *Registry) ListAvailableRooms(ctx context.Context, date time.Time) ([]model.Room, error) {
	from, to := dayBounds(date.In(r.clock.Location()))

	rooms, err := r.store.ListRooms(ctx, true)
	if err != nil {
		return nil, &model.SystemError{Op: "list rooms", Err: err}
	}

	booked, err := r.store.ListBookedRoomIDs(ctx, from, to)
	if err != nil {
		return nil, &model.SystemError{Op: "list booked rooms", Err: err}
	}
	excluded := make(map[int64]struct{}, len(booked))
	for _, id := range booked {
		excluded[id] = struct{}{}
	}

	available := make([]model.Room, 0, len(rooms))
	for _, room := range rooms {
		if _, ok := excluded[room.ID]; ok {
			continue
		}
		available = append(available, room)
	}
	return available, nil
}

// GetOperatingHours は部屋の営業時間を返します
func (r *Registry) GetOperatingHours(ctx context.Context, roomID int64) (model.OperatingHours, error) {
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return model.OperatingHours{}, err
	}
	return room.Hours()
}

// Recompute は部屋の状態を予約から導出し、変化があった場合のみ保存します
// 部屋の状態は導出キャッシュのため、予約履歴は書き込みません
func (r *Registry) Recompute(ctx context.Context, tx repository.Tx, roomID int64, now time.Time) (model.RoomStatus, bool, error) {
	room, err := tx.GetRoom(ctx, roomID)
	if err != nil {
		return "", false, err
	}

	// 2時間以内に開始する予約の枠は now+4h までに収まる
	reservations, err := tx.ListActiveReservationsByRoom(ctx, roomID, now, now.Add(2*model.BookingWindow))
	if err != nil {
		return "", false, fmt.Errorf("failed to list reservations of room %d: %w", roomID, err)
	}

	status := model.DeriveRoomStatus(reservations, now)
	if status == room.CurrentStatus {
		return status, false, nil
	}

	if err := tx.UpdateRoomStatus(ctx, roomID, status, now); err != nil {
		return "", false, err
	}

	r.logger.Info("Room status updated",
		zap.Int64("room_id", roomID),
		zap.String("from", string(room.CurrentStatus)),
		zap.String("to", string(status)),
	)
	return status, true, nil
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return from, from.AddDate(0, 0, 1)
}
