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

const roomColumns = `id, name, capacity, operating_hours, notes, is_active, current_status, created_at, updated_at`

// GetRoom は追悼室を1件取得します
func (r queries) GetRoom(ctx context.Context, id int64) (*model.Room, error) {
	ctx, done := trace(ctx, "RoomRepository.GetRoom")

	query := `SELECT ` + roomColumns + ` FROM memorial_rooms WHERE id = $1`
	traceQuery(ctx, query)

	var room model.Room
	err := sqlx.GetContext(ctx, r.q, &room, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		err = &model.NotFoundError{Entity: "room", ID: id}
		done(err)
		return nil, err
	}
	if err != nil {
		done(err)
		return nil, fmt.Errorf("failed to get room %d: %w", id, err)
	}

	done(nil)
	return &room, nil
}

// ListRooms は追悼室をID順に取得します
func (r queries) ListRooms(ctx context.Context, activeOnly bool) ([]model.Room, error) {
	ctx, done := trace(ctx, "RoomRepository.ListRooms")

	query := `SELECT ` + roomColumns + ` FROM memorial_rooms`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY id ASC`
	traceQuery(ctx, query)

	var rooms []model.Room
	if err := sqlx.SelectContext(ctx, r.q, &rooms, query); err != nil {
		done(err)
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	done(nil)
	return rooms, nil
}

// ListBookedRoomIDs は期間内に終端でない予約がある部屋IDを取得します
func (r queries) ListBookedRoomIDs(ctx context.Context, from, to time.Time) ([]int64, error) {
	ctx, done := trace(ctx, "RoomRepository.ListBookedRoomIDs")

	query := `
		SELECT DISTINCT room_id
		FROM reservations
		WHERE room_id IS NOT NULL
		AND status = ANY($1)
		AND scheduled_at >= $2
		AND scheduled_at < $3
		ORDER BY room_id ASC`
	traceQuery(ctx, query)

	var ids []int64
	if err := sqlx.SelectContext(ctx, r.q, &ids, query, activeStatusArray, from, to); err != nil {
		done(err)
		return nil, fmt.Errorf("failed to list booked rooms: %w", err)
	}

	done(nil)
	return ids, nil
}

// LockRoom は追悼室を行ロック付きで取得します
// 同じ部屋への予約作成・変更をこのロックで直列化します
func (t *pgTx) LockRoom(ctx context.Context, id int64) (*model.Room, error) {
	ctx, done := trace(ctx, "RoomRepository.LockRoom")

	query := `SELECT ` + roomColumns + ` FROM memorial_rooms WHERE id = $1 FOR UPDATE`

	var room model.Room
	err := t.tx.GetContext(ctx, &room, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		err = &model.NotFoundError{Entity: "room", ID: id}
		done(err)
		return nil, err
	}
	if err != nil {
		done(err)
		return nil, fmt.Errorf("failed to lock room %d: %w", id, err)
	}

	done(nil)
	return &room, nil
}

// UpdateRoomStatus は部屋の現在の状態を更新します
func (t *pgTx) UpdateRoomStatus(ctx context.Context, roomID int64, status model.RoomStatus, at time.Time) error {
	ctx, done := trace(ctx, "RoomRepository.UpdateRoomStatus")

	query := `UPDATE memorial_rooms SET current_status = $1, updated_at = $2 WHERE id = $3`

	result, err := t.tx.ExecContext(ctx, query, status, at, roomID)
	if err != nil {
		done(err)
		return fmt.Errorf("failed to update room status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		done(err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		err := &model.NotFoundError{Entity: "room", ID: roomID}
		done(err)
		return err
	}

	done(nil)
	return nil
}
