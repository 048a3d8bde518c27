package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/uma-arai/sbcntr-memorial/internal/model"
)

// queries はDBとトランザクションの両方で共有する読み取りクエリです
type queries struct {
	q sqlx.ExtContext
}

const reservationColumns = `
	id, customer_id, pet_id, package_id, room_id, scheduled_at, status,
	assigned_staff_id, is_emergency, visit_route, custom_requests, memo,
	cancelled_at, cancel_reason, cancel_notes, penalty_amount, refund_amount,
	refund_status, created_by, created_at, updated_at`

var activeStatusArray = pq.Array([]string{
	string(model.StatusPending),
	string(model.StatusConfirmed),
	string(model.StatusInProgress),
})

// GetReservation は予約を1件取得します
func (r queries) GetReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	ctx, done := trace(ctx, "ReservationRepository.GetReservation")

	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	traceQuery(ctx, query)

	var res model.Reservation
	err := sqlx.GetContext(ctx, r.q, &res, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		err = &model.NotFoundError{Entity: "reservation", ID: id}
		done(err)
		return nil, err
	}
	if err != nil {
		done(err)
		return nil, fmt.Errorf("failed to get reservation %d: %w", id, err)
	}

	done(nil)
	return &res, nil
}

// ListReservations は条件に一致する予約を予約日時の降順で取得します
func (r queries) ListReservations(ctx context.Context, f ReservationFilter) ([]model.Reservation, error) {
	ctx, done := trace(ctx, "ReservationRepository.ListReservations")

	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.StaffID != nil {
		add("assigned_staff_id = $%d", *f.StaffID)
	}
	if f.IsEmergency != nil {
		add("is_emergency = $%d", *f.IsEmergency)
	}
	if f.RoomID != nil {
		add("room_id = $%d", *f.RoomID)
	}
	if f.ScheduledFrom != nil {
		add("scheduled_at >= $%d", *f.ScheduledFrom)
	}
	if f.ScheduledTo != nil {
		add("scheduled_at < $%d", *f.ScheduledTo)
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY scheduled_at DESC NULLS LAST, id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, f.Offset)
	}
	traceQuery(ctx, query)

	var out []model.Reservation
	if err := sqlx.SelectContext(ctx, r.q, &out, query, args...); err != nil {
		done(err)
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}

	done(nil)
	return out, nil
}

// ListActiveReservationsByRoom は部屋の2時間枠が [from, to) と交差する予約を取得します
func (r queries) ListActiveReservationsByRoom(ctx context.Context, roomID int64, from, to time.Time) ([]model.Reservation, error) {
	ctx, done := trace(ctx, "ReservationRepository.ListActiveReservationsByRoom")

	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE room_id = $1
		AND status = ANY($2)
		AND scheduled_at IS NOT NULL
		AND scheduled_at > $3
		AND scheduled_at < $4
		ORDER BY scheduled_at ASC, id ASC`
	traceQuery(ctx, query)

	var out []model.Reservation
	err := sqlx.SelectContext(ctx, r.q, &out, query, roomID, activeStatusArray, from.Add(-model.BookingWindow), to)
	if err != nil {
		done(err)
		return nil, fmt.Errorf("failed to list reservations of room %d: %w", roomID, err)
	}

	done(nil)
	return out, nil
}

// ListReservationIDsByStatus は、指定されたステータスで予約日時を過ぎた予約IDを取得します
func (r queries) ListReservationIDsByStatus(ctx context.Context, status model.ReservationStatus, scheduledBefore time.Time) ([]int64, error) {
	ctx, done := trace(ctx, "ReservationRepository.ListReservationIDsByStatus")

	query := `
		SELECT id
		FROM reservations
		WHERE status = $1
		AND scheduled_at <= $2
		ORDER BY id ASC`
	traceQuery(ctx, query)

	var ids []int64
	if err := sqlx.SelectContext(ctx, r.q, &ids, query, status, scheduledBefore); err != nil {
		done(err)
		return nil, fmt.Errorf("failed to query reservations with status %s: %w", status, err)
	}

	done(nil)
	return ids, nil
}

// ListHistory は予約の変更履歴を作成順に取得します
func (r queries) ListHistory(ctx context.Context, reservationID int64) ([]model.ReservationHistory, error) {
	ctx, done := trace(ctx, "ReservationRepository.ListHistory")

	query := `
		SELECT id, reservation_id, from_status, to_status, changed_by, notes, created_at
		FROM reservation_histories
		WHERE reservation_id = $1
		ORDER BY created_at ASC, id ASC`
	traceQuery(ctx, query)

	var out []model.ReservationHistory
	if err := sqlx.SelectContext(ctx, r.q, &out, query, reservationID); err != nil {
		done(err)
		return nil, fmt.Errorf("failed to list history of reservation %d: %w", reservationID, err)
	}

	done(nil)
	return out, nil
}

// LockReservation は予約を行ロック付きで取得します
func (t *pgTx) LockReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	ctx, done := trace(ctx, "ReservationRepository.LockReservation")

	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1 FOR UPDATE`

	var res model.Reservation
	err := t.tx.GetContext(ctx, &res, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		err = &model.NotFoundError{Entity: "reservation", ID: id}
		done(err)
		return nil, err
	}
	if err != nil {
		done(err)
		return nil, fmt.Errorf("failed to lock reservation %d: %w", id, err)
	}

	done(nil)
	return &res, nil
}

// LockReservations は複数の予約をID昇順でロックします
// 一括更新同士のデッドロックを避けるため、ロック順序を固定しています
func (t *pgTx) LockReservations(ctx context.Context, ids []int64) ([]model.Reservation, error) {
	ctx, done := trace(ctx, "ReservationRepository.LockReservations")

	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE id = ANY($1)
		ORDER BY id ASC
		FOR UPDATE`

	var out []model.Reservation
	if err := t.tx.SelectContext(ctx, &out, query, pq.Array(ids)); err != nil {
		done(err)
		return nil, fmt.Errorf("failed to lock reservations: %w", err)
	}

	done(nil)
	return out, nil
}

// CreateReservation は予約を作成し、採番されたIDを設定します
func (t *pgTx) CreateReservation(ctx context.Context, res *model.Reservation) error {
	ctx, done := trace(ctx, "ReservationRepository.CreateReservation")

	query := `
		INSERT INTO reservations (
			customer_id, pet_id, package_id, room_id, scheduled_at, status,
			assigned_staff_id, is_emergency, visit_route, custom_requests, memo,
			cancel_notes, refund_status, created_by, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		RETURNING id`

	err := t.tx.QueryRowxContext(ctx, query,
		res.CustomerID,
		res.PetID,
		res.PackageID,
		res.RoomID,
		res.ScheduledAt,
		res.Status,
		res.AssignedStaffID,
		res.IsEmergency,
		res.VisitRoute,
		res.CustomRequests,
		res.Memo,
		res.CancelNotes,
		res.RefundStatus,
		res.CreatedBy,
		res.CreatedAt,
		res.UpdatedAt,
	).Scan(&res.ID)
	if err != nil {
		done(err)
		return mapPQError(fmt.Errorf("failed to create reservation: %w", err))
	}

	done(nil)
	return nil
}

// UpdateReservation は予約の可変項目を更新します
func (t *pgTx) UpdateReservation(ctx context.Context, res *model.Reservation) error {
	ctx, done := trace(ctx, "ReservationRepository.UpdateReservation")

	query := `
		UPDATE reservations
		SET room_id = $1,
			scheduled_at = $2,
			status = $3,
			assigned_staff_id = $4,
			memo = $5,
			cancelled_at = $6,
			cancel_reason = $7,
			cancel_notes = $8,
			penalty_amount = $9,
			refund_amount = $10,
			refund_status = $11,
			updated_at = $12
		WHERE id = $13`

	result, err := t.tx.ExecContext(ctx, query,
		res.RoomID,
		res.ScheduledAt,
		res.Status,
		res.AssignedStaffID,
		res.Memo,
		res.CancelledAt,
		res.CancelReason,
		res.CancelNotes,
		res.PenaltyAmount,
		res.RefundAmount,
		res.RefundStatus,
		res.UpdatedAt,
		res.ID,
	)
	if err != nil {
		done(err)
		return fmt.Errorf("failed to update reservation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		done(err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		err := &model.NotFoundError{Entity: "reservation", ID: res.ID}
		done(err)
		return err
	}

	done(nil)
	return nil
}

// AppendHistory は変更履歴を追記します
func (t *pgTx) AppendHistory(ctx context.Context, h *model.ReservationHistory) error {
	ctx, done := trace(ctx, "ReservationRepository.AppendHistory")

	query := `
		INSERT INTO reservation_histories (
			reservation_id, from_status, to_status, changed_by, notes, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		RETURNING id`

	err := t.tx.QueryRowxContext(ctx, query,
		h.ReservationID,
		h.FromStatus,
		h.ToStatus,
		h.ChangedBy,
		h.Notes,
		h.CreatedAt,
	).Scan(&h.ID)
	if err != nil {
		done(err)
		return fmt.Errorf("failed to append reservation history: %w", err)
	}

	done(nil)
	return nil
}

// mapPQError は外部キー違反などをドメインエラーに変換します
func mapPQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "23503": // foreign_key_violation
		return &model.ValidationError{Field: pqErr.Constraint, Message: "referenced record does not exist"}
	case "23514": // check_violation
		return &model.ValidationError{Field: pqErr.Constraint, Message: pqErr.Message}
	}
	return err
}
