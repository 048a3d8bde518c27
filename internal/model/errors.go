package model

import (
	"errors"
	"fmt"
	"time"
)

// エラー分類ごとの番兵エラーです。errors.Isで判定します
var (
	ErrValidation        = errors.New("validation error")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("reservation slot conflict")
	ErrInventory         = errors.New("inventory update failed")
	ErrSystem            = errors.New("system error")
)

// ValidationError は入力値の形式や範囲の誤りです。リトライしません
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidTransitionError は遷移表にないステータス変更です
type InvalidTransitionError struct {
	ReservationID int64
	From          ReservationStatus
	To            ReservationStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("reservation %d: cannot transition from %s to %s", e.ReservationID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// NotFoundError は対象の予約・部屋などが存在しないことを表します
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError は予約枠の重複です。重複相手の予約を保持します
type ConflictError struct {
	RoomID        int64
	ConflictingID int64
	ScheduledAt   time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("room %d is already booked by reservation %d at %s",
		e.RoomID, e.ConflictingID, e.ScheduledAt.Format(time.RFC3339))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// InventoryError は在庫引き落としの失敗です。完了遷移全体がロールバックされます
type InventoryError struct {
	ItemID int64
	Err    error
}

func (e *InventoryError) Error() string {
	return fmt.Sprintf("inventory item %d: %v", e.ItemID, e.Err)
}

func (e *InventoryError) Unwrap() error { return e.Err }

func (e *InventoryError) Is(target error) bool { return target == ErrInventory }

// Retryable は呼び出し側で再試行してよいかを返します
func (e *InventoryError) Retryable() bool { return true }

// SystemError はストアや外部連携の失敗です
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SystemError) Unwrap() error { return e.Err }

func (e *SystemError) Is(target error) bool { return target == ErrSystem }
