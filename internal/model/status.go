package model

import "fmt"

// ReservationStatus は予約のステータスを表します
type ReservationStatus string

const (
	StatusPending    ReservationStatus = "pending"
	StatusConfirmed  ReservationStatus = "confirmed"
	StatusInProgress ReservationStatus = "in_progress"
	StatusCompleted  ReservationStatus = "completed"
	StatusCancelled  ReservationStatus = "cancelled"
)

// ActiveStatuses は部屋を占有する(終端でない)ステータスの一覧です
var ActiveStatuses = []ReservationStatus{StatusPending, StatusConfirmed, StatusInProgress}

// AllowedNext は現在のステータスから遷移可能なステータスを返します
// 未知のステータスからはどこにも遷移できません
func (s ReservationStatus) AllowedNext() []ReservationStatus {
	switch s {
	case StatusPending:
		return []ReservationStatus{StatusConfirmed, StatusCancelled}
	case StatusConfirmed:
		return []ReservationStatus{StatusInProgress, StatusCancelled}
	case StatusInProgress:
		return []ReservationStatus{StatusCompleted}
	case StatusCompleted, StatusCancelled:
		return nil
	default:
		return nil
	}
}

// CanTransitionTo は指定されたステータスへ遷移可能かを判定します
func (s ReservationStatus) CanTransitionTo(to ReservationStatus) bool {
	for _, next := range s.AllowedNext() {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal は完了またはキャンセル済みかを判定します
func (s ReservationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsValid は定義済みのステータスかを判定します
func (s ReservationStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s ReservationStatus) String() string {
	return string(s)
}

// ParseReservationStatus は文字列をReservationStatusに変換します
func ParseReservationStatus(v string) (ReservationStatus, error) {
	s := ReservationStatus(v)
	if !s.IsValid() {
		return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", v)}
	}
	return s, nil
}
