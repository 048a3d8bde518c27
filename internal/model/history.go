package model

import "time"

// 自動遷移時に履歴へ記録する備考です
const (
	NoteAutoComplete = "automatically completed 2 hours after the scheduled time"
	NoteAutoStart    = "automatically started at the scheduled time"
)

// ReservationHistory は予約ステータス変更の履歴です
// 追記のみで、更新・削除は行いません。ChangedByがnilの場合はシステムによる変更です
type ReservationHistory struct {
	ID            int64             `db:"id" json:"id"`
	ReservationID int64             `db:"reservation_id" json:"reservation_id"`
	FromStatus    ReservationStatus `db:"from_status" json:"from_status"`
	ToStatus      ReservationStatus `db:"to_status" json:"to_status"`
	ChangedBy     *int64            `db:"changed_by" json:"changed_by,omitempty"`
	Notes         string            `db:"notes" json:"notes"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
}

// IsSystemChange はシステム(自動処理)による変更かを判定します
func (h ReservationHistory) IsSystemChange() bool {
	return h.ChangedBy == nil
}
