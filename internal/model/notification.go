package model

import (
	"fmt"
	"time"
)

// EventType は通知イベントの種類です
type EventType string

const (
	// EventReservationCreated は予約受付時のイベントです
	EventReservationCreated EventType = "reservation.created"
	// EventReservationStatusChanged はステータス変更時のイベントです
	EventReservationStatusChanged EventType = "reservation.status_changed"
	// EventReservationRescheduled は日時・部屋変更時のイベントです
	EventReservationRescheduled EventType = "reservation.rescheduled"
)

// ReservationEvent は予約の状態が変化した時に発行されるイベントの構造体
type ReservationEvent struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	ReservationID int64             `json:"reservation_id"`
	CustomerID    int64             `json:"customer_id"`
	PetID         int64             `json:"pet_id"`
	RoomID        *int64            `json:"room_id,omitempty"`
	FromStatus    ReservationStatus `json:"from_status,omitempty"`
	ToStatus      ReservationStatus `json:"to_status,omitempty"`
	ScheduledAt   *time.Time        `json:"scheduled_at,omitempty"`
	ChangedBy     *int64            `json:"changed_by,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewReservationEvent は予約の現在値からイベントを作成します
func NewReservationEvent(id string, typ EventType, r *Reservation, from ReservationStatus, changedBy *int64, notes string, at time.Time) ReservationEvent {
	return ReservationEvent{
		ID:            id,
		Type:          typ,
		ReservationID: r.ID,
		CustomerID:    r.CustomerID,
		PetID:         r.PetID,
		RoomID:        r.RoomID,
		FromStatus:    from,
		ToStatus:      r.Status,
		ScheduledAt:   r.ScheduledAt,
		ChangedBy:     changedBy,
		Notes:         notes,
		CreatedAt:     at,
	}
}

// NotificationRecord は通知のドメインモデルです
// データベースに永続化される通知レコードと今回は一致しています
type NotificationRecord struct {
	ID            int64     `db:"id"`
	CustomerID    int64     `db:"customer_id"`
	ReservationID int64     `db:"reservation_id"`
	Title         string    `db:"title"`
	Message       string    `db:"message"`
	IsRead        bool      `db:"is_read"`
	Type          EventType `db:"type"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

var statusLabels = map[ReservationStatus]string{
	StatusPending:    "pending",
	StatusConfirmed:  "confirmed",
	StatusInProgress: "in progress",
	StatusCompleted:  "completed",
	StatusCancelled:  "cancelled",
}

// ToNotificationRecord はイベントを通知レコードに変換します
func (e ReservationEvent) ToNotificationRecord(petName string, loc *time.Location) (*NotificationRecord, error) {
	if e.ReservationID == 0 {
		return nil, fmt.Errorf("reservation_id is required")
	}

	scheduled := "-"
	if e.ScheduledAt != nil {
		scheduled = e.ScheduledAt.In(loc).Format("2006-01-02 15:04")
	}

	var title, message string
	switch e.Type {
	case EventReservationCreated:
		title = "Reservation received"
		message = fmt.Sprintf("Reservation for %s has been received.\nScheduled at: %s", petName, scheduled)
	case EventReservationStatusChanged:
		title = fmt.Sprintf("Reservation %s", statusLabels[e.ToStatus])
		message = fmt.Sprintf("Reservation for %s changed from %s to %s.\nScheduled at: %s",
			petName, statusLabels[e.FromStatus], statusLabels[e.ToStatus], scheduled)
	case EventReservationRescheduled:
		title = "Reservation rescheduled"
		message = fmt.Sprintf("Reservation for %s has been moved.\nScheduled at: %s", petName, scheduled)
	default:
		return nil, fmt.Errorf("unsupported event type %q", e.Type)
	}

	return &NotificationRecord{
		CustomerID:    e.CustomerID,
		ReservationID: e.ReservationID,
		Title:         title,
		Message:       message,
		IsRead:        false,
		Type:          e.Type,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.CreatedAt,
	}, nil
}
