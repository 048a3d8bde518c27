package model

import (
	"fmt"
	"strings"
	"time"
)

// RoomStatus は追悼室の現在の状態です(予約から導出されるキャッシュ値)
type RoomStatus string

const (
	RoomStatusAvailable RoomStatus = "available"
	RoomStatusReserved  RoomStatus = "reserved"
	RoomStatusInUse     RoomStatus = "in_use"
)

// Room は追悼室です
type Room struct {
	ID             int64      `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	Capacity       *int       `db:"capacity" json:"capacity,omitempty"`
	OperatingHours string     `db:"operating_hours" json:"operating_hours"` // 例: 09:00-18:00
	Notes          string     `db:"notes" json:"notes"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	CurrentStatus  RoomStatus `db:"current_status" json:"current_status"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// TimeOfDay は時刻(時・分)です
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// OperatingHours は営業時間帯です
type OperatingHours struct {
	Start TimeOfDay
	End   TimeOfDay
}

// ParseOperatingHours は "HH:MM-HH:MM" 形式の営業時間を解析します
func ParseOperatingHours(v string) (OperatingHours, error) {
	parts := strings.Split(strings.TrimSpace(v), "-")
	if len(parts) != 2 {
		return OperatingHours{}, &ValidationError{Field: "operating_hours", Message: fmt.Sprintf("invalid format %q", v)}
	}
	start, err := parseTimeOfDay(parts[0])
	if err != nil {
		return OperatingHours{}, err
	}
	end, err := parseTimeOfDay(parts[1])
	if err != nil {
		return OperatingHours{}, err
	}
	if end.minutes() <= start.minutes() {
		return OperatingHours{}, &ValidationError{Field: "operating_hours", Message: fmt.Sprintf("end must be after start: %q", v)}
	}
	return OperatingHours{Start: start, End: end}, nil
}

func parseTimeOfDay(v string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return TimeOfDay{}, &ValidationError{Field: "operating_hours", Message: fmt.Sprintf("invalid time %q", v)}
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// On は指定日の営業開始・終了時刻を返します。dateのタイムゾーンで解釈します
func (h OperatingHours) On(date time.Time) (start, end time.Time) {
	y, m, d := date.Date()
	loc := date.Location()
	start = time.Date(y, m, d, h.Start.Hour, h.Start.Minute, 0, 0, loc)
	end = time.Date(y, m, d, h.End.Hour, h.End.Minute, 0, 0, loc)
	return start, end
}

func (h OperatingHours) String() string {
	return h.Start.String() + "-" + h.End.String()
}

// Hours は部屋の営業時間を解析して返します
func (r *Room) Hours() (OperatingHours, error) {
	return ParseOperatingHours(r.OperatingHours)
}

// DeriveRoomStatus は部屋の予約一覧から現在の状態を導出します
// 既に開始している予約があればin_use、2時間以内に開始する予約があればreservedです
func DeriveRoomStatus(reservations []Reservation, now time.Time) RoomStatus {
	horizon := now.Add(BookingWindow)
	status := RoomStatusAvailable
	for i := range reservations {
		r := &reservations[i]
		if r.Status.IsTerminal() {
			continue
		}
		start, end, ok := r.Window()
		if !ok {
			continue
		}
		if !start.After(now) && end.After(now) {
			return RoomStatusInUse
		}
		if start.After(now) && !start.After(horizon) {
			status = RoomStatusReserved
		}
	}
	return status
}
