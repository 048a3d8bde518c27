package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/uma-arai/sbcntr-memorial/internal/common/clock"
	"github.com/uma-arai/sbcntr-memorial/internal/model"
	"github.com/uma-arai/sbcntr-memorial/internal/repository"
	"go.uber.org/zap"
)

// SlotDuration は表示用の枠の長さです。予約自体は常にmodel.BookingWindowを占有します
const SlotDuration = 30 * time.Minute

// SlotStatus は表示枠の状態です
type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBlocked   SlotStatus = "blocked"
	SlotPast      SlotStatus = "past"
	SlotEndTime   SlotStatus = "end_time"
)

// Slot は30分単位の表示枠です
type Slot struct {
	Start  time.Time  `json:"start"`
	End    time.Time  `json:"end"`
	Label  string     `json:"label"`
	Status SlotStatus `json:"status"`
	// Blocked の場合、枠を塞いでいる予約のID
	BlockedBy *int64 `json:"blocked_by,omitempty"`
}

// Result は任意の開始時刻に対する空き確認の結果です
type Result struct {
	Available   bool
	Conflicting *model.Reservation
}

// Engine は部屋の空き状況を計算します。状態は変更しません
type Engine struct {
	store  repository.Reader
	clock  clock.Clock
	logger *zap.Logger
}

// NewEngine は新しいEngineを作成します
func NewEngine(store repository.Reader, clk clock.Clock, logger *zap.Logger) *Engine {
	return &Engine{store: store, clock: clk, logger: logger}
}

// Overlaps は半開区間 [aStart, aEnd) と [bStart, bEnd) が重なるかを判定します
// 空き枠の計算と任意時刻の空き確認はどちらもこの判定を使用します
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// FindConflict は [start, end) と重なる最初の予約を返します。excludeIDの予約は無視します
func FindConflict(reservations []model.Reservation, start, end time.Time, excludeID *int64) *model.Reservation {
	for i := range reservations {
		r := &reservations[i]
		if r.Status.IsTerminal() {
			continue
		}
		if excludeID != nil && r.ID == *excludeID {
			continue
		}
		rStart, rEnd, ok := r.Window()
		if !ok {
			continue
		}
		if Overlaps(start, end, rStart, rEnd) {
			return r
		}
	}
	return nil
}

// BuildSlots は営業時間を30分枠に分割し、各枠の状態を判定します
// 判定の優先順位は past > blocked > end_time > available です
func BuildSlots(hours model.OperatingHours, day time.Time, reservations []model.Reservation, now time.Time) []Slot {
	open, closeAt := hours.On(day)

	var slots []Slot
	for start := open; start.Before(closeAt); start = start.Add(SlotDuration) {
		slot := Slot{
			Start:  start,
			End:    start.Add(SlotDuration),
			Label:  start.Format("15:04"),
			Status: SlotAvailable,
		}

		switch {
		case !start.After(now):
			slot.Status = SlotPast
		default:
			if r := FindConflict(reservations, slot.Start, slot.End, nil); r != nil {
				slot.Status = SlotBlocked
				id := r.ID
				slot.BlockedBy = &id
			} else if start.Add(model.BookingWindow).After(closeAt) {
				slot.Status = SlotEndTime
			}
		}
		slots = append(slots, slot)
	}
	return slots
}

// GetAvailableSlots は指定日の部屋の表示枠を返します
// dateは基準タイムゾーンの日付として解釈します
func (e *Engine) GetAvailableSlots(ctx context.Context, roomID int64, date time.Time) ([]Slot, error) {
	room, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, &model.ValidationError{Field: "room_id", Message: fmt.Sprintf("room %d is not active", roomID)}
	}

	hours, err := room.Hours()
	if err != nil {
		return nil, err
	}

	day := date.In(e.clock.Location())
	open, closeAt := hours.On(day)

	reservations, err := e.store.ListActiveReservationsByRoom(ctx, roomID, open, closeAt)
	if err != nil {
		return nil, &model.SystemError{Op: "list reservations", Err: err}
	}

	slots := BuildSlots(hours, day, reservations, e.clock.Now())
	e.logger.Debug("Computed available slots",
		zap.Int64("room_id", roomID),
		zap.String("date", day.Format("2006-01-02")),
		zap.Int("slots", len(slots)),
		zap.Int("reservations", len(reservations)),
	)
	return slots, nil
}

// CheckAvailability は開始時刻と時間数で指定した枠が空いているかを確認します
// 重なる予約がある場合はその予約を返します
func (e *Engine) CheckAvailability(ctx context.Context, roomID int64, start time.Time, durationHours int, excludeID *int64) (Result, error) {
	if durationHours <= 0 {
		return Result{}, &model.ValidationError{Field: "duration_hours", Message: "must be positive"}
	}
	if _, err := e.store.GetRoom(ctx, roomID); err != nil {
		return Result{}, err
	}

	conflict, err := CheckReader(ctx, e.store, roomID, start, time.Duration(durationHours)*time.Hour, excludeID)
	if err != nil {
		return Result{}, err
	}
	return Result{Available: conflict == nil, Conflicting: conflict}, nil
}

// CheckReader はReaderから部屋の予約を読み込み、重なる予約を返します
// トランザクション内(部屋ロック取得後)の確認にも使用します
func CheckReader(ctx context.Context, r repository.Reader, roomID int64, start time.Time, duration time.Duration, excludeID *int64) (*model.Reservation, error) {
	end := start.Add(duration)
	reservations, err := r.ListActiveReservationsByRoom(ctx, roomID, start, end)
	if err != nil {
		return nil, &model.SystemError{Op: "list reservations", Err: err}
	}
	return FindConflict(reservations, start, end, excludeID), nil
}
