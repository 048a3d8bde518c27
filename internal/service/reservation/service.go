package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uma-arai/sbcntr-memorial/internal/common/clock"
	"github.com/uma-arai/sbcntr-memorial/internal/model"
	"github.com/uma-arai/sbcntr-memorial/internal/notifier"
	"github.com/uma-arai/sbcntr-memorial/internal/repository"
	"github.com/uma-arai/sbcntr-memorial/internal/service/availability"
	"github.com/uma-arai/sbcntr-memorial/internal/service/inventory"
	"github.com/uma-arai/sbcntr-memorial/internal/service/room"
	"go.uber.org/zap"
)

// Service は予約の作成とステータス遷移を担当します
type Service struct {
	store     repository.Store
	rooms     *room.Registry
	inventory *inventory.Linkage
	notifier  notifier.Notifier
	clock     clock.Clock
	logger    *zap.Logger
}

// NewService は新しいServiceを作成します
func NewService(
	store repository.Store,
	rooms *room.Registry,
	linkage *inventory.Linkage,
	n notifier.Notifier,
	clk clock.Clock,
	logger *zap.Logger,
) *Service {
	if n == nil {
		n = notifier.Nop{}
	}
	return &Service{
		store:     store,
		rooms:     rooms,
		inventory: linkage,
		notifier:  n,
		clock:     clk,
		logger:    logger,
	}
}

// ItemInput は予約時に紐づける使用品目です
type ItemInput struct {
	ItemID   int64
	Quantity int
}

// CreateInput は予約作成の入力です
type CreateInput struct {
	CustomerID      int64
	PetID           int64
	PackageID       *int64
	RoomID          *int64
	ScheduledAt     *time.Time
	AssignedStaffID *int64
	IsEmergency     bool
	VisitRoute      string
	CustomRequests  string
	Memo            string
	Items           []ItemInput
}

func (in CreateInput) validate(now time.Time) error {
	if in.CustomerID <= 0 {
		return &model.ValidationError{Field: "customer_id", Message: "is required"}
	}
	if in.PetID <= 0 {
		return &model.ValidationError{Field: "pet_id", Message: "is required"}
	}
	if in.RoomID != nil && in.ScheduledAt == nil {
		return &model.ValidationError{Field: "scheduled_at", Message: "is required when a room is selected"}
	}
	if in.ScheduledAt != nil && !in.ScheduledAt.After(now) {
		return &model.ValidationError{Field: "scheduled_at", Message: "must be in the future"}
	}
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return &model.ValidationError{Field: "quantity", Message: fmt.Sprintf("item %d: must be positive", it.ItemID)}
		}
	}
	return nil
}

// CreateReservation は予約をpendingで作成します
// 部屋を指定した場合は部屋をロックし、2時間枠の重複を確認してから登録します
func (s *Service) CreateReservation(ctx context.Context, in CreateInput, actor *int64) (*model.Reservation, error) {
	now := s.clock.Now()
	if err := in.validate(now); err != nil {
		return nil, err
	}

	var created *model.Reservation
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if in.PackageID != nil {
			pkg, err := tx.GetPackage(ctx, *in.PackageID)
			if err != nil {
				return err
			}
			if !pkg.IsActive {
				return &model.ValidationError{Field: "package_id", Message: fmt.Sprintf("package %d is not active", pkg.ID)}
			}
		}

		if in.RoomID != nil {
			if err := s.reserveSlot(ctx, tx, *in.RoomID, *in.ScheduledAt, nil); err != nil {
				return err
			}
		}

		for _, it := range in.Items {
			if err := s.inventory.CheckStock(ctx, tx, it.ItemID, it.Quantity); err != nil {
				return err
			}
		}

		res := &model.Reservation{
			CustomerID:      in.CustomerID,
			PetID:           in.PetID,
			PackageID:       in.PackageID,
			RoomID:          in.RoomID,
			ScheduledAt:     in.ScheduledAt,
			Status:          model.StatusPending,
			AssignedStaffID: in.AssignedStaffID,
			IsEmergency:     in.IsEmergency,
			VisitRoute:      in.VisitRoute,
			CustomRequests:  in.CustomRequests,
			Memo:            in.Memo,
			RefundStatus:    model.RefundStatusPending,
			CreatedBy:       actor,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.CreateReservation(ctx, res); err != nil {
			return wrapSystem("create reservation", err)
		}

		for _, it := range in.Items {
			item := &model.ReservationInventoryItem{
				ReservationID: res.ID,
				ItemID:        it.ItemID,
				Quantity:      it.Quantity,
				CreatedAt:     now,
			}
			if err := tx.AddReservationItem(ctx, item); err != nil {
				return wrapSystem("add reservation item", err)
			}
		}

		if res.RoomID != nil {
			if _, _, err := s.rooms.Recompute(ctx, tx, *res.RoomID, now); err != nil {
				return wrapSystem("recompute room status", err)
			}
		}

		created = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Reservation created",
		zap.Int64("reservation_id", created.ID),
		zap.Int64("customer_id", created.CustomerID),
		zap.Bool("is_emergency", created.IsEmergency),
	)
	s.notify(ctx, model.NewReservationEvent(uuid.NewString(), model.EventReservationCreated, created, "", actor, "", now))
	return created, nil
}

// Reschedule は予約日時(と部屋)を変更します
// ステータスは変わらないため履歴は書き込みません
func (s *Service) Reschedule(ctx context.Context, id int64, newStart time.Time, newRoomID *int64, actor *int64) (*model.Reservation, error) {
	now := s.clock.Now()
	if !newStart.After(now) {
		return nil, &model.ValidationError{Field: "scheduled_at", Message: "must be in the future"}
	}

	var updated *model.Reservation
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		res, err := tx.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		if res.Status.IsTerminal() || res.Status == model.StatusInProgress {
			return &model.ValidationError{
				Field:   "status",
				Message: fmt.Sprintf("reservation %d in status %s cannot be rescheduled", id, res.Status),
			}
		}

		roomID := res.RoomID
		if newRoomID != nil {
			roomID = newRoomID
		}
		if roomID == nil {
			return &model.ValidationError{Field: "room_id", Message: "is required"}
		}

		// 部屋を変更する場合は2部屋ともID昇順でロックする
		oldRoomID := res.RoomID
		if oldRoomID != nil && *oldRoomID != *roomID && *oldRoomID < *roomID {
			if _, err := tx.LockRoom(ctx, *oldRoomID); err != nil {
				return err
			}
		}
		if err := s.reserveSlot(ctx, tx, *roomID, newStart, &res.ID); err != nil {
			return err
		}
		if oldRoomID != nil && *oldRoomID != *roomID && *oldRoomID > *roomID {
			if _, err := tx.LockRoom(ctx, *oldRoomID); err != nil {
				return err
			}
		}

		start := newStart
		res.ScheduledAt = &start
		res.RoomID = roomID
		res.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, res); err != nil {
			return wrapSystem("update reservation", err)
		}

		if _, _, err := s.rooms.Recompute(ctx, tx, *roomID, now); err != nil {
			return wrapSystem("recompute room status", err)
		}
		if oldRoomID != nil && *oldRoomID != *roomID {
			if _, _, err := s.rooms.Recompute(ctx, tx, *oldRoomID, now); err != nil {
				return wrapSystem("recompute room status", err)
			}
		}

		updated = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Reservation rescheduled",
		zap.Int64("reservation_id", updated.ID),
		zap.Int64("room_id", *updated.RoomID),
		zap.Time("scheduled_at", *updated.ScheduledAt),
	)
	s.notify(ctx, model.NewReservationEvent(uuid.NewString(), model.EventReservationRescheduled, updated, updated.Status, actor, "", now))
	return updated, nil
}

// reserveSlot は部屋をロックし、営業時間内で他の予約と重ならないことを確認します
func (s *Service) reserveSlot(ctx context.Context, tx repository.Tx, roomID int64, start time.Time, excludeID *int64) error {
	rm, err := tx.LockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !rm.IsActive {
		return &model.ValidationError{Field: "room_id", Message: fmt.Sprintf("room %d is not active", roomID)}
	}

	hours, err := rm.Hours()
	if err != nil {
		return err
	}
	local := start.In(s.clock.Location())
	open, closeAt := hours.On(local)
	if local.Before(open) || local.Add(model.BookingWindow).After(closeAt) {
		return &model.ValidationError{
			Field:   "scheduled_at",
			Message: fmt.Sprintf("booking window must fit within operating hours %s", hours),
		}
	}

	conflict, err := availability.CheckReader(ctx, tx, roomID, start, model.BookingWindow, excludeID)
	if err != nil {
		return err
	}
	if conflict != nil {
		return &model.ConflictError{
			RoomID:        roomID,
			ConflictingID: conflict.ID,
			ScheduledAt:   *conflict.ScheduledAt,
		}
	}
	return nil
}

// GetReservation は予約を取得します
func (s *Service) GetReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	return s.store.GetReservation(ctx, id)
}

// ListReservations は条件に一致する予約を返します
func (s *Service) ListReservations(ctx context.Context, f repository.ReservationFilter) ([]model.Reservation, error) {
	if f.Limit < 0 || f.Offset < 0 {
		return nil, &model.ValidationError{Field: "limit", Message: "must not be negative"}
	}
	list, err := s.store.ListReservations(ctx, f)
	if err != nil {
		return nil, wrapSystem("list reservations", err)
	}
	return list, nil
}

// ListHistory は予約のステータス変更履歴を返します
func (s *Service) ListHistory(ctx context.Context, id int64) ([]model.ReservationHistory, error) {
	if _, err := s.store.GetReservation(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, id)
}

// notify はコミット後に通知します。失敗してもログに残すだけです
func (s *Service) notify(ctx context.Context, event model.ReservationEvent) {
	if err := s.notifier.Notify(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("Failed to notify reservation event",
			zap.Error(err),
			zap.String("event_id", event.ID),
			zap.Int64("reservation_id", event.ReservationID),
		)
	}
}

// wrapSystem は分類済みでないエラーをSystemErrorとして包みます
func wrapSystem(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		model.ErrValidation,
		model.ErrInvalidTransition,
		model.ErrNotFound,
		model.ErrConflict,
		model.ErrInventory,
		model.ErrSystem,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return &model.SystemError{Op: op, Err: err}
}
