package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uma-arai/sbcntr-memorial/internal/model"
	"github.com/uma-arai/sbcntr-memorial/internal/repository"
	"go.uber.org/zap"
)

// Transition は予約のステータスを変更します
// 予約行をロックしてから遷移表を確認し、副作用・履歴・部屋状態の更新を1トランザクションで行います
func (s *Service) Transition(ctx context.Context, id int64, to model.ReservationStatus, actor *int64, notes string, cancel *model.CancelInfo) (*model.Reservation, error) {
	if !to.IsValid() {
		return nil, &model.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", to)}
	}
	if err := cancel.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var (
		updated *model.Reservation
		from    model.ReservationStatus
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		res, err := tx.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		from = res.Status
		if err := s.apply(ctx, tx, res, to, actor, notes, cancel, now); err != nil {
			return err
		}
		updated = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Reservation status changed",
		zap.Int64("reservation_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Bool("system", actor == nil),
	)
	s.notify(ctx, model.NewReservationEvent(uuid.NewString(), model.EventReservationStatusChanged, updated, from, actor, notes, now))
	return updated, nil
}

// apply はロック済みの予約に遷移を適用します
// 遷移表にない場合は何も書き込まずにInvalidTransitionErrorを返します
func (s *Service) apply(ctx context.Context, tx repository.Tx, res *model.Reservation, to model.ReservationStatus, actor *int64, notes string, cancel *model.CancelInfo, now time.Time) error {
	from := res.Status
	if !from.CanTransitionTo(to) {
		return &model.InvalidTransitionError{ReservationID: res.ID, From: from, To: to}
	}

	switch to {
	case model.StatusCancelled:
		if err := s.applyCancellation(ctx, tx, res, cancel, now); err != nil {
			return err
		}
	case model.StatusCompleted:
		if _, err := s.inventory.ApplyUsage(ctx, tx, res, actor, now); err != nil {
			return err
		}
	}

	res.Status = to
	res.UpdatedAt = now
	if err := tx.UpdateReservation(ctx, res); err != nil {
		return wrapSystem("update reservation", err)
	}

	history := &model.ReservationHistory{
		ReservationID: res.ID,
		FromStatus:    from,
		ToStatus:      to,
		ChangedBy:     actor,
		Notes:         notes,
		CreatedAt:     now,
	}
	if err := tx.AppendHistory(ctx, history); err != nil {
		return wrapSystem("append history", err)
	}

	if res.RoomID != nil {
		if _, _, err := s.rooms.Recompute(ctx, tx, *res.RoomID, now); err != nil {
			return wrapSystem("recompute room status", err)
		}
	}
	return nil
}

// applyCancellation はキャンセル日時・理由を設定し、キャンセル可能な場合はキャンセル料を確定します
func (s *Service) applyCancellation(ctx context.Context, tx repository.Tx, res *model.Reservation, cancel *model.CancelInfo, now time.Time) error {
	cancelledAt := now
	res.CancelledAt = &cancelledAt
	if cancel != nil {
		if cancel.Reason != nil {
			reason := *cancel.Reason
			res.CancelReason = &reason
		}
		if cancel.Notes != "" {
			res.CancelNotes = cancel.Notes
		}
	}

	// 遷移前のステータスで判定する
	if !res.CanCancel(now) {
		return nil
	}

	var basePrice *decimal.Decimal
	if res.PackageID != nil {
		pkg, err := tx.GetPackage(ctx, *res.PackageID)
		if err != nil {
			return wrapSystem("get package", err)
		}
		basePrice = &pkg.BasePrice
	}

	penalty := res.CalculatePenaltyAmount(now, basePrice)
	res.PenaltyAmount = decimal.NullDecimal{Decimal: penalty, Valid: true}
	if basePrice != nil {
		res.RefundAmount = decimal.NullDecimal{Decimal: basePrice.Sub(penalty), Valid: true}
		res.RefundStatus = model.RefundStatusPending
	}
	return nil
}

// BulkFailure は一括遷移で失敗した予約です
type BulkFailure struct {
	ID  int64
	Err error
}

// BulkResult は一括遷移の結果です
type BulkResult struct {
	Succeeded []model.Reservation
	Failed    []BulkFailure
}

// BulkTransition は複数の予約を同じステータスへ遷移させます
// 全IDをID昇順で先にロックし、1件ずつセーブポイント内で適用します。失敗した予約は結果に集めて残りを続行します
func (s *Service) BulkTransition(ctx context.Context, ids []int64, to model.ReservationStatus, actor *int64, notes string) (*BulkResult, error) {
	if !to.IsValid() {
		return nil, &model.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", to)}
	}
	if len(ids) == 0 {
		return nil, &model.ValidationError{Field: "ids", Message: "must not be empty"}
	}

	sorted := uniqueSorted(ids)
	now := s.clock.Now()

	var (
		result *BulkResult
		froms  map[int64]model.ReservationStatus
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		result = &BulkResult{}
		froms = make(map[int64]model.ReservationStatus, len(sorted))

		locked, err := tx.LockReservations(ctx, sorted)
		if err != nil {
			return wrapSystem("lock reservations", err)
		}
		byID := make(map[int64]model.Reservation, len(locked))
		for _, r := range locked {
			byID[r.ID] = r
		}

		for _, id := range sorted {
			res, ok := byID[id]
			if !ok {
				result.Failed = append(result.Failed, BulkFailure{ID: id, Err: &model.NotFoundError{Entity: "reservation", ID: id}})
				continue
			}

			from := res.Status
			err := tx.Savepoint(ctx, fmt.Sprintf("bulk_%d", id), func() error {
				return s.apply(ctx, tx, &res, to, actor, notes, nil, now)
			})
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.logger.Warn("Bulk transition failed for reservation",
					zap.Int64("reservation_id", id),
					zap.String("from", string(from)),
					zap.String("to", string(to)),
					zap.Error(err),
				)
				result.Failed = append(result.Failed, BulkFailure{ID: id, Err: err})
				continue
			}
			froms[id] = from
			result.Succeeded = append(result.Succeeded, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Bulk transition completed",
		zap.String("to", string(to)),
		zap.Int("requested", len(sorted)),
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)),
	)
	for i := range result.Succeeded {
		res := &result.Succeeded[i]
		s.notify(ctx, model.NewReservationEvent(uuid.NewString(), model.EventReservationStatusChanged, res, froms[res.ID], actor, notes, now))
	}
	return result, nil
}

// AutoTransition はリコンサイラによる自動遷移です
// ロック取得後にステータスと時刻の前提条件を再確認し、満たさない場合は何もせずfalseを返します
func (s *Service) AutoTransition(ctx context.Context, id int64, expectedFrom, to model.ReservationStatus, note string) (bool, error) {
	now := s.clock.Now()

	var (
		updated *model.Reservation
		skipped string
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		res, err := tx.LockReservation(ctx, id)
		if err != nil {
			return err
		}

		if res.Status != expectedFrom {
			skipped = fmt.Sprintf("status is %s", res.Status)
			return nil
		}
		if !autoTransitionDue(res, to, now) {
			skipped = "not due yet"
			return nil
		}

		if err := s.apply(ctx, tx, res, to, nil, note, nil, now); err != nil {
			return err
		}
		updated = res
		return nil
	})
	if err != nil {
		return false, err
	}

	if updated == nil {
		s.logger.Info("Auto transition skipped",
			zap.Int64("reservation_id", id),
			zap.String("expected_from", string(expectedFrom)),
			zap.String("to", string(to)),
			zap.String("reason", skipped),
		)
		return false, nil
	}

	s.notify(ctx, model.NewReservationEvent(uuid.NewString(), model.EventReservationStatusChanged, updated, expectedFrom, nil, note, now))
	return true, nil
}

// autoTransitionDue は自動遷移の時刻条件を満たしているかを判定します
func autoTransitionDue(res *model.Reservation, to model.ReservationStatus, now time.Time) bool {
	start, end, ok := res.Window()
	if !ok {
		return false
	}
	switch to {
	case model.StatusInProgress:
		return !start.After(now)
	case model.StatusCompleted:
		return !end.After(now)
	default:
		return false
	}
}

// IsInvalidTransition はBulkFailureが遷移表違反によるものかを判定します
func (f BulkFailure) IsInvalidTransition() bool {
	return errors.Is(f.Err, model.ErrInvalidTransition)
}

func uniqueSorted(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}
