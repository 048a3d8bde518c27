package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/uma-arai/sbcntr-memorial/internal/model"
	"go.uber.org/zap"
)

// Notifier は予約イベントの通知先です
// 呼び出し側は通知の失敗で状態遷移を失敗させません
type Notifier interface {
	Notify(ctx context.Context, event model.ReservationEvent) error
}

// Nop は何もしない通知先です
type Nop struct{}

func (Nop) Notify(context.Context, model.ReservationEvent) error { return nil }

// Log はイベントをログに出力する通知先です
type Log struct {
	logger *zap.Logger
}

// NewLog は新しいLogを作成します
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, event model.ReservationEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.Int64("reservation_id", event.ReservationID),
		zap.Int64("customer_id", event.CustomerID),
		zap.String("to_status", string(event.ToStatus)),
	}
	if event.FromStatus != "" {
		fields = append(fields, zap.String("from_status", string(event.FromStatus)))
	}
	if event.ScheduledAt != nil {
		fields = append(fields, zap.Time("scheduled_at", *event.ScheduledAt))
	}
	if event.ChangedBy == nil {
		fields = append(fields, zap.Bool("system", true))
	} else {
		fields = append(fields, zap.Int64("changed_by", *event.ChangedBy))
	}
	l.logger.Info("Reservation event", fields...)
	return nil
}

// Multi は複数の通知先に順に送信します。1つの失敗で残りの送信は止めません
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event model.ReservationEvent) error {
	var errs []error
	for i, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("notifier %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
