package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/google/uuid"
	"github.com/uma-arai/sbcntr-memorial/internal/common/clock"
	"github.com/uma-arai/sbcntr-memorial/internal/model"
	"github.com/uma-arai/sbcntr-memorial/internal/repository"
	"github.com/uma-arai/sbcntr-memorial/internal/service/reservation"
	"github.com/uma-arai/sbcntr-memorial/internal/service/room"
	"go.uber.org/zap"
)

const (
	// DefaultInterval はリコンサイラの既定の実行間隔です
	DefaultInterval = time.Minute

	segmentName = "sbcntr-memorial-reconciler"
)

// Summary は1回のTickの結果です
type Summary struct {
	RunID        string `json:"run_id"`
	Ran          bool   `json:"ran"`
	Completed    int    `json:"completed"`
	Started      int    `json:"started"`
	RoomsUpdated int    `json:"rooms_updated"`
	Skipped      int    `json:"skipped"`
	Failed       int    `json:"failed"`
}

// Reconciler は時刻経過による予約・部屋の状態変化を反映します
// 進行中の予約の完了、確定済み予約の開始、部屋状態の再計算の順に処理します
type Reconciler struct {
	store        repository.Store
	reservations *reservation.Service
	rooms        *room.Registry
	clock        clock.Clock
	logger       *zap.Logger
	interval     time.Duration

	// tickMu は同一プロセス内でTickが重ならないようにします
	tickMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewReconciler は新しいReconcilerを作成します
func NewReconciler(
	store repository.Store,
	reservations *reservation.Service,
	rooms *room.Registry,
	clk clock.Clock,
	logger *zap.Logger,
	interval time.Duration,
) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		store:        store,
		reservations: reservations,
		rooms:        rooms,
		clock:        clk,
		logger:       logger,
		interval:     interval,
	}
}

// Start は一定間隔でTickを実行するゴルーチンを開始します。既に開始している場合は何もしません
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.stopped = make(chan struct{})

	go func(stopped chan struct{}) {
		defer close(stopped)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.logger.Info("Reconciler started", zap.Duration("interval", r.interval))
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Reconciler stopped")
				return
			case <-ticker.C:
				// 常駐実行では親セグメントがないためTickごとにセグメントを作成する
				tickCtx, seg := xray.BeginSegment(ctx, segmentName)
				r.Tick(tickCtx)
				seg.Close(nil)
			}
		}
	}(r.stopped)
}

// Stop はゴルーチンを停止し、実行中のTickの終了を待ちます
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, stopped := r.cancel, r.stopped
	r.cancel, r.stopped = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Tick はリコンサイルを1回実行します
// 他のTickが実行中の場合は待たずにスキップし、Ran=falseを返します
func (r *Reconciler) Tick(ctx context.Context) Summary {
	summary := Summary{RunID: uuid.NewString()}
	logger := r.logger.With(zap.String("run_id", summary.RunID))

	if !r.tickMu.TryLock() {
		logger.Info("Reconcile tick skipped: another tick is running in this process")
		return summary
	}
	defer r.tickMu.Unlock()

	release, acquired, err := r.store.AcquireTickLock(ctx)
	if err != nil {
		logger.Error("Failed to acquire reconcile lock", zap.Error(err))
		return summary
	}
	if !acquired {
		logger.Info("Reconcile tick skipped: lock is held by another process")
		return summary
	}
	defer release()

	// X-Rayセグメントの作成
	ctx, seg := xray.BeginSubsegment(ctx, "Reconciler.Tick")
	startTime := time.Now()
	now := r.clock.Now()
	summary.Ran = true

	// 完了 → 開始 → 部屋の順に処理する
	r.transitionDue(ctx, logger, &summary, now.Add(-model.BookingWindow), model.StatusInProgress, model.StatusCompleted, model.NoteAutoComplete, &summary.Completed)
	r.transitionDue(ctx, logger, &summary, now, model.StatusConfirmed, model.StatusInProgress, model.NoteAutoStart, &summary.Started)
	r.recomputeRooms(ctx, logger, &summary)

	duration := time.Since(startTime)
	if seg != nil {
		if err := seg.AddMetadata("summary", summary); err != nil {
			logger.Warn("Failed to add summary metadata", zap.Error(err))
		}
		seg.Close(nil)
	}

	logger.Info("Reconcile tick completed",
		zap.Int("completed", summary.Completed),
		zap.Int("started", summary.Started),
		zap.Int("rooms_updated", summary.RoomsUpdated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", duration),
	)
	return summary
}

// transitionDue はfromステータスで予約日時がbefore以前の予約をtoへ自動遷移させます
func (r *Reconciler) transitionDue(
	ctx context.Context,
	logger *zap.Logger,
	summary *Summary,
	before time.Time,
	from, to model.ReservationStatus,
	note string,
	counter *int,
) {
	ids, err := r.store.ListReservationIDsByStatus(ctx, from, before)
	if err != nil {
		logger.Error("Failed to list reservations",
			zap.String("status", string(from)),
			zap.Error(err),
		)
		summary.Failed++
		return
	}

	logger.Debug("Found reservations to transition",
		zap.Int("count", len(ids)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}

		var changed bool
		err := safely(func() error {
			var err error
			changed, err = r.reservations.AutoTransition(ctx, id, from, to, note)
			return err
		})
		switch {
		case err != nil:
			logger.Error("Failed to auto transition reservation",
				zap.Int64("reservation_id", id),
				zap.String("from", string(from)),
				zap.String("to", string(to)),
				zap.Error(err),
			)
			summary.Failed++
		case changed:
			*counter++
		default:
			summary.Skipped++
		}
	}
}

// recomputeRooms は全ての有効な部屋の状態を再計算します
func (r *Reconciler) recomputeRooms(ctx context.Context, logger *zap.Logger, summary *Summary) {
	rooms, err := r.store.ListRooms(ctx, true)
	if err != nil {
		logger.Error("Failed to list rooms", zap.Error(err))
		summary.Failed++
		return
	}

	now := r.clock.Now()
	for _, rm := range rooms {
		if ctx.Err() != nil {
			return
		}

		var changed bool
		err := safely(func() error {
			return r.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
				var err error
				_, changed, err = r.rooms.Recompute(ctx, tx, rm.ID, now)
				return err
			})
		})
		if err != nil {
			logger.Error("Failed to recompute room status", zap.Int64("room_id", rm.ID), zap.Error(err))
			summary.Failed++
			continue
		}
		if changed {
			summary.RoomsUpdated++
		}
	}
}

// safely はfn内のpanicをエラーに変換します
func safely(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic recovered: %v\nStack trace:\n%s", rec, debug.Stack())
		}
	}()
	return fn()
}
