package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/uma-arai/sbcntr-memorial/internal/model"
	"go.uber.org/zap"
)

// ErrQueueFull はキューが満杯でイベントを破棄したことを表します
var ErrQueueFull = errors.New("notification queue is full")

// DispatcherConfig はDispatcherの設定です
type DispatcherConfig struct {
	QueueSize int
	// Timeout は1件の送信にかける最大時間です
	Timeout time.Duration
	// FailureThreshold 回連続で失敗すると一定時間送信を止めます
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Dispatcher は通知を非同期で送信します
// Notifyはキューに積むだけで、送信の完了や失敗を待ちません
type Dispatcher struct {
	next    Notifier
	cfg     DispatcherConfig
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *zap.Logger

	queue    chan model.ReservationEvent
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
	stopped  bool
	stopChan chan struct{}
}

// NewDispatcher は新しいDispatcherを作成します
func NewDispatcher(next Notifier, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	d := &Dispatcher{
		next:     next,
		cfg:      cfg,
		logger:   logger,
		queue:    make(chan model.ReservationEvent, cfg.QueueSize),
		stopChan: make(chan struct{}),
	}
	d.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "notifier",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Notifier circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return d
}

// Notify はイベントをキューに積みます。満杯の場合は破棄して警告を出します
func (d *Dispatcher) Notify(_ context.Context, event model.ReservationEvent) error {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		d.logger.Warn("Dispatcher stopped, dropping notification", zap.String("event_id", event.ID))
		return nil
	}

	select {
	case d.queue <- event:
		return nil
	default:
		d.logger.Warn("Notification queue is full, dropping event",
			zap.String("event_id", event.ID),
			zap.Int64("reservation_id", event.ReservationID),
		)
		return ErrQueueFull
	}
}

// Start は送信用のゴルーチンを開始します
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	d.wg.Add(1)
	go d.run()
}

// Stop は新規の受け付けを止め、キューに残ったイベントを送信してから終了します
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	started := d.started
	d.mu.Unlock()

	close(d.stopChan)
	if started {
		d.wg.Wait()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stopChan:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(event model.ReservationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("Notifier panicked", zap.Any("panic", p), zap.String("event_id", event.ID))
		}
	}()

	_, err := d.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, d.next.Notify(ctx, event)
	})
	if err != nil {
		d.logger.Error("Failed to send notification",
			zap.Error(err),
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Int64("reservation_id", event.ReservationID),
		)
	}
}
