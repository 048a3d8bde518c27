package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uma-arai/sbcntr-memorial/internal/model"
	"github.com/uma-arai/sbcntr-memorial/internal/repository"
	"go.uber.org/zap"
)

// MockNotifier はテスト用の通知先です
type MockNotifier struct {
	mu     sync.Mutex
	events []model.ReservationEvent
	err    error
	block  chan struct{}
}

func (m *MockNotifier) Notify(ctx context.Context, event model.ReservationEvent) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

func (m *MockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func testEvent(id string, reservationID int64) model.ReservationEvent {
	scheduled := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return model.ReservationEvent{
		ID:            id,
		Type:          model.EventReservationStatusChanged,
		ReservationID: reservationID,
		CustomerID:    10,
		PetID:         20,
		FromStatus:    model.StatusPending,
		ToStatus:      model.StatusConfirmed,
		ScheduledAt:   &scheduled,
		CreatedAt:     scheduled.Add(-time.Hour),
	}
}

func TestDispatcher_DeliversQueuedEventsOnStop(t *testing.T) {
	next := &MockNotifier{}
	d := NewDispatcher(next, DispatcherConfig{QueueSize: 10}, zap.NewNop())
	d.Start()

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Notify(context.Background(), testEvent("ev", int64(i+1))))
	}
	d.Stop()

	assert.Equal(t, 5, next.count())

	// 停止後のイベントは破棄される
	require.NoError(t, d.Notify(context.Background(), testEvent("late", 6)))
	assert.Equal(t, 5, next.count())
}

func TestDispatcher_DropsWhenQueueIsFull(t *testing.T) {
	next := &MockNotifier{}
	d := NewDispatcher(next, DispatcherConfig{QueueSize: 1}, zap.NewNop())

	// 送信ゴルーチンを開始していないのでキューは消費されない
	require.NoError(t, d.Notify(context.Background(), testEvent("a", 1)))
	err := d.Notify(context.Background(), testEvent("b", 2))
	assert.ErrorIs(t, err, ErrQueueFull)

	d.Start()
	d.Stop()
	assert.Equal(t, 1, next.count())
}

func TestDispatcher_NotifyDoesNotBlockOnSlowNotifier(t *testing.T) {
	block := make(chan struct{})
	next := &MockNotifier{block: block}
	d := NewDispatcher(next, DispatcherConfig{QueueSize: 4}, zap.NewNop())
	d.Start()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			_ = d.Notify(context.Background(), testEvent("ev", int64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a slow notifier")
	}

	close(block)
	d.Stop()
	assert.Equal(t, 3, next.count())
}

func TestDispatcher_CircuitBreakerOpens(t *testing.T) {
	next := &MockNotifier{err: errors.New("broker down")}
	d := NewDispatcher(next, DispatcherConfig{QueueSize: 10, FailureThreshold: 2, OpenTimeout: time.Hour}, zap.NewNop())

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Notify(context.Background(), testEvent("ev", int64(i))))
	}
	d.Start()
	d.Stop()

	// 2回連続で失敗した後は送信しない
	assert.Equal(t, 2, next.count())
}

func TestMulti_Notify(t *testing.T) {
	ok := &MockNotifier{}
	failing := &MockNotifier{err: errors.New("boom")}
	after := &MockNotifier{}

	err := Multi{ok, failing, after}.Notify(context.Background(), testEvent("ev", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, after.count())
}

func TestLog_Notify(t *testing.T) {
	assert.NoError(t, NewLog(zap.NewNop()).Notify(context.Background(), testEvent("ev", 1)))
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafka_Notify(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w}

	event := testEvent("ev-1", 42)
	require.NoError(t, k.Notify(context.Background(), event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, []kafka.Header{
		{Key: "event_type", Value: []byte("reservation.status_changed")},
		{Key: "event_id", Value: []byte("ev-1")},
	}, msg.Headers)

	var decoded model.ReservationEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.ReservationID, decoded.ReservationID)
	assert.Equal(t, event.ToStatus, decoded.ToStatus)
}

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key, c.msg = exchange, key, msg
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func TestRabbitMQ_Notify(t *testing.T) {
	ch := &fakeChannel{}
	p := &RabbitMQ{ch: ch, exchange: "reservation.exchange"}

	require.NoError(t, p.Notify(context.Background(), testEvent("ev-1", 42)))
	assert.Equal(t, "reservation.exchange", ch.exchange)
	assert.Equal(t, "reservation.status_changed", ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, "ev-1", ch.msg.MessageId)
	assert.Contains(t, string(ch.msg.Body), `"reservation_id":42`)
}

func TestRecorder_Record(t *testing.T) {
	t.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")
	ctx := context.Background()
	kst := time.FixedZone("KST", 9*60*60)

	tests := []struct {
		name      string
		pets      map[int64]string
		events    []model.ReservationEvent
		wantCount int
		wantErr   bool
	}{
		{name: "0件のイベントを正常に処理", wantCount: 0},
		{
			name:      "同じペットの2件のイベントを処理",
			pets:      map[int64]string{20: "Coco"},
			events:    []model.ReservationEvent{testEvent("a", 1), testEvent("b", 2)},
			wantCount: 2,
		},
		{
			name:    "ペットが存在しない",
			events:  []model.ReservationEvent{testEvent("a", 1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := repository.NewMemoryStore()
			for id, name := range tt.pets {
				store.AddPet(id, name)
			}
			recorder := NewRecorder(store, store, kst, zap.NewNop())

			err := recorder.Record(ctx, tt.events)
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrNotFound)
				return
			}
			require.NoError(t, err)

			records, err := store.GetByCustomerID(ctx, 10)
			require.NoError(t, err)
			require.Len(t, records, tt.wantCount)
			if tt.wantCount > 0 {
				assert.Equal(t, "Reservation confirmed", records[0].Title)
				assert.Contains(t, records[0].Message, "Coco")
				assert.Contains(t, records[0].Message, "2025-03-01 19:00")
				assert.False(t, records[0].IsRead)
			}
		})
	}
}
