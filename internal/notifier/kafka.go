package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
	"github.com/uma-arai/sbcntr-memorial/internal/model"
)

// messageWriter はkafka.Writerの送信部分です
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka はイベントをトピックに送信します
// 予約IDをキーにして、同じ予約のイベント順序をパーティション内で保ちます
type Kafka struct {
	writer messageWriter
}

// NewKafka は新しいKafkaを作成します
func NewKafka(topic string, brokers ...string) *Kafka {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &Kafka{writer: w}
}

func (k *Kafka) Notify(ctx context.Context, event model.ReservationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.ReservationID, 10)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}
	return k.writer.WriteMessages(ctx, msg)
}

// Close は未送信のメッセージを送信してから閉じます
func (k *Kafka) Close() error {
	return k.writer.Close()
}
