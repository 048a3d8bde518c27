package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToNotificationRecord(t *testing.T) {
	// テスト用のデータを準備
	now := time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC)
	seoul := time.FixedZone("KST", 9*60*60)
	scheduled := now.Add(24 * time.Hour)

	tests := []struct {
		name          string
		event         ReservationEvent
		wantErr       bool
		expectedTitle string
		contains      string
	}{
		{
			name: "予約受付通知の正常系",
			event: ReservationEvent{
				Type: EventReservationCreated, ReservationID: 1, CustomerID: 7, PetID: 3,
				ScheduledAt: &scheduled, CreatedAt: now,
			},
			expectedTitle: "Reservation received",
			contains:      "2025-03-02 10:00",
		},
		{
			name: "ステータス変更通知の正常系",
			event: ReservationEvent{
				Type: EventReservationStatusChanged, ReservationID: 1, CustomerID: 7, PetID: 3,
				FromStatus: StatusPending, ToStatus: StatusConfirmed, CreatedAt: now,
			},
			expectedTitle: "Reservation confirmed",
			contains:      "from pending to confirmed",
		},
		{
			name:    "予約IDなし",
			event:   ReservationEvent{Type: EventReservationCreated, CreatedAt: now},
			wantErr: true,
		},
		{
			name:    "未対応のイベント種別",
			event:   ReservationEvent{Type: "unknown", ReservationID: 1, CreatedAt: now},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, err := tt.event.ToNotificationRecord("Coco", seoul)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedTitle, record.Title)
			assert.Contains(t, record.Message, "Coco")
			assert.Contains(t, record.Message, tt.contains)
			assert.Equal(t, int64(7), record.CustomerID)
			assert.False(t, record.IsRead)
			assert.Equal(t, now, record.CreatedAt)
		})
	}
}
