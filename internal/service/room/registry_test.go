package room

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uma-arai/sbcntr-memorial/internal/common/clock"
	"github.com/uma-arai/sbcntr-memorial/internal/model"
	"github.com/uma-arai/sbcntr-memorial/internal/repository"
	"go.uber.org/zap"
)

func TestRegistry_ListAvailableRooms(t *testing.T) {
	loc := clock.Seoul()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, loc)

	store := repository.NewMemoryStore()
	roomA := store.AddRoom(model.Room{Name: "A", OperatingHours: "09:00-18:00", IsActive: true})
	roomB := store.AddRoom(model.Room{Name: "B", OperatingHours: "09:00-18:00", IsActive: true})
	roomC := store.AddRoom(model.Room{Name: "C", OperatingHours: "09:00-18:00", IsActive: true})
	store.AddRoom(model.Room{Name: "inactive", OperatingHours: "09:00-18:00", IsActive: false})

	sameDay := time.Date(2025, 3, 1, 15, 0, 0, 0, loc)
	nextDay := time.Date(2025, 3, 2, 0, 0, 0, 0, loc)
	store.PutReservation(model.Reservation{RoomID: &roomA, ScheduledAt: &sameDay, Status: model.StatusPending})
	store.PutReservation(model.Reservation{RoomID: &roomB, ScheduledAt: &sameDay, Status: model.StatusCancelled})
	store.PutReservation(model.Reservation{RoomID: &roomC, ScheduledAt: &nextDay, Status: model.StatusConfirmed})

	registry := NewRegistry(store, clock.NewFake(now, loc), zap.NewNop())

	rooms, err := registry.ListAvailableRooms(ctx, now)
	require.NoError(t, err)

	var ids []int64
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	// キャンセル済みの予約と翌日0時の予約は対象外
	assert.Equal(t, []int64{roomB, roomC}, ids)

	// UTCで渡された日付も基準タイムゾーンの日付として扱う
	utcDate := time.Date(2025, 3, 1, 16, 0, 0, 0, time.UTC) // 2025-03-02 01:00 KST
	rooms, err = registry.ListAvailableRooms(ctx, utcDate)
	require.NoError(t, err)
	ids = nil
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{roomA, roomB}, ids)
}

func TestRegistry_GetOperatingHours(t *testing.T) {
	loc := clock.Seoul()
	store := repository.NewMemoryStore()
	roomID := store.AddRoom(model.Room{Name: "A", OperatingHours: "09:00-22:30", IsActive: true})
	registry := NewRegistry(store, clock.NewFake(time.Now(), loc), zap.NewNop())

	hours, err := registry.GetOperatingHours(context.Background(), roomID)
	require.NoError(t, err)
	assert.Equal(t, "09:00-22:30", hours.String())

	_, err = registry.GetOperatingHours(context.Background(), 999)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRegistry_Recompute(t *testing.T) {
	loc := clock.Seoul()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, loc)
	at := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	tests := []struct {
		name        string
		current     model.RoomStatus
		reservation *model.Reservation
		want        model.RoomStatus
		wantChanged bool
	}{
		{
			name:        "予約なしで変化なし",
			current:     model.RoomStatusAvailable,
			want:        model.RoomStatusAvailable,
			wantChanged: false,
		},
		{
			name:        "開始済みの予約で使用中になる",
			current:     model.RoomStatusReserved,
			reservation: &model.Reservation{Status: model.StatusInProgress, ScheduledAt: at(-time.Hour)},
			want:        model.RoomStatusInUse,
			wantChanged: true,
		},
		{
			name:        "ちょうど2時間後の予約で予約済みになる",
			current:     model.RoomStatusAvailable,
			reservation: &model.Reservation{Status: model.StatusConfirmed, ScheduledAt: at(2 * time.Hour)},
			want:        model.RoomStatusReserved,
			wantChanged: true,
		},
		{
			name:        "完了済みの予約は空室に戻す",
			current:     model.RoomStatusInUse,
			reservation: &model.Reservation{Status: model.StatusCompleted, ScheduledAt: at(-time.Hour)},
			want:        model.RoomStatusAvailable,
			wantChanged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := repository.NewMemoryStore()
			roomID := store.AddRoom(model.Room{Name: "A", OperatingHours: "09:00-22:30", IsActive: true, CurrentStatus: tt.current})
			if tt.reservation != nil {
				res := *tt.reservation
				res.RoomID = &roomID
				store.PutReservation(res)
			}
			registry := NewRegistry(store, clock.NewFake(now, loc), zap.NewNop())

			var (
				got     model.RoomStatus
				changed bool
			)
			err := store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
				var err error
				got, changed, err = registry.Recompute(ctx, tx, roomID, now)
				return err
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantChanged, changed)

			room, err := store.GetRoom(ctx, roomID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, room.CurrentStatus)
		})
	}
}
