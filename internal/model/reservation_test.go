package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func int64Ptr(v int64) *int64 { return &v }

func TestCalculatePenaltyAmount(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	base := decimal.NewFromInt(100000)

	tests := []struct {
		name  string
		hours float64
		want  int64
	}{
		{name: "200時間前は0%", hours: 200, want: 0},
		{name: "ちょうど168時間前は0%", hours: 168, want: 0},
		{name: "100時間前は30%", hours: 100, want: 30000},
		{name: "ちょうど72時間前は30%", hours: 72, want: 30000},
		{name: "48時間前は50%", hours: 48, want: 50000},
		{name: "ちょうど24時間前は50%", hours: 24, want: 50000},
		{name: "10時間前は100%", hours: 10, want: 100000},
		{name: "予約時刻を過ぎている場合は100%", hours: -1, want: 100000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := now.Add(time.Duration(tt.hours * float64(time.Hour)))
			r := &Reservation{Status: StatusConfirmed, PackageID: int64Ptr(1), ScheduledAt: &at}
			got := r.CalculatePenaltyAmount(now, &base)
			assert.Truef(t, decimal.NewFromInt(tt.want).Equal(got), "got %s want %d", got, tt.want)
		})
	}
}

func TestCalculatePenaltyAmount_Monotonic(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	base := decimal.NewFromInt(100000)

	// 残り時間が増えるほどキャンセル料は減少(非増加)すること
	prev := decimal.NewFromInt(1 << 40)
	for h := -5; h <= 250; h++ {
		at := now.Add(time.Duration(h) * time.Hour)
		r := &Reservation{PackageID: int64Ptr(1), ScheduledAt: &at}
		got := r.CalculatePenaltyAmount(now, &base)
		assert.Truef(t, got.LessThanOrEqual(prev), "penalty increased at %dh", h)
		prev = got
	}
}

func TestCalculatePenaltyAmount_MissingInputs(t *testing.T) {
	now := time.Now()
	base := decimal.NewFromInt(100000)
	at := now.Add(time.Hour)

	noPackage := &Reservation{ScheduledAt: &at}
	assert.True(t, noPackage.CalculatePenaltyAmount(now, &base).IsZero())

	noSchedule := &Reservation{PackageID: int64Ptr(1)}
	assert.True(t, noSchedule.CalculatePenaltyAmount(now, &base).IsZero())

	noPrice := &Reservation{PackageID: int64Ptr(1), ScheduledAt: &at}
	assert.True(t, noPrice.CalculatePenaltyAmount(now, nil).IsZero())
}

func TestReservation_CanCancel(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	in := func(h int) *time.Time {
		at := now.Add(time.Duration(h) * time.Hour)
		return &at
	}

	tests := []struct {
		name        string
		status      ReservationStatus
		scheduledAt *time.Time
		want        bool
	}{
		{name: "pendingは常にキャンセル可能", status: StatusPending, scheduledAt: in(1), want: true},
		{name: "confirmedで24時間以上前", status: StatusConfirmed, scheduledAt: in(24), want: true},
		{name: "confirmedで24時間未満", status: StatusConfirmed, scheduledAt: in(23), want: false},
		{name: "confirmedで日時未設定", status: StatusConfirmed, scheduledAt: nil, want: false},
		{name: "in_progressは不可", status: StatusInProgress, scheduledAt: in(48), want: false},
		{name: "completedは不可", status: StatusCompleted, scheduledAt: in(48), want: false},
		{name: "cancelledは不可", status: StatusCancelled, scheduledAt: in(48), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Reservation{Status: tt.status, ScheduledAt: tt.scheduledAt}
			assert.Equal(t, tt.want, r.CanCancel(now))
		})
	}
}

func TestCancelInfo_Validate(t *testing.T) {
	valid := CancelReasonNoShow
	invalid := CancelReason("weather")

	assert.NoError(t, (*CancelInfo)(nil).Validate())
	assert.NoError(t, (&CancelInfo{Reason: &valid}).Validate())
	assert.ErrorIs(t, (&CancelInfo{Reason: &invalid}).Validate(), ErrValidation)
}
