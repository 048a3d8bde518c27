package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []ReservationStatus{
	StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled,
}

func TestReservationStatus_CanTransitionTo(t *testing.T) {
	allowed := map[[2]ReservationStatus]bool{
		{StatusPending, StatusConfirmed}:    true,
		{StatusPending, StatusCancelled}:    true,
		{StatusConfirmed, StatusInProgress}: true,
		{StatusConfirmed, StatusCancelled}:  true,
		{StatusInProgress, StatusCompleted}: true,
	}

	// 全ての組み合わせについて遷移表と一致すること
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := allowed[[2]ReservationStatus{from, to}]
			assert.Equalf(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestReservationStatus_Terminal(t *testing.T) {
	tests := []struct {
		name     string
		status   ReservationStatus
		terminal bool
	}{
		{name: "pendingは終端ではない", status: StatusPending, terminal: false},
		{name: "confirmedは終端ではない", status: StatusConfirmed, terminal: false},
		{name: "in_progressは終端ではない", status: StatusInProgress, terminal: false},
		{name: "completedは終端", status: StatusCompleted, terminal: true},
		{name: "cancelledは終端", status: StatusCancelled, terminal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			if tt.terminal {
				assert.Empty(t, tt.status.AllowedNext())
			}
		})
	}
}

func TestParseReservationStatus(t *testing.T) {
	s, err := ParseReservationStatus("in_progress")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, s)

	_, err = ParseReservationStatus("done")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	assert.False(t, ReservationStatus("done").CanTransitionTo(StatusCompleted))
}
