package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uma-arai/sbcntr-memorial/internal/common/clock"
	"github.com/uma-arai/sbcntr-memorial/internal/common/database"
	"github.com/uma-arai/sbcntr-memorial/internal/model"
	"github.com/uma-arai/sbcntr-memorial/internal/repository"
	"github.com/uma-arai/sbcntr-memorial/internal/service/inventory"
	"github.com/uma-arai/sbcntr-memorial/internal/service/reservation"
	"github.com/uma-arai/sbcntr-memorial/internal/service/room"
	"go.uber.org/zap"
)

type seed struct {
	customerID int64
	petID      int64
	roomID     int64
	packageID  int64
	itemID     int64
}

func setupTestDB(t *testing.T) (*repository.PostgresStore, *database.DB, seed) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	t.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate())
	// 2回目は適用済みのため何もしない
	require.NoError(t, db.Migrate())

	var s seed
	require.NoError(t, db.QueryRowxContext(ctx,
		`INSERT INTO customers (name, phone) VALUES ('Kim', '010-0000-0000') RETURNING id`).Scan(&s.customerID))
	require.NoError(t, db.QueryRowxContext(ctx,
		`INSERT INTO pets (customer_id, name) VALUES ($1, 'Coco') RETURNING id`, s.customerID).Scan(&s.petID))
	require.NoError(t, db.QueryRowxContext(ctx,
		`INSERT INTO memorial_rooms (name, operating_hours) VALUES ('Room A', '09:00-22:30') RETURNING id`).Scan(&s.roomID))
	require.NoError(t, db.QueryRowxContext(ctx,
		`INSERT INTO funeral_packages (name, base_price) VALUES ('Basic', 100000) RETURNING id`).Scan(&s.packageID))
	require.NoError(t, db.QueryRowxContext(ctx,
		`INSERT INTO inventory_items (name, code, current_stock, minimum_stock) VALUES ('Urn', 'URN-01', 10, 8) RETURNING id`).Scan(&s.itemID))

	return repository.NewPostgresStore(db.DB, zap.NewNop()), db, s
}

func TestPostgresStore_ReservationLifecycle(t *testing.T) {
	store, _, s := setupTestDB(t)
	ctx := context.Background()

	loc := clock.Seoul()
	now := time.Now().In(loc).Truncate(time.Second)
	clk := clock.NewFake(now, loc)
	logger := zap.NewNop()
	rooms := room.NewRegistry(store, clk, logger)
	svc := reservation.NewService(store, rooms, inventory.NewLinkage(store, logger), nil, clk, logger)

	res, err := svc.CreateReservation(ctx, reservation.CreateInput{
		CustomerID: s.customerID,
		PetID:      s.petID,
		PackageID:  &s.packageID,
		Items:      []reservation.ItemInput{{ItemID: s.itemID, Quantity: 3}},
	}, nil)
	require.NoError(t, err)

	for _, to := range []model.ReservationStatus{model.StatusConfirmed, model.StatusInProgress, model.StatusCompleted} {
		_, err := svc.Transition(ctx, res.ID, to, nil, "", nil)
		require.NoError(t, err)
	}

	item, err := store.GetInventoryItem(ctx, s.itemID)
	require.NoError(t, err)
	assert.Equal(t, 7, item.CurrentStock)

	movements, err := store.ListStockMovements(ctx, s.itemID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, -3, movements[0].Quantity)
	assert.Equal(t, model.UsageReference(res.ID), movements[0].ReferenceNumber)

	low, err := store.ListLowStockItems(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, s.itemID, low[0].ID)

	history, err := store.ListHistory(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, model.StatusCompleted, history[2].ToStatus)

	// 終端ステータスからは遷移できず、履歴も増えない
	_, err = svc.Transition(ctx, res.ID, model.StatusCancelled, nil, "", nil)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	history, err = store.ListHistory(ctx, res.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestPostgresStore_ConflictAndCancel(t *testing.T) {
	store, _, s := setupTestDB(t)
	ctx := context.Background()

	loc := clock.Seoul()
	today := time.Now().In(loc)
	now := time.Date(today.Year(), today.Month(), today.Day(), 8, 0, 0, 0, loc)
	clk := clock.NewFake(now, loc)
	logger := zap.NewNop()
	rooms := room.NewRegistry(store, clk, logger)
	svc := reservation.NewService(store, rooms, inventory.NewLinkage(store, logger), nil, clk, logger)

	at := time.Date(today.Year(), today.Month(), today.Day()+1, 10, 0, 0, 0, loc)
	first, err := svc.CreateReservation(ctx, reservation.CreateInput{
		CustomerID:  s.customerID,
		PetID:       s.petID,
		PackageID:   &s.packageID,
		RoomID:      &s.roomID,
		ScheduledAt: &at,
	}, nil)
	require.NoError(t, err)

	overlap := at.Add(90 * time.Minute)
	_, err = svc.CreateReservation(ctx, reservation.CreateInput{
		CustomerID:  s.customerID,
		PetID:       s.petID,
		RoomID:      &s.roomID,
		ScheduledAt: &overlap,
	}, nil)
	var conflict *model.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, first.ID, conflict.ConflictingID)

	// 26時間前のpendingキャンセルは50%
	reason := model.CancelReasonCustomerRequest
	cancelled, err := svc.Transition(ctx, first.ID, model.StatusCancelled, nil, "", &model.CancelInfo{Reason: &reason})
	require.NoError(t, err)

	stored, err := store.GetReservation(ctx, cancelled.ID)
	require.NoError(t, err)
	require.True(t, stored.PenaltyAmount.Valid)
	assert.True(t, decimal.NewFromInt(50000).Equal(stored.PenaltyAmount.Decimal))
	assert.True(t, decimal.NewFromInt(50000).Equal(stored.RefundAmount.Decimal))
	require.NotNil(t, stored.CancelReason)
	assert.Equal(t, reason, *stored.CancelReason)

	// キャンセル後は同じ枠を予約できる
	_, err = svc.CreateReservation(ctx, reservation.CreateInput{
		CustomerID:  s.customerID,
		PetID:       s.petID,
		RoomID:      &s.roomID,
		ScheduledAt: &overlap,
	}, nil)
	require.NoError(t, err)
}

func TestPostgresStore_SavepointAndForeignKeys(t *testing.T) {
	store, _, s := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	err := store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		kept := &model.Reservation{CustomerID: s.customerID, PetID: s.petID, Status: model.StatusPending, RefundStatus: model.RefundStatusPending, CreatedAt: now, UpdatedAt: now}
		if err := tx.CreateReservation(ctx, kept); err != nil {
			return err
		}

		spErr := tx.Savepoint(ctx, "sp_1", func() error {
			if _, err := tx.AdjustStock(ctx, s.itemID, -20, now); err != nil {
				return err
			}
			return errors.New("rollback this step")
		})
		assert.EqualError(t, spErr, "rollback this step")

		// 存在しないペットは外部キー違反としてValidationErrorになる
		spErr = tx.Savepoint(ctx, "sp_2", func() error {
			return tx.CreateReservation(ctx, &model.Reservation{CustomerID: s.customerID, PetID: 99999, Status: model.StatusPending, RefundStatus: model.RefundStatusPending, CreatedAt: now, UpdatedAt: now})
		})
		assert.ErrorIs(t, spErr, model.ErrValidation)

		assert.Error(t, tx.Savepoint(ctx, "bad name;", func() error { return nil }))
		return nil
	})
	require.NoError(t, err)

	item, err := store.GetInventoryItem(ctx, s.itemID)
	require.NoError(t, err)
	assert.Equal(t, 10, item.CurrentStock)

	list, err := store.ListReservations(ctx, repository.ReservationFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPostgresStore_AcquireTickLock(t *testing.T) {
	store, _, _ := setupTestDB(t)
	ctx := context.Background()

	release, acquired, err := store.AcquireTickLock(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = store.AcquireTickLock(ctx)
	require.NoError(t, err)
	assert.False(t, acquired)

	release()

	release, acquired, err = store.AcquireTickLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
	release()
}

func TestNotificationRepository_Postgres(t *testing.T) {
	_, db, s := setupTestDB(t)
	ctx := context.Background()

	repo := repository.NewNotificationRepository(db.DB, zap.NewNop())
	pets := repository.NewPetRepository(db.DB)

	name, err := pets.GetNameByID(ctx, s.petID)
	require.NoError(t, err)
	assert.Equal(t, "Coco", name)

	_, err = pets.GetNameByID(ctx, 99999)
	assert.ErrorIs(t, err, model.ErrNotFound)

	now := time.Now()
	require.NoError(t, repo.CreateNotifications(ctx, []model.NotificationRecord{
		{CustomerID: s.customerID, ReservationID: 1, Title: "Reservation confirmed", Message: "Coco", Type: model.EventReservationStatusChanged, CreatedAt: now, UpdatedAt: now},
	}))

	records, err := repo.GetByCustomerID(ctx, s.customerID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].IsRead)

	require.NoError(t, repo.MarkAsRead(ctx, records[0].ID))
	records, err = repo.GetByCustomerID(ctx, s.customerID)
	require.NoError(t, err)
	assert.True(t, records[0].IsRead)
}
