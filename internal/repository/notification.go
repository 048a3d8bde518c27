package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-memorial/internal/model"
	"go.uber.org/zap"
)

// NotificationRepository は通知の永続化を担当するインターフェースです
type NotificationRepository interface {
	CreateNotifications(ctx context.Context, records []model.NotificationRecord) error
	GetByCustomerID(ctx context.Context, customerID int64) ([]model.NotificationRecord, error)
	MarkAsRead(ctx context.Context, id int64) error
}

// NotificationRepositoryImpl は通知の永続化を担当します
type NotificationRepositoryImpl struct {
	db     *DB
	logger *zap.Logger
}

// NewNotificationRepository は新しいNotificationRepositoryを作成します
func NewNotificationRepository(db *sqlx.DB, logger *zap.Logger) *NotificationRepositoryImpl {
	return &NotificationRepositoryImpl{
		db:     &DB{DB: db},
		logger: logger,
	}
}

// CreateNotifications は複数の通知レコードを1トランザクションで作成します
func (r *NotificationRepositoryImpl) CreateNotifications(ctx context.Context, records []model.NotificationRecord) error {
	ctx, done := trace(ctx, "NotificationRepository.CreateNotifications")

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		done(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for i := range records {
		if err := r.create(ctx, tx, &records[i]); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error("Failed to rollback notification transaction", zap.Error(rbErr))
			}
			done(err)
			return fmt.Errorf("failed to create notification: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		done(err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	done(nil)
	return nil
}

func (r *NotificationRepositoryImpl) create(ctx context.Context, tx *sqlx.Tx, record *model.NotificationRecord) error {
	query := `
		INSERT INTO notifications (
			customer_id, reservation_id, title, message, is_read, type, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		RETURNING id`

	return tx.QueryRowxContext(ctx,
		query,
		record.CustomerID,
		record.ReservationID,
		record.Title,
		record.Message,
		record.IsRead,
		record.Type,
		record.CreatedAt,
		record.UpdatedAt,
	).Scan(&record.ID)
}

// GetByCustomerID は指定された顧客の通知を新しい順に取得します
func (r *NotificationRepositoryImpl) GetByCustomerID(ctx context.Context, customerID int64) ([]model.NotificationRecord, error) {
	ctx, done := trace(ctx, "NotificationRepository.GetByCustomerID")

	query := `
		SELECT id, customer_id, reservation_id, title, message, is_read, type, created_at, updated_at
		FROM notifications
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC`
	traceQuery(ctx, query)

	var records []model.NotificationRecord
	if err := r.db.SelectContext(ctx, &records, query, customerID); err != nil {
		done(err)
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}

	done(nil)
	return records, nil
}

// MarkAsRead は通知を既読にします
func (r *NotificationRepositoryImpl) MarkAsRead(ctx context.Context, id int64) error {
	ctx, done := trace(ctx, "NotificationRepository.MarkAsRead")

	query := `
		UPDATE notifications
		SET is_read = TRUE, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		done(err)
		return fmt.Errorf("failed to update notification is_read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		done(err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		err := &model.NotFoundError{Entity: "notification", ID: id}
		done(err)
		return err
	}

	done(nil)
	return nil
}
