package repository

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// tickLockKey はリコンサイラの実行を直列化するアドバイザリロックのキーです
const tickLockKey int64 = 0x6d656d6f7269616c

var savepointName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresStore はPostgreSQLを使ったStoreの実装です
type PostgresStore struct {
	queries
	db     *DB
	logger *zap.Logger
}

// NewPostgresStore は新しいPostgresStoreを作成します
func NewPostgresStore(db *sqlx.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		queries: queries{q: db},
		db:      &DB{DB: db},
		logger:  logger,
	}
}

// WithTx はfnをトランザクション内で実行します
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil {
				s.logger.Error("Failed to rollback transaction after panic", zap.Error(rbErr))
			}
			panic(p)
		}
	}()

	if err = fn(ctx, &pgTx{queries: queries{q: sqlTx}, tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to rollback transaction", zap.Error(rbErr), zap.NamedError("cause", err))
		}
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AcquireTickLock はセッション単位のアドバイザリロックを取得します
// ロックは専用のコネクションに紐づくため、解放までコネクションを保持します
func (s *PostgresStore) AcquireTickLock(ctx context.Context) (func(), bool, error) {
	ctx, done := trace(ctx, "PostgresStore.AcquireTickLock")

	conn, err := s.db.Connx(ctx)
	if err != nil {
		done(err)
		return nil, false, fmt.Errorf("failed to get connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowxContext(ctx, `SELECT pg_try_advisory_lock($1)`, tickLockKey).Scan(&acquired); err != nil {
		conn.Close()
		done(err)
		return nil, false, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		done(nil)
		return nil, false, nil
	}

	release := func() {
		// 呼び出し元のコンテキストがキャンセル済みでも解放できるようにする
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, tickLockKey); err != nil {
			s.logger.Error("Failed to release advisory lock", zap.Error(err))
		}
		if err := conn.Close(); err != nil {
			s.logger.Warn("Failed to close lock connection", zap.Error(err))
		}
	}

	done(nil)
	return release, true, nil
}

// pgTx はトランザクション内の操作です
type pgTx struct {
	queries
	tx *sqlx.Tx
}

// Savepoint はセーブポイントを作成してfnを実行します
// fnが失敗した場合はセーブポイントまで戻し、トランザクションは継続します
func (t *pgTx) Savepoint(ctx context.Context, name string, fn func() error) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}

	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT `+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	if fnErr := fn(); fnErr != nil {
		if _, err := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT `+name); err != nil {
			return fmt.Errorf("failed to rollback to savepoint: %v, original error: %w", err, fnErr)
		}
		if _, err := t.tx.ExecContext(ctx, `RELEASE SAVEPOINT `+name); err != nil {
			return fmt.Errorf("failed to release savepoint: %v, original error: %w", err, fnErr)
		}
		return fnErr
	}

	if _, err := t.tx.ExecContext(ctx, `RELEASE SAVEPOINT `+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*pgTx)(nil)
)
