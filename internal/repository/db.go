package repository

import (
	"context"
	"database/sql"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/jmoiron/sqlx"
)

type DB struct {
	*sqlx.DB
}

// BeginTx starts a new transaction
func (db *DB) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	ctx, done := trace(ctx, "DB.BeginTx")

	tx, err := db.DB.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	done(err)
	return tx, err
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// trace はX-Rayのサブセグメントを開始し、終了用の関数を返します
// 親セグメントがない場合(トレース無効時など)は何もしません
func trace(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, seg := xray.BeginSubsegment(ctx, name)
	if seg == nil {
		return ctx, func(error) {}
	}
	return ctx, func(err error) {
		seg.Close(err)
	}
}

// traceQuery はクエリをメタデータとして追加します
func traceQuery(ctx context.Context, query string) {
	seg := xray.GetSegment(ctx)
	if seg == nil {
		return
	}
	// メタデータの追加失敗はクエリの実行に影響させない
	_ = seg.AddMetadata("query", query)
}
