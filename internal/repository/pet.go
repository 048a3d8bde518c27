package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-memorial/internal/model"
)

// PetRepository はペット情報の参照を担当するインターフェースです
type PetRepository interface {
	GetNameByID(ctx context.Context, petID int64) (string, error)
}

// PetRepositoryImpl はPetRepositoryの実装です
type PetRepositoryImpl struct {
	db *DB
}

// NewPetRepository は新しいPetRepositoryを作成します
func NewPetRepository(db *sqlx.DB) PetRepository {
	return &PetRepositoryImpl{
		db: &DB{DB: db},
	}
}

// GetNameByID は指定されたペットIDからペット名を取得します
func (r *PetRepositoryImpl) GetNameByID(ctx context.Context, petID int64) (string, error) {
	ctx, done := trace(ctx, "PetRepository.GetNameByID")

	query := `
		SELECT name
		FROM pets
		WHERE id = $1`

	var name string
	err := r.db.QueryRowxContext(ctx, query, petID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		err = &model.NotFoundError{Entity: "pet", ID: petID}
		done(err)
		return "", err
	}
	if err != nil {
		done(err)
		return "", fmt.Errorf("failed to get pet name: %w", err)
	}

	done(nil)
	return name, nil
}
