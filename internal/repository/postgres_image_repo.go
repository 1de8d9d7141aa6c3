package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/landmarket/internal/model"
)

// PostgresImageRepo はPostgreSQLを使用した画像リポジトリ。
// 画像本体はimages.dataにbyteaとして保存する。
type PostgresImageRepo struct {
	db *sql.DB
}

// NewPostgresImageRepo はPostgresImageRepoを生成する。
func NewPostgresImageRepo(db *sql.DB) *PostgresImageRepo {
	return &PostgresImageRepo{db: db}
}

// Create は画像を保存する。
func (r *PostgresImageRepo) Create(ctx context.Context, img *model.Image) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO images (id, bucket, name, owner_id, content_type, data, size, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		img.ID, string(img.Bucket), img.Name, img.OwnerID, img.ContentType, img.Data, img.Size, img.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("画像の保存に失敗しました: %w", err)
	}
	return nil
}

// FindByName はバケットとオブジェクト名で画像を取得する。見つからない場合はnilを返す。
func (r *PostgresImageRepo) FindByName(ctx context.Context, bucket model.Bucket, name string) (*model.Image, error) {
	img := &model.Image{}
	var b string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, bucket, name, owner_id, content_type, data, size, created_at
		 FROM images WHERE bucket = $1 AND name = $2`,
		string(bucket), name,
	).Scan(&img.ID, &b, &img.Name, &img.OwnerID, &img.ContentType, &img.Data, &img.Size, &img.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("画像の取得に失敗しました: %w", err)
	}
	img.Bucket = model.Bucket(b)
	return img, nil
}

// DeleteByOwnerID はユーザーがアップロードした全画像を削除する。
func (r *PostgresImageRepo) DeleteByOwnerID(ctx context.Context, ownerID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM images WHERE owner_id = $1`, ownerID); err != nil {
		return fmt.Errorf("ユーザーの画像削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ImageRepository = (*PostgresImageRepo)(nil)
