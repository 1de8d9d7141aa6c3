package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresFavoriteRepo はPostgreSQLを使用したお気に入りリポジトリ。
type PostgresFavoriteRepo struct {
	db *sql.DB
}

// NewPostgresFavoriteRepo はPostgresFavoriteRepoを生成する。
func NewPostgresFavoriteRepo(db *sql.DB) *PostgresFavoriteRepo {
	return &PostgresFavoriteRepo{db: db}
}

// Toggle はお気に入り状態を1文で反転し、反転後の状態を返す。
// 既存行があれば削除、無ければ挿入する。確認と変更の間に他のリクエストが
// 割り込む余地は無く、同時挿入はUNIQUE(user_id, listing_id)でDO NOTHINGになる。
func (r *PostgresFavoriteRepo) Toggle(ctx context.Context, userID, listingID string) (bool, error) {
	var favorited bool
	err := r.db.QueryRowContext(ctx,
		`WITH removed AS (
		     DELETE FROM favorites
		     WHERE user_id = $1 AND listing_id = $2
		     RETURNING id
		 ), added AS (
		     INSERT INTO favorites (user_id, listing_id, created_at)
		     SELECT $1::uuid, $2::uuid, now()
		     WHERE NOT EXISTS (SELECT 1 FROM removed)
		     ON CONFLICT (user_id, listing_id) DO NOTHING
		     RETURNING id
		 )
		 SELECT NOT EXISTS (SELECT 1 FROM removed)`,
		userID, listingID,
	).Scan(&favorited)
	if err != nil {
		return false, fmt.Errorf("お気に入りの切り替えに失敗しました: %w", err)
	}
	return favorited, nil
}

// Add はお気に入りに追加する。既に追加済みの場合は何もしない。
func (r *PostgresFavoriteRepo) Add(ctx context.Context, userID, listingID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO favorites (user_id, listing_id, created_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id, listing_id) DO NOTHING`,
		userID, listingID,
	)
	if err != nil {
		return fmt.Errorf("お気に入りの追加に失敗しました: %w", err)
	}
	return nil
}

// Remove はお気に入りから削除する。未登録の場合は何もしない。
func (r *PostgresFavoriteRepo) Remove(ctx context.Context, userID, listingID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM favorites WHERE user_id = $1 AND listing_id = $2`,
		userID, listingID,
	)
	if err != nil {
		return fmt.Errorf("お気に入りの削除に失敗しました: %w", err)
	}
	return nil
}

// Exists はお気に入り登録済みかどうかを返す。
func (r *PostgresFavoriteRepo) Exists(ctx context.Context, userID, listingID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM favorites WHERE user_id = $1 AND listing_id = $2)`,
		userID, listingID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("お気に入り状態の取得に失敗しました: %w", err)
	}
	return exists, nil
}

// FavoritedAmong はlistingIDsのうちお気に入り登録済みのIDを返す。
func (r *PostgresFavoriteRepo) FavoritedAmong(ctx context.Context, userID string, listingIDs []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(listingIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT listing_id FROM favorites WHERE user_id = $1 AND listing_id = ANY($2::uuid[])`,
		userID, pq.Array(listingIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("お気に入り状態の一括取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("お気に入りのスキャンに失敗しました: %w", err)
		}
		result[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("お気に入りの走査に失敗しました: %w", err)
	}
	return result, nil
}

// ListingIDsByUser はユーザーのお気に入り土地IDを登録日時の降順で返す。
func (r *PostgresFavoriteRepo) ListingIDsByUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT listing_id FROM favorites WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("お気に入り一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("お気に入りのスキャンに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("お気に入りの走査に失敗しました: %w", err)
	}
	return ids, nil
}

// DeleteByUserID はユーザーの全お気に入りを削除する。
func (r *PostgresFavoriteRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM favorites WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("ユーザーのお気に入り削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ FavoriteRepository = (*PostgresFavoriteRepo)(nil)
