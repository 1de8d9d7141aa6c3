package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/landmarket/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByIDs は指定ユーザー群のプロフィールを1クエリで取得する。
// usersを起点にLEFT JOINするため、profiles行が無いユーザーも返る。
func (r *PostgresProfileRepo) FindByIDs(ctx context.Context, ids []string) ([]ProfileWithUser, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.email, u.full_name, u.avatar_url, u.created_at, u.updated_at,
		        p.id, p.full_name, p.avatar_url, p.phone, p.line_id, p.email, p.created_at, p.updated_at
		 FROM users u
		 LEFT JOIN profiles p ON p.id = u.id
		 WHERE u.id = ANY($1::uuid[])`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの一括取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var results []ProfileWithUser
	for rows.Next() {
		var (
			pu                                        ProfileWithUser
			profileID                                 sql.NullString
			fullName, avatarURL, phone, lineID, email sql.NullString
			createdAt, updatedAt                      sql.NullTime
		)
		if err := rows.Scan(
			&pu.User.ID, &pu.User.Email, &pu.User.FullName, &pu.User.AvatarURL, &pu.User.CreatedAt, &pu.User.UpdatedAt,
			&profileID, &fullName, &avatarURL, &phone, &lineID, &email, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("プロフィールのスキャンに失敗しました: %w", err)
		}
		if profileID.Valid {
			pu.Profile = &model.Profile{
				ID:        profileID.String,
				FullName:  nullStringPtr(fullName),
				AvatarURL: nullStringPtr(avatarURL),
				Phone:     nullStringPtr(phone),
				LineID:    nullStringPtr(lineID),
				Email:     nullStringPtr(email),
				CreatedAt: nullTimePtr(createdAt),
				UpdatedAt: nullTimePtr(updatedAt),
			}
		}
		results = append(results, pu)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("プロフィールの走査に失敗しました: %w", err)
	}

	return results, nil
}

// Upsert はプロフィールの編集可能項目を保存する。
// avatar_urlはUpdateAvatarURLでのみ変更する。
func (r *PostgresProfileRepo) Upsert(ctx context.Context, profile *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, full_name, phone, line_id, email, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())
		 ON CONFLICT (id) DO UPDATE SET
		     full_name = EXCLUDED.full_name,
		     phone = EXCLUDED.phone,
		     line_id = EXCLUDED.line_id,
		     email = COALESCE(EXCLUDED.email, profiles.email),
		     updated_at = now()`,
		profile.ID, profile.FullName, profile.Phone, profile.LineID, profile.Email,
	)
	if err != nil {
		return fmt.Errorf("プロフィールの保存に失敗しました: %w", err)
	}
	return nil
}

// UpdateAvatarURL はプロフィールのアバターURLを保存する。行が無ければ作成する。
func (r *PostgresProfileRepo) UpdateAvatarURL(ctx context.Context, id, avatarURL string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, avatar_url, created_at, updated_at)
		 VALUES ($1, $2, now(), now())
		 ON CONFLICT (id) DO UPDATE SET avatar_url = EXCLUDED.avatar_url, updated_at = now()`,
		id, avatarURL,
	)
	if err != nil {
		return fmt.Errorf("プロフィールのアバターURL更新に失敗しました: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのプロフィールを削除する。
func (r *PostgresProfileRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("プロフィールの削除に失敗しました: %w", err)
	}
	return nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
