package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/landmarket/internal/model"
)

const listingColumns = `id, user_id, title, description, price, size, size_unit,
	province, district, subdistrict, address, zip_code, zoning,
	property_type, status, images, latitude, longitude, created_at, updated_at`

// listingOrderBy は並び順ごとのORDER BY句。未知の値はnewestとして扱う。
var listingOrderBy = map[model.ListingSort]string{
	model.ListingSortNewest:    "created_at DESC, id DESC",
	model.ListingSortPriceAsc:  "price ASC, created_at DESC",
	model.ListingSortPriceDesc: "price DESC, created_at DESC",
	model.ListingSortSizeAsc:   "size ASC, created_at DESC",
	model.ListingSortSizeDesc:  "size DESC, created_at DESC",
}

// likeEscaper はILIKEパターン中のワイルドカードをエスケープする。
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// PostgresListingRepo はPostgreSQLを使用した土地情報リポジトリ。
type PostgresListingRepo struct {
	db *sql.DB
}

// NewPostgresListingRepo はPostgresListingRepoを生成する。
func NewPostgresListingRepo(db *sql.DB) *PostgresListingRepo {
	return &PostgresListingRepo{db: db}
}

// Create は土地情報を作成する。
func (r *PostgresListingRepo) Create(ctx context.Context, l *model.Listing) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO listings (
		     id, user_id, title, description, price, size, size_unit,
		     province, district, subdistrict, address, zip_code, zoning,
		     property_type, status, images, latitude, longitude, created_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		l.ID, l.UserID, l.Title, l.Description, l.Price, l.Size, l.SizeUnit,
		l.Province, l.District, l.Subdistrict, l.Address, l.ZipCode, l.Zoning,
		string(l.PropertyType), string(l.Status), pq.Array(l.Images), l.Latitude, l.Longitude, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("土地情報の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの土地情報を取得する。見つからない場合はnilを返す。
func (r *PostgresListingRepo) FindByID(ctx context.Context, id string) (*model.Listing, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`,
		id,
	)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("土地情報の取得に失敗しました: %w", err)
	}
	return l, nil
}

// FindByIDs は指定IDの土地情報を作成日時の降順で取得する。
func (r *PostgresListingRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Listing, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.query(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = ANY($1::uuid[]) ORDER BY created_at DESC, id DESC`,
		pq.Array(ids),
	)
}

// Update は土地情報の編集可能項目を更新する。所有者とcreated_atは変更しない。
func (r *PostgresListingRepo) Update(ctx context.Context, l *model.Listing) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE listings SET
		     title = $2, description = $3, price = $4, size = $5, size_unit = $6,
		     province = $7, district = $8, subdistrict = $9, address = $10, zip_code = $11, zoning = $12,
		     property_type = $13, status = $14, images = $15, latitude = $16, longitude = $17,
		     updated_at = $18
		 WHERE id = $1`,
		l.ID, l.Title, l.Description, l.Price, l.Size, l.SizeUnit,
		l.Province, l.District, l.Subdistrict, l.Address, l.ZipCode, l.Zoning,
		string(l.PropertyType), string(l.Status), pq.Array(l.Images), l.Latitude, l.Longitude,
		l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("土地情報の更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("listing not found: %s", l.ID)
	}
	return nil
}

// Delete は指定IDの土地情報を削除する。お気に入りはCASCADE削除され、
// 会話のlisting_idはNULLになる。
func (r *PostgresListingRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM listings WHERE id = $1`, id); err != nil {
		return fmt.Errorf("土地情報の削除に失敗しました: %w", err)
	}
	return nil
}

// Search は条件に一致する土地情報を返す。
func (r *PostgresListingRepo) Search(ctx context.Context, filter model.ListingFilter) ([]*model.Listing, error) {
	query, args := buildSearchQuery(filter)
	return r.query(ctx, query, args...)
}

// buildSearchQuery はフィルタからSELECT文と引数を組み立てる。
func buildSearchQuery(filter model.ListingFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if s := strings.TrimSpace(filter.Search); s != "" {
		conds = append(conds, "title ILIKE "+arg("%"+likeEscaper.Replace(s)+"%"))
	}
	if loc := strings.TrimSpace(filter.Location); loc != "" {
		p := arg("%" + likeEscaper.Replace(loc) + "%")
		conds = append(conds, fmt.Sprintf("(province ILIKE %[1]s OR district ILIKE %[1]s OR subdistrict ILIKE %[1]s)", p))
	}
	if filter.PropertyType != "" {
		conds = append(conds, "property_type = "+arg(string(filter.PropertyType)))
	}
	if filter.MinPrice != nil {
		conds = append(conds, "price >= "+arg(*filter.MinPrice))
	}
	if filter.MaxPrice != nil {
		conds = append(conds, "price <= "+arg(*filter.MaxPrice))
	}
	if filter.MinSize != nil {
		conds = append(conds, "size >= "+arg(*filter.MinSize))
	}
	if filter.MaxSize != nil {
		conds = append(conds, "size <= "+arg(*filter.MaxSize))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(listingColumns)
	b.WriteString(" FROM listings")
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}

	orderBy, ok := listingOrderBy[filter.Sort]
	if !ok {
		orderBy = listingOrderBy[model.ListingSortNewest]
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy)

	if filter.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(arg(filter.Limit))
	}
	if filter.Offset > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(arg(filter.Offset))
	}

	return b.String(), args
}

// Similar は同じ県または同じ種別の土地情報を、自身を除いて返す。
func (r *PostgresListingRepo) Similar(ctx context.Context, l *model.Listing, limit int) ([]*model.Listing, error) {
	return r.query(ctx,
		`SELECT `+listingColumns+`
		 FROM listings
		 WHERE id <> $1 AND (province = $2 OR property_type = $3)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $4`,
		l.ID, l.Province, string(l.PropertyType), limit,
	)
}

// ListByUserID はユーザーが所有する土地情報を作成日時の降順で返す。
func (r *PostgresListingRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Listing, error) {
	return r.query(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID,
	)
}

// CountByUserID はユーザーが所有する土地情報の件数を返す。
func (r *PostgresListingRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM listings WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("土地情報件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// DeleteByUserID はユーザーの全土地情報を削除する。
func (r *PostgresListingRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM listings WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("ユーザーの土地情報削除に失敗しました: %w", err)
	}
	return nil
}

func (r *PostgresListingRepo) query(ctx context.Context, query string, args ...any) ([]*model.Listing, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("土地情報の検索に失敗しました: %w", err)
	}
	defer rows.Close()

	listings := make([]*model.Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("土地情報のスキャンに失敗しました: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("土地情報の走査に失敗しました: %w", err)
	}
	return listings, nil
}

func scanListing(s rowScanner) (*model.Listing, error) {
	var (
		l                    model.Listing
		propertyType, status string
		lat, lng             sql.NullFloat64
		updatedAt            sql.NullTime
	)
	err := s.Scan(
		&l.ID, &l.UserID, &l.Title, &l.Description, &l.Price, &l.Size, &l.SizeUnit,
		&l.Province, &l.District, &l.Subdistrict, &l.Address, &l.ZipCode, &l.Zoning,
		&propertyType, &status, pq.Array(&l.Images), &lat, &lng, &l.CreatedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.PropertyType = model.PropertyType(propertyType)
	l.Status = model.ListingStatus(status)
	if lat.Valid {
		l.Latitude = &lat.Float64
	}
	if lng.Valid {
		l.Longitude = &lng.Float64
	}
	l.UpdatedAt = nullTimePtr(updatedAt)
	if l.Images == nil {
		l.Images = []string{}
	}
	return &l, nil
}

// compile-time interface check
var _ ListingRepository = (*PostgresListingRepo)(nil)
