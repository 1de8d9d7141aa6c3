package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/landmarket/internal/model"
)

const conversationColumns = `id, buyer_id, seller_id, listing_id, last_message, created_at, updated_at`

// PostgresConversationRepo はPostgreSQLを使用した会話リポジトリ。
type PostgresConversationRepo struct {
	db *sql.DB
}

// NewPostgresConversationRepo はPostgresConversationRepoを生成する。
func NewPostgresConversationRepo(db *sql.DB) *PostgresConversationRepo {
	return &PostgresConversationRepo{db: db}
}

// FindOrCreate は参加者の組（順序なし）に対する会話を取得し、無ければ作成する。
// uq_conversations_pairに対するUPSERTで行うため、双方からの同時初回問い合わせでも
// 会話は1件に収束する。既存の会話のbuyer/seller/listingは変更しない。
func (r *PostgresConversationRepo) FindOrCreate(ctx context.Context, buyerID, sellerID string, listingID *string) (*model.Conversation, bool, error) {
	var inserted bool
	conv, err := scanConversation(r.db.QueryRowContext(ctx,
		`INSERT INTO conversations (id, buyer_id, seller_id, listing_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())
		 ON CONFLICT ((LEAST(buyer_id, seller_id)), (GREATEST(buyer_id, seller_id)))
		 DO UPDATE SET buyer_id = conversations.buyer_id
		 RETURNING `+conversationColumns+`, (xmax = 0) AS inserted`,
		uuid.New().String(), buyerID, sellerID, listingID,
	), &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("会話の取得または作成に失敗しました: %w", err)
	}
	return conv, inserted, nil
}

// FindByID は指定IDの会話を取得する。見つからない場合はnilを返す。
func (r *PostgresConversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := scanConversation(r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("会話の取得に失敗しました: %w", err)
	}
	return conv, nil
}

// ListByParticipant はユーザーが参加する会話をupdated_atの降順で返す。
func (r *PostgresConversationRepo) ListByParticipant(ctx context.Context, userID string) ([]*model.Conversation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations
		 WHERE buyer_id = $1 OR seller_id = $1
		 ORDER BY updated_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("会話一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	convs := make([]*model.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("会話のスキャンに失敗しました: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("会話の走査に失敗しました: %w", err)
	}
	return convs, nil
}

// DeleteWithMessages はメッセージ、会話の順に同一トランザクションで削除する。
func (r *PostgresConversationRepo) DeleteWithMessages(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = $1`, id); err != nil {
		return fmt.Errorf("メッセージの削除に失敗しました: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("会話の削除に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// DeleteByParticipant はユーザーが参加する全会話をメッセージごと削除する。
func (r *PostgresConversationRepo) DeleteByParticipant(ctx context.Context, userID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id IN (
		     SELECT id FROM conversations WHERE buyer_id = $1 OR seller_id = $1
		 )`,
		userID,
	); err != nil {
		return fmt.Errorf("ユーザーのメッセージ削除に失敗しました: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversations WHERE buyer_id = $1 OR seller_id = $1`,
		userID,
	); err != nil {
		return fmt.Errorf("ユーザーの会話削除に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// scanConversation は会話1行をスキャンする。extraはconversationColumnsの後ろに続く列の格納先。
func scanConversation(s rowScanner, extra ...any) (*model.Conversation, error) {
	var (
		c           model.Conversation
		listingID   sql.NullString
		lastMessage sql.NullString
	)
	dest := append([]any{&c.ID, &c.BuyerID, &c.SellerID, &listingID, &lastMessage, &c.CreatedAt, &c.UpdatedAt}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	c.ListingID = nullStringPtr(listingID)
	c.LastMessage = nullStringPtr(lastMessage)
	return &c, nil
}

// compile-time interface check
var _ ConversationRepository = (*PostgresConversationRepo)(nil)
