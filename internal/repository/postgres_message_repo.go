package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/landmarket/internal/model"
)

const messageColumns = `id, conversation_id, sender_id, receiver_id, content, image_url, read, read_at, created_at`

// PostgresMessageRepo はPostgreSQLを使用したメッセージリポジトリ。
type PostgresMessageRepo struct {
	db *sql.DB
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

// CreateAndTouchConversation はメッセージを作成し、
// 会話のlast_messageとupdated_atを同一トランザクションで更新する。
// msg.IDが空の場合は採番し、CreatedAtはDBの時刻で上書きする。
func (r *PostgresMessageRepo) CreateAndTouchConversation(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, image_url, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, false, now())
		 RETURNING created_at`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content, msg.ImageURL,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("メッセージの作成に失敗しました: %w", err)
	}
	msg.Read = false
	msg.ReadAt = nil

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message = $2, updated_at = $3 WHERE id = $1`,
		msg.ConversationID, msg.Preview(), msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("会話の最終メッセージ更新に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDのメッセージを取得する。見つからない場合はnilを返す。
func (r *PostgresMessageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	msg, err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("メッセージの取得に失敗しました: %w", err)
	}
	return msg, nil
}

// ListByConversation は会話のメッセージをcreated_at, idの昇順で返す。
func (r *PostgresMessageRepo) ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error) {
	return r.query(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
}

// MarkConversationRead はreceiverID宛ての未読メッセージを1回のUPDATEで既読にし、
// 更新した行を返す。
func (r *PostgresMessageRepo) MarkConversationRead(ctx context.Context, conversationID, receiverID string) ([]*model.Message, error) {
	return r.query(ctx,
		`UPDATE messages SET read = true, read_at = now()
		 WHERE conversation_id = $1 AND receiver_id = $2 AND read = false
		 RETURNING `+messageColumns,
		conversationID, receiverID,
	)
}

// MarkRead は1件のメッセージをreceiverIDが受信者の場合のみ既読にする。
// 既読済み・受信者不一致の場合はnilを返す。
func (r *PostgresMessageRepo) MarkRead(ctx context.Context, id, receiverID string) (*model.Message, error) {
	msg, err := scanMessage(r.db.QueryRowContext(ctx,
		`UPDATE messages SET read = true, read_at = now()
		 WHERE id = $1 AND receiver_id = $2 AND read = false
		 RETURNING `+messageColumns,
		id, receiverID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("メッセージの既読化に失敗しました: %w", err)
	}
	return msg, nil
}

// UnreadCounts はuserID宛ての未読数を会話IDごとに1クエリで集計する。
// 未読が無い会話はマップに含まれない。
func (r *PostgresMessageRepo) UnreadCounts(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	counts := make(map[string]int)
	if len(conversationIDs) == 0 {
		return counts, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT conversation_id, count(*)
		 FROM messages
		 WHERE receiver_id = $1 AND read = false AND conversation_id = ANY($2::uuid[])
		 GROUP BY conversation_id`,
		userID, pq.Array(conversationIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("未読数の集計に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    string
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("未読数のスキャンに失敗しました: %w", err)
		}
		counts[id] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("未読数の走査に失敗しました: %w", err)
	}
	return counts, nil
}

// DeleteAndRefreshConversation はメッセージを削除し、
// 残った最新メッセージから会話のlast_messageを再計算する。残りが無ければNULLにする。
func (r *PostgresMessageRepo) DeleteAndRefreshConversation(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	var conversationID string
	err = tx.QueryRowContext(ctx,
		`DELETE FROM messages WHERE id = $1 RETURNING conversation_id`,
		id,
	).Scan(&conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("メッセージの削除に失敗しました: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message = (
		     SELECT CASE
		         WHEN m.content <> '' THEN m.content
		         WHEN COALESCE(m.image_url, '') <> '' THEN $2
		     END
		     FROM messages m
		     WHERE m.conversation_id = $1
		     ORDER BY m.created_at DESC, m.id DESC
		     LIMIT 1
		 )
		 WHERE id = $1`,
		conversationID, model.ImageMessagePreview,
	); err != nil {
		return fmt.Errorf("会話の最終メッセージ再計算に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

func (r *PostgresMessageRepo) query(ctx context.Context, query string, args ...any) ([]*model.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("メッセージの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	msgs := make([]*model.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("メッセージのスキャンに失敗しました: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("メッセージの走査に失敗しました: %w", err)
	}
	return msgs, nil
}

func scanMessage(s rowScanner) (*model.Message, error) {
	var (
		m        model.Message
		imageURL sql.NullString
		readAt   sql.NullTime
	)
	err := s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content, &imageURL, &m.Read, &readAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.ImageURL = nullStringPtr(imageURL)
	m.ReadAt = nullTimePtr(readAt)
	return &m, nil
}

// compile-time interface check
var _ MessageRepository = (*PostgresMessageRepo)(nil)
