// Package chat は買い手と売り手のメッセージのやり取りを提供する。
//
// 会話は参加者の組（順序なし）ごとに1件で、最初に問い合わせた側がbuyer、相手がsellerになる。
// 受信者は常にサーバー側で会話の相手として決定し、クライアントからは受け取らない。
package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/landmarket/internal/database"
	"github.com/hitoshi/landmarket/internal/metrics"
	"github.com/hitoshi/landmarket/internal/model"
	"github.com/hitoshi/landmarket/internal/realtime"
	"github.com/hitoshi/landmarket/internal/repository"
	"github.com/hitoshi/landmarket/internal/security"
	"github.com/hitoshi/landmarket/internal/storage"
)

const maxContentLength = 5000

// イベントのテーブル名
const (
	tableMessages      = "messages"
	tableConversations = "conversations"
)

// ProfileResolver は表示用プロフィールを一括取得するインターフェース。
type ProfileResolver interface {
	Views(ctx context.Context, ids []string) (map[string]model.ProfileView, error)
}

// ImageUploader は画像アップロードのインターフェース。
type ImageUploader interface {
	Upload(ctx context.Context, bucket model.Bucket, ownerID, filename string, r io.Reader) (*storage.Uploaded, error)
}

// Thread は会話画面の表示内容。
type Thread struct {
	Conversation *model.Conversation
	Other        *model.ProfileView
	Listing      *model.Listing
	Messages     []*model.Message
}

// Summary は会話一覧の1件。
type Summary struct {
	Conversation *model.Conversation
	Other        *model.ProfileView
	UnreadCount  int
}

// Service はメッセージに関するビジネスロジックを提供する。
type Service struct {
	convRepo      repository.ConversationRepository
	msgRepo       repository.MessageRepository
	userRepo      repository.UserRepository
	listingRepo   repository.ListingRepository
	profiles      ProfileResolver
	uploader      ImageUploader
	broker        realtime.Broker
	sanitizer     security.ContentSanitizerService
	recorder      metrics.Recorder
	retryAttempts int
}

// Deps はServiceの依存をまとめた構造体。
type Deps struct {
	Conversations repository.ConversationRepository
	Messages      repository.MessageRepository
	Users         repository.UserRepository
	Listings      repository.ListingRepository
	Profiles      ProfileResolver
	Uploader      ImageUploader
	Broker        realtime.Broker
	Sanitizer     security.ContentSanitizerService
	Recorder      metrics.Recorder
	RetryAttempts int
}

// NewService はServiceを生成する。
func NewService(deps Deps) *Service {
	if deps.Recorder == nil {
		deps.Recorder = metrics.Nop{}
	}
	return &Service{
		convRepo:      deps.Conversations,
		msgRepo:       deps.Messages,
		userRepo:      deps.Users,
		listingRepo:   deps.Listings,
		profiles:      deps.Profiles,
		uploader:      deps.Uploader,
		broker:        deps.Broker,
		sanitizer:     deps.Sanitizer,
		recorder:      deps.Recorder,
		retryAttempts: deps.RetryAttempts,
	}
}

// Resolve はactorとotherUserIDの会話を取得し、無ければ作成する。
// 土地情報が違っても同じ相手との会話は1件に集約する。
func (s *Service) Resolve(ctx context.Context, actorID, otherUserID string, listingID *string) (*model.Conversation, bool, error) {
	if otherUserID == "" {
		return nil, false, model.NewValidationError("問い合わせ先のユーザーを指定してください。")
	}
	if actorID == otherUserID {
		return nil, false, model.NewSelfConversationError()
	}
	if _, err := uuid.Parse(otherUserID); err != nil {
		return nil, false, model.NewUserNotFoundError()
	}

	other, err := s.userRepo.FindByID(ctx, otherUserID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find user: %w", err)
	}
	if other == nil {
		return nil, false, model.NewUserNotFoundError()
	}

	if listingID != nil && *listingID == "" {
		listingID = nil
	}
	if listingID != nil {
		if _, err := uuid.Parse(*listingID); err != nil {
			return nil, false, model.NewListingNotFoundError(*listingID)
		}
		l, err := s.listingRepo.FindByID(ctx, *listingID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to find listing: %w", err)
		}
		if l == nil {
			return nil, false, model.NewListingNotFoundError(*listingID)
		}
	}

	conv, created, err := s.convRepo.FindOrCreate(ctx, actorID, otherUserID, listingID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve conversation: %w", err)
	}

	if created {
		slog.Info("conversation created",
			slog.String("user_id", actorID),
			slog.String("conversation_id", conv.ID),
		)
		s.notifyInboxes(ctx, realtime.EventInsert, conv, nil)
	}
	return conv, created, nil
}

// Conversation はactorが参加者である会話を返す。参加者でない場合は存在しない扱いにする。
func (s *Service) Conversation(ctx context.Context, actorID, conversationID string) (*model.Conversation, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return nil, model.NewConversationNotFoundError(conversationID)
	}
	conv, err := database.Do(ctx, s.retryAttempts, func(ctx context.Context) (*model.Conversation, error) {
		return s.convRepo.FindByID(ctx, conversationID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	if conv == nil || !conv.HasParticipant(actorID) {
		return nil, model.NewConversationNotFoundError(conversationID)
	}
	return conv, nil
}

// Send はメッセージを送信する。本文・画像ともに空の場合は何も書き込まずに拒否する。
// 受信者は会話の相手として決定する。
func (s *Service) Send(ctx context.Context, actorID, conversationID, content string, imageURL *string) (*model.Message, error) {
	content = s.sanitizer.NormalizeText(content)
	var image *string
	if imageURL != nil {
		if trimmed := strings.TrimSpace(*imageURL); trimmed != "" {
			image = &trimmed
		}
	}
	if content == "" && image == nil {
		return nil, model.NewEmptyMessageError()
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return nil, model.NewValidationError(fmt.Sprintf("メッセージは%d文字以内で入力してください。", maxContentLength))
	}
	if image != nil && !isHTTPURL(*image) {
		return nil, model.NewValidationError("画像URLが正しくありません。")
	}

	conv, err := s.Conversation(ctx, actorID, conversationID)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       actorID,
		ReceiverID:     conv.OtherParticipant(actorID),
		Content:        content,
		ImageURL:       image,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.msgRepo.CreateAndTouchConversation(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	s.recorder.RecordMessageSent(image != nil)
	slog.Info("message sent",
		slog.String("user_id", actorID),
		slog.String("conversation_id", conv.ID),
		slog.String("message_id", msg.ID),
	)

	s.publish(ctx, realtime.ConversationTopic(conv.ID), tableMessages, realtime.EventInsert, NewMessageRecord(msg))
	preview := msg.Preview()
	s.notifyInboxes(ctx, realtime.EventUpdate, conv, &preview)

	return msg, nil
}

// Open は会話の相手・土地情報・メッセージ履歴を返し、actor宛ての未読を既読にする。
func (s *Service) Open(ctx context.Context, actorID, conversationID string) (*Thread, error) {
	conv, err := s.Conversation(ctx, actorID, conversationID)
	if err != nil {
		return nil, err
	}

	thread := &Thread{Conversation: conv}
	otherID := conv.OtherParticipant(actorID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		views, err := s.profiles.Views(gctx, []string{otherID})
		if err != nil {
			return err
		}
		if v, ok := views[otherID]; ok {
			thread.Other = &v
		}
		return nil
	})
	g.Go(func() error {
		msgs, err := database.Do(gctx, s.retryAttempts, func(ctx context.Context) ([]*model.Message, error) {
			return s.msgRepo.ListByConversation(ctx, conv.ID)
		})
		if err != nil {
			return fmt.Errorf("failed to list messages: %w", err)
		}
		thread.Messages = msgs
		return nil
	})
	if conv.ListingID != nil {
		g.Go(func() error {
			l, err := s.listingRepo.FindByID(gctx, *conv.ListingID)
			if err != nil {
				return fmt.Errorf("failed to find listing: %w", err)
			}
			thread.Listing = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	updated, err := s.markRead(ctx, actorID, conv)
	if err != nil {
		return nil, err
	}
	if len(updated) > 0 {
		byID := make(map[string]*model.Message, len(updated))
		for _, m := range updated {
			byID[m.ID] = m
		}
		for i, m := range thread.Messages {
			if u, ok := byID[m.ID]; ok {
				thread.Messages[i] = u
			}
		}
	}

	if thread.Messages == nil {
		thread.Messages = []*model.Message{}
	}
	return thread, nil
}

// MarkRead はactor宛ての未読メッセージを既読にし、既読にした件数を返す。
func (s *Service) MarkRead(ctx context.Context, actorID, conversationID string) (int, error) {
	conv, err := s.Conversation(ctx, actorID, conversationID)
	if err != nil {
		return 0, err
	}
	updated, err := s.markRead(ctx, actorID, conv)
	if err != nil {
		return 0, err
	}
	return len(updated), nil
}

// MarkDelivered はリアルタイムで受信したメッセージを、actorが受信者の場合のみ既読にする。
// 対象外の場合はnilを返す。
func (s *Service) MarkDelivered(ctx context.Context, actorID, messageID string) (*model.Message, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return nil, nil
	}
	msg, err := s.msgRepo.MarkRead(ctx, messageID, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark message read: %w", err)
	}
	if msg == nil {
		return nil, nil
	}

	s.publish(ctx, realtime.ConversationTopic(msg.ConversationID), tableMessages, realtime.EventUpdate, NewMessageRecord(msg))
	s.publish(ctx, realtime.InboxTopic(actorID), tableConversations, realtime.EventUpdate, InboxNotice{ConversationID: msg.ConversationID})
	return msg, nil
}

// List はactorの会話一覧を新しい順に返す。
// 相手のプロフィールと未読数はそれぞれ1クエリでまとめて取得する。
func (s *Service) List(ctx context.Context, actorID string) ([]Summary, error) {
	convs, err := database.Do(ctx, s.retryAttempts, func(ctx context.Context) ([]*model.Conversation, error) {
		return s.convRepo.ListByParticipant(ctx, actorID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if len(convs) == 0 {
		return []Summary{}, nil
	}

	otherIDs := make([]string, len(convs))
	convIDs := make([]string, len(convs))
	for i, c := range convs {
		otherIDs[i] = c.OtherParticipant(actorID)
		convIDs[i] = c.ID
	}

	var (
		views  map[string]model.ProfileView
		unread map[string]int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.profiles.Views(gctx, otherIDs)
		views = v
		return err
	})
	g.Go(func() error {
		u, err := s.msgRepo.UnreadCounts(gctx, actorID, convIDs)
		if err != nil {
			return fmt.Errorf("failed to count unread messages: %w", err)
		}
		unread = u
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summaries := make([]Summary, len(convs))
	for i, c := range convs {
		summaries[i] = Summary{Conversation: c, UnreadCount: unread[c.ID]}
		if v, ok := views[otherIDs[i]]; ok {
			summaries[i].Other = &v
		}
	}
	return summaries, nil
}

// DeleteMessage は送信者のみメッセージを削除できる。
func (s *Service) DeleteMessage(ctx context.Context, actorID, messageID string) error {
	if _, err := uuid.Parse(messageID); err != nil {
		return model.NewMessageNotFoundError(messageID)
	}
	msg, err := s.msgRepo.FindByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to find message: %w", err)
	}
	if msg == nil {
		return model.NewMessageNotFoundError(messageID)
	}
	if msg.SenderID != actorID {
		return model.NewForbiddenError("自分が送信したメッセージのみ削除できます。")
	}

	if err := s.msgRepo.DeleteAndRefreshConversation(ctx, messageID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	slog.Info("message deleted",
		slog.String("user_id", actorID),
		slog.String("message_id", messageID),
	)

	s.publish(ctx, realtime.ConversationTopic(msg.ConversationID), tableMessages, realtime.EventDelete,
		deletedMessage{ID: msg.ID, ConversationID: msg.ConversationID})
	notice := InboxNotice{ConversationID: msg.ConversationID}
	s.publish(ctx, realtime.InboxTopic(msg.SenderID), tableConversations, realtime.EventUpdate, notice)
	s.publish(ctx, realtime.InboxTopic(msg.ReceiverID), tableConversations, realtime.EventUpdate, notice)
	return nil
}

// DeleteConversation は参加者であれば会話をメッセージごと削除する。
func (s *Service) DeleteConversation(ctx context.Context, actorID, conversationID string) error {
	conv, err := s.Conversation(ctx, actorID, conversationID)
	if err != nil {
		return err
	}

	if err := s.convRepo.DeleteWithMessages(ctx, conv.ID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	slog.Info("conversation deleted",
		slog.String("user_id", actorID),
		slog.String("conversation_id", conv.ID),
	)
	s.notifyInboxes(ctx, realtime.EventDelete, conv, nil)
	return nil
}

// UploadImage はメッセージ添付用の画像を保存して公開URLを返す。
func (s *Service) UploadImage(ctx context.Context, actorID, filename string, r io.Reader) (string, error) {
	up, err := s.uploader.Upload(ctx, model.BucketMessages, actorID, filename, r)
	if err != nil {
		return "", err
	}
	return up.URL, nil
}

func (s *Service) markRead(ctx context.Context, actorID string, conv *model.Conversation) ([]*model.Message, error) {
	updated, err := s.msgRepo.MarkConversationRead(ctx, conv.ID, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark messages read: %w", err)
	}
	if len(updated) == 0 {
		return nil, nil
	}

	for _, m := range updated {
		s.publish(ctx, realtime.ConversationTopic(conv.ID), tableMessages, realtime.EventUpdate, NewMessageRecord(m))
	}
	s.publish(ctx, realtime.InboxTopic(actorID), tableConversations, realtime.EventUpdate, InboxNotice{ConversationID: conv.ID})
	return updated, nil
}

func (s *Service) notifyInboxes(ctx context.Context, typ realtime.EventType, conv *model.Conversation, lastMessage *string) {
	notice := InboxNotice{ConversationID: conv.ID, LastMessage: lastMessage}
	s.publish(ctx, realtime.InboxTopic(conv.BuyerID), tableConversations, typ, notice)
	s.publish(ctx, realtime.InboxTopic(conv.SellerID), tableConversations, typ, notice)
}

// publish はイベントを配信する。配信失敗は書き込み結果に影響させず、ログのみ残す。
func (s *Service) publish(ctx context.Context, topic, table string, typ realtime.EventType, record any) {
	if s.broker == nil {
		return
	}
	event, err := realtime.NewEvent(table, typ, record)
	if err == nil {
		err = s.broker.Publish(ctx, topic, event)
	}
	if err != nil {
		slog.Warn("failed to publish realtime event",
			slog.String("topic", topic),
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
