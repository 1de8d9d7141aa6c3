package handler

import (
	"context"
	"io"
	"time"

	"github.com/hitoshi/landmarket/internal/chat"
	"github.com/hitoshi/landmarket/internal/favorite"
	"github.com/hitoshi/landmarket/internal/format"
	"github.com/hitoshi/landmarket/internal/listing"
	"github.com/hitoshi/landmarket/internal/model"
	"github.com/hitoshi/landmarket/internal/profile"
)

// --- レスポンス型 ---

// listingResponse は土地情報のAPIレスポンス。
// *_textは表示用に整形済みの値。
type listingResponse struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Price         int64      `json:"price"`
	PriceText     string     `json:"price_text"`
	Size          float64    `json:"size"`
	SizeUnit      string     `json:"size_unit"`
	SizeText      string     `json:"size_text"`
	Province      string     `json:"province"`
	District      string     `json:"district"`
	Subdistrict   string     `json:"subdistrict"`
	Address       string     `json:"address"`
	ZipCode       string     `json:"zip_code"`
	Zoning        string     `json:"zoning"`
	PropertyType  string     `json:"property_type"`
	Status        string     `json:"status"`
	Images        []string   `json:"images"`
	Latitude      *float64   `json:"latitude"`
	Longitude     *float64   `json:"longitude"`
	CreatedAt     time.Time  `json:"created_at"`
	CreatedAtText string     `json:"created_at_text"`
	UpdatedAt     *time.Time `json:"updated_at"`
	IsFavorite    bool       `json:"is_favorite"`
}

// profileResponse は表示用プロフィールのAPIレスポンス。
type profileResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Phone       string `json:"phone"`
	LineID      string `json:"line_id"`
	Email       string `json:"email"`
}

// listingDetailResponse は土地情報詳細のAPIレスポンス。
type listingDetailResponse struct {
	listingResponse
	Seller             *profileResponse `json:"seller"`
	SellerListingCount int              `json:"seller_listing_count"`
}

// favoriteResponse はお気に入り一覧の1件。
type favoriteResponse struct {
	Listing listingResponse  `json:"listing"`
	Seller  *profileResponse `json:"seller"`
}

// profilePageResponse はプロフィールページのAPIレスポンス。
type profilePageResponse struct {
	Profile      profileResponse   `json:"profile"`
	ListingCount int               `json:"listing_count"`
	Listings     []listingResponse `json:"listings"`
}

// conversationResponse は会話のAPIレスポンス。
type conversationResponse struct {
	ID          string           `json:"id"`
	BuyerID     string           `json:"buyer_id"`
	SellerID    string           `json:"seller_id"`
	ListingID   *string          `json:"listing_id"`
	LastMessage *string          `json:"last_message"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	OtherUser   *profileResponse `json:"other_user,omitempty"`
	UnreadCount int              `json:"unread_count"`
}

// threadResponse は会話画面のAPIレスポンス。
type threadResponse struct {
	Conversation conversationResponse `json:"conversation"`
	OtherUser    *profileResponse     `json:"other_user"`
	Listing      *listingResponse     `json:"listing"`
	Messages     []chat.MessageRecord `json:"messages"`
}

// --- 土地情報 ---

// ListingServiceAdapter は listing.Service を ListingServiceInterface に適合させるアダプタ。
type ListingServiceAdapter struct {
	svc *listing.Service
}

// NewListingServiceAdapter はListingServiceAdapterを生成する。
func NewListingServiceAdapter(svc *listing.Service) *ListingServiceAdapter {
	return &ListingServiceAdapter{svc: svc}
}

// Search は検索結果をhandlerレスポンス型で返す。
func (a *ListingServiceAdapter) Search(ctx context.Context, viewerID string, filter model.ListingFilter) ([]listingResponse, error) {
	summaries, err := a.svc.Search(ctx, viewerID, filter)
	if err != nil {
		return nil, err
	}
	return toListingSummaries(summaries), nil
}

// Get は土地情報詳細をhandlerレスポンス型で返す。
func (a *ListingServiceAdapter) Get(ctx context.Context, viewerID, id string) (*listingDetailResponse, error) {
	detail, err := a.svc.Get(ctx, viewerID, id)
	if err != nil {
		return nil, err
	}
	resp := &listingDetailResponse{
		listingResponse:    toListingResponse(detail.Listing, detail.IsFavorite),
		Seller:             toProfileResponsePtr(detail.Seller),
		SellerListingCount: detail.SellerListingCount,
	}
	return resp, nil
}

// Similar は類似物件をhandlerレスポンス型で返す。
func (a *ListingServiceAdapter) Similar(ctx context.Context, id string) ([]listingResponse, error) {
	listings, err := a.svc.Similar(ctx, id)
	if err != nil {
		return nil, err
	}
	return toListingResponses(listings), nil
}

// Create は土地情報を作成しhandlerレスポンス型で返す。
func (a *ListingServiceAdapter) Create(ctx context.Context, ownerID string, input listing.Input) (*listingResponse, error) {
	l, err := a.svc.Create(ctx, ownerID, input)
	if err != nil {
		return nil, err
	}
	resp := toListingResponse(l, false)
	return &resp, nil
}

// Update は土地情報を更新しhandlerレスポンス型で返す。
func (a *ListingServiceAdapter) Update(ctx context.Context, actorID, id string, input listing.Input) (*listingResponse, error) {
	l, err := a.svc.Update(ctx, actorID, id, input)
	if err != nil {
		return nil, err
	}
	resp := toListingResponse(l, false)
	return &resp, nil
}

// Delete は土地情報を削除する。
func (a *ListingServiceAdapter) Delete(ctx context.Context, actorID, id string) error {
	return a.svc.Delete(ctx, actorID, id)
}

// UploadImage は土地画像をアップロードしURLを返す。
func (a *ListingServiceAdapter) UploadImage(ctx context.Context, ownerID, filename string, r io.Reader) (string, error) {
	return a.svc.UploadImage(ctx, ownerID, filename, r)
}

// --- お気に入り ---

// FavoriteServiceAdapter は favorite.Service を FavoriteServiceInterface に適合させるアダプタ。
type FavoriteServiceAdapter struct {
	svc *favorite.Service
}

// NewFavoriteServiceAdapter はFavoriteServiceAdapterを生成する。
func NewFavoriteServiceAdapter(svc *favorite.Service) *FavoriteServiceAdapter {
	return &FavoriteServiceAdapter{svc: svc}
}

// Toggle はお気に入り状態を反転する。
func (a *FavoriteServiceAdapter) Toggle(ctx context.Context, userID, listingID string) (bool, error) {
	return a.svc.Toggle(ctx, userID, listingID)
}

// Set はお気に入り状態を指定の値にする。
func (a *FavoriteServiceAdapter) Set(ctx context.Context, userID, listingID string, favorited bool) (bool, error) {
	return a.svc.Set(ctx, userID, listingID, favorited)
}

// Status はお気に入り状態を返す。
func (a *FavoriteServiceAdapter) Status(ctx context.Context, userID, listingID string) (bool, error) {
	return a.svc.Status(ctx, userID, listingID)
}

// ListFavorites はお気に入り一覧をhandlerレスポンス型で返す。
func (a *FavoriteServiceAdapter) ListFavorites(ctx context.Context, userID string) ([]favoriteResponse, error) {
	entries, err := a.svc.ListFavorites(ctx, userID)
	if err != nil {
		return nil, err
	}
	results := make([]favoriteResponse, len(entries))
	for i, e := range entries {
		results[i] = favoriteResponse{
			Listing: toListingResponse(e.Listing, true),
			Seller:  toProfileResponsePtr(e.Seller),
		}
	}
	return results, nil
}

// --- プロフィール ---

// ProfileServiceAdapter は profile.Service を ProfileServiceInterface に適合させるアダプタ。
type ProfileServiceAdapter struct {
	svc *profile.Service
}

// NewProfileServiceAdapter はProfileServiceAdapterを生成する。
func NewProfileServiceAdapter(svc *profile.Service) *ProfileServiceAdapter {
	return &ProfileServiceAdapter{svc: svc}
}

// Get はプロフィールページをhandlerレスポンス型で返す。
func (a *ProfileServiceAdapter) Get(ctx context.Context, id string) (*profilePageResponse, error) {
	page, err := a.svc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &profilePageResponse{
		Profile:      toProfileResponse(page.Profile),
		ListingCount: page.ListingCount,
		Listings:     toListingResponses(page.Listings),
	}, nil
}

// GetMe はセッションユーザーのプロフィールを返す。
func (a *ProfileServiceAdapter) GetMe(ctx context.Context, userID string) (*profileResponse, error) {
	view, err := a.svc.View(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := toProfileResponse(*view)
	return &resp, nil
}

// UpdateMe はセッションユーザーのプロフィールを更新する。
func (a *ProfileServiceAdapter) UpdateMe(ctx context.Context, userID string, input profile.UpdateInput) (*profileResponse, error) {
	view, err := a.svc.UpdateMe(ctx, userID, input)
	if err != nil {
		return nil, err
	}
	resp := toProfileResponse(*view)
	return &resp, nil
}

// UploadAvatar はアバター画像をアップロードしURLを返す。
func (a *ProfileServiceAdapter) UploadAvatar(ctx context.Context, userID, filename string, r io.Reader) (string, error) {
	return a.svc.UploadAvatar(ctx, userID, filename, r)
}

// --- メッセージ ---

// ChatServiceAdapter は chat.Service を ChatServiceInterface と RealtimeAuthorizer に適合させるアダプタ。
type ChatServiceAdapter struct {
	svc *chat.Service
}

// NewChatServiceAdapter はChatServiceAdapterを生成する。
func NewChatServiceAdapter(svc *chat.Service) *ChatServiceAdapter {
	return &ChatServiceAdapter{svc: svc}
}

// Resolve は会話を取得または作成し、作成したかどうかを返す。
func (a *ChatServiceAdapter) Resolve(ctx context.Context, actorID, otherUserID string, listingID *string) (*conversationResponse, bool, error) {
	conv, created, err := a.svc.Resolve(ctx, actorID, otherUserID, listingID)
	if err != nil {
		return nil, false, err
	}
	resp := toConversationResponse(conv)
	return &resp, created, nil
}

// List は会話一覧をhandlerレスポンス型で返す。
func (a *ChatServiceAdapter) List(ctx context.Context, actorID string) ([]conversationResponse, error) {
	summaries, err := a.svc.List(ctx, actorID)
	if err != nil {
		return nil, err
	}
	results := make([]conversationResponse, len(summaries))
	for i, s := range summaries {
		resp := toConversationResponse(s.Conversation)
		resp.OtherUser = toProfileResponsePtr(s.Other)
		resp.UnreadCount = s.UnreadCount
		results[i] = resp
	}
	return results, nil
}

// Open は会話画面の内容をhandlerレスポンス型で返す。
func (a *ChatServiceAdapter) Open(ctx context.Context, actorID, conversationID string) (*threadResponse, error) {
	thread, err := a.svc.Open(ctx, actorID, conversationID)
	if err != nil {
		return nil, err
	}
	resp := &threadResponse{
		Conversation: toConversationResponse(thread.Conversation),
		OtherUser:    toProfileResponsePtr(thread.Other),
		Messages:     make([]chat.MessageRecord, len(thread.Messages)),
	}
	if thread.Listing != nil {
		l := toListingResponse(thread.Listing, false)
		resp.Listing = &l
	}
	for i, m := range thread.Messages {
		resp.Messages[i] = chat.NewMessageRecord(m)
	}
	return resp, nil
}

// Send はメッセージを送信しhandlerレスポンス型で返す。
func (a *ChatServiceAdapter) Send(ctx context.Context, actorID, conversationID, content string, imageURL *string) (*chat.MessageRecord, error) {
	msg, err := a.svc.Send(ctx, actorID, conversationID, content, imageURL)
	if err != nil {
		return nil, err
	}
	rec := chat.NewMessageRecord(msg)
	return &rec, nil
}

// MarkRead はactor宛ての未読を既読にする。
func (a *ChatServiceAdapter) MarkRead(ctx context.Context, actorID, conversationID string) (int, error) {
	return a.svc.MarkRead(ctx, actorID, conversationID)
}

// DeleteMessage は送信者本人のメッセージを削除する。
func (a *ChatServiceAdapter) DeleteMessage(ctx context.Context, actorID, messageID string) error {
	return a.svc.DeleteMessage(ctx, actorID, messageID)
}

// DeleteConversation は会話とメッセージを削除する。
func (a *ChatServiceAdapter) DeleteConversation(ctx context.Context, actorID, conversationID string) error {
	return a.svc.DeleteConversation(ctx, actorID, conversationID)
}

// UploadImage はメッセージ添付画像をアップロードしURLを返す。
func (a *ChatServiceAdapter) UploadImage(ctx context.Context, actorID, filename string, r io.Reader) (string, error) {
	return a.svc.UploadImage(ctx, actorID, filename, r)
}

// AuthorizeConversation はactorが会話の参加者であることを確認する。
func (a *ChatServiceAdapter) AuthorizeConversation(ctx context.Context, actorID, conversationID string) error {
	_, err := a.svc.Conversation(ctx, actorID, conversationID)
	return err
}

// MarkDelivered はリアルタイムで受信したメッセージを既読にする。
func (a *ChatServiceAdapter) MarkDelivered(ctx context.Context, actorID, messageID string) error {
	_, err := a.svc.MarkDelivered(ctx, actorID, messageID)
	return err
}

// --- 変換ヘルパー ---

// toListingResponse はmodel.ListingからAPIレスポンスに変換する。
func toListingResponse(l *model.Listing, isFavorite bool) listingResponse {
	price := l.Price
	size := l.Size
	images := l.Images
	if images == nil {
		images = []string{}
	}
	return listingResponse{
		ID:            l.ID,
		UserID:        l.UserID,
		Title:         l.Title,
		Description:   l.Description,
		Price:         l.Price,
		PriceText:     format.FormatPrice(&price),
		Size:          l.Size,
		SizeUnit:      l.SizeUnit,
		SizeText:      format.FormatSize(&size, l.SizeUnit),
		Province:      l.Province,
		District:      l.District,
		Subdistrict:   l.Subdistrict,
		Address:       l.Address,
		ZipCode:       l.ZipCode,
		Zoning:        l.Zoning,
		PropertyType:  string(l.PropertyType),
		Status:        string(l.Status),
		Images:        images,
		Latitude:      l.Latitude,
		Longitude:     l.Longitude,
		CreatedAt:     l.CreatedAt,
		CreatedAtText: format.FormatDate(&l.CreatedAt),
		UpdatedAt:     l.UpdatedAt,
		IsFavorite:    isFavorite,
	}
}

func toListingResponses(listings []*model.Listing) []listingResponse {
	results := make([]listingResponse, len(listings))
	for i, l := range listings {
		results[i] = toListingResponse(l, false)
	}
	return results
}

func toListingSummaries(summaries []listing.Summary) []listingResponse {
	results := make([]listingResponse, len(summaries))
	for i, s := range summaries {
		results[i] = toListingResponse(s.Listing, s.IsFavorite)
	}
	return results
}

func toProfileResponse(v model.ProfileView) profileResponse {
	return profileResponse{
		ID:          v.ID,
		DisplayName: v.DisplayName,
		AvatarURL:   v.AvatarURL,
		Phone:       v.Phone,
		LineID:      v.LineID,
		Email:       v.Email,
	}
}

func toProfileResponsePtr(v *model.ProfileView) *profileResponse {
	if v == nil {
		return nil
	}
	resp := toProfileResponse(*v)
	return &resp
}

func toConversationResponse(c *model.Conversation) conversationResponse {
	return conversationResponse{
		ID:          c.ID,
		BuyerID:     c.BuyerID,
		SellerID:    c.SellerID,
		ListingID:   c.ListingID,
		LastMessage: c.LastMessage,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}
