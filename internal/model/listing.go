package model

import "time"

// MaxStorableInt は価格・面積として保存できる上限値（PostgreSQL integer の最大値）。
const MaxStorableInt = 2147483647

// Listing は売りに出されている土地を表す。
// 所有者（UserID）は常に1人で、変更できるのは所有者のみ。
type Listing struct {
	ID           string
	UserID       string
	Title        string
	Description  string
	Price        int64
	Size         float64
	SizeUnit     string
	Province     string
	District     string
	Subdistrict  string
	Address      string
	ZipCode      string
	Zoning       string
	PropertyType PropertyType
	Status       ListingStatus
	Images       []string
	Latitude     *float64
	Longitude    *float64
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

// PropertyType は土地の種別を表す。
type PropertyType string

const (
	PropertyTypeResidential  PropertyType = "residential"
	PropertyTypeCommercial   PropertyType = "commercial"
	PropertyTypeAgricultural PropertyType = "agricultural"
	PropertyTypeIndustrial   PropertyType = "industrial"
	PropertyTypeVacant       PropertyType = "vacant"
)

// Valid は既知の種別かどうかを返す。
func (t PropertyType) Valid() bool {
	switch t {
	case PropertyTypeResidential, PropertyTypeCommercial, PropertyTypeAgricultural,
		PropertyTypeIndustrial, PropertyTypeVacant:
		return true
	}
	return false
}

// ListingStatus は掲載状態を表す。
type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "active"
	ListingStatusPending  ListingStatus = "pending"
	ListingStatusSold     ListingStatus = "sold"
	ListingStatusInactive ListingStatus = "inactive"
)

// Valid は既知の状態かどうかを返す。
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingStatusActive, ListingStatusPending, ListingStatusSold, ListingStatusInactive:
		return true
	}
	return false
}

// ListingSort は検索結果の並び順。
type ListingSort string

const (
	ListingSortNewest    ListingSort = "newest"
	ListingSortPriceAsc  ListingSort = "price_asc"
	ListingSortPriceDesc ListingSort = "price_desc"
	ListingSortSizeAsc   ListingSort = "size_asc"
	ListingSortSizeDesc  ListingSort = "size_desc"
)

// ListingFilter は土地検索の条件。ゼロ値のフィールドは条件に含めない。
type ListingFilter struct {
	Search       string
	Location     string
	PropertyType PropertyType
	MinPrice     *int64
	MaxPrice     *int64
	MinSize      *float64
	MaxSize      *float64
	Sort         ListingSort
	Limit        int
	Offset       int
}

// Favorite はユーザーと土地のブックマーク関係を表す。
// (UserID, ListingID) はユニーク。
type Favorite struct {
	ID        string
	UserID    string
	ListingID string
	CreatedAt time.Time
}
