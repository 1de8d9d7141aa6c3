package repository

import (
	"strings"
	"testing"

	"github.com/hitoshi/landmarket/internal/model"
)

func TestBuildSearchQuery_NoFilter(t *testing.T) {
	query, args := buildSearchQuery(model.ListingFilter{})

	if strings.Contains(query, "WHERE") {
		t.Errorf("条件なしでWHERE句が生成された: %s", query)
	}
	if !strings.HasSuffix(query, "ORDER BY created_at DESC, id DESC") {
		t.Errorf("デフォルトの並び順が不正: %s", query)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want empty", args)
	}
}

func TestBuildSearchQuery_AllFilters(t *testing.T) {
	minPrice, maxPrice := int64(100), int64(5000)
	minSize, maxSize := 1.5, 10.0
	query, args := buildSearchQuery(model.ListingFilter{
		Search:       "ริมน้ำ",
		Location:     "เชียงใหม่",
		PropertyType: model.PropertyTypeAgricultural,
		MinPrice:     &minPrice,
		MaxPrice:     &maxPrice,
		MinSize:      &minSize,
		MaxSize:      &maxSize,
		Sort:         model.ListingSortPriceAsc,
		Limit:        20,
		Offset:       40,
	})

	wantFragments := []string{
		"title ILIKE $1",
		"(province ILIKE $2 OR district ILIKE $2 OR subdistrict ILIKE $2)",
		"property_type = $3",
		"price >= $4",
		"price <= $5",
		"size >= $6",
		"size <= $7",
		"ORDER BY price ASC",
		"LIMIT $8",
		"OFFSET $9",
	}
	for _, f := range wantFragments {
		if !strings.Contains(query, f) {
			t.Errorf("query に %q が含まれていない: %s", f, query)
		}
	}
	if len(args) != 9 {
		t.Fatalf("len(args) = %d, want 9", len(args))
	}
	if args[0] != "%ริมน้ำ%" {
		t.Errorf("args[0] = %v", args[0])
	}
	if args[2] != "agricultural" {
		t.Errorf("args[2] = %v", args[2])
	}
}

func TestBuildSearchQuery_EscapesWildcards(t *testing.T) {
	_, args := buildSearchQuery(model.ListingFilter{Search: "100%_off"})
	if len(args) != 1 {
		t.Fatalf("len(args) = %d, want 1", len(args))
	}
	if args[0] != `%100\%\_off%` {
		t.Errorf("args[0] = %q", args[0])
	}
}

func TestBuildSearchQuery_UnknownSortFallsBackToNewest(t *testing.T) {
	query, _ := buildSearchQuery(model.ListingFilter{Sort: "random"})
	if !strings.Contains(query, "ORDER BY created_at DESC, id DESC") {
		t.Errorf("未知の並び順がnewestにならない: %s", query)
	}
}
