package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hitoshi/landmarket/internal/model"
)

func favoriteRequest(method, userID, listingID string) *http.Request {
	req := httptest.NewRequest(method, "/api/listings/"+listingID+"/favorite", nil)
	return withURLParams(withUserID(req, userID), "id", listingID)
}

func TestFavoriteHandler_Toggle_ReturnsResultingState(t *testing.T) {
	var mu sync.Mutex
	state := map[string]bool{}
	svc := &mockFavoriteService{
		toggleFn: func(ctx context.Context, userID, listingID string) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			key := userID + "/" + listingID
			state[key] = !state[key]
			return state[key], nil
		},
	}
	h := NewFavoriteHandler(svc)

	for i, want := range []bool{true, false} {
		w := httptest.NewRecorder()
		h.Toggle(w, favoriteRequest(http.MethodPost, "user-1", "l-1"))
		if w.Code != http.StatusOK {
			t.Fatalf("toggle %d: status = %d", i, w.Code)
		}
		if got := decodeBody(t, w)["is_favorite"]; got != want {
			t.Errorf("toggle %d: is_favorite = %v, want %v", i, got, want)
		}
	}
}

func TestFavoriteHandler_Toggle_UnknownListing_Returns404(t *testing.T) {
	svc := &mockFavoriteService{
		toggleFn: func(ctx context.Context, userID, listingID string) (bool, error) {
			return false, model.NewListingNotFoundError(listingID)
		},
	}
	h := NewFavoriteHandler(svc)

	w := httptest.NewRecorder()
	h.Toggle(w, favoriteRequest(http.MethodPost, "user-1", "ghost"))

	assertErrorResponse(t, w, http.StatusNotFound, model.ErrCodeListingNotFound)
}

func TestFavoriteHandler_AddAndRemove_PassExplicitState(t *testing.T) {
	var calls []bool
	svc := &mockFavoriteService{
		setFn: func(ctx context.Context, userID, listingID string, favorited bool) (bool, error) {
			calls = append(calls, favorited)
			return favorited, nil
		},
	}
	h := NewFavoriteHandler(svc)

	w := httptest.NewRecorder()
	h.Add(w, favoriteRequest(http.MethodPut, "user-1", "l-1"))
	if decodeBody(t, w)["is_favorite"] != true {
		t.Error("Add should report is_favorite=true")
	}

	w = httptest.NewRecorder()
	h.Remove(w, favoriteRequest(http.MethodDelete, "user-1", "l-1"))
	if decodeBody(t, w)["is_favorite"] != false {
		t.Error("Remove should report is_favorite=false")
	}

	if len(calls) != 2 || calls[0] != true || calls[1] != false {
		t.Errorf("Set calls = %v, want [true false]", calls)
	}
}

func TestFavoriteHandler_Status(t *testing.T) {
	svc := &mockFavoriteService{
		statusFn: func(ctx context.Context, userID, listingID string) (bool, error) {
			return userID == "user-1" && listingID == "l-1", nil
		},
	}
	h := NewFavoriteHandler(svc)

	w := httptest.NewRecorder()
	h.Status(w, favoriteRequest(http.MethodGet, "user-1", "l-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if decodeBody(t, w)["is_favorite"] != true {
		t.Error("is_favorite should be true")
	}
}

func TestFavoriteHandler_List(t *testing.T) {
	svc := &mockFavoriteService{
		listFn: func(ctx context.Context, userID string) ([]favoriteResponse, error) {
			return []favoriteResponse{
				{Listing: listingResponse{ID: "l-1", IsFavorite: true}, Seller: &profileResponse{ID: "s-1"}},
				{Listing: listingResponse{ID: "l-2", IsFavorite: true}},
			}, nil
		},
	}
	h := NewFavoriteHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/favorites", nil), "user-1")
	w := httptest.NewRecorder()
	h.List(w, req)

	favorites, _ := decodeBody(t, w)["favorites"].([]any)
	if len(favorites) != 2 {
		t.Fatalf("len(favorites) = %d, want 2", len(favorites))
	}
	second, _ := favorites[1].(map[string]any)
	if second["seller"] != nil {
		t.Errorf("seller of withdrawn user should be null, got %v", second["seller"])
	}
}

func TestFavoriteHandler_RequiresSession(t *testing.T) {
	h := NewFavoriteHandler(&mockFavoriteService{})

	handlers := map[string]http.HandlerFunc{
		"toggle": h.Toggle,
		"add":    h.Add,
		"remove": h.Remove,
		"status": h.Status,
		"list":   h.List,
	}
	for name, fn := range handlers {
		t.Run(name, func(t *testing.T) {
			req := withURLParams(httptest.NewRequest(http.MethodPost, "/api/listings/l-1/favorite", nil), "id", "l-1")
			w := httptest.NewRecorder()
			fn(w, req)
			assertErrorResponse(t, w, http.StatusUnauthorized, model.ErrCodeUnauthorized)
		})
	}
}
