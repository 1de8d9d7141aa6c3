package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/landmarket/internal/model"
)

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *model.APIError
		want int
	}{
		{model.NewValidationError("x"), http.StatusBadRequest},
		{model.NewInvalidRequestError(), http.StatusBadRequest},
		{model.NewEmptyMessageError(), http.StatusBadRequest},
		{model.NewSelfConversationError(), http.StatusBadRequest},
		{model.NewInvalidImageError(), http.StatusBadRequest},
		{model.NewWrongPasswordError(), http.StatusBadRequest},
		{model.NewUnauthorizedError(), http.StatusUnauthorized},
		{model.NewInvalidCredentialsError(), http.StatusUnauthorized},
		{model.NewForbiddenError("x"), http.StatusForbidden},
		{model.NewCSRFError(), http.StatusForbidden},
		{model.NewUserNotFoundError(), http.StatusNotFound},
		{model.NewListingNotFoundError("l"), http.StatusNotFound},
		{model.NewConversationNotFoundError("c"), http.StatusNotFound},
		{model.NewMessageNotFoundError("m"), http.StatusNotFound},
		{model.NewImageNotFoundError("i"), http.StatusNotFound},
		{model.NewEmailTakenError(), http.StatusConflict},
		{model.NewImageTooLargeError(1024), http.StatusRequestEntityTooLarge},
		{model.NewRateLimitedError(), http.StatusTooManyRequests},
		{model.NewInternalError(), http.StatusInternalServerError},
		{&model.APIError{Code: "PROVINCE_NOT_FOUND"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			if got := mapAPIErrorToHTTPStatus(tt.err); got != tt.want {
				t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", tt.err.Code, got, tt.want)
			}
		})
	}
}

func TestHandleServiceError_WrappedAPIError(t *testing.T) {
	err := fmt.Errorf("failed to open conversation: %w", model.NewConversationNotFoundError("c-1"))

	w := httptest.NewRecorder()
	handleServiceError(w, httptest.NewRequest(http.MethodGet, "/api/conversations/c-1", nil), err)

	assertErrorResponse(t, w, http.StatusNotFound, model.ErrCodeConversationNotFound)
}

func TestHandleServiceError_InternalErrorHidesDetails(t *testing.T) {
	err := errors.New(`pq: relation "listings" does not exist`)

	w := httptest.NewRecorder()
	handleServiceError(w, httptest.NewRequest(http.MethodGet, "/api/listings", nil), err)

	assertErrorResponse(t, w, http.StatusInternalServerError, model.ErrCodeInternal)
	if strings.Contains(w.Body.String(), "pq:") {
		t.Errorf("response leaked internal error: %s", w.Body.String())
	}
}

func TestDecodeJSON_RejectsOversizedBody(t *testing.T) {
	body := `{"content":"` + strings.Repeat("a", maxJSONBodyBytes) + `"}`
	req := jsonRequest(http.MethodPost, "/api/conversations/c-1/messages", body)

	var dst sendMessageRequest
	w := httptest.NewRecorder()
	if decodeJSON(w, req, &dst) {
		t.Fatal("decodeJSON() = true, want false")
	}
	assertErrorResponse(t, w, http.StatusBadRequest, model.ErrCodeInvalidRequest)
}

func TestWriteSuccess_AddsSuccessFlag(t *testing.T) {
	w := httptest.NewRecorder()
	writeSuccess(w, http.StatusCreated, envelope{"id": "x"})

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decodeBody(t, w)
	if body["success"] != true || body["id"] != "x" {
		t.Errorf("body = %v", body)
	}
}
