package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/hitoshi/landmarket/internal/model"
)

const (
	// uploadFieldName は画像アップロードのmultipartフィールド名。
	uploadFieldName = "file"

	// multipartOverhead はmultipartのヘッダー・境界に許容する余裕分。
	multipartOverhead = 64 << 10
)

// uploadFunc はアップロード先ごとの保存処理。公開URLを返す。
type uploadFunc func(userID, filename string, r io.Reader) (string, error)

// handleUpload はmultipartの"file"フィールドを読み取り、saveに渡してURLを返す。
// maxBytesを超えるボディは読み込まずに413を返す。
func handleUpload(w http.ResponseWriter, r *http.Request, maxBytes int64, save uploadFunc) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	file, header, err := r.FormFile(uploadFieldName)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewImageTooLargeError(maxBytes))
			return
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("画像ファイルが指定されていません。"))
		return
	}
	defer file.Close()

	url, err := save(userID, header.Filename, file)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusCreated, envelope{"url": url})
}
