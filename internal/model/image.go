package model

import "time"

// Bucket は画像の保存先区分。
type Bucket string

const (
	BucketListings Bucket = "listings"
	BucketProfiles Bucket = "profiles"
	BucketMessages Bucket = "messages"
)

// Valid は既知のバケットかどうかを返す。
func (b Bucket) Valid() bool {
	switch b {
	case BucketListings, BucketProfiles, BucketMessages:
		return true
	}
	return false
}

// Image はオブジェクトストレージに保存された画像を表す。
type Image struct {
	ID          string
	Bucket      Bucket
	Name        string // "<uuid>.<ext>"
	OwnerID     string
	ContentType string
	Data        []byte
	Size        int64
	CreatedAt   time.Time
}
