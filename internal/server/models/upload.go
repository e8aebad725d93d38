package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/ids"
	"github.com/BlakeRain/parcel-sub000/internal/password"
)

type UploadID = ids.ID[UploadKind]

// Upload is a stored file. Its bytes live in CACHE_DIR/{Slug}.
type Upload struct {
	ID           UploadID
	Slug         string
	Filename     string
	Size         int64
	Public       bool
	Downloads    int64
	Limit        *int64
	Remaining    *int64
	ExpiryDate   *time.Time // date only, UTC midnight
	Password     *password.Stored
	CustomSlug   *string
	Owner        Owner
	UploadedBy   *UserID
	UploadedAt   time.Time
	RemoteAddr   *string
	MimeType     *string
	HasPreview   bool
	PreviewError *string
}

// HasPassword reports whether downloads require a password.
func (u *Upload) HasPassword() bool { return u.Password != nil }

// Expired reports whether the expiry date lies before today's date.
func (u *Upload) Expired(now time.Time) bool {
	if u.ExpiryDate == nil {
		return false
	}
	today := truncateDate(now)
	return truncateDate(*u.ExpiryDate).Before(today)
}

// Exhausted reports whether a download limit is set and used up.
func (u *Upload) Exhausted() bool {
	return u.Remaining != nil && *u.Remaining <= 0
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// UploadListItem is an upload row with its owner slug, uploader and tags.
type UploadListItem struct {
	Upload
	OwnerSlug    string
	UploaderName *string
	Tags         []string
}

// UploadStats aggregates uploads for all, one user or one team.
type UploadStats struct {
	Total     int64
	Public    int64
	Downloads int64
	Size      int64
}

// UploadOrder is the list sort key.
type UploadOrder string

const (
	OrderFilename   UploadOrder = "filename"
	OrderSize       UploadOrder = "size"
	OrderDownloads  UploadOrder = "downloads"
	OrderExpiryDate UploadOrder = "expiry_date"
	OrderUploadedAt UploadOrder = "uploaded_at"
)

// Column returns the column the order sorts by.
func (o UploadOrder) Column() string {
	switch o {
	case OrderFilename, OrderSize, OrderDownloads, OrderExpiryDate:
		return string(o)
	default:
		return string(OrderUploadedAt)
	}
}

// ParseUploadOrder accepts the five sort keys; empty means uploaded_at.
func ParseUploadOrder(s string) (UploadOrder, error) {
	switch o := UploadOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OrderUploadedAt, nil
	case OrderFilename, OrderSize, OrderDownloads, OrderExpiryDate, OrderUploadedAt:
		return o, nil
	default:
		return "", fmt.Errorf("unknown upload order %q", s)
	}
}
