package models

import (
	"testing"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwner_Variants(t *testing.T) {
	uid := ids.New[UserKind]()
	tid := ids.New[TeamKind]()

	u := UserOwner(uid)
	got, ok := u.User()
	assert.True(t, ok)
	assert.Equal(t, uid, got)
	_, ok = u.Team()
	assert.False(t, ok)
	assert.Equal(t, OwnerUser, u.Kind())

	tm := TeamOwner(tid)
	gotTeam, ok := tm.Team()
	assert.True(t, ok)
	assert.Equal(t, tid, gotTeam)
	_, ok = tm.User()
	assert.False(t, ok)

	assert.False(t, Owner{}.IsValid())
	assert.Equal(t, "none", Owner{}.String())
}

func TestOwner_ColumnsRoundTrip(t *testing.T) {
	for _, o := range []Owner{UserOwner(ids.New[UserKind]()), TeamOwner(ids.New[TeamKind]())} {
		user, team := o.Columns()
		back, err := OwnerFromColumns(user, team)
		require.NoError(t, err)
		assert.Equal(t, o, back)
	}
}

func TestOwnerFromColumns_RejectsBothOrNeither(t *testing.T) {
	_, err := OwnerFromColumns(ids.Null[UserKind]{}, ids.Null[TeamKind]{})
	assert.Error(t, err)

	_, err = OwnerFromColumns(ids.Some(ids.New[UserKind]()), ids.Some(ids.New[TeamKind]()))
	assert.Error(t, err)
}

func TestUpload_Expired(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)
	day := func(d int) *time.Time {
		v := time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC)
		return &v
	}

	assert.False(t, (&Upload{}).Expired(now))
	assert.False(t, (&Upload{ExpiryDate: day(10)}).Expired(now), "expiring today is still valid")
	assert.False(t, (&Upload{ExpiryDate: day(11)}).Expired(now))
	assert.True(t, (&Upload{ExpiryDate: day(9)}).Expired(now))
}

func TestUpload_Exhausted(t *testing.T) {
	zero, one := int64(0), int64(1)
	assert.False(t, (&Upload{}).Exhausted())
	assert.False(t, (&Upload{Remaining: &one}).Exhausted())
	assert.True(t, (&Upload{Remaining: &zero}).Exhausted())
}

func TestParseUploadOrder(t *testing.T) {
	for in, want := range map[string]UploadOrder{
		"":            OrderUploadedAt,
		"Filename":    OrderFilename,
		"size":        OrderSize,
		"downloads":   OrderDownloads,
		"expiry_date": OrderExpiryDate,
		"uploaded_at": OrderUploadedAt,
	} {
		got, err := ParseUploadOrder(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseUploadOrder("owner")
	assert.Error(t, err)

	assert.Equal(t, "uploaded_at", UploadOrder("bogus").Column())
	assert.Equal(t, "size", OrderSize.Column())
}
