package access

import (
	"testing"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/ids"
	"github.com/BlakeRain/parcel-sub000/internal/password"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
	"github.com/stretchr/testify/assert"
)

var now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func i64(v int64) *int64 { return &v }

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func userUpload(owner models.UserID) *models.Upload {
	return &models.Upload{ID: ids.New[models.UploadKind](), Owner: models.UserOwner(owner)}
}

func TestDecide_AdminCanDoAnything(t *testing.T) {
	admin := &models.User{ID: ids.New[models.UserKind](), Admin: true}
	up := userUpload(ids.New[models.UserKind]())

	for _, a := range []Action{ActionView, ActionDownload(false), ActionDownload(true), ActionShare,
		ActionResetDownloads, ActionEdit, ActionTransfer, ActionDelete} {
		assert.True(t, Decide(up, admin, nil, a, now), a.String())
	}
}

func TestDecide_View(t *testing.T) {
	alice := &models.User{ID: ids.New[models.UserKind]()}
	bob := &models.User{ID: ids.New[models.UserKind]()}
	up := userUpload(alice.ID)

	assert.True(t, Decide(up, alice, nil, ActionView, now))
	assert.False(t, Decide(up, bob, nil, ActionView, now))
	assert.False(t, Decide(up, nil, nil, ActionView, now))

	up.Public = true
	assert.True(t, Decide(up, nil, nil, ActionView, now))
	assert.True(t, Decide(up, bob, nil, ActionView, now))
}

func TestDecide_PublicDownloadPreconditions(t *testing.T) {
	pw, err := password.New("secret")
	if err != nil {
		t.Fatalf("password.New: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(u *models.Upload)
		action Action
		want   bool
	}{
		{"plain public", func(u *models.Upload) {}, ActionDownload(false), true},
		{"password supplied for passwordless", func(u *models.Upload) {}, ActionDownload(true), false},
		{"password omitted", func(u *models.Upload) { u.Password = &pw }, ActionDownload(false), false},
		{"password supplied", func(u *models.Upload) { u.Password = &pw }, ActionDownload(true), true},
		{"remaining left", func(u *models.Upload) { u.Limit, u.Remaining = i64(3), i64(1) }, ActionDownload(false), true},
		{"exhausted", func(u *models.Upload) { u.Limit, u.Remaining = i64(3), i64(0) }, ActionDownload(false), false},
		{"expires today", func(u *models.Upload) { u.ExpiryDate = date(2024, 6, 15) }, ActionDownload(false), true},
		{"expired yesterday", func(u *models.Upload) { u.ExpiryDate = date(2024, 6, 14) }, ActionDownload(false), false},
		{"private", func(u *models.Upload) { u.Public = false }, ActionDownload(false), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := userUpload(ids.New[models.UserKind]())
			up.Public = true
			tt.mutate(up)
			assert.Equal(t, tt.want, Decide(up, nil, nil, tt.action, now))
		})
	}
}

func TestDecide_OwnerDownloadsBypassPreconditions(t *testing.T) {
	alice := &models.User{ID: ids.New[models.UserKind]()}
	up := userUpload(alice.ID)
	up.Limit, up.Remaining = i64(1), i64(0)
	up.ExpiryDate = date(2020, 1, 1)

	assert.True(t, Decide(up, alice, nil, ActionDownload(false), now))
	assert.True(t, Decide(up, alice, nil, ActionDownload(true), now))
}

func TestDecide_TeamCapabilities(t *testing.T) {
	alice := &models.User{ID: ids.New[models.UserKind]()}
	team := ids.New[models.TeamKind]()
	up := &models.Upload{ID: ids.New[models.UploadKind](), Owner: models.TeamOwner(team)}
	editor := &models.TeamMember{Team: team, User: alice.ID, Capabilities: models.Capabilities{CanEdit: true}}

	assert.True(t, Decide(up, alice, editor, ActionView, now))
	assert.True(t, Decide(up, alice, editor, ActionEdit, now))
	assert.True(t, Decide(up, alice, editor, ActionShare, now))
	assert.True(t, Decide(up, alice, editor, ActionTransfer, now))
	assert.True(t, Decide(up, alice, editor, ActionResetDownloads, now))
	assert.False(t, Decide(up, alice, editor, ActionDelete, now))

	plain := &models.TeamMember{Team: team, User: alice.ID}
	assert.True(t, Decide(up, alice, plain, ActionView, now))
	assert.True(t, Decide(up, alice, plain, ActionDownload(false), now))
	assert.False(t, Decide(up, alice, plain, ActionEdit, now))

	deleter := &models.TeamMember{Team: team, User: alice.ID, Capabilities: models.Capabilities{CanDelete: true}}
	assert.True(t, Decide(up, alice, deleter, ActionDelete, now))
	assert.False(t, Decide(up, alice, deleter, ActionEdit, now))

	assert.False(t, Decide(up, alice, nil, ActionView, now))
}

func TestDecide_UserOwnerHasAllActions(t *testing.T) {
	alice := &models.User{ID: ids.New[models.UserKind]()}
	up := userUpload(alice.ID)
	for _, a := range []Action{ActionShare, ActionResetDownloads, ActionEdit, ActionTransfer, ActionDelete} {
		assert.True(t, Decide(up, alice, nil, a, now), a.String())
	}

	bob := &models.User{ID: ids.New[models.UserKind]()}
	for _, a := range []Action{ActionShare, ActionResetDownloads, ActionEdit, ActionTransfer, ActionDelete} {
		assert.False(t, Decide(up, bob, nil, a, now), a.String())
	}
}

func TestDecide_UnknownKindDenied(t *testing.T) {
	alice := &models.User{ID: ids.New[models.UserKind]()}
	assert.False(t, Decide(userUpload(alice.ID), alice, nil, Action{}, now))
}
