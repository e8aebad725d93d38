package services

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/BlakeRain/parcel-sub000/internal/dbx"
	"github.com/BlakeRain/parcel-sub000/internal/ids"
	"github.com/BlakeRain/parcel-sub000/internal/logging"
	"github.com/BlakeRain/parcel-sub000/internal/password"
	"github.com/BlakeRain/parcel-sub000/internal/server/cache"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/apikeys"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/loginattempts"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/tags"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/teams"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/uploads"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/users"
	"github.com/DATA-DOG/go-sqlmock"
)

// fakeStore is an in-memory stand-in for every repository. Transactions are
// not modelled: sqlmock only sees BEGIN/COMMIT/ROLLBACK.
type fakeStore struct {
	mu sync.Mutex

	users       map[models.UserID]models.User
	teams       map[models.TeamID]models.Team
	members     map[memberKey]models.TeamMember
	uploads     map[models.UploadID]models.Upload
	tags        map[models.TagID]models.Tag
	uploadTags  map[models.UploadID][]models.TagID
	apiKeys     map[models.ApiKeyID]models.ApiKey
	attempts    []models.LoginAttempt
	setPassword int

	uploadCreateErr error
	uploadDeleteErr error
	lastFilter      *uploads.ListFilter
}

type memberKey struct {
	team models.TeamID
	user models.UserID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      map[models.UserID]models.User{},
		teams:      map[models.TeamID]models.Team{},
		members:    map[memberKey]models.TeamMember{},
		uploads:    map[models.UploadID]models.Upload{},
		tags:       map[models.TagID]models.Tag{},
		uploadTags: map[models.UploadID][]models.TagID{},
		apiKeys:    map[models.ApiKeyID]models.ApiKey{},
	}
}

func (f *fakeStore) RunMigrations(context.Context, *sql.DB) error   { return nil }
func (f *fakeStore) Users(dbx.DBTX) users.Repository                 { return fakeUsers{f} }
func (f *fakeStore) Teams(dbx.DBTX) teams.Repository                 { return fakeTeams{f} }
func (f *fakeStore) Uploads(dbx.DBTX) uploads.Repository             { return fakeUploads{f} }
func (f *fakeStore) Tags(dbx.DBTX) tags.Repository                   { return fakeTags{f} }
func (f *fakeStore) ApiKeys(dbx.DBTX) apikeys.Repository             { return fakeApiKeys{f} }
func (f *fakeStore) LoginAttempts(dbx.DBTX) loginattempts.Repository { return fakeAttempts{f} }

// --- users ---

type fakeUsers struct{ f *fakeStore }

func (r fakeUsers) Create(_ context.Context, u *models.User) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, other := range r.f.users {
		if other.Username == u.Username {
			return common.ErrorConflict
		}
	}
	r.f.users[u.ID] = *u
	return nil
}

func (r fakeUsers) Get(_ context.Context, id models.UserID) (*models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	u, ok := r.f.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &u, nil
}

func (r fakeUsers) GetByUsername(_ context.Context, username string) (*models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, u := range r.f.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r fakeUsers) List(context.Context) ([]models.UserListItem, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []models.UserListItem
	for _, u := range r.f.users {
		out = append(out, models.UserListItem{User: u})
	}
	return out, nil
}

func (r fakeUsers) Count(context.Context) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return int64(len(r.f.users)), nil
}

func (r fakeUsers) IdentityExists(_ context.Context, name string) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, u := range r.f.users {
		if u.Username == name {
			return true, nil
		}
	}
	for _, t := range r.f.teams {
		if t.Slug == name {
			return true, nil
		}
	}
	return false, nil
}

func (r fakeUsers) Update(_ context.Context, u *models.User) error {
	return r.f.updateUser(u.ID, func(stored *models.User) { *stored = *u })
}

func (r fakeUsers) SetPassword(_ context.Context, id models.UserID, p password.Stored) error {
	r.f.mu.Lock()
	r.f.setPassword++
	r.f.mu.Unlock()
	return r.f.updateUser(id, func(u *models.User) { u.Password = p })
}

func (r fakeUsers) SetTotp(_ context.Context, id models.UserID, secret string) error {
	return r.f.updateUser(id, func(u *models.User) { u.TotpSecret = &secret })
}

func (r fakeUsers) RemoveTotp(_ context.Context, id models.UserID) error {
	return r.f.updateUser(id, func(u *models.User) { u.TotpSecret = nil })
}

func (r fakeUsers) SetDefaultOrder(_ context.Context, id models.UserID, order models.UploadOrder, asc bool) error {
	return r.f.updateUser(id, func(u *models.User) { u.DefaultOrder, u.DefaultAsc = order, asc })
}

func (r fakeUsers) RecordLastAccess(_ context.Context, id models.UserID, at time.Time) error {
	return r.f.updateUser(id, func(u *models.User) { u.LastAccess = &at })
}

func (r fakeUsers) Delete(_ context.Context, id models.UserID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.users[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.f.users, id)
	return nil
}

func (r fakeUsers) Stats(context.Context) (models.UserStats, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var s models.UserStats
	for _, u := range r.f.users {
		s.Total++
		if u.Enabled {
			s.Enabled++
		}
		if u.Admin {
			s.Admins++
		}
		if u.HasTotp() {
			s.WithTotp++
		}
	}
	return s, nil
}

func (f *fakeStore) updateUser(id models.UserID, fn func(*models.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	fn(&u)
	f.users[id] = u
	return nil
}

// --- teams ---

type fakeTeams struct{ f *fakeStore }

func (r fakeTeams) Create(_ context.Context, t *models.Team) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, other := range r.f.teams {
		if other.Slug == t.Slug {
			return common.ErrorConflict
		}
	}
	r.f.teams[t.ID] = *t
	return nil
}

func (r fakeTeams) Get(_ context.Context, id models.TeamID) (*models.Team, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	t, ok := r.f.teams[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &t, nil
}

func (r fakeTeams) GetBySlug(_ context.Context, slug string) (*models.Team, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, t := range r.f.teams {
		if t.Slug == slug {
			return &t, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r fakeTeams) List(context.Context) ([]models.Team, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []models.Team
	for _, t := range r.f.teams {
		out = append(out, t)
	}
	return out, nil
}

func (r fakeTeams) Update(_ context.Context, t *models.Team) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.teams[t.ID]; !ok {
		return common.ErrorNotFound
	}
	r.f.teams[t.ID] = *t
	return nil
}

func (r fakeTeams) Delete(_ context.Context, id models.TeamID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.teams[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.f.teams, id)
	return nil
}

func (r fakeTeams) GetMember(_ context.Context, team models.TeamID, user models.UserID) (*models.TeamMember, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	m, ok := r.f.members[memberKey{team, user}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &m, nil
}

func (r fakeTeams) Members(_ context.Context, team models.TeamID) ([]models.TeamMemberInfo, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []models.TeamMemberInfo
	for k, m := range r.f.members {
		if k.team == team {
			u := r.f.users[k.user]
			out = append(out, models.TeamMemberInfo{TeamMember: m, Username: u.Username, Name: u.Name})
		}
	}
	return out, nil
}

func (r fakeTeams) MembershipsForUser(_ context.Context, user models.UserID) ([]models.TeamMembership, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []models.TeamMembership
	for k, m := range r.f.members {
		if k.user == user {
			t := r.f.teams[k.team]
			out = append(out, models.TeamMembership{TeamMember: m, TeamName: t.Name, TeamSlug: t.Slug, TeamEnabled: t.Enabled})
		}
	}
	return out, nil
}

func (r fakeTeams) AddMember(_ context.Context, m models.TeamMember) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	k := memberKey{m.Team, m.User}
	if _, ok := r.f.members[k]; ok {
		return common.ErrorConflict
	}
	r.f.members[k] = m
	return nil
}

func (r fakeTeams) RemoveMember(_ context.Context, team models.TeamID, user models.UserID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	k := memberKey{team, user}
	if _, ok := r.f.members[k]; !ok {
		return common.ErrorNotFound
	}
	delete(r.f.members, k)
	return nil
}

func (r fakeTeams) RemoveMembersForUser(_ context.Context, user models.UserID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for k := range r.f.members {
		if k.user == user {
			delete(r.f.members, k)
		}
	}
	return nil
}

func (r fakeTeams) RemoveMembersForTeam(_ context.Context, team models.TeamID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for k := range r.f.members {
		if k.team == team {
			delete(r.f.members, k)
		}
	}
	return nil
}

func (r fakeTeams) BatchUpdatePermissions(_ context.Context, team models.TeamID, rows []models.MemberPermissions) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, row := range rows {
		k := memberKey{team, row.User}
		if m, ok := r.f.members[k]; ok {
			m.Capabilities = row.Capabilities
			r.f.members[k] = m
		}
	}
	return nil
}

func (r fakeTeams) JoinTeamsBatch(_ context.Context, user models.UserID, rows []models.MemberPermissions) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, row := range rows {
		if _, ok := r.f.members[memberKey{row.Team, user}]; ok {
			return common.ErrorConflict
		}
	}
	for _, row := range rows {
		r.f.members[memberKey{row.Team, user}] = models.TeamMember{Team: row.Team, User: user, Capabilities: row.Capabilities}
	}
	return nil
}

// --- uploads ---

type fakeUploads struct{ f *fakeStore }

func sameOwner(a, b models.Owner) bool { return a == b }

func (r fakeUploads) Create(_ context.Context, u *models.Upload) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.f.uploadCreateErr != nil {
		return r.f.uploadCreateErr
	}
	for _, other := range r.f.uploads {
		if other.Slug == u.Slug || other.ID == u.ID {
			return common.ErrorConflict
		}
		if u.CustomSlug != nil && other.CustomSlug != nil && *other.CustomSlug == *u.CustomSlug && sameOwner(other.Owner, u.Owner) {
			return common.ErrorConflict
		}
	}
	r.f.uploads[u.ID] = *u
	return nil
}

func (r fakeUploads) Get(_ context.Context, id models.UploadID) (*models.Upload, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	u, ok := r.f.uploads[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &u, nil
}

func (r fakeUploads) GetMany(_ context.Context, uploadIDs []models.UploadID) ([]models.Upload, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []models.Upload
	for _, id := range uploadIDs {
		if u, ok := r.f.uploads[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r fakeUploads) GetBySlug(_ context.Context, slug string) (*models.Upload, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, u := range r.f.uploads {
		if u.Slug == slug {
			return &u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r fakeUploads) GetByCustomSlug(_ context.Context, ownerSlug, customSlug string) (*models.Upload, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, u := range r.f.uploads {
		if u.CustomSlug == nil || *u.CustomSlug != customSlug {
			continue
		}
		if userID, ok := u.Owner.User(); ok && r.f.users[userID].Username == ownerSlug {
			return &u, nil
		}
		if teamID, ok := u.Owner.Team(); ok && r.f.teams[teamID].Slug == ownerSlug {
			return &u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r fakeUploads) GetExistingSlugs(_ context.Context, slugs []string) (map[string]struct{}, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	want := map[string]struct{}{}
	for _, s := range slugs {
		want[s] = struct{}{}
	}
	out := map[string]struct{}{}
	for _, u := range r.f.uploads {
		if _, ok := want[u.Slug]; ok {
			out[u.Slug] = struct{}{}
		}
	}
	return out, nil
}

func (r fakeUploads) CustomSlugExists(_ context.Context, owner models.Owner, customSlug string, exclude *models.UploadID) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, u := range r.f.uploads {
		if exclude != nil && u.ID == *exclude {
			continue
		}
		if sameOwner(u.Owner, owner) && u.CustomSlug != nil && *u.CustomSlug == customSlug {
			return true, nil
		}
	}
	return false, nil
}

func (r fakeUploads) Update(_ context.Context, u *models.Upload) error {
	return r.f.updateUpload(u.ID, func(stored *models.Upload) { *stored = *u })
}

func (r fakeUploads) Delete(_ context.Context, id models.UploadID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.f.uploadDeleteErr != nil {
		return r.f.uploadDeleteErr
	}
	if _, ok := r.f.uploads[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.f.uploads, id)
	delete(r.f.uploadTags, id)
	return nil
}

func (r fakeUploads) DeleteMany(_ context.Context, uploadIDs []models.UploadID) ([]string, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var slugs []string
	for _, id := range uploadIDs {
		if u, ok := r.f.uploads[id]; ok {
			slugs = append(slugs, u.Slug)
			delete(r.f.uploads, id)
		}
	}
	return slugs, nil
}

func (r fakeUploads) deleteWhere(match func(models.Upload) bool) []string {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var slugs []string
	for id, u := range r.f.uploads {
		if match(u) {
			slugs = append(slugs, u.Slug)
			delete(r.f.uploads, id)
		}
	}
	return slugs
}

func (r fakeUploads) DeleteForUser(_ context.Context, user models.UserID) ([]string, error) {
	return r.deleteWhere(func(u models.Upload) bool { return sameOwner(u.Owner, models.UserOwner(user)) }), nil
}

func (r fakeUploads) DeleteForTeam(_ context.Context, team models.TeamID) ([]string, error) {
	return r.deleteWhere(func(u models.Upload) bool { return sameOwner(u.Owner, models.TeamOwner(team)) }), nil
}

func (r fakeUploads) RecordDownload(_ context.Context, id models.UploadID, decrement bool) error {
	return r.f.updateUpload(id, func(u *models.Upload) {
		u.Downloads++
		if decrement && u.Remaining != nil {
			n := max(0, *u.Remaining-1)
			u.Remaining = &n
		}
	})
}

func (r fakeUploads) ResetRemaining(_ context.Context, id models.UploadID) error {
	return r.f.updateUpload(id, func(u *models.Upload) {
		u.Remaining = nil
		if u.Limit != nil {
			n := *u.Limit
			u.Remaining = &n
		}
	})
}

func (r fakeUploads) SetMimeType(_ context.Context, id models.UploadID, mimeType string) error {
	return r.f.updateUpload(id, func(u *models.Upload) { u.MimeType = &mimeType })
}

func (r fakeUploads) SetPreviewError(_ context.Context, id models.UploadID, message string) error {
	return r.f.updateUpload(id, func(u *models.Upload) { u.HasPreview, u.PreviewError = false, &message })
}

func (r fakeUploads) ClearPreviewError(_ context.Context, id models.UploadID) error {
	return r.f.updateUpload(id, func(u *models.Upload) { u.PreviewError = nil })
}

func (r fakeUploads) SetHasPreview(_ context.Context, id models.UploadID) error {
	return r.f.updateUpload(id, func(u *models.Upload) { u.HasPreview, u.PreviewError = true, nil })
}

func (r fakeUploads) GetAllWithoutPreview(_ context.Context, offset, limit uint64) ([]models.Upload, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var all []models.Upload
	for _, u := range r.f.uploads {
		if !u.HasPreview && u.PreviewError == nil {
			all = append(all, u)
		}
	}
	sort.Slice(all, func(i, j int) bool { return ids.Compare(all[i].ID, all[j].ID) < 0 })
	if offset >= uint64(len(all)) {
		return nil, nil
	}
	end := min(offset+limit, uint64(len(all)))
	return all[offset:end], nil
}

func (r fakeUploads) filtered(filter uploads.ListFilter) []models.Upload {
	var out []models.Upload
	for _, u := range r.f.uploads {
		if filter.Owner != nil && !sameOwner(u.Owner, *filter.Owner) {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(u.Filename), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

func (r fakeUploads) List(_ context.Context, filter uploads.ListFilter) ([]models.UploadListItem, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.f.lastFilter = &filter
	all := r.filtered(filter)
	var out []models.UploadListItem
	for i, u := range all {
		if uint64(i) < filter.Offset || uint64(len(out)) >= filter.Limit {
			continue
		}
		out = append(out, models.UploadListItem{Upload: u})
	}
	return out, nil
}

func (r fakeUploads) Count(_ context.Context, filter uploads.ListFilter) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return int64(len(r.filtered(filter))), nil
}

func (r fakeUploads) Stats(_ context.Context, owner *models.Owner) (models.UploadStats, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var s models.UploadStats
	for _, u := range r.f.uploads {
		if owner != nil && !sameOwner(u.Owner, *owner) {
			continue
		}
		s.Total++
		if u.Public {
			s.Public++
		}
		s.Downloads += u.Downloads
		s.Size += u.Size
	}
	return s, nil
}

func (f *fakeStore) updateUpload(id models.UploadID, fn func(*models.Upload)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.uploads[id]
	if !ok {
		return common.ErrorNotFound
	}
	fn(&u)
	f.uploads[id] = u
	return nil
}

// --- tags ---

type fakeTags struct{ f *fakeStore }

func (r fakeTags) Ensure(_ context.Context, owner models.Owner, names []string) ([]models.Tag, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []models.Tag
	for _, name := range names {
		var found *models.Tag
		for _, t := range r.f.tags {
			if t.Name == name && sameOwner(t.Owner, owner) {
				found = &t
				break
			}
		}
		if found == nil {
			t := models.Tag{ID: ids.New[models.TagKind](), Name: name, Owner: owner}
			r.f.tags[t.ID] = t
			found = &t
		}
		out = append(out, *found)
	}
	return out, nil
}

func (r fakeTags) ListForOwner(_ context.Context, owner models.Owner) ([]models.Tag, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []models.Tag
	for _, t := range r.f.tags {
		if sameOwner(t.Owner, owner) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r fakeTags) ListForUpload(_ context.Context, upload models.UploadID) ([]string, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []string
	for _, id := range r.f.uploadTags[upload] {
		out = append(out, r.f.tags[id].Name)
	}
	sort.Strings(out)
	return out, nil
}

func (r fakeTags) ReplaceForUpload(_ context.Context, upload models.UploadID, tagIDs []models.TagID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if len(tagIDs) == 0 {
		delete(r.f.uploadTags, upload)
		return nil
	}
	r.f.uploadTags[upload] = append([]models.TagID(nil), tagIDs...)
	return nil
}

func (r fakeTags) DeleteForOwner(_ context.Context, owner models.Owner) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for id, t := range r.f.tags {
		if sameOwner(t.Owner, owner) {
			delete(r.f.tags, id)
		}
	}
	return nil
}

// --- api keys ---

type fakeApiKeys struct{ f *fakeStore }

func (r fakeApiKeys) Create(_ context.Context, k *models.ApiKey) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.f.apiKeys[k.ID] = *k
	return nil
}

func (r fakeApiKeys) Get(_ context.Context, id models.ApiKeyID) (*models.ApiKey, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	k, ok := r.f.apiKeys[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &k, nil
}

func (r fakeApiKeys) GetByCode(_ context.Context, code string) (*models.ApiKey, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, k := range r.f.apiKeys {
		if k.Code == code {
			return &k, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r fakeApiKeys) ListForUser(_ context.Context, owner models.UserID) ([]models.ApiKey, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []models.ApiKey
	for _, k := range r.f.apiKeys {
		if k.Owner == owner {
			out = append(out, k)
		}
	}
	return out, nil
}

func (r fakeApiKeys) SetEnabled(_ context.Context, id models.ApiKeyID, enabled bool) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	k, ok := r.f.apiKeys[id]
	if !ok {
		return common.ErrorNotFound
	}
	k.Enabled = enabled
	r.f.apiKeys[id] = k
	return nil
}

func (r fakeApiKeys) RecordLastUse(_ context.Context, id models.ApiKeyID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	k, ok := r.f.apiKeys[id]
	if !ok {
		return common.ErrorNotFound
	}
	now := time.Now()
	k.LastUsed = &now
	r.f.apiKeys[id] = k
	return nil
}

func (r fakeApiKeys) Delete(_ context.Context, id models.ApiKeyID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.apiKeys[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.f.apiKeys, id)
	return nil
}

func (r fakeApiKeys) DeleteForUser(_ context.Context, owner models.UserID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for id, k := range r.f.apiKeys {
		if k.Owner == owner {
			delete(r.f.apiKeys, id)
		}
	}
	return nil
}

// --- login attempts ---

type fakeAttempts struct{ f *fakeStore }

func (r fakeAttempts) Record(_ context.Context, a *models.LoginAttempt) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.f.attempts = append(r.f.attempts, *a)
	return nil
}

func (r fakeAttempts) CountRecentFailures(_ context.Context, username string, since time.Time) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	n := 0
	for _, a := range r.f.attempts {
		if a.Username == username && !a.Success && a.AttemptedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (r fakeAttempts) Prune(_ context.Context, before time.Time) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	kept := r.f.attempts[:0]
	var n int64
	for _, a := range r.f.attempts {
		if a.AttemptedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.f.attempts = kept
	return n, nil
}

// --- helpers ---

// newSQLMockDB returns a mock that accepts any number of transactions.
func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectTx(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectCommit()
}

func expectRollback(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectRollback()
}

func newTestCache(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.New(t.TempDir())
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	return store
}

func testLogger() logging.Logger { return logging.Discard() }

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeQueue struct {
	mu   sync.Mutex
	sent [][]models.UploadID
	full bool
}

func (q *fakeQueue) Send(uploadIDs []models.UploadID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.sent = append(q.sent, uploadIDs)
	return true
}

func (f *fakeStore) addUser(t *testing.T, username, plain string, mutate ...func(*models.User)) *models.User {
	t.Helper()
	stored, err := password.New(plain)
	if err != nil {
		t.Fatalf("password.New: %v", err)
	}
	u := models.User{
		ID:           ids.New[models.UserKind](),
		Username:     username,
		Name:         username,
		Password:     stored,
		Enabled:      true,
		DefaultOrder: models.OrderUploadedAt,
	}
	for _, fn := range mutate {
		fn(&u)
	}
	f.mu.Lock()
	f.users[u.ID] = u
	f.mu.Unlock()
	return &u
}

func (f *fakeStore) addTeam(slug string, members ...models.TeamMember) *models.Team {
	team := models.Team{ID: ids.New[models.TeamKind](), Name: slug, Slug: slug, Enabled: true}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teams[team.ID] = team
	for _, m := range members {
		m.Team = team.ID
		f.members[memberKey{team.ID, m.User}] = m
	}
	return &team
}

func (f *fakeStore) upload(id models.UploadID) (models.Upload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.uploads[id]
	return u, ok
}
