package users

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/BlakeRain/parcel-sub000/internal/ids"
	"github.com/BlakeRain/parcel-sub000/internal/password"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const argonHash = "$argon2id$v=19$m=19456,t=2,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g"

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var userCols = []string{
	"id", "username", "name", "password", "totp", "enabled", "admin", "limit",
	"created_at", "created_by", "last_access", "default_order", "default_asc",
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	pw, err := password.Decode(argonHash)
	require.NoError(t, err)
	now := time.Now().UTC()
	u := &models.User{
		ID: ids.New[models.UserKind](), Username: "root", Name: "Root", Password: pw,
		Enabled: true, Admin: true, CreatedAt: now,
	}

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+users\s*\(id,\s*username,.*VALUES\s*\(\$1,.*\$12\)$`).
		WithArgs(u.ID.String(), "root", "Root", argonHash, nil, true, true, nil, now, nil, "uploaded_at", false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), u))
	assert.Equal(t, models.OrderUploadedAt, u.DefaultOrder)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_Conflict(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	pw, _ := password.Decode(argonHash)
	mock.ExpectExec(`INSERT\s+INTO\s+users`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})

	err := repo.Create(context.Background(), &models.User{ID: ids.New[models.UserKind](), Username: "root", Password: pw})
	assert.ErrorIs(t, err, common.ErrorConflict)
}

func TestGetByUsername_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	id := ids.New[models.UserKind]()
	creator := ids.New[models.UserKind]()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := sqlmock.NewRows(userCols).
		AddRow(id.String(), "alice", "Alice", argonHash, "JBSWY3DPEHPK3PXP", true, false, int64(1024),
			created, creator.String(), nil, "filename", true)
	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*username,.*FROM\s+users\s+WHERE\s+username\s*=\s*\$1$`).
		WithArgs("alice").
		WillReturnRows(rows)

	got, err := repo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, password.Current, got.Password.Kind())
	require.NotNil(t, got.TotpSecret)
	assert.True(t, got.HasTotp())
	require.NotNil(t, got.Limit)
	assert.Equal(t, int64(1024), *got.Limit)
	require.NotNil(t, got.CreatedBy)
	assert.Equal(t, creator, *got.CreatedBy)
	assert.Nil(t, got.LastAccess)
	assert.Equal(t, models.OrderFilename, got.DefaultOrder)
	assert.True(t, got.DefaultAsc)
}

func TestGetByUsername_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+username`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByUsername(context.Background(), "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestGet_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	id := ids.New[models.UserKind]()
	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs(id.String()).
		WillReturnError(errors.New("db err"))

	_, err := repo.Get(context.Background(), id)
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestList_WithUploadTotals(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	cols := append(append([]string{}, userCols...), "count", "sum")
	rows := sqlmock.NewRows(cols).
		AddRow(ids.New[models.UserKind]().String(), "alice", "Alice", argonHash, nil, true, true, nil,
			time.Now(), nil, nil, "uploaded_at", false, int64(3), int64(300)).
		AddRow(ids.New[models.UserKind]().String(), "bob", "Bob", argonHash, nil, false, false, nil,
			time.Now(), nil, nil, "size", true, int64(0), int64(0))
	mock.ExpectQuery(`(?s)FROM\s+users\s+u\s+LEFT\s+JOIN\s+uploads.*GROUP\s+BY\s+u\.id`).
		WillReturnRows(rows)

	items, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "alice", items[0].Username)
	assert.Equal(t, int64(3), items[0].UploadCount)
	assert.Equal(t, int64(300), items[0].UploadSize)
	assert.False(t, items[1].Enabled)
}

func TestCount(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+COUNT\(\*\)\s+FROM\s+users`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIdentityExists_ChecksUsersAndTeams(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)EXISTS\s*\(SELECT\s+1\s+FROM\s+users\s+WHERE\s+username\s*=\s*\$1\).*EXISTS\s*\(SELECT\s+1\s+FROM\s+teams\s+WHERE\s+slug\s*=\s*\$1\)`).
		WithArgs("eng").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.IdentityExists(context.Background(), "eng")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUpdate_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	u := &models.User{ID: ids.New[models.UserKind](), Username: "alice", Name: "Alice", Enabled: true}
	mock.ExpectExec(`(?s)^UPDATE\s+users\s+SET\s+username\s*=\s*\$2`).
		WithArgs(u.ID.String(), "alice", "Alice", true, false, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), u)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSetPassword(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	id := ids.New[models.UserKind]()
	pw, _ := password.Decode(argonHash)
	mock.ExpectExec(`UPDATE\s+users\s+SET\s+password\s*=\s*\$2\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs(id.String(), argonHash).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetPassword(context.Background(), id, pw))
}

func TestTotpLifecycle(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	id := ids.New[models.UserKind]()
	mock.ExpectExec(`UPDATE\s+users\s+SET\s+totp\s*=\s*\$2`).
		WithArgs(id.String(), "JBSWY3DPEHPK3PXP").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE\s+users\s+SET\s+totp\s*=\s*NULL`).
		WithArgs(id.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetTotp(context.Background(), id, "JBSWY3DPEHPK3PXP"))
	require.NoError(t, repo.RemoveTotp(context.Background(), id))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetDefaultOrder_And_RecordLastAccess(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	id := ids.New[models.UserKind]()
	at := time.Now().UTC()
	mock.ExpectExec(`UPDATE\s+users\s+SET\s+default_order\s*=\s*\$2,\s*default_asc\s*=\s*\$3`).
		WithArgs(id.String(), "size", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE\s+users\s+SET\s+last_access\s*=\s*\$2`).
		WithArgs(id.String(), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetDefaultOrder(context.Background(), id, models.OrderSize, true))
	require.NoError(t, repo.RecordLastAccess(context.Background(), id, at))
}

func TestDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	id := ids.New[models.UserKind]()
	mock.ExpectExec(`DELETE\s+FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs(id.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), id), common.ErrorNotFound)
}

func TestStats(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)FILTER\s*\(WHERE\s+enabled\).*FROM\s+users`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "enabled", "admins", "totp"}).
			AddRow(int64(5), int64(4), int64(1), int64(2)))

	s, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.UserStats{Total: 5, Enabled: 4, Admins: 1, WithTotp: 2}, s)
}
