package tags

import (
	"context"
	"database/sql"
	"testing"

	"github.com/BlakeRain/parcel-sub000/internal/ids"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestEnsure_InsertsThenSelects(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	user := ids.New[models.UserKind]()
	owner := models.UserOwner(user)

	mock.ExpectExec(`^INSERT INTO tags \(id,name,user_id,team_id\) VALUES \(\$1,\$2,\$3,\$4\),\(\$5,\$6,\$7,\$8\) ON CONFLICT DO NOTHING$`).
		WithArgs(sqlmock.AnyArg(), "invoices", user.String(), nil, sqlmock.AnyArg(), "work", user.String(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	a, b := ids.New[models.TagKind](), ids.New[models.TagKind]()
	mock.ExpectQuery(`^SELECT id, name, user_id, team_id FROM tags WHERE user_id = \$1 AND name IN \(\$2,\$3\) ORDER BY name$`).
		WithArgs(user.String(), "invoices", "work").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "user_id", "team_id"}).
			AddRow(a.String(), "invoices", user.String(), nil).
			AddRow(b.String(), "work", user.String(), nil))

	tags, err := repo.Ensure(context.Background(), owner, []string{"invoices", "work"})
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, a, tags[0].ID)
	assert.Equal(t, owner, tags[1].Owner)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsure_EmptyIsNoop(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	tags, err := repo.Ensure(context.Background(), models.TeamOwner(ids.New[models.TeamKind]()), nil)
	require.NoError(t, err)
	assert.Empty(t, tags)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListForOwner_Team(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	team := ids.New[models.TeamKind]()
	mock.ExpectQuery(`FROM tags WHERE team_id = \$1 ORDER BY name`).
		WithArgs(team.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "user_id", "team_id"}).
			AddRow(ids.New[models.TagKind]().String(), "shared", nil, team.String()))

	tags, err := repo.ListForOwner(context.Background(), models.TeamOwner(team))
	require.NoError(t, err)
	require.Len(t, tags, 1)
	got, ok := tags[0].Owner.Team()
	assert.True(t, ok)
	assert.Equal(t, team, got)
}

func TestListForOwner_InvalidOwner(t *testing.T) {
	repo, _, db := newRepoWithMock(t)
	defer db.Close()

	_, err := repo.ListForOwner(context.Background(), models.Owner{})
	assert.Error(t, err)
}

func TestListForUpload(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	up := ids.New[models.UploadKind]()
	mock.ExpectQuery(`(?s)FROM upload_tags ut.*WHERE ut\.upload_id = \$1`).
		WithArgs(up.String()).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("a").AddRow("b"))

	names, err := repo.ListForUpload(context.Background(), up)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestReplaceForUpload(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	up, tag := ids.New[models.UploadKind](), ids.New[models.TagKind]()
	mock.ExpectExec(`DELETE FROM upload_tags WHERE upload_id = \$1`).
		WithArgs(up.String()).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`^INSERT INTO upload_tags \(upload_id,tag_id\) VALUES \(\$1,\$2\)$`).
		WithArgs(up.String(), tag.String()).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ReplaceForUpload(context.Background(), up, []models.TagID{tag}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceForUpload_ClearOnly(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM upload_tags`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.ReplaceForUpload(context.Background(), ids.New[models.UploadKind](), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteForOwner(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	user := ids.New[models.UserKind]()
	mock.ExpectExec(`^DELETE FROM tags WHERE user_id = \$1$`).
		WithArgs(user.String()).WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.DeleteForOwner(context.Background(), models.UserOwner(user)))
}
