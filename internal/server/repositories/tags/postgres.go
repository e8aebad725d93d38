package tags

import (
	"context"
	"fmt"

	"github.com/BlakeRain/parcel-sub000/internal/dbx"
	"github.com/BlakeRain/parcel-sub000/internal/ids"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
	sq "github.com/Masterminds/squirrel"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) qb() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func ownerPredicate(owner models.Owner) (sq.Eq, error) {
	if id, ok := owner.User(); ok {
		return sq.Eq{"user_id": id}, nil
	}
	if id, ok := owner.Team(); ok {
		return sq.Eq{"team_id": id}, nil
	}
	return nil, fmt.Errorf("invalid owner %s", owner)
}

func (r *PostgresRepository) queryTags(ctx context.Context, q sq.SelectBuilder) ([]models.Tag, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var tags []models.Tag
	for rows.Next() {
		var (
			t    models.Tag
			user ids.Null[models.UserKind]
			team ids.Null[models.TeamKind]
		)
		if err := rows.Scan(&t.ID, &t.Name, &user, &team); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if t.Owner, err = models.OwnerFromColumns(user, team); err != nil {
			return nil, fmt.Errorf("tag %s: %w", t.ID, err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tags, nil
}

func (r *PostgresRepository) Ensure(ctx context.Context, owner models.Owner, names []string) ([]models.Tag, error) {
	if len(names) == 0 {
		return nil, nil
	}
	pred, err := ownerPredicate(owner)
	if err != nil {
		return nil, err
	}

	user, team := owner.Columns()
	ins := r.qb().Insert("tags").Columns("id", "name", "user_id", "team_id")
	for _, name := range names {
		ins = ins.Values(ids.New[models.TagKind](), name, user, team)
	}
	sqlStr, args, err := ins.Suffix("ON CONFLICT DO NOTHING").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return nil, dbx.Wrap(err)
	}

	return r.queryTags(ctx, r.qb().
		Select("id", "name", "user_id", "team_id").
		From("tags").
		Where(pred).
		Where(sq.Eq{"name": names}).
		OrderBy("name"))
}

func (r *PostgresRepository) ListForOwner(ctx context.Context, owner models.Owner) ([]models.Tag, error) {
	pred, err := ownerPredicate(owner)
	if err != nil {
		return nil, err
	}
	return r.queryTags(ctx, r.qb().Select("id", "name", "user_id", "team_id").From("tags").Where(pred).OrderBy("name"))
}

func (r *PostgresRepository) ListForUpload(ctx context.Context, upload models.UploadID) ([]string, error) {
	query :=
		`SELECT t.name
		 FROM upload_tags ut
		 JOIN tags t ON t.id = ut.tag_id
		 WHERE ut.upload_id = $1
		 ORDER BY t.name`

	rows, err := r.db.QueryContext(ctx, query, upload)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return names, nil
}

// ReplaceForUpload swaps the upload's tag set. Run it inside a transaction.
func (r *PostgresRepository) ReplaceForUpload(ctx context.Context, upload models.UploadID, tags []models.TagID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM upload_tags WHERE upload_id = $1`, upload); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if len(tags) == 0 {
		return nil
	}

	ins := r.qb().Insert("upload_tags").Columns("upload_id", "tag_id")
	for _, tag := range tags {
		ins = ins.Values(upload, tag)
	}
	sqlStr, args, err := ins.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return dbx.Wrap(err)
	}
	return nil
}

func (r *PostgresRepository) DeleteForOwner(ctx context.Context, owner models.Owner) error {
	pred, err := ownerPredicate(owner)
	if err != nil {
		return err
	}
	sqlStr, args, err := r.qb().Delete("tags").Where(pred).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
