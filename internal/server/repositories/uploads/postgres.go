package uploads

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/BlakeRain/parcel-sub000/internal/dbx"
	"github.com/BlakeRain/parcel-sub000/internal/ids"
	"github.com/BlakeRain/parcel-sub000/internal/password"
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

var columnNames = []string{
	"id", "slug", "filename", "size", "public", "downloads", `"limit"`, "remaining", "expiry_date",
	"password", "custom_slug", "owner_user", "owner_team", "uploaded_by", "uploaded_at",
	"remote_addr", "mime_type", "has_preview", "preview_error",
}

// columns returns the upload columns qualified with alias, if any.
func columns(alias string) []string {
	if alias == "" {
		return columnNames
	}
	out := make([]string, len(columnNames))
	for i, c := range columnNames {
		out[i] = alias + "." + c
	}
	return out
}

var uploadColumns = strings.Join(columns(""), ", ")

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(row scanner, extra ...any) (*models.Upload, error) {
	u := &models.Upload{}
	var (
		pw        password.Null
		ownerUser ids.Null[models.UserKind]
		ownerTeam ids.Null[models.TeamKind]
	)
	dest := []any{
		&u.ID, &u.Slug, &u.Filename, &u.Size, &u.Public, &u.Downloads, &u.Limit, &u.Remaining, &u.ExpiryDate,
		&pw, &u.CustomSlug, &ownerUser, &ownerTeam, &u.UploadedBy, &u.UploadedAt,
		&u.RemoteAddr, &u.MimeType, &u.HasPreview, &u.PreviewError,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	owner, err := models.OwnerFromColumns(ownerUser, ownerTeam)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", u.ID, err)
	}
	u.Owner = owner
	u.Password = pw.Ptr()
	return u, nil
}

func (r *PostgresRepository) queryUploads(ctx context.Context, query string, args ...any) ([]models.Upload, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var uploads []models.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		uploads = append(uploads, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return uploads, nil
}

func (r *PostgresRepository) querySlugs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		slugs = append(slugs, slug)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return slugs, nil
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return dbx.Wrap(err)
	}
	return dbx.RequireRows(res)
}

func (r *PostgresRepository) Create(ctx context.Context, upload *models.Upload) error {
	ownerUser, ownerTeam := upload.Owner.Columns()

	q := r.qb().Insert("uploads").
		Columns(columns("")...).
		Values(
			upload.ID, upload.Slug, upload.Filename, upload.Size, upload.Public, upload.Downloads,
			upload.Limit, upload.Remaining, upload.ExpiryDate, password.FromPtr(upload.Password),
			upload.CustomSlug, ownerUser, ownerTeam, upload.UploadedBy, upload.UploadedAt,
			upload.RemoteAddr, upload.MimeType, upload.HasPreview, upload.PreviewError,
		)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return dbx.Wrap(err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id models.UploadID) (*models.Upload, error) {
	u, err := scanUpload(r.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1`, id))
	if err != nil {
		return nil, dbx.Wrap(err)
	}
	return u, nil
}

// GetMany fetches uploads by id in one query. Missing ids are simply absent
// from the result, which has no particular order.
func (r *PostgresRepository) GetMany(ctx context.Context, uploadIDs []models.UploadID) ([]models.Upload, error) {
	if len(uploadIDs) == 0 {
		return nil, nil
	}

	sqlStr, args, err := r.qb().Select(columns("")...).From("uploads").Where(sq.Eq{"id": uploadIDs}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.queryUploads(ctx, sqlStr, args...)
}

func (r *PostgresRepository) GetBySlug(ctx context.Context, slug string) (*models.Upload, error) {
	u, err := scanUpload(r.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE slug = $1`, slug))
	if err != nil {
		return nil, dbx.Wrap(err)
	}
	return u, nil
}

// GetByCustomSlug resolves /{owner_slug}/{custom_slug}, where owner_slug is a
// username or a team slug.
func (r *PostgresRepository) GetByCustomSlug(ctx context.Context, ownerSlug, customSlug string) (*models.Upload, error) {
	query :=
		`SELECT ` + strings.Join(columns("up"), ", ") + `
		 FROM uploads up
		 LEFT JOIN users ou ON ou.id = up.owner_user
		 LEFT JOIN teams ot ON ot.id = up.owner_team
		 WHERE up.custom_slug = $2 AND (ou.username = $1 OR ot.slug = $1)`

	u, err := scanUpload(r.db.QueryRowContext(ctx, query, ownerSlug, customSlug))
	if err != nil {
		return nil, dbx.Wrap(err)
	}
	return u, nil
}

// GetExistingSlugs returns the subset of slugs that belong to an upload.
func (r *PostgresRepository) GetExistingSlugs(ctx context.Context, slugs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(slugs) == 0 {
		return existing, nil
	}

	sqlStr, args, err := r.qb().Select("slug").From("uploads").Where(sq.Eq{"slug": slugs}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	found, err := r.querySlugs(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	for _, slug := range found {
		existing[slug] = struct{}{}
	}
	return existing, nil
}

func ownerPredicate(owner models.Owner, alias string) (sq.Sqlizer, error) {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	if id, ok := owner.User(); ok {
		return sq.Eq{prefix + "owner_user": id}, nil
	}
	if id, ok := owner.Team(); ok {
		return sq.Eq{prefix + "owner_team": id}, nil
	}
	return nil, fmt.Errorf("invalid owner %s", owner)
}

// CustomSlugExists checks the owner's custom slug namespace, optionally
// ignoring one upload (the one being edited).
func (r *PostgresRepository) CustomSlugExists(ctx context.Context, owner models.Owner, customSlug string, exclude *models.UploadID) (bool, error) {
	pred, err := ownerPredicate(owner, "")
	if err != nil {
		return false, err
	}

	inner := r.qb().Select("1").From("uploads").Where(pred).Where(sq.Eq{"custom_slug": customSlug})
	if exclude != nil {
		inner = inner.Where(sq.NotEq{"id": *exclude})
	}

	sqlStr, args, err := r.qb().Select().Column(sq.Expr("EXISTS (?)", inner)).ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) Update(ctx context.Context, upload *models.Upload) error {
	query :=
		`UPDATE uploads
		 SET filename = $2, public = $3, "limit" = $4, remaining = $5, expiry_date = $6,
		     password = $7, custom_slug = $8
		 WHERE id = $1`

	return r.exec(ctx, query, upload.ID, upload.Filename, upload.Public, upload.Limit, upload.Remaining,
		upload.ExpiryDate, password.FromPtr(upload.Password), upload.CustomSlug)
}

func (r *PostgresRepository) Delete(ctx context.Context, id models.UploadID) error {
	return r.exec(ctx, `DELETE FROM uploads WHERE id = $1`, id)
}

// DeleteMany deletes uploads in one statement and returns the slugs of the
// deleted rows so their cache files can be removed.
func (r *PostgresRepository) DeleteMany(ctx context.Context, uploadIDs []models.UploadID) ([]string, error) {
	if len(uploadIDs) == 0 {
		return nil, nil
	}

	sqlStr, args, err := r.qb().Delete("uploads").Where(sq.Eq{"id": uploadIDs}).Suffix("RETURNING slug").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.querySlugs(ctx, sqlStr, args...)
}

func (r *PostgresRepository) DeleteForUser(ctx context.Context, user models.UserID) ([]string, error) {
	return r.querySlugs(ctx, `DELETE FROM uploads WHERE owner_user = $1 RETURNING slug`, user)
}

func (r *PostgresRepository) DeleteForTeam(ctx context.Context, team models.TeamID) ([]string, error) {
	return r.querySlugs(ctx, `DELETE FROM uploads WHERE owner_team = $1 RETURNING slug`, team)
}

// RecordDownload counts a download and, when decrement is set, consumes one
// unit of the remaining allowance without going below zero.
func (r *PostgresRepository) RecordDownload(ctx context.Context, id models.UploadID, decrement bool) error {
	query :=
		`UPDATE uploads
		 SET downloads = downloads + 1,
		     remaining = CASE WHEN $2 AND remaining IS NOT NULL THEN GREATEST(remaining - 1, 0) ELSE remaining END
		 WHERE id = $1`

	return r.exec(ctx, query, id, decrement)
}

func (r *PostgresRepository) ResetRemaining(ctx context.Context, id models.UploadID) error {
	return r.exec(ctx, `UPDATE uploads SET remaining = "limit" WHERE id = $1`, id)
}

func (r *PostgresRepository) SetMimeType(ctx context.Context, id models.UploadID, mimeType string) error {
	return r.exec(ctx, `UPDATE uploads SET mime_type = $2 WHERE id = $1`, id, mimeType)
}

func (r *PostgresRepository) SetPreviewError(ctx context.Context, id models.UploadID, message string) error {
	return r.exec(ctx, `UPDATE uploads SET has_preview = FALSE, preview_error = $2 WHERE id = $1`, id, message)
}

func (r *PostgresRepository) ClearPreviewError(ctx context.Context, id models.UploadID) error {
	return r.exec(ctx, `UPDATE uploads SET preview_error = NULL WHERE id = $1`, id)
}

func (r *PostgresRepository) SetHasPreview(ctx context.Context, id models.UploadID) error {
	return r.exec(ctx, `UPDATE uploads SET has_preview = TRUE, preview_error = NULL WHERE id = $1`, id)
}

// GetAllWithoutPreview pages through uploads the preview worker has not
// settled yet: no preview and no recorded error.
func (r *PostgresRepository) GetAllWithoutPreview(ctx context.Context, offset, limit uint64) ([]models.Upload, error) {
	query :=
		`SELECT ` + uploadColumns + `
		 FROM uploads
		 WHERE NOT has_preview AND preview_error IS NULL
		 ORDER BY uploaded_at, id
		 LIMIT $1 OFFSET $2`

	return r.queryUploads(ctx, query, limit, offset)
}

func (r *PostgresRepository) applyFilter(q sq.SelectBuilder, filter ListFilter) (sq.SelectBuilder, error) {
	if filter.Owner != nil {
		pred, err := ownerPredicate(*filter.Owner, "up")
		if err != nil {
			return q, err
		}
		q = q.Where(pred)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		q = q.Where(sq.ILike{"up.filename": "%" + escapeLike(search) + "%"})
	}
	return q, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// tagSeparator joins tag names in list queries; tag names cannot contain it.
const tagSeparator = ","

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]models.UploadListItem, error) {
	dir := "DESC"
	if filter.Asc {
		dir = "ASC"
	}

	cols := append(columns("up"),
		"COALESCE(ou.username, ot.slug)",
		"ub.name",
		"string_agg(tg.name, '"+tagSeparator+"' ORDER BY tg.name)",
	)

	q := r.qb().Select(cols...).
		From("uploads up").
		LeftJoin("users ou ON ou.id = up.owner_user").
		LeftJoin("teams ot ON ot.id = up.owner_team").
		LeftJoin("users ub ON ub.id = up.uploaded_by").
		LeftJoin("upload_tags ut ON ut.upload_id = up.id").
		LeftJoin("tags tg ON tg.id = ut.tag_id").
		GroupBy("up.id", "ou.username", "ot.slug", "ub.name").
		OrderBy("up."+filter.Order.Column()+" "+dir+" NULLS LAST", "up.id "+dir).
		Offset(filter.Offset)
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	q, err := r.applyFilter(q, filter)
	if err != nil {
		return nil, err
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var items []models.UploadListItem
	for rows.Next() {
		var (
			ownerSlug    sql.NullString
			uploaderName *string
			tags         sql.NullString
		)
		u, err := scanUpload(rows, &ownerSlug, &uploaderName, &tags)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		item := models.UploadListItem{Upload: *u, OwnerSlug: ownerSlug.String, UploaderName: uploaderName}
		if tags.Valid && tags.String != "" {
			item.Tags = strings.Split(tags.String, tagSeparator)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return items, nil
}

func (r *PostgresRepository) Count(ctx context.Context, filter ListFilter) (int64, error) {
	q, err := r.applyFilter(r.qb().Select("COUNT(*)").From("uploads up"), filter)
	if err != nil {
		return 0, err
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var n int64
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// Stats aggregates over all uploads, or over one owner's uploads.
func (r *PostgresRepository) Stats(ctx context.Context, owner *models.Owner) (models.UploadStats, error) {
	q := r.qb().Select(
		"COUNT(*)",
		"COUNT(*) FILTER (WHERE public)",
		"COALESCE(SUM(downloads), 0)",
		"COALESCE(SUM(size), 0)",
	).From("uploads")

	if owner != nil {
		pred, err := ownerPredicate(*owner, "")
		if err != nil {
			return models.UploadStats{}, err
		}
		q = q.Where(pred)
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return models.UploadStats{}, fmt.Errorf("build query: %w", err)
	}

	var s models.UploadStats
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&s.Total, &s.Public, &s.Downloads, &s.Size); err != nil {
		return models.UploadStats{}, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}
