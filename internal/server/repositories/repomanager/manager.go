package repomanager

import (
	"context"
	"database/sql"

	"github.com/BlakeRain/parcel-sub000/internal/dbx"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/apikeys"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/loginattempts"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/tags"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/teams"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/uploads"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a connection or transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Teams(db dbx.DBTX) teams.Repository
	Uploads(db dbx.DBTX) uploads.Repository
	Tags(db dbx.DBTX) tags.Repository
	ApiKeys(db dbx.DBTX) apikeys.Repository
	LoginAttempts(db dbx.DBTX) loginattempts.Repository
}
