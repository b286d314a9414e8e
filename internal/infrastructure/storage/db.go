package storage

import (
	"database/sql"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/smilemakc/aidecore/internal/config"
)

// NewDB opens a bun.DB against Postgres using the given database
// configuration, following the same pgdriver/pgdialect wiring the rest of
// this stack's Postgres-backed repositories use.
func NewDB(cfg config.DatabaseConfig) *bun.DB {
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.URL))
	sqldb := sql.OpenDB(connector)
	sqldb.SetMaxOpenConns(cfg.MaxConnections)
	sqldb.SetMaxIdleConns(cfg.MinConnections)
	sqldb.SetConnMaxIdleTime(cfg.MaxIdleTime)
	sqldb.SetConnMaxLifetime(cfg.MaxConnLifetime)

	return bun.NewDB(sqldb, pgdialect.New(), bun.WithDiscardUnknownColumns())
}
