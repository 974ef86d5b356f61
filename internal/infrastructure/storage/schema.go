package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect names the SQL flavour behind a DSN.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DialectFor picks Postgres for postgres:// URLs and SQLite for everything else.
func DialectFor(dsn string) Dialect {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

func (d Dialect) driver() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) builder() sq.StatementBuilderType {
	if d == DialectPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func (d Dialect) schema() []string {
	if d == DialectPostgres {
		return postgresSchema
	}
	return sqliteSchema
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		keywords TEXT NOT NULL DEFAULT '[]',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS category_platforms (
		category_id INTEGER NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
		platform TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (category_id, platform)
	)`,
	`CREATE TABLE IF NOT EXISTS raw_topics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		link TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		category_id INTEGER,
		matched_keyword TEXT NOT NULL DEFAULT '',
		score REAL,
		comment TEXT NOT NULL DEFAULT '',
		analyzed INTEGER NOT NULL DEFAULT 0,
		fail_count INTEGER NOT NULL DEFAULT 0,
		skip_reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		analyzed_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_raw_topics_pending ON raw_topics(analyzed, skip_reason, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_raw_topics_score ON raw_topics(analyzed, score)`,
	`CREATE TABLE IF NOT EXISTS hot_topics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ordinal INTEGER NOT NULL,
		title TEXT NOT NULL,
		link TEXT NOT NULL,
		source TEXT NOT NULL,
		score REAL NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		category_id INTEGER,
		created_at INTEGER NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		keywords TEXT NOT NULL DEFAULT '[]',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS category_platforms (
		category_id BIGINT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
		platform TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (category_id, platform)
	)`,
	`CREATE TABLE IF NOT EXISTS raw_topics (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		link TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		category_id BIGINT,
		matched_keyword TEXT NOT NULL DEFAULT '',
		score DOUBLE PRECISION,
		comment TEXT NOT NULL DEFAULT '',
		analyzed INTEGER NOT NULL DEFAULT 0,
		fail_count INTEGER NOT NULL DEFAULT 0,
		skip_reason TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		analyzed_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_raw_topics_pending ON raw_topics(analyzed, skip_reason, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_raw_topics_score ON raw_topics(analyzed, score)`,
	`CREATE TABLE IF NOT EXISTS hot_topics (
		id BIGSERIAL PRIMARY KEY,
		ordinal INTEGER NOT NULL,
		title TEXT NOT NULL,
		link TEXT NOT NULL,
		source TEXT NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		category_id BIGINT,
		created_at BIGINT NOT NULL
	)`,
}

func openDB(ctx context.Context, dsn string) (*sql.DB, Dialect, error) {
	dialect := DialectFor(dsn)

	db, err := sql.Open(dialect.driver(), dsn)
	if err != nil {
		return nil, dialect, fmt.Errorf("open %s database: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// A single connection serializes writers and keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, dialect, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, dialect, fmt.Errorf("ping %s database: %w", dialect, err)
	}

	for _, stmt := range dialect.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, dialect, fmt.Errorf("apply schema: %w", err)
		}
	}
	return db, dialect, nil
}
