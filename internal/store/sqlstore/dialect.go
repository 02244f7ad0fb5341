package sqlstore

import (
	"strconv"
	"strings"

	// Database drivers
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb"
	_ "modernc.org/sqlite"

	"github.com/xtxerr/infoset/internal/errors"
)

// dialect captures the differences between the supported databases.
type dialect struct {
	// name is the store.driver config value.
	name string

	// driver is the database/sql driver name.
	driver string

	// dollarParams selects $1, $2, ... placeholders instead of ?.
	dollarParams bool

	// singleWriter limits the pool to one connection.
	singleWriter bool

	// schema is the list of bootstrap statements, all idempotent.
	schema []string
}

var dialects = map[string]*dialect{
	"duckdb": {
		name:   "duckdb",
		driver: "duckdb",
		schema: []string{
			`CREATE SEQUENCE IF NOT EXISTS agents_idx_seq START 1`,
			`CREATE TABLE IF NOT EXISTS agents (
				idx       BIGINT PRIMARY KEY DEFAULT nextval('agents_idx_seq'),
				device_id VARCHAR NOT NULL UNIQUE,
				name      VARCHAR NOT NULL,
				hostname  VARCHAR NOT NULL,
				enabled   BOOLEAN NOT NULL DEFAULT TRUE
			)`,
			`CREATE SEQUENCE IF NOT EXISTS series_idx_seq START 1`,
			`CREATE TABLE IF NOT EXISTS series (
				idx            BIGINT PRIMARY KEY DEFAULT nextval('series_idx_seq'),
				series_id      VARCHAR NOT NULL UNIQUE,
				agent_idx      BIGINT NOT NULL,
				device_id      VARCHAR NOT NULL,
				label          VARCHAR NOT NULL,
				source         VARCHAR NOT NULL,
				description    VARCHAR NOT NULL,
				kind           INTEGER NOT NULL,
				enabled        BOOLEAN NOT NULL DEFAULT TRUE,
				last_timestamp BIGINT NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS measurements (
				series_id VARCHAR NOT NULL,
				device_id VARCHAR NOT NULL,
				value     DOUBLE NOT NULL,
				ts        BIGINT NOT NULL,
				PRIMARY KEY (series_id, device_id)
			)`,
		},
	},
	"sqlite": {
		name:         "sqlite",
		driver:       "sqlite",
		singleWriter: true,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS agents (
				idx       INTEGER PRIMARY KEY AUTOINCREMENT,
				device_id TEXT NOT NULL UNIQUE,
				name      TEXT NOT NULL,
				hostname  TEXT NOT NULL,
				enabled   INTEGER NOT NULL DEFAULT 1
			)`,
			`CREATE TABLE IF NOT EXISTS series (
				idx            INTEGER PRIMARY KEY AUTOINCREMENT,
				series_id      TEXT NOT NULL UNIQUE,
				agent_idx      INTEGER NOT NULL REFERENCES agents(idx),
				device_id      TEXT NOT NULL,
				label          TEXT NOT NULL,
				source         TEXT NOT NULL,
				description    TEXT NOT NULL,
				kind           INTEGER NOT NULL,
				enabled        INTEGER NOT NULL DEFAULT 1,
				last_timestamp INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS measurements (
				series_id TEXT NOT NULL,
				device_id TEXT NOT NULL,
				value     REAL NOT NULL,
				ts        INTEGER NOT NULL,
				PRIMARY KEY (series_id, device_id)
			)`,
		},
	},
	"postgres": {
		name:         "postgres",
		driver:       "pgx",
		dollarParams: true,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS agents (
				idx       BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
				device_id TEXT NOT NULL UNIQUE,
				name      TEXT NOT NULL,
				hostname  TEXT NOT NULL,
				enabled   BOOLEAN NOT NULL DEFAULT TRUE
			)`,
			`CREATE TABLE IF NOT EXISTS series (
				idx            BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
				series_id      TEXT NOT NULL UNIQUE,
				agent_idx      BIGINT NOT NULL REFERENCES agents(idx),
				device_id      TEXT NOT NULL,
				label          TEXT NOT NULL,
				source         TEXT NOT NULL,
				description    TEXT NOT NULL,
				kind           INTEGER NOT NULL,
				enabled        BOOLEAN NOT NULL DEFAULT TRUE,
				last_timestamp BIGINT NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS measurements (
				series_id TEXT NOT NULL,
				device_id TEXT NOT NULL,
				value     DOUBLE PRECISION NOT NULL,
				ts        BIGINT NOT NULL,
				PRIMARY KEY (series_id, device_id)
			)`,
		},
	},
}

func lookupDialect(name string) (*dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnsupportedDriver, "driver %q", name)
	}
	return d, nil
}

// rebind rewrites ? placeholders for the dialect. Queries must not contain
// literal question marks.
func (d *dialect) rebind(query string) string {
	if !d.dollarParams {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)

	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
