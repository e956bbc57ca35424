package state

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// dialect abstracts the differences between the postgres and sqlite
// backends: placeholder style, list-column encoding, and migration SQL.
// Queries are written in postgres form ($n, sequential, never repeated)
// and rebound for sqlite.
type dialect interface {
	Name() string
	DriverName() string
	Rebind(query string) string
	Array(v []string) any
	ArrayScanner(dst *[]string) any
	Migrations() []migration
	EnsureMigrationsTableSQL() string
}

// dialectForDSN picks the backend from the DSN shape. Postgres URLs are
// canonical; sqlite: and file: DSNs select the embedded backend for
// local and test use.
func dialectForDSN(dsn string) (dialect, string, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgresDialect{}, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqliteDialect{}, strings.TrimPrefix(dsn, "sqlite://"), nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return sqliteDialect{}, strings.TrimPrefix(dsn, "sqlite:"), nil
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:":
		return sqliteDialect{}, dsn, nil
	default:
		return nil, "", fmt.Errorf("unsupported state DSN scheme: %q", redactDSN(dsn))
	}
}

// ValidateDSN reports whether a DSN names a supported dialect, without
// connecting.
func ValidateDSN(dsn string) error {
	_, _, err := dialectForDSN(dsn)
	return err
}

type postgresDialect struct{}

func (postgresDialect) Name() string                 { return "postgres" }
func (postgresDialect) DriverName() string           { return "pgx" }
func (postgresDialect) Rebind(query string) string   { return query }
func (postgresDialect) Array(v []string) any         { return pq.Array(notNil(v)) }
func (postgresDialect) ArrayScanner(dst *[]string) any { return pq.Array(dst) }
func (postgresDialect) Migrations() []migration      { return postgresMigrations }

func (postgresDialect) EnsureMigrationsTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS schema_migrations (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return "sqlite" }
func (sqliteDialect) DriverName() string { return "sqlite" }

// Rebind turns $n placeholders into sqlite ?. Callers keep placeholders
// sequential and unique, so position alone is enough.
func (sqliteDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		if query[i] != '$' {
			b.WriteByte(query[i])
			continue
		}
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if j == i+1 {
			b.WriteByte('$')
			continue
		}
		b.WriteByte('?')
		i = j - 1
	}
	return b.String()
}

func (sqliteDialect) Array(v []string) any           { return jsonArray(notNil(v)) }
func (sqliteDialect) ArrayScanner(dst *[]string) any { return (*jsonArrayScanner)(dst) }
func (sqliteDialect) Migrations() []migration        { return sqliteMigrations }

func (sqliteDialect) EnsureMigrationsTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS schema_migrations (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`
}

// jsonArray stores a string list as a JSON text column.
type jsonArray []string

func (a jsonArray) Value() (driver.Value, error) {
	data, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

type jsonArrayScanner []string

func (s *jsonArrayScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(s))
	case []byte:
		return json.Unmarshal(v, (*[]string)(s))
	default:
		return fmt.Errorf("cannot scan %T into string list", src)
	}
}

func notNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// redactDSN strips credentials before a DSN reaches logs or errors.
func redactDSN(dsn string) string {
	schemeEnd := strings.Index(dsn, "://")
	if schemeEnd == -1 {
		return dsn
	}
	rest := dsn[schemeEnd+3:]
	at := strings.LastIndex(rest, "@")
	if at == -1 {
		return dsn
	}
	return dsn[:schemeEnd+3] + "***" + rest[at:]
}
