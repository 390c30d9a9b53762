package sqlstore

import (
	"fmt"
	"strings"
)

// dialect holds the per-driver SQL differences.
type dialect struct {
	driver string
}

func newDialect(driver string) (dialect, error) {
	switch driver {
	case "sqlite", "postgres", "mysql":
		return dialect{driver: driver}, nil
	}
	return dialect{}, fmt.Errorf("unsupported driver %q (supported: sqlite, postgres, mysql)", driver)
}

// placeholder returns the n-th (1-based) bind parameter.
func (d dialect) placeholder(n int) string {
	if d.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (d dialect) quote(name string) string {
	if d.driver == "mysql" {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}

func (d dialect) createTable(table, column string) string {
	idType, bodyType := "TEXT", "TEXT"
	if d.driver == "mysql" {
		idType, bodyType = "VARCHAR(255)", "LONGTEXT"
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id %s PRIMARY KEY, %s %s NOT NULL)",
		d.quote(table), idType, column, bodyType)
}

func (d dialect) upsert(table, column string) string {
	q := fmt.Sprintf("INSERT INTO %s (id, %s) VALUES (%s, %s)",
		d.quote(table), column, d.placeholder(1), d.placeholder(2))
	if d.driver == "mysql" {
		return q + fmt.Sprintf(" ON DUPLICATE KEY UPDATE %s = VALUES(%s)", column, column)
	}
	return q + fmt.Sprintf(" ON CONFLICT (id) DO UPDATE SET %s = excluded.%s", column, column)
}

func (d dialect) selectByID(table, column string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE id = %s", column, d.quote(table), d.placeholder(1))
}

func (d dialect) listTables() string {
	switch d.driver {
	case "postgres":
		return "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name"
	case "mysql":
		return "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() ORDER BY table_name"
	}
	return "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
}

// validIdent reports whether s can be used as a table name.
func validIdent(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// tableForField maps a query field to its table: "contentById" reads from
// "content", any other field names the table directly.
func tableForField(field string) string {
	if n := len(field) - len("ById"); n > 0 && strings.EqualFold(field[n:], "ById") {
		return field[:n]
	}
	return field
}
