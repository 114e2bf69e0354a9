package sqldoc

import (
	"fmt"
	"strings"
)

// Dialect holds the SQL differences between engines.
//
// Every collection table has the same shape: an ordering column seq, the
// canonical key of _id in a unique id column, and the document as canonical
// Extended JSON in body.
type Dialect interface {
	// Name identifies the dialect in logs and errors.
	Name() string

	// Placeholder returns the n-th (1-based) bind parameter.
	Placeholder(n int) string

	// CreateTable returns the DDL creating table if it does not exist.
	CreateTable(table string) string

	// LockTable returns a statement that serializes writers on table inside
	// a transaction, or "" when the engine serializes writes itself.
	LockTable(table string) string

	// IsUniqueViolation reports whether err is an id collision.
	IsUniqueViolation(err error) bool
}

// QuoteIdent quotes a table name. Both supported engines accept ANSI
// double-quoted identifiers.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func upsertSQL(d Dialect, table string) string {
	return fmt.Sprintf(
		`INSERT INTO %s (id, body) VALUES (%s, %s) ON CONFLICT (id) DO UPDATE SET body = excluded.body`,
		table, d.Placeholder(1), d.Placeholder(2),
	)
}

func deleteSQL(d Dialect, table string) string {
	return fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, table, d.Placeholder(1))
}

// selectSQL reads the whole table, or only the given number of keys.
func selectSQL(d Dialect, table string, keys int) string {
	q := fmt.Sprintf(`SELECT id, body FROM %s`, table)
	if keys > 0 {
		ph := make([]string, keys)
		for i := range ph {
			ph[i] = d.Placeholder(i + 1)
		}
		q += ` WHERE id IN (` + strings.Join(ph, ", ") + `)`
	}
	return q + ` ORDER BY seq`
}
