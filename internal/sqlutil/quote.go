// Package sqlutil provides SQL utility functions.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QuoteANSIIdentifier quotes an identifier with double quotes, as PostgreSQL
// and ANSI-mode SQL expect.
func QuoteANSIIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, `"`, `""`)
	return `"` + escaped + `"`
}

// QualifiedIdentifier joins an alias and a column, quoting each part with quote.
func QualifiedIdentifier(quote func(string) string, alias, column string) string {
	if alias == "" {
		return quote(column)
	}
	return quote(alias) + "." + quote(column)
}
