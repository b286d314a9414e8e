// Package storage holds the bun-backed persistence layer. AIDE keeps one
// Postgres schema per project ("<shortname>") alongside a shared admin
// schema; every query against project data must therefore qualify its
// table with a schema built from user-controlled input. This package
// never formats schema-qualified identifiers with fmt.Sprintf — every
// qualified name goes through bun.Ident, which quotes and escapes the
// identifier the same way bun does for ordinary column/table names,
// closing off SQL injection through a project's short name.
package storage

import "github.com/uptrace/bun"

// QualifiedTable returns a bun table expression for "<schema>.<table>",
// safe to pass to ModelTableExpr/TableExpr regardless of what characters
// appear in schema (a project short name is operator-chosen, not
// end-user free text, but is still never trusted raw in SQL text).
func QualifiedTable(schema, table string) bun.Ident {
	return bun.Ident(schema + "." + table)
}
