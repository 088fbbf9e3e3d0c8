// Package schema is the static registry of table definitions backing the
// record store. Definitions are versionless and never mutated at runtime;
// both table creation and the generic query executor consult them.
package schema

import (
	"fmt"
	"strings"
)

// Table identifies one of the registered tables.
type Table string

const (
	Books         Table = "books"
	Clients       Table = "clients"
	Families      Table = "families"
	BorrowRecords Table = "borrow_records"
)

// Column describes a single column with its SQL type and constraints.
type Column struct {
	Name          string
	Type          string
	PrimaryKey    bool
	AutoIncrement bool
	NotNull       bool
	Default       string
	References    string // rendered as a table-level FOREIGN KEY clause
}

// Definition is the ordered column set of one table.
type Definition struct {
	Name    Table
	Columns []Column
}

var registry = []Definition{
	{
		Name: Books,
		Columns: []Column{
			{Name: "id", Type: "INTEGER", PrimaryKey: true, AutoIncrement: true},
			{Name: "title", Type: "TEXT", NotNull: true},
			{Name: "author", Type: "TEXT", NotNull: true},
			{Name: "year", Type: "INTEGER", NotNull: true},
			{Name: "copies", Type: "INTEGER", NotNull: true},
			{Name: "borrowed_count", Type: "INTEGER", Default: "0"},
		},
	},
	{
		Name: Clients,
		Columns: []Column{
			{Name: "id", Type: "INTEGER", PrimaryKey: true, AutoIncrement: true},
			{Name: "name", Type: "TEXT", NotNull: true},
			{Name: "surname", Type: "TEXT", NotNull: true},
			{Name: "family", Type: "TEXT", NotNull: true},
		},
	},
	{
		Name: Families,
		Columns: []Column{
			{Name: "name", Type: "TEXT", PrimaryKey: true},
		},
	},
	{
		Name: BorrowRecords,
		Columns: []Column{
			{Name: "id", Type: "INTEGER", PrimaryKey: true, AutoIncrement: true},
			{Name: "client_id", Type: "INTEGER", NotNull: true, References: "clients(id)"},
			{Name: "book_id", Type: "INTEGER", NotNull: true, References: "books(id)"},
			{Name: "borrow_date", Type: "TEXT", NotNull: true},
			{Name: "return_date", Type: "TEXT", NotNull: true},
			{Name: "is_returned", Type: "INTEGER", Default: "0"},
		},
	},
}

// All returns every registered definition in declaration order.
func All() []Definition {
	out := make([]Definition, len(registry))
	copy(out, registry)
	return out
}

// For looks up the definition for a table.
func For(t Table) (Definition, bool) {
	for _, def := range registry {
		if def.Name == t {
			return def, true
		}
	}
	return Definition{}, false
}

// Has reports whether the table declares a column with the given name.
func (d Definition) Has(column string) bool {
	for _, c := range d.Columns {
		if c.Name == column {
			return true
		}
	}
	return false
}

// ColumnNames returns the column names in declared order.
func (d Definition) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// CreateSQL renders the CREATE TABLE IF NOT EXISTS statement for the table.
func (d Definition) CreateSQL() string {
	cols := make([]string, 0, len(d.Columns))
	var foreignKeys []string

	for _, c := range d.Columns {
		parts := []string{c.Name, c.Type}
		if c.PrimaryKey {
			parts = append(parts, "PRIMARY KEY")
		}
		if c.AutoIncrement {
			parts = append(parts, "AUTOINCREMENT")
		}
		if c.NotNull {
			parts = append(parts, "NOT NULL")
		}
		if c.Default != "" {
			parts = append(parts, "DEFAULT "+c.Default)
		}
		cols = append(cols, strings.Join(parts, " "))

		if c.References != "" {
			foreignKeys = append(foreignKeys, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s", c.Name, c.References))
		}
	}

	clauses := append(cols, foreignKeys...)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", d.Name, strings.Join(clauses, ", "))
}
