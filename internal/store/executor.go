package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bibliocore/internal/schema"
)

// Action is one of the four generic statement kinds.
type Action int

const (
	ActionInsert Action = iota
	ActionSelect
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionSelect:
		return "select"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	}
	return "unknown"
}

// Result is the outcome of a single executed action. Callers must check OK;
// the zero value is the generic failure.
type Result struct {
	OK       bool
	Rows     []Row
	LastID   int64
	Affected int64
}

// Executor is the persistence contract the repositories and the borrow
// workflow are written against.
type Executor interface {
	Insert(ctx context.Context, table schema.Table, fields map[string]any) Result
	Select(ctx context.Context, table schema.Table, fields map[string]any) Result
	Update(ctx context.Context, table schema.Table, fields map[string]any) Result
	Delete(ctx context.Context, table schema.Table, fields map[string]any) Result
}

var _ Executor = (*Store)(nil)

// Insert executes a single parameterized INSERT. Fields absent from the
// table's schema are dropped with a diagnostic, not an error. The generated
// row id is reported through Result.LastID.
func (s *Store) Insert(ctx context.Context, table schema.Table, fields map[string]any) Result {
	ctx, span := s.start(ctx, ActionInsert, table)
	defer span.End()

	def, ok := schema.For(table)
	if !ok {
		logFailure(ActionInsert, table, errUnknownTable)
		return Result{}
	}

	cols, args := intersect(def, fields, ActionInsert)
	if len(cols) == 0 {
		logFailure(ActionInsert, table, fmt.Errorf("no usable fields"))
		return Result{}
	}

	binds := make([]string, len(cols))
	for i, c := range cols {
		binds[i] = ":" + c
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(binds, ", "))

	var res sql.Result
	err := s.retry(ctx, func() error {
		var execErr error
		res, execErr = s.db.NamedExecContext(ctx, query, args)
		return execErr
	})
	if err != nil {
		span.RecordError(err)
		logFailure(ActionInsert, table, err)
		return Result{}
	}

	lastID, _ := res.LastInsertId()
	affected, _ := res.RowsAffected()
	span.SetAttributes(attribute.Int64("db.last_id", lastID))
	return Result{OK: true, LastID: lastID, Affected: affected}
}

// Select builds a WHERE conjunction over the supplied fields; an empty map
// yields an unconditioned SELECT *. All matching rows are realized.
func (s *Store) Select(ctx context.Context, table schema.Table, fields map[string]any) Result {
	ctx, span := s.start(ctx, ActionSelect, table)
	defer span.End()

	def, ok := schema.For(table)
	if !ok {
		logFailure(ActionSelect, table, errUnknownTable)
		return Result{}
	}

	query := fmt.Sprintf("SELECT * FROM %s", table)
	cols, args := intersect(def, fields, ActionSelect)
	if len(cols) > 0 {
		conds := make([]string, len(cols))
		for i, c := range cols {
			conds[i] = fmt.Sprintf("%s = :%s", c, c)
		}
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	var out []Row
	err := s.retry(ctx, func() error {
		rows, queryErr := s.db.NamedQueryContext(ctx, query, args)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			m := map[string]any{}
			if scanErr := rows.MapScan(m); scanErr != nil {
				return scanErr
			}
			out = append(out, Row(m))
		}
		return rows.Err()
	})
	if err != nil {
		span.RecordError(err)
		logFailure(ActionSelect, table, err)
		return Result{}
	}

	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return Result{OK: true, Rows: out}
}

// Update turns every supplied field except id into a SET assignment and
// requires WHERE id = :id. Calling Update without an id is a caller error
// and fails fast without touching the store.
func (s *Store) Update(ctx context.Context, table schema.Table, fields map[string]any) Result {
	ctx, span := s.start(ctx, ActionUpdate, table)
	defer span.End()

	def, ok := schema.For(table)
	if !ok {
		logFailure(ActionUpdate, table, errUnknownTable)
		return Result{}
	}
	if _, ok := fields["id"]; !ok {
		logFailure(ActionUpdate, table, errMissingID)
		return Result{}
	}

	cols, args := intersect(def, fields, ActionUpdate)
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == "id" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = :%s", c, c))
	}
	if len(sets) == 0 {
		logFailure(ActionUpdate, table, fmt.Errorf("no fields to set"))
		return Result{}
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = :id", table, strings.Join(sets, ", "))

	var res sql.Result
	err := s.retry(ctx, func() error {
		var execErr error
		res, execErr = s.db.NamedExecContext(ctx, query, args)
		return execErr
	})
	if err != nil {
		span.RecordError(err)
		logFailure(ActionUpdate, table, err)
		return Result{}
	}

	affected, _ := res.RowsAffected()
	span.SetAttributes(attribute.Int64("db.affected", affected))
	return Result{OK: true, Affected: affected}
}

// Delete removes exactly the row WHERE id = :id; bulk deletes are not
// supported.
func (s *Store) Delete(ctx context.Context, table schema.Table, fields map[string]any) Result {
	ctx, span := s.start(ctx, ActionDelete, table)
	defer span.End()

	if _, ok := schema.For(table); !ok {
		logFailure(ActionDelete, table, errUnknownTable)
		return Result{}
	}
	id, ok := fields["id"]
	if !ok {
		logFailure(ActionDelete, table, errMissingID)
		return Result{}
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = :id", table)

	var res sql.Result
	err := s.retry(ctx, func() error {
		var execErr error
		res, execErr = s.db.NamedExecContext(ctx, query, map[string]any{"id": id})
		return execErr
	})
	if err != nil {
		span.RecordError(err)
		logFailure(ActionDelete, table, err)
		return Result{}
	}

	affected, _ := res.RowsAffected()
	return Result{OK: true, Affected: affected}
}

var (
	errUnknownTable = fmt.Errorf("table not registered in schema")
	errMissingID    = fmt.Errorf("id field is required")
)

// intersect keeps the supplied fields that exist in the schema, in declared
// column order, and logs the dropped ones.
func intersect(def schema.Definition, fields map[string]any, action Action) ([]string, map[string]any) {
	var cols []string
	args := make(map[string]any, len(fields))
	for _, c := range def.Columns {
		if v, ok := fields[c.Name]; ok {
			cols = append(cols, c.Name)
			args[c.Name] = v
		}
	}
	for name := range fields {
		if !def.Has(name) {
			log.Printf("store: %s on %s dropping unknown field %q", action, def.Name, name)
		}
	}
	return cols, args
}

func (s *Store) start(ctx context.Context, action Action, table schema.Table) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "store."+action.String(),
		trace.WithAttributes(attribute.String("db.table", string(table))),
	)
}
