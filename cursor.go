package glue

import (
	"context"
	"errors"
	"iter"
)

// Projection shapes a decoded record into the row type a cursor yields.
type Projection[R any] func(columns []Column, rec Record) R

// Positional yields rows as values in column order.
func Positional(columns []Column, rec Record) Row {
	return rec.Values(columns)
}

// Dict yields rows as the name-to-value mapping the runtime produced.
func Dict(_ []Column, rec Record) Record {
	return rec
}

// Cursor runs statements on a Connection and buffers the last result.
// Re-executing replaces the buffer.
type Cursor[R any] struct {
	conn    *Connection
	project Projection[R]

	result *Result
	pos    int
}

// NewCursor returns a cursor projecting rows with project.
func NewCursor[R any](conn *Connection, project Projection[R]) *Cursor[R] {
	return &Cursor[R]{conn: conn, project: project, result: &Result{}}
}

// Cursor returns a cursor yielding positional rows.
func (c *Connection) Cursor() *Cursor[Row] {
	return NewCursor(c, Positional)
}

// DictCursor returns a cursor yielding rows keyed by column name.
func (c *Connection) DictCursor() *Cursor[Record] {
	return NewCursor(c, Dict)
}

// Execute runs sql and buffers its result, connecting first if the
// connection has no session yet. SQL is wrapped for the helper
// program; text starting with PySparkMarker runs as Python and may print no
// envelope at all, which yields an empty result.
func (cur *Cursor[R]) Execute(ctx context.Context, sql string) error {
	cur.result = &Result{}
	cur.pos = 0

	if cur.conn.SessionID() == "" {
		if _, err := cur.conn.Connect(ctx); err != nil {
			return err
		}
	}

	st, err := cur.conn.Execute(ctx, WrapSQL(sql))
	if err != nil {
		return err
	}

	res, err := Decode(st.Output)
	if err != nil {
		if isPySpark(sql) && errors.Is(err, ErrNoEnvelope) {
			return nil
		}
		return err
	}
	cur.result = res
	return nil
}

// Description returns the columns of the buffered result.
func (cur *Cursor[R]) Description() []Column {
	return cur.result.Columns
}

// RowCount returns the row count the runtime reported.
func (cur *Cursor[R]) RowCount() int {
	return cur.result.RowCount
}

// FetchOne returns the next row, or false once the buffer is exhausted.
func (cur *Cursor[R]) FetchOne() (R, bool) {
	var zero R
	if cur.pos >= len(cur.result.Records) {
		return zero, false
	}
	rec := cur.result.Records[cur.pos]
	cur.pos++
	return cur.project(cur.result.Columns, rec), true
}

// FetchMany returns up to n of the remaining rows.
func (cur *Cursor[R]) FetchMany(n int) []R {
	rows := make([]R, 0, max(0, min(n, len(cur.result.Records)-cur.pos)))
	for len(rows) < n {
		row, ok := cur.FetchOne()
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	return rows
}

// FetchAll returns every remaining row. An exhausted cursor returns an
// empty slice.
func (cur *Cursor[R]) FetchAll() []R {
	return cur.FetchMany(len(cur.result.Records) - cur.pos)
}

// All iterates over the whole buffered result from the first row, without
// moving the FetchOne position.
func (cur *Cursor[R]) All() iter.Seq[R] {
	res := cur.result
	return func(yield func(R) bool) {
		for _, rec := range res.Records {
			if !yield(cur.project(res.Columns, rec)) {
				return
			}
		}
	}
}

// Close drops the buffered result.
func (cur *Cursor[R]) Close() error {
	cur.result = &Result{}
	cur.pos = 0
	return nil
}
