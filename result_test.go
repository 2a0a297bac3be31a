package glue

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *Result
	}{
		{
			name: "records",
			raw: `{"type": "results", "rowcount": 2,
				"results": [{"type": "record", "data": {"a": 1, "b": "x"}}, {"type": "record", "data": {"a": 2, "b": null}}],
				"description": [{"name": "a", "type": "int"}, {"name": "b", "type": "string"}]}`,
			want: &Result{
				RowCount: 2,
				Columns:  []Column{{Name: "a", Type: "int"}, {Name: "b", Type: "string"}},
				Records: []Record{
					{"a": json.Number("1"), "b": "x"},
					{"a": json.Number("2"), "b": nil},
				},
			},
		},
		{
			name: "null schema",
			raw:  `{"type": "results", "sql": "create table t (a int)", "schema": null, "results": null}`,
			want: &Result{},
		},
		{
			name: "empty output",
			raw:  "  \n",
			want: &Result{},
		},
		{
			name: "no rows",
			raw:  `{"type": "results", "rowcount": 0, "results": [], "description": [{"name": "a", "type": "int"}]}`,
			want: &Result{Columns: []Column{{Name: "a", Type: "int"}}, Records: []Record{}},
		},
		{
			name: "rowcount defaults to records",
			raw:  `{"type": "results", "results": [{"type": "record", "data": {"a": 1.5}}], "description": [{"name": "a", "type": "double"}]}`,
			want: &Result{
				RowCount: 1,
				Columns:  []Column{{Name: "a", Type: "double"}},
				Records:  []Record{{"a": json.Number("1.5")}},
			},
		},
		{
			name: "non-finite doubles, struct and binary values",
			raw: `{"type": "results", "rowcount": 1,
				"results": [{"type": "record", "data": {"x": "NaN", "y": "-Infinity", "addr": {"city": "Lyon"}, "blob": "aGk="}}],
				"description": [{"name": "x", "type": "double"}, {"name": "y", "type": "double"},
					{"name": "addr", "type": "struct<city:string>"}, {"name": "blob", "type": "binary"}]}`,
			want: &Result{
				RowCount: 1,
				Columns: []Column{
					{Name: "x", Type: "double"},
					{Name: "y", Type: "double"},
					{Name: "addr", Type: "struct<city:string>"},
					{Name: "blob", Type: "binary"},
				},
				Records: []Record{{"x": "NaN", "y": "-Infinity", "addr": map[string]any{"city": "Lyon"}, "blob": "aGk="}},
			},
		},
		{
			name: "printed output before the envelope",
			raw: "Setting default log level to WARN\n" +
				`{"type": "results", "rowcount": 1, "results": [{"type": "record", "data": {"n": 3}}], "description": [{"name": "n", "type": "bigint"}]}` + "\n",
			want: &Result{
				RowCount: 1,
				Columns:  []Column{{Name: "n", Type: "bigint"}},
				Records:  []Record{{"n": json.Number("3")}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.raw)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Run("no envelope", func(t *testing.T) {
		_, err := Decode("hello\nworld")
		assert.ErrorIs(t, err, ErrNoEnvelope)
	})

	t.Run("wrong envelope type", func(t *testing.T) {
		_, err := Decode(`{"type": "progress", "results": []}`)
		assert.ErrorIs(t, err, ErrNoEnvelope)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Decode(`{"type": "results", "results": [`)
		assert.ErrorIs(t, err, ErrNoEnvelope)
	})

	t.Run("bad record type", func(t *testing.T) {
		_, err := Decode(`{"type": "results", "results": [{"type": "row", "data": {}}], "description": []}`)
		assert.ErrorContains(t, err, `has type "row"`)
		assert.NotErrorIs(t, err, ErrNoEnvelope)
	})
}

func TestRecord_Values(t *testing.T) {
	rec := Record{"b": "x", "a": json.Number("1")}
	cols := []Column{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	assert.Equal(t, Row{json.Number("1"), "x", nil}, rec.Values(cols))
}
