package glue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Column describes one result column as the remote runtime reported it.
type Column struct {
	// Name is the column name
	Name string `json:"name"`

	// Type is the Spark type name, passed through untouched
	Type string `json:"type"`
}

// Record is one result row keyed by column name.
type Record map[string]any

// Row is one result row in column order.
type Row []any

// Result is a decoded result envelope.
type Result struct {
	RowCount int
	Columns  []Column
	Records  []Record
}

// Envelope is the JSON document the helper program prints for a statement.
type Envelope struct {
	Type        string           `json:"type"`
	RowCount    int              `json:"rowcount,omitempty"`
	Schema      json.RawMessage  `json:"schema,omitempty"`
	Results     []EnvelopeRecord `json:"results"`
	Description []Column         `json:"description,omitempty"`
}

// EnvelopeRecord wraps one row of an envelope.
type EnvelopeRecord struct {
	Type string `json:"type"`
	Data Record `json:"data"`
}

const (
	envelopeType = "results"
	recordType   = "record"
)

// Decode parses a statement's text output into a Result.
//
// Empty output decodes to an empty Result. When the whole output is not an
// envelope, the last line that is one wins, so PySpark code may print before
// handing over to SqlWrapper2. Output without any envelope returns
// ErrNoEnvelope.
func Decode(raw string) (*Result, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &Result{}, nil
	}

	env, err := parseEnvelope(raw)
	if err != nil {
		lines := strings.Split(raw, "\n")
		for i := len(lines) - 1; i >= 0 && env == nil; i-- {
			line := strings.TrimSpace(lines[i])
			if !strings.HasPrefix(line, "{") {
				continue
			}
			env, _ = parseEnvelope(line)
		}
		if env == nil {
			return nil, fmt.Errorf("%w: %v", ErrNoEnvelope, err)
		}
	}
	return env.result()
}

func parseEnvelope(s string) (*Envelope, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after envelope")
	}
	if env.Type != envelopeType {
		return nil, fmt.Errorf("unexpected envelope type %q", env.Type)
	}
	return &env, nil
}

// result flattens the envelope. A null schema or null results means the
// statement produced no table.
func (e *Envelope) result() (*Result, error) {
	if e.Results == nil || isJSONNull(e.Schema) {
		return &Result{}, nil
	}

	res := &Result{
		RowCount: e.RowCount,
		Columns:  e.Description,
		Records:  make([]Record, 0, len(e.Results)),
	}
	for i, rec := range e.Results {
		if rec.Type != recordType {
			return nil, fmt.Errorf("glue: result %d has type %q, want %q", i, rec.Type, recordType)
		}
		data := rec.Data
		if data == nil {
			data = Record{}
		}
		res.Records = append(res.Records, data)
	}
	if res.RowCount == 0 {
		res.RowCount = len(res.Records)
	}
	return res, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return raw != nil && bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Values projects rec onto columns, in column order. Missing keys are nil.
func (rec Record) Values(columns []Column) Row {
	row := make(Row, len(columns))
	for i, col := range columns {
		row[i] = rec[col.Name]
	}
	return row
}
