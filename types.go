package glue

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// The driver hands array, map and struct columns to database/sql as JSON
// text. The Null* types below scan that text back into Go values.

// NullArray is a nullable Spark ARRAY column.
//
//	var names glue.NullArray[string]
//	err := row.Scan(&names)
type NullArray[T any] struct {
	Array []T
	Valid bool // Valid is true if the value is not NULL
}

var _ sql.Scanner = (*NullArray[any])(nil)
var _ driver.Valuer = (*NullArray[any])(nil)

// Scan implements sql.Scanner.
func (a *NullArray[T]) Scan(src any) error {
	a.Array = nil
	valid, err := scanJSON(src, &a.Array, "array")
	a.Valid = valid
	return err
}

// Value implements driver.Valuer.
func (a NullArray[T]) Value() (driver.Value, error) {
	return jsonValue(a.Valid, a.Array)
}

// NullMap is a nullable Spark MAP column.
//
//	var props glue.NullMap[string, int]
//	err := row.Scan(&props)
type NullMap[K comparable, V any] struct {
	Map   map[K]V
	Valid bool // Valid is true if the value is not NULL
}

var _ sql.Scanner = (*NullMap[string, any])(nil)
var _ driver.Valuer = (*NullMap[string, any])(nil)

// Scan implements sql.Scanner.
func (m *NullMap[K, V]) Scan(src any) error {
	m.Map = nil
	valid, err := scanJSON(src, &m.Map, "map")
	m.Valid = valid
	return err
}

// Value implements driver.Valuer.
func (m NullMap[K, V]) Value() (driver.Value, error) {
	return jsonValue(m.Valid, m.Map)
}

// NullStruct is a nullable Spark STRUCT column, scanned into a Go struct
// or a map.
//
//	type Address struct {
//	    Street string `json:"street"`
//	    City   string `json:"city"`
//	}
//	var addr glue.NullStruct[Address]
//	err := row.Scan(&addr)
type NullStruct[T any] struct {
	Struct T
	Valid  bool // Valid is true if the value is not NULL
}

var _ sql.Scanner = (*NullStruct[any])(nil)
var _ driver.Valuer = (*NullStruct[any])(nil)

// Scan implements sql.Scanner.
func (s *NullStruct[T]) Scan(src any) error {
	var zero T
	s.Struct = zero
	valid, err := scanJSON(src, &s.Struct, "struct")
	s.Valid = valid
	return err
}

// Value implements driver.Valuer.
func (s NullStruct[T]) Value() (driver.Value, error) {
	return jsonValue(s.Valid, s.Struct)
}

// scanJSON unmarshals a JSON string or []byte into dst. It reports false
// with no error for NULL.
func scanJSON(src any, dst any, kind string) (bool, error) {
	var data []byte
	switch v := src.(type) {
	case nil:
		return false, nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return false, fmt.Errorf("glue: cannot scan %T into %s", src, kind)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("glue: cannot unmarshal %s: %w", kind, err)
	}
	return true, nil
}

func jsonValue(valid bool, v any) (driver.Value, error) {
	if !valid {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
