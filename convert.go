package glue

import (
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// sparkAliases maps DataType class names and long names onto the names
// DataType.simpleString reports.
var sparkAliases = map[string]string{
	"long":         "bigint",
	"integer":      "int",
	"short":        "smallint",
	"byte":         "tinyint",
	"real":         "float",
	"bool":         "boolean",
	"varchar":      "string",
	"char":         "string",
	"dec":          "decimal",
	"numeric":      "decimal",
	"timestampntz": "timestamp_ntz",
}

// normalizeType reduces a Spark type name to its base simple-string form:
// "decimal(10,2)" becomes "decimal", "array<int>" becomes "array" and
// "LongType" becomes "bigint".
func normalizeType(t string) string {
	lower := strings.ToLower(strings.TrimSpace(t))

	if idx := strings.IndexAny(lower, "(<"); idx >= 0 {
		lower = lower[:idx]
	}
	if lower != "type" {
		lower = strings.TrimSuffix(lower, "type")
	}
	if alias, ok := sparkAliases[lower]; ok {
		return alias
	}
	return lower
}

// scanTypeForSparkType returns the Go type convertValue produces for t.
func scanTypeForSparkType(t string) reflect.Type {
	switch normalizeType(t) {
	case "bigint", "int", "smallint", "tinyint":
		return reflect.TypeOf(int64(0))
	case "double", "float":
		return reflect.TypeOf(float64(0))
	case "boolean":
		return reflect.TypeOf(false)
	case "binary":
		return reflect.TypeOf([]byte(nil))
	case "date", "timestamp", "timestamp_ntz":
		return reflect.TypeOf(time.Time{})
	default:
		// string, decimal, array, map, struct and unknown types
		return reflect.TypeOf("")
	}
}

// convertValue converts a decoded envelope value to a driver.Value for the
// column's Spark type.
func convertValue(val any, sparkType string) (driver.Value, error) {
	if val == nil {
		return nil, nil
	}

	switch normalizeType(sparkType) {
	case "bigint", "int", "smallint", "tinyint":
		switch v := val.(type) {
		case json.Number:
			return v.Int64()
		case float64:
			return int64(v), nil
		case string:
			return strconv.ParseInt(v, 10, 64)
		default:
			return nil, fmt.Errorf("cannot convert %T to int64 for type %s", val, sparkType)
		}

	case "double", "float":
		switch v := val.(type) {
		case json.Number:
			return v.Float64()
		case float64:
			return v, nil
		case string:
			// "NaN", "Infinity" and "-Infinity"
			return strconv.ParseFloat(v, 64)
		default:
			return nil, fmt.Errorf("cannot convert %T to float64 for type %s", val, sparkType)
		}

	case "boolean":
		if b, ok := val.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("cannot convert %T to bool for type %s", val, sparkType)

	case "string":
		if s, ok := val.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", val), nil

	case "decimal":
		// Kept as text so precision survives.
		switch v := val.(type) {
		case string:
			return v, nil
		case json.Number:
			return v.String(), nil
		default:
			return fmt.Sprintf("%v", val), nil
		}

	case "date":
		if s, ok := val.(string); ok {
			return time.Parse(time.DateOnly, s)
		}
		return nil, fmt.Errorf("cannot convert %T to date", val)

	case "timestamp", "timestamp_ntz":
		if s, ok := val.(string); ok {
			return parseTimestamp(s)
		}
		return nil, fmt.Errorf("cannot convert %T to timestamp", val)

	case "binary":
		if s, ok := val.(string); ok {
			return base64.StdEncoding.DecodeString(s)
		}
		return nil, fmt.Errorf("cannot convert %T to binary", val)

	default:
		// array, map, struct and unknown types
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}

// parseTimestamp parses the str() form of a Python datetime, with or
// without fractional seconds and UTC offset.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02T15:04:05.999999999",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp %q", s)
}
