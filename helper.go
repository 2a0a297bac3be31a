package glue

import (
	"strings"
)

// PySparkMarker at the start of a cursor statement sends the text to the
// session as Python instead of wrapping it as SQL.
const PySparkMarker = "--pyspark"

// HelperProgram is installed into every session before the first cursor
// statement. SqlWrapper2.execute runs a SQL string; for a ';' separated batch
// it runs every part but the last silently and prints only the last part's
// envelope. Struct values become JSON objects, binary values base64 text and
// non-finite floats the strings "NaN", "Infinity" and "-Infinity". Other
// values Python's json module cannot encode (dates, decimals) are printed
// with str().
const HelperProgram = `
import base64
import json
import math


def _plain(value):
    if isinstance(value, dict):
        return {k: _plain(v) for k, v in value.items()}
    if isinstance(value, (list, tuple)):
        return [_plain(v) for v in value]
    if isinstance(value, (bytes, bytearray)):
        return base64.b64encode(bytes(value)).decode("ascii")
    if isinstance(value, float) and not math.isfinite(value):
        if math.isnan(value):
            return "NaN"
        return "Infinity" if value > 0 else "-Infinity"
    return value


class SqlWrapper2:
    @classmethod
    def execute(cls, sql, output=True):
        parts = [p for p in sql.split(";") if p.strip()]
        if len(parts) > 1:
            for p in parts[:-1]:
                cls.execute(p, output=False)
            return cls.execute(parts[-1], output=output)
        if not parts:
            return None

        df = spark.sql(parts[0])
        if not len(df.schema.fields):
            envelope = {"type": "results", "sql": parts[0], "schema": None, "results": None}
        else:
            records = []
            for row in df.collect():
                records.append({"type": "record", "data": _plain(row.asDict(recursive=True))})
            envelope = {
                "type": "results",
                "rowcount": len(records),
                "results": records,
                "description": [{"name": f.name, "type": f.dataType.simpleString()} for f in df.schema],
            }
        encoded = json.dumps(envelope, default=str, allow_nan=False)
        if output:
            print(encoded)
            return None
        return encoded
`

// useDatabaseCode selects the default database for the session.
func useDatabaseCode(database string) string {
	return `spark.sql("use ` + escapePython(database) + `")`
}

// WrapSQL turns cursor text into session code. Text starting with
// PySparkMarker is passed through unchanged.
func WrapSQL(sql string) string {
	if isPySpark(sql) {
		return sql
	}
	return `SqlWrapper2.execute("""` + escapePython(sql) + `""")`
}

func isPySpark(sql string) bool {
	return strings.HasPrefix(strings.TrimSpace(sql), PySparkMarker)
}

// escapePython escapes text for a double-quoted Python string literal,
// including triple-quoted ones.
func escapePython(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return r.Replace(s)
}
