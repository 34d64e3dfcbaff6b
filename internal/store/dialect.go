package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
)

// dialect captures the SQL differences between the sqlite and postgres
// backends. Both keep each record's fields in a single JSON column.
type dialect struct {
	name     string
	driver   string
	jsonType string

	placeholder func(n int) string
	quote       func(ident string) string

	// jsonParam wraps a placeholder holding a JSON document.
	jsonParam func(ph string) string
	// fieldPath is the argument that addresses a top-level field.
	fieldPath func(field string) string
	// fieldText extracts a top-level field as text given the placeholder
	// carrying fieldPath.
	fieldText func(ph string) string
}

var postgresDialect = dialect{
	name:        "postgres",
	driver:      "postgres",
	jsonType:    "JSONB",
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	quote:       pq.QuoteIdentifier,
	jsonParam:   func(ph string) string { return ph + "::jsonb" },
	fieldPath:   func(field string) string { return field },
	fieldText:   func(ph string) string { return "data->>(" + ph + "::text)" },
}

var sqliteDialect = dialect{
	name:        "sqlite",
	driver:      "sqlite",
	jsonType:    "TEXT",
	placeholder: func(int) string { return "?" },
	quote: func(ident string) string {
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	},
	jsonParam: func(ph string) string { return "json(" + ph + ")" },
	fieldPath: func(field string) string { return "$." + field },
	fieldText: func(ph string) string { return "json_extract(data, " + ph + ")" },
}

func dialectFor(name string) (dialect, error) {
	switch name {
	case "postgres", "postgresql":
		return postgresDialect, nil
	case "sqlite", "sqlite3":
		return sqliteDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported sql dialect %q", name)
	}
}

// query accumulates SQL text and numbered arguments.
type query struct {
	d    dialect
	sb   strings.Builder
	args []any
}

func (q *query) write(parts ...string) *query {
	for _, p := range parts {
		q.sb.WriteString(p)
	}
	return q
}

// arg appends a bound argument and returns its placeholder.
func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return q.d.placeholder(len(q.args))
}

func (q *query) String() string { return q.sb.String() }

// mergeExpr builds the expression that overwrites the given top-level fields
// of the data column. Postgres concatenates JSONB objects; sqlite sets each
// path in turn. Field order is sorted so statements are stable.
func (q *query) mergeExpr(fields map[string]json.RawMessage) (string, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "data", nil
	}

	if q.d.name == "postgres" {
		patch := make(map[string]json.RawMessage, len(fields))
		for _, name := range names {
			patch[name] = fields[name]
		}
		payload, err := json.Marshal(patch)
		if err != nil {
			return "", err
		}
		return "data || " + q.d.jsonParam(q.arg(string(payload))), nil
	}

	var expr strings.Builder
	expr.WriteString("json_set(data")
	for _, name := range names {
		expr.WriteString(", ")
		expr.WriteString(q.arg(q.d.fieldPath(name)))
		expr.WriteString(", ")
		expr.WriteString(q.d.jsonParam(q.arg(string(fields[name]))))
	}
	expr.WriteString(")")
	return expr.String(), nil
}

func (d dialect) migrations(table string) []string {
	t := d.quote(table)
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	data %s NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (collection, id)
)`, t, d.jsonType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (collection, created_at)`,
			d.quote(table+"_collection_created_idx"), t),
	}
}
