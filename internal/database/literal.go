package database

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var literalEscaper = strings.NewReplacer(
	"\x00", "",
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
)

// Literal renders v as a MySQL literal: NULL, 1/0 for booleans, numbers as
// is and everything else as an escaped single-quoted string.
func Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case []byte:
		return quote(string(x))
	case string:
		return quote(x)
	case time.Time:
		return quote(x.Format("2006-01-02 15:04:05"))
	default:
		return quote(fmt.Sprint(x))
	}
}

func quote(s string) string {
	return "'" + literalEscaper.Replace(s) + "'"
}

// QuoteIdentifier backtick-quotes a table or column name
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// EscapeLike escapes the LIKE wildcards in s
func EscapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// InsertStatement renders one row as a single-row INSERT terminated by ";\n"
func InsertStatement(table string, columns []string, row []any) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(QuoteIdentifier(table))
	b.WriteString(" (")
	for i, col := range columns {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(QuoteIdentifier(col))
	}
	b.WriteString(") VALUES (")
	for i, v := range row {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(Literal(v))
	}
	b.WriteString(");\n")
	return b.String()
}

// SelectPage returns the query reading limit rows of table starting at offset
func SelectPage(table string, limit, offset int) string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d OFFSET %d", QuoteIdentifier(table), limit, offset)
}
