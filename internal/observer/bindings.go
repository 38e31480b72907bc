package observer

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var stringEscaper = strings.NewReplacer(
	"\x1a", `\Z`,
	"\x08", `\b`,
	`"`, `\"`,
	`'`, `\'`,
	`\`, `\\`,
)

// FormatBinding renders a bound value as a SQL literal for display.
func FormatBinding(v any) string {
	switch b := v.(type) {
	case nil:
		return "null"
	case string:
		return quote(b)
	case []byte:
		return quote(string(b))
	case int:
		return strconv.Itoa(b)
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(b)
	case float32:
		return strconv.FormatFloat(float64(b), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(b, 'f', -1, 64)
	case bool:
		if b {
			return "true"
		}
		return "false"
	case time.Time:
		return quote(b.Format("2006-01-02 15:04:05.999999"))
	case *time.Time:
		if b == nil {
			return "null"
		}
		return quote(b.Format("2006-01-02 15:04:05.999999"))
	case driver.Valuer:
		inner, err := b.Value()
		if err != nil {
			return quote(fmt.Sprint(v))
		}
		if _, again := inner.(driver.Valuer); again {
			return quote(fmt.Sprint(inner))
		}
		return FormatBinding(inner)
	default:
		return quote(fmt.Sprint(b))
	}
}

func quote(s string) string {
	return "'" + stringEscaper.Replace(s) + "'"
}

// SubstituteBindings replaces placeholders outside single-quoted literals with
// rendered binding values. Positional "?" markers consume bindings in order,
// "$n" markers index them from one and ":name" markers look up named. Markers
// without a matching value are left as they are.
func SubstituteBindings(query string, bindings []any, named map[string]any) string {
	if len(bindings) == 0 && len(named) == 0 {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16*len(bindings))

	inQuote := false
	next := 0
	for i := 0; i < len(query); i++ {
		c := query[i]

		if inQuote {
			b.WriteByte(c)
			switch c {
			case '\\':
				if i+1 < len(query) {
					i++
					b.WriteByte(query[i])
				}
			case '\'':
				inQuote = false
			}
			continue
		}

		switch {
		case c == '\'':
			inQuote = true
			b.WriteByte(c)

		case c == '?':
			if next < len(bindings) {
				b.WriteString(FormatBinding(bindings[next]))
				next++
			} else {
				b.WriteByte(c)
			}

		case c == '$' && i+1 < len(query) && isDigit(query[i+1]):
			j := i + 1
			for j < len(query) && isDigit(query[j]) {
				j++
			}
			n, _ := strconv.Atoi(query[i+1 : j])
			if n >= 1 && n <= len(bindings) {
				b.WriteString(FormatBinding(bindings[n-1]))
			} else {
				b.WriteString(query[i:j])
			}
			i = j - 1

		case c == ':' && len(named) > 0 && i+1 < len(query) && isIdentStart(query[i+1]) && (i == 0 || query[i-1] != ':'):
			j := i + 1
			for j < len(query) && isIdent(query[j]) {
				j++
			}
			if v, ok := named[query[i+1:j]]; ok {
				b.WriteString(FormatBinding(v))
			} else {
				b.WriteString(query[i:j])
			}
			i = j - 1

		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdent(c byte) bool { return isIdentStart(c) || isDigit(c) }
