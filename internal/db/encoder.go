package db

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// The sqlite driver has been seen to shift values between columns when one
// statement binds a mix of text, integer and blob parameters. Every statement
// is therefore classified by the shape of its arguments: uniform statements
// are bound natively, mixed ones are rendered as escaped literal SQL, and
// blobs only ever travel alone (see Guard.WriteBlobs).

// nativeThreshold is the argument count below which a statement without
// blobs is always bound natively.
const nativeThreshold = 2

// ErrEncoding is matched by every *EncodingError.
var ErrEncoding = errors.New("cannot encode statement")

// EncodingError rejects a single statement whose arguments cannot be
// rendered safely. Arg is -1 when the problem is not tied to one argument.
type EncodingError struct {
	Arg    int
	Reason string
}

func (e *EncodingError) Error() string {
	if e.Arg < 0 {
		return "encode statement: " + e.Reason
	}
	return fmt.Sprintf("encode statement: argument %d: %s", e.Arg, e.Reason)
}

func (e *EncodingError) Unwrap() error { return ErrEncoding }

// Statement is ready to hand to the driver.
type Statement struct {
	Query   string
	Args    []any
	Literal bool // arguments were inlined into Query
}

type category int

const (
	catNull category = iota
	catText
	catInteger
	catReal
	catBlob
)

func (c category) String() string {
	switch c {
	case catNull:
		return "null"
	case catText:
		return "text"
	case catInteger:
		return "integer"
	case catReal:
		return "real"
	case catBlob:
		return "blob"
	}
	return "unknown"
}

// Encode classifies args and returns either a natively bound statement or
// one with every argument inlined as a literal.
func Encode(query string, args ...any) (Statement, error) {
	values := make([]any, len(args))
	cats := make([]category, len(args))
	seen := make(map[category]bool)
	for i, a := range args {
		v, c, err := normalize(a)
		if err != nil {
			return Statement{}, &EncodingError{Arg: i, Reason: err.Error()}
		}
		values[i], cats[i] = v, c
		if c != catNull {
			seen[c] = true
		}
	}

	if seen[catBlob] && len(seen) > 1 {
		return Statement{}, &EncodingError{Arg: -1, Reason: "blob mixed with other argument types"}
	}
	if len(seen) <= 1 || (len(args) < nativeThreshold && !seen[catBlob]) {
		return Statement{Query: query, Args: values}, nil
	}

	q, err := inline(query, values, cats)
	if err != nil {
		return Statement{}, err
	}
	return Statement{Query: q, Literal: true}, nil
}

// Literal renders a single value the way Encode would inline it.
func Literal(v any) (string, error) {
	nv, c, err := normalize(v)
	if err != nil {
		return "", &EncodingError{Arg: 0, Reason: err.Error()}
	}
	if c == catBlob {
		return "", &EncodingError{Arg: 0, Reason: "blobs have no literal form"}
	}
	return render(nv, c), nil
}

var valuerType = reflect.TypeFor[driver.Valuer]()

func normalize(a any) (any, category, error) {
	if a == nil {
		return nil, catNull, nil
	}
	switch v := a.(type) {
	case string:
		return checkText(v)
	case []byte:
		if v == nil {
			return nil, catNull, nil
		}
		return v, catBlob, nil
	case bool:
		if v {
			return int64(1), catInteger, nil
		}
		return int64(0), catInteger, nil
	case int64:
		return v, catInteger, nil
	case int:
		return int64(v), catInteger, nil
	case float64:
		return checkReal(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), catText, nil
	}

	rv := reflect.ValueOf(a)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, catNull, nil
		}
		if !rv.Type().Implements(valuerType) {
			return normalize(rv.Elem().Interface())
		}
	}
	if valuer, ok := a.(driver.Valuer); ok {
		v, err := valuer.Value()
		if err != nil {
			return nil, catNull, err
		}
		return normalize(v)
	}

	switch rv.Kind() {
	case reflect.String:
		return checkText(rv.String())
	case reflect.Bool:
		return normalize(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), catInteger, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, catNull, fmt.Errorf("unsigned value %d overflows int64", u)
		}
		return int64(u), catInteger, nil
	case reflect.Float32, reflect.Float64:
		return checkReal(rv.Float())
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return normalize(rv.Bytes())
		}
	}
	return nil, catNull, fmt.Errorf("unsupported type %T", a)
}

func checkText(s string) (any, category, error) {
	if !utf8.ValidString(s) {
		return nil, catNull, errors.New("text is not valid UTF-8")
	}
	if strings.IndexByte(s, 0) >= 0 {
		return nil, catNull, errors.New("text contains a NUL byte")
	}
	return s, catText, nil
}

func checkReal(f float64) (any, category, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, catNull, fmt.Errorf("real value %v has no SQL form", f)
	}
	return f, catReal, nil
}

func render(v any, c category) string {
	switch c {
	case catText:
		return "'" + strings.ReplaceAll(v.(string), "'", "''") + "'"
	case catInteger:
		return strconv.FormatInt(v.(int64), 10)
	case catReal:
		s := strconv.FormatFloat(v.(float64), 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	}
	return "NULL"
}

// inline replaces each ? placeholder outside quotes, identifiers and
// comments with the matching rendered argument.
func inline(query string, values []any, cats []category) (string, error) {
	var b strings.Builder
	b.Grow(len(query) + 16*len(values))

	next := 0
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			end := closing(query, i+1, ch)
			b.WriteString(query[i:end])
			i = end - 1
		case ch == '[':
			end := strings.IndexByte(query[i:], ']')
			if end < 0 {
				end = len(query) - i - 1
			}
			b.WriteString(query[i : i+end+1])
			i += end
		case ch == '-' && strings.HasPrefix(query[i:], "--"):
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				end = len(query) - i - 1
			}
			b.WriteString(query[i : i+end+1])
			i += end
		case ch == '/' && strings.HasPrefix(query[i:], "/*"):
			end := strings.Index(query[i+2:], "*/")
			stop := len(query)
			if end >= 0 {
				stop = i + 2 + end + 2
			}
			b.WriteString(query[i:stop])
			i = stop - 1
		case ch == '?':
			if i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				return "", &EncodingError{Arg: -1, Reason: "numbered placeholders are not supported"}
			}
			if next >= len(values) {
				return "", &EncodingError{Arg: -1, Reason: fmt.Sprintf("more placeholders than the %d arguments", len(values))}
			}
			b.WriteString(render(values[next], cats[next]))
			next++
		default:
			b.WriteByte(ch)
		}
	}
	if next != len(values) {
		return "", &EncodingError{Arg: -1, Reason: fmt.Sprintf("%d placeholders for %d arguments", next, len(values))}
	}
	return b.String(), nil
}

// closing returns the index just past the quote that closes a quoted run
// starting at from. A doubled quote is an escaped one.
func closing(query string, from int, quote byte) int {
	for j := from; j < len(query); j++ {
		if query[j] != quote {
			continue
		}
		if j+1 < len(query) && query[j+1] == quote {
			j++
			continue
		}
		return j + 1
	}
	return len(query)
}
