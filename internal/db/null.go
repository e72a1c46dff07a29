package db

import "database/sql"

// NullInt64ToPtr converts a sql.NullInt64 to *int64.
func NullInt64ToPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return &n.Int64
}

// NullInt64Value returns the int64 value or 0 if not valid.
func NullInt64Value(n sql.NullInt64) int64 {
	if !n.Valid {
		return 0
	}
	return n.Int64
}

// NullStringValue returns the string value or empty string if not valid.
func NullStringValue(n sql.NullString) string {
	if !n.Valid {
		return ""
	}
	return n.String
}

// IntOrNull maps zero to NULL. Tag readers report missing numbers as 0.
func IntOrNull(n int) any {
	if n == 0 {
		return nil
	}
	return int64(n)
}

// StringOrNull maps the empty string to NULL.
func StringOrNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// PtrOrNull dereferences p, or yields NULL for a nil pointer.
func PtrOrNull(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
