package migrate

import "strings"

// splitStatements cuts a migration script at top-level semicolons.
// Semicolons inside quotes or comments do not end a statement, and pieces
// holding nothing but comments are dropped.
func splitStatements(script string) []string {
	var (
		out   []string
		start int
	)
	emit := func(end int) {
		if s := strings.TrimSpace(script[start:end]); stripComments(s) != "" {
			out = append(out, s)
		}
	}

	for i := 0; i < len(script); i++ {
		switch ch := script[i]; {
		case ch == '\'' || ch == '"' || ch == '`':
			i = skipQuoted(script, i+1, ch) - 1
		case ch == '-' && strings.HasPrefix(script[i:], "--"):
			if nl := strings.IndexByte(script[i:], '\n'); nl >= 0 {
				i += nl
			} else {
				i = len(script)
			}
		case ch == '/' && strings.HasPrefix(script[i:], "/*"):
			if end := strings.Index(script[i+2:], "*/"); end >= 0 {
				i += end + 3
			} else {
				i = len(script)
			}
		case ch == ';':
			emit(i)
			start = i + 1
		}
	}
	if start < len(script) {
		emit(len(script))
	}
	return out
}

func skipQuoted(s string, from int, quote byte) int {
	for j := from; j < len(s); j++ {
		if s[j] != quote {
			continue
		}
		if j+1 < len(s) && s[j+1] == quote {
			j++
			continue
		}
		return j + 1
	}
	return len(s)
}

// stripComments removes leading comment lines and blocks.
func stripComments(s string) string {
	for {
		s = strings.TrimSpace(s)
		switch {
		case strings.HasPrefix(s, "--"):
			nl := strings.IndexByte(s, '\n')
			if nl < 0 {
				return ""
			}
			s = s[nl+1:]
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s, "*/")
			if end < 0 {
				return ""
			}
			s = s[end+2:]
		default:
			return s
		}
	}
}
