package codec

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxFileSize bounds the input accepted by Parse. Snapshot files are small
// configuration files; anything larger is almost certainly a mistake.
const MaxFileSize = 1 << 20

// quoteTriggers lists the characters that force a value to be quoted when
// serializing.
const quoteTriggers = " \"'#$\\"

// ParseError describes a malformed snapshot file. Line is 1-based; 0 means
// the failure concerns the whole input rather than a single line.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("parse error: %s", e.Reason)
	}
	return fmt.Sprintf("parse error at line %d: %s", e.Line, e.Reason)
}

// Parse decodes a snapshot file. It never returns a partial result: the
// input either parses fully or a ParseError is returned.
func Parse(data []byte) (*Snapshot, error) {
	if len(data) > MaxFileSize {
		return nil, &ParseError{Reason: fmt.Sprintf("input exceeds %d bytes", MaxFileSize)}
	}
	if !utf8.Valid(data) {
		return nil, &ParseError{Reason: "input is not valid UTF-8"}
	}

	snapshot := NewSnapshot()
	lines := strings.Split(string(data), "\n")

	for i := 0; i < len(lines); i++ {
		lineNo := i + 1
		line := strings.TrimSuffix(lines[i], "\r")

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, &ParseError{Line: lineNo, Reason: "missing '=' separator"}
		}

		key := strings.TrimSpace(line[:idx])
		if key == "" {
			return nil, &ParseError{Line: lineNo, Reason: "empty key"}
		}

		value := strings.TrimSpace(line[idx+1:])

		// Trailing backslash continues the value onto the next line.
		for strings.HasSuffix(value, "\\") && i+1 < len(lines) {
			i++
			next := strings.TrimSpace(strings.TrimSuffix(lines[i], "\r"))
			value = value[:len(value)-1] + next
		}

		snapshot.Set(VariableEntry{Key: key, Value: unquote(value)})
	}

	return snapshot, nil
}

// Stringify serializes a snapshot as one KEY=VALUE line per entry in the
// snapshot's insertion order.
func Stringify(s *Snapshot) string {
	var b strings.Builder
	for _, entry := range s.Entries() {
		b.WriteString(entry.Key)
		b.WriteByte('=')
		b.WriteString(quoteValue(entry.Value))
		b.WriteByte('\n')
	}
	return b.String()
}

// unquote strips surrounding matching quotes and, for double quotes,
// resolves \" and \\ escapes.
func unquote(value string) string {
	if len(value) < 2 {
		return value
	}
	first, last := value[0], value[len(value)-1]
	if first != last || (first != '"' && first != '\'') {
		return value
	}
	inner := value[1 : len(value)-1]
	if first == '\'' {
		return inner
	}

	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) && (inner[i+1] == '"' || inner[i+1] == '\\') {
			i++
		}
		b.WriteByte(inner[i])
	}
	return b.String()
}

// quoteValue wraps a value in double quotes when it contains characters that
// would be misread on re-parse, escaping embedded quotes and backslashes.
func quoteValue(value string) string {
	if !strings.ContainsAny(value, quoteTriggers) {
		return value
	}
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(value); i++ {
		if value[i] == '"' || value[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(value[i])
	}
	b.WriteByte('"')
	return b.String()
}
