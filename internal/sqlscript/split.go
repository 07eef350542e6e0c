// Package sqlscript splits SQL script files into executable statements.
//
// The generic splitter follows classic script-runner rules: lines starting
// with "--" or "//" are comments, a statement ends on a line whose last
// non-blank text is the delimiter (";" by default), and a comment of the form
// "-- @DELIMITER $$" switches the delimiter for the rest of the script.
// The postgres dialect defers to the PostgreSQL scanner so dollar-quoted
// bodies and string literals containing ";" are kept intact.
package sqlscript

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

type Dialect string

const (
	DialectGeneric  Dialect = "generic"
	DialectPostgres Dialect = "postgres"
)

const DefaultDelimiter = ";"

// Statement is one executable statement. Line is the 1-based line where the
// statement starts, 0 when unknown.
type Statement struct {
	Line int
	SQL  string
}

// Split reads the whole script and returns its statements in order.
func Split(r io.Reader, dialect Dialect) ([]Statement, error) {
	if dialect == DialectPostgres {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read script: %w", err)
		}
		return splitPostgres(string(data))
	}
	return splitLines(r)
}

func splitLines(r io.Reader) ([]Statement, error) {
	var (
		stmts     []Statement
		current   strings.Builder
		startLine int
		delimiter = DefaultDelimiter
		lineNo    int
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		if d, ok := delimiterDirective(trimmed); ok {
			delimiter = d
			continue
		}
		if isComment(trimmed) {
			continue
		}
		if trimmed == "" && current.Len() == 0 {
			continue
		}

		if current.Len() == 0 {
			startLine = lineNo
		}
		if strings.HasSuffix(trimmed, delimiter) {
			current.WriteString(strings.TrimSuffix(trimmed, delimiter))
			if sql := strings.TrimSpace(current.String()); sql != "" {
				stmts = append(stmts, Statement{Line: startLine, SQL: sql})
			}
			current.Reset()
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		return nil, fmt.Errorf("line %d: statement missing end-of-line terminator (%s): %s",
			startLine, delimiter, firstLine(rest))
	}
	return stmts, nil
}

func splitPostgres(script string) ([]Statement, error) {
	parts, err := pg_query.SplitWithScanner(script, true)
	if err != nil {
		return nil, fmt.Errorf("split script: %w", err)
	}
	stmts := make([]Statement, 0, len(parts))
	for _, part := range parts {
		if onlyComments(part) {
			continue
		}
		stmts = append(stmts, Statement{SQL: strings.TrimSpace(part)})
	}
	return stmts, nil
}

func delimiterDirective(trimmed string) (string, bool) {
	if !strings.HasPrefix(trimmed, "--") && !strings.HasPrefix(trimmed, "//") {
		return "", false
	}
	body := strings.TrimSpace(trimmed[2:])
	const directive = "@DELIMITER"
	if len(body) <= len(directive) || !strings.EqualFold(body[:len(directive)], directive) {
		return "", false
	}
	d := strings.TrimSpace(body[len(directive):])
	if d == "" {
		return "", false
	}
	return d, true
}

func isComment(trimmed string) bool {
	return strings.HasPrefix(trimmed, "--") || strings.HasPrefix(trimmed, "//")
}

func onlyComments(sql string) bool {
	for _, line := range strings.Split(sql, "\n") {
		t := strings.TrimSpace(line)
		if t != "" && !strings.HasPrefix(t, "--") {
			return false
		}
	}
	return true
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
