// Package sqlshape validates the statement-level shape of raw SQL used
// by SQL-source nodes. It is not a SQL parser: it only answers whether a
// text is safely a single SELECT-family statement with an optional
// module-include prologue, and provides the placeholder substitution
// used when splicing sub-queries into raw SQL.
package sqlshape

import (
	"fmt"
	"strings"
	"unicode"
)

// Statement is one semicolon-terminated statement of the input, with
// comments intact and positions discarded.
type Statement struct {
	// Text is the statement text without the trailing semicolon,
	// trimmed of surrounding whitespace.
	Text string
	// Keyword is the first bare word of the statement, upper-cased.
	Keyword string
}

// SplitStatements splits SQL text into statements on top-level
// semicolons, ignoring semicolons inside string literals and comments.
// Empty statements are dropped.
func SplitStatements(sql string) []Statement {
	var stmts []Statement
	var start int
	s := scanner{src: sql}
	for !s.eof() {
		switch {
		case s.consumeComment():
		case s.consumeString():
		case s.peek() == ';':
			if stmt, ok := makeStatement(sql[start:s.pos]); ok {
				stmts = append(stmts, stmt)
			}
			s.pos++
			start = s.pos
		default:
			s.pos++
		}
	}
	if stmt, ok := makeStatement(sql[start:]); ok {
		stmts = append(stmts, stmt)
	}
	return stmts
}

func makeStatement(text string) (Statement, bool) {
	kw := firstKeyword(text)
	if kw == "" {
		return Statement{}, false
	}
	return Statement{Text: strings.TrimSpace(text), Keyword: kw}, true
}

// firstKeyword returns the first bare word of the statement, skipping
// comments, upper-cased. Empty when the text holds no word at all.
func firstKeyword(text string) string {
	s := scanner{src: text}
	for !s.eof() {
		if s.consumeComment() {
			continue
		}
		c := s.peek()
		if unicode.IsSpace(rune(c)) {
			s.pos++
			continue
		}
		break
	}
	start := s.pos
	for !s.eof() && isWordByte(s.peek()) {
		s.pos++
	}
	return strings.ToUpper(s.src[start:s.pos])
}

// ValidateQueryShape checks that the text consists of zero or more
// leading INCLUDE PERFETTO MODULE statements followed by exactly one
// statement beginning with SELECT or WITH. Set operators joining further
// SELECTs are part of that same statement and are therefore permitted.
func ValidateQueryShape(sql string) error {
	if strings.TrimSpace(sql) == "" {
		return fmt.Errorf("query is empty")
	}

	stmts := SplitStatements(sql)
	if len(stmts) == 0 {
		return fmt.Errorf("query contains no statements")
	}

	seenQuery := false
	for _, stmt := range stmts {
		if seenQuery {
			return fmt.Errorf("unexpected %q statement after the query; only a single SELECT statement is allowed", stmt.Keyword)
		}
		switch stmt.Keyword {
		case "INCLUDE":
			if err := validateInclude(stmt); err != nil {
				return err
			}
		case "SELECT", "WITH":
			seenQuery = true
		default:
			return fmt.Errorf("statement starting with %q is not allowed; only INCLUDE PERFETTO MODULE and a single SELECT statement are supported", stmt.Keyword)
		}
	}
	if !seenQuery {
		return fmt.Errorf("query must contain a SELECT statement")
	}
	return nil
}

func validateInclude(stmt Statement) error {
	fields := strings.Fields(stmt.Text)
	if len(fields) < 3 ||
		!strings.EqualFold(fields[0], "INCLUDE") ||
		!strings.EqualFold(fields[1], "PERFETTO") ||
		!strings.EqualFold(fields[2], "MODULE") {
		return fmt.Errorf("malformed include statement %q; expected INCLUDE PERFETTO MODULE <name>", stmt.Text)
	}
	if len(fields) != 4 {
		return fmt.Errorf("malformed include statement %q; expected a single module name", stmt.Text)
	}
	return nil
}

// SplitPreamble splits the text into the module-include prologue and the
// final query statement. It assumes the text already passed
// ValidateQueryShape; on malformed input the whole text is returned as
// the body.
func SplitPreamble(sql string) (preamble, body string) {
	stmts := SplitStatements(sql)
	if len(stmts) == 0 {
		return "", strings.TrimSpace(sql)
	}
	last := stmts[len(stmts)-1]
	if len(stmts) == 1 {
		return "", last.Text
	}
	var pre []string
	for _, stmt := range stmts[:len(stmts)-1] {
		pre = append(pre, stmt.Text+";")
	}
	return strings.Join(pre, "\n"), last.Text
}

// IncludedModules returns the module names of the INCLUDE PERFETTO
// MODULE statements in the text, in order.
func IncludedModules(sql string) []string {
	var modules []string
	for _, stmt := range SplitStatements(sql) {
		if stmt.Keyword != "INCLUDE" {
			continue
		}
		fields := strings.Fields(stmt.Text)
		if len(fields) == 4 {
			modules = append(modules, fields[3])
		}
	}
	return modules
}

// Placeholders returns the distinct $name placeholder tokens appearing
// outside strings and comments, without the leading dollar sign, in
// first-appearance order.
func Placeholders(sql string) []string {
	var names []string
	seen := make(map[string]struct{})
	s := scanner{src: sql}
	for !s.eof() {
		switch {
		case s.consumeComment():
		case s.consumeString():
		case s.peek() == '$':
			s.pos++
			start := s.pos
			for !s.eof() && isWordByte(s.peek()) {
				s.pos++
			}
			name := s.src[start:s.pos]
			if name == "" {
				continue
			}
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		default:
			s.pos++
		}
	}
	return names
}

// SubstitutePlaceholders replaces $name tokens outside strings and
// comments with their replacement text. Unknown placeholders are left
// untouched.
func SubstitutePlaceholders(sql string, repl map[string]string) string {
	var b strings.Builder
	b.Grow(len(sql))
	s := scanner{src: sql}
	for !s.eof() {
		start := s.pos
		switch {
		case s.consumeComment(), s.consumeString():
			b.WriteString(s.src[start:s.pos])
		case s.peek() == '$':
			s.pos++
			nameStart := s.pos
			for !s.eof() && isWordByte(s.peek()) {
				s.pos++
			}
			name := s.src[nameStart:s.pos]
			if r, ok := repl[name]; ok {
				b.WriteString(r)
			} else {
				b.WriteString(s.src[start:s.pos])
			}
		default:
			b.WriteByte(s.peek())
			s.pos++
		}
	}
	return b.String()
}

// scanner walks SQL text byte by byte, treating string literals and
// comments as opaque.
type scanner struct {
	src string
	pos int
}

func (s *scanner) eof() bool { return s.pos >= len(s.src) }

func (s *scanner) peek() byte { return s.src[s.pos] }

func (s *scanner) peekAt(off int) (byte, bool) {
	if s.pos+off >= len(s.src) {
		return 0, false
	}
	return s.src[s.pos+off], true
}

// consumeComment consumes a -- line comment or /* */ block comment.
func (s *scanner) consumeComment() bool {
	next, ok := s.peekAt(1)
	if !ok {
		return false
	}
	switch {
	case s.peek() == '-' && next == '-':
		for !s.eof() && s.peek() != '\n' {
			s.pos++
		}
		return true
	case s.peek() == '/' && next == '*':
		s.pos += 2
		for !s.eof() {
			if s.peek() == '*' {
				if c, ok := s.peekAt(1); ok && c == '/' {
					s.pos += 2
					return true
				}
			}
			s.pos++
		}
		return true
	}
	return false
}

// consumeString consumes a single- or double-quoted literal, honoring
// doubled-quote escapes.
func (s *scanner) consumeString() bool {
	quote := s.peek()
	if quote != '\'' && quote != '"' {
		return false
	}
	s.pos++
	for !s.eof() {
		if s.peek() == quote {
			if c, ok := s.peekAt(1); ok && c == quote {
				s.pos += 2
				continue
			}
			s.pos++
			return true
		}
		s.pos++
	}
	return true
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
