// Package sqlsplit splits SQL scripts into individual statements.
//
// Semicolons terminate a statement only at the top level: semicolons inside
// single-quoted strings, double-quoted identifiers, dollar-quoted bodies and
// comments are kept as part of the statement.
package sqlsplit

import "strings"

// Split returns the trimmed statements of script in order, without their
// terminating semicolons. Fragments that are empty or hold nothing but
// comments are dropped. Split never fails: unbalanced quotes swallow the
// rest of the input into the last statement.
func Split(script string) []string {
	s := splitter{src: script}
	s.run()
	return s.statements
}

type splitter struct {
	src        string
	pos        int
	start      int
	hasCode    bool
	statements []string
}

func (s *splitter) run() {
	for s.pos < len(s.src) {
		ch := s.src[s.pos]

		switch {
		case ch == ';':
			s.flush(s.pos)
			s.pos++
			s.start = s.pos
		case ch == '-' && s.peek(1) == '-':
			s.skipLineComment()
		case ch == '/' && s.peek(1) == '*':
			s.skipBlockComment()
		case ch == '\'':
			s.hasCode = true
			s.skipQuoted('\'', s.backslashEscapes())
		case ch == '"':
			s.hasCode = true
			s.skipQuoted('"', false)
		case ch == '$':
			s.hasCode = true
			if tag, ok := s.dollarTag(); ok {
				s.skipDollarQuoted(tag)
			} else {
				s.pos++
			}
		default:
			if !isSpace(ch) {
				s.hasCode = true
			}
			s.pos++
		}
	}

	s.flush(len(s.src))
}

func (s *splitter) flush(end int) {
	stmt := strings.TrimSpace(s.src[s.start:end])
	if stmt != "" && s.hasCode {
		s.statements = append(s.statements, stmt)
	}
	s.hasCode = false
}

func (s *splitter) peek(offset int) byte {
	if s.pos+offset >= len(s.src) {
		return 0
	}
	return s.src[s.pos+offset]
}

func (s *splitter) skipLineComment() {
	end := strings.IndexByte(s.src[s.pos:], '\n')
	if end < 0 {
		s.pos = len(s.src)
		return
	}
	s.pos += end + 1
}

// block comments nest in Postgres
func (s *splitter) skipBlockComment() {
	depth := 0
	for s.pos < len(s.src) {
		switch {
		case s.src[s.pos] == '/' && s.peek(1) == '*':
			depth++
			s.pos += 2
		case s.src[s.pos] == '*' && s.peek(1) == '/':
			depth--
			s.pos += 2
			if depth == 0 {
				return
			}
		default:
			s.pos++
		}
	}
}

// skipQuoted consumes a quoted token starting at s.pos. A doubled quote
// character is an escaped quote.
func (s *splitter) skipQuoted(quote byte, backslash bool) {
	s.pos++
	for s.pos < len(s.src) {
		ch := s.src[s.pos]
		switch {
		case backslash && ch == '\\':
			s.pos += 2
		case ch == quote && s.peek(1) == quote:
			s.pos += 2
		case ch == quote:
			s.pos++
			return
		default:
			s.pos++
		}
	}
	if s.pos > len(s.src) {
		s.pos = len(s.src)
	}
}

// backslashEscapes reports whether the quote at s.pos opens an E'...' string.
func (s *splitter) backslashEscapes() bool {
	if s.pos == 0 {
		return false
	}
	prev := s.src[s.pos-1]
	if prev != 'E' && prev != 'e' {
		return false
	}
	return s.pos == 1 || !isIdentChar(s.src[s.pos-2])
}

// dollarTag returns the $tag$ or $$ delimiter starting at s.pos. Positional
// parameters ($1) and identifiers containing $ are not tags.
func (s *splitter) dollarTag() (string, bool) {
	if s.pos > 0 && isIdentChar(s.src[s.pos-1]) {
		return "", false
	}

	end := s.pos + 1
	for end < len(s.src) && s.src[end] != '$' {
		ch := s.src[end]
		if !isIdentChar(ch) || (end == s.pos+1 && isDigit(ch)) {
			return "", false
		}
		end++
	}
	if end >= len(s.src) {
		return "", false
	}

	return s.src[s.pos : end+1], true
}

func (s *splitter) skipDollarQuoted(tag string) {
	s.pos += len(tag)
	closing := strings.Index(s.src[s.pos:], tag)
	if closing < 0 {
		s.pos = len(s.src)
		return
	}
	s.pos += closing + len(tag)
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f' || ch == '\v'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentChar(ch byte) bool {
	return ch == '_' || isDigit(ch) || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch >= 0x80
}
