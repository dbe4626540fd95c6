package sqlrewrite

import "strings"

// What the scanner blanks out.
type stripMode uint8

const (
	stripComments stripMode = 1 << iota
	stripStrings
	stripQuotedIdentifiers

	stripAll = stripComments | stripStrings | stripQuotedIdentifiers
)

// Sanitize replaces every string literal with an empty literal, every
// backtick-quoted identifier with an empty backtick pair, and every comment
// with nothing (a block comment becomes one space so that the tokens around
// it stay apart). Unterminated literals and comments are left as-is.
func Sanitize(sql string) string {
	return strip(sql, stripAll)
}

// StripCommentsAndStrings is Sanitize without touching backtick-quoted
// identifiers. Identifier lookups (partition keys, table paths) use it so
// that quoted names remain visible.
func StripCommentsAndStrings(sql string) string {
	return strip(sql, stripComments|stripStrings)
}

// scanner walks SQL text one byte at a time, copying everything that is not
// literal or comment content into out.
type scanner struct {
	input string
	pos   int
	mode  stripMode
	out   strings.Builder
}

func strip(sql string, mode stripMode) string {
	s := &scanner{input: sql, mode: mode}
	s.out.Grow(len(sql))
	s.run()
	return s.out.String()
}

func (s *scanner) peek(offset int) byte {
	if s.pos+offset >= len(s.input) {
		return 0
	}
	return s.input[s.pos+offset]
}

func (s *scanner) run() {
	for s.pos < len(s.input) {
		ch := s.input[s.pos]
		switch {
		case ch == '-' && s.peek(1) == '-':
			s.lineComment()
		case ch == '/' && s.peek(1) == '*':
			if !s.blockComment() {
				return
			}
		case ch == '\'' || ch == '"':
			if !s.quoted(ch, stripStrings) {
				return
			}
		case ch == '`':
			if !s.quoted(ch, stripQuotedIdentifiers) {
				return
			}
		default:
			s.out.WriteByte(ch)
			s.pos++
		}
	}
}

// lineComment consumes up to, but not including, the next newline.
func (s *scanner) lineComment() {
	end := strings.IndexByte(s.input[s.pos:], '\n')
	if end < 0 {
		end = len(s.input) - s.pos
	}
	if s.mode&stripComments == 0 {
		s.out.WriteString(s.input[s.pos : s.pos+end])
	}
	s.pos += end
}

// blockComment consumes a /* */ comment. It returns false when the comment
// is unterminated, after copying the remainder verbatim.
func (s *scanner) blockComment() bool {
	end := strings.Index(s.input[s.pos+2:], "*/")
	if end < 0 {
		s.out.WriteString(s.input[s.pos:])
		s.pos = len(s.input)
		return false
	}
	stop := s.pos + 2 + end + 2
	if s.mode&stripComments != 0 {
		s.out.WriteByte(' ')
	} else {
		s.out.WriteString(s.input[s.pos:stop])
	}
	s.pos = stop
	return true
}

// quoted consumes a literal delimited by q. A doubled delimiter and a
// backslash escape both stay inside the literal. It returns false when the
// literal is unterminated, after copying the remainder verbatim.
func (s *scanner) quoted(q byte, kind stripMode) bool {
	i := s.pos + 1
	for i < len(s.input) {
		c := s.input[i]
		if c == '\\' && q != '`' {
			i += 2
			continue
		}
		if c == q {
			if i+1 < len(s.input) && s.input[i+1] == q && q != '`' {
				i += 2
				continue
			}
			break
		}
		i++
	}
	if i >= len(s.input) {
		s.out.WriteString(s.input[s.pos:])
		s.pos = len(s.input)
		return false
	}
	if s.mode&kind != 0 {
		s.out.WriteByte(q)
		s.out.WriteByte(q)
	} else {
		s.out.WriteString(s.input[s.pos : i+1])
	}
	s.pos = i + 1
	return true
}
