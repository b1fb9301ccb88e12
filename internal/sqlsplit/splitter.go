// Package sqlsplit splits streamed SQL text into individual statements.
//
// A statement ends at a semicolon outside single, double or backtick quotes.
// Backslash escapes inside quotes are honoured. Comment lines (-- and #)
// between statements are dropped, as are empty statements and statements
// that begin with a block comment. MySQL executable comments (/*!...*/) are
// kept since dumps rely on them.
package sqlsplit

import (
	"bufio"
	"io"
	"strings"
)

const readBufferSize = 8 * 1024

// Splitter is a streaming statement splitter. Its state carries over between
// Feed calls, so input may be cut at any byte.
type Splitter struct {
	buf           strings.Builder
	quote         byte
	escaped       bool
	atStart       bool
	inLineComment bool
	pendingDash   bool
}

// New returns a Splitter positioned at the start of a statement
func New() *Splitter {
	return &Splitter{atStart: true}
}

// Feed consumes chunk and returns the statements it completed, each trimmed
// and ending with its semicolon.
func (s *Splitter) Feed(chunk []byte) []string {
	var out []string

	for i := 0; i < len(chunk); i++ {
		c := chunk[i]

		if s.inLineComment {
			if c == '\n' {
				s.inLineComment = false
			}
			continue
		}

		if s.pendingDash {
			s.pendingDash = false
			if c == '-' {
				s.inLineComment = true
				continue
			}
			s.atStart = false
			s.buf.WriteByte('-')
		}

		if s.atStart {
			switch c {
			case ' ', '\t', '\r', '\n':
				continue
			case '#':
				s.inLineComment = true
				continue
			case '-':
				s.pendingDash = true
				continue
			}
			s.atStart = false
		}

		if s.quote != 0 {
			s.buf.WriteByte(c)
			switch {
			case s.escaped:
				s.escaped = false
			case c == '\\':
				s.escaped = true
			case c == s.quote:
				s.quote = 0
			}
			continue
		}

		switch c {
		case '\'', '"', '`':
			s.quote = c
			s.buf.WriteByte(c)
		case ';':
			s.buf.WriteByte(c)
			if stmt, ok := s.take(); ok {
				out = append(out, stmt)
			}
		default:
			s.buf.WriteByte(c)
		}
	}

	return out
}

// take resets the buffer and reports whether it held a statement worth
// executing
func (s *Splitter) take() (string, bool) {
	stmt := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	s.atStart = true

	if stmt == "" || stmt == ";" {
		return "", false
	}
	if strings.HasPrefix(stmt, "/*") && !strings.HasPrefix(stmt, "/*!") {
		return "", false
	}
	return stmt, true
}

// Flush returns any unterminated trailing text and resets the splitter. The
// text is never executed; callers report it.
func (s *Splitter) Flush() string {
	rest := s.buf.String()
	if s.pendingDash {
		rest += "-"
	}
	*s = Splitter{atStart: true}
	return strings.TrimSpace(rest)
}

// Split splits a complete SQL text. The second value is the unterminated
// remainder, if any.
func Split(sql string) ([]string, string) {
	s := New()
	stmts := s.Feed([]byte(sql))
	return stmts, s.Flush()
}

// SplitReader streams r through a Splitter and calls fn for every statement.
// It stops at the first error from fn. The unterminated remainder is
// returned.
func SplitReader(r io.Reader, fn func(string) error) (string, error) {
	s := New()
	reader := bufio.NewReaderSize(r, readBufferSize)
	buf := make([]byte, readBufferSize)

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			for _, stmt := range s.Feed(buf[:n]) {
				if ferr := fn(stmt); ferr != nil {
					return "", ferr
				}
			}
		}
		if err == io.EOF {
			return s.Flush(), nil
		}
		if err != nil {
			return "", err
		}
	}
}
