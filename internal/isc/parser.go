package isc

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokString
	tokNumber   // integer or decimal
	tokDuration // digits with wdhms suffixes
	tokLBrace
	tokRBrace
	tokSemi
)

type token struct {
	kind tokenKind
	text string
	line int
}

type lexer struct {
	src  string
	pos  int
	line int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1}
}

func (l *lexer) errf(format string, args ...interface{}) error {
	return fmt.Errorf("line %d: %s", l.line, fmt.Sprintf(format, args...))
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.line++
			l.pos++
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '#':
			l.skipLine()
		case c == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '/':
			l.skipLine()
		case c == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '*':
			if err := l.skipBlockComment(); err != nil {
				return token{}, err
			}
		default:
			return l.scan()
		}
	}
	return token{kind: tokEOF, line: l.line}, nil
}

func (l *lexer) skipLine() {
	for l.pos < len(l.src) && l.src[l.pos] != '\n' {
		l.pos++
	}
}

func (l *lexer) skipBlockComment() error {
	l.pos += 2
	for l.pos+1 < len(l.src) {
		if l.src[l.pos] == '\n' {
			l.line++
		}
		if l.src[l.pos] == '*' && l.src[l.pos+1] == '/' {
			l.pos += 2
			return nil
		}
		l.pos++
	}
	return l.errf("unterminated block comment")
}

func (l *lexer) scan() (token, error) {
	c := l.src[l.pos]
	switch {
	case c == '{':
		l.pos++
		return token{kind: tokLBrace, line: l.line}, nil
	case c == '}':
		l.pos++
		return token{kind: tokRBrace, line: l.line}, nil
	case c == ';':
		l.pos++
		return token{kind: tokSemi, line: l.line}, nil
	case c == '"' || c == '\'':
		return l.scanString(c)
	case c == '-' || c == '+' || (c >= '0' && c <= '9'):
		return l.scanNumber()
	case isWordStart(rune(c)):
		return l.scanWord()
	}
	return token{}, l.errf("unexpected character %q", c)
}

func isWordStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func (l *lexer) scanString(quote byte) (token, error) {
	start := l.pos + 1
	i := start
	for i < len(l.src) {
		if l.src[i] == quote {
			tok := token{kind: tokString, text: l.src[start:i], line: l.line}
			l.pos = i + 1
			return tok, nil
		}
		if l.src[i] == '\n' {
			return token{}, l.errf("unterminated string")
		}
		i++
	}
	return token{}, l.errf("unterminated string")
}

func (l *lexer) scanNumber() (token, error) {
	start := l.pos
	i := l.pos
	if l.src[i] == '-' || l.src[i] == '+' {
		i++
	}
	sawDigit := false
	sawDot := false
	sawUnit := false
	for i < len(l.src) {
		c := l.src[i]
		switch {
		case c >= '0' && c <= '9':
			sawDigit = true
		case c == '.' && !sawDot && !sawUnit:
			sawDot = true
		case (c == 'w' || c == 'd' || c == 'h' || c == 'm' || c == 's') && !sawDot:
			sawUnit = true
		default:
			goto done
		}
		i++
	}
done:
	if !sawDigit {
		return token{}, l.errf("malformed number")
	}
	text := l.src[start:i]
	l.pos = i
	if sawUnit {
		return token{kind: tokDuration, text: text, line: l.line}, nil
	}
	return token{kind: tokNumber, text: text, line: l.line}, nil
}

func (l *lexer) scanWord() (token, error) {
	start := l.pos
	i := l.pos
	for i < len(l.src) && isWordRune(rune(l.src[i])) {
		i++
	}
	tok := token{kind: tokWord, text: l.src[start:i], line: l.line}
	l.pos = i
	return tok, nil
}

// Parse reads a full configuration into a list of top-level nodes.
func Parse(src string) ([]*Node, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	var nodes []*Node
	for p.cur.kind != tokEOF {
		n, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

type parser struct {
	lex *lexer
	cur token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) expect(kind tokenKind, what string) error {
	if p.cur.kind != kind {
		return fmt.Errorf("line %d: expected %s", p.cur.line, what)
	}
	return p.advance()
}

// parseNode reads one statement: KEY [LABEL] (VALUE ';' | '{' nodes '}' ';')
func (p *parser) parseNode() (*Node, error) {
	if p.cur.kind != tokWord {
		return nil, fmt.Errorf("line %d: expected a key", p.cur.line)
	}
	n := &Node{Key: p.cur.text}
	line := p.cur.line
	if err := p.advance(); err != nil {
		return nil, err
	}

	// optional quoted label before a block
	if p.cur.kind == tokString {
		label := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind == tokLBrace {
			n.Label = label
		} else {
			// it was a string value after all
			n.Kind = KindString
			n.Str = label
			return n, p.expect(tokSemi, "';'")
		}
	}

	switch p.cur.kind {
	case tokLBrace:
		if err := p.advance(); err != nil {
			return nil, err
		}
		n.Kind = KindBlock
		for p.cur.kind != tokRBrace {
			if p.cur.kind == tokEOF {
				return nil, fmt.Errorf("line %d: unterminated block %q", line, n.Key)
			}
			c, err := p.parseNode()
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, c)
		}
		if err := p.advance(); err != nil { // consume '}'
			return nil, err
		}
		return n, p.expect(tokSemi, "';' after block")

	case tokWord:
		// boolean words
		b, ok := parseBoolWord(p.cur.text)
		if !ok {
			return nil, fmt.Errorf("line %d: %s: unquoted value %q", p.cur.line, n.Key, p.cur.text)
		}
		n.Kind = KindBool
		n.Bool = b
		if err := p.advance(); err != nil {
			return nil, err
		}
		return n, p.expect(tokSemi, "';'")

	case tokNumber:
		text := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if strings.Contains(text, ".") {
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %v", line, n.Key, err)
			}
			n.Kind = KindFloat
			n.Float = f
		} else {
			i, err := strconv.ParseInt(text, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %v", line, n.Key, err)
			}
			n.Kind = KindInt
			n.Int = i
		}
		return n, p.expect(tokSemi, "';'")

	case tokDuration:
		d, err := timekeep.ParseDuration(p.cur.text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %v", line, n.Key, err)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		n.Kind = KindDuration
		n.Duration = d
		return n, p.expect(tokSemi, "';'")
	}

	return nil, fmt.Errorf("line %d: %s: expected a value or block", p.cur.line, n.Key)
}

func parseBoolWord(s string) (bool, bool) {
	switch s {
	case "true", "on", "yes":
		return true, true
	case "false", "off", "no":
		return false, true
	}
	return false, false
}
