package expr

import (
	"regexp"
	"strconv"
	"strings"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

type lexer struct {
	src string
	pos int
}

// Tokenize converts an expression source string into tokens. The trailing
// token is always EOF.
func Tokenize(src string) ([]Token, error) {
	l := &lexer{src: src}

	var tokens []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Kind == TokenEOF {
			return tokens, nil
		}
	}
}

func (l *lexer) next() (Token, error) {
	l.skipWhitespace()

	start := l.pos
	if l.pos >= len(l.src) {
		return Token{Kind: TokenEOF, Start: start, End: start}, nil
	}

	c := l.src[l.pos]
	switch {
	case c >= '0' && c <= '9':
		return l.lexNumber()
	case c == '\'' || c == '"':
		return l.lexString()
	case isIdentStart(c):
		return l.lexIdentifier()
	case c == '#':
		return l.lexHashRef()
	case c == '@':
		return l.lexAt()
	}

	two := ""
	if l.pos+1 < len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}

	switch two {
	case "==":
		return l.emit(TokenEq, 2), nil
	case "!=":
		return l.emit(TokenNeq, 2), nil
	case "<=":
		return l.emit(TokenLte, 2), nil
	case ">=":
		return l.emit(TokenGte, 2), nil
	case "&&":
		return l.emit(TokenAnd, 2), nil
	case "||":
		return l.emit(TokenOr, 2), nil
	}

	single := map[byte]TokenKind{
		'.': TokenDot,
		',': TokenComma,
		'(': TokenLParen,
		')': TokenRParen,
		'[': TokenLBracket,
		']': TokenRBracket,
		'+': TokenPlus,
		'-': TokenMinus,
		'*': TokenStar,
		'/': TokenSlash,
		'%': TokenPercent,
		'<': TokenLt,
		'>': TokenGt,
		'!': TokenBang,
	}
	if kind, ok := single[c]; ok {
		return l.emit(kind, 1), nil
	}

	return Token{}, newParseErrorf(ParseUnexpectedToken, start, "unexpected character %q at offset %d", string(c), start)
}

func (l *lexer) emit(kind TokenKind, width int) Token {
	tok := Token{Kind: kind, Text: l.src[l.pos : l.pos+width], Start: l.pos, End: l.pos + width}
	l.pos += width
	return tok
}

func (l *lexer) skipWhitespace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func (l *lexer) lexNumber() (Token, error) {
	start := l.pos

	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}

	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		l.pos++
		if l.pos >= len(l.src) || !isDigit(l.src[l.pos]) {
			return Token{}, newParseErrorf(ParseInvalidNumber, start, "invalid number at offset %d", start)
		}
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}

	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		if l.pos >= len(l.src) || !isDigit(l.src[l.pos]) {
			return Token{}, newParseErrorf(ParseInvalidNumber, start, "invalid number at offset %d", start)
		}
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}

	text := l.src[start:l.pos]
	num, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Token{}, newParseErrorf(ParseInvalidNumber, start, "invalid number %q at offset %d", text, start)
	}

	return Token{Kind: TokenNumber, Text: text, Num: num, Start: start, End: l.pos}, nil
}

func (l *lexer) lexString() (Token, error) {
	start := l.pos
	quote := l.src[l.pos]
	l.pos++

	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == quote {
			l.pos++
			return Token{Kind: TokenString, Text: sb.String(), Start: start, End: l.pos}, nil
		}
		if c == '\\' {
			if l.pos+1 >= len(l.src) {
				break
			}
			escape := l.src[l.pos+1]
			switch escape {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '\\', '"', '\'':
				sb.WriteByte(escape)
			default:
				return Token{}, newParseErrorf(ParseInvalidEscape, l.pos, "invalid escape sequence \\%s at offset %d", string(escape), l.pos)
			}
			l.pos += 2
			continue
		}
		sb.WriteByte(c)
		l.pos++
	}

	return Token{}, newParseErrorf(ParseUnterminatedString, start, "unterminated string starting at offset %d", start)
}

func (l *lexer) lexIdentifier() (Token, error) {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	return Token{Kind: TokenIdentifier, Text: l.src[start:l.pos], Start: start, End: l.pos}, nil
}

func (l *lexer) lexHashRef() (Token, error) {
	start := l.pos
	l.pos++
	if l.pos >= len(l.src) || !isIdentStart(l.src[l.pos]) {
		return Token{}, newParseErrorf(ParseUnexpectedToken, start, "expected property name after # at offset %d", start)
	}

	nameStart := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}

	return Token{Kind: TokenHashRef, Text: l.src[nameStart:l.pos], Start: start, End: l.pos}, nil
}

func (l *lexer) lexAt() (Token, error) {
	start := l.pos
	l.pos++

	if l.pos < len(l.src) && l.src[l.pos] == '{' {
		l.pos++
		closing := strings.IndexByte(l.src[l.pos:], '}')
		if closing < 0 {
			return Token{}, newParseErrorf(ParseInvalidUUID, start, "unterminated entity reference at offset %d", start)
		}
		id := l.src[l.pos : l.pos+closing]
		if !uuidPattern.MatchString(id) {
			return Token{}, newParseErrorf(ParseInvalidUUID, l.pos, "invalid entity id %q at offset %d", id, l.pos)
		}
		l.pos += closing + 1
		return Token{Kind: TokenAtEntity, Text: strings.ToLower(id), Start: start, End: l.pos}, nil
	}

	if l.pos < len(l.src) && isIdentStart(l.src[l.pos]) {
		nameStart := l.pos
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.pos++
		}
		if l.src[nameStart:l.pos] == "self" {
			return Token{Kind: TokenAtSelf, Text: "self", Start: start, End: l.pos}, nil
		}
		return Token{}, newParseErrorf(ParseUnexpectedToken, start, "unexpected reference @%s at offset %d", l.src[nameStart:l.pos], start)
	}

	return Token{}, newParseErrorf(ParseUnexpectedToken, start, "unexpected character %q at offset %d", "@", start)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
