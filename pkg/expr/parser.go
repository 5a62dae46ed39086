package expr

import (
	"github.com/jnarwell/trellis-sub000/pkg/values"
)

var binaryPrecedence = map[TokenKind]int{
	TokenOr:      1,
	TokenAnd:     2,
	TokenEq:      3,
	TokenNeq:     3,
	TokenLt:      4,
	TokenGt:      4,
	TokenLte:     4,
	TokenGte:     4,
	TokenPlus:    5,
	TokenMinus:   5,
	TokenStar:    6,
	TokenSlash:   6,
	TokenPercent: 6,
}

type parser struct {
	tokens []Token
	pos    int
}

// Parse compiles an expression source string into an AST.
func Parse(src string) (Node, error) {
	tokens, err := Tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	node, err := p.parseBinary(1)
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.Kind != TokenEOF {
		return nil, newParseErrorf(ParseUnexpectedToken, tok.Start, "unexpected %s at offset %d", tok.Kind, tok.Start)
	}

	return node, nil
}

func (p *parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *parser) advance() Token {
	tok := p.tokens[p.pos]
	if tok.Kind != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind TokenKind) (Token, error) {
	tok := p.peek()
	if tok.Kind != kind {
		if tok.Kind == TokenEOF {
			return Token{}, newParseErrorf(ParseUnexpectedEnd, tok.Start, "expected %s but reached end of input at offset %d", kind, tok.Start)
		}
		return Token{}, newParseErrorf(ParseUnexpectedToken, tok.Start, "expected %s but found %s at offset %d", kind, tok.Kind, tok.Start)
	}
	return p.advance(), nil
}

func (p *parser) parseBinary(minPrecedence int) (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		precedence, ok := binaryPrecedence[tok.Kind]
		if !ok || precedence < minPrecedence {
			return left, nil
		}
		p.advance()

		right, err := p.parseBinary(precedence + 1)
		if err != nil {
			return nil, err
		}

		start, _ := left.Pos()
		_, end := right.Pos()
		left = &BinaryExpression{
			span:  span{Start: start, End: end},
			Op:    tok.Text,
			Left:  left,
			Right: right,
		}
	}
}

func (p *parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.Kind == TokenBang || tok.Kind == TokenMinus {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		_, end := operand.Pos()
		return &UnaryExpression{
			span:    span{Start: tok.Start, End: end},
			Op:      tok.Text,
			Operand: operand,
		}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.peek()

	switch tok.Kind {
	case TokenNumber:
		p.advance()
		return &Literal{span: span{tok.Start, tok.End}, Value: values.Number(tok.Num)}, nil

	case TokenString:
		p.advance()
		return &Literal{span: span{tok.Start, tok.End}, Value: values.Text(tok.Text)}, nil

	case TokenIdentifier:
		switch tok.Text {
		case "true":
			p.advance()
			return &Literal{span: span{tok.Start, tok.End}, Value: values.Boolean(true)}, nil
		case "false":
			p.advance()
			return &Literal{span: span{tok.Start, tok.End}, Value: values.Boolean(false)}, nil
		case "null":
			p.advance()
			return &Literal{span: span{tok.Start, tok.End}, Value: nil}, nil
		}
		return p.parseCall()

	case TokenHashRef:
		p.advance()
		return &Identifier{span: span{tok.Start, tok.End}, Name: tok.Text}, nil

	case TokenAtSelf, TokenAtEntity:
		return p.parsePropertyReference()

	case TokenLParen:
		p.advance()
		node, err := p.parseBinary(1)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return node, nil

	case TokenEOF:
		return nil, newParseErrorf(ParseUnexpectedEnd, tok.Start, "unexpected end of input at offset %d", tok.Start)

	default:
		return nil, newParseErrorf(ParseUnexpectedToken, tok.Start, "unexpected %s at offset %d", tok.Kind, tok.Start)
	}
}

func (p *parser) parseCall() (Node, error) {
	name := p.advance()

	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}

	var args []Node
	if p.peek().Kind != TokenRParen {
		for {
			arg, err := p.parseBinary(1)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)

			if p.peek().Kind != TokenComma {
				break
			}
			p.advance()
		}
	}

	closing, err := p.expect(TokenRParen)
	if err != nil {
		return nil, err
	}

	return &CallExpression{
		span: span{Start: name.Start, End: closing.End},
		Name: name.Text,
		Args: args,
	}, nil
}

func (p *parser) parsePropertyReference() (Node, error) {
	base := p.advance()

	ref := &PropertyReference{span: span{Start: base.Start}}
	if base.Kind == TokenAtSelf {
		ref.Base = SelfRef
	} else {
		ref.Base = base.Text
	}

	if _, err := p.expect(TokenDot); err != nil {
		return nil, err
	}

	for {
		name, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}

		segment := Segment{Name: name.Text}
		end := name.End

		if p.peek().Kind == TokenLBracket {
			p.advance()
			switch tok := p.peek(); tok.Kind {
			case TokenStar:
				p.advance()
				segment.Wildcard = true
			case TokenNumber:
				p.advance()
				index := int(tok.Num)
				segment.Index = &index
			default:
				return nil, newParseErrorf(ParseUnexpectedToken, tok.Start, "expected * or index inside [] at offset %d", tok.Start)
			}
			closing, err := p.expect(TokenRBracket)
			if err != nil {
				return nil, err
			}
			end = closing.End
		}

		ref.Segments = append(ref.Segments, segment)
		ref.span.End = end

		if p.peek().Kind != TokenDot {
			return ref, nil
		}
		p.advance()
	}
}
