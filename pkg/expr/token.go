package expr

import "fmt"

type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenNumber
	TokenString
	TokenIdentifier
	TokenHashRef  // #name
	TokenAtSelf   // @self
	TokenAtEntity // @{uuid}
	TokenDot
	TokenComma
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
	TokenPlus
	TokenMinus
	TokenStar
	TokenSlash
	TokenPercent
	TokenEq  // ==
	TokenNeq // !=
	TokenLt
	TokenGt
	TokenLte
	TokenGte
	TokenAnd // &&
	TokenOr  // ||
	TokenBang
)

var tokenNames = map[TokenKind]string{
	TokenEOF:        "end of input",
	TokenNumber:     "number",
	TokenString:     "string",
	TokenIdentifier: "identifier",
	TokenHashRef:    "property reference",
	TokenAtSelf:     "@self",
	TokenAtEntity:   "entity reference",
	TokenDot:        ".",
	TokenComma:      ",",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBracket:   "[",
	TokenRBracket:   "]",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenSlash:      "/",
	TokenPercent:    "%",
	TokenEq:         "==",
	TokenNeq:        "!=",
	TokenLt:         "<",
	TokenGt:         ">",
	TokenLte:        "<=",
	TokenGte:        ">=",
	TokenAnd:        "&&",
	TokenOr:         "||",
	TokenBang:       "!",
}

func (k TokenKind) String() string {
	if name, ok := tokenNames[k]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(k))
}

// Token carries its byte offsets in the source for error reporting. Text
// holds the identifier, property name, entity id, or decoded string payload.
type Token struct {
	Kind  TokenKind
	Text  string
	Num   float64
	Start int
	End   int
}
