package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the venom lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenNumber     // 42, 3.14
	TokenIdentifier // foo, _bar1

	// Keywords
	TokenLet
	TokenPrint
	TokenFn
	TokenReturn

	// Delimiters
	TokenAssign    // =
	TokenSemicolon // ;
	TokenComma     // ,
	TokenLParen    // (
	TokenRParen    // )
	TokenLBrace    // {
	TokenRBrace    // }

	// Operators
	TokenPlus    // +
	TokenMinus   // -
	TokenStar    // *
	TokenSlash   // /
	TokenPercent // %
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenNumber:     "NUMBER",
	TokenIdentifier: "IDENTIFIER",
	TokenLet:        "let",
	TokenPrint:      "print",
	TokenFn:         "fn",
	TokenReturn:     "return",
	TokenAssign:     "=",
	TokenSemicolon:  ";",
	TokenComma:      ",",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBrace:     "{",
	TokenRBrace:     "}",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenSlash:      "/",
	TokenPercent:    "%",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Position is a location in source text.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based
	Column int // 1-based, in runes
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text, or the diagnostic for TokenError
	Pos     Position // start position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Keywords maps reserved words to their token types.
var Keywords = map[string]TokenType{
	"let":    TokenLet,
	"print":  TokenPrint,
	"fn":     TokenFn,
	"return": TokenReturn,
}
