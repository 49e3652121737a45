package compiler

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: on-demand tokenizer
// ---------------------------------------------------------------------------

// Lexer tokenizes venom source code one token at a time. Once the end of
// input is reached every further call returns EOF.
type Lexer struct {
	input     string
	pos       int  // current position in input
	readPos   int  // reading position (after current char)
	ch        rune // current character
	line      int  // current line (1-based)
	lineStart int  // offset of current line start
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
	}
	l.readChar()
	return l
}

// readChar advances to the next character. Line tracking happens when the
// newline is left behind, so a '\n' belongs to the line it ends.
func (l *Lexer) readChar() {
	if l.ch == '\n' && l.readPos > 0 {
		l.line++
		l.lineStart = l.readPos
	}
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = len(l.input)
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// position returns the position of the current character.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: utf8.RuneCountInString(l.input[l.lineStart:l.pos]) + 1,
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.position()

	if l.atEOF() {
		return Token{Type: TokenEOF, Literal: "", Pos: pos}
	}

	switch ch := l.ch; {
	case ch == '=':
		return l.single(TokenAssign, pos)
	case ch == ';':
		return l.single(TokenSemicolon, pos)
	case ch == ',':
		return l.single(TokenComma, pos)
	case ch == '(':
		return l.single(TokenLParen, pos)
	case ch == ')':
		return l.single(TokenRParen, pos)
	case ch == '{':
		return l.single(TokenLBrace, pos)
	case ch == '}':
		return l.single(TokenRBrace, pos)
	case ch == '+':
		return l.single(TokenPlus, pos)
	case ch == '-':
		return l.single(TokenMinus, pos)
	case ch == '*':
		return l.single(TokenStar, pos)
	case ch == '/':
		return l.single(TokenSlash, pos)
	case ch == '%':
		return l.single(TokenPercent, pos)

	case isDigit(ch):
		return l.readNumber(pos)

	case isLetter(ch) || ch == '_':
		return l.readIdentifierOrKeyword(pos)

	default:
		l.readChar()
		if ch == utf8.RuneError {
			return Token{Type: TokenError, Literal: "invalid UTF-8 encoding", Pos: pos}
		}
		return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character %q", ch), Pos: pos}
	}
}

func (l *Lexer) single(typ TokenType, pos Position) Token {
	lit := string(l.ch)
	l.readChar()
	return Token{Type: typ, Literal: lit, Pos: pos}
}

// skipWhitespaceAndComments skips whitespace and // line comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for !l.atEOF() {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case l.ch == '/' && l.peekChar() == '/':
			for !l.atEOF() && l.ch != '\n' {
				l.readChar()
			}
		default:
			return
		}
	}
}

// readNumber reads digits with an optional fractional part. A '.' must be
// followed by at least one digit.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' {
		if !isDigit(l.peekChar()) {
			l.readChar()
			return Token{Type: TokenError, Literal: fmt.Sprintf("malformed number %q: expected digit after '.'", l.input[start:l.pos]), Pos: pos}
		}
		l.readChar() // consume .
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: pos}
}

// readIdentifierOrKeyword reads an identifier or reserved word.
func (l *Lexer) readIdentifierOrKeyword(pos Position) Token {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	literal := l.input[start:l.pos]
	if tokType, ok := Keywords[literal]; ok {
		return Token{Type: tokType, Literal: literal, Pos: pos}
	}
	return Token{Type: TokenIdentifier, Literal: literal, Pos: pos}
}

// Helper functions

func isLetter(r rune) bool {
	return unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Tokenize returns all tokens from the input, ending with EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}
	return tokens
}
