package svcl

import (
	"fmt"
)

var precedences = map[TokenType]int{
	OR:       1,
	AND:      2,
	EQ:       3,
	NOT_EQ:   3,
	LT:       3,
	LTE:      3,
	GT:       3,
	GTE:      3,
	PLUS:     4,
	MINUS:    4,
	ASTERISK: 5,
	SLASH:    5,
}

const LOWEST = 0

type TokenType string

const (
	ILLEGAL = "ILLEGAL"
	EOF     = "EOF"

	NEWLINE = "NEWLINE"
	INDENT  = "INDENT"
	DEDENT  = "DEDENT"

	IDENT  = "IDENT"
	NUMBER = "NUMBER"
	STRING = "STRING"

	ASSIGN   = "="
	EQ       = "=="
	NOT_EQ   = "!="
	LT       = "<"
	GT       = ">"
	LTE      = "<="
	GTE      = ">="
	PLUS     = "+"
	MINUS    = "-"
	ASTERISK = "*"
	SLASH    = "/"

	COLON    = ":"
	DOT      = "."
	COMMA    = ","
	QUESTION = "?"
	LPAREN   = "("
	RPAREN   = ")"
	LBRACE   = "{"
	RBRACE   = "}"
	LBRACKET = "["
	RBRACKET = "]"

	SERVER   = "SERVER"
	ENDPOINT = "ENDPOINT"
	FUNC     = "FUNC"
	CLASS    = "CLASS"
	MODEL    = "MODEL"
	IMPORT   = "IMPORT"
	GET      = "GET"
	POST     = "POST"
	JSONKW   = "JSON"
	IF       = "IF"
	ELIF     = "ELIF"
	ELSE     = "ELSE"
	REPEAT   = "REPEAT"
	TIMES    = "TIMES"
	AND      = "AND"
	OR       = "OR"
	TRUE     = "TRUE"
	FALSE    = "FALSE"
)

var keywords = map[string]TokenType{
	"server":   SERVER,
	"endpoint": ENDPOINT,
	"func":     FUNC,
	"class":    CLASS,
	"model":    MODEL,
	"import":   IMPORT,
	"GET":      GET,
	"POST":     POST,
	"json":     JSONKW,
	"if":       IF,
	"elif":     ELIF,
	"else":     ELSE,
	"repeat":   REPEAT,
	"times":    TIMES,
	"and":      AND,
	"or":       OR,
	"true":     TRUE,
	"false":    FALSE,
}

// lookupKeyword is case sensitive: "GET" is a method keyword, "get" is an identifier.
func lookupKeyword(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return IDENT
}

// IsKeyword reports whether name is reserved and cannot be used as an identifier.
func IsKeyword(name string) bool {
	_, ok := keywords[name]
	return ok
}

type Token struct {
	Type    TokenType
	Literal string
	Line    int
	Column  int
}

func newToken(tokenType TokenType, ch byte, line int, column int) Token {
	return Token{Type: tokenType, Literal: string(ch), Line: line, Column: column}
}

func (t Token) Precedence() int {
	if p, ok := precedences[t.Type]; ok {
		return p
	}
	return LOWEST
}

func (t Token) Pos() Pos {
	return Pos{Line: t.Line, Column: t.Column}
}

func (t Token) String() string {
	return fmt.Sprintf("Token(%s, %q, Line: %d, Column: %d)", t.Type, t.Literal, t.Line, t.Column)
}

// describe renders a token for error messages.
func (t Token) describe() string {
	switch t.Type {
	case EOF:
		return "end of input"
	case NEWLINE:
		return "end of line"
	case INDENT:
		return "indentation"
	case DEDENT:
		return "dedent"
	case STRING:
		return fmt.Sprintf("%q", t.Literal)
	}
	return fmt.Sprintf("'%s'", t.Literal)
}

func isIdentifierStart(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch == '_'
}

func isIdentifierChar(ch byte) bool {
	return isIdentifierStart(ch) || isDigit(ch)
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}
