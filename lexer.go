package svcl

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// TabWidth is the indentation tab stop: a tab advances to the next multiple of it.
const TabWidth = 4

type Lexer struct {
	input        string
	position     int
	readPosition int
	ch           byte
	line         int
	column       int

	indents       []int
	pending       []Token
	depth         int
	atLineStart   bool
	lineHasTokens bool
	done          bool
	err           *LexError
}

func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1, column: 0, indents: []int{0}, atLineStart: true}
	l.readChar()
	return l
}

// Err returns the error that stopped the lexer, if any.
func (l *Lexer) Err() *LexError {
	return l.err
}

// Tokenize lexes the whole input. The last token is always EOF.
func Tokenize(input string) ([]Token, error) {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		if tok.Type == ILLEGAL {
			return tokens, l.err
		}
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens, nil
		}
	}
}

func (l *Lexer) NextToken() Token {
	if len(l.pending) > 0 {
		tok := l.pending[0]
		l.pending = l.pending[1:]
		return tok
	}
	if l.err != nil {
		return Token{Type: ILLEGAL, Literal: l.err.Message, Line: l.err.Line, Column: l.err.Column}
	}
	if l.done {
		return Token{Type: EOF, Line: l.line, Column: l.column}
	}
	if l.atLineStart && l.depth == 0 {
		l.atLineStart = false
		if l.measureIndentation() {
			return l.NextToken()
		}
	}
	l.skipWhitespaceAndComments()

	var tok Token
	line, column := l.line, l.column
	switch l.ch {
	case '\n':
		l.readChar()
		l.atLineStart = true
		if l.lineHasTokens {
			l.lineHasTokens = false
			return Token{Type: NEWLINE, Literal: "\\n", Line: line, Column: column}
		}
		return l.NextToken()
	case 0:
		l.finish()
		return l.NextToken()
	case '=':
		if l.peekChar() == '=' {
			l.readChar()
			tok = Token{Type: EQ, Literal: "==", Line: line, Column: column}
		} else {
			tok = newToken(ASSIGN, l.ch, line, column)
		}
	case '!':
		if l.peekChar() != '=' {
			return l.fail(line, column, "Unexpected '!'; use '!=' for inequality comparisons")
		}
		l.readChar()
		tok = Token{Type: NOT_EQ, Literal: "!=", Line: line, Column: column}
	case '<':
		if l.peekChar() == '=' {
			l.readChar()
			tok = Token{Type: LTE, Literal: "<=", Line: line, Column: column}
		} else {
			tok = newToken(LT, l.ch, line, column)
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			tok = Token{Type: GTE, Literal: ">=", Line: line, Column: column}
		} else {
			tok = newToken(GT, l.ch, line, column)
		}
	case '+':
		tok = newToken(PLUS, l.ch, line, column)
	case '-':
		tok = newToken(MINUS, l.ch, line, column)
	case '*':
		tok = newToken(ASTERISK, l.ch, line, column)
	case '/':
		tok = newToken(SLASH, l.ch, line, column)
	case ':':
		tok = newToken(COLON, l.ch, line, column)
	case '.':
		tok = newToken(DOT, l.ch, line, column)
	case ',':
		tok = newToken(COMMA, l.ch, line, column)
	case '?':
		tok = newToken(QUESTION, l.ch, line, column)
	case '(':
		l.depth++
		tok = newToken(LPAREN, l.ch, line, column)
	case ')':
		l.closeBracket()
		tok = newToken(RPAREN, l.ch, line, column)
	case '{':
		l.depth++
		tok = newToken(LBRACE, l.ch, line, column)
	case '}':
		l.closeBracket()
		tok = newToken(RBRACE, l.ch, line, column)
	case '[':
		l.depth++
		tok = newToken(LBRACKET, l.ch, line, column)
	case ']':
		l.closeBracket()
		tok = newToken(RBRACKET, l.ch, line, column)
	case '"':
		literal, msg := l.readString()
		if msg != "" {
			return l.fail(line, column, msg)
		}
		l.lineHasTokens = true
		return Token{Type: STRING, Literal: literal, Line: line, Column: column}
	default:
		if isIdentifierStart(l.ch) {
			literal := l.readIdentifier()
			l.lineHasTokens = true
			return Token{Type: lookupKeyword(literal), Literal: literal, Line: line, Column: column}
		}
		if isDigit(l.ch) {
			literal := l.readNumber()
			l.lineHasTokens = true
			return Token{Type: NUMBER, Literal: literal, Line: line, Column: column}
		}
		return l.fail(line, column, fmt.Sprintf("Unexpected character %q", rune(l.ch)))
	}
	l.lineHasTokens = true
	l.readChar()
	return tok
}

// measureIndentation compares the leading whitespace of a logical line with the
// indentation stack and queues INDENT/DEDENT tokens. Blank and comment-only
// lines leave the stack alone.
func (l *Lexer) measureIndentation() bool {
	width := 0
	for l.ch == ' ' || l.ch == '\t' {
		if l.ch == '\t' {
			width += TabWidth - width%TabWidth
		} else {
			width++
		}
		l.readChar()
	}
	if l.ch == '\n' || l.ch == '\r' || l.ch == '#' || l.ch == 0 {
		return false
	}
	top := l.indents[len(l.indents)-1]
	switch {
	case width > top:
		l.indents = append(l.indents, width)
		l.pending = append(l.pending, Token{Type: INDENT, Line: l.line, Column: l.column})
	case width < top:
		for width < l.indents[len(l.indents)-1] {
			l.indents = l.indents[:len(l.indents)-1]
			l.pending = append(l.pending, Token{Type: DEDENT, Line: l.line, Column: l.column})
		}
		if width != l.indents[len(l.indents)-1] {
			l.pending = nil
			l.fail(l.line, l.column, "Unindent does not match any outer indentation level")
			return true
		}
	}
	return len(l.pending) > 0
}

func (l *Lexer) finish() {
	if l.lineHasTokens {
		l.lineHasTokens = false
		l.pending = append(l.pending, Token{Type: NEWLINE, Line: l.line, Column: l.column})
	}
	for len(l.indents) > 1 {
		l.indents = l.indents[:len(l.indents)-1]
		l.pending = append(l.pending, Token{Type: DEDENT, Line: l.line, Column: l.column})
	}
	l.pending = append(l.pending, Token{Type: EOF, Line: l.line, Column: l.column})
	l.done = true
}

func (l *Lexer) closeBracket() {
	if l.depth > 0 {
		l.depth--
	}
}

func (l *Lexer) fail(line, column int, msg string) Token {
	l.err = &LexError{Message: msg, Line: line, Column: column}
	return Token{Type: ILLEGAL, Literal: msg, Line: line, Column: column}
}

func (l *Lexer) readIdentifier() string {
	start := l.position
	for isIdentifierChar(l.ch) {
		l.readChar()
	}
	return l.input[start:l.position]
}

func (l *Lexer) readNumber() string {
	start := l.position
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if (l.ch == 'e' || l.ch == 'E') && l.exponentFollows() {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[start:l.position]
}

// exponentFollows reports whether the 'e' under the cursor starts an
// exponent: digits, optionally after a sign.
func (l *Lexer) exponentFollows() bool {
	next := l.readPosition
	if next < len(l.input) && (l.input[next] == '+' || l.input[next] == '-') {
		next++
	}
	return next < len(l.input) && isDigit(l.input[next])
}

// readString consumes a double-quoted literal. Strings cannot span lines.
// On failure it returns the lexer error message.
func (l *Lexer) readString() (string, string) {
	var sb strings.Builder
	l.readChar()
	for {
		switch l.ch {
		case 0, '\n':
			return "", "Unterminated string literal"
		case '"':
			l.readChar()
			return sb.String(), ""
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case '"', '\\', '/':
				sb.WriteByte(l.ch)
			case 'u':
				r, ok := l.readUnicodeEscape()
				if !ok {
					return "", "Invalid \\u escape in string literal"
				}
				sb.WriteRune(r)
			case 0, '\n':
				return "", "Unterminated string literal"
			default:
				return "", fmt.Sprintf("Invalid escape sequence '\\%c' in string literal", l.ch)
			}
		default:
			sb.WriteByte(l.ch)
		}
		l.readChar()
	}
}

// readUnicodeEscape decodes the hex digits of a \uXXXX escape, joining a
// UTF-16 surrogate pair when a second escape follows. The cursor is left on
// the last hex digit.
func (l *Lexer) readUnicodeEscape() (rune, bool) {
	r, ok := l.readHex4()
	if !ok {
		return 0, false
	}
	if !utf16.IsSurrogate(r) {
		return r, true
	}
	if l.peekChar() != '\\' || l.readPosition+1 >= len(l.input) || l.input[l.readPosition+1] != 'u' {
		return utf8.RuneError, true
	}
	l.readChar()
	l.readChar()
	low, ok := l.readHex4()
	if !ok {
		return 0, false
	}
	return utf16.DecodeRune(r, low), true
}

func (l *Lexer) readHex4() (rune, bool) {
	end := l.readPosition + 4
	if end > len(l.input) {
		return 0, false
	}
	n, err := strconv.ParseUint(l.input[l.readPosition:end], 16, 32)
	if err != nil {
		return 0, false
	}
	for i := 0; i < 4; i++ {
		l.readChar()
	}
	return rune(n), true
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
	l.column++
}

func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

// skipWhitespaceAndComments stops at a newline unless it is inside brackets.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\r':
			l.readChar()
		case l.ch == '\n' && l.depth > 0:
			l.readChar()
		case l.ch == '#':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		default:
			return
		}
	}
}
