package svcl

import (
	"fmt"
	"strconv"
	"strings"
)

type Parser struct {
	l         *Lexer
	curToken  Token
	peekToken Token
}

func NewParser(l *Lexer) *Parser {
	p := &Parser{l: l}
	p.nextToken()
	p.nextToken()
	return p
}

// Parse turns source text into a Program. Lex failures surface as *ParseError.
func Parse(source string) (*Program, error) {
	return NewParser(NewLexer(source)).ParseProgram()
}

// ParseExpression parses a single standalone expression.
func ParseExpression(source string) (Expression, error) {
	p := NewParser(NewLexer(source))
	p.skipNewlines()
	expr, err := p.parseExpression(LOWEST)
	if err != nil {
		return nil, err
	}
	p.skipNewlines()
	if p.curToken.Type != EOF {
		return nil, p.errorAt(p.curToken, "Unexpected tokens after end of expression")
	}
	return expr, nil
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) skipNewlines() {
	for p.curToken.Type == NEWLINE {
		p.nextToken()
	}
}

func (p *Parser) errorAt(tok Token, format string, args ...any) *ParseError {
	if tok.Type == ILLEGAL {
		return &ParseError{Message: tok.Literal, Line: tok.Line, Column: tok.Column}
	}
	return &ParseError{Message: fmt.Sprintf(format, args...), Line: tok.Line, Column: tok.Column}
}

// expect checks the current token and advances past it.
func (p *Parser) expect(t TokenType, format string, args ...any) (Token, error) {
	tok := p.curToken
	if tok.Type != t {
		return tok, p.errorAt(tok, format, args...)
	}
	p.nextToken()
	return tok, nil
}

func (p *Parser) ParseProgram() (*Program, error) {
	prog := newProgram()
	p.skipNewlines()
	for p.curToken.Type != EOF {
		var (
			decl Declaration
			err  error
		)
		switch p.curToken.Type {
		case SERVER:
			decl, err = p.parseServer(prog)
		case IMPORT:
			decl, err = p.parseImport(prog)
		case ENDPOINT:
			decl, err = p.parseEndpoint(prog)
		case FUNC:
			decl, err = p.parseFunction(prog)
		case CLASS:
			decl, err = p.parseClass(prog)
		case MODEL:
			decl, err = p.parseModel(prog)
		case INDENT:
			err = p.errorAt(p.curToken, "Unexpected indentation")
		default:
			err = p.errorAt(p.curToken, "Unrecognized statement %s (expected 'server', 'endpoint', 'func', 'class', 'model' or 'import')", p.curToken.describe())
		}
		if err != nil {
			return nil, err
		}
		prog.Decls = append(prog.Decls, decl)
		p.skipNewlines()
	}
	return prog, nil
}

// endDeclaration accepts the end of a declaration line. Indented bodies have
// already consumed their own line ends.
func (p *Parser) endDeclaration(block bool) error {
	if block {
		return nil
	}
	switch p.curToken.Type {
	case NEWLINE:
		p.nextToken()
		return nil
	case EOF, DEDENT:
		return nil
	}
	return p.errorAt(p.curToken, "Unexpected tokens after end of expression")
}

func (p *Parser) parseServer(prog *Program) (Declaration, error) {
	start := p.curToken
	if prog.Server != nil {
		return nil, p.errorAt(start, "Only one 'server' declaration is allowed")
	}
	if len(prog.Endpoints) > 0 {
		return nil, p.errorAt(start, "The 'server' declaration must precede all endpoints")
	}
	p.nextToken()
	portTok, err := p.expect(NUMBER, "Invalid server declaration; expected 'server <port>'")
	if err != nil {
		return nil, err
	}
	port, convErr := strconv.Atoi(portTok.Literal)
	if convErr != nil || port < 0 || port > 65535 {
		return nil, p.errorAt(portTok, "Invalid port number '%s'; expected an integer between 0 and 65535", portTok.Literal)
	}
	decl := &ServerDecl{Pos: start.Pos(), Port: port}
	if p.curToken.Type == IDENT && p.curToken.Literal == "tls" {
		decl.TLS = true
		p.nextToken()
	}
	if err := p.endDeclaration(false); err != nil {
		return nil, err
	}
	prog.Server = decl
	return decl, nil
}

func (p *Parser) parseImport(prog *Program) (Declaration, error) {
	start := p.curToken
	p.nextToken()
	pathTok, err := p.expect(STRING, "Expected a quoted path after 'import'")
	if err != nil {
		return nil, err
	}
	if err := p.endDeclaration(false); err != nil {
		return nil, err
	}
	decl := &ImportDecl{Pos: start.Pos(), Path: pathTok.Literal}
	prog.Imports = append(prog.Imports, decl)
	return decl, nil
}

func (p *Parser) parseEndpoint(prog *Program) (Declaration, error) {
	start := p.curToken
	p.nextToken()
	var method Method
	switch p.curToken.Type {
	case GET:
		method = MethodGet
	case POST:
		method = MethodPost
	case EOF, NEWLINE:
		return nil, p.errorAt(p.curToken, "Missing HTTP method (GET/POST)")
	default:
		return nil, p.errorAt(p.curToken, "Unsupported method %s; only GET and POST are supported", p.curToken.describe())
	}
	p.nextToken()
	pathTok, err := p.expect(STRING, "Expected a quoted path after the HTTP method")
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(pathTok.Literal, "/") {
		return nil, p.errorAt(pathTok, "Endpoint path %q must start with '/'", pathTok.Literal)
	}
	if p.curToken.Type != COLON {
		return nil, p.errorAt(p.curToken, "Expected ':' after path in endpoint declaration")
	}
	body, block, err := p.parseBody("endpoint")
	if err != nil {
		return nil, err
	}
	if err := p.endDeclaration(block); err != nil {
		return nil, err
	}
	decl := &EndpointDecl{Pos: start.Pos(), Method: method, Path: pathTok.Literal, Body: body}
	prog.Endpoints = append(prog.Endpoints, decl)
	return decl, nil
}

func (p *Parser) parseFunction(prog *Program) (Declaration, error) {
	start := p.curToken
	p.nextToken()
	nameTok, err := p.expect(IDENT, "Expected a function name after 'func'")
	if err != nil {
		return nil, err
	}
	if _, exists := prog.Functions[nameTok.Literal]; exists {
		return nil, p.errorAt(nameTok, "Function '%s' already defined", nameTok.Literal)
	}
	params, err := p.parseParams("function")
	if err != nil {
		return nil, err
	}
	if p.curToken.Type != COLON {
		return nil, p.errorAt(p.curToken, "Expected ':' after parameter list")
	}
	body, block, err := p.parseBody("function")
	if err != nil {
		return nil, err
	}
	if err := p.endDeclaration(block); err != nil {
		return nil, err
	}
	decl := &FunctionDef{Pos: start.Pos(), Name: nameTok.Literal, Params: params, Body: body}
	prog.Functions[decl.Name] = decl
	return decl, nil
}

func (p *Parser) parseClass(prog *Program) (Declaration, error) {
	start := p.curToken
	p.nextToken()
	nameTok, err := p.expect(IDENT, "Expected a class name after 'class'")
	if err != nil {
		return nil, err
	}
	if _, exists := prog.Classes[nameTok.Literal]; exists {
		return nil, p.errorAt(nameTok, "Class '%s' already defined", nameTok.Literal)
	}
	if _, err := p.expect(COLON, "Expected ':' in class declaration"); err != nil {
		return nil, err
	}
	decl := &ClassDef{Pos: start.Pos(), Name: nameTok.Literal}
	err = p.parseIndentedBlock(func() error {
		m, err := p.parseMethod(decl)
		if err != nil {
			return err
		}
		decl.Methods = append(decl.Methods, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	prog.Classes[decl.Name] = decl
	return decl, nil
}

func (p *Parser) parseMethod(class *ClassDef) (*MethodDef, error) {
	nameTok, err := p.expect(IDENT, "Expected a method definition 'name(params): body' in class '%s'", class.Name)
	if err != nil {
		return nil, err
	}
	if _, exists := class.Method(nameTok.Literal); exists {
		return nil, p.errorAt(nameTok, "Method '%s' already defined in class '%s'", nameTok.Literal, class.Name)
	}
	params, err := p.parseParams("method")
	if err != nil {
		return nil, err
	}
	if p.curToken.Type != COLON {
		return nil, p.errorAt(p.curToken, "Expected ':' after method parameter list")
	}
	body, block, err := p.parseBody("method")
	if err != nil {
		return nil, err
	}
	if err := p.endDeclaration(block); err != nil {
		return nil, err
	}
	return &MethodDef{Pos: nameTok.Pos(), Class: class.Name, Name: nameTok.Literal, Params: params, Body: body}, nil
}

func (p *Parser) parseModel(prog *Program) (Declaration, error) {
	start := p.curToken
	p.nextToken()
	nameTok, err := p.expect(IDENT, "Expected a model name after 'model'")
	if err != nil {
		return nil, err
	}
	if _, exists := prog.Models[nameTok.Literal]; exists {
		return nil, p.errorAt(nameTok, "Model '%s' already defined", nameTok.Literal)
	}
	if _, err := p.expect(COLON, "Expected ':' in model declaration"); err != nil {
		return nil, err
	}
	decl := &ModelDef{Pos: start.Pos(), Name: nameTok.Literal, Table: strings.ToLower(nameTok.Literal)}
	err = p.parseIndentedBlock(func() error {
		f, err := p.parseField(decl)
		if err != nil {
			return err
		}
		decl.Fields = append(decl.Fields, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(decl.Fields) == 0 {
		return nil, p.errorAt(start, "Model '%s' must declare at least one field", decl.Name)
	}
	prog.Models[decl.Name] = decl
	return decl, nil
}

// parseField reads "name[?]: type [pk]".
func (p *Parser) parseField(model *ModelDef) (*FieldDef, error) {
	nameTok, err := p.expect(IDENT, "Expected a field definition 'name: type' in model '%s'", model.Name)
	if err != nil {
		return nil, err
	}
	if _, exists := model.Field(nameTok.Literal); exists {
		return nil, p.errorAt(nameTok, "Field '%s' already defined in model '%s'", nameTok.Literal, model.Name)
	}
	field := &FieldDef{Pos: nameTok.Pos(), Name: nameTok.Literal}
	if p.curToken.Type == QUESTION {
		field.Optional = true
		p.nextToken()
	}
	if _, err := p.expect(COLON, "Expected ':' after field name '%s'", field.Name); err != nil {
		return nil, err
	}
	if p.curToken.Type != IDENT && p.curToken.Type != JSONKW {
		return nil, p.errorAt(p.curToken, "Expected a type name for field '%s'", field.Name)
	}
	field.Type = p.curToken.Literal
	p.nextToken()
	if p.curToken.Type == IDENT && p.curToken.Literal == "pk" {
		field.PrimaryKey = true
		p.nextToken()
	}
	if err := p.endDeclaration(false); err != nil {
		return nil, err
	}
	return field, nil
}

// parseIndentedBlock runs item for every line of an indented block that
// follows a ':' at the end of a line. A ':' followed by no block is an empty block.
func (p *Parser) parseIndentedBlock(item func() error) error {
	if p.curToken.Type != NEWLINE {
		if p.curToken.Type == EOF {
			return nil
		}
		return p.errorAt(p.curToken, "Expected a new line after ':'")
	}
	p.nextToken()
	if p.curToken.Type != INDENT {
		return nil
	}
	p.nextToken()
	for p.curToken.Type != DEDENT && p.curToken.Type != EOF {
		if err := item(); err != nil {
			return err
		}
		p.skipNewlines()
	}
	if p.curToken.Type == DEDENT {
		p.nextToken()
	}
	return nil
}

func (p *Parser) parseParams(kind string) ([]string, error) {
	if _, err := p.expect(LPAREN, "Expected '(' in %s definition", kind); err != nil {
		return nil, err
	}
	params := []string{}
	if p.curToken.Type == RPAREN {
		p.nextToken()
		return params, nil
	}
	seen := make(map[string]struct{})
	for {
		tok, err := p.expect(IDENT, "Expected a parameter name in %s parameter list", kind)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[tok.Literal]; dup {
			return nil, p.errorAt(tok, "Duplicate parameter '%s'", tok.Literal)
		}
		seen[tok.Literal] = struct{}{}
		params = append(params, tok.Literal)
		switch p.curToken.Type {
		case COMMA:
			p.nextToken()
		case RPAREN:
			p.nextToken()
			return params, nil
		default:
			return nil, p.errorAt(p.curToken, "Expected ',' or ')' in %s parameter list", kind)
		}
	}
}

// parseBody parses the single expression after a ':'. It is either inline or
// on the following indented line(s); both forms yield the same tree. block
// reports whether the indented form was used.
func (p *Parser) parseBody(ctx string) (Expression, bool, error) {
	colon := p.curToken
	p.nextToken()
	if p.curToken.Type != NEWLINE {
		if p.curToken.Type == EOF {
			return nil, false, p.errorAt(colon, "Missing %s body expression after ':'", ctx)
		}
		expr, err := p.parseExpression(LOWEST)
		return expr, false, err
	}
	p.nextToken()
	if p.curToken.Type != INDENT {
		return nil, false, p.errorAt(p.curToken, "Missing %s body expression after ':'; expected an indented line", ctx)
	}
	p.nextToken()
	expr, err := p.parseExpression(LOWEST)
	if err != nil {
		return nil, false, err
	}
	p.skipNewlines()
	if p.curToken.Type != DEDENT {
		return nil, false, p.errorAt(p.curToken, "Unexpected tokens after end of expression")
	}
	p.nextToken()
	return expr, true, nil
}

func (p *Parser) parseExpression(precedence int) (Expression, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		prec := p.curToken.Precedence()
		if prec == LOWEST || prec <= precedence {
			return left, nil
		}
		op := p.curToken
		p.nextToken()
		right, err := p.parseExpression(prec)
		if err != nil {
			return nil, err
		}
		left = &BinaryExpression{Pos: op.Pos(), Left: left, Operator: op.Type, Right: right}
	}
}

func (p *Parser) parsePrimary() (Expression, error) {
	tok := p.curToken
	switch tok.Type {
	case NUMBER:
		n, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return nil, p.errorAt(tok, "Invalid number literal '%s'", tok.Literal)
		}
		p.nextToken()
		return &NumberLiteral{Pos: tok.Pos(), Value: n}, nil
	case STRING:
		p.nextToken()
		return &StringLiteral{Pos: tok.Pos(), Value: tok.Literal}, nil
	case TRUE, FALSE:
		p.nextToken()
		return &BooleanLiteral{Pos: tok.Pos(), Value: tok.Type == TRUE}, nil
	case MINUS:
		p.nextToken()
		operand, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		if lit, ok := operand.(*NumberLiteral); ok {
			return &NumberLiteral{Pos: tok.Pos(), Value: -lit.Value}, nil
		}
		zero := &NumberLiteral{Pos: tok.Pos(), Value: 0}
		return &BinaryExpression{Pos: tok.Pos(), Left: zero, Operator: MINUS, Right: operand}, nil
	case LPAREN:
		p.nextToken()
		expr, err := p.parseExpression(LOWEST)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN, "Expected ')', found %s", p.curToken.describe()); err != nil {
			return nil, err
		}
		return expr, nil
	case JSONKW:
		p.nextToken()
		tree, err := p.parseJSONValue()
		if err != nil {
			return nil, err
		}
		return &JSONLiteral{Pos: tok.Pos(), Value: tree}, nil
	case IF:
		return p.parseIfExpression()
	case REPEAT:
		return p.parseRepeatExpression()
	case IDENT:
		return p.parseIdentifier()
	case EOF, NEWLINE, DEDENT:
		return nil, p.errorAt(tok, "Expected an expression, found %s", tok.describe())
	}
	return nil, p.errorAt(tok, "Unexpected token %s in expression", tok.describe())
}

// parseIdentifier handles variables, calls and Class.method calls.
func (p *Parser) parseIdentifier() (Expression, error) {
	nameTok := p.curToken
	p.nextToken()
	switch p.curToken.Type {
	case DOT:
		p.nextToken()
		methodTok, err := p.expect(IDENT, "Expected method name after '.', found %s", p.curToken.describe())
		if err != nil {
			return nil, err
		}
		if p.curToken.Type != LPAREN {
			return nil, p.errorAt(p.curToken, "Expected '(' after method name")
		}
		args, err := p.parseArguments()
		if err != nil {
			return nil, err
		}
		return &MethodCallExpression{Pos: nameTok.Pos(), Class: nameTok.Literal, Method: methodTok.Literal, Args: args}, nil
	case LPAREN:
		args, err := p.parseArguments()
		if err != nil {
			return nil, err
		}
		return &CallExpression{Pos: nameTok.Pos(), Function: nameTok.Literal, Args: args}, nil
	}
	return &Identifier{Pos: nameTok.Pos(), Name: nameTok.Literal}, nil
}

func (p *Parser) parseArguments() ([]Expression, error) {
	p.nextToken()
	args := []Expression{}
	if p.curToken.Type == RPAREN {
		p.nextToken()
		return args, nil
	}
	for {
		arg, err := p.parseExpression(LOWEST)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		switch p.curToken.Type {
		case COMMA:
			p.nextToken()
		case RPAREN:
			p.nextToken()
			return args, nil
		default:
			return nil, p.errorAt(p.curToken, "Expected ',' or ')' in argument list, found %s", p.curToken.describe())
		}
	}
}

func (p *Parser) parseIfExpression() (Expression, error) {
	expr := &IfExpression{Pos: p.curToken.Pos()}
	p.nextToken()
	branch, err := p.parseBranch("if")
	if err != nil {
		return nil, err
	}
	expr.Branches = append(expr.Branches, branch)
	for {
		if p.curToken.Type == NEWLINE && (p.peekToken.Type == ELIF || p.peekToken.Type == ELSE) {
			p.nextToken()
		}
		switch p.curToken.Type {
		case ELIF:
			p.nextToken()
			branch, err := p.parseBranch("elif")
			if err != nil {
				return nil, err
			}
			expr.Branches = append(expr.Branches, branch)
		case ELSE:
			p.nextToken()
			if p.curToken.Type != COLON {
				return nil, p.errorAt(p.curToken, "Expected ':' after else")
			}
			body, _, err := p.parseBody("else")
			if err != nil {
				return nil, err
			}
			expr.Else = body
			return expr, nil
		default:
			return expr, nil
		}
	}
}

func (p *Parser) parseBranch(ctx string) (Branch, error) {
	cond, err := p.parseExpression(LOWEST)
	if err != nil {
		return Branch{}, err
	}
	if p.curToken.Type != COLON {
		return Branch{}, p.errorAt(p.curToken, "Expected ':' after %s condition", ctx)
	}
	body, _, err := p.parseBody(ctx)
	if err != nil {
		return Branch{}, err
	}
	return Branch{Condition: cond, Body: body}, nil
}

func (p *Parser) parseRepeatExpression() (Expression, error) {
	start := p.curToken
	p.nextToken()
	count, err := p.parseExpression(LOWEST)
	if err != nil {
		return nil, err
	}
	if p.curToken.Type != TIMES {
		return nil, p.errorAt(p.curToken, "Expected 'times' after repeat-count expression, found %s", p.curToken.describe())
	}
	p.nextToken()
	if p.curToken.Type != COLON {
		return nil, p.errorAt(p.curToken, "Expected ':' after repeat")
	}
	body, _, err := p.parseBody("repeat")
	if err != nil {
		return nil, err
	}
	return &RepeatExpression{Pos: start.Pos(), Count: count, Body: body}, nil
}

// parseJSONValue reads a constant JSON tree. Anything that would need
// evaluation is rejected.
func (p *Parser) parseJSONValue() (any, error) {
	tok := p.curToken
	switch tok.Type {
	case LBRACE:
		return p.parseJSONObject()
	case LBRACKET:
		return p.parseJSONArray()
	case STRING:
		p.nextToken()
		return tok.Literal, nil
	case NUMBER:
		p.nextToken()
		return strconv.ParseFloat(tok.Literal, 64)
	case MINUS:
		p.nextToken()
		numTok, err := p.expect(NUMBER, "Expected a number after '-' in json literal")
		if err != nil {
			return nil, err
		}
		n, convErr := strconv.ParseFloat(numTok.Literal, 64)
		if convErr != nil {
			return nil, p.errorAt(numTok, "Invalid number literal '%s'", numTok.Literal)
		}
		return -n, nil
	case TRUE, FALSE:
		p.nextToken()
		return tok.Type == TRUE, nil
	case IDENT:
		if tok.Literal == "null" {
			p.nextToken()
			return nil, nil
		}
		return nil, p.errorAt(tok, "Non-constant value '%s' in json literal", tok.Literal)
	case EOF, NEWLINE:
		return nil, p.errorAt(tok, "Expected JSON value after 'json'")
	}
	return nil, p.errorAt(tok, "Non-constant value %s in json literal", tok.describe())
}

func (p *Parser) parseJSONObject() (any, error) {
	p.nextToken()
	obj := make(map[string]any)
	if p.curToken.Type == RBRACE {
		p.nextToken()
		return obj, nil
	}
	for {
		keyTok := p.curToken
		if keyTok.Type != STRING && !isWordToken(keyTok) {
			return nil, p.errorAt(keyTok, "Expected identifier or string as json key, found %s", keyTok.describe())
		}
		p.nextToken()
		if _, err := p.expect(COLON, "Expected ':' after json key %q", keyTok.Literal); err != nil {
			return nil, err
		}
		value, err := p.parseJSONValue()
		if err != nil {
			return nil, err
		}
		obj[keyTok.Literal] = value
		switch p.curToken.Type {
		case COMMA:
			p.nextToken()
		case RBRACE:
			p.nextToken()
			return obj, nil
		default:
			return nil, p.errorAt(p.curToken, "Expected ',' or '}' in json object, found %s", p.curToken.describe())
		}
	}
}

func (p *Parser) parseJSONArray() (any, error) {
	p.nextToken()
	arr := []any{}
	if p.curToken.Type == RBRACKET {
		p.nextToken()
		return arr, nil
	}
	for {
		value, err := p.parseJSONValue()
		if err != nil {
			return nil, err
		}
		arr = append(arr, value)
		switch p.curToken.Type {
		case COMMA:
			p.nextToken()
		case RBRACKET:
			p.nextToken()
			return arr, nil
		default:
			return nil, p.errorAt(p.curToken, "Expected ',' or ']' in json array, found %s", p.curToken.describe())
		}
	}
}

func isWordToken(tok Token) bool {
	return tok.Type == IDENT || IsKeyword(tok.Literal)
}
