package svcl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oarkflow/json"
)

// Pos is a 1-based source position.
type Pos struct {
	Line   int
	Column int
}

func (p Pos) Position() Pos { return p }

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Column) }

type Node interface {
	TokenLiteral() string
	String() string
	Position() Pos
}

type Expression interface {
	Node
	ExpressionNode()
}

type Declaration interface {
	Node
	declarationNode()
}

type NumberLiteral struct {
	Pos
	Value float64
}

func (nl *NumberLiteral) ExpressionNode()      {}
func (nl *NumberLiteral) TokenLiteral() string { return FormatNumber(nl.Value) }
func (nl *NumberLiteral) String() string       { return FormatNumber(nl.Value) }

type StringLiteral struct {
	Pos
	Value string
}

func (sl *StringLiteral) ExpressionNode()      {}
func (sl *StringLiteral) TokenLiteral() string { return sl.Value }
func (sl *StringLiteral) String() string       { return quoteString(sl.Value) }

type BooleanLiteral struct {
	Pos
	Value bool
}

func (bl *BooleanLiteral) ExpressionNode()      {}
func (bl *BooleanLiteral) TokenLiteral() string { return strconv.FormatBool(bl.Value) }
func (bl *BooleanLiteral) String() string       { return strconv.FormatBool(bl.Value) }

// JSONLiteral holds a constant JSON tree built by the parser. It is never
// evaluated further.
type JSONLiteral struct {
	Pos
	Value any
}

func (jl *JSONLiteral) ExpressionNode()      {}
func (jl *JSONLiteral) TokenLiteral() string { return "json" }
func (jl *JSONLiteral) String() string {
	data, err := json.Marshal(jl.Value)
	if err != nil {
		return "json null"
	}
	return "json " + string(data)
}

type Identifier struct {
	Pos
	Name string
}

func (i *Identifier) ExpressionNode()      {}
func (i *Identifier) TokenLiteral() string { return i.Name }
func (i *Identifier) String() string       { return i.Name }

type BinaryExpression struct {
	Pos
	Left     Expression
	Operator TokenType
	Right    Expression
}

func (be *BinaryExpression) ExpressionNode()      {}
func (be *BinaryExpression) TokenLiteral() string { return operatorLiteral(be.Operator) }
func (be *BinaryExpression) String() string {
	return fmt.Sprintf("(%s %s %s)", be.Left.String(), operatorLiteral(be.Operator), be.Right.String())
}

func operatorLiteral(op TokenType) string {
	switch op {
	case AND:
		return "and"
	case OR:
		return "or"
	}
	return string(op)
}

type CallExpression struct {
	Pos
	Function string
	Args     []Expression
}

func (ce *CallExpression) ExpressionNode()      {}
func (ce *CallExpression) TokenLiteral() string { return ce.Function }
func (ce *CallExpression) String() string {
	return fmt.Sprintf("%s(%s)", ce.Function, joinExpressions(ce.Args))
}

type MethodCallExpression struct {
	Pos
	Class  string
	Method string
	Args   []Expression
}

func (mc *MethodCallExpression) ExpressionNode()      {}
func (mc *MethodCallExpression) TokenLiteral() string { return mc.Class + "." + mc.Method }
func (mc *MethodCallExpression) String() string {
	return fmt.Sprintf("%s.%s(%s)", mc.Class, mc.Method, joinExpressions(mc.Args))
}

type Branch struct {
	Condition Expression
	Body      Expression
}

type IfExpression struct {
	Pos
	Branches []Branch
	Else     Expression
}

func (ie *IfExpression) ExpressionNode()      {}
func (ie *IfExpression) TokenLiteral() string { return "if" }
func (ie *IfExpression) String() string {
	var sb strings.Builder
	for i, br := range ie.Branches {
		if i == 0 {
			sb.WriteString("if ")
		} else {
			sb.WriteString(" elif ")
		}
		sb.WriteString(br.Condition.String())
		sb.WriteString(": ")
		sb.WriteString(br.Body.String())
	}
	if ie.Else != nil {
		sb.WriteString(" else: ")
		sb.WriteString(ie.Else.String())
	}
	return sb.String()
}

type RepeatExpression struct {
	Pos
	Count Expression
	Body  Expression
}

func (re *RepeatExpression) ExpressionNode()      {}
func (re *RepeatExpression) TokenLiteral() string { return "repeat" }
func (re *RepeatExpression) String() string {
	return fmt.Sprintf("repeat %s times: %s", re.Count.String(), re.Body.String())
}

func joinExpressions(exprs []Expression) string {
	parts := make([]string, 0, len(exprs))
	for _, e := range exprs {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, ", ")
}

type Method string

const (
	MethodGet  Method = "GET"
	MethodPost Method = "POST"
)

type ServerDecl struct {
	Pos
	Port int
	TLS  bool
}

func (sd *ServerDecl) declarationNode()     {}
func (sd *ServerDecl) TokenLiteral() string { return "server" }
func (sd *ServerDecl) String() string {
	if sd.TLS {
		return fmt.Sprintf("server %d tls", sd.Port)
	}
	return fmt.Sprintf("server %d", sd.Port)
}

type ImportDecl struct {
	Pos
	Path string
}

func (id *ImportDecl) declarationNode()     {}
func (id *ImportDecl) TokenLiteral() string { return "import" }
func (id *ImportDecl) String() string       { return "import " + quoteString(id.Path) }

type EndpointDecl struct {
	Pos
	Method Method
	Path   string
	Body   Expression
}

func (ed *EndpointDecl) declarationNode()     {}
func (ed *EndpointDecl) TokenLiteral() string { return "endpoint" }
func (ed *EndpointDecl) String() string {
	return fmt.Sprintf("endpoint %s %q: %s", ed.Method, ed.Path, ed.Body.String())
}

// PathParams returns the names of the ":name" segments of the path, in order.
func (ed *EndpointDecl) PathParams() []string {
	return PathParams(ed.Path)
}

// BodyKind is "json" for constant JSON bodies and "text" otherwise.
func (ed *EndpointDecl) BodyKind() string {
	if _, ok := ed.Body.(*JSONLiteral); ok {
		return "json"
	}
	return "text"
}

func PathParams(path string) []string {
	var params []string
	for _, seg := range strings.Split(path, "/") {
		if len(seg) > 1 && seg[0] == ':' {
			params = append(params, seg[1:])
		}
	}
	return params
}

type FunctionDef struct {
	Pos
	Name   string
	Params []string
	Body   Expression
}

func (fd *FunctionDef) declarationNode()     {}
func (fd *FunctionDef) TokenLiteral() string { return "func" }
func (fd *FunctionDef) String() string {
	return fmt.Sprintf("func %s(%s): %s", fd.Name, strings.Join(fd.Params, ", "), fd.Body.String())
}

type MethodDef struct {
	Pos
	Class  string
	Name   string
	Params []string
	Body   Expression
}

func (md *MethodDef) TokenLiteral() string { return md.Name }
func (md *MethodDef) String() string {
	return fmt.Sprintf("%s(%s): %s", md.Name, strings.Join(md.Params, ", "), md.Body.String())
}

// QualifiedName is "Class.method".
func (md *MethodDef) QualifiedName() string {
	return md.Class + "." + md.Name
}

type ClassDef struct {
	Pos
	Name    string
	Methods []*MethodDef
}

func (cd *ClassDef) declarationNode()     {}
func (cd *ClassDef) TokenLiteral() string { return "class" }
func (cd *ClassDef) String() string {
	var sb strings.Builder
	sb.WriteString("class " + cd.Name + ":")
	for _, m := range cd.Methods {
		sb.WriteString("\n    " + m.String())
	}
	return sb.String()
}

func (cd *ClassDef) Method(name string) (*MethodDef, bool) {
	for _, m := range cd.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

type FieldDef struct {
	Pos
	Name       string
	Type       string
	Optional   bool
	PrimaryKey bool
}

func (fd *FieldDef) String() string {
	var sb strings.Builder
	sb.WriteString(fd.Name)
	if fd.Optional {
		sb.WriteString("?")
	}
	sb.WriteString(": " + fd.Type)
	if fd.PrimaryKey {
		sb.WriteString(" pk")
	}
	return sb.String()
}

type ModelDef struct {
	Pos
	Name   string
	Table  string
	Fields []*FieldDef
}

func (md *ModelDef) declarationNode()     {}
func (md *ModelDef) TokenLiteral() string { return "model" }
func (md *ModelDef) String() string {
	var sb strings.Builder
	sb.WriteString("model " + md.Name + ":")
	for _, f := range md.Fields {
		sb.WriteString("\n    " + f.String())
	}
	return sb.String()
}

func (md *ModelDef) Field(name string) (*FieldDef, bool) {
	for _, f := range md.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// PrimaryKey returns the first field marked pk, if any.
func (md *ModelDef) PrimaryKey() (*FieldDef, bool) {
	for _, f := range md.Fields {
		if f.PrimaryKey {
			return f, true
		}
	}
	return nil, false
}

// Program is built once by the parser and never mutated afterwards.
type Program struct {
	Server    *ServerDecl
	Imports   []*ImportDecl
	Endpoints []*EndpointDecl
	Functions map[string]*FunctionDef
	Classes   map[string]*ClassDef
	Models    map[string]*ModelDef
	Decls     []Declaration
}

func newProgram() *Program {
	return &Program{
		Functions: make(map[string]*FunctionDef),
		Classes:   make(map[string]*ClassDef),
		Models:    make(map[string]*ModelDef),
	}
}

func (p *Program) String() string {
	var out strings.Builder
	for i, d := range p.Decls {
		if i > 0 {
			out.WriteString("\n")
		}
		out.WriteString(d.String())
	}
	return out.String()
}

// Port returns the declared server port, or fallback when there is no server declaration.
func (p *Program) Port(fallback int) int {
	if p == nil || p.Server == nil {
		return fallback
	}
	return p.Server.Port
}

// quoteString renders s as a string literal the lexer reads back unchanged.
func quoteString(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		return strconv.Quote(s)
	}
	return string(data)
}
