package svcl

import (
	"fmt"
	"strings"
)

// Type is a point of the static lattice {number, string, bool, any}.
type Type int

const (
	TypeAny Type = iota
	TypeNumber
	TypeString
	TypeBool
)

func (t Type) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	}
	return "any"
}

// ParseType maps an annotation type name to the lattice. Unknown names are any.
func ParseType(name string) Type {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "number", "float", "int", "integer":
		return TypeNumber
	case "string", "str":
		return TypeString
	case "bool", "boolean":
		return TypeBool
	}
	return TypeAny
}

// Assignable reports whether a value of type actual may stand where expected is required.
func Assignable(actual, expected Type) bool {
	return expected == TypeAny || actual == expected || actual == TypeAny
}

// FunctionType annotates one function. An empty Result skips the return check.
type FunctionType struct {
	Params []string `json:"params" yaml:"params" toml:"params"`
	Result string   `json:"result,omitempty" yaml:"result,omitempty" toml:"result"`
}

// Annotations maps function names to their declared types.
type Annotations map[string]FunctionType

type typeChecker struct {
	annotations Annotations
	diags       []Diagnostic
}

// checkFunction appends the type diagnostics of one annotated function.
func (tc *typeChecker) checkFunction(fn *FunctionDef, annot FunctionType) {
	if len(annot.Params) != len(fn.Params) {
		tc.report(DiagnosticError, "function", fn.Name,
			fmt.Sprintf("Type annotation has %d params but function '%s' has %d params", len(annot.Params), fn.Name, len(fn.Params)))
		return
	}
	env := make(map[string]Type, len(fn.Params))
	for i, p := range fn.Params {
		env[p] = ParseType(annot.Params[i])
	}
	bodyType := tc.infer(fn.Body, env)
	if annot.Result == "" {
		return
	}
	expected := ParseType(annot.Result)
	if !Assignable(bodyType, expected) {
		tc.report(DiagnosticError, "function", fn.Name,
			fmt.Sprintf("Return type mismatch: expected %s, got %s", expected, bodyType))
	}
}

func (tc *typeChecker) report(kind DiagnosticKind, scope, name, message string) {
	tc.diags = append(tc.diags, Diagnostic{Kind: kind, Scope: scope, Name: name, Message: message})
}

func (tc *typeChecker) infer(expr Expression, env map[string]Type) Type {
	switch node := expr.(type) {
	case *NumberLiteral:
		return TypeNumber
	case *StringLiteral:
		return TypeString
	case *BooleanLiteral:
		return TypeBool
	case *Identifier:
		if t, ok := env[node.Name]; ok {
			return t
		}
		return TypeAny
	case *BinaryExpression:
		left := tc.infer(node.Left, env)
		right := tc.infer(node.Right, env)
		switch node.Operator {
		case PLUS:
			if left == TypeString || right == TypeString {
				return TypeString
			}
			if !Assignable(left, TypeNumber) || !Assignable(right, TypeNumber) {
				tc.report(DiagnosticWarning, "expression", "", "Numeric operator used with non-number operand(s)")
			}
			return TypeNumber
		case MINUS, ASTERISK, SLASH:
			if !Assignable(left, TypeNumber) || !Assignable(right, TypeNumber) {
				tc.report(DiagnosticWarning, "expression", "", "Numeric operator used with non-number operand(s)")
			}
			return TypeNumber
		}
		return TypeBool
	case *CallExpression:
		return tc.inferCall(node, env)
	case *MethodCallExpression:
		for _, a := range node.Args {
			tc.infer(a, env)
		}
		return TypeAny
	case *IfExpression:
		var branches []Type
		for _, br := range node.Branches {
			tc.infer(br.Condition, env)
			branches = append(branches, tc.infer(br.Body, env))
		}
		if node.Else != nil {
			branches = append(branches, tc.infer(node.Else, env))
		}
		return joinTypes(branches)
	case *RepeatExpression:
		tc.infer(node.Count, env)
		return tc.infer(node.Body, env)
	}
	return TypeAny
}

func (tc *typeChecker) inferCall(call *CallExpression, env map[string]Type) Type {
	annot, ok := tc.annotations[call.Function]
	if !ok {
		for _, a := range call.Args {
			tc.infer(a, env)
		}
		return TypeAny
	}
	if len(annot.Params) != len(call.Args) {
		tc.report(DiagnosticError, "call", call.Function,
			fmt.Sprintf("Call to '%s' expected %d arguments but got %d", call.Function, len(annot.Params), len(call.Args)))
	} else {
		for i, arg := range call.Args {
			expected := ParseType(annot.Params[i])
			actual := tc.infer(arg, env)
			if !Assignable(actual, expected) {
				tc.report(DiagnosticError, "call", call.Function,
					fmt.Sprintf("Argument %d to '%s' has type %s but annotation expects %s", i+1, call.Function, actual, expected))
			}
		}
	}
	if annot.Result == "" {
		return TypeAny
	}
	return ParseType(annot.Result)
}

// joinTypes is the common type when all branches agree, any otherwise.
func joinTypes(types []Type) Type {
	if len(types) == 0 {
		return TypeAny
	}
	first := types[0]
	for _, t := range types[1:] {
		if t != first {
			return TypeAny
		}
	}
	return first
}
