package svcl

import (
	"reflect"
	"testing"
)

const diagnosticsSource = `endpoint GET "/users/:id": "user"
endpoint GET "/users/:id": "user " + id
endpoint POST "/users/:id": json {"ok": true}

func greet(name, unused): "hi " + name

class Util:
    echo(x, y): x
`

func TestDiagnoseDeclarationOrder(t *testing.T) {
	prog := mustParse(t, diagnosticsSource)
	expected := []Diagnostic{
		{Kind: DiagnosticWarning, Scope: "endpoint", Name: "/users/:id", Message: "Path parameter :id is never used in this endpoint body"},
		{Kind: DiagnosticWarning, Scope: "endpoint", Name: "/users/:id", Message: "Duplicate endpoint for GET /users/:id"},
		{Kind: DiagnosticWarning, Scope: "endpoint", Name: "/users/:id", Message: "Path parameter :id is never used in this endpoint body"},
		{Kind: DiagnosticWarning, Scope: "function", Name: "greet", Message: "Parameter 'unused' is never used in function body"},
		{Kind: DiagnosticWarning, Scope: "method", Name: "Util.echo", Message: "Parameter 'y' is never used in method body"},
	}
	got := Diagnose(prog, nil)
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("unexpected diagnostics:\n%v\nexpected:\n%v", got, expected)
	}
	again := Diagnose(prog, nil)
	if !reflect.DeepEqual(got, again) {
		t.Fatal("diagnostics differ between runs on the same program")
	}
	if HasErrors(got) {
		t.Fatal("expected warnings only")
	}
	if w, e := Count(got); w != 5 || e != 0 {
		t.Fatalf("expected 5 warnings and 0 errors, got %d and %d", w, e)
	}
}

func TestDiagnoseUnusedParameterMatchesFreeVars(t *testing.T) {
	prog := mustParse(t, `func f(a, b, c):
    if a > 0: repeat b times: "x" else: g(1)
`)
	fn := prog.Functions["f"]
	free := FreeVars(fn.Body)
	diags := Diagnose(prog, nil)
	flagged := map[string]bool{}
	for _, d := range diags {
		if d.Scope == "function" {
			flagged[d.Message] = true
		}
	}
	for _, p := range fn.Params {
		_, used := free[p]
		msg := "Parameter '" + p + "' is never used in function body"
		if used == flagged[msg] {
			t.Fatalf("parameter %s: used=%v flagged=%v", p, used, flagged[msg])
		}
	}
	if len(diags) != 1 {
		t.Fatalf("expected exactly one diagnostic, got %v", diags)
	}
}

func TestTypeCheckReturnMismatch(t *testing.T) {
	annotations := Annotations{"add": {Params: []string{"number", "number"}, Result: "number"}}

	prog := mustParse(t, `func add(a, b): "sum: " + a + b`)
	diags := Diagnose(prog, annotations)
	expected := []Diagnostic{
		{Kind: DiagnosticError, Scope: "function", Name: "add", Message: "Return type mismatch: expected number, got string"},
	}
	if !reflect.DeepEqual(diags, expected) {
		t.Fatalf("unexpected diagnostics %v", diags)
	}

	prog = mustParse(t, `func add(a, b): a + b * 2`)
	if diags := Diagnose(prog, annotations); len(diags) != 0 {
		t.Fatalf("expected no diagnostics, got %v", diags)
	}
}

func TestTypeCheckParamCountMismatch(t *testing.T) {
	prog := mustParse(t, `func add(a, b): "x" + a + b`)
	diags := Diagnose(prog, Annotations{"add": {Params: []string{"number"}, Result: "number"}})
	expected := []Diagnostic{
		{Kind: DiagnosticError, Scope: "function", Name: "add", Message: "Type annotation has 1 params but function 'add' has 2 params"},
	}
	if !reflect.DeepEqual(diags, expected) {
		t.Fatalf("unexpected diagnostics %v", diags)
	}
}

func TestTypeCheckCallSites(t *testing.T) {
	prog := mustParse(t, `func add(a, b): a + b
func twice(x): add(x, "y") + add(x)
`)
	annotations := Annotations{
		"add":   {Params: []string{"number", "number"}, Result: "number"},
		"twice": {Params: []string{"int"}, Result: "number"},
	}
	expected := []Diagnostic{
		{Kind: DiagnosticError, Scope: "call", Name: "add", Message: "Argument 2 to 'add' has type string but annotation expects number"},
		{Kind: DiagnosticError, Scope: "call", Name: "add", Message: "Call to 'add' expected 2 arguments but got 1"},
	}
	if diags := Diagnose(prog, annotations); !reflect.DeepEqual(diags, expected) {
		t.Fatalf("unexpected diagnostics %v", diags)
	}
}

func TestTypeCheckNumericWarningAndJoin(t *testing.T) {
	prog := mustParse(t, `func dec(flag): flag - 1
func pick(c): if c: 1 else: "a"
func same(c): if c: 1 else: 2
`)
	annotations := Annotations{
		"dec":  {Params: []string{"boolean"}, Result: "number"},
		"pick": {Params: []string{"bool"}, Result: "string"},
		"same": {Params: []string{"bool"}, Result: "str"},
	}
	expected := []Diagnostic{
		{Kind: DiagnosticWarning, Scope: "expression", Name: "", Message: "Numeric operator used with non-number operand(s)"},
		{Kind: DiagnosticError, Scope: "function", Name: "same", Message: "Return type mismatch: expected string, got number"},
	}
	if diags := Diagnose(prog, annotations); !reflect.DeepEqual(diags, expected) {
		t.Fatalf("unexpected diagnostics %v", diags)
	}
}

func TestParseTypeAliases(t *testing.T) {
	cases := map[string]Type{
		"number": TypeNumber, "Integer": TypeNumber, "float": TypeNumber, "int": TypeNumber,
		"string": TypeString, "STR": TypeString,
		"bool": TypeBool, "boolean": TypeBool,
		"json": TypeAny, "": TypeAny,
	}
	for name, expected := range cases {
		if got := ParseType(name); got != expected {
			t.Fatalf("ParseType(%q) = %s, expected %s", name, got, expected)
		}
	}
	if !Assignable(TypeAny, TypeNumber) || !Assignable(TypeString, TypeAny) || Assignable(TypeString, TypeNumber) {
		t.Fatal("unexpected assignability")
	}
}
