package svcl

import (
	"fmt"
)

type DiagnosticKind string

const (
	DiagnosticWarning DiagnosticKind = "warning"
	DiagnosticError   DiagnosticKind = "error"
)

// Diagnostic is advisory. It never blocks parsing or evaluation.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Scope   string         `json:"scope"`
	Name    string         `json:"name"`
	Message string         `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Name == "" {
		return fmt.Sprintf("%s [%s]: %s", d.Kind, d.Scope, d.Message)
	}
	return fmt.Sprintf("%s [%s %s]: %s", d.Kind, d.Scope, d.Name, d.Message)
}

// Diagnose walks the program's declarations in source order. It is pure: the
// same program and annotations always yield the same list in the same order.
func Diagnose(program *Program, annotations Annotations) []Diagnostic {
	diags := []Diagnostic{}
	if program == nil {
		return diags
	}
	tc := &typeChecker{annotations: annotations}
	seen := make(map[string]struct{})
	for _, decl := range program.Decls {
		switch d := decl.(type) {
		case *EndpointDecl:
			key := string(d.Method) + " " + d.Path
			if _, dup := seen[key]; dup {
				diags = append(diags, Diagnostic{
					Kind:    DiagnosticWarning,
					Scope:   "endpoint",
					Name:    d.Path,
					Message: fmt.Sprintf("Duplicate endpoint for %s %s", d.Method, d.Path),
				})
			}
			seen[key] = struct{}{}
			for _, p := range unusedNames(d.PathParams(), d.Body) {
				diags = append(diags, Diagnostic{
					Kind:    DiagnosticWarning,
					Scope:   "endpoint",
					Name:    d.Path,
					Message: fmt.Sprintf("Path parameter :%s is never used in this endpoint body", p),
				})
			}
		case *FunctionDef:
			for _, p := range unusedNames(d.Params, d.Body) {
				diags = append(diags, Diagnostic{
					Kind:    DiagnosticWarning,
					Scope:   "function",
					Name:    d.Name,
					Message: fmt.Sprintf("Parameter '%s' is never used in function body", p),
				})
			}
			if annot, ok := annotations[d.Name]; ok {
				tc.diags = tc.diags[:0]
				tc.checkFunction(d, annot)
				diags = append(diags, tc.diags...)
			}
		case *ClassDef:
			for _, m := range d.Methods {
				for _, p := range unusedNames(m.Params, m.Body) {
					diags = append(diags, Diagnostic{
						Kind:    DiagnosticWarning,
						Scope:   "method",
						Name:    m.QualifiedName(),
						Message: fmt.Sprintf("Parameter '%s' is never used in method body", p),
					})
				}
			}
		}
	}
	return diags
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Kind == DiagnosticError {
			return true
		}
	}
	return false
}

// Count returns the number of warnings and errors.
func Count(diags []Diagnostic) (warnings, errs int) {
	for _, d := range diags {
		if d.Kind == DiagnosticError {
			errs++
		} else {
			warnings++
		}
	}
	return warnings, errs
}
