package svcl

// Inspect traverses expr depth-first in source order. Children are skipped
// when fn returns false.
func Inspect(expr Expression, fn func(Expression) bool) {
	if expr == nil || !fn(expr) {
		return
	}
	switch node := expr.(type) {
	case *BinaryExpression:
		Inspect(node.Left, fn)
		Inspect(node.Right, fn)
	case *CallExpression:
		for _, a := range node.Args {
			Inspect(a, fn)
		}
	case *MethodCallExpression:
		for _, a := range node.Args {
			Inspect(a, fn)
		}
	case *IfExpression:
		for _, br := range node.Branches {
			Inspect(br.Condition, fn)
			Inspect(br.Body, fn)
		}
		Inspect(node.Else, fn)
	case *RepeatExpression:
		Inspect(node.Count, fn)
		Inspect(node.Body, fn)
	}
}

// FreeVars returns the set of variable names referenced by expr. The language
// has no binding forms inside expressions, so every identifier is free.
func FreeVars(expr Expression) map[string]struct{} {
	vars := make(map[string]struct{})
	Inspect(expr, func(e Expression) bool {
		if id, ok := e.(*Identifier); ok {
			vars[id.Name] = struct{}{}
		}
		return true
	})
	return vars
}

// unusedNames returns the names absent from the free variables of body, in the given order.
func unusedNames(names []string, body Expression) []string {
	free := FreeVars(body)
	var unused []string
	for _, n := range names {
		if _, ok := free[n]; !ok {
			unused = append(unused, n)
		}
	}
	return unused
}
