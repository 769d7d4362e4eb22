package svcl

import (
	"context"
	"fmt"
	"math"

	"github.com/oarkflow/log"
)

const (
	// MaxRepeatIterations is the largest accepted repeat count. Larger counts fail.
	MaxRepeatIterations = 10000
	DefaultMaxCallDepth = 256
)

// Target selects what an evaluation runs: a bare expression, a function or a class method.
type Target interface {
	String() string
}

type exprTarget struct {
	expr Expression
}

func (t exprTarget) String() string { return "expression" }

type functionTarget struct {
	name string
	args []Value
}

func (t functionTarget) String() string { return "function " + t.name }

type methodTarget struct {
	class  string
	method string
	args   []Value
}

func (t methodTarget) String() string { return "method " + t.class + "." + t.method }

func ExprTarget(expr Expression) Target { return exprTarget{expr: expr} }

func FunctionTarget(name string, args ...Value) Target {
	return functionTarget{name: name, args: args}
}

func MethodTarget(class, method string, args ...Value) Target {
	return methodTarget{class: class, method: method, args: args}
}

// EndpointTarget evaluates an endpoint body.
func EndpointTarget(ep *EndpointDecl) Target { return exprTarget{expr: ep.Body} }

// Evaluator runs targets against one Program. It holds no per-evaluation
// state and can be shared between goroutines.
type Evaluator struct {
	program      *Program
	logger       *log.Logger
	maxCallDepth int
	globals      map[string]Value
}

func NewEvaluator(program *Program, opts ...Option) *Evaluator {
	e := &Evaluator{
		program:      program,
		logger:       &log.DefaultLogger,
		maxCallDepth: DefaultMaxCallDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) Program() *Program { return e.program }

// Evaluate is a convenience wrapper around NewEvaluator(program, opts...).Evaluate.
func Evaluate(ctx context.Context, program *Program, target Target, vars map[string]Value, caps Capabilities, opts ...Option) (Value, error) {
	return NewEvaluator(program, opts...).Evaluate(ctx, target, vars, caps)
}

// Evaluate runs target with vars as the top-level scope. Failures are *RuntimeError
// except for a nil program.
func (e *Evaluator) Evaluate(ctx context.Context, target Target, vars map[string]Value, caps Capabilities) (Value, error) {
	if e.program == nil {
		return Value{}, ErrNilProgram
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if caps == nil {
		caps = NoBuiltins
	}
	if vars == nil {
		vars = map[string]Value{}
	}
	ev := &evaluation{Evaluator: e, ctx: ctx, caps: caps}
	switch t := target.(type) {
	case exprTarget:
		if t.expr == nil {
			return Empty, nil
		}
		return ev.eval(t.expr, vars)
	case functionTarget:
		return ev.call(t.name, t.args)
	case methodTarget:
		return ev.callMethod(t.class, t.method, t.args)
	}
	return Value{}, runtimeErrorf(ErrCodeUnknownCallee, "Unsupported evaluation target %T", target)
}

// evaluation is the per-call state of one Evaluate invocation.
type evaluation struct {
	*Evaluator
	ctx   context.Context
	caps  Capabilities
	depth int
}

func (ev *evaluation) checkContext() error {
	if err := ev.ctx.Err(); err != nil {
		return &RuntimeError{Code: ErrCodeCanceled, Message: "evaluation canceled", Cause: err}
	}
	return nil
}

func (ev *evaluation) eval(expr Expression, scope map[string]Value) (Value, error) {
	switch node := expr.(type) {
	case *NumberLiteral:
		return Number(node.Value), nil
	case *StringLiteral:
		return String(node.Value), nil
	case *BooleanLiteral:
		return Bool(node.Value), nil
	case *JSONLiteral:
		return JSON(node.Value), nil
	case *Identifier:
		return ev.lookup(node.Name, scope)
	case *BinaryExpression:
		return ev.evalBinary(node, scope)
	case *CallExpression:
		args, err := ev.evalArgs(node.Args, scope)
		if err != nil {
			return Value{}, err
		}
		return ev.call(node.Function, args)
	case *MethodCallExpression:
		args, err := ev.evalArgs(node.Args, scope)
		if err != nil {
			return Value{}, err
		}
		return ev.callMethod(node.Class, node.Method, args)
	case *IfExpression:
		return ev.evalIf(node, scope)
	case *RepeatExpression:
		return ev.evalRepeat(node, scope)
	case nil:
		return Empty, nil
	}
	return Value{}, runtimeErrorf(ErrCodeTypeMismatch, "Unsupported expression %T", expr)
}

func (ev *evaluation) lookup(name string, scope map[string]Value) (Value, error) {
	if v, ok := scope[name]; ok {
		return v, nil
	}
	if v, ok := ev.globals[name]; ok {
		return v, nil
	}
	return Value{}, runtimeErrorf(ErrCodeUnknownVariable, "Unknown variable '%s'", name)
}

func (ev *evaluation) evalArgs(args []Expression, scope map[string]Value) ([]Value, error) {
	out := make([]Value, 0, len(args))
	for _, a := range args {
		v, err := ev.eval(a, scope)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (ev *evaluation) evalBinary(node *BinaryExpression, scope map[string]Value) (Value, error) {
	left, err := ev.eval(node.Left, scope)
	if err != nil {
		return Value{}, err
	}
	switch node.Operator {
	case AND:
		if !left.Truthy() {
			return Bool(false), nil
		}
		right, err := ev.eval(node.Right, scope)
		if err != nil {
			return Value{}, err
		}
		return Bool(right.Truthy()), nil
	case OR:
		if left.Truthy() {
			return Bool(true), nil
		}
		right, err := ev.eval(node.Right, scope)
		if err != nil {
			return Value{}, err
		}
		return Bool(right.Truthy()), nil
	}
	right, err := ev.eval(node.Right, scope)
	if err != nil {
		return Value{}, err
	}
	return ApplyOperator(node.Operator, left, right)
}

// ApplyOperator applies a non-logical binary operator to two evaluated operands.
func ApplyOperator(op TokenType, left, right Value) (Value, error) {
	switch op {
	case PLUS:
		if left.IsString() || right.IsString() {
			return String(left.Render() + right.Render()), nil
		}
		a, b, err := numericOperands(op, left, right)
		if err != nil {
			return Value{}, err
		}
		return Number(a + b), nil
	case MINUS, ASTERISK, SLASH:
		a, b, err := numericOperands(op, left, right)
		if err != nil {
			return Value{}, err
		}
		switch op {
		case MINUS:
			return Number(a - b), nil
		case ASTERISK:
			return Number(a * b), nil
		}
		if b == 0 {
			return Value{}, runtimeErrorf(ErrCodeDivisionByZero, "Division by zero")
		}
		return Number(a / b), nil
	case EQ:
		return Bool(left.Equal(right)), nil
	case NOT_EQ:
		return Bool(!left.Equal(right)), nil
	case LT, LTE, GT, GTE:
		a, b, err := numericOperands(op, left, right)
		if err != nil {
			return Value{}, err
		}
		switch op {
		case LT:
			return Bool(a < b), nil
		case LTE:
			return Bool(a <= b), nil
		case GT:
			return Bool(a > b), nil
		}
		return Bool(a >= b), nil
	case AND:
		return Bool(left.Truthy() && right.Truthy()), nil
	case OR:
		return Bool(left.Truthy() || right.Truthy()), nil
	}
	return Value{}, runtimeErrorf(ErrCodeTypeMismatch, "Unsupported operator '%s'", operatorLiteral(op))
}

func numericOperands(op TokenType, left, right Value) (float64, float64, error) {
	a, okA := left.AsNumber()
	b, okB := right.AsNumber()
	if !okA || !okB {
		return 0, 0, runtimeErrorf(ErrCodeTypeMismatch, "Operator '%s' expects numbers, got %s and %s",
			operatorLiteral(op), left.Kind(), right.Kind())
	}
	return a, b, nil
}

func (ev *evaluation) evalIf(node *IfExpression, scope map[string]Value) (Value, error) {
	for _, br := range node.Branches {
		cond, err := ev.eval(br.Condition, scope)
		if err != nil {
			return Value{}, err
		}
		if cond.Truthy() {
			return ev.eval(br.Body, scope)
		}
	}
	if node.Else != nil {
		return ev.eval(node.Else, scope)
	}
	return Empty, nil
}

func (ev *evaluation) evalRepeat(node *RepeatExpression, scope map[string]Value) (Value, error) {
	countVal, err := ev.eval(node.Count, scope)
	if err != nil {
		return Value{}, err
	}
	n, ok := countVal.AsNumber()
	if !ok || math.IsNaN(n) {
		return Value{}, runtimeErrorf(ErrCodeTypeMismatch, "repeat count must be a number, got %s", countVal.Kind())
	}
	n = math.Floor(n)
	if n > MaxRepeatIterations {
		return Value{}, runtimeErrorf(ErrCodeIterationLimit, "repeat count %s exceeds the limit of %d", FormatNumber(n), MaxRepeatIterations)
	}
	count := 0
	if n > 0 {
		count = int(n)
	}
	result := Empty
	for i := 0; i < count; i++ {
		if err := ev.checkContext(); err != nil {
			return Value{}, err
		}
		result, err = ev.eval(node.Body, scope)
		if err != nil {
			return Value{}, err
		}
	}
	return result, nil
}

// call resolves name against builtins first, then user functions.
func (ev *evaluation) call(name string, args []Value) (Value, error) {
	if err := ev.checkContext(); err != nil {
		return Value{}, err
	}
	if b, ok := ev.caps.Lookup(name); ok {
		return ev.invokeBuiltin(name, b, args)
	}
	fn, ok := ev.program.Functions[name]
	if !ok {
		return Value{}, runtimeErrorf(ErrCodeUnknownCallee, "Unknown function '%s'", name)
	}
	if len(args) != len(fn.Params) {
		return Value{}, runtimeErrorf(ErrCodeArityMismatch, "Function '%s' expected %d arguments, got %d", name, len(fn.Params), len(args))
	}
	return ev.invokeBody(name, fn.Params, fn.Body, args)
}

func (ev *evaluation) callMethod(class, method string, args []Value) (Value, error) {
	if err := ev.checkContext(); err != nil {
		return Value{}, err
	}
	qualified := class + "." + method
	if b, ok := ev.caps.Lookup(qualified); ok {
		return ev.invokeBuiltin(qualified, b, args)
	}
	cls, ok := ev.program.Classes[class]
	if !ok {
		return Value{}, runtimeErrorf(ErrCodeUnknownCallee, "Unknown class '%s'", class)
	}
	m, ok := cls.Method(method)
	if !ok {
		return Value{}, runtimeErrorf(ErrCodeUnknownCallee, "Unknown method '%s' on class '%s'", method, class)
	}
	if len(args) != len(m.Params) {
		return Value{}, runtimeErrorf(ErrCodeArityMismatch, "Method '%s' expected %d arguments, got %d", qualified, len(m.Params), len(args))
	}
	return ev.invokeBody(qualified, m.Params, m.Body, args)
}

// invokeBody runs a function or method body in a fresh scope holding only its parameters.
func (ev *evaluation) invokeBody(name string, params []string, body Expression, args []Value) (Value, error) {
	if ev.depth >= ev.maxCallDepth {
		return Value{}, runtimeErrorf(ErrCodeCallDepthExceeded, "Maximum call depth of %d exceeded calling '%s'", ev.maxCallDepth, name)
	}
	scope := make(map[string]Value, len(params))
	for i, p := range params {
		scope[p] = args[i]
	}
	ev.depth++
	defer func() { ev.depth-- }()
	return ev.eval(body, scope)
}

func (ev *evaluation) invokeBuiltin(name string, b Builtin, args []Value) (Value, error) {
	if !b.Arity.Accepts(len(args)) {
		return Value{}, runtimeErrorf(ErrCodeArityMismatch, "Builtin '%s' expects %s argument(s), got %d", name, b.Arity, len(args))
	}
	if b.Invoke == nil {
		return Value{}, runtimeErrorf(ErrCodeUnknownCallee, "Builtin '%s' has no implementation", name)
	}
	result, err := b.Invoke(ev.ctx, args)
	if err == nil {
		return result, nil
	}
	if b.Policy == FailureAbsorb {
		ev.logger.Warn().Err(err).Str("builtin", name).Msg("builtin failure absorbed into result")
		return String(fmt.Sprintf("%s error: %v", name, err)), nil
	}
	return Value{}, &RuntimeError{Code: ErrCodeBuiltinFailure, Message: fmt.Sprintf("builtin '%s' failed", name), Cause: err}
}
