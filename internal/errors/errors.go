package errors

import (
	"fmt"
	"strings"
)

// Error kind constants
const (
	PlanFormat           = "PLAN_FORMAT"
	UnboundVariable      = "UNBOUND_VARIABLE"
	ExpressionSyntax     = "EXPRESSION_SYNTAX"
	ExpressionEvaluation = "EXPRESSION_EVALUATION"
	UnknownFunction      = "UNKNOWN_FUNCTION"
	FunctionInvocation   = "FUNCTION_INVOCATION"
)

// Sentinels for errors.Is. Only Kind is compared.
var (
	ErrPlanFormat           = &Error{Kind: PlanFormat}
	ErrUnboundVariable      = &Error{Kind: UnboundVariable}
	ErrExpressionSyntax     = &Error{Kind: ExpressionSyntax}
	ErrExpressionEvaluation = &Error{Kind: ExpressionEvaluation}
	ErrUnknownFunction      = &Error{Kind: UnknownFunction}
	ErrFunctionInvocation   = &Error{Kind: FunctionInvocation}
)

// Error is a structured plan error for caller and agent consumption.
type Error struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"`
	Expr    string   `json:"expr,omitempty"`
	Name    string   `json:"name,omitempty"`
	Hint    string   `json:"hint,omitempty"`
	Err     error    `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Kind)
	if len(e.Path) > 0 {
		fmt.Fprintf(&b, " step %s:", FormatPath(e.Path))
	}
	b.WriteString(" ")
	b.WriteString(e.Message)
	if e.Expr != "" {
		fmt.Fprintf(&b, " (in %q)", e.Expr)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithPath returns a copy of e tagged with path, unless e already carries one.
// Errors raised deep inside nested steps keep their innermost path.
func (e *Error) WithPath(path []string) *Error {
	if len(e.Path) > 0 {
		return e
	}
	cp := *e
	cp.Path = append([]string(nil), path...)
	return &cp
}

// WithExpr returns a copy of e carrying the source expression, unless it has one.
func (e *Error) WithExpr(src string) *Error {
	if e.Expr != "" {
		return e
	}
	cp := *e
	cp.Expr = src
	return &cp
}

// FormatPath renders a step path as "outer > inner".
func FormatPath(path []string) string {
	return strings.Join(path, " > ")
}

func NewPlanFormatError(path []string, msg, hint string) *Error {
	return &Error{Kind: PlanFormat, Path: path, Message: msg, Hint: hint}
}

func NewUnboundVariableError(name string) *Error {
	return &Error{
		Kind:    UnboundVariable,
		Name:    name,
		Message: fmt.Sprintf("name %q is not defined", name),
	}
}

func NewSyntaxError(src, msg string) *Error {
	return &Error{Kind: ExpressionSyntax, Expr: src, Message: msg}
}

func NewEvaluationError(msg string) *Error {
	return &Error{Kind: ExpressionEvaluation, Message: msg}
}

func NewUnknownFunctionError(name string) *Error {
	return &Error{
		Kind:    UnknownFunction,
		Name:    name,
		Message: fmt.Sprintf("function %q is not registered", name),
	}
}

func NewInvocationError(name string, err error) *Error {
	return &Error{
		Kind:    FunctionInvocation,
		Name:    name,
		Message: fmt.Sprintf("function %q failed: %v", name, err),
		Err:     err,
	}
}
