package expr

import "errors"

// ErrEvaluation matches every error returned by this package.
var ErrEvaluation = errors.New("evaluation error")

// ErrIllegalExpression matches any construct outside the accepted grammar,
// including the more specific ErrUnknownSymbol, ErrIllegalCall and
// ErrIllegalOperator.
var ErrIllegalExpression = errors.New("illegal expression")

var (
	ErrSyntax          = errors.New("invalid syntax")
	ErrUnknownSymbol   = errors.New("unknown symbol")
	ErrIllegalCall     = errors.New("illegal function call")
	ErrIllegalOperator = errors.New("illegal operator")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrDomain          = errors.New("math domain error")
	ErrArity           = errors.New("wrong number of arguments")
	ErrNotFinite       = errors.New("result is not a finite number")
)

// Error is the concrete error type returned by Parse and Eval.
type Error struct {
	Kind   error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Detail
}

// Unwrap exposes the kind plus the umbrella errors it belongs to.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind, ErrEvaluation}
	switch e.Kind {
	case ErrUnknownSymbol, ErrIllegalCall, ErrIllegalOperator:
		errs = append(errs, ErrIllegalExpression)
	}
	return errs
}

func newError(kind error, detail string) error {
	return &Error{Kind: kind, Detail: detail}
}
