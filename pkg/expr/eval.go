// Package expr evaluates untrusted arithmetic text. Input is parsed into a
// closed set of node types and walked by an exhaustive switch; anything that
// is not a number, a whitelisted constant, a whitelisted function call or a
// whitelisted operator is rejected before it can do anything.
package expr

import (
	"fmt"
	"math"
)

var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

type function func(args []float64) (float64, error)

var functions = map[string]function{
	"sin":  unary(math.Sin),
	"cos":  unary(math.Cos),
	"tan":  unary(math.Tan),
	"exp":  unary(math.Exp),
	"abs":  unary(math.Abs),
	"sqrt": sqrt,
	"log":  logarithm,
	"max":  extremum("max", math.Max),
	"min":  extremum("min", math.Min),
}

// Eval parses and evaluates src. The result is always a finite number.
func Eval(src string) (float64, error) {
	n, err := Parse(src)
	if err != nil {
		return 0, err
	}
	v, err := evalNode(n)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, newError(ErrNotFinite, "")
	}
	return v, nil
}

func evalNode(n Node) (float64, error) {
	switch n := n.(type) {
	case *Number:
		return n.Value, nil
	case *Name:
		v, ok := constants[n.ID]
		if !ok {
			return 0, newError(ErrUnknownSymbol, n.ID)
		}
		return v, nil
	case *Call:
		name, ok := n.Func.(*Name)
		if !ok {
			return 0, newError(ErrIllegalCall, "callee is not a plain name")
		}
		fn, ok := functions[name.ID]
		if !ok {
			return 0, newError(ErrIllegalCall, name.ID)
		}
		args := make([]float64, len(n.Args))
		for i, a := range n.Args {
			v, err := evalNode(a)
			if err != nil {
				return 0, err
			}
			args[i] = v
		}
		v, err := fn(args)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name.ID, err)
		}
		return finite(v, name.ID)
	case *Unary:
		if n.Op != "+" && n.Op != "-" {
			return 0, newError(ErrIllegalOperator, n.Op)
		}
		x, err := evalNode(n.X)
		if err != nil {
			return 0, err
		}
		if n.Op == "-" {
			return -x, nil
		}
		return x, nil
	case *Binary:
		op, ok := binaryOps[n.Op]
		if !ok {
			return 0, newError(ErrIllegalOperator, n.Op)
		}
		x, err := evalNode(n.X)
		if err != nil {
			return 0, err
		}
		y, err := evalNode(n.Y)
		if err != nil {
			return 0, err
		}
		v, err := op(x, y)
		if err != nil {
			return 0, err
		}
		return finite(v, n.Op)
	case *Attribute:
		return 0, newError(ErrIllegalExpression, "attribute access ."+n.Name)
	case *Subscript:
		return 0, newError(ErrIllegalExpression, "subscript")
	case *Assign:
		return 0, newError(ErrIllegalExpression, "assignment")
	case *String:
		return 0, newError(ErrIllegalExpression, "string literal")
	default:
		return 0, newError(ErrIllegalExpression, fmt.Sprintf("%T", n))
	}
}

// finite rejects an overflowed or undefined intermediate value so that a later
// min, max or comparison cannot hide it.
func finite(v float64, where string) (float64, error) {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, newError(ErrNotFinite, where)
	}
	return v, nil
}

var binaryOps = map[string]func(x, y float64) (float64, error){
	"+":  func(x, y float64) (float64, error) { return x + y, nil },
	"-":  func(x, y float64) (float64, error) { return x - y, nil },
	"*":  func(x, y float64) (float64, error) { return x * y, nil },
	"/":  divide,
	"//": floorDivide,
	"%":  modulo,
	"**": power,
	"^":  power,
}

func divide(x, y float64) (float64, error) {
	if y == 0 {
		return 0, newError(ErrDivisionByZero, "")
	}
	return x / y, nil
}

// floorDivide derives the quotient from the floored remainder, so that
// x == y*(x//y) + x%y holds where plain math.Floor(x/y) rounds past it.
func floorDivide(x, y float64) (float64, error) {
	if y == 0 {
		return 0, newError(ErrDivisionByZero, "")
	}
	mod := math.Mod(x, y)
	div := (x - mod) / y
	if mod != 0 && (y < 0) != (mod < 0) {
		div -= 1
	}
	if div == 0 {
		return math.Copysign(0, x/y), nil
	}
	q := math.Floor(div)
	if div-q > 0.5 {
		q++
	}
	return q, nil
}

// modulo follows floored division: the result takes the sign of y.
func modulo(x, y float64) (float64, error) {
	if y == 0 {
		return 0, newError(ErrDivisionByZero, "")
	}
	r := math.Mod(x, y)
	if r != 0 && (r < 0) != (y < 0) {
		r += y
	}
	return r, nil
}

func power(x, y float64) (float64, error) {
	if x == 0 && y < 0 {
		return 0, newError(ErrDivisionByZero, "zero raised to a negative power")
	}
	return math.Pow(x, y), nil
}

func arity(args []float64, n int) error {
	if len(args) != n {
		return newError(ErrArity, fmt.Sprintf("expected %d, got %d", n, len(args)))
	}
	return nil
}

func unary(f func(float64) float64) function {
	return func(args []float64) (float64, error) {
		if err := arity(args, 1); err != nil {
			return 0, err
		}
		return f(args[0]), nil
	}
}

func sqrt(args []float64) (float64, error) {
	if err := arity(args, 1); err != nil {
		return 0, err
	}
	if args[0] < 0 {
		return 0, newError(ErrDomain, "")
	}
	return math.Sqrt(args[0]), nil
}

// logarithm is log(x) or log(x, base).
func logarithm(args []float64) (float64, error) {
	if len(args) != 1 && len(args) != 2 {
		return 0, newError(ErrArity, fmt.Sprintf("expected 1 or 2, got %d", len(args)))
	}
	if args[0] <= 0 {
		return 0, newError(ErrDomain, "")
	}
	v := math.Log(args[0])
	if len(args) == 1 {
		return v, nil
	}
	if args[1] <= 0 {
		return 0, newError(ErrDomain, "")
	}
	base := math.Log(args[1])
	if base == 0 {
		return 0, newError(ErrDivisionByZero, "logarithm base 1")
	}
	return v / base, nil
}

func extremum(name string, pick func(a, b float64) float64) function {
	return func(args []float64) (float64, error) {
		if len(args) == 0 {
			return 0, newError(ErrArity, name+" expects at least one argument")
		}
		v := args[0]
		for _, a := range args[1:] {
			v = pick(v, a)
		}
		return v, nil
	}
}
