package expr

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestEval(t *testing.T) {
	tests := []struct {
		src  string
		want float64
	}{
		{"1+2*3", 7},
		{"(1+2)*3", 9},
		{"2**6", 64},
		{"2^6", 64},
		{"4**0.5", 2},
		{"2**3**2", 512},
		{"-2**2", -4},
		{"(-2)**2", 4},
		{"2**-1", 0.5},
		{"max(1,2)+min(3,1)", 3},
		{"max(5)", 5},
		{"min(4, 2, 8,)", 2},
		{"7//2", 3},
		{"-7//2", -4},
		{"1//0.1", 9},
		{"-1//0.1", -10},
		{"7//-2", -4},
		{"7%3", 1},
		{"-7%3", 2},
		{"7%-3", -2},
		{"10/4", 2.5},
		{"abs(-3)", 3},
		{"sqrt(16)", 4},
		{"log(e)", 1},
		{"log(8, 2)", 3},
		{"exp(0)", 1},
		{"sin(0)+cos(0)", 1},
		{"tan(0)", 0},
		{"pi", math.Pi},
		{".5 + 1.", 1.5},
		{"1e3", 1000},
		{"+-+3", -3},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := Eval(tt.src)
			if err != nil {
				t.Fatalf("Eval(%q): %v", tt.src, err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Eval(%q) = %v, want %v", tt.src, got, tt.want)
			}
		})
	}
}

func TestEvalErrors(t *testing.T) {
	tests := []struct {
		src  string
		kind error
	}{
		{"__import__('os')", ErrIllegalCall},
		{"open('x')", ErrIllegalCall},
		{"(1)(2)", ErrIllegalCall},
		{"sin.x(1)", ErrIllegalCall},
		{"foo", ErrUnknownSymbol},
		{"x + 1", ErrUnknownSymbol},
		{"pi.real", ErrIllegalExpression},
		{"pi[0]", ErrIllegalExpression},
		{"x = 1", ErrIllegalExpression},
		{"'abc'", ErrIllegalExpression},
		{"1 & 2", ErrIllegalOperator},
		{"1 << 2", ErrIllegalOperator},
		{"1 < 2", ErrIllegalOperator},
		{"~1", ErrIllegalOperator},
		{"", ErrSyntax},
		{"1 +", ErrSyntax},
		{"(1", ErrSyntax},
		{"1 2", ErrSyntax},
		{"max(1 2)", ErrSyntax},
		{"1 $ 2", ErrSyntax},
		{"'open", ErrSyntax},
		{"1/0", ErrDivisionByZero},
		{"1//0", ErrDivisionByZero},
		{"1%0", ErrDivisionByZero},
		{"0**-1", ErrDivisionByZero},
		{"sqrt(-1)", ErrDomain},
		{"log(0)", ErrDomain},
		{"log(2, -1)", ErrDomain},
		{"sqrt(1, 2)", ErrArity},
		{"sin()", ErrArity},
		{"max()", ErrArity},
		{"log(1, 2, 3)", ErrArity},
		{"10**400", ErrNotFinite},
		{"exp(1000)", ErrNotFinite},
		{"min(exp(1000), 1)", ErrNotFinite},
		{"max(1, 10**400)", ErrNotFinite},
		{"(10**400)*0", ErrNotFinite},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := Eval(tt.src)
			if err == nil {
				t.Fatalf("Eval(%q): expected error", tt.src)
			}
			if !errors.Is(err, tt.kind) {
				t.Errorf("Eval(%q) = %v, want %v", tt.src, err, tt.kind)
			}
			if !errors.Is(err, ErrEvaluation) {
				t.Errorf("Eval(%q) error %v does not match ErrEvaluation", tt.src, err)
			}
		})
	}
}

func TestIllegalCallIsIllegalExpression(t *testing.T) {
	_, err := Eval("__import__('os').system('ls')")
	if !errors.Is(err, ErrIllegalExpression) {
		t.Fatalf("expected illegal expression, got %v", err)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T", err)
	}
}

func TestCallCheckedBeforeArguments(t *testing.T) {
	// the callee is rejected even though its argument would fail too
	_, err := Eval("system(1/0)")
	if !errors.Is(err, ErrIllegalCall) {
		t.Fatalf("expected illegal call, got %v", err)
	}
}

func TestDeepNesting(t *testing.T) {
	src := strings.Repeat("(", 500) + "1" + strings.Repeat(")", 500)
	_, err := Eval(src)
	if !errors.Is(err, ErrIllegalExpression) {
		t.Fatalf("expected nesting to be rejected, got %v", err)
	}

	_, err = Eval(strings.Repeat("-", 500) + "1")
	if !errors.Is(err, ErrIllegalExpression) {
		t.Fatalf("expected unary chain to be rejected, got %v", err)
	}

	_, err = Eval(strings.Repeat("1=", 500) + "1")
	if !errors.Is(err, ErrIllegalExpression) {
		t.Fatalf("expected assignment chain to be rejected, got %v", err)
	}

	got, err := Eval(strings.Repeat("(", 20) + "2" + strings.Repeat(")", 20))
	if err != nil || got != 2 {
		t.Fatalf("modest nesting: got %v, %v", got, err)
	}
}

func TestParseShape(t *testing.T) {
	n, err := Parse("-2**2")
	if err != nil {
		t.Fatal(err)
	}
	u, ok := n.(*Unary)
	if !ok || u.Op != "-" {
		t.Fatalf("expected unary minus at the root, got %#v", n)
	}
	if b, ok := u.X.(*Binary); !ok || b.Op != "**" {
		t.Fatalf("expected power under the minus, got %#v", u.X)
	}
}

func TestFloorDivisionMatchesModulo(t *testing.T) {
	for _, p := range [][2]float64{{1, 0.1}, {-1, 0.1}, {7, -2}, {5.5, 1.5}, {-0.3, 0.1}} {
		x, y := p[0], p[1]
		q, err := floorDivide(x, y)
		if err != nil {
			t.Fatal(err)
		}
		r, err := modulo(x, y)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(q*y+r-x) > 1e-12 {
			t.Errorf("%v//%v = %v, %v%%%v = %v: quotient and remainder disagree", x, y, q, x, y, r)
		}
	}
}
