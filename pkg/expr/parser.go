package expr

import "fmt"

// maxDepth bounds parser recursion so hostile input cannot exhaust the stack.
const maxDepth = 100

// Binding powers, loosest first. Power is right-associative and binds
// tighter than a unary operator on its left, so -2**2 is -(2**2).
const (
	precCompare = iota + 1
	precBitOr
	precBitAnd
	precShift
	precSum
	precProduct
	precUnary
	precPower
)

var binaryPrec = map[string]int{
	"==": precCompare,
	"!=": precCompare,
	"<":  precCompare,
	">":  precCompare,
	"<=": precCompare,
	">=": precCompare,
	"|":  precBitOr,
	"&":  precBitAnd,
	"<<": precShift,
	">>": precShift,
	"+":  precSum,
	"-":  precSum,
	"*":  precProduct,
	"/":  precProduct,
	"//": precProduct,
	"%":  precProduct,
	"@":  precProduct,
	"**": precPower,
	"^":  precPower,
}

type parser struct {
	toks  []token
	pos   int
	depth int
}

// Parse turns src into a syntax tree without evaluating anything.
func Parse(src string) (Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, newError(ErrSyntax, "empty expression")
	}
	n, err := p.parseAssign()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.unexpected(tok)
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind, what string) error {
	tok := p.next()
	if tok.kind != kind {
		return newError(ErrSyntax, fmt.Sprintf("expected %s, found %s at %d", what, describe(tok), tok.pos))
	}
	return nil
}

func (p *parser) unexpected(tok token) error {
	return newError(ErrSyntax, fmt.Sprintf("unexpected %s at %d", describe(tok), tok.pos))
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return newError(ErrIllegalExpression, "expression nested too deeply")
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseAssign() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	target, err := p.parseExpr(precCompare)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind == tokOp && tok.text == "=" {
		p.next()
		value, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		return &Assign{Target: target, Value: value}, nil
	}
	return target, nil
}

func (p *parser) parseExpr(minPrec int) (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp {
			return left, nil
		}
		prec, ok := binaryPrec[tok.text]
		if !ok || prec < minPrec {
			return left, nil
		}
		p.next()

		rightPrec := prec + 1
		if prec == precPower {
			rightPrec = precUnary
		}
		right, err := p.parseExpr(rightPrec)
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: tok.text, X: left, Y: right}
	}
}

func (p *parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.kind == tokOp && (tok.text == "+" || tok.text == "-" || tok.text == "~") {
		p.next()
		x, err := p.parseExpr(precUnary)
		if err != nil {
			return nil, err
		}
		return &Unary{Op: tok.text, X: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokLParen:
			p.next()
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			n = &Call{Func: n, Args: args}
		case tokDot:
			p.next()
			name := p.next()
			if name.kind != tokIdent {
				return nil, p.unexpected(name)
			}
			n = &Attribute{X: n, Name: name.text}
		case tokLBracket:
			p.next()
			idx, err := p.parseExpr(precCompare)
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokRBracket, "']'"); err != nil {
				return nil, err
			}
			n = &Subscript{X: n, Index: idx}
		default:
			return n, nil
		}
	}
}

func (p *parser) parseArgs() ([]Node, error) {
	var args []Node
	for {
		if p.peek().kind == tokRParen {
			p.next()
			return args, nil
		}
		arg, err := p.parseExpr(precCompare)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		switch tok := p.next(); tok.kind {
		case tokComma:
		case tokRParen:
			return args, nil
		default:
			return nil, newError(ErrSyntax, fmt.Sprintf("expected ',' or ')', found %s at %d", describe(tok), tok.pos))
		}
	}
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return &Number{Value: tok.num}, nil
	case tokIdent:
		return &Name{ID: tok.text}, nil
	case tokString:
		return &String{Value: tok.text}, nil
	case tokLParen:
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		n, err := p.parseExpr(precCompare)
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, p.unexpected(tok)
	}
}

func describe(tok token) string {
	if tok.kind == tokEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", tok.text)
}
