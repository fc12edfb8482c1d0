package expr

// Node is a parsed syntax tree node. The set of node types is closed: only
// the types in this file implement it.
type Node interface {
	node()
}

// Number is a numeric literal.
type Number struct {
	Value float64
}

// Name is a bare identifier.
type Name struct {
	ID string
}

// Call is a function application. Func is whatever expression precedes the
// parentheses; only a Name naming a whitelisted function may be evaluated.
type Call struct {
	Func Node
	Args []Node
}

// Unary is a prefix operator application.
type Unary struct {
	Op string
	X  Node
}

// Binary is an infix operator application.
type Binary struct {
	Op   string
	X, Y Node
}

// Attribute is x.name.
type Attribute struct {
	X    Node
	Name string
}

// Subscript is x[index].
type Subscript struct {
	X, Index Node
}

// Assign is target = value.
type Assign struct {
	Target, Value Node
}

// String is a quoted string literal.
type String struct {
	Value string
}

func (*Number) node()    {}
func (*Name) node()      {}
func (*Call) node()      {}
func (*Unary) node()     {}
func (*Binary) node()    {}
func (*Attribute) node() {}
func (*Subscript) node() {}
func (*Assign) node()    {}
func (*String) node()    {}
