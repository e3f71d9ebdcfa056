package expr

import (
	"fmt"
	"strconv"
)

// Node is an expression AST node.
type Node interface {
	Eval(s Scope) (any, error)
	String() string
}

// Literal is a constant value.
type Literal struct {
	Value any
}

// FieldRef reads a dotted path from the scope.
type FieldRef struct {
	Path string
}

// BinaryOp is a logical or comparison operator applied to two operands.
type BinaryOp struct {
	Op          string
	Left, Right Node
}

// Not negates the truthiness of its operand.
type Not struct {
	Operand Node
}

func (l *Literal) String() string  { return fmt.Sprintf("%#v", l.Value) }
func (f *FieldRef) String() string { return "{{" + f.Path + "}}" }
func (b *BinaryOp) String() string {
	return "(" + b.Left.String() + " " + b.Op + " " + b.Right.String() + ")"
}
func (n *Not) String() string { return "!" + n.Operand.String() }

// Parse compiles src into an AST.
func Parse(src string) (Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, &SyntaxError{Pos: 0, Msg: "empty expression"}
	}
	n, err := p.parseLogic()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
	return n, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(ops ...string) bool {
	t := p.peek()
	if t.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if t.text == op {
			return true
		}
	}
	return false
}

// parseLogic folds && and || into one left-associative chain.
func (p *parser) parseLogic() (Node, error) {
	left, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for p.isOp("&&", "||") {
		op := p.next().text
		right, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseCmp() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.isOp("==", "!=", ">", "<", ">=", "<=") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &BinaryOp{Op: op, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.isOp("!") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokRef:
		return &FieldRef{Path: t.text}, nil
	case tokString:
		return &Literal{Value: t.text}, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("invalid number %q", t.text)}
		}
		return &Literal{Value: f}, nil
	case tokWord:
		switch t.text {
		case "true":
			return &Literal{Value: true}, nil
		case "false":
			return &Literal{Value: false}, nil
		case "null", "nil":
			return &Literal{Value: nil}, nil
		}
		return &Literal{Value: t.text}, nil
	case tokLParen:
		n, err := p.parseLogic()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, &SyntaxError{Pos: p.peek().pos, Msg: "missing )"}
		}
		p.next()
		return n, nil
	case tokEOF:
		return nil, &SyntaxError{Pos: t.pos, Msg: "unexpected end of expression"}
	default:
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
}
