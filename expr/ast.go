// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package expr

// Node is satisfied by every AST variant produced by Parse. The set of
// variants is closed; there is no dynamic dispatch beyond the Func name
// table (see vm.builtins).
type Node interface {
	node()
}

// CompareOp is one of the six broadcastable comparison operators.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpGt
	OpLt
	OpGte
	OpLte
)

func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpGt:
		return ">"
	case OpLt:
		return "<"
	case OpGte:
		return ">="
	case OpLte:
		return "<="
	default:
		return "<bad-compare-op>"
	}
}

// LogicOp is one of the three boolean combinators. Not is unary; And/Or
// always carry both operands.
type LogicOp int

const (
	LogicAnd LogicOp = iota
	LogicOr
	LogicNot
)

// Path is dotted navigation from the current context: at least one
// field-name segment.
type Path struct {
	Segments []string
}

func (*Path) node() {}

// Index is positional lookup into the result of Base. Negative Idx
// counts from the end of the array.
type Index struct {
	Base Node
	Idx  int64
}

func (*Index) node() {}

// Slice is a NumPy-style array slice. Start, Stop, and Step are nil when
// omitted from the source. The parser accepts a zero Step; the
// evaluator rejects it.
type Slice struct {
	Base  Node
	Start *int64
	Stop  *int64
	Step  *int64
}

func (*Slice) node() {}

// Projection is a wildcard `[*]` optionally followed by a sub-expression
// applied to every element (`base[*].field`).
type Projection struct {
	Base Node
	Elem Node // CurrentNode when no trailing ".primary" was written
}

func (*Projection) node() {}

// Flatten is a one-level flatten of a list column (`base[]`).
type Flatten struct {
	Base Node
}

func (*Flatten) node() {}

// Filter is a vectorized row filter (`base[?pred]`).
type Filter struct {
	Base Node
	Pred Node
}

func (*Filter) node() {}

// Pipe re-evaluates Rhs with Lhs's batch result installed as the new
// root/context.
type Pipe struct {
	Lhs Node
	Rhs Node
}

func (*Pipe) node() {}

// HashPair is one (label, expression) entry of a MultiSelectHash.
type HashPair struct {
	Label string
	Value Node
}

// MultiSelectHash builds a new record batch from an ordered sequence of
// labeled expressions (`{label: expr, ...}`).
type MultiSelectHash struct {
	Pairs []HashPair
}

func (*MultiSelectHash) node() {}

// MultiSelectList builds a heterogeneous tuple column (`[expr, expr, ...]`).
// Parsed but not evaluated in this core (see vm.KindNotImplemented).
type MultiSelectList struct {
	Elems []Node
}

func (*MultiSelectList) node() {}

// Compare is a broadcast comparison between Lhs and Rhs.
type Compare struct {
	Op  CompareOp
	Lhs Node
	Rhs Node
}

func (*Compare) node() {}

// Logic is a boolean combinator. Rhs is nil iff Op == LogicNot.
type Logic struct {
	Op  LogicOp
	Lhs Node
	Rhs Node
}

func (*Logic) node() {}

// Func is a call into the built-in function table (vm.builtins).
type Func struct {
	Name string
	Args []Node
}

func (*Func) node() {}

// CurrentNode is `@`, the active context.
type CurrentNode struct{}

func (*CurrentNode) node() {}

// ExprRef is a deferred expression reference (`&expr`), valid only as a
// direct argument to a higher-order function such as sort_by/group_by.
type ExprRef struct {
	Inner Node
}

func (*ExprRef) node() {}

// ConstInt is an integer literal.
type ConstInt struct {
	Value int64
}

func (*ConstInt) node() {}

// ConstFloat is a floating-point literal.
type ConstFloat struct {
	Value float64
}

func (*ConstFloat) node() {}

// ConstBool is a `true`/`false` literal.
type ConstBool struct {
	Value bool
}

func (*ConstBool) node() {}

// ConstString is a single- or double-quoted string literal, escapes
// already resolved.
type ConstString struct {
	Value string
}

func (*ConstString) node() {}
