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

package vm

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/arrowjp/arrowjp/expr"
)

// Evaluate is the evaluator's sole external entry point:
// eval(node, root, context) with root == context for the outermost
// call. It is synchronous, single-threaded, and a pure function of its
// two arguments.
func Evaluate(node expr.Node, batch arrow.Record) (Value, error) {
	return evalNode(context.Background(), node, batch, batch)
}

// evalNode is the recursive dispatch table over every expr.Node
// variant. For every variant except Pipe and CurrentNode, root and cur
// are identical.
func evalNode(ctx context.Context, node expr.Node, root, cur arrow.Record) (Value, error) {
	switch n := node.(type) {
	case *expr.ConstInt:
		return intScalar(ElemI64, n.Value), nil
	case *expr.ConstFloat:
		return floatScalar(ElemF64, n.Value), nil
	case *expr.ConstBool:
		return boolScalar(n.Value), nil
	case *expr.ConstString:
		return strScalar(n.Value), nil
	case *expr.CurrentNode:
		return batchValue(cur), nil
	case *expr.ExprRef:
		return Value{}, evalErrf(KindInvalidExprRefUse, "& is only valid as a direct higher-order function argument")
	case *expr.Path:
		return evalPath(cur, n)
	case *expr.Compare:
		return evalCompare(ctx, root, cur, n)
	case *expr.Logic:
		return evalLogic(ctx, root, cur, n)
	case *expr.Index:
		return evalIndex(ctx, root, cur, n)
	case *expr.Slice:
		return evalSlice(ctx, root, cur, n)
	case *expr.Filter:
		return evalFilter(ctx, root, cur, n)
	case *expr.Pipe:
		return evalPipe(ctx, root, cur, n)
	case *expr.Projection:
		return evalProjection(ctx, root, cur, n)
	case *expr.Flatten:
		return evalFlatten(ctx, root, cur, n)
	case *expr.MultiSelectHash:
		return evalMultiSelectHash(ctx, root, cur, n)
	case *expr.MultiSelectList:
		return Value{}, evalErrf(KindNotImplemented, "multi-select-list is parsed but not evaluated in this core")
	case *expr.Func:
		return evalFunc(ctx, root, cur, n)
	default:
		return Value{}, evalErrf(KindUnsupportedType, "unrecognized AST node %T", node)
	}
}

func evalPath(cur arrow.Record, n *expr.Path) (Value, error) {
	arr, err := resolve(cur, n.Segments)
	if err != nil {
		return Value{}, err
	}
	elem, ok := elemTypeOf(arr.DataType())
	if !ok {
		return Value{}, evalErrf(KindUnsupportedType, "%s", arr.DataType())
	}
	return column(elem, arr), nil
}

func evalCompare(ctx context.Context, root, cur arrow.Record, n *expr.Compare) (Value, error) {
	lv, err := evalNode(ctx, n.Lhs, root, cur)
	if err != nil {
		return Value{}, err
	}
	defer lv.Release()
	rv, err := evalNode(ctx, n.Rhs, root, cur)
	if err != nil {
		return Value{}, err
	}
	defer rv.Release()

	switch {
	case lv.Which == KindColumnRef && rv.Which == KindScalar:
		return compareColumnScalar(ctx, lv, rv, n.Op)
	case lv.Which == KindColumnRef && rv.Which == KindColumnRef:
		return Value{}, evalErrf(KindUnsupportedComparison, "column-to-column comparison is not supported in this core")
	case lv.Which == KindScalar && rv.Which == KindScalar:
		return compareScalarScalar(lv, rv, n.Op)
	default:
		return Value{}, evalErrf(KindUnsupportedComparison, "unsupported operand shapes for compare")
	}
}

func evalLogic(ctx context.Context, root, cur arrow.Record, n *expr.Logic) (Value, error) {
	lv, err := evalNode(ctx, n.Lhs, root, cur)
	if err != nil {
		return Value{}, err
	}
	defer lv.Release()

	if n.Op == expr.LogicNot {
		switch {
		case lv.Which == KindColumnRef && lv.Elem == ElemBool:
			mask, err := logicalNot(ctx, lv.Column.(*array.Boolean))
			if err != nil {
				return Value{}, wrapKernelError("not", err)
			}
			return columnOwned(ElemBool, mask), nil
		case lv.Which == KindScalar && lv.Elem == ElemBool:
			return boolScalar(!lv.Bool), nil
		default:
			return Value{}, evalErrf(KindUnsupportedLogic, "NOT requires a boolean operand")
		}
	}

	if n.Rhs == nil {
		return Value{}, evalErrf(KindUnsupportedLogic, "AND/OR require two operands")
	}
	rv, err := evalNode(ctx, n.Rhs, root, cur)
	if err != nil {
		return Value{}, err
	}
	defer rv.Release()

	and := n.Op == expr.LogicAnd
	switch {
	case lv.Which == KindColumnRef && rv.Which == KindColumnRef:
		if lv.Elem != ElemBool || rv.Elem != ElemBool {
			return Value{}, evalErrf(KindUnsupportedLogic, "AND/OR operands must be boolean masks")
		}
		mask, err := logicalBinary(ctx, lv.Column.(*array.Boolean), rv.Column.(*array.Boolean), and)
		if err != nil {
			return Value{}, wrapKernelError("logic", err)
		}
		return columnOwned(ElemBool, mask), nil
	case lv.Which == KindScalar && rv.Which == KindScalar:
		if lv.Elem != ElemBool || rv.Elem != ElemBool {
			return Value{}, evalErrf(KindUnsupportedLogic, "AND/OR operands must be boolean")
		}
		if and {
			return boolScalar(lv.Bool && rv.Bool), nil
		}
		return boolScalar(lv.Bool || rv.Bool), nil
	default:
		// Mixed mask+scalar: the spec leaves broadcasting as an
		// implementation-defined open point (§4.3); this core raises
		// rather than silently broadcasting.
		return Value{}, evalErrf(KindUnsupportedLogic, "mixed mask/scalar operands to AND/OR are not supported")
	}
}

func evalIndex(ctx context.Context, root, cur arrow.Record, n *expr.Index) (Value, error) {
	bv, err := evalNode(ctx, n.Base, root, cur)
	if err != nil {
		return Value{}, err
	}
	defer bv.Release()
	if bv.Which != KindColumnRef {
		return Value{}, evalErrf(KindUnsupportedType, "index requires a column base")
	}

	length := int64(bv.Column.Len())
	idx := n.Idx
	if idx < 0 {
		idx += length
	}
	if idx < 0 || idx >= length {
		return Value{}, evalErrf(KindIndexOutOfBounds, "index %d out of bounds for length %d", n.Idx, length)
	}
	i := int(idx)
	if bv.Column.IsNull(i) {
		return Value{}, evalErrf(KindNullIndex, "index %d is null", n.Idx)
	}
	return scalarAt(bv.Elem, bv.Column, i)
}

func evalSlice(ctx context.Context, root, cur arrow.Record, n *expr.Slice) (Value, error) {
	bv, err := evalNode(ctx, n.Base, root, cur)
	if err != nil {
		return Value{}, err
	}
	defer bv.Release()
	if bv.Which != KindColumnRef {
		return Value{}, evalErrf(KindUnsupportedType, "slice requires a column base")
	}

	step := int64(1)
	if n.Step != nil {
		step = *n.Step
	}
	if step == 0 {
		return Value{}, evalErrf(KindInvalidSlice, "slice step must be non-zero")
	}

	length := int64(bv.Column.Len())
	start, stop := sliceBounds(length, n.Start, n.Stop, step)
	idxs := walkSliceIndices(start, stop, step)
	return gatherSlice(bv.Elem, bv.Column, idxs)
}

func evalFilter(ctx context.Context, root, cur arrow.Record, n *expr.Filter) (Value, error) {
	predVal, err := evalNode(ctx, n.Pred, root, cur)
	if err != nil {
		return Value{}, err
	}
	defer predVal.Release()
	if predVal.Which != KindColumnRef || predVal.Elem != ElemBool {
		return Value{}, evalErrf(KindInvalidPredicate, "filter predicate must evaluate to a boolean mask")
	}
	mask, ok := predVal.Column.(*array.Boolean)
	if !ok {
		return Value{}, evalErrf(KindInvalidPredicate, "filter predicate must evaluate to a boolean mask")
	}
	if int64(mask.Len()) != cur.NumRows() {
		return Value{}, evalErrf(KindInvalidPredicate, "mask length %d does not match context row count %d", mask.Len(), cur.NumRows())
	}
	out, err := filterRecord(ctx, cur, mask)
	if err != nil {
		return Value{}, wrapKernelError("filter", err)
	}
	return batchOwned(out), nil
}

func evalPipe(ctx context.Context, root, cur arrow.Record, n *expr.Pipe) (Value, error) {
	lv, err := evalNode(ctx, n.Lhs, root, cur)
	if err != nil {
		return Value{}, err
	}
	if lv.Which != KindBatch {
		lv.Release()
		return Value{}, evalErrf(KindPipeRequiresBatch, "left side of pipe must evaluate to a batch")
	}
	defer lv.Release()
	// lv.Batch outlives this frame only until evalNode returns below;
	// that's fine because evalNode for the rhs fully consumes it before
	// we release it: the lhs batch must outlive rhs evaluation.
	return evalNode(ctx, n.Rhs, lv.Batch, lv.Batch)
}

func evalProjection(ctx context.Context, root, cur arrow.Record, n *expr.Projection) (Value, error) {
	bv, err := evalNode(ctx, n.Base, root, cur)
	if err != nil {
		return Value{}, err
	}
	defer bv.Release()
	if bv.Which != KindColumnRef || bv.Elem != ElemList {
		return Value{}, evalErrf(KindProjectionUnsupported, "projection requires a list-column base")
	}
	if _, isCurrent := n.Elem.(*expr.CurrentNode); !isCurrent {
		return Value{}, evalErrf(KindProjectionUnsupported, "projection over list-of-struct with a field sub-expression is not supported in this core")
	}
	// Trivial case: base[*] with no further field, over a primitive
	// element type, is equivalent to Flatten(base).
	return flattenListColumn(bv)
}

func evalFlatten(ctx context.Context, root, cur arrow.Record, n *expr.Flatten) (Value, error) {
	bv, err := evalNode(ctx, n.Base, root, cur)
	if err != nil {
		return Value{}, err
	}
	defer bv.Release()
	if bv.Which != KindColumnRef || bv.Elem != ElemList {
		return Value{}, evalErrf(KindFlattenUnsupported, "flatten requires a list column")
	}
	return flattenListColumn(bv)
}

func evalMultiSelectHash(ctx context.Context, root, cur arrow.Record, n *expr.MultiSelectHash) (Value, error) {
	fields := make([]arrow.Field, 0, len(n.Pairs))
	cols := make([]arrow.Array, 0, len(n.Pairs))
	nrows := int64(-1)

	for _, pair := range n.Pairs {
		v, err := evalNode(ctx, pair.Value, root, cur)
		if err != nil {
			releaseAll(cols)
			return Value{}, err
		}
		switch v.Which {
		case KindColumnRef:
			fields = append(fields, arrow.Field{Name: pair.Label, Type: arrowTypeOf(v.Elem), Nullable: true})
			cols = append(cols, v.Column)
			rowLen := int64(v.Column.Len())
			if nrows == -1 {
				nrows = rowLen
			} else if nrows != rowLen {
				releaseAll(cols)
				return Value{}, evalErrf(KindKernelError, "multi-select columns have mismatched lengths")
			}
		case KindScalar:
			if cur.NumRows() != 0 {
				v.Release()
				releaseAll(cols)
				return Value{}, evalErrf(KindScalarInMultiSelect, "scalar result for label %q in a non-empty batch", pair.Label)
			}
			arr, dt, err := scalarToSingletonArray(v)
			v.Release()
			if err != nil {
				releaseAll(cols)
				return Value{}, err
			}
			fields = append(fields, arrow.Field{Name: pair.Label, Type: dt, Nullable: true})
			cols = append(cols, arr)
			nrows = 1
		default:
			v.Release()
			releaseAll(cols)
			return Value{}, evalErrf(KindScalarInMultiSelect, "unsupported result shape for label %q", pair.Label)
		}
	}
	if nrows == -1 {
		nrows = cur.NumRows()
	}
	schema := arrow.NewSchema(fields, nil)
	rec := array.NewRecord(schema, cols, nrows)
	releaseAll(cols) // NewRecord retains its own references
	return batchOwned(rec), nil
}

func releaseAll(cols []arrow.Array) {
	for _, c := range cols {
		c.Release()
	}
}
