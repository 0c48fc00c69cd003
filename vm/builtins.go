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

// builtins.go is the closed function table behind Func nodes: one
// entry per name, fixed arity, eager left-to-right argument
// evaluation except where a &expr argument must stay unevaluated AST
// (sort_by, group_by).
package vm

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"golang.org/x/exp/slices"

	"github.com/arrowjp/arrowjp/expr"
)

type builtinFn func(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error)

type builtinEntry struct {
	arity int
	eval  builtinFn
}

var builtins = map[string]builtinEntry{
	"length":      {1, evalLength},
	"contains":    {2, evalContains},
	"starts_with": {2, evalStartsWith},
	"ends_with":   {2, evalEndsWith},
	"to_string":   {1, evalToString},
	"abs":         {1, evalAbs},
	"min":         {1, evalMin},
	"max":         {1, evalMax},
	"sum":         {1, evalSum},
	"avg":         {1, evalAvg},
	"keys":        {0, evalKeys},
	"values":      {0, evalValues},
	"type":        {1, evalTypeOf},
	"sort_by":     {2, evalSortBy},
	"group_by":    {2, evalGroupBy},
	"reverse":     {1, evalReverse},
	"not_null":    {1, evalNotNull},
}

func evalFunc(ctx context.Context, root, cur arrow.Record, n *expr.Func) (Value, error) {
	entry, ok := builtins[n.Name]
	if !ok {
		return Value{}, evalErrf(KindUnknownFunction, "%q", n.Name)
	}
	if len(n.Args) != entry.arity {
		return Value{}, evalErrf(KindArityMismatch, "%s: got %d argument(s), want %d", n.Name, len(n.Args), entry.arity)
	}
	return entry.eval(ctx, root, cur, n.Args)
}

func evalLength(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error) {
	v, err := evalNode(ctx, args[0], root, cur)
	if err != nil {
		return Value{}, err
	}
	defer v.Release()
	switch v.Which {
	case KindColumnRef:
		switch v.Elem {
		case ElemUtf8:
			src := v.Column.(*array.String)
			b := array.NewInt32Builder(kernelPool)
			defer b.Release()
			for i := 0; i < src.Len(); i++ {
				if src.IsNull(i) {
					b.Append(0)
					continue
				}
				b.Append(int32(len(src.Value(i))))
			}
			return columnOwned(ElemI32, b.NewArray()), nil
		case ElemList:
			src := v.Column.(*array.List)
			b := array.NewInt32Builder(kernelPool)
			defer b.Release()
			for i := 0; i < src.Len(); i++ {
				if src.IsNull(i) {
					b.Append(0)
					continue
				}
				start, end := src.ValueOffsets(i)
				b.Append(int32(end - start))
			}
			return columnOwned(ElemI32, b.NewArray()), nil
		default:
			return Value{}, evalErrf(KindArgumentKindMismatch, "length: unsupported column type %s", v.Elem)
		}
	case KindScalar:
		if v.Elem != ElemUtf8 {
			return Value{}, evalErrf(KindArgumentKindMismatch, "length: expected a string scalar")
		}
		return intScalar(ElemI32, int64(len(v.Str))), nil
	default:
		return Value{}, evalErrf(KindArgumentKindMismatch, "length: unsupported argument shape")
	}
}

func evalStringPredicate(ctx context.Context, root, cur arrow.Record, args []expr.Node, pred func(s, needle string) bool) (Value, error) {
	sv, err := evalNode(ctx, args[0], root, cur)
	if err != nil {
		return Value{}, err
	}
	defer sv.Release()
	nv, err := evalNode(ctx, args[1], root, cur)
	if err != nil {
		return Value{}, err
	}
	defer nv.Release()
	if sv.Which != KindColumnRef || sv.Elem != ElemUtf8 {
		return Value{}, evalErrf(KindArgumentKindMismatch, "expected a utf8 column as the first argument")
	}
	if nv.Which != KindScalar || nv.Elem != ElemUtf8 {
		return Value{}, evalErrf(KindArgumentKindMismatch, "expected a string literal as the second argument")
	}
	src := sv.Column.(*array.String)
	b := array.NewBooleanBuilder(kernelPool)
	defer b.Release()
	for i := 0; i < src.Len(); i++ {
		if src.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(pred(src.Value(i), nv.Str))
	}
	return columnOwned(ElemBool, b.NewArray()), nil
}

func evalContains(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error) {
	return evalStringPredicate(ctx, root, cur, args, strings.Contains)
}

func evalStartsWith(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error) {
	return evalStringPredicate(ctx, root, cur, args, strings.HasPrefix)
}

func evalEndsWith(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error) {
	return evalStringPredicate(ctx, root, cur, args, strings.HasSuffix)
}

func evalToString(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error) {
	v, err := evalNode(ctx, args[0], root, cur)
	if err != nil {
		return Value{}, err
	}
	defer v.Release()
	switch v.Which {
	case KindColumnRef:
		b := array.NewStringBuilder(kernelPool)
		defer b.Release()
		switch v.Elem {
		case ElemI32:
			src := v.Column.(*array.Int32)
			for i := 0; i < src.Len(); i++ {
				if src.IsNull(i) {
					b.AppendNull()
					continue
				}
				b.Append(strconv.FormatInt(int64(src.Value(i)), 10))
			}
		case ElemI64:
			src := v.Column.(*array.Int64)
			for i := 0; i < src.Len(); i++ {
				if src.IsNull(i) {
					b.AppendNull()
					continue
				}
				b.Append(strconv.FormatInt(src.Value(i), 10))
			}
		case ElemF32:
			src := v.Column.(*array.Float32)
			for i := 0; i < src.Len(); i++ {
				if src.IsNull(i) {
					b.AppendNull()
					continue
				}
				b.Append(strconv.FormatFloat(float64(src.Value(i)), 'g', -1, 32))
			}
		case ElemF64:
			src := v.Column.(*array.Float64)
			for i := 0; i < src.Len(); i++ {
				if src.IsNull(i) {
					b.AppendNull()
					continue
				}
				b.Append(strconv.FormatFloat(src.Value(i), 'g', -1, 64))
			}
		default:
			return Value{}, evalErrf(KindArgumentKindMismatch, "to_string: unsupported column type %s", v.Elem)
		}
		return columnOwned(ElemUtf8, b.NewArray()), nil
	case KindScalar:
		switch v.Elem {
		case ElemI32, ElemI64:
			return strScalar(strconv.FormatInt(v.Int, 10)), nil
		case ElemF32:
			return strScalar(strconv.FormatFloat(v.Float, 'g', -1, 32)), nil
		case ElemF64:
			return strScalar(strconv.FormatFloat(v.Float, 'g', -1, 64)), nil
		default:
			return Value{}, evalErrf(KindArgumentKindMismatch, "to_string: unsupported scalar type %s", v.Elem)
		}
	default:
		return Value{}, evalErrf(KindArgumentKindMismatch, "to_string: unsupported argument shape")
	}
}

func evalAbs(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error) {
	v, err := evalNode(ctx, args[0], root, cur)
	if err != nil {
		return Value{}, err
	}
	defer v.Release()
	switch v.Which {
	case KindColumnRef:
		switch v.Elem {
		case ElemI32:
			src := v.Column.(*array.Int32)
			b := array.NewInt32Builder(kernelPool)
			defer b.Release()
			for i := 0; i < src.Len(); i++ {
				if src.IsNull(i) {
					b.AppendNull()
					continue
				}
				x := src.Value(i)
				if x < 0 {
					x = -x
				}
				b.Append(x)
			}
			return columnOwned(ElemI32, b.NewArray()), nil
		case ElemI64:
			src := v.Column.(*array.Int64)
			b := array.NewInt64Builder(kernelPool)
			defer b.Release()
			for i := 0; i < src.Len(); i++ {
				if src.IsNull(i) {
					b.AppendNull()
					continue
				}
				x := src.Value(i)
				if x < 0 {
					x = -x
				}
				b.Append(x)
			}
			return columnOwned(ElemI64, b.NewArray()), nil
		case ElemF32:
			src := v.Column.(*array.Float32)
			b := array.NewFloat32Builder(kernelPool)
			defer b.Release()
			for i := 0; i < src.Len(); i++ {
				if src.IsNull(i) {
					b.AppendNull()
					continue
				}
				b.Append(float32(math.Abs(float64(src.Value(i)))))
			}
			return columnOwned(ElemF32, b.NewArray()), nil
		case ElemF64:
			src := v.Column.(*array.Float64)
			b := array.NewFloat64Builder(kernelPool)
			defer b.Release()
			for i := 0; i < src.Len(); i++ {
				if src.IsNull(i) {
					b.AppendNull()
					continue
				}
				b.Append(math.Abs(src.Value(i)))
			}
			return columnOwned(ElemF64, b.NewArray()), nil
		default:
			return Value{}, evalErrf(KindArgumentKindMismatch, "abs: unsupported column type %s", v.Elem)
		}
	case KindScalar:
		switch v.Elem {
		case ElemI32, ElemI64:
			x := v.Int
			if x < 0 {
				x = -x
			}
			return intScalar(v.Elem, x), nil
		case ElemF32, ElemF64:
			return floatScalar(v.Elem, math.Abs(v.Float)), nil
		default:
			return Value{}, evalErrf(KindArgumentKindMismatch, "abs: unsupported scalar type %s", v.Elem)
		}
	default:
		return Value{}, evalErrf(KindArgumentKindMismatch, "abs: unsupported argument shape")
	}
}

func evalReduce(ctx context.Context, root, cur arrow.Record, args []expr.Node, name string, emptyOK bool, emptyVal func(ElemType) Value) (Value, error) {
	v, err := evalNode(ctx, args[0], root, cur)
	if err != nil {
		return Value{}, err
	}
	defer v.Release()
	if v.Which != KindColumnRef || !isNumeric(v.Elem) {
		return Value{}, evalErrf(KindArgumentKindMismatch, "%s: expected a numeric column", name)
	}
	if v.Column.Len() == 0 {
		if emptyOK {
			return emptyVal(v.Elem), nil
		}
		return Value{}, evalErrf(KindArgumentKindMismatch, "%s: column is empty", name)
	}
	sc, err := aggregate(ctx, name, v.Column)
	if err != nil {
		return Value{}, wrapKernelError(name, err)
	}
	return scalarFromArrowScalar(v.Elem, sc)
}

func evalSum(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error) {
	return evalReduce(ctx, root, cur, args, "sum", true, func(elem ElemType) Value {
		if elem == ElemF32 || elem == ElemF64 {
			return floatScalar(elem, 0)
		}
		return intScalar(elem, 0)
	})
}

func evalMin(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error) {
	return evalReduce(ctx, root, cur, args, "min", false, nil)
}

func evalMax(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error) {
	return evalReduce(ctx, root, cur, args, "max", false, nil)
}

func evalAvg(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error) {
	v, err := evalNode(ctx, args[0], root, cur)
	if err != nil {
		return Value{}, err
	}
	defer v.Release()
	if v.Which != KindColumnRef || !isNumeric(v.Elem) {
		return Value{}, evalErrf(KindArgumentKindMismatch, "avg: expected a numeric column")
	}
	n := v.Column.Len()
	if n == 0 {
		return floatScalar(ElemF64, 0), nil
	}
	sc, err := aggregate(ctx, "sum", v.Column)
	if err != nil {
		return Value{}, wrapKernelError("avg", err)
	}
	sum, err := scalarNumericValue(sc)
	if err != nil {
		return Value{}, err
	}
	return floatScalar(ElemF64, sum/float64(n)), nil
}

// evalKeys and evalValues ignore their (absent) argument and operate on
// the root batch's schema rather than the current context, per the
// open-question decision recorded in DESIGN.md.
func evalKeys(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error) {
	b := array.NewStringBuilder(kernelPool)
	defer b.Release()
	for _, f := range root.Schema().Fields() {
		b.Append(f.Name)
	}
	return columnOwned(ElemUtf8, b.NewArray()), nil
}

func evalValues(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error) {
	return intScalar(ElemI32, int64(len(root.Schema().Fields()))), nil
}

func evalTypeOf(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error) {
	v, err := evalNode(ctx, args[0], root, cur)
	if err != nil {
		return Value{}, err
	}
	defer v.Release()
	switch v.Which {
	case KindBatch:
		return strScalar("object"), nil
	case KindColumnRef:
		return strScalar(fmt.Sprintf("array<%s>", arrowTypeName(v.Elem))), nil
	case KindScalar:
		switch v.Elem {
		case ElemI32, ElemI64, ElemF32, ElemF64:
			return strScalar("number"), nil
		case ElemUtf8:
			return strScalar("string"), nil
		case ElemBool:
			return strScalar("boolean"), nil
		}
	}
	return Value{}, evalErrf(KindArgumentKindMismatch, "type: unsupported argument shape")
}

// exprRefOneSegmentPath unwraps a &path argument, enforcing the
// single-segment restriction sort_by/group_by place on their key
// selector.
func exprRefOneSegmentPath(n expr.Node) (*expr.Path, error) {
	ref, ok := n.(*expr.ExprRef)
	if !ok {
		return nil, evalErrf(KindArgumentKindMismatch, "expected an expression reference (&field)")
	}
	p, ok := ref.Inner.(*expr.Path)
	if !ok || len(p.Segments) != 1 {
		return nil, evalErrf(KindArgumentKindMismatch, "expected a single-segment field reference")
	}
	return p, nil
}

func evalSortBy(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error) {
	dataVal, err := evalNode(ctx, args[0], root, cur)
	if err != nil {
		return Value{}, err
	}
	defer dataVal.Release()
	if dataVal.Which != KindBatch {
		return Value{}, evalErrf(KindArgumentKindMismatch, "sort_by: first argument must evaluate to a batch")
	}
	path, err := exprRefOneSegmentPath(args[1])
	if err != nil {
		return Value{}, err
	}
	keyArr, err := resolve(dataVal.Batch, path.Segments)
	if err != nil {
		return Value{}, err
	}
	idxs, err := sortIndices(ctx, keyArr)
	if err != nil {
		return Value{}, wrapKernelError("sort_by", err)
	}
	defer idxs.Release()
	out, err := takeRecord(ctx, dataVal.Batch, idxs)
	if err != nil {
		return Value{}, wrapKernelError("sort_by", err)
	}
	return batchOwned(out), nil
}

func evalGroupBy(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error) {
	dataVal, err := evalNode(ctx, args[0], root, cur)
	if err != nil {
		return Value{}, err
	}
	defer dataVal.Release()
	if dataVal.Which != KindBatch {
		return Value{}, evalErrf(KindArgumentKindMismatch, "group_by: first argument must evaluate to a batch")
	}
	path, err := exprRefOneSegmentPath(args[1])
	if err != nil {
		return Value{}, err
	}
	keyArr, err := resolve(dataVal.Batch, path.Segments)
	if err != nil {
		return Value{}, err
	}
	elem, ok := elemTypeOf(keyArr.DataType())
	if !ok {
		return Value{}, evalErrf(KindArgumentKindMismatch, "group_by: unsupported key column type")
	}
	idxs, err := sortIndices(ctx, keyArr)
	if err != nil {
		return Value{}, wrapKernelError("group_by", err)
	}
	defer idxs.Release()
	sorted, err := takeArray(ctx, keyArr, idxs)
	if err != nil {
		return Value{}, wrapKernelError("group_by", err)
	}
	defer sorted.Release()
	deduped, err := dedupSortedColumn(elem, sorted)
	if err != nil {
		return Value{}, err
	}
	return columnOwned(elem, deduped), nil
}

// dedupSortedColumn collapses consecutive equal runs in a
// sort_indices-ordered column, using x/exp/slices.CompactFunc over a
// plain Go slice extracted from the array and rebuilt afterward.
func dedupSortedColumn(elem ElemType, arr arrow.Array) (arrow.Array, error) {
	switch elem {
	case ElemI32:
		src := arr.(*array.Int32)
		vals := make([]int32, 0, src.Len())
		for i := 0; i < src.Len(); i++ {
			if !src.IsNull(i) {
				vals = append(vals, src.Value(i))
			}
		}
		vals = slices.CompactFunc(vals, func(a, b int32) bool { return a == b })
		b := array.NewInt32Builder(kernelPool)
		defer b.Release()
		b.AppendValues(vals, nil)
		return b.NewArray(), nil
	case ElemI64:
		src := arr.(*array.Int64)
		vals := make([]int64, 0, src.Len())
		for i := 0; i < src.Len(); i++ {
			if !src.IsNull(i) {
				vals = append(vals, src.Value(i))
			}
		}
		vals = slices.CompactFunc(vals, func(a, b int64) bool { return a == b })
		b := array.NewInt64Builder(kernelPool)
		defer b.Release()
		b.AppendValues(vals, nil)
		return b.NewArray(), nil
	case ElemUtf8:
		src := arr.(*array.String)
		vals := make([]string, 0, src.Len())
		for i := 0; i < src.Len(); i++ {
			if !src.IsNull(i) {
				vals = append(vals, src.Value(i))
			}
		}
		vals = slices.CompactFunc(vals, func(a, b string) bool { return a == b })
		b := array.NewStringBuilder(kernelPool)
		defer b.Release()
		b.AppendValues(vals, nil)
		return b.NewArray(), nil
	default:
		return nil, evalErrf(KindArgumentKindMismatch, "group_by: unsupported key element type %s", elem)
	}
}

func evalReverse(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error) {
	v, err := evalNode(ctx, args[0], root, cur)
	if err != nil {
		return Value{}, err
	}
	defer v.Release()
	switch v.Which {
	case KindColumnRef:
		idxs := reverseIndices(v.Column.Len())
		defer idxs.Release()
		out, err := takeArray(ctx, v.Column, idxs)
		if err != nil {
			return Value{}, wrapKernelError("reverse", err)
		}
		return columnOwned(v.Elem, out), nil
	case KindBatch:
		idxs := reverseIndices(int(v.Batch.NumRows()))
		defer idxs.Release()
		out, err := takeRecord(ctx, v.Batch, idxs)
		if err != nil {
			return Value{}, wrapKernelError("reverse", err)
		}
		return batchOwned(out), nil
	default:
		return Value{}, evalErrf(KindArgumentKindMismatch, "reverse: unsupported argument shape")
	}
}

func evalNotNull(ctx context.Context, root, cur arrow.Record, args []expr.Node) (Value, error) {
	v, err := evalNode(ctx, args[0], root, cur)
	if err != nil {
		return Value{}, err
	}
	defer v.Release()
	if v.Which != KindColumnRef {
		return Value{}, evalErrf(KindArgumentKindMismatch, "not_null: expected a column")
	}
	if int64(v.Column.Len()) != cur.NumRows() {
		return Value{}, evalErrf(KindArgumentKindMismatch, "not_null: column length does not match context row count")
	}
	b := array.NewBooleanBuilder(kernelPool)
	defer b.Release()
	for i := 0; i < v.Column.Len(); i++ {
		b.Append(v.Column.IsValid(i))
	}
	mask := b.NewArray().(*array.Boolean)
	defer mask.Release()
	out, err := filterRecord(ctx, cur, mask)
	if err != nil {
		return Value{}, wrapKernelError("not_null", err)
	}
	return batchOwned(out), nil
}
