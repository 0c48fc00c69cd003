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

// convert.go holds the scalar/column conversion helpers shared by
// eval.go and builtins.go: compare-operand widening, index/slice
// gather, and Value<->arrow.Scalar bridging. Kept separate from
// eval.go's dispatch table so each file stays close to one concern.
package vm

import (
	"context"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/scalar"

	"github.com/arrowjp/arrowjp/expr"
)

func isNumeric(e ElemType) bool {
	return e == ElemI32 || e == ElemI64 || e == ElemF32 || e == ElemF64
}

func toCompareOpT(op expr.CompareOp) compareOpT {
	switch op {
	case expr.OpEq:
		return cmpEq
	case expr.OpNe:
		return cmpNe
	case expr.OpGt:
		return cmpGt
	case expr.OpLt:
		return cmpLt
	case expr.OpGte:
		return cmpGte
	case expr.OpLte:
		return cmpLte
	default:
		return cmpEq
	}
}

// compareColumnScalar handles the (column, scalar) compare shape: the
// scalar literal is converted to the column's element type (integer
// literals to int32/int64 columns, any numeric literal to float
// columns; a float literal against an integer column is rejected),
// then the comparison runs as an Arrow kernel broadcast.
func compareColumnScalar(ctx context.Context, lv, rv Value, op expr.CompareOp) (Value, error) {
	sc, err := buildScalar(lv.Elem, rv)
	if err != nil {
		return Value{}, err
	}
	mask, err := compareArrayScalar(ctx, lv.Column, toCompareOpT(op), sc)
	if err != nil {
		return Value{}, wrapKernelError("compare", err)
	}
	return columnOwned(ElemBool, mask), nil
}

// buildScalar converts a scalar Value into an arrow/scalar.Scalar typed
// to match elem, performing whatever int/float widening or narrowing
// is needed to make the two operands comparable.
func buildScalar(elem ElemType, v Value) (scalar.Scalar, error) {
	if v.Which != KindScalar {
		return nil, evalErrf(KindUnsupportedComparison, "right-hand side of a column comparison must be a scalar literal")
	}
	switch elem {
	case ElemI32:
		if !isNumeric(v.Elem) || v.Elem == ElemF32 || v.Elem == ElemF64 {
			return nil, evalErrf(KindUnsupportedComparison, "expected an integer literal for an int32 column")
		}
		return scalar.NewInt32Scalar(int32(v.Int)), nil
	case ElemI64:
		if !isNumeric(v.Elem) || v.Elem == ElemF32 || v.Elem == ElemF64 {
			return nil, evalErrf(KindUnsupportedComparison, "expected an integer literal for an int64 column")
		}
		return scalar.NewInt64Scalar(v.Int), nil
	case ElemF32:
		if !isNumeric(v.Elem) {
			return nil, evalErrf(KindUnsupportedComparison, "expected a numeric literal for a float32 column")
		}
		return scalar.NewFloat32Scalar(float32(scalarAsFloat(v))), nil
	case ElemF64:
		if !isNumeric(v.Elem) {
			return nil, evalErrf(KindUnsupportedComparison, "expected a numeric literal for a float64 column")
		}
		return scalar.NewFloat64Scalar(scalarAsFloat(v)), nil
	case ElemUtf8:
		if v.Elem != ElemUtf8 {
			return nil, evalErrf(KindUnsupportedComparison, "expected a string literal for a utf8 column")
		}
		return scalar.NewStringScalar(v.Str), nil
	case ElemBool:
		if v.Elem != ElemBool {
			return nil, evalErrf(KindUnsupportedComparison, "expected a boolean literal for a bool column")
		}
		return scalar.NewBooleanScalar(v.Bool), nil
	default:
		return nil, evalErrf(KindUnsupportedType, "%s", elem)
	}
}

func scalarAsFloat(v Value) float64 {
	if v.Elem == ElemF32 || v.Elem == ElemF64 {
		return v.Float
	}
	return float64(v.Int)
}

func isInteger(e ElemType) bool {
	return e == ElemI32 || e == ElemI64
}

// compareScalarScalar handles the (scalar, scalar) compare shape, which
// never touches the kernel runtime.
func compareScalarScalar(lv, rv Value, op expr.CompareOp) (Value, error) {
	switch {
	case lv.Elem == ElemBool || rv.Elem == ElemBool:
		if lv.Elem != ElemBool || rv.Elem != ElemBool {
			return Value{}, evalErrf(KindUnsupportedComparison, "cannot compare a boolean with a non-boolean")
		}
		if op != expr.OpEq && op != expr.OpNe {
			return Value{}, evalErrf(KindUnsupportedComparison, "only == and != are supported for boolean comparisons")
		}
		eq := lv.Bool == rv.Bool
		return boolScalar(eq == (op == expr.OpEq)), nil
	case lv.Elem == ElemUtf8 || rv.Elem == ElemUtf8:
		if lv.Elem != ElemUtf8 || rv.Elem != ElemUtf8 {
			return Value{}, evalErrf(KindUnsupportedComparison, "cannot compare a string with a non-string")
		}
		return boolScalar(applyCompareOp(op, strings.Compare(lv.Str, rv.Str))), nil
	case isInteger(lv.Elem) && isInteger(rv.Elem):
		c := 0
		switch {
		case lv.Int < rv.Int:
			c = -1
		case lv.Int > rv.Int:
			c = 1
		}
		return boolScalar(applyCompareOp(op, c)), nil
	case isNumeric(lv.Elem) && isNumeric(rv.Elem):
		a, b := scalarAsFloat(lv), scalarAsFloat(rv)
		c := 0
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
		return boolScalar(applyCompareOp(op, c)), nil
	default:
		return Value{}, evalErrf(KindUnsupportedComparison, "unsupported scalar comparison operands")
	}
}

func applyCompareOp(op expr.CompareOp, c int) bool {
	switch op {
	case expr.OpEq:
		return c == 0
	case expr.OpNe:
		return c != 0
	case expr.OpGt:
		return c > 0
	case expr.OpLt:
		return c < 0
	case expr.OpGte:
		return c >= 0
	case expr.OpLte:
		return c <= 0
	default:
		return false
	}
}

// scalarAt reads element i out of arr as a scalar Value of the given
// element type. Caller has already checked arr.IsNull(i) == false.
func scalarAt(elem ElemType, arr arrow.Array, i int) (Value, error) {
	switch elem {
	case ElemI32:
		return intScalar(ElemI32, int64(arr.(*array.Int32).Value(i))), nil
	case ElemI64:
		return intScalar(ElemI64, arr.(*array.Int64).Value(i)), nil
	case ElemF32:
		return floatScalar(ElemF32, float64(arr.(*array.Float32).Value(i))), nil
	case ElemF64:
		return floatScalar(ElemF64, arr.(*array.Float64).Value(i)), nil
	case ElemUtf8:
		return strScalar(arr.(*array.String).Value(i)), nil
	case ElemBool:
		return boolScalar(arr.(*array.Boolean).Value(i)), nil
	default:
		return Value{}, evalErrf(KindUnsupportedType, "index is not supported for %s", elem)
	}
}

// resolveBound normalizes a single (possibly negative) slice bound
// against length L and clamps it into range exactly once, per the
// direction of travel implied by step's sign.
func resolveBound(raw, length, step int64) int64 {
	v := raw
	if v < 0 {
		v += length
	}
	if step > 0 {
		return clampInt(v, 0, length)
	}
	return clampInt(v, -1, length-1)
}

func clampInt(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sliceBounds computes the (start, stop) walk bounds for a slice over
// a column of the given length, applying NumPy-style defaults for
// whichever bound was omitted from the source text.
func sliceBounds(length int64, startP, stopP *int64, step int64) (start, stop int64) {
	if step > 0 {
		start, stop = 0, length
	} else {
		// -1 is one step before index 0, so the walk stops after 0.
		start, stop = length-1, -1
	}
	if startP != nil {
		start = resolveBound(*startP, length, step)
	}
	if stopP != nil {
		stop = resolveBound(*stopP, length, step)
	}
	return start, stop
}

func walkSliceIndices(start, stop, step int64) []int64 {
	var out []int64
	if step > 0 {
		for i := start; i < stop; i += step {
			out = append(out, i)
		}
	} else {
		for i := start; i > stop; i += step {
			out = append(out, i)
		}
	}
	return out
}

// gatherSlice builds a fresh array containing arr's elements at idxs,
// in order, preserving nulls. One builder arm per supported element
// type.
func gatherSlice(elem ElemType, arr arrow.Array, idxs []int64) (Value, error) {
	switch elem {
	case ElemI32:
		src := arr.(*array.Int32)
		b := array.NewInt32Builder(kernelPool)
		defer b.Release()
		for _, i := range idxs {
			if src.IsNull(int(i)) {
				b.AppendNull()
				continue
			}
			b.Append(src.Value(int(i)))
		}
		return columnOwned(ElemI32, b.NewArray()), nil
	case ElemI64:
		src := arr.(*array.Int64)
		b := array.NewInt64Builder(kernelPool)
		defer b.Release()
		for _, i := range idxs {
			if src.IsNull(int(i)) {
				b.AppendNull()
				continue
			}
			b.Append(src.Value(int(i)))
		}
		return columnOwned(ElemI64, b.NewArray()), nil
	case ElemF32:
		src := arr.(*array.Float32)
		b := array.NewFloat32Builder(kernelPool)
		defer b.Release()
		for _, i := range idxs {
			if src.IsNull(int(i)) {
				b.AppendNull()
				continue
			}
			b.Append(src.Value(int(i)))
		}
		return columnOwned(ElemF32, b.NewArray()), nil
	case ElemF64:
		src := arr.(*array.Float64)
		b := array.NewFloat64Builder(kernelPool)
		defer b.Release()
		for _, i := range idxs {
			if src.IsNull(int(i)) {
				b.AppendNull()
				continue
			}
			b.Append(src.Value(int(i)))
		}
		return columnOwned(ElemF64, b.NewArray()), nil
	case ElemUtf8:
		src := arr.(*array.String)
		b := array.NewStringBuilder(kernelPool)
		defer b.Release()
		for _, i := range idxs {
			if src.IsNull(int(i)) {
				b.AppendNull()
				continue
			}
			b.Append(src.Value(int(i)))
		}
		return columnOwned(ElemUtf8, b.NewArray()), nil
	case ElemBool:
		src := arr.(*array.Boolean)
		b := array.NewBooleanBuilder(kernelPool)
		defer b.Release()
		for _, i := range idxs {
			if src.IsNull(int(i)) {
				b.AppendNull()
				continue
			}
			b.Append(src.Value(int(i)))
		}
		return columnOwned(ElemBool, b.NewArray()), nil
	default:
		return Value{}, evalErrf(KindUnsupportedType, "slice is not supported for %s", elem)
	}
}

// flattenListColumn extracts a list<int64> column's values into a flat
// int64 column, one level deep, dropping null list slots entirely and
// propagating null elements. This is the only list element type this
// core flattens.
func flattenListColumn(bv Value) (Value, error) {
	listArr, ok := bv.Column.(*array.List)
	if !ok {
		return Value{}, evalErrf(KindFlattenUnsupported, "flatten/projection requires a list array")
	}
	i64elem, ok := listArr.ListValues().(*array.Int64)
	if !ok {
		return Value{}, evalErrf(KindFlattenUnsupported, "flatten/projection is only supported for list<int64> in this core")
	}
	b := array.NewInt64Builder(kernelPool)
	defer b.Release()
	for i := 0; i < listArr.Len(); i++ {
		if listArr.IsNull(i) {
			continue
		}
		start, end := listArr.ValueOffsets(i)
		for j := start; j < end; j++ {
			if i64elem.IsNull(int(j)) {
				b.AppendNull()
				continue
			}
			b.Append(i64elem.Value(int(j)))
		}
	}
	return columnOwned(ElemI64, b.NewArray()), nil
}

func arrowTypeOf(e ElemType) arrow.DataType {
	switch e {
	case ElemI32:
		return arrow.PrimitiveTypes.Int32
	case ElemI64:
		return arrow.PrimitiveTypes.Int64
	case ElemF32:
		return arrow.PrimitiveTypes.Float32
	case ElemF64:
		return arrow.PrimitiveTypes.Float64
	case ElemUtf8:
		return arrow.BinaryTypes.String
	case ElemBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.Null
	}
}

func arrowTypeName(e ElemType) string {
	switch e {
	case ElemI32:
		return "int32"
	case ElemI64:
		return "int64"
	case ElemF32:
		return "float32"
	case ElemF64:
		return "float64"
	case ElemUtf8:
		return "string"
	case ElemBool:
		return "boolean"
	case ElemList:
		return "list"
	default:
		return "unknown"
	}
}

// scalarToSingletonArray builds a length-1 array carrying v's value,
// for the MultiSelectHash "broadcast a scalar into an empty-batch
// result" rule.
func scalarToSingletonArray(v Value) (arrow.Array, arrow.DataType, error) {
	switch v.Elem {
	case ElemI32:
		b := array.NewInt32Builder(kernelPool)
		defer b.Release()
		b.Append(int32(v.Int))
		return b.NewArray(), arrow.PrimitiveTypes.Int32, nil
	case ElemI64:
		b := array.NewInt64Builder(kernelPool)
		defer b.Release()
		b.Append(v.Int)
		return b.NewArray(), arrow.PrimitiveTypes.Int64, nil
	case ElemF32:
		b := array.NewFloat32Builder(kernelPool)
		defer b.Release()
		b.Append(float32(v.Float))
		return b.NewArray(), arrow.PrimitiveTypes.Float32, nil
	case ElemF64:
		b := array.NewFloat64Builder(kernelPool)
		defer b.Release()
		b.Append(v.Float)
		return b.NewArray(), arrow.PrimitiveTypes.Float64, nil
	case ElemUtf8:
		b := array.NewStringBuilder(kernelPool)
		defer b.Release()
		b.Append(v.Str)
		return b.NewArray(), arrow.BinaryTypes.String, nil
	case ElemBool:
		b := array.NewBooleanBuilder(kernelPool)
		defer b.Release()
		b.Append(v.Bool)
		return b.NewArray(), arrow.FixedWidthTypes.Boolean, nil
	default:
		return nil, nil, evalErrf(KindUnsupportedType, "%s", v.Elem)
	}
}

// scalarNumericValue extracts a float64 out of an Arrow reduction
// kernel's scalar result, regardless of its concrete numeric subtype.
func scalarNumericValue(sc scalar.Scalar) (float64, error) {
	switch s := sc.(type) {
	case *scalar.Int32:
		return float64(s.Value), nil
	case *scalar.Int64:
		return float64(s.Value), nil
	case *scalar.Float32:
		return float64(s.Value), nil
	case *scalar.Float64:
		return s.Value, nil
	default:
		return 0, evalErrf(KindKernelError, "unsupported aggregate result type %T", sc)
	}
}

func scalarFromArrowScalar(elem ElemType, sc scalar.Scalar) (Value, error) {
	v, err := scalarNumericValue(sc)
	if err != nil {
		return Value{}, err
	}
	if elem == ElemF32 || elem == ElemF64 {
		return floatScalar(elem, v), nil
	}
	return intScalar(elem, int64(v)), nil
}
