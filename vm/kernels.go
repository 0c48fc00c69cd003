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

// kernels.go centralizes every call into github.com/apache/arrow-go's
// compute package behind a handful of narrow, typed helpers. The rest
// of the evaluator never calls compute.CallFunction directly; if the
// Arrow-Go compute surface changes shape, this is the one file that
// needs to move.
package vm

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/scalar"
)

var kernelPool = memory.NewGoAllocator()

var compareFuncName = map[compareOpT]string{
	cmpEq:  "equal",
	cmpNe:  "not_equal",
	cmpGt:  "greater",
	cmpLt:  "less",
	cmpGte: "greater_equal",
	cmpLte: "less_equal",
}

// compareOpT mirrors expr.CompareOp without importing package expr here,
// keeping this file reusable independent of the AST package.
type compareOpT int

const (
	cmpEq compareOpT = iota
	cmpNe
	cmpGt
	cmpLt
	cmpGte
	cmpLte
)

// compareArrayScalar runs a broadcast comparison kernel (column, scalar)
// and returns the boolean mask array.
func compareArrayScalar(ctx context.Context, arr arrow.Array, op compareOpT, sc scalar.Scalar) (*array.Boolean, error) {
	name, ok := compareFuncName[op]
	if !ok {
		return nil, fmt.Errorf("unknown compare op %d", op)
	}
	out, err := compute.CallFunction(ctx, name, nil, compute.NewDatum(arr), compute.NewDatum(sc))
	if err != nil {
		return nil, err
	}
	defer out.Release()
	return datumToBoolArray(out)
}

// logicalBinary runs "and"/"or" over two boolean masks, Kleene-logic
// aware (Arrow's and_kleene/or_kleene propagate nulls per three-valued
// logic, which is the correct behavior for a nullable boolean column).
func logicalBinary(ctx context.Context, a, b *array.Boolean, and bool) (*array.Boolean, error) {
	name := "or_kleene"
	if and {
		name = "and_kleene"
	}
	out, err := compute.CallFunction(ctx, name, nil, compute.NewDatum(a), compute.NewDatum(b))
	if err != nil {
		return nil, err
	}
	defer out.Release()
	return datumToBoolArray(out)
}

// logicalNot runs "invert" over a boolean mask.
func logicalNot(ctx context.Context, a *array.Boolean) (*array.Boolean, error) {
	out, err := compute.CallFunction(ctx, "invert", nil, compute.NewDatum(a))
	if err != nil {
		return nil, err
	}
	defer out.Release()
	return datumToBoolArray(out)
}

// filterRecord applies a boolean mask to every column of rec via the
// "filter" kernel, returning a fresh, self-consistent record batch.
func filterRecord(ctx context.Context, rec arrow.Record, mask *array.Boolean) (arrow.Record, error) {
	cols := make([]arrow.Array, rec.NumCols())
	for i := range cols {
		out, err := compute.CallFunction(ctx, "filter", nil, compute.NewDatum(rec.Column(i)), compute.NewDatum(mask))
		if err != nil {
			return nil, err
		}
		arr, err := datumToArray(out)
		out.Release()
		if err != nil {
			return nil, err
		}
		cols[i] = arr
		defer arr.Release()
	}
	n := int64(0)
	if len(cols) > 0 {
		n = int64(cols[0].Len())
	} else {
		n = int64(popcount(mask))
	}
	return array.NewRecord(rec.Schema(), cols, n), nil
}

// takeArray reorders/selects elements of arr by indices via the "take"
// kernel.
func takeArray(ctx context.Context, arr arrow.Array, indices arrow.Array) (arrow.Array, error) {
	out, err := compute.CallFunction(ctx, "take", nil, compute.NewDatum(arr), compute.NewDatum(indices))
	if err != nil {
		return nil, err
	}
	defer out.Release()
	return datumToArray(out)
}

// takeRecord applies takeArray to every column of rec.
func takeRecord(ctx context.Context, rec arrow.Record, indices arrow.Array) (arrow.Record, error) {
	cols := make([]arrow.Array, rec.NumCols())
	for i := range cols {
		arr, err := takeArray(ctx, rec.Column(i), indices)
		if err != nil {
			return nil, err
		}
		cols[i] = arr
		defer arr.Release()
	}
	return array.NewRecord(rec.Schema(), cols, int64(indices.Len())), nil
}

// sortIndices returns the stable-ascending permutation of key via the
// "sort_indices" kernel.
func sortIndices(ctx context.Context, key arrow.Array) (arrow.Array, error) {
	opts := &compute.SortOptions{
		Sortkeys: []compute.SortKey{{Order: compute.SortAscending}},
	}
	out, err := compute.CallFunction(ctx, "sort_indices", opts, compute.NewDatum(key))
	if err != nil {
		return nil, err
	}
	defer out.Release()
	return datumToArray(out)
}

// reverseIndices builds the identity-reversed index array [len-1 .. 0],
// suitable for feeding to takeArray/takeRecord.
func reverseIndices(n int) arrow.Array {
	bld := array.NewInt32Builder(kernelPool)
	defer bld.Release()
	for i := n - 1; i >= 0; i-- {
		bld.Append(int32(i))
	}
	return bld.NewArray()
}

// aggregate runs one of "sum"/"min"/"max" over a numeric column and
// returns the resulting scalar.
func aggregate(ctx context.Context, name string, arr arrow.Array) (scalar.Scalar, error) {
	out, err := compute.CallFunction(ctx, name, nil, compute.NewDatum(arr))
	if err != nil {
		return nil, err
	}
	defer out.Release()
	sd, ok := out.(*compute.ScalarDatum)
	if !ok {
		return nil, fmt.Errorf("%s: expected scalar result, got %T", name, out)
	}
	return sd.Value, nil
}

func popcount(mask *array.Boolean) int {
	n := 0
	for i := 0; i < mask.Len(); i++ {
		if mask.IsValid(i) && mask.Value(i) {
			n++
		}
	}
	return n
}

func datumToArray(d compute.Datum) (arrow.Array, error) {
	ad, ok := d.(*compute.ArrayDatum)
	if !ok {
		return nil, fmt.Errorf("expected array result, got %T", d)
	}
	arr := ad.MakeArray()
	return arr, nil
}

func datumToBoolArray(d compute.Datum) (*array.Boolean, error) {
	arr, err := datumToArray(d)
	if err != nil {
		return nil, err
	}
	b, ok := arr.(*array.Boolean)
	if !ok {
		arr.Release()
		return nil, fmt.Errorf("expected boolean array, got %T", arr)
	}
	return b, nil
}
