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

package vm_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/arrowjp/arrowjp/expr"
	"github.com/arrowjp/arrowjp/vm"
)

var pool = memory.NewGoAllocator()

func int64Record(t *testing.T, fieldName string, vals []int64) arrow.Record {
	t.Helper()
	b := array.NewInt64Builder(pool)
	b.AppendValues(vals, nil)
	arr := b.NewArray()
	b.Release()
	defer arr.Release()
	schema := arrow.NewSchema([]arrow.Field{{Name: fieldName, Type: arrow.PrimitiveTypes.Int64}}, nil)
	return array.NewRecord(schema, []arrow.Array{arr}, int64(len(vals)))
}

func evalExpr(t *testing.T, text string, rec arrow.Record) vm.Value {
	t.Helper()
	node, err := expr.Parse(text)
	require.NoError(t, err)
	v, err := vm.Evaluate(node, rec)
	require.NoError(t, err)
	return v
}

func boolValues(mask *array.Boolean) []bool {
	out := make([]bool, mask.Len())
	for i := range out {
		out[i] = mask.IsValid(i) && mask.Value(i)
	}
	return out
}

func TestScenarioS1(t *testing.T) {
	rec := int64Record(t, "age", []int64{25, 30, 20})
	defer rec.Release()

	v := evalExpr(t, "age > 25", rec)
	defer v.Release()

	require.Equal(t, vm.KindColumnRef, v.Which)
	require.Equal(t, vm.ElemBool, v.Elem)
	mask := v.Column.(*array.Boolean)
	require.Equal(t, []bool{false, true, false}, boolValues(mask))
}

func TestScenarioS2(t *testing.T) {
	pool := memory.NewGoAllocator()
	nameB := array.NewStringBuilder(pool)
	nameB.AppendValues([]string{"Alice", "Bob", "Charlie"}, nil)
	nameArr := nameB.NewArray()
	nameB.Release()
	defer nameArr.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: "name", Type: arrow.BinaryTypes.String}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{nameArr}, 3)
	defer rec.Release()

	v := evalExpr(t, `name == 'Bob'`, rec)
	defer v.Release()

	mask := v.Column.(*array.Boolean)
	require.Equal(t, []bool{false, true, false}, boolValues(mask))
}

func buildS3Batch(t *testing.T) arrow.Record {
	t.Helper()
	pool := memory.NewGoAllocator()
	aB := array.NewInt64Builder(pool)
	aB.AppendValues([]int64{25, 30, 20}, nil)
	aArr := aB.NewArray()
	aB.Release()
	defer aArr.Release()

	actB := array.NewBooleanBuilder(pool)
	actB.AppendValues([]bool{true, false, true}, nil)
	actArr := actB.NewArray()
	actB.Release()
	defer actArr.Release()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int64},
		{Name: "act", Type: arrow.FixedWidthTypes.Boolean},
	}, nil)
	return array.NewRecord(schema, []arrow.Array{aArr, actArr}, 3)
}

func TestScenarioS3(t *testing.T) {
	rec := buildS3Batch(t)
	defer rec.Release()

	v := evalExpr(t, "a > 22 && act == true", rec)
	defer v.Release()
	mask := v.Column.(*array.Boolean)
	require.Equal(t, []bool{true, false, false}, boolValues(mask))

	fv := evalExpr(t, "@[?a > 22 && act == true]", rec)
	defer fv.Release()
	require.Equal(t, vm.KindBatch, fv.Which)
	require.EqualValues(t, 1, fv.Batch.NumRows())
	aCol := fv.Batch.Column(0).(*array.Int64)
	actCol := fv.Batch.Column(1).(*array.Boolean)
	require.Equal(t, int64(25), aCol.Value(0))
	require.Equal(t, true, actCol.Value(0))
}

func TestScenarioS4(t *testing.T) {
	rec := int64Record(t, "age", []int64{30, 25, 35, 28})
	defer rec.Release()

	v := evalExpr(t, "sort_by(@, &age)", rec)
	defer v.Release()
	require.Equal(t, vm.KindBatch, v.Which)
	col := v.Batch.Column(0).(*array.Int64)
	got := make([]int64, col.Len())
	for i := range got {
		got[i] = col.Value(i)
	}
	require.Equal(t, []int64{25, 28, 30, 35}, got)
}

func TestScenarioS5(t *testing.T) {
	rec := int64Record(t, "price", []int64{999, 29, 399, 79})
	defer rec.Release()

	v := evalExpr(t, "reverse(sort_by(@, &price))", rec)
	defer v.Release()
	col := v.Batch.Column(0).(*array.Int64)
	got := make([]int64, col.Len())
	for i := range got {
		got[i] = col.Value(i)
	}
	require.Equal(t, []int64{999, 399, 79, 29}, got)
}

func TestScenarioS6(t *testing.T) {
	pool := memory.NewGoAllocator()
	emailB := array.NewStringBuilder(pool)
	emailB.AppendValues([]string{"a", "", "c", "", "e"}, []bool{true, false, true, false, true})
	emailArr := emailB.NewArray()
	emailB.Release()
	defer emailArr.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: "email", Type: arrow.BinaryTypes.String}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{emailArr}, 5)
	defer rec.Release()

	v := evalExpr(t, "not_null(email)", rec)
	defer v.Release()
	require.Equal(t, vm.KindBatch, v.Which)
	require.EqualValues(t, 3, v.Batch.NumRows())
	col := v.Batch.Column(0).(*array.String)
	got := make([]string, col.Len())
	for i := range got {
		got[i] = col.Value(i)
	}
	require.Equal(t, []string{"a", "c", "e"}, got)
}

// --- Universal invariants ---

func TestInvariantDeterminism(t *testing.T) {
	rec := int64Record(t, "age", []int64{25, 30, 20})
	defer rec.Release()
	node, err := expr.Parse("age > 25")
	require.NoError(t, err)

	v1, err := vm.Evaluate(node, rec)
	require.NoError(t, err)
	defer v1.Release()
	v2, err := vm.Evaluate(node, rec)
	require.NoError(t, err)
	defer v2.Release()

	require.Equal(t, boolValues(v1.Column.(*array.Boolean)), boolValues(v2.Column.(*array.Boolean)))
}

func TestInvariantPurityOnRoot(t *testing.T) {
	rec := int64Record(t, "age", []int64{25, 30, 20})
	defer rec.Release()
	col := rec.Column(0).(*array.Int64)
	before := make([]int64, col.Len())
	for i := range before {
		before[i] = col.Value(i)
	}

	v := evalExpr(t, "age > 25", rec)
	defer v.Release()

	after := make([]int64, col.Len())
	for i := range after {
		after[i] = col.Value(i)
	}
	require.Equal(t, before, after)
	require.EqualValues(t, 3, rec.NumRows())
}

func TestInvariantMaskLength(t *testing.T) {
	rec := int64Record(t, "age", []int64{1, 2, 3, 4, 5})
	defer rec.Release()
	v := evalExpr(t, "age > 2", rec)
	defer v.Release()
	require.Equal(t, int(rec.NumRows()), v.Column.Len())
}

func TestInvariantFilterLength(t *testing.T) {
	rec := int64Record(t, "age", []int64{1, 2, 3, 4, 5, 6})
	defer rec.Release()
	v := evalExpr(t, "@[?age > 3]", rec)
	defer v.Release()
	require.EqualValues(t, 3, v.Batch.NumRows()) // 4,5,6
}

func TestInvariantSortPermutationAndStability(t *testing.T) {
	pool := memory.NewGoAllocator()
	kB := array.NewInt64Builder(pool)
	kB.AppendValues([]int64{2, 1, 2, 1}, nil)
	kArr := kB.NewArray()
	kB.Release()
	defer kArr.Release()
	tagB := array.NewInt64Builder(pool)
	tagB.AppendValues([]int64{100, 200, 300, 400}, nil)
	tagArr := tagB.NewArray()
	tagB.Release()
	defer tagArr.Release()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "k", Type: arrow.PrimitiveTypes.Int64},
		{Name: "tag", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	rec := array.NewRecord(schema, []arrow.Array{kArr, tagArr}, 4)
	defer rec.Release()

	v := evalExpr(t, "sort_by(@, &k)", rec)
	defer v.Release()
	kCol := v.Batch.Column(0).(*array.Int64)
	tagCol := v.Batch.Column(1).(*array.Int64)

	gotK := make([]int64, kCol.Len())
	gotTag := make([]int64, tagCol.Len())
	for i := range gotK {
		gotK[i] = kCol.Value(i)
		gotTag[i] = tagCol.Value(i)
	}
	require.Equal(t, []int64{1, 1, 2, 2}, gotK)
	// rows with k==1 (tag 200, then 400) keep their relative order, same for k==2.
	require.Equal(t, []int64{200, 400, 100, 300}, gotTag)
}

func TestInvariantReverseInvolution(t *testing.T) {
	rec := int64Record(t, "age", []int64{1, 2, 3, 4, 5})
	defer rec.Release()
	node, err := expr.Parse("reverse(reverse(age))")
	require.NoError(t, err)
	v, err := vm.Evaluate(node, rec)
	require.NoError(t, err)
	defer v.Release()
	col := v.Column.(*array.Int64)
	got := make([]int64, col.Len())
	for i := range got {
		got[i] = col.Value(i)
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5}, got)
}

func TestInvariantNotNullSoundness(t *testing.T) {
	pool := memory.NewGoAllocator()
	b := array.NewInt64Builder(pool)
	b.AppendValues([]int64{1, 0, 3, 0, 5, 0}, []bool{true, false, true, false, true, false})
	arr := b.NewArray()
	b.Release()
	defer arr.Release()
	schema := arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Int64}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{arr}, 6)
	defer rec.Release()

	v := evalExpr(t, "not_null(v)", rec)
	defer v.Release()
	require.EqualValues(t, 3, v.Batch.NumRows())
	col := v.Batch.Column(0).(*array.Int64)
	for i := 0; i < col.Len(); i++ {
		require.True(t, col.IsValid(i))
	}
}

func TestInvariantSliceEquivalence(t *testing.T) {
	rec := int64Record(t, "v", []int64{10, 20, 30, 40, 50})
	defer rec.Release()

	cases := []struct {
		expr string
		want []int64
	}{
		{"v[1:3]", []int64{20, 30}},
		{"v[:2]", []int64{10, 20}},
		{"v[2:]", []int64{30, 40, 50}},
		{"v[::-1]", []int64{50, 40, 30, 20, 10}},
		{"v[-2:]", []int64{40, 50}},
	}
	for _, c := range cases {
		v := evalExpr(t, c.expr, rec)
		col := v.Column.(*array.Int64)
		got := make([]int64, col.Len())
		for i := range got {
			got[i] = col.Value(i)
		}
		require.Equal(t, c.want, got, "expr %q", c.expr)
		v.Release()
	}
}

func TestInvariantIndexSymmetry(t *testing.T) {
	rec := int64Record(t, "v", []int64{10, 20, 30})
	defer rec.Release()

	for i, neg := range []string{"v[-3]", "v[-2]", "v[-1]"} {
		pos := evalExpr(t, []string{"v[0]", "v[1]", "v[2]"}[i], rec)
		got := evalExpr(t, neg, rec)
		require.Equal(t, pos.Int, got.Int)
		pos.Release()
		got.Release()
	}
}

func TestInvariantFlatten(t *testing.T) {
	pool := memory.NewGoAllocator()
	listB := array.NewListBuilder(pool, arrow.PrimitiveTypes.Int64)
	vb := listB.ValueBuilder().(*array.Int64Builder)
	listB.Append(true)
	vb.AppendValues([]int64{1, 2}, nil)
	listB.Append(true)
	vb.AppendValues([]int64{3}, nil)
	listArr := listB.NewArray()
	listB.Release()
	defer listArr.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: "tags", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{listArr}, 2)
	defer rec.Release()

	v := evalExpr(t, "tags[]", rec)
	defer v.Release()
	col := v.Column.(*array.Int64)
	got := make([]int64, col.Len())
	for i := range got {
		got[i] = col.Value(i)
	}
	require.Equal(t, []int64{1, 2, 3}, got)
}

func TestUnknownFieldError(t *testing.T) {
	rec := int64Record(t, "age", []int64{1})
	defer rec.Release()
	node, err := expr.Parse("missing")
	require.NoError(t, err)
	_, err = vm.Evaluate(node, rec)
	require.Error(t, err)
	ee, ok := err.(*vm.EvalError)
	require.True(t, ok)
	require.Equal(t, vm.KindUnknownField, ee.Kind)
}

func TestArityMismatchError(t *testing.T) {
	rec := int64Record(t, "age", []int64{1})
	defer rec.Release()
	node, err := expr.Parse("abs(age, age)")
	require.NoError(t, err)
	_, err = vm.Evaluate(node, rec)
	require.Error(t, err)
	ee, ok := err.(*vm.EvalError)
	require.True(t, ok)
	require.Equal(t, vm.KindArityMismatch, ee.Kind)
}

func evalErrKind(t *testing.T, text string, rec arrow.Record) vm.ErrKind {
	t.Helper()
	node, err := expr.Parse(text)
	require.NoError(t, err)
	_, err = vm.Evaluate(node, rec)
	require.Error(t, err)
	ee, ok := err.(*vm.EvalError)
	require.True(t, ok, "want *vm.EvalError, got %T", err)
	return ee.Kind
}

func TestNotAStructError(t *testing.T) {
	rec := int64Record(t, "age", []int64{1, 2})
	defer rec.Release()
	require.Equal(t, vm.KindNotAStruct, evalErrKind(t, "age.sub", rec))
}

func TestColumnToColumnCompareUnsupported(t *testing.T) {
	rec := buildS3Batch(t)
	defer rec.Release()
	require.Equal(t, vm.KindUnsupportedComparison, evalErrKind(t, "a == act", rec))
}

func TestIndexOutOfBoundsError(t *testing.T) {
	rec := int64Record(t, "v", []int64{10, 20, 30})
	defer rec.Release()
	require.Equal(t, vm.KindIndexOutOfBounds, evalErrKind(t, "v[10]", rec))
}

func TestNullIndexError(t *testing.T) {
	pool := memory.NewGoAllocator()
	b := array.NewInt64Builder(pool)
	b.AppendValues([]int64{1, 0, 3}, []bool{true, false, true})
	arr := b.NewArray()
	b.Release()
	defer arr.Release()
	schema := arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Int64}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{arr}, 3)
	defer rec.Release()

	require.Equal(t, vm.KindNullIndex, evalErrKind(t, "v[1]", rec))
}

func TestInvalidSliceStepZeroError(t *testing.T) {
	rec := int64Record(t, "v", []int64{1, 2, 3})
	defer rec.Release()
	require.Equal(t, vm.KindInvalidSlice, evalErrKind(t, "v[::0]", rec))
}

func TestUnknownFunctionError(t *testing.T) {
	rec := int64Record(t, "age", []int64{1})
	defer rec.Release()
	require.Equal(t, vm.KindUnknownFunction, evalErrKind(t, "nope(age)", rec))
}

func TestPipeRequiresBatchError(t *testing.T) {
	rec := int64Record(t, "age", []int64{1, 2})
	defer rec.Release()
	require.Equal(t, vm.KindPipeRequiresBatch, evalErrKind(t, "age | age", rec))
}

func TestScalarCompareExactInt64Precision(t *testing.T) {
	big := int64(1) << 60
	rec := int64Record(t, "v", []int64{big, big + 1})
	defer rec.Release()

	v := evalExpr(t, "v[0] == v[1]", rec)
	defer v.Release()
	require.False(t, v.Bool, "two distinct int64 values beyond float64's exact range must not compare equal")
}
