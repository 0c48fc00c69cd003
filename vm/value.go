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

// Package vm is the vectorized evaluator: it walks an expr.Node tree and
// dispatches each node into Apache Arrow kernel calls against a record
// batch, tracking result shape (columnar array, scalar, or a fresh
// batch) the whole way through. The evaluator is a pure function of
// (Node, arrow.Record) with no blocking I/O; its only diagnostic output
// goes through the optional package-level Errorf hook (log.go).
package vm

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// ElemType is the closed set of Arrow physical element types this core
// understands: i32, i64, f32, f64, utf8, bool, and list.
type ElemType int

const (
	ElemI32 ElemType = iota
	ElemI64
	ElemF32
	ElemF64
	ElemUtf8
	ElemBool
	ElemList
)

func (t ElemType) String() string {
	switch t {
	case ElemI32:
		return "int32"
	case ElemI64:
		return "int64"
	case ElemF32:
		return "float32"
	case ElemF64:
		return "float64"
	case ElemUtf8:
		return "utf8"
	case ElemBool:
		return "bool"
	case ElemList:
		return "list"
	default:
		return "<bad-elem-type>"
	}
}

// elemTypeOf maps an Arrow DataType to the element-type tag this core
// supports, or false if the type falls outside that closed set.
func elemTypeOf(dt arrow.DataType) (ElemType, bool) {
	switch dt.ID() {
	case arrow.INT32:
		return ElemI32, true
	case arrow.INT64:
		return ElemI64, true
	case arrow.FLOAT32:
		return ElemF32, true
	case arrow.FLOAT64:
		return ElemF64, true
	case arrow.STRING:
		return ElemUtf8, true
	case arrow.BOOL:
		return ElemBool, true
	case arrow.LIST:
		return ElemList, true
	default:
		return 0, false
	}
}

// ValueKind discriminates the three shapes a Value can take.
type ValueKind int

const (
	KindColumnRef ValueKind = iota
	KindScalar
	KindBatch
)

// Value is the tagged result returned by every evaluation step. Exactly
// one of ColumnRef, Scalar, or Batch is the active kind, per Which.
type Value struct {
	Which ValueKind

	// populated when Which == KindColumnRef
	Elem   ElemType
	Column arrow.Array

	// populated when Which == KindScalar; Elem still applies, and at
	// most one of the typed fields below is meaningful for that Elem.
	Int    int64
	Float  float64
	Str    string
	Bool   bool

	// populated when Which == KindBatch
	Batch arrow.Record
}

// column builds a ColumnRef value that borrows arr (e.g. a Path result
// taken directly from the context batch). The array is retained so the
// Value's lifetime is independent of its source.
func column(elem ElemType, arr arrow.Array) Value {
	arr.Retain()
	return Value{Which: KindColumnRef, Elem: elem, Column: arr}
}

// columnOwned builds a ColumnRef value around an array this call
// already holds the sole reference to (a kernel or builder result,
// e.g. from Slice/Flatten/reverse/aggregation intermediates). No extra
// Retain is taken; ownership transfers to the Value.
func columnOwned(elem ElemType, arr arrow.Array) Value {
	return Value{Which: KindColumnRef, Elem: elem, Column: arr}
}

// batchValue builds a Batch value that borrows rec (e.g. @ against the
// existing context). The record is retained.
func batchValue(rec arrow.Record) Value {
	rec.Retain()
	return Value{Which: KindBatch, Batch: rec}
}

// batchOwned builds a Batch value around a record this call already
// holds the sole reference to (filter/sort/reverse/multi-select
// results). No extra Retain is taken.
func batchOwned(rec arrow.Record) Value {
	return Value{Which: KindBatch, Batch: rec}
}

func intScalar(elem ElemType, v int64) Value {
	return Value{Which: KindScalar, Elem: elem, Int: v}
}

func floatScalar(elem ElemType, v float64) Value {
	return Value{Which: KindScalar, Elem: elem, Float: v}
}

func boolScalar(v bool) Value {
	return Value{Which: KindScalar, Elem: ElemBool, Bool: v}
}

func strScalar(v string) Value {
	return Value{Which: KindScalar, Elem: ElemUtf8, Str: v}
}

// Release drops this Value's reference to its underlying Arrow buffers,
// if any. Callers that hold on to a Value returned from Evaluate past
// the point they need it should call Release to let Arrow reclaim the
// backing memory promptly (§5: "prefer returning owned arrays...").
func (v Value) Release() {
	switch v.Which {
	case KindColumnRef:
		if v.Column != nil {
			v.Column.Release()
		}
	case KindBatch:
		if v.Batch != nil {
			v.Batch.Release()
		}
	}
}
