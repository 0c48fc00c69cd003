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

import "fmt"

// ErrKind enumerates the evaluator's closed error taxonomy. Every
// evaluation failure is fatal and carries one of these kinds plus a
// human-readable detail string; the evaluator never retries or
// substitutes a default.
type ErrKind string

const (
	KindUnknownField          ErrKind = "UnknownField"
	KindNotAStruct            ErrKind = "NotAStruct"
	KindUnsupportedType       ErrKind = "UnsupportedType"
	KindUnsupportedComparison ErrKind = "UnsupportedComparison"
	KindUnsupportedLogic      ErrKind = "UnsupportedLogic"
	KindInvalidPredicate      ErrKind = "InvalidPredicate"
	KindPipeRequiresBatch     ErrKind = "PipeRequiresBatch"
	KindProjectionUnsupported ErrKind = "ProjectionUnsupported"
	KindFlattenUnsupported    ErrKind = "FlattenUnsupported"
	KindScalarInMultiSelect   ErrKind = "ScalarInMultiSelect"
	KindNotImplemented        ErrKind = "NotImplemented"
	KindIndexOutOfBounds      ErrKind = "IndexOutOfBounds"
	KindNullIndex             ErrKind = "NullIndex"
	KindInvalidSlice          ErrKind = "InvalidSlice"
	KindUnknownFunction       ErrKind = "UnknownFunction"
	KindArityMismatch         ErrKind = "ArityMismatch"
	KindArgumentKindMismatch  ErrKind = "ArgumentKindMismatch"
	KindInvalidExprRefUse     ErrKind = "InvalidExprRefUse"
	KindKernelError           ErrKind = "KernelError"
)

// EvalError is the single error type evaluate ever returns. It carries
// the taxonomy kind and a human-readable detail; there is no stack
// unwinding semantics exposed beyond the Go call stack itself.
type EvalError struct {
	Kind   ErrKind
	Detail string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func evalErrf(kind ErrKind, format string, args ...any) *EvalError {
	return &EvalError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// wrapKernelError lifts a failure surfaced by an Arrow kernel into the
// evaluator's own taxonomy as KernelError, preserving the underlying
// message.
func wrapKernelError(op string, err error) *EvalError {
	errorf("kernel error in %s: %s", op, err)
	return evalErrf(KindKernelError, "%s: %s", op, err)
}
