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
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// resolve implements the column resolver contract: the first path
// segment names a top-level column, and each further segment descends
// into a struct column by matching a child field name.
func resolve(batch arrow.Record, path []string) (arrow.Array, error) {
	idx, ok := fieldIndex(batch.Schema(), path[0])
	if !ok {
		return nil, evalErrf(KindUnknownField, "%q", path[0])
	}
	current := batch.Column(idx)

	for _, seg := range path[1:] {
		structArr, ok := current.(*array.Struct)
		if !ok {
			return nil, evalErrf(KindNotAStruct, "%q", seg)
		}
		fields := structArr.DataType().(*arrow.StructType).Fields()
		childIdx := -1
		for i, f := range fields {
			if f.Name == seg {
				childIdx = i
				break
			}
		}
		if childIdx < 0 {
			return nil, evalErrf(KindUnknownField, "%q", seg)
		}
		current = structArr.Field(childIdx)
	}
	return current, nil
}

// fieldIndex finds the unique top-level field named name.
func fieldIndex(schema *arrow.Schema, name string) (int, bool) {
	for i, f := range schema.Fields() {
		if f.Name == name {
			return i, true
		}
	}
	return 0, false
}
