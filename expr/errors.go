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

import "fmt"

// SyntaxError is the single diagnostic kind the parser ever returns.
// It is never recovered from inside the parser.
type SyntaxError struct {
	Offset   int    // byte offset of the offending token
	Expected string // short, human-readable expectation
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Offset, e.Expected)
}

func errsyntaxf(off int, f string, args ...any) error {
	return &SyntaxError{Offset: off, Expected: fmt.Sprintf(f, args...)}
}
