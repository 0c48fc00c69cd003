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

// Package expr implements the AST representation of JMESPath-style
// path and filter expressions, and the recursive-descent parser that
// produces it from source text.
//
// Each precedence level of the grammar (pipe, or, and, not, comparison,
// primary/postfix, atom) is its own parsing procedure; see parse.go.
// The AST produced here carries no evaluation logic — that lives in
// package vm, which walks the tree against an Arrow record batch.
package expr
