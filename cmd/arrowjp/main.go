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

// Command arrowjp is a small demonstration harness for package expr and
// package vm: it builds an in-memory Arrow record batch, parses a
// JMESPath-style expression from the command line, evaluates it, and
// prints the result. It exists to exercise the two packages end to
// end; it is not a query server.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/sirupsen/logrus"

	"github.com/arrowjp/arrowjp/expr"
	"github.com/arrowjp/arrowjp/vm"
)

var log = logrus.New()

func main() {
	var (
		exprText = flag.String("e", "age > 30", "JMESPath-style expression to evaluate")
		verbose  = flag.Bool("v", false, "enable debug logging")
		rows     = flag.Int("rows", 5, "number of demo rows to generate")
	)
	flag.Parse()

	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	batch := demoBatch(*rows)
	defer batch.Release()

	node, err := expr.Parse(*exprText)
	if err != nil {
		log.WithError(err).WithField("expr", *exprText).Error("parse failed")
		os.Exit(1)
	}
	log.WithField("expr", *exprText).Debug("parsed expression")

	result, err := vm.Evaluate(node, batch)
	if err != nil {
		log.WithError(err).Error("evaluation failed")
		os.Exit(1)
	}
	defer result.Release()

	printResult(result)
}

func printResult(v vm.Value) {
	switch v.Which {
	case vm.KindBatch:
		fmt.Println(v.Batch)
	case vm.KindColumnRef:
		fmt.Println(v.Column)
	case vm.KindScalar:
		fmt.Printf("%v\n", scalarString(v))
	}
}

func scalarString(v vm.Value) any {
	switch v.Elem {
	case vm.ElemI32, vm.ElemI64:
		return v.Int
	case vm.ElemF32, vm.ElemF64:
		return v.Float
	case vm.ElemUtf8:
		return v.Str
	case vm.ElemBool:
		return v.Bool
	default:
		return nil
	}
}

// demoBatch builds a small in-memory record batch directly via
// Arrow-Go builders; there's no document-ingestion pipeline here.
func demoBatch(n int) arrow.Record {
	pool := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "age", Type: arrow.PrimitiveTypes.Int64},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64},
		{Name: "active", Type: arrow.FixedWidthTypes.Boolean},
	}, nil)

	nameB := array.NewStringBuilder(pool)
	defer nameB.Release()
	ageB := array.NewInt64Builder(pool)
	defer ageB.Release()
	scoreB := array.NewFloat64Builder(pool)
	defer scoreB.Release()
	activeB := array.NewBooleanBuilder(pool)
	defer activeB.Release()

	names := []string{"ada", "grace", "linus", "barbara", "dennis", "margaret", "ken", "radia"}
	for i := 0; i < n; i++ {
		nameB.Append(names[i%len(names)])
		ageB.Append(int64(20 + i*7%50))
		scoreB.Append(float64(i) * 1.5)
		activeB.Append(i%2 == 0)
	}

	cols := []arrow.Array{nameB.NewArray(), ageB.NewArray(), scoreB.NewArray(), activeB.NewArray()}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecord(schema, cols, int64(n))
}
