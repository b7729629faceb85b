package main

// workload_gen.go is a tiny helper utility to generate deterministic
// identifier-name datasets and callsite-shape descriptors for standalone
// benchmarking of corevm's interning subsystems (outside `go test`). It
// emits newline-separated records that bench or an external load tester can
// consume.
//
// Usage:
//
//	go run ./tools/workload_gen -n 1000000 -kind=idents -seed=42 -out idents.txt
//	go run ./tools/workload_gen -n 10000 -kind=shapes -seed=42 -out shapes.txt
//
// Flags:
//
//	-n      number of records to generate (default 1e6)
//	-kind   "idents" (identifier strings) or "shapes" (arity,flags... lines)
//	-seed   RNG seed (default current time)
//	-out    output file (default stdout)
//
// © 2026 corevm authors. MIT License.

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

var flagNames = [...]string{"obj", "int", "num", "str"}

func main() {
	var (
		n       = flag.Int("n", 1_000_000, "number of records to generate")
		kind    = flag.String("kind", "idents", "idents or shapes")
		seedVal = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		outPath = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	rnd := rand.New(rand.NewSource(*seedVal))

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	switch *kind {
	case "idents":
		for i := 0; i < *n; i++ {
			fmt.Fprintf(w, "ident_%x\n", rnd.Uint64())
		}
	case "shapes":
		for i := 0; i < *n; i++ {
			arity := 1 + rnd.Intn(7)
			fmt.Fprintf(w, "%d", arity)
			for j := 0; j < arity; j++ {
				fmt.Fprintf(w, ",%s", flagNames[rnd.Intn(len(flagNames))])
			}
			fmt.Fprintln(w)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown kind:", *kind)
		os.Exit(1)
	}
}
