// Lumasm assembles light machine source into a binary program image.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"github.com/chazu/lumen/asm"
	"github.com/chazu/lumen/graph"
	"github.com/chazu/lumen/vm"
)

func main() {
	out := flag.String("o", "program.bin", "Output image path")
	dedup := flag.Bool("dedup", true, "Deduplicate identical machine types, functions and statics")
	dump := flag.Bool("dump", false, "Disassemble the image to stdout after assembly")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lumasm [options] <source.lasm>\n\n")
		fmt.Fprintf(os.Stderr, "Assembles light machine source into a binary program image.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	srcPath := flag.Arg(0)
	src, err := os.ReadFile(srcPath)
	if err != nil {
		fatal("read %s: %v", srcPath, err)
	}

	g, err := asm.AssembleProgram(string(src))
	if err != nil {
		fatal("%v", err)
	}

	var words []vm.ProgramWord
	if *dedup {
		words, err = g.Emit()
		if err != nil {
			fatal("link: %v", err)
		}
	} else {
		words, err = emitFlat(string(src), g)
		if err != nil {
			fatal("%v", err)
		}
	}

	if err := writeImage(*out, words); err != nil {
		fatal("write %s: %v", *out, err)
	}
	fmt.Printf("%s: %d words, %d machines, %d types\n", *out, len(words), g.InstanceCount(), g.TypeCount())

	if *dump {
		for pc := 0; pc < len(words); {
			var line string
			line, pc = vm.DisassembleAt(words, pc)
			fmt.Println(line)
		}
	}
}

// emitFlat reassembles straight into a builder with no interning; the
// first graph pass only supplies the table capacities.
func emitFlat(src string, g *graph.Program) ([]vm.ProgramWord, error) {
	buf := make([]vm.ProgramWord, g.FlatMaxWords())
	b, err := vm.NewBuilder(buf, g.InstanceCount(), g.InstanceCount(), g.SharedFunctionCount())
	if err != nil {
		return nil, err
	}
	if err := asm.Assemble(src, asm.NewBuilderBackend(b)); err != nil {
		return nil, err
	}
	return b.Words(), nil
}

func writeImage(path string, words []vm.ProgramWord) error {
	buf := make([]byte, 2*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(w))
	}
	return os.WriteFile(path, buf, 0o644)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "lumasm: "+format+"\n", args...)
	os.Exit(1)
}
