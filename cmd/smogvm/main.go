// Command smogvm is the CLI front end: it parses and compiles source
// files, runs them on the VM, loads and runs pre-compiled bytecode, prints
// disassembly listings, and hosts a line-edited REPL.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"

	"github.com/smogvm/core/pkg/bytecode"
	"github.com/smogvm/core/pkg/compiler"
	"github.com/smogvm/core/pkg/config"
	"github.com/smogvm/core/pkg/parser"
	"github.com/smogvm/core/pkg/scheduler"
	"github.com/smogvm/core/pkg/vm"
)

const version = "0.1.0"

var errColor = color.New(color.FgRed, color.Bold).SprintFunc()

func main() {
	if len(os.Args) < 2 {
		runREPL()
		return
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		fmt.Printf("smogvm version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	case "repl":
		runREPL()
	case "run":
		if len(os.Args) < 3 {
			fmt.Println("Error: no file specified")
			printUsage()
			os.Exit(1)
		}
		runFile(os.Args[2])
	case "compile":
		if len(os.Args) < 3 {
			fmt.Println("Error: no file specified")
			fmt.Println("\nUsage: smogvm compile <input.sm> [output.smbc]")
			os.Exit(1)
		}
		out := ""
		if len(os.Args) >= 4 {
			out = os.Args[3]
		}
		compileFile(os.Args[2], out)
	case "disassemble", "disasm":
		if len(os.Args) < 3 {
			fmt.Println("Error: no file specified")
			fmt.Println("\nUsage: smogvm disassemble <file.sm|file.smbc>")
			os.Exit(1)
		}
		disassembleFile(os.Args[2])
	default:
		runFile(os.Args[1])
	}
}

func printUsage() {
	fmt.Println("smogvm - tree-walked-frontend, bytecode-VM runtime")
	fmt.Println("\nUsage:")
	fmt.Println("  smogvm                          Start interactive REPL")
	fmt.Println("  smogvm [file]                   Run a .sm or .smbc file")
	fmt.Println("  smogvm run [file]                Run a .sm or .smbc file")
	fmt.Println("  smogvm compile <in> [out]        Compile .sm to .smbc bytecode")
	fmt.Println("  smogvm disassemble <file>        Disassemble source or bytecode")
	fmt.Println("  smogvm repl                      Start interactive REPL")
	fmt.Println("  smogvm version                   Show version")
	fmt.Println("  smogvm help                      Show this help")
	fmt.Println("\nFile extensions:")
	fmt.Println("  .sm      Source code files (text)")
	fmt.Println("  .smbc    Compiled bytecode files (binary)")
	fmt.Println("\nEnvironment:")
	fmt.Printf("  %s, %s, %s override worker count, call-stack depth, and\n",
		config.EnvWorkerCount, config.EnvStackLimit, config.EnvStealAttempts)
	fmt.Println("  steal-retry count; an optional TOML file (SMOGVM_CONFIG) supplies defaults.")
}

// loadConfig reads SMOGVM_CONFIG (if set) plus environment overrides.
func loadConfig() config.Config {
	cfg, err := config.Load(os.Getenv("SMOGVM_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("config error"), err)
		os.Exit(1)
	}
	return cfg
}

func newVM(cfg config.Config) *vm.VM {
	pool := scheduler.NewPool(scheduler.Config{
		WorkerCount:   cfg.WorkerCount,
		StealAttempts: cfg.StealAttempts,
	})
	pool.Start()
	return vm.New(vm.Config{Pool: pool, MaxCallDepth: cfg.StackLimit})
}

func runFile(filename string) {
	if filepath.Ext(filename) == ".smbc" {
		runBytecodeFile(filename)
		return
	}
	runSourceFile(filename)
}

func compileProgram(src string) (*bytecode.Chunk, error) {
	prog, err := parser.ParseProgram(src)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	chunk, err := compiler.CompileProgram(prog)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}
	return chunk, nil
}

func runSourceFile(filename string) {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("read error"), err)
		os.Exit(1)
	}
	chunk, err := compileProgram(string(data))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("error"), err)
		os.Exit(1)
	}
	v := newVM(loadConfig())
	defer v.Shutdown()
	if _, err := v.Run(chunk); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("runtime error"), err)
		os.Exit(1)
	}
}

func runBytecodeFile(filename string) {
	f, err := os.Open(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("read error"), err)
		os.Exit(1)
	}
	defer f.Close()
	chunk, err := bytecode.Deserialize(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("bytecode error"), err)
		os.Exit(1)
	}
	v := newVM(loadConfig())
	defer v.Shutdown()
	if _, err := v.Run(chunk); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("runtime error"), err)
		os.Exit(1)
	}
}

func compileFile(inputFile, outputFile string) {
	if outputFile == "" {
		if ext := filepath.Ext(inputFile); ext != "" {
			outputFile = strings.TrimSuffix(inputFile, ext) + ".smbc"
		} else {
			outputFile = inputFile + ".smbc"
		}
	}
	data, err := os.ReadFile(inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("read error"), err)
		os.Exit(1)
	}
	chunk, err := compileProgram(string(data))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("error"), err)
		os.Exit(1)
	}
	out, err := os.Create(outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("write error"), err)
		os.Exit(1)
	}
	defer out.Close()
	if err := bytecode.Serialize(out, chunk); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("write error"), err)
		os.Exit(1)
	}
	fmt.Printf("Compiled %s -> %s\n", inputFile, outputFile)
}

// colorableStdout wraps os.Stdout so ANSI escapes render on Windows
// consoles too; disassembly color is suppressed outright when stdout
// isn't a terminal (e.g. piped to a file), matching fatih/color's own
// NoColor auto-detection.
func colorableStdout() io.Writer {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
	return colorable.NewColorableStdout()
}

func disassembleFile(filename string) {
	var chunk *bytecode.Chunk
	if filepath.Ext(filename) == ".smbc" {
		f, err := os.Open(filename)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("read error"), err)
			os.Exit(1)
		}
		defer f.Close()
		chunk, err = bytecode.Deserialize(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("bytecode error"), err)
			os.Exit(1)
		}
	} else {
		data, err := os.ReadFile(filename)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("read error"), err)
			os.Exit(1)
		}
		chunk, err = compileProgram(string(data))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("error"), err)
			os.Exit(1)
		}
	}

	w := colorableStdout()
	fmt.Fprintf(w, "=== Bytecode Disassembly: %s ===\n\n", filename)
	bytecode.ConstantTable(w, chunk)
	fmt.Fprintln(w)
	bytecode.Disassemble(w, chunk)
	fmt.Fprintln(w, bytecode.Summary(chunk))
}

// runREPL starts an interactive session with line editing and history via
// github.com/peterh/liner. Each accepted line is compiled and run as its
// own top-level chunk on a persistent VM, so globals (and `fn` decls)
// defined on one line stay visible to later ones; local `let` bindings do
// not persist across lines, since each line compiles as its own
// zero-argument script chunk with its own local-slot scope.
func runREPL() {
	fmt.Printf("smogvm REPL v%s\n", version)
	fmt.Println("Type :help for help, :quit or :exit to leave")

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	v := newVM(loadConfig())
	defer v.Shutdown()

	histPath := replHistoryPath()
	if f, err := os.Open(histPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	for {
		input, err := line.Prompt("smogvm> ")
		if err != nil {
			if err != liner.ErrPromptAborted && err != io.EOF {
				fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("input error"), err)
			}
			break
		}
		trimmed := strings.TrimSpace(input)
		switch trimmed {
		case "":
			continue
		case ":quit", ":exit":
			goto done
		case ":help":
			printREPLHelp()
			continue
		}
		line.AppendHistory(input)
		evalREPLLine(v, trimmed)
	}
done:
	if f, err := os.Create(histPath); err == nil {
		line.WriteHistory(f)
		f.Close()
	}
}

func evalREPLLine(v *vm.VM, input string) {
	// A bare expression typed at the prompt (no trailing ';') is echoed as
	// a print statement so the REPL shows a result like most scripting
	// language shells do.
	src := input
	if !strings.HasSuffix(strings.TrimSpace(input), ";") &&
		!strings.HasSuffix(strings.TrimSpace(input), "}") {
		src = "print(" + input + ");"
	}
	chunk, err := compileProgram(src)
	if err != nil {
		chunk, err = compileProgram(input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("error"), err)
			return
		}
	}
	if _, err := v.Run(chunk); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", errColor("runtime error"), err)
	}
}

func replHistoryPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".smogvm_history")
	}
	return ".smogvm_history"
}

func printREPLHelp() {
	fmt.Println("smogvm REPL help")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  :help     Show this help message")
	fmt.Println("  :quit     Exit the REPL")
	fmt.Println("  :exit     Exit the REPL")
	fmt.Println()
	fmt.Println("Globals (let/fn at top level) persist across lines; locals do not.")
}
