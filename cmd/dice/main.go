// Dice CLI - compile and roll NdS dice expressions
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/dice/compiler"
	"github.com/chazu/dice/history"
	"github.com/chazu/dice/manifest"
	"github.com/chazu/dice/pkg/bytecode"
	"github.com/chazu/dice/vm"
)

// DefaultExpression is rolled when run is given no expression.
const DefaultExpression = "2d100"

// errUsage marks command-line mistakes; they exit with status 2.
var errUsage = errors.New("usage")

var log = commonlog.GetLogger("dice.cli")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cli carries the resolved configuration and output streams shared by
// every subcommand.
type cli struct {
	cfg    *manifest.Manifest
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("dice", flag.ContinueOnError)
	global.SetOutput(stderr)
	verbose := global.Bool("v", false, "Verbose output")
	configDir := global.String("config", "", "Directory to search for dice.toml (default: current directory)")
	global.Usage = func() { usage(global) }

	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return 2
	}

	dir := *configDir
	if dir == "" {
		dir = "."
	}
	cfg, err := manifest.Resolve(dir)
	if err != nil {
		fmt.Fprintf(stderr, "dice: %v\n", err)
		return 1
	}
	if cfg.Dir != "" {
		log.Infof("using %s", filepath.Join(cfg.Dir, manifest.FileName))
	}

	c := &cli{cfg: cfg, stdout: stdout, stderr: stderr}
	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "run":
		err = c.runCmd(cmdArgs)
	case "compile":
		err = c.compileCmd(cmdArgs)
	case "execute":
		err = c.executeCmd(cmdArgs)
	case "disasm":
		err = c.disasmCmd(cmdArgs)
	case "history":
		err = c.historyCmd(cmdArgs)
	case "help":
		global.SetOutput(stdout)
		usage(global)
		return 0
	default:
		fmt.Fprintf(stderr, "dice: unknown command %q\n", cmd)
		global.Usage()
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "dice: %v\n", err)
		return 2
	default:
		fmt.Fprintf(stderr, "dice: %v\n", err)
		return 1
	}
}

func usage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintf(w, "Usage: dice [options] <command> [arguments]\n\n")
	fmt.Fprintf(w, "Compiles and rolls NdS dice expressions on a stack machine or a JVM-style interpreter.\n\n")
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  run [-backend stack|jvm] [-seed N] [-allow-zero] [EXPR]   Roll EXPR (default %s)\n", DefaultExpression)
	fmt.Fprintf(w, "  compile [-o NAME] [-target class|chunk] EXPR              Write NAME.class or NAME.dice\n")
	fmt.Fprintf(w, "  execute [-seed N] FILE                                    Run a .class file or a native chunk\n")
	fmt.Fprintf(w, "  disasm FILE|EXPR                                          Print a listing\n")
	fmt.Fprintf(w, "  history [-n N]                                            Show recent runs\n")
	fmt.Fprintf(w, "\nOptions:\n")
	fs.PrintDefaults()
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  dice run 3d6                  # Roll on the default backend\n")
	fmt.Fprintf(w, "  dice run -backend jvm 2d20    # Roll through a generated class\n")
	fmt.Fprintf(w, "  dice compile -o Roll 4d8      # Write Roll.class\n")
	fmt.Fprintf(w, "  dice execute Roll.class       # Run it on the interpreter\n")
}

func (c *cli) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("dice "+name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// parseFlags parses args, turning flag errors into usage errors.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

// seedFlag registers -seed, whose value overrides the configured seed only
// when given.
type seedFlag struct {
	value *uint64
}

func (s *seedFlag) String() string {
	if s.value == nil {
		return ""
	}
	return strconv.FormatUint(*s.value, 10)
}

func (s *seedFlag) Set(v string) error {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid seed %q", v)
	}
	s.value = &n
	return nil
}

func (c *cli) newRand(seed *uint64) *rand.Rand {
	if seed == nil {
		seed = c.cfg.Run.Seed
	}
	if seed == nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	log.Debugf("seed %d", *seed)
	return rand.New(rand.NewPCG(*seed, 0))
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func (c *cli) runCmd(args []string) error {
	fs := c.newFlagSet("run")
	backend := fs.String("backend", c.cfg.Run.Backend, "Backend: stack or jvm")
	allowZero := fs.Bool("allow-zero", c.cfg.Run.AllowZero, "Accept 0dS and Nd0")
	seed := &seedFlag{}
	fs.Var(seed, "seed", "Random seed for a reproducible roll")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("%w: run takes at most one expression", errUsage)
	}
	expr := DefaultExpression
	if fs.NArg() == 1 {
		expr = fs.Arg(0)
	}

	prog, err := compiler.ParseAndAnalyze(expr, compiler.AnalyzeOptions{AllowZero: *allowZero})
	if err != nil {
		return err
	}

	rng := c.newRand(seed.value)
	switch *backend {
	case manifest.BackendStack:
		chunk, err := bytecode.Compile(prog)
		if err != nil {
			return err
		}
		res, err := c.executeChunk(chunk, rng)
		if err != nil {
			return err
		}
		c.record(expr, manifest.BackendStack, rollsOf(res), int64(res.Total))
		return nil
	case manifest.BackendJVM:
		cf, err := vm.CompileClass(prog, c.cfg.JVM.ClassName)
		if err != nil {
			return err
		}
		return c.executeClass(expr, cf, rng)
	default:
		return fmt.Errorf("%w: unknown backend %q", errUsage, *backend)
	}
}

func rollsOf(res *bytecode.Result) []int64 {
	rolls := make([]int64, len(res.Rolls))
	for i, r := range res.Rolls {
		rolls[i] = int64(r)
	}
	return rolls
}

func (c *cli) executeChunk(chunk *bytecode.Chunk, rng *rand.Rand) (*bytecode.Result, error) {
	machine := bytecode.NewVM(
		bytecode.WithRand(rng),
		bytecode.WithOutput(c.stdout),
		bytecode.WithMaxStack(c.cfg.Stack.MaxStack),
	)
	return machine.Execute(chunk)
}

// executeClass runs cf's main and records the printed rolls.
func (c *cli) executeClass(label string, cf *vm.ClassFile, rng *rand.Rand) error {
	var captured bytes.Buffer
	it, err := vm.RunClass(cf,
		vm.WithRand(rng),
		vm.WithStdout(io.MultiWriter(c.stdout, &captured)),
		vm.WithStderr(c.stderr),
		vm.WithMaxSteps(c.cfg.JVM.MaxSteps),
		vm.WithMaxFrameDepth(c.cfg.JVM.MaxFrameDepth),
	)
	if err != nil {
		return err
	}
	log.Debugf("%d instructions executed", it.Steps())

	if rolls, total, ok := parseRollOutput(captured.String()); ok {
		c.record(label, manifest.BackendJVM, rolls, total)
	}
	return nil
}

// parseRollOutput reads the roll lines and "Total: N" trailer printed by a
// generated class. ok is false when the output has another shape.
func parseRollOutput(out string) (rolls []int64, total int64, ok bool) {
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) == 0 {
		return nil, 0, false
	}
	last := lines[len(lines)-1]
	t, found := strings.CutPrefix(last, "Total: ")
	if !found {
		return nil, 0, false
	}
	total, err := strconv.ParseInt(t, 10, 64)
	if err != nil {
		return nil, 0, false
	}
	rolls = []int64{}
	for _, line := range lines[:len(lines)-1] {
		v, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, 0, false
		}
		rolls = append(rolls, v)
	}
	return rolls, total, true
}

// record appends a run to the history database. History problems are
// logged, never fatal.
func (c *cli) record(expr, backend string, rolls []int64, total int64) {
	if !c.cfg.History.Enabled {
		return
	}
	store, err := history.Open(c.cfg.HistoryPath())
	if err != nil {
		log.Warningf("history disabled: %s", err)
		return
	}
	defer store.Close()

	run := history.Run{Expression: expr, Backend: backend, Rolls: rolls, Total: total}
	if _, err := store.Record(context.Background(), run); err != nil {
		log.Warningf("history: %s", err)
	}
}

// ---------------------------------------------------------------------------
// compile
// ---------------------------------------------------------------------------

const (
	targetClass = "class"
	targetChunk = "chunk"
)

func (c *cli) compileCmd(args []string) error {
	fs := c.newFlagSet("compile")
	output := fs.String("o", "", "Output name without extension (default: the class name)")
	target := fs.String("target", targetClass, "Output format: class or chunk")
	allowZero := fs.Bool("allow-zero", c.cfg.Run.AllowZero, "Accept 0dS and Nd0")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: compile takes exactly one expression", errUsage)
	}
	expr := fs.Arg(0)

	prog, err := compiler.ParseAndAnalyze(expr, compiler.AnalyzeOptions{AllowZero: *allowZero})
	if err != nil {
		return err
	}

	className := c.cfg.JVM.ClassName
	name := *output
	if name == "" {
		name = className
	} else if *target == targetClass {
		className = filepath.Base(name)
	}

	var path string
	switch *target {
	case targetClass:
		cf, err := vm.CompileClass(prog, className)
		if err != nil {
			return err
		}
		path = name + ".class"
		if err := vm.WriteClassFile(path, cf); err != nil {
			return err
		}
	case targetChunk:
		chunk, err := bytecode.Compile(prog)
		if err != nil {
			return err
		}
		data, err := chunk.Serialize()
		if err != nil {
			return err
		}
		path = name + ".dice"
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("%w: unknown target %q", errUsage, *target)
	}

	fmt.Fprintf(c.stdout, "Wrote %s\n", path)
	return nil
}

// ---------------------------------------------------------------------------
// execute
// ---------------------------------------------------------------------------

func (c *cli) executeCmd(args []string) error {
	fs := c.newFlagSet("execute")
	seed := &seedFlag{}
	fs.Var(seed, "seed", "Random seed for a reproducible roll")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: execute takes exactly one file", errUsage)
	}
	path := fs.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	rng := c.newRand(seed.value)

	if bytecode.IsChunk(data) {
		chunk, err := bytecode.Deserialize(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		res, err := c.executeChunk(chunk, rng)
		if err != nil {
			return err
		}
		c.record(path, manifest.BackendStack, rollsOf(res), int64(res.Total))
		return nil
	}

	cf, err := vm.ParseClass(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return c.executeClass(path, cf, rng)
}

// ---------------------------------------------------------------------------
// disasm
// ---------------------------------------------------------------------------

func (c *cli) disasmCmd(args []string) error {
	fs := c.newFlagSet("disasm")
	target := fs.String("target", targetClass, "Listing for an expression: class or chunk")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: disasm takes one file or expression", errUsage)
	}
	arg := fs.Arg(0)

	if data, err := os.ReadFile(arg); err == nil {
		if bytecode.IsChunk(data) {
			chunk, err := bytecode.Deserialize(data)
			if err != nil {
				return fmt.Errorf("%s: %w", arg, err)
			}
			fmt.Fprint(c.stdout, chunk.DisassembleWithName(filepath.Base(arg)))
			return nil
		}
		cf, err := vm.ParseClass(data)
		if err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}
		fmt.Fprint(c.stdout, cf.Disassemble())
		return nil
	}

	prog, err := compiler.ParseAndAnalyze(arg, compiler.AnalyzeOptions{AllowZero: true})
	if err != nil {
		return err
	}
	switch *target {
	case targetClass:
		cf, err := vm.CompileClass(prog, c.cfg.JVM.ClassName)
		if err != nil {
			return err
		}
		fmt.Fprint(c.stdout, cf.Disassemble())
	case targetChunk:
		chunk, err := bytecode.Compile(prog)
		if err != nil {
			return err
		}
		fmt.Fprint(c.stdout, chunk.DisassembleWithName(arg))
	default:
		return fmt.Errorf("%w: unknown target %q", errUsage, *target)
	}
	return nil
}

// ---------------------------------------------------------------------------
// history
// ---------------------------------------------------------------------------

func (c *cli) historyCmd(args []string) error {
	fs := c.newFlagSet("history")
	n := fs.Int("n", 10, "Number of runs to show")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return fmt.Errorf("%w: history takes no arguments", errUsage)
	}

	store, err := history.Open(c.cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Recent(context.Background(), *n)
	if err != nil {
		return err
	}
	for _, r := range runs {
		rolls := make([]string, len(r.Rolls))
		for i, v := range r.Rolls {
			rolls[i] = strconv.FormatInt(v, 10)
		}
		fmt.Fprintf(c.stdout, "%s  %-6s %-12s [%s] = %d\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.Backend, r.Expression, strings.Join(rolls, " "), r.Total)
	}
	return nil
}
