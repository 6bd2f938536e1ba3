package bytecode

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"

	"github.com/tliron/commonlog"
)

// Runtime faults raised by the VM.
var (
	ErrStackUnderflow = errors.New("stack underflow")
	ErrStackOverflow  = errors.New("stack overflow")
	ErrDivisionByZero = errors.New("division by zero")
	ErrUnknownOpcode  = errors.New("unknown opcode")
)

// DefaultMaxStack bounds the operand stack. A roll pushes one entry per
// die, so this is also the largest count a single roll may produce.
const DefaultMaxStack = 1 << 24

// Result is the outcome of executing a chunk: the final stack from bottom
// to top (the rolls in draw order) and their sum.
type Result struct {
	Rolls []uint32
	Total uint64
}

// VM executes native chunks.
type VM struct {
	rng      *rand.Rand
	out      io.Writer
	maxStack int
	log      commonlog.Logger

	// Current execution state
	chunk *Chunk
	ip    int
	stack []uint32

	// Trace logs every instruction at debug level.
	Trace bool
}

// Option configures a VM.
type Option func(*VM)

// WithRand sets the random source used by ROLL_DICE.
func WithRand(r *rand.Rand) Option {
	return func(vm *VM) { vm.rng = r }
}

// WithOutput sets where rolls and the total are printed.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithMaxStack bounds the operand stack.
func WithMaxStack(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.maxStack = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log commonlog.Logger) Option {
	return func(vm *VM) { vm.log = log }
}

// NewVM creates a new VM instance.
func NewVM(opts ...Option) *VM {
	vm := &VM{
		out:      os.Stdout,
		maxStack: DefaultMaxStack,
		log:      commonlog.GetLogger("dice.stack"),
	}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.rng == nil {
		vm.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return vm
}

// Execute runs chunk to completion, then prints every value left on the
// stack (bottom to top) followed by "Total: <sum>".
func (vm *VM) Execute(chunk *Chunk) (*Result, error) {
	vm.chunk = chunk
	vm.ip = 0
	vm.stack = vm.stack[:0]

	if err := vm.run(); err != nil {
		vm.log.Debugf("fault at %04X: %s", vm.ip, err)
		return nil, err
	}

	res := &Result{Rolls: append([]uint32(nil), vm.stack...)}
	for _, v := range res.Rolls {
		res.Total += uint64(v)
	}
	if err := vm.report(res); err != nil {
		return nil, err
	}
	return res, nil
}

// run is the main execution loop.
func (vm *VM) run() error {
	for vm.ip < len(vm.chunk.Code) {
		in, n, err := vm.chunk.DecodeAt(vm.ip)
		if err != nil {
			return err
		}

		if vm.Trace {
			vm.log.Debugf("[%04X] %-16s sp=%d", vm.ip, in.Op, len(vm.stack))
		}

		switch in.Op {
		case OpPushInteger:
			if err := vm.push(in.Value); err != nil {
				return err
			}

		case OpRollDice:
			if err := vm.rollDice(); err != nil {
				return err
			}

		default:
			return fmt.Errorf("%w: 0x%02X at %04X", ErrUnknownOpcode, byte(in.Op), vm.ip)
		}

		vm.ip += n
	}
	return nil
}

// rollDice pops faces then count and pushes count rolls in [1, faces].
func (vm *VM) rollDice() error {
	faces, err := vm.pop()
	if err != nil {
		return err
	}
	count, err := vm.pop()
	if err != nil {
		return err
	}
	if faces == 0 {
		return fmt.Errorf("%w: %dd0 at %04X", ErrDivisionByZero, count, vm.ip)
	}
	if len(vm.stack)+int(count) > vm.maxStack {
		return fmt.Errorf("%w: rolling %d dice exceeds %d slots", ErrStackOverflow, count, vm.maxStack)
	}

	vm.log.Debugf("rolling %dd%d", count, faces)
	for i := uint32(0); i < count; i++ {
		vm.stack = append(vm.stack, vm.rng.Uint32N(faces)+1)
	}
	return nil
}

func (vm *VM) report(res *Result) error {
	for _, v := range res.Rolls {
		if _, err := fmt.Fprintln(vm.out, v); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(vm.out, "Total: %s\n", strconv.FormatUint(res.Total, 10))
	return err
}

// ---------------------------------------------------------------------------
// Stack helpers
// ---------------------------------------------------------------------------

func (vm *VM) push(v uint32) error {
	if len(vm.stack) >= vm.maxStack {
		return fmt.Errorf("%w: limit %d at %04X", ErrStackOverflow, vm.maxStack, vm.ip)
	}
	vm.stack = append(vm.stack, v)
	return nil
}

func (vm *VM) pop() (uint32, error) {
	if len(vm.stack) == 0 {
		return 0, fmt.Errorf("%w at %04X", ErrStackUnderflow, vm.ip)
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

// StackDepth returns the current stack depth.
func (vm *VM) StackDepth() int {
	return len(vm.stack)
}
