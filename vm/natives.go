package vm

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Natives: the slice of the Java platform generated code links against
// ---------------------------------------------------------------------------

// object is a heap-allocated Java object.
type object interface {
	className() string
}

type printStream struct {
	w io.Writer
}

func (*printStream) className() string { return "java/io/PrintStream" }

type javaString struct {
	s string
}

func (*javaString) className() string { return "java/lang/String" }

// Heap slots of the standard streams.
const (
	heapStdout = 0
	heapStderr = 1
)

// nativeMethod implements an external method. recv is the receiver for
// instance methods and the zero Value for static ones.
type nativeMethod func(it *Interpreter, recv Value, args []Value) (Value, error)

func memberKey(class, name, descriptor string) string {
	return class + "." + name + ":" + descriptor
}

var nativeStatics = map[string]int{
	memberKey("java/lang/System", "out", "Ljava/io/PrintStream;"): heapStdout,
	memberKey("java/lang/System", "err", "Ljava/io/PrintStream;"): heapStderr,
}

var nativeMethods = map[string]nativeMethod{
	memberKey("java/lang/Object", "<init>", "()V"): func(*Interpreter, Value, []Value) (Value, error) {
		return Value{}, nil
	},

	memberKey("java/lang/Math", "random", "()D"): func(it *Interpreter, _ Value, _ []Value) (Value, error) {
		return DoubleValue(it.rng.Float64()), nil
	},
	memberKey("java/lang/Math", "abs", "(I)I"): func(_ *Interpreter, _ Value, args []Value) (Value, error) {
		v := args[0].Int()
		if v < 0 {
			v = -v
		}
		return IntValue(v), nil
	},
	memberKey("java/lang/Math", "max", "(II)I"): func(_ *Interpreter, _ Value, args []Value) (Value, error) {
		return IntValue(max(args[0].Int(), args[1].Int())), nil
	},
	memberKey("java/lang/Math", "min", "(II)I"): func(_ *Interpreter, _ Value, args []Value) (Value, error) {
		return IntValue(min(args[0].Int(), args[1].Int())), nil
	},
}

func init() {
	for _, desc := range []string{"I", "J", "F", "D", "Z", "C", "Ljava/lang/String;", "Ljava/lang/Object;"} {
		nativeMethods[memberKey("java/io/PrintStream", "print", "("+desc+")V")] = printNative(false)
		nativeMethods[memberKey("java/io/PrintStream", "println", "("+desc+")V")] = printNative(true)
	}
	nativeMethods[memberKey("java/io/PrintStream", "println", "()V")] = printNative(true)
}

func printNative(newline bool) nativeMethod {
	return func(it *Interpreter, recv Value, args []Value) (Value, error) {
		ps, err := it.printStream(recv)
		if err != nil {
			return Value{}, err
		}
		var sb strings.Builder
		if len(args) == 1 {
			s, err := it.javaText(args[0])
			if err != nil {
				return Value{}, err
			}
			sb.WriteString(s)
		}
		if newline {
			sb.WriteByte('\n')
		}
		_, err = io.WriteString(ps.w, sb.String())
		return Value{}, err
	}
}

// javaText renders v the way String.valueOf would.
func (it *Interpreter) javaText(v Value) (string, error) {
	switch v.Kind() {
	case KindInt:
		return strconv.FormatInt(int64(v.Int()), 10), nil
	case KindLong:
		return strconv.FormatInt(v.Long(), 10), nil
	case KindFloat:
		return formatJavaFloat(float64(v.Float()), 32), nil
	case KindDouble:
		return formatJavaFloat(v.Double(), 64), nil
	case KindReference:
		if v.IsNull() {
			return "null", nil
		}
		obj, err := it.deref(v)
		if err != nil {
			return "", err
		}
		if s, ok := obj.(*javaString); ok {
			return s.s, nil
		}
		idx, _ := v.Ref()
		return fmt.Sprintf("%s@%x", strings.ReplaceAll(obj.className(), "/", "."), idx), nil
	}
	return "", fmt.Errorf("%w: cannot print %s", ErrTypeMismatch, v.Kind())
}

func (it *Interpreter) deref(v Value) (object, error) {
	idx, ok := v.Ref()
	if !ok {
		return nil, fmt.Errorf("%w: null reference", ErrTypeMismatch)
	}
	if idx >= len(it.heap) {
		return nil, fmt.Errorf("%w: dangling reference #%d", ErrTypeMismatch, idx)
	}
	return it.heap[idx], nil
}

func (it *Interpreter) printStream(v Value) (*printStream, error) {
	obj, err := it.deref(v)
	if err != nil {
		return nil, err
	}
	ps, ok := obj.(*printStream)
	if !ok {
		return nil, fmt.Errorf("%w: receiver is %s, not a PrintStream", ErrTypeMismatch, obj.className())
	}
	return ps, nil
}

func (it *Interpreter) alloc(obj object) Value {
	it.heap = append(it.heap, obj)
	return RefValue(len(it.heap) - 1)
}

// formatJavaFloat formats v like Double.toString (bitSize 64) or
// Float.toString (bitSize 32): plain decimal for magnitudes in [1e-3, 1e7),
// otherwise computerized scientific notation such as "1.0E10".
func formatJavaFloat(v float64, bitSize int) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		if math.Signbit(v) {
			return "-0.0"
		}
		return "0.0"
	}

	abs := math.Abs(v)
	if abs >= 1e-3 && abs < 1e7 {
		s := strconv.FormatFloat(v, 'f', -1, bitSize)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}

	mant, exp, _ := strings.Cut(strconv.FormatFloat(v, 'E', -1, bitSize), "E")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	e, _ := strconv.Atoi(exp)
	return mant + "E" + strconv.Itoa(e)
}
