package vm

import "github.com/chazu/dice/compiler"

// CompileClass generates code for prog and assembles it into a class named
// className (DefaultClassName when empty).
func CompileClass(prog *compiler.Program, className string) (*ClassFile, error) {
	gen, err := NewGenerator(className).Generate(prog)
	if err != nil {
		return nil, err
	}
	return BuildClass(gen)
}

// RunClass interprets cf's main method.
func RunClass(cf *ClassFile, opts ...Option) (*Interpreter, error) {
	it, err := NewInterpreter(cf, opts...)
	if err != nil {
		return nil, err
	}
	if err := it.RunMain(); err != nil {
		return it, err
	}
	return it, nil
}
