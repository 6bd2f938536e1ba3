package compiler

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Semantic Analyzer: Pre-codegen semantic checks
// ---------------------------------------------------------------------------

// SemanticError is a well-formed program that cannot be rolled.
type SemanticError struct {
	Span    Span
	Message string
}

func (e *SemanticError) Error() string {
	return fmt.Sprintf("semantic error at %s: %s", e.Span, e.Message)
}

// AnalyzeOptions tunes the semantic checks.
type AnalyzeOptions struct {
	// AllowZero accepts 0dS and Nd0. A zero count rolls nothing; zero faces
	// fault at run time instead.
	AllowZero bool
}

// SemanticAnalyzer checks a parsed program before code generation.
type SemanticAnalyzer struct {
	opts   AnalyzeOptions
	errors []*SemanticError
}

// NewSemanticAnalyzer creates a new semantic analyzer.
func NewSemanticAnalyzer(opts AnalyzeOptions) *SemanticAnalyzer {
	return &SemanticAnalyzer{opts: opts}
}

// Errors returns the errors collected so far.
func (s *SemanticAnalyzer) Errors() []*SemanticError {
	return s.errors
}

func (s *SemanticAnalyzer) errorAt(node Node, format string, args ...interface{}) {
	var span Span
	if node != nil {
		span = node.Span()
	}
	s.errors = append(s.errors, &SemanticError{Span: span, Message: fmt.Sprintf(format, args...)})
}

// AnalyzeProgram checks prog and returns the joined errors, or nil.
func (s *SemanticAnalyzer) AnalyzeProgram(prog *Program) error {
	if prog.Empty() {
		s.errorAt(nil, "empty program")
		return s.err()
	}

	dice := prog.Dice()
	if !s.opts.AllowZero {
		if dice.Count == 0 {
			s.errorAt(dice, "dice count cannot be zero")
		}
		if dice.Faces == 0 {
			s.errorAt(dice, "dice faces cannot be zero")
		}
	}
	return s.err()
}

func (s *SemanticAnalyzer) err() error {
	if len(s.errors) == 0 {
		return nil
	}
	errs := make([]error, len(s.errors))
	for i, e := range s.errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Analyze runs the semantic checks over prog.
func Analyze(prog *Program, opts AnalyzeOptions) error {
	return NewSemanticAnalyzer(opts).AnalyzeProgram(prog)
}

// ParseAndAnalyze parses source and checks the result.
func ParseAndAnalyze(source string, opts AnalyzeOptions) (*Program, error) {
	prog, err := Parse(source)
	if err != nil {
		return nil, err
	}
	if err := Analyze(prog, opts); err != nil {
		return nil, err
	}
	return prog, nil
}
