// Package manifest handles dice.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/chazu/dice/pkg/bytecode"
	"github.com/chazu/dice/vm"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "dice.toml"

// Backends accepted by [run] backend.
const (
	BackendStack = "stack"
	BackendJVM   = "jvm"
)

// Manifest represents a dice.toml project configuration.
type Manifest struct {
	Project Project       `toml:"project"`
	Run     RunConfig     `toml:"run"`
	JVM     JVMConfig     `toml:"jvm"`
	Stack   StackConfig   `toml:"stack"`
	History HistoryConfig `toml:"history"`

	// Dir is the directory containing the dice.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name string `toml:"name"`
}

// RunConfig configures how expressions are rolled.
type RunConfig struct {
	Backend   string  `toml:"backend"`
	Seed      *uint64 `toml:"seed"` // nil rolls from a random seed
	AllowZero bool    `toml:"allow-zero"`
}

// JVMConfig configures class generation and the JVM interpreter.
type JVMConfig struct {
	ClassName     string `toml:"class-name"`
	MaxSteps      int64  `toml:"max-steps"`
	MaxFrameDepth int    `toml:"max-frame-depth"`
}

// StackConfig configures the native stack machine.
type StackConfig struct {
	MaxStack int `toml:"max-stack"`
}

// HistoryConfig configures the roll history database.
type HistoryConfig struct {
	Path    string `toml:"path"`
	Enabled bool   `toml:"enabled"`
}

// Default returns the configuration used when no dice.toml is found.
func Default() *Manifest {
	return &Manifest{
		Run: RunConfig{Backend: BackendStack},
		JVM: JVMConfig{
			ClassName:     vm.DefaultClassName,
			MaxSteps:      vm.DefaultMaxSteps,
			MaxFrameDepth: vm.DefaultMaxFrameDepth,
		},
		Stack: StackConfig{MaxStack: bytecode.DefaultMaxStack},
		History: HistoryConfig{
			Path:    filepath.Join(".dice", "history.db"),
			Enabled: true,
		},
	}
}

// Load parses a dice.toml file from the given directory. Keys the file
// omits keep their defaults.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a dice.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Resolve finds the nearest dice.toml from startDir (or falls back to
// Default) and applies environment overrides on top.
func Resolve(startDir string) (*Manifest, error) {
	m, err := FindAndLoad(startDir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = Default()
	}
	if err := m.ApplyEnv(); err != nil {
		return nil, err
	}
	return m, nil
}

// envOverrides are the DICE_* variables. Unset variables leave the
// corresponding field nil.
type envOverrides struct {
	Backend       *string `env:"DICE_BACKEND"`
	Seed          *uint64 `env:"DICE_SEED"`
	AllowZero     *bool   `env:"DICE_ALLOW_ZERO"`
	ClassName     *string `env:"DICE_CLASS_NAME"`
	MaxSteps      *int64  `env:"DICE_MAX_STEPS"`
	MaxFrameDepth *int    `env:"DICE_MAX_FRAME_DEPTH"`
	MaxStack      *int    `env:"DICE_MAX_STACK"`
	HistoryPath   *string `env:"DICE_HISTORY_PATH"`
	History       *bool   `env:"DICE_HISTORY"`
}

// ApplyEnv overrides fields from DICE_* environment variables.
func (m *Manifest) ApplyEnv() error {
	var raw envOverrides
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if raw.Backend != nil {
		m.Run.Backend = *raw.Backend
	}
	if raw.Seed != nil {
		m.Run.Seed = raw.Seed
	}
	if raw.AllowZero != nil {
		m.Run.AllowZero = *raw.AllowZero
	}
	if raw.ClassName != nil {
		m.JVM.ClassName = *raw.ClassName
	}
	if raw.MaxSteps != nil {
		m.JVM.MaxSteps = *raw.MaxSteps
	}
	if raw.MaxFrameDepth != nil {
		m.JVM.MaxFrameDepth = *raw.MaxFrameDepth
	}
	if raw.MaxStack != nil {
		m.Stack.MaxStack = *raw.MaxStack
	}
	if raw.HistoryPath != nil {
		m.History.Path = *raw.HistoryPath
	}
	if raw.History != nil {
		m.History.Enabled = *raw.History
	}
	return m.Validate()
}

// Validate checks values that cannot be defaulted.
func (m *Manifest) Validate() error {
	switch m.Run.Backend {
	case BackendStack, BackendJVM:
	default:
		return fmt.Errorf("unknown backend %q (want %q or %q)", m.Run.Backend, BackendStack, BackendJVM)
	}
	if m.JVM.ClassName == "" {
		return fmt.Errorf("jvm class-name cannot be empty")
	}
	if m.JVM.MaxSteps <= 0 || m.JVM.MaxFrameDepth <= 0 || m.Stack.MaxStack <= 0 {
		return fmt.Errorf("limits must be positive")
	}
	return nil
}

// HistoryPath returns the history database path, resolved against the
// manifest directory when relative.
func (m *Manifest) HistoryPath() string {
	if filepath.IsAbs(m.History.Path) || m.Dir == "" {
		return m.History.Path
	}
	return filepath.Join(m.Dir, m.History.Path)
}
