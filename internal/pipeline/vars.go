package pipeline

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrUndefinedVariable indicates a reference that no scope defines, or a
// chain of references that loops.
var ErrUndefinedVariable = errors.New("undefined variable")

// Built-in variable names.
const (
	VarBoard    = "BOARD"
	VarBspRoot  = "BSP_ROOT"
	VarBoardDir = "BOARD_DIR"
)

// Vars resolves ${NAME} and $NAME references; $$ is a literal dollar. Scopes are consulted in
// order: values set by earlier steps, board vars, global vars, built-ins,
// then the process environment. Values from the first four scopes may
// themselves contain references.
type Vars struct {
	set      map[string]string
	board    map[string]string
	global   map[string]string
	builtins map[string]string
	lookup   func(string) (string, bool)
}

// NewVars creates the variable scopes for one board run. lookup reads the
// process environment (os.LookupEnv when nil).
func NewVars(board, global, builtins map[string]string, lookup func(string) (string, bool)) *Vars {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Vars{
		set:      map[string]string{},
		board:    board,
		global:   global,
		builtins: builtins,
		lookup:   lookup,
	}
}

// Set defines name for later steps. The value is stored literally.
func (v *Vars) Set(name, value string) {
	v.set[name] = value
}

// Expand replaces every reference in s.
func (v *Vars) Expand(s string) (string, error) {
	return v.expand(s, nil)
}

// ExpandAll expands every element of list.
func (v *Vars) ExpandAll(list []string) ([]string, error) {
	if list == nil {
		return nil, nil
	}
	out := make([]string, len(list))
	for i, s := range list {
		expanded, err := v.Expand(s)
		if err != nil {
			return nil, err
		}
		out[i] = expanded
	}
	return out, nil
}

// Get resolves a single name.
func (v *Vars) Get(name string) (string, error) {
	return v.resolve(name, nil)
}

func (v *Vars) expand(s string, chain []string) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}
	if err := checkBraces(s); err != nil {
		return "", err
	}

	var firstErr error
	out := os.Expand(s, func(name string) string {
		if firstErr != nil {
			return ""
		}
		value, err := v.resolve(name, chain)
		if err != nil {
			firstErr = err
			return ""
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// checkBraces rejects ${} and an unterminated ${, which os.Expand drops
// silently.
func checkBraces(s string) error {
	for i := 0; i < len(s)-1; i++ {
		if s[i] != '$' {
			continue
		}
		switch s[i+1] {
		case '$':
			i++
		case '{':
			end := strings.IndexByte(s[i+2:], '}')
			switch {
			case end < 0:
				return fmt.Errorf("%w: unterminated reference in %q", ErrUndefinedVariable, s)
			case end == 0:
				return fmt.Errorf("%w: empty reference in %q", ErrUndefinedVariable, s)
			}
			i += end + 2
		}
	}
	return nil
}

func (v *Vars) resolve(name string, chain []string) (string, error) {
	if name == "$" {
		return "$", nil
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty reference", ErrUndefinedVariable)
	}
	for _, seen := range chain {
		if seen == name {
			return "", fmt.Errorf("%w: %s refers to itself (%s -> %s)",
				ErrUndefinedVariable, name, strings.Join(chain, " -> "), name)
		}
	}

	if value, ok := v.set[name]; ok {
		return value, nil
	}
	for _, scope := range []map[string]string{v.board, v.global, v.builtins} {
		if value, ok := scope[name]; ok {
			return v.expand(value, append(chain, name))
		}
	}
	if value, ok := v.lookup(name); ok {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUndefinedVariable, name)
}
