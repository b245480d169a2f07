package nn

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/born-ml/bdl/internal/tensor"
)

// Walk visits root and every nested module in depth-first pre-order.
//
// Each module is identified by its path: the dot-joined child indices from
// the root ("" for the root itself, "1.0" for the first child of the second
// child). Walk stops at the first error returned by visit.
func Walk[B tensor.Backend](root Module[B], visit func(path string, m Module[B]) error) error {
	return walk(root, "", visit)
}

func walk[B tensor.Backend](m Module[B], path string, visit func(string, Module[B]) error) error {
	if err := visit(path, m); err != nil {
		return err
	}
	c, ok := m.(Container[B])
	if !ok {
		return nil
	}
	for i, child := range c.Children() {
		if err := walk(child, JoinPath(path, strconv.Itoa(i)), visit); err != nil {
			return err
		}
	}
	return nil
}

// JoinPath joins a module path and a local name with a dot.
func JoinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// SetTrain switches every Trainable module under root to training or
// evaluation behavior.
func SetTrain[B tensor.Backend](root Module[B], training bool) {
	_ = Walk(root, func(_ string, m Module[B]) error {
		if t, ok := m.(Trainable); ok {
			t.SetTraining(training)
		}
		return nil
	})
}

// NamedParameter pairs a parameter with its fully qualified name.
type NamedParameter[B tensor.Backend] struct {
	Name  string
	Param *Parameter[B]
}

// NamedParameters lists the parameters of every leaf module under root,
// qualified by module path, in traversal order.
func NamedParameters[B tensor.Backend](root Module[B]) []NamedParameter[B] {
	var out []NamedParameter[B]
	_ = Walk(root, func(path string, m Module[B]) error {
		if _, ok := m.(Container[B]); ok {
			return nil
		}
		for _, p := range m.Parameters() {
			out = append(out, NamedParameter[B]{Name: JoinPath(path, p.Name()), Param: p})
		}
		return nil
	})
	return out
}

// StateDict collects the persistent state of every leaf module under root.
// Stateful modules contribute their own entries; other modules contribute
// their parameters.
func StateDict[B tensor.Backend](root Module[B]) map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	_ = Walk(root, func(path string, m Module[B]) error {
		if _, ok := m.(Container[B]); ok {
			return nil
		}
		for name, raw := range localState(m) {
			state[JoinPath(path, name)] = raw
		}
		return nil
	})
	return state
}

func localState[B tensor.Backend](m Module[B]) map[string]*tensor.RawTensor {
	if s, ok := m.(Stateful); ok {
		return s.StateDict()
	}
	local := make(map[string]*tensor.RawTensor)
	for _, p := range m.Parameters() {
		local[p.Name()] = p.Raw()
	}
	return local
}

// LoadStateDict restores state produced by StateDict into a module tree of
// the same topology. Every expected key must be present.
func LoadStateDict[B tensor.Backend](root Module[B], state map[string]*tensor.RawTensor) error {
	return Walk(root, func(path string, m Module[B]) error {
		if _, ok := m.(Container[B]); ok {
			return nil
		}
		prefix := JoinPath(path, "")
		local := make(map[string]*tensor.RawTensor)
		for key, raw := range state {
			if name, ok := strings.CutPrefix(key, prefix); ok && !strings.Contains(name, ".") {
				local[name] = raw
			}
		}

		if s, ok := m.(Stateful); ok {
			if err := s.LoadStateDict(local); err != nil {
				return fmt.Errorf("module %q: %w", path, err)
			}
			return nil
		}
		for _, p := range m.Parameters() {
			raw, ok := local[p.Name()]
			if !ok {
				return fmt.Errorf("module %q: missing %s in state dict", path, p.Name())
			}
			if err := p.CopyFrom(raw); err != nil {
				return fmt.Errorf("module %q: %w", path, err)
			}
		}
		return nil
	})
}

// LoadParams copies entries of state into params by parameter name.
func LoadParams[B tensor.Backend](state map[string]*tensor.RawTensor, params ...*Parameter[B]) error {
	for _, p := range params {
		if p == nil {
			continue
		}
		raw, ok := state[p.Name()]
		if !ok {
			return fmt.Errorf("missing %s in state dict", p.Name())
		}
		if err := p.CopyFrom(raw); err != nil {
			return err
		}
	}
	return nil
}
