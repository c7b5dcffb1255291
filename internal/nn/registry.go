package nn

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	ErrActivationExists   = errors.New("activation already registered")
	ErrActivationNotFound = errors.New("activation not found")
)

type ActivationFunc func(x float64) float64

// DerivativeFunc returns the activation derivative expressed in terms of the
// activation output y = f(x). All built-ins admit that form, which lets layers
// keep only their outputs for backpropagation.
type DerivativeFunc func(y float64) float64

// Activation is a named nonlinearity usable by Dense and Recurrent layers.
type Activation struct {
	Name       string
	Func       ActivationFunc
	Derivative DerivativeFunc
}

var activations = struct {
	mu sync.RWMutex
	m  map[string]Activation
}{m: make(map[string]Activation)}

func init() {
	registerBuiltins()
}

func registerBuiltins() {
	MustRegisterActivation("identity",
		func(x float64) float64 { return x },
		func(float64) float64 { return 1 },
	)
	MustRegisterActivation("relu",
		func(x float64) float64 { return math.Max(0, x) },
		func(y float64) float64 {
			if y > 0 {
				return 1
			}
			return 0
		},
	)
	MustRegisterActivation("tanh", math.Tanh, func(y float64) float64 { return 1 - y*y })
	MustRegisterActivation("sigmoid", Sigmoid, func(y float64) float64 { return y * (1 - y) })
}

func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// RegisterActivation adds a named activation. Names are unique.
func RegisterActivation(name string, fn ActivationFunc, derivative DerivativeFunc) error {
	switch {
	case name == "":
		return errors.New("activation name is required")
	case fn == nil:
		return errors.New("activation function is required")
	case derivative == nil:
		return errors.New("activation derivative is required")
	}

	activations.mu.Lock()
	defer activations.mu.Unlock()
	if _, exists := activations.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrActivationExists, name)
	}
	activations.m[name] = Activation{Name: name, Func: fn, Derivative: derivative}
	return nil
}

func MustRegisterActivation(name string, fn ActivationFunc, derivative DerivativeFunc) {
	if err := RegisterActivation(name, fn, derivative); err != nil {
		panic(err)
	}
}

func GetActivation(name string) (Activation, error) {
	activations.mu.RLock()
	act, ok := activations.m[name]
	activations.mu.RUnlock()
	if !ok {
		return Activation{}, fmt.Errorf("%w: %s", ErrActivationNotFound, name)
	}
	return act, nil
}

// ListActivations returns the registered names in sorted order.
func ListActivations() []string {
	activations.mu.RLock()
	names := make([]string, 0, len(activations.m))
	for name := range activations.m {
		names = append(names, name)
	}
	activations.mu.RUnlock()
	sort.Strings(names)
	return names
}

func resetActivationsForTests() {
	activations.mu.Lock()
	activations.m = make(map[string]Activation)
	activations.mu.Unlock()
	registerBuiltins()
}
