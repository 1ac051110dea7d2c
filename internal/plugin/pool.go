// Package plugin runs WebAssembly frame filters.
//
// A filter module exports
//
//	filter(messageType i32, callType i32) i32
//
// and returns non-zero to keep a frame. Modules may import env.gas(cost i32) to
// meter their own work; a call that exceeds its budget fails.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/zeebo/blake3"

	"SimFed/internal/wire"
)

var (
	// ErrModuleNotFound is returned when a module ID is not found in the pool.
	ErrModuleNotFound = errors.New("module not found")

	// ErrGasExhausted is returned when a filter call runs out of gas.
	ErrGasExhausted = errors.New("gas exhausted")

	// ErrFilterNotExported is returned for modules without a filter function.
	ErrFilterNotExported = errors.New("filter function not exported")
)

// DefaultGasLimit is the per-call budget used when none is given.
const DefaultGasLimit = 1_000_000

// Pool manages compiled filter modules.
// Modules are compiled once and instantiated per filter.
type Pool struct {
	runtime wazero.Runtime                     // runtime is the wazero runtime instance
	modules map[[32]byte]wazero.CompiledModule // modules maps blake3 hash to compiled module
	mu      sync.RWMutex                       // mu protects modules and instances
	seq     int                                // seq numbers instance names
}

// New creates a pool with the host module installed.
func New(ctx context.Context) (*Pool, error) {
	runtime := wazero.NewRuntime(ctx)

	if err := buildHostModule(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("build host module:\n%w", err)
	}

	return &Pool{
		runtime: runtime,
		modules: make(map[[32]byte]wazero.CompiledModule),
	}, nil
}

// Load compiles and stores a module, keyed by the blake3 hash of its bytes.
func (p *Pool) Load(ctx context.Context, wasmBytes []byte) ([32]byte, error) {
	id := blake3.Sum256(wasmBytes)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.modules[id]; exists {
		return id, nil
	}

	compiled, err := p.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return [32]byte{}, fmt.Errorf("compile module:\n%w", err)
	}

	p.modules[id] = compiled

	return id, nil
}

// LoadFile reads and compiles a module from disk.
func (p *Pool) LoadFile(ctx context.Context, path string) ([32]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("read plugin %s:\n%w", path, err)
	}

	return p.Load(ctx, data)
}

// Instantiate creates a filter instance of a loaded module.
func (p *Pool) Instantiate(ctx context.Context, id [32]byte, gasLimit uint64) (*Instance, error) {
	p.mu.Lock()
	compiled, exists := p.modules[id]
	p.seq++
	name := fmt.Sprintf("filter-%x-%d", id[:4], p.seq)
	p.mu.Unlock()

	if !exists {
		return nil, ErrModuleNotFound
	}

	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}

	module, err := p.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, fmt.Errorf("instantiate module:\n%w", err)
	}

	fn := module.ExportedFunction("filter")
	if fn == nil {
		_ = module.Close(ctx)
		return nil, ErrFilterNotExported
	}

	return &Instance{module: module, fn: fn, gasLimit: gasLimit}, nil
}

// Unload removes a module from the pool.
func (p *Pool) Unload(ctx context.Context, id [32]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if compiled, exists := p.modules[id]; exists {
		_ = compiled.Close(ctx)
		delete(p.modules, id)
	}
}

// Close releases every module and instance.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, compiled := range p.modules {
		_ = compiled.Close(ctx)
		delete(p.modules, id)
	}

	return p.runtime.Close(ctx)
}

// Instance is one instantiated filter module.
// Calls are serialized; a wasm instance is not safe for concurrent use.
type Instance struct {
	mu       sync.Mutex
	module   api.Module
	fn       api.Function
	gasLimit uint64
}

// Allow reports whether the module keeps a frame with the given header.
func (i *Instance) Allow(ctx context.Context, h wire.Header) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	exec := &execContext{gasLimit: i.gasLimit}

	results, err := i.fn.Call(withExec(ctx, exec), uint64(h.Type), uint64(h.Call))
	if err != nil {
		if exec.gasExhausted {
			return false, ErrGasExhausted
		}

		return false, fmt.Errorf("call filter:\n%w", err)
	}

	if len(results) != 1 {
		return false, fmt.Errorf("filter returned %d results", len(results))
	}

	return api.DecodeI32(results[0]) != 0, nil
}

// Close closes the instance.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.module.Close(ctx)
}
