package plugin

import (
	"context"

	"github.com/tetratelabs/wazero"
)

// execContext holds the metering state of a single filter call.
type execContext struct {
	gasLimit     uint64 // gasLimit is the maximum gas allowed
	gasUsed      uint64 // gasUsed tracks consumed gas
	gasExhausted bool   // gasExhausted is true if gas limit was exceeded
}

type execKey struct{}

func withExec(ctx context.Context, exec *execContext) context.Context {
	return context.WithValue(ctx, execKey{}, exec)
}

// buildHostModule installs the "env" module shared by every filter.
// Host functions find the call's state through the call context.
func buildHostModule(ctx context.Context, runtime wazero.Runtime) error {
	_, err := runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, cost uint32) {
			hostGas(ctx, cost)
		}).
		Export("gas").
		Instantiate(ctx)

	return err
}

// hostGas handles gas metering.
// Panics if gas limit is exceeded to abort execution.
func hostGas(ctx context.Context, cost uint32) {
	exec, ok := ctx.Value(execKey{}).(*execContext)
	if !ok {
		return
	}

	exec.gasUsed += uint64(cost)

	if exec.gasUsed > exec.gasLimit {
		exec.gasExhausted = true
		panic("gas exhausted")
	}
}
