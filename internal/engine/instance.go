package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/oriys/wasmkernel/internal/interfaceid"
	"github.com/oriys/wasmkernel/internal/signature"
)

// ResolveFunc maps one imported (interface, function name, signature) triple
// to a dense token index in the caller's host function table. It is called
// once per distinct import at Instantiate time, never per-call.
type ResolveFunc func(iface interfaceid.ID, funcName string, sig signature.EngineSignature) (tokenIndex int, err error)

// Instance is an instantiated module: its exports, and the host module
// stubs wired up to suspend a thread's invocation on every call across an
// unresolved import.
type Instance struct {
	mod api.Module

	// funcNames is the module's exported functions sorted by name. WASM
	// tables hold opaque funcref/externref entries that aren't safely
	// introspectable through wazero's public host-call surface, so this
	// scheduler addresses "start a thread at function-table index N" as
	// index N into this sorted name list rather than a true WASM table
	// index. See DESIGN.md.
	funcNames []string
}

// Instantiate compiles binary on rt, resolves every function import through
// resolve, and instantiates the result. Each distinct import module name
// becomes its own wazero host module whose exports are synthetic stubs: each
// one blocks the calling Invocation until something calls Invocation.Resume,
// delivering the resolved token index and raw argument words upstream. A
// module importing a global, table, or memory fails to instantiate — this
// adapter only ever builds host modules out of functions — and that failure
// should be treated by the caller as the scheduler's "unsupported import
// kind" condition.
func Instantiate(ctx context.Context, rt *Runtime, mod *Module, resolve ResolveFunc) (*Instance, error) {
	compiled, err := rt.r.CompileModule(ctx, mod.binary)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}

	byModule := make(map[string][]api.FunctionDefinition)
	var moduleOrder []string
	for _, fd := range compiled.ImportedFunctions() {
		moduleName, _, isImport := fd.Import()
		if !isImport {
			continue
		}
		if _, seen := byModule[moduleName]; !seen {
			moduleOrder = append(moduleOrder, moduleName)
		}
		byModule[moduleName] = append(byModule[moduleName], fd)
	}

	for _, moduleName := range moduleOrder {
		iface := interfaceid.ParseModuleName(moduleName)
		builder := rt.r.NewHostModuleBuilder(moduleName)

		for _, fd := range byModule[moduleName] {
			_, funcName, _ := fd.Import()
			sig := signature.EngineSignature{
				Params: valueTypesOf(fd.ParamTypes()),
			}
			if results := valueTypesOf(fd.ResultTypes()); len(results) == 1 {
				sig.Result = &results[0]
			}

			tokenIndex, rerr := resolve(iface, funcName, sig)
			if rerr != nil {
				return nil, fmt.Errorf("%w: %s::%s: %w", ErrImportNotResolved, iface.String(), funcName, rerr)
			}

			paramTypes := fd.ParamTypes()
			resultTypes := fd.ResultTypes()
			resultValueTypes := valueTypesOf(resultTypes)
			idx := tokenIndex

			hostFn := api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
				inv := invocationFromContext(ctx)
				args := make([]Value, len(paramTypes))
				for i, vt := range valueTypesOf(paramTypes) {
					args[i] = fromRaw(vt, stack[i])
				}
				results := inv.suspend(idx, args, resultValueTypes)
				for i, rv := range results {
					stack[i] = rv.Raw()
				}
			})

			builder = builder.NewFunctionBuilder().
				WithGoModuleFunction(hostFn, paramTypes, resultTypes).
				Export(funcName)
		}

		if _, err := builder.Instantiate(ctx); err != nil {
			return nil, fmt.Errorf("instantiate host module %q: %w", moduleName, err)
		}
	}

	instance, err := rt.r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		return nil, fmt.Errorf("instantiate module: %w", err)
	}

	if instance.ExportedFunction("main") == nil {
		if instance.ExportedMemory("main") != nil || instance.ExportedGlobal("main") != nil {
			return nil, ErrMainIsntAFunction
		}
	}
	if instance.Memory() == nil {
		if instance.ExportedFunction("memory") != nil || instance.ExportedGlobal("memory") != nil {
			return nil, ErrMemoryIsntMemory
		}
	}

	funcNames := make([]string, 0, len(compiled.ExportedFunctions()))
	for name := range compiled.ExportedFunctions() {
		funcNames = append(funcNames, name)
	}
	sort.Strings(funcNames)

	return &Instance{mod: instance, funcNames: funcNames}, nil
}

// ExportedFunction looks up a function export by name.
func (i *Instance) ExportedFunction(name string) (*Function, bool) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, false
	}
	return &Function{fn: fn}, true
}

// Memory returns the module's exported linear memory, named "memory" by
// convention, if it has one.
func (i *Instance) Memory() (*Memory, bool) {
	m := i.mod.Memory()
	if m == nil {
		return nil, false
	}
	return &Memory{m: m}, true
}

// FunctionAt resolves a thread's function-table index into a callable
// export. See the funcNames field doc for what "index" means here.
func (i *Instance) FunctionAt(index int) (*Function, bool) {
	if index < 0 || index >= len(i.funcNames) {
		return nil, false
	}
	return i.ExportedFunction(i.funcNames[index])
}

// NumFunctions returns the size of the function-table index space FunctionAt
// addresses into.
func (i *Instance) NumFunctions() int { return len(i.funcNames) }

// Close releases the instance and its module-scoped state.
func (i *Instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}

// Function is a callable export.
type Function struct {
	fn api.Function
}

// Signature reports the function's parameter and result types.
func (f *Function) Signature() signature.EngineSignature {
	def := f.fn.Definition()
	sig := signature.EngineSignature{Params: valueTypesOf(def.ParamTypes())}
	if results := valueTypesOf(def.ResultTypes()); len(results) == 1 {
		sig.Result = &results[0]
	}
	return sig
}

// Start begins a new invocation of this function on a dedicated goroutine
// and blocks until the first suspend, finish, or trap event. The returned
// Invocation must be driven to completion via Resume if the first event is
// EventSuspended.
func (f *Function) Start(ctx context.Context, args []Value) (*Invocation, Event) {
	return startInvocation(ctx, f.fn, args)
}

// Memory is a module's linear memory.
type Memory struct {
	m api.Memory
}

// Size returns the current memory size in bytes.
func (m *Memory) Size() uint32 { return m.m.Size() }

// Read returns a view of size bytes starting at offset, or false if the
// range is out of bounds.
func (m *Memory) Read(offset, size uint32) ([]byte, bool) { return m.m.Read(offset, size) }

// Write copies data into memory starting at offset, or returns false if the
// range is out of bounds.
func (m *Memory) Write(offset uint32, data []byte) bool { return m.m.Write(offset, data) }
