package runtime

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"tangram/internal/id"
	"tangram/internal/terror"
	"tangram/internal/value"
)

// Isolate is one goja VM bound to a single package, used for exactly one
// target invocation (spec §4.5.1: "an isolate is created per invocation and
// torn down afterward"). It owns the module cache, the tg global, and the
// syscall dispatch table.
type Isolate struct {
	vm     *goja.Runtime
	host   Host
	pkg    id.ID
	cache  *moduleCache
	loop   *eventLoop
	frames []Frame
}

// New creates an isolate for invoking targets defined in pkg.
func New(host Host, pkg id.ID) *Isolate {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	iso := &Isolate{vm: vm, host: host, pkg: pkg, cache: newModuleCache()}
	iso.loop = newEventLoop(vm)
	iso.installGlobals()
	return iso
}

// installGlobals registers `tg` (target/include) and `syscall` (spec
// §4.5.3/§4.5.4), the only two host surfaces script code ever touches
// directly — everything else is a plain JS library built on top of them.
func (iso *Isolate) installGlobals() {
	tg := iso.vm.NewObject()
	tg.Set("target", func(call goja.FunctionCall) goja.Value {
		// Identity: the transpiler has already rewritten `tg.target(name, fn)`
		// call sites into `tg.target({function, module, name})` descriptor
		// object literals (spec §4.5.1 "export descriptors"); at runtime
		// tg.target is just the identity function that the module's export
		// statement captures.
		if len(call.Arguments) == 0 {
			return goja.Undefined()
		}
		return call.Arguments[0]
	})
	tg.Set("include", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(iso.vm.ToValue("tg.include: missing argument"))
		}
		return iso.include(call.Arguments[0])
	})
	iso.vm.Set("tg", tg)

	iso.vm.Set("syscall", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(iso.vm.ToValue("syscall: missing name"))
		}
		name := call.Arguments[0].String()
		args := call.Arguments[1:]
		return iso.dispatch(name, args)
	})
}

// include resolves `tg.include({module, path})` synchronously against the
// current package's artifact tree and returns an artifact reference (spec
// §4.5.3). Resolution is decided to be synchronous and scoped to the
// invoking package: include never crosses a dependency boundary, mirroring
// how relative module specifiers resolve (see resolveSpecifier).
func (iso *Isolate) include(arg goja.Value) goja.Value {
	obj := arg.ToObject(iso.vm)
	rel := obj.Get("path").String()
	artID, err := iso.host.IncludePath(context.Background(), iso.pkg, rel)
	if err != nil {
		panic(iso.vm.ToValue(fmt.Sprintf("tg.include: %v", err)))
	}
	return refObject(iso.vm, refTagArt, artID)
}

// InvokeTarget loads modulePath from the isolate's package, looks up the
// exported target named name, and calls its underlying function with args
// and env, pumping the event loop until the result settles (spec §4.5.1).
func (iso *Isolate) InvokeTarget(ctx context.Context, modulePath, name string, args []value.Value, env map[string]value.Value) (result value.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = iso.recoverToScriptError(r)
		}
	}()

	mod := moduleURL{pkg: iso.pkg, path: modulePath}
	exportsVal, err := iso.evalModule(ctx, mod)
	if err != nil {
		return value.Value{}, err
	}

	exports := exportsVal.ToObject(iso.vm)
	descriptor := exports.Get(name)
	if descriptor == nil || goja.IsUndefined(descriptor) {
		return value.Value{}, terror.New(terror.NotFound, "module %s has no exported target %q", modulePath, name)
	}

	// A target export is either the bare function tg.target() was called
	// with (the raw, untranspiled form), or the {function, module, name}
	// descriptor object the transpiler's rewrite of tg.target() call sites
	// produces (spec §4.5.1) — accept both.
	fn, ok := goja.AssertFunction(descriptor)
	if !ok {
		descObj := descriptor.ToObject(iso.vm)
		fn, ok = goja.AssertFunction(descObj.Get("function"))
	}
	if !ok {
		return value.Value{}, terror.New(terror.Invalid, "target %q is not callable", name)
	}

	envObj := iso.vm.NewObject()
	for k, v := range env {
		envObj.Set(k, toGoja(iso.vm, v))
	}
	callArgs := make([]goja.Value, 0, len(args)+1)
	callArgs = append(callArgs, envObj)
	for _, a := range args {
		callArgs = append(callArgs, toGoja(iso.vm, a))
	}

	ret, err := fn(goja.Undefined(), callArgs...)
	if err != nil {
		return value.Value{}, iso.recoverToScriptError(err)
	}

	settled := ret
	if p, ok := ret.Export().(*goja.Promise); ok {
		settled, err = iso.loop.await(ctx, p)
		if err != nil {
			return value.Value{}, err
		}
	}

	return fromGoja(iso.vm, settled)
}

// evalModule loads, caches, and runs mod's wrapped module body, returning
// its __exports object.
func (iso *Isolate) evalModule(ctx context.Context, mod moduleURL) (goja.Value, error) {
	lm, err := iso.cache.load(ctx, iso.host, mod)
	if err != nil {
		return nil, err
	}

	prog, err := goja.Compile(mod.String(), lm.js, false)
	if err != nil {
		return nil, terror.Wrap(terror.Script, err, "compile %s", mod)
	}
	wrapperVal, err := iso.vm.RunProgram(prog)
	if err != nil {
		return nil, iso.recoverToScriptError(err)
	}
	wrapperFn, ok := goja.AssertFunction(wrapperVal)
	if !ok {
		return nil, terror.New(terror.Script, "module %s did not evaluate to a function", mod)
	}

	requireFn := iso.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0).String()
		dep, err := resolveSpecifier(ctx, iso.host, mod, spec)
		if err != nil {
			panic(iso.vm.ToValue(err.Error()))
		}
		exp, err := iso.evalModule(ctx, dep)
		if err != nil {
			panic(iso.vm.ToValue(err.Error()))
		}
		return exp
	})

	return wrapperFn(goja.Undefined(), iso.vm.NewObject(), requireFn)
}

func (iso *Isolate) recoverToScriptError(r interface{}) error {
	if jsErr, ok := r.(*goja.Exception); ok {
		return terror.New(terror.Script, "%s", jsErr.String())
	}
	if gv, ok := r.(goja.Value); ok {
		return terror.New(terror.Script, "%s", gv.String())
	}
	if err, ok := r.(error); ok {
		return terror.Wrap(terror.Script, err, "script panic")
	}
	return terror.New(terror.Script, "%v", r)
}
