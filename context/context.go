// Package context implements the process-wide Context facade from spec §2
// (component D, "Version check, acquire/release, vtable that routes calls
// into B and C") and §6 "Context handle". It exclusively owns one tracing
// state and one module registry, and is itself reference-counted the same
// way a Module Info is.
//
// The original C API exposes this as an opaque (data, vtable) pair so a
// foreign binary can call check_version before touching anything else. Go
// has no equivalent of handing out a raw vtable pointer across a module
// boundary, so this port keeps the version check as an ordinary method —
// CheckVersion — that callers obtained from a plugin (see internal/export)
// are still expected to call first.
package context

import (
	"sync"

	cfgpkg "github.com/fimoengine/fimo-sub001/config"
	errs "github.com/fimoengine/fimo-sub001/errors"
	"github.com/fimoengine/fimo-sub001/module"
	"github.com/fimoengine/fimo-sub001/refcount"
	"github.com/fimoengine/fimo-sub001/tracing"
	"github.com/fimoengine/fimo-sub001/version"
)

// CompiledVersion is this build's compiled-in runtime version, compared
// against by CheckVersion (spec §6 "Context handle").
var CompiledVersion = version.New(0, 1, 0)

// Context is the process-wide runtime handle. Create one with Init;
// Acquire/Release manage its reference-counted lifetime, and Release
// tears down the module registry before the tracing state once the last
// reference drops (spec §3 "Context": "destroyed when the last strong
// reference is released, at which point the module state is torn down
// before the tracing state").
type Context struct {
	rc *refcount.AtomicCount

	version version.Version
	tracing *tracing.State
	modules *module.Registry

	once sync.Once
}

// Init allocates a Context: it resolves cfg's tracing config, builds the
// tracing state with subs attached, then builds the module registry (spec
// §2 data flow: "Context allocates (A), initializes (B), initializes
// (C)").
func Init(cfg *cfgpkg.Config, subs []tracing.Subscriber) (*Context, error) {
	if cfg == nil {
		cfg = cfgpkg.Default()
	}
	if err := cfg.Tracing.Resolve(); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, err, "resolve tracing config")
	}
	tr := tracing.NewState(cfg.Tracing, subs)

	poolSize := cfg.Module.ScanPoolSize
	registry, err := module.NewRegistry(poolSize, tr)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "init module registry")
	}

	return &Context{
		rc:      refcount.NewAtomic(),
		version: CompiledVersion,
		tracing: tr,
		modules: registry,
	}, nil
}

// CheckVersion reports whether required is compatible with this Context's
// compiled version, per the compatibility rule in spec §3 (applied to
// "every caller that obtains a context from a foreign binary").
func (c *Context) CheckVersion(required version.Version) error {
	if !version.Compatible(c.version, required) {
		return errs.New(errs.VersionMismatch, "context version %s is incompatible with required %s", c.version, required)
	}
	return nil
}

// Acquire clones the handle, incrementing the shared strong refcount
// (spec §3 "Context": "cloned by acquire").
func (c *Context) Acquire() *Context {
	c.rc.IncStrong()
	return c
}

// Release decrements the strong refcount. On the last release, the module
// registry is closed (see module.Registry.Close) before the tracing state
// is flushed (spec §3 "Context").
func (c *Context) Release() {
	if c.rc.DecStrong() {
		c.once.Do(func() {
			c.modules.Close()
			c.tracing.Flush()
		})
	}
}

// Tracing exposes the owned tracing state (vtable component B).
func (c *Context) Tracing() *tracing.State { return c.tracing }

// Modules exposes the owned module registry (vtable component C).
func (c *Context) Modules() *module.Registry { return c.modules }

// NewLoadingSet opens a loading set bound to this Context's registry and
// tracing state (spec §4.3 "set_new").
func (c *Context) NewLoadingSet() *module.LoadingSet {
	return module.NewLoadingSet(c.modules, c.tracing)
}

// NewPseudoModule creates a host-owned pseudo-module bound to this
// Context's registry (spec §3 "Pseudo-module").
func (c *Context) NewPseudoModule(name string) (*module.Info, *module.Module, error) {
	return module.NewPseudoModule(c.modules, name)
}

// RegisterThread registers the calling goroutine's call stack with the
// owned tracing state, for code that wants to emit spans/events without
// reaching into Tracing() directly.
func (c *Context) RegisterThread() *tracing.Thread {
	return c.tracing.RegisterThread()
}
