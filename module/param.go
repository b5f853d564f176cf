package module

import errs "github.com/fimoengine/fimo-sub001/errors"

func checkAccess(owner, caller *Module, class ParamAccess) error {
	switch class {
	case AccessPublic:
		return nil
	case AccessDependency:
		if caller == owner {
			return nil
		}
		if caller != nil && caller.HasDependency(owner.Name()) {
			return nil
		}
		return errs.New(errs.Forbidden, "parameter requires a dependency relationship on %q", owner.Name())
	case AccessPrivate:
		if caller == owner {
			return nil
		}
		return errs.New(errs.Forbidden, "parameter is private to %q", owner.Name())
	default:
		return errs.New(errs.Internal, "unknown parameter access class")
	}
}

// Get reads the parameter's raw value, enforcing the read-side access
// class of the {read,write} × {public,dependency,private} matrix from spec
// §3 "Parameter". caller is the module performing the read, or nil for the
// host/context itself, which may only read parameters with public read
// access.
func (p *Param) Get(caller *Module) (uint64, error) {
	if err := checkAccess(p.owner, caller, p.read); err != nil {
		return 0, err
	}
	return p.value.Load(), nil
}

// Set writes the parameter's raw value, enforcing the write-side access
// class; a nil caller (the host/context) may only write parameters with
// public write access. Forbidden mirrors the C implementation's access check in
// internal/module.c; a caller that is not the declared owner attempting a
// module-internal "unchecked" set is a programming error, not a protocol
// one (see SetUnchecked).
func (p *Param) Set(caller *Module, value uint64) error {
	if err := checkAccess(p.owner, caller, p.write); err != nil {
		return err
	}
	p.value.Store(value)
	return nil
}

// SetUnchecked lets a module write one of its own parameters bypassing the
// access matrix, provided caller really is the declared owner. Calling it
// with any other module is a programming error (spec §4.3 "Parameter
// access control": the owner-identity check exists independent of the
// public/dependency/private class).
func (p *Param) SetUnchecked(caller *Module, value uint64) {
	if caller != p.owner {
		panic("module: SetUnchecked called by non-owner module")
	}
	p.value.Store(value)
}

// GetSigned reads the parameter's value sign-extended according to its
// declared type, for the signed ParamType variants.
func (p *Param) GetSigned(caller *Module) (int64, error) {
	raw, err := p.Get(caller)
	if err != nil {
		return 0, err
	}
	switch p.typ {
	case ParamI8:
		return int64(int8(raw)), nil
	case ParamI16:
		return int64(int16(raw)), nil
	case ParamI32:
		return int64(int32(raw)), nil
	case ParamI64:
		return int64(raw), nil
	default:
		return 0, errs.New(errs.TypeMismatch, "parameter is not a signed type")
	}
}

// Param looks up a declared parameter by name on m.
func (m *Module) Param(name string) (*Param, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.params[name]
	if !ok {
		return nil, errs.New(errs.NotFound, "module %q has no parameter %q", m.Name(), name)
	}
	return p, nil
}
