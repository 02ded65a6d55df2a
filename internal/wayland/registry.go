package wayland

import "fmt"

const (
	// wl_registry requests
	registryBind = 0

	// wl_registry events
	registryEventGlobal       = 0
	registryEventGlobalRemove = 1
)

// Global is an object the compositor advertises through the registry
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Registry tracks the globals advertised by the compositor
type Registry struct {
	BaseProxy
	globals map[uint32]Global
}

// Dispatch handles global and global_remove events
func (r *Registry) Dispatch(e *Event) {
	switch e.Opcode {
	case registryEventGlobal:
		g := Global{Name: e.Uint32(), Interface: e.Str(), Version: e.Uint32()}
		if e.Err() == nil {
			r.globals[g.Name] = g
		}
	case registryEventGlobalRemove:
		delete(r.globals, e.Uint32())
	}
}

// Find returns the first advertised global implementing iface
func (r *Registry) Find(iface string) (Global, bool) {
	var (
		found Global
		ok    bool
	)
	for _, g := range r.globals {
		if g.Interface != iface {
			continue
		}
		if !ok || g.Name < found.Name {
			found, ok = g, true
		}
	}
	return found, ok
}

// Bind creates obj as a client-side instance of g
func (r *Registry) Bind(g Global, version uint32, obj Object) error {
	if version > g.Version {
		return fmt.Errorf("%s version %d requested, compositor offers %d", g.Interface, version, g.Version)
	}
	r.Client().Register(obj)
	if err := r.Client().SendRequest(r, registryBind, g.Name, g.Interface, version, obj); err != nil {
		r.Client().Unregister(obj)
		return err
	}
	return nil
}
