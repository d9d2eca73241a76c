package permission

import (
	"errors"
	"sync"
)

// Permission is a registered bit position.
type Permission int

// Registry maps permission names to bit positions within a 64-bit mask.
type Registry struct {
	rootReserved bool
	rootBit      int

	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry creates an empty Registry. rootReserved keeps the highest bit for a
// root permission that implies every other one.
func NewRegistry(rootReserved bool) *Registry {
	r := &Registry{
		rootReserved: rootReserved,
		nameToBit:    make(map[string]int),
		bitToName:    make(map[int]string),
	}
	if rootReserved {
		r.rootBit = rootBit64
	}
	return r
}

// MustRegister registers names in order and panics on error. Intended for package
// init of an application's permission enum.
func (r *Registry) MustRegister(names ...string) []Permission {
	out := make([]Permission, 0, len(names))
	for _, n := range names {
		p, err := r.Register(n)
		if err != nil {
			panic(err)
		}
		out = append(out, p)
	}
	return out
}

// Register assigns the next available bit to name. Must be called before Freeze.
func (r *Registry) Register(name string) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("registry frozen")
	}

	if name == "" {
		return -1, errors.New("permission name cannot be empty")
	}

	if _, exists := r.nameToBit[name]; exists {
		return -1, errors.New("permission already registered")
	}

	nextBit := len(r.nameToBit)

	if r.rootReserved && nextBit >= r.rootBit {
		return -1, errors.New("permission limit exceeded (root bit reserved)")
	}

	if !r.rootReserved && nextBit >= 64 {
		return -1, errors.New("permission limit exceeded")
	}

	r.nameToBit[name] = nextBit
	r.bitToName[nextBit] = name

	return Permission(nextBit), nil
}

// Lookup returns the permission registered under name.
func (r *Registry) Lookup(name string) (Permission, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return Permission(bit), ok
}

// Name returns the name registered for p.
func (r *Registry) Name(p Permission) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[int(p)]
	return name, ok
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered permissions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}

// Root returns the reserved root permission, or false when none is reserved.
func (r *Registry) Root() (Permission, bool) {
	if !r.rootReserved {
		return -1, false
	}
	return Permission(r.rootBit), true
}
