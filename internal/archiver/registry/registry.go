// Package registry holds the extension-keyed table of installed Archiver
// backends the mount engine consults when opening a new archive.
package registry

import (
	"strings"
	"sync"

	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfstypes"
)

// Registry maps a lower-cased extension to the Archiver registered for it.
// Registration is case-insensitive and rejects duplicates, matching the
// original registration contract.
type Registry struct {
	mu   sync.RWMutex
	byExt map[string]pfstypes.Archiver
	order []string // extensions in registration order, for deterministic trial
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byExt: make(map[string]pfstypes.Archiver)}
}

// Register adds archiver under its own Extension(). Registering the same
// extension twice fails with pfserrors.CodeDuplicate.
func (r *Registry) Register(archiver pfstypes.Archiver) error {
	key := strings.ToLower(archiver.Extension())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byExt[key]; exists {
		return pfserrors.New(pfserrors.CodeDuplicate, "archiver already registered for extension").
			WithComponent("registry").WithContext("extension", key)
	}
	r.byExt[key] = archiver
	r.order = append(r.order, key)
	return nil
}

// Deregister removes the archiver for ext, if any.
func (r *Registry) Deregister(ext string) {
	key := strings.ToLower(ext)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byExt, key)
	for i, e := range r.order {
		if e == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// ByExtension returns the archiver registered for ext, if any.
func (r *Registry) ByExtension(ext string) (pfstypes.Archiver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byExt[strings.ToLower(ext)]
	return a, ok
}

// TrialOrder returns archivers in the order the mount engine should try
// them against an unrecognized file: the archiver matching the file's own
// extension first (if registered and not already tried), then every other
// registered archiver in registration order. The directory archiver (empty
// extension) is never included; callers special-case it when io is nil.
func (r *Registry) TrialOrder(fileExt string) []pfstypes.Archiver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := strings.ToLower(fileExt)
	var ordered []pfstypes.Archiver
	seen := make(map[string]bool)

	if key != "" {
		if a, ok := r.byExt[key]; ok {
			ordered = append(ordered, a)
			seen[key] = true
		}
	}
	for _, ext := range r.order {
		if ext == "" || seen[ext] {
			continue
		}
		ordered = append(ordered, r.byExt[ext])
		seen[ext] = true
	}
	return ordered
}

// Directory returns the archiver registered under the empty extension (the
// plain-directory backend), if one has been registered.
func (r *Registry) Directory() (pfstypes.Archiver, bool) {
	return r.ByExtension("")
}
