// Package schema holds the incrementally-built registry of everything
// discovered about a remote server: messages, enums and services keyed by
// fully-qualified name, plus the raw file descriptors they came from.
//
// The registry is an arena of named nodes addressed by dotted name, so
// cyclic type graphs are plain string lookups rather than ownership cycles.
// It only ever grows: merging a file twice is a no-op, and duplicate names
// are silently kept as first-writer-wins.
package schema

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/spyglass-rpc/spyglass/internal/domain"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Registry is safe for concurrent use; batched discovery merges into one
// registry from several goroutines.
type Registry struct {
	mu     sync.RWMutex
	logger *slog.Logger

	files    map[string]*descriptorpb.FileDescriptorProto
	messages map[string]domain.Message
	enums    map[string]domain.Enum
	services map[string]domain.Service

	// placeholders are message names learned from the fast discovery path
	// before any descriptor was fetched. Kept apart from messages so type
	// resolution never mistakes an empty placeholder for a real descriptor.
	placeholders map[string]domain.Message

	// placeholderSvcs marks services recorded by the fast path so a later
	// full descriptor is allowed to replace them.
	placeholderSvcs map[string]bool

	// compiled caches the protoreflect view of files; invalidated on merge.
	compiled *protoregistry.Files
	dirty    bool
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:          logger,
		files:           make(map[string]*descriptorpb.FileDescriptorProto),
		messages:        make(map[string]domain.Message),
		enums:           make(map[string]domain.Enum),
		services:        make(map[string]domain.Service),
		placeholders:    make(map[string]domain.Message),
		placeholderSvcs: make(map[string]bool),
	}
}

// MergeFile walks one file descriptor into the registry. Returns false when
// the file was already merged (keyed by its declared name).
func (r *Registry) MergeFile(fdp *descriptorpb.FileDescriptorProto) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := fdp.GetName()
	if _, ok := r.files[name]; ok {
		return false
	}
	r.files[name] = fdp
	r.dirty = true
	r.mergeLocked(fdp)

	r.logger.Debug("merged descriptor file",
		slog.String("file", name),
		slog.String("package", fdp.GetPackage()),
	)
	return true
}

// FileSeen reports whether a file of that name was already merged.
func (r *Registry) FileSeen(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.files[name]
	return ok
}

// FileCount returns the number of merged files.
func (r *Registry) FileCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}

// Message looks up a message type by fully-qualified name.
func (r *Registry) Message(fqn string) (domain.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[fqn]
	return m, ok
}

// Enum looks up an enum type by fully-qualified name.
func (r *Registry) Enum(fqn string) (domain.Enum, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.enums[fqn]
	return e, ok
}

// Service looks up a service by fully-qualified name.
func (r *Registry) Service(fqn string) (domain.Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[fqn]
	return s, ok
}

// HasType reports whether fqn names a known message or enum.
func (r *Registry) HasType(fqn string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.messages[fqn]; ok {
		return true
	}
	_, ok := r.enums[fqn]
	return ok
}

// Services returns every known service, sorted by fully-qualified name.
func (r *Registry) Services() []domain.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Service, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out
}

// AddPlaceholderService records a service known only by name and method
// list, as produced by the fast discovery path. A full descriptor merged
// later replaces it.
func (r *Registry) AddPlaceholderService(svc domain.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[svc.FullName]; ok {
		return
	}
	r.services[svc.FullName] = svc
	r.placeholderSvcs[svc.FullName] = true
}

// AddPlaceholderMessage records a message type known only by name, with an
// empty field list to be filled in on demand via a later descriptor fetch.
func (r *Registry) AddPlaceholderMessage(fqn string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[fqn]; ok {
		return
	}
	r.placeholders[fqn] = domain.Message{
		Name:     lastSegment(fqn),
		FullName: fqn,
	}
}

// PlaceholderMessages returns the names recorded by the fast discovery path
// that still have no real descriptor, sorted.
func (r *Registry) PlaceholderMessages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for fqn := range r.placeholders {
		if _, ok := r.messages[fqn]; !ok {
			out = append(out, fqn)
		}
	}
	sort.Strings(out)
	return out
}
