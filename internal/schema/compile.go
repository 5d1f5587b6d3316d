package schema

import (
	"fmt"
	"strings"

	"github.com/spyglass-rpc/spyglass/internal/errs"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"
)

// CheckResolved verifies that every type reachable from the named message
// resolves in the registry (or in the process-global registry, which covers
// the well-known types). The first unresolvable reference is returned as a
// MissingTypeError, which triggers on-demand descriptor loading.
func (r *Registry) CheckResolved(fqn string) error {
	return r.checkResolved(fqn, make(map[string]bool))
}

func (r *Registry) checkResolved(fqn string, visited map[string]bool) error {
	if visited[fqn] {
		return nil
	}
	visited[fqn] = true

	msg, ok := r.Message(fqn)
	if !ok {
		if globalTypeKnown(fqn) {
			return nil
		}
		return &errs.MissingTypeError{TypeName: fqn}
	}

	for _, f := range msg.Fields {
		if !f.Ref {
			continue
		}
		if _, ok := r.Enum(f.Type); ok {
			continue
		}
		if _, ok := r.Message(f.Type); ok {
			if err := r.checkResolved(f.Type, visited); err != nil {
				return err
			}
			continue
		}
		if globalTypeKnown(f.Type) {
			continue
		}
		return &errs.MissingTypeError{TypeName: f.Type}
	}
	return nil
}

func globalTypeKnown(fqn string) bool {
	_, err := protoregistry.GlobalFiles.FindDescriptorByName(protoreflect.FullName(fqn))
	return err == nil
}

// MessageDescriptor compiles (or reuses) the protoreflect view of the
// registry and returns the descriptor for the named message. A name the
// registry has never seen comes back as MissingTypeError; a name the
// registry holds but cannot compile is an InconsistentTypeError, which is a
// bug rather than a recoverable condition.
func (r *Registry) MessageDescriptor(fqn string) (protoreflect.MessageDescriptor, error) {
	if err := r.CheckResolved(fqn); err != nil {
		return nil, err
	}

	files, err := r.compiledFiles()
	if err != nil {
		return nil, &errs.InconsistentTypeError{TypeName: fqn, Cause: err}
	}

	d, err := files.FindDescriptorByName(protoreflect.FullName(fqn))
	if err != nil {
		// Well-known types may live only in the global registry.
		d, err = protoregistry.GlobalFiles.FindDescriptorByName(protoreflect.FullName(fqn))
		if err != nil {
			return nil, &errs.InconsistentTypeError{TypeName: fqn, Cause: err}
		}
	}

	md, ok := d.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, &errs.InconsistentTypeError{
			TypeName: fqn,
			Cause:    fmt.Errorf("descriptor is a %T, not a message", d),
		}
	}
	return md, nil
}

// compiledFiles builds protoreflect descriptors for every merged file,
// reusing the previous build until a new file is merged. Files are parsed
// iteratively so dependency order does not matter, with unresolvable
// references allowed; CheckResolved decides what is actually missing.
func (r *Registry) compiledFiles() (*protoregistry.Files, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.dirty && r.compiled != nil {
		return r.compiled, nil
	}

	local := new(protoregistry.Files)
	resolver := &combinedResolver{local: local, global: protoregistry.GlobalFiles}
	opts := protodesc.FileOptions{AllowUnresolvable: true}

	remaining := make([]string, 0, len(r.files))
	for name := range r.files {
		remaining = append(remaining, name)
	}

	build := func(name string) {
		parsed, err := opts.New(r.files[name], resolver)
		if err != nil {
			r.logger.Debug("failed to compile descriptor file",
				"file", name,
				"error", err,
			)
			return
		}
		if regErr := local.RegisterFile(parsed); regErr != nil {
			r.logger.Debug("failed to register compiled file",
				"file", name,
				"error", regErr,
			)
		}
	}

	// Register in dependency order: a file is deferred while an import of
	// it that we do hold is not registered yet. When no pass makes
	// progress (a dependency cycle, or imports the server never sent) the
	// rest is compiled anyway and the absent pieces become placeholders.
	for len(remaining) > 0 {
		progress := false
		var next []string

		for _, name := range remaining {
			if _, err := local.FindFileByPath(name); err == nil {
				progress = true
				continue
			}
			if _, err := protoregistry.GlobalFiles.FindFileByPath(name); err == nil {
				progress = true
				continue
			}
			if !r.depsRegisteredLocked(name, local) {
				next = append(next, name)
				continue
			}
			build(name)
			progress = true
		}

		if !progress {
			for _, name := range next {
				build(name)
			}
			break
		}
		remaining = next
	}

	r.compiled = local
	r.dirty = false
	return local, nil
}

// depsRegisteredLocked reports whether every import of name that the
// registry holds is already registered in local (or known globally).
// Imports the registry never saw do not block compilation.
func (r *Registry) depsRegisteredLocked(name string, local *protoregistry.Files) bool {
	for _, dep := range r.files[name].GetDependency() {
		if _, ok := r.files[dep]; !ok {
			continue
		}
		if _, err := local.FindFileByPath(dep); err == nil {
			continue
		}
		if _, err := protoregistry.GlobalFiles.FindFileByPath(dep); err == nil {
			continue
		}
		return false
	}
	return true
}

// combinedResolver tries local files first, then falls back to the global
// registry (for well-known types compiled into the binary).
type combinedResolver struct {
	local  *protoregistry.Files
	global *protoregistry.Files
}

func (r *combinedResolver) FindFileByPath(path string) (protoreflect.FileDescriptor, error) {
	if fd, err := r.local.FindFileByPath(path); err == nil {
		return fd, nil
	}
	return r.global.FindFileByPath(path)
}

func (r *combinedResolver) FindDescriptorByName(name protoreflect.FullName) (protoreflect.Descriptor, error) {
	if d, err := r.local.FindDescriptorByName(name); err == nil {
		return d, nil
	}
	return r.global.FindDescriptorByName(name)
}

// TypeResolver adapts the registry for the JSON codec's dynamic type
// lookups (Any fields). Unknown names surface as MissingTypeError so the
// recovery loop can fetch them.
func (r *Registry) TypeResolver() *TypeResolver {
	return &TypeResolver{reg: r}
}

type TypeResolver struct {
	reg *Registry
}

func (t *TypeResolver) FindMessageByName(name protoreflect.FullName) (protoreflect.MessageType, error) {
	md, err := t.reg.MessageDescriptor(string(name))
	if err != nil {
		return nil, err
	}
	return dynamicpb.NewMessageType(md), nil
}

func (t *TypeResolver) FindMessageByURL(url string) (protoreflect.MessageType, error) {
	name := url
	if i := strings.LastIndexByte(url, '/'); i >= 0 {
		name = url[i+1:]
	}
	return t.FindMessageByName(protoreflect.FullName(name))
}

func (t *TypeResolver) FindExtensionByName(field protoreflect.FullName) (protoreflect.ExtensionType, error) {
	return protoregistry.GlobalTypes.FindExtensionByName(field)
}

func (t *TypeResolver) FindExtensionByNumber(message protoreflect.FullName, field protoreflect.FieldNumber) (protoreflect.ExtensionType, error) {
	return protoregistry.GlobalTypes.FindExtensionByNumber(message, field)
}
