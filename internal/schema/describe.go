package schema

import (
	"log/slog"

	"github.com/spyglass-rpc/spyglass/internal/domain"
	"github.com/spyglass-rpc/spyglass/internal/errs"
)

// Describe produces the recursive field tree for a message type, expanding
// nested message fields into their own field lists. visited carries the
// type names already being expanded up the call chain; pass nil at the top.
// A nested type already in visited is reported but not expanded again,
// which is what terminates self-referential schemas.
func (r *Registry) Describe(typeName string, visited map[string]bool) (*domain.MessageTypeDefinition, error) {
	if visited == nil {
		visited = make(map[string]bool)
	}

	msg, ok := r.Message(typeName)
	if !ok {
		return nil, &errs.MissingTypeError{TypeName: typeName}
	}
	visited[typeName] = true

	def := &domain.MessageTypeDefinition{
		Name:     msg.Name,
		FullName: msg.FullName,
		Fields:   make([]domain.FieldDefinition, 0, len(msg.Fields)),
	}

	for _, f := range msg.Fields {
		fd := domain.FieldDefinition{
			Name:        f.Name,
			Type:        f.Type,
			Cardinality: f.Cardinality,
		}

		switch {
		case !f.Ref:
			fd.Class = domain.FieldPrimitive

		case r.isEnum(f.Type):
			fd.Class = domain.FieldEnum
			if e, ok := r.Enum(f.Type); ok {
				fd.EnumValues = e.Values
			}

		case r.isMessage(f.Type):
			fd.Class = domain.FieldMessage
			if !visited[f.Type] {
				nested, err := r.Describe(f.Type, visited)
				if err != nil {
					r.logger.Warn("failed to expand nested field type",
						slog.String("message", typeName),
						slog.String("field", f.Name),
						slog.Any("error", err),
					)
				} else {
					fd.Fields = nested.Fields
				}
			}

		default:
			// The referenced type never made it into the registry. Report
			// the field as an unexpanded message reference rather than
			// failing the whole description.
			r.logger.Warn("field type not found in registry",
				slog.String("message", typeName),
				slog.String("field", f.Name),
				slog.String("type", f.Type),
			)
			fd.Class = domain.FieldMessage
		}

		def.Fields = append(def.Fields, fd)
	}

	return def, nil
}

func (r *Registry) isEnum(fqn string) bool {
	_, ok := r.Enum(fqn)
	return ok
}

func (r *Registry) isMessage(fqn string) bool {
	_, ok := r.Message(fqn)
	return ok
}
