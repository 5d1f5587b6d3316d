package schema

import (
	"strings"

	"github.com/spyglass-rpc/spyglass/internal/domain"
	"google.golang.org/protobuf/types/descriptorpb"
)

// wireTypeNames maps the numeric field type codes of the descriptor format
// onto their primitive type names. Message, group and enum fields are not
// listed; those carry a type name reference instead.
var wireTypeNames = map[descriptorpb.FieldDescriptorProto_Type]string{
	descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:   "double",
	descriptorpb.FieldDescriptorProto_TYPE_FLOAT:    "float",
	descriptorpb.FieldDescriptorProto_TYPE_INT64:    "int64",
	descriptorpb.FieldDescriptorProto_TYPE_UINT64:   "uint64",
	descriptorpb.FieldDescriptorProto_TYPE_INT32:    "int32",
	descriptorpb.FieldDescriptorProto_TYPE_FIXED64:  "fixed64",
	descriptorpb.FieldDescriptorProto_TYPE_FIXED32:  "fixed32",
	descriptorpb.FieldDescriptorProto_TYPE_BOOL:     "bool",
	descriptorpb.FieldDescriptorProto_TYPE_STRING:   "string",
	descriptorpb.FieldDescriptorProto_TYPE_BYTES:    "bytes",
	descriptorpb.FieldDescriptorProto_TYPE_UINT32:   "uint32",
	descriptorpb.FieldDescriptorProto_TYPE_SFIXED32: "sfixed32",
	descriptorpb.FieldDescriptorProto_TYPE_SFIXED64: "sfixed64",
	descriptorpb.FieldDescriptorProto_TYPE_SINT32:   "sint32",
	descriptorpb.FieldDescriptorProto_TYPE_SINT64:   "sint64",
}

// mergeLocked walks one file's declarations into the registry: enums first,
// then messages (recursively, since message bodies declare nested enums and
// messages), then services. Caller holds the write lock.
func (r *Registry) mergeLocked(fdp *descriptorpb.FileDescriptorProto) {
	pkg := fdp.GetPackage()
	proto2 := fdp.GetSyntax() == "" || fdp.GetSyntax() == "proto2"

	for _, e := range fdp.GetEnumType() {
		r.addEnumLocked(pkg, e)
	}
	for _, m := range fdp.GetMessageType() {
		r.addMessageLocked(pkg, m, proto2)
	}
	for _, s := range fdp.GetService() {
		r.addServiceLocked(pkg, s)
	}
}

func (r *Registry) addEnumLocked(prefix string, e *descriptorpb.EnumDescriptorProto) {
	fqn := qualify(prefix, e.GetName())
	if _, ok := r.enums[fqn]; ok {
		return
	}

	values := make([]string, 0, len(e.GetValue()))
	for _, v := range e.GetValue() {
		values = append(values, v.GetName())
	}

	r.enums[fqn] = domain.Enum{
		Name:     e.GetName(),
		FullName: fqn,
		Values:   values,
	}
}

func (r *Registry) addMessageLocked(prefix string, m *descriptorpb.DescriptorProto, proto2 bool) {
	fqn := qualify(prefix, m.GetName())

	// Nested declarations first so the message's own fields can resolve
	// against them immediately.
	for _, ne := range m.GetEnumType() {
		r.addEnumLocked(fqn, ne)
	}
	for _, nm := range m.GetNestedType() {
		r.addMessageLocked(fqn, nm, proto2)
	}

	if _, ok := r.messages[fqn]; ok {
		return
	}

	fields := make([]domain.Field, 0, len(m.GetField()))
	for _, f := range m.GetField() {
		fields = append(fields, fieldFromProto(f, proto2))
	}

	r.messages[fqn] = domain.Message{
		Name:     m.GetName(),
		FullName: fqn,
		Fields:   fields,
	}
}

func (r *Registry) addServiceLocked(prefix string, s *descriptorpb.ServiceDescriptorProto) {
	fqn := qualify(prefix, s.GetName())
	if existing, ok := r.services[fqn]; ok && len(existing.Methods) > 0 && !r.placeholderSvcs[fqn] {
		return
	}
	delete(r.placeholderSvcs, fqn)

	methods := make([]domain.Method, 0, len(s.GetMethod()))
	for _, m := range s.GetMethod() {
		methods = append(methods, domain.Method{
			Name:           m.GetName(),
			FullName:       fqn + "." + m.GetName(),
			InputType:      strings.TrimPrefix(m.GetInputType(), "."),
			OutputType:     strings.TrimPrefix(m.GetOutputType(), "."),
			IsClientStream: m.GetClientStreaming(),
			IsServerStream: m.GetServerStreaming(),
		})
	}

	r.services[fqn] = domain.Service{
		Name:     s.GetName(),
		FullName: fqn,
		Methods:  methods,
	}
}

// fieldFromProto converts one declared field. Named types arrive with a
// leading dot ("absolute" references); the dot is stripped so the name keys
// directly into the registry.
func fieldFromProto(f *descriptorpb.FieldDescriptorProto, proto2 bool) domain.Field {
	field := domain.Field{
		Name:        f.GetName(),
		Cardinality: cardinalityOf(f, proto2),
	}

	if tn := f.GetTypeName(); tn != "" {
		field.Type = strings.TrimPrefix(tn, ".")
		field.Ref = true
		return field
	}

	if name, ok := wireTypeNames[f.GetType()]; ok {
		field.Type = name
		return field
	}

	// A message/group/enum field without a type name is malformed; keep the
	// raw code name rather than dropping the field.
	field.Type = strings.ToLower(strings.TrimPrefix(f.GetType().String(), "TYPE_"))
	return field
}

func cardinalityOf(f *descriptorpb.FieldDescriptorProto, proto2 bool) string {
	switch {
	case f.GetProto3Optional():
		return domain.CardinalityOptional
	case f.GetLabel() == descriptorpb.FieldDescriptorProto_LABEL_REPEATED:
		return domain.CardinalityRepeated
	case f.GetLabel() == descriptorpb.FieldDescriptorProto_LABEL_REQUIRED:
		return domain.CardinalityRequired
	case proto2:
		return domain.CardinalityOptional
	default:
		return domain.CardinalitySingular
	}
}

func qualify(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func lastSegment(fqn string) string {
	if i := strings.LastIndexByte(fqn, '.'); i >= 0 {
		return fqn[i+1:]
	}
	return fqn
}
