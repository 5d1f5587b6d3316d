package domain

// Cardinality of a message field.
const (
	CardinalitySingular = "singular"
	CardinalityOptional = "optional"
	CardinalityRequired = "required"
	CardinalityRepeated = "repeated"
)

// Message is the registry's view of one message type: an ordered field
// list under a fully-qualified name.
type Message struct {
	Name     string  `json:"name"`
	FullName string  `json:"fullName"`
	Fields   []Field `json:"fields"`
}

// Field describes one declared field of a message. Type holds either a
// primitive wire-type name ("int32", "string", ...) or, when Ref is true,
// the fully-qualified name of a message or enum type.
type Field struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Ref         bool   `json:"ref"`
	Cardinality string `json:"cardinality"`
}

// Enum is a named enum type and its legal symbols.
type Enum struct {
	Name     string   `json:"name"`
	FullName string   `json:"fullName"`
	Values   []string `json:"values"`
}

// FieldClass classifies an introspected field.
type FieldClass string

const (
	FieldPrimitive FieldClass = "primitive"
	FieldEnum      FieldClass = "enum"
	FieldMessage   FieldClass = "message"
)

// MessageTypeDefinition is the introspection output for one message type:
// the same shape as Message, but with nested message fields recursively
// expanded into their own field lists.
type MessageTypeDefinition struct {
	Name     string            `json:"name"`
	FullName string            `json:"fullName"`
	Fields   []FieldDefinition `json:"fields"`
}

// FieldDefinition is one field of a MessageTypeDefinition. For enum fields
// EnumValues carries the legal symbols; for message fields Fields carries
// the expanded nested definition, or nil when expansion was cut off by a
// reference cycle or a failed lookup.
type FieldDefinition struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Cardinality string            `json:"cardinality"`
	Class       FieldClass        `json:"class"`
	EnumValues  []string          `json:"enumValues,omitempty"`
	Fields      []FieldDefinition `json:"fields,omitempty"`
}
