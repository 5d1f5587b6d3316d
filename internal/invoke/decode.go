package invoke

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// decodeResponse unmarshals raw response bytes against the output
// descriptor and renders them as a generic JSON object. Unset fields are
// emitted with their defaults so callers see the full response shape, and
// enum values come out as symbol names. Any-typed payloads resolve through
// the session's registry, which is where a missing type surfaces.
func (inv *Invoker) decodeResponse(md protoreflect.MessageDescriptor, data []byte) (map[string]any, error) {
	resolver := inv.registry.TypeResolver()

	msg := dynamicpb.NewMessage(md)
	if err := (proto.UnmarshalOptions{Resolver: resolver}).Unmarshal(data, msg); err != nil {
		return nil, err
	}

	rendered, err := protojson.MarshalOptions{
		EmitUnpopulated: true,
		Resolver:        resolver,
	}.Marshal(msg)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(rendered, &out); err != nil {
		return nil, fmt.Errorf("rendered response is not an object: %w", err)
	}
	return out, nil
}
