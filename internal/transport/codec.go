package transport

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// rawCodec passes message bytes through untouched so calls can be made from
// pre-encoded wire bytes without generated types. It still answers to the
// "proto" codec name, keeping the content-type the server expects.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case []byte:
		return m, nil
	case *[]byte:
		return *m, nil
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, fmt.Errorf("raw codec cannot marshal %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *[]byte:
		*m = data
		return nil
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return fmt.Errorf("raw codec cannot unmarshal into %T", v)
	}
}

func (rawCodec) Name() string { return "proto" }
