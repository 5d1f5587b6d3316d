package invoke

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// encodeRequest builds a request message from loose parameters and
// serializes it. Population is best effort: fields the params don't name
// stay at their defaults, values that don't coerce are skipped with a debug
// log.
func (inv *Invoker) encodeRequest(md protoreflect.MessageDescriptor, params map[string]any) ([]byte, error) {
	msg := dynamicpb.NewMessage(md)
	inv.populate(msg, params)
	return proto.Marshal(msg)
}

func (inv *Invoker) populate(msg protoreflect.Message, params map[string]any) {
	fields := msg.Descriptor().Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		val, ok := lookupParam(params, fd)
		if !ok || val == nil {
			continue
		}
		if err := inv.setField(msg, fd, val); err != nil {
			inv.logger.Debug("request field skipped",
				slog.String("field", string(fd.FullName())),
				slog.Any("error", err),
			)
		}
	}
}

// lookupParam matches a param key to a field by proto name, then JSON name.
func lookupParam(params map[string]any, fd protoreflect.FieldDescriptor) (any, bool) {
	if v, ok := params[string(fd.Name())]; ok {
		return v, true
	}
	if v, ok := params[fd.JSONName()]; ok {
		return v, true
	}
	return nil, false
}

func (inv *Invoker) setField(msg protoreflect.Message, fd protoreflect.FieldDescriptor, val any) error {
	switch {
	case fd.IsMap():
		obj, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("expected object for map field, got %T", val)
		}
		m := msg.Mutable(fd).Map()
		for key, item := range obj {
			mk, err := mapKey(fd.MapKey(), key)
			if err != nil {
				return err
			}
			switch fd.MapValue().Kind() {
			case protoreflect.MessageKind, protoreflect.GroupKind:
				nested, ok := item.(map[string]any)
				if !ok {
					return fmt.Errorf("expected object for map value, got %T", item)
				}
				mv := m.NewValue()
				inv.populate(mv.Message(), nested)
				m.Set(mk, mv)
			default:
				mv, err := scalarValue(fd.MapValue(), item)
				if err != nil {
					return err
				}
				m.Set(mk, mv)
			}
		}
		return nil

	case fd.IsList():
		arr, ok := val.([]any)
		if !ok {
			return fmt.Errorf("expected array for repeated field, got %T", val)
		}
		list := msg.Mutable(fd).List()
		for _, item := range arr {
			switch fd.Kind() {
			case protoreflect.MessageKind, protoreflect.GroupKind:
				nested, ok := item.(map[string]any)
				if !ok {
					return fmt.Errorf("expected object for repeated message, got %T", item)
				}
				elem := list.NewElement()
				inv.populate(elem.Message(), nested)
				list.Append(elem)
			default:
				v, err := scalarValue(fd, item)
				if err != nil {
					return err
				}
				list.Append(v)
			}
		}
		return nil

	case fd.Kind() == protoreflect.MessageKind, fd.Kind() == protoreflect.GroupKind:
		nested, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("expected object for message field, got %T", val)
		}
		inv.populate(msg.Mutable(fd).Message(), nested)
		return nil

	default:
		v, err := scalarValue(fd, val)
		if err != nil {
			return err
		}
		msg.Set(fd, v)
		return nil
	}
}

// scalarValue coerces a JSON-decoded value to the field's kind. Numbers
// arrive as float64, so integral kinds truncate; strings are parsed when a
// number was quoted, which is how 64-bit values survive JSON.
func scalarValue(fd protoreflect.FieldDescriptor, val any) (protoreflect.Value, error) {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		switch v := val.(type) {
		case bool:
			return protoreflect.ValueOfBool(v), nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return protoreflect.Value{}, fmt.Errorf("invalid bool %q", v)
			}
			return protoreflect.ValueOfBool(b), nil
		}

	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, err := asInt64(val)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfInt32(int32(n)), nil

	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, err := asInt64(val)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfInt64(n), nil

	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, err := asUint64(val)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfUint32(uint32(n)), nil

	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, err := asUint64(val)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfUint64(n), nil

	case protoreflect.FloatKind:
		f, err := asFloat64(val)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfFloat32(float32(f)), nil

	case protoreflect.DoubleKind:
		f, err := asFloat64(val)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfFloat64(f), nil

	case protoreflect.StringKind:
		switch v := val.(type) {
		case string:
			return protoreflect.ValueOfString(v), nil
		case float64:
			return protoreflect.ValueOfString(strconv.FormatFloat(v, 'f', -1, 64)), nil
		case bool:
			return protoreflect.ValueOfString(strconv.FormatBool(v)), nil
		}

	case protoreflect.BytesKind:
		s, ok := val.(string)
		if !ok {
			return protoreflect.Value{}, fmt.Errorf("expected base64 string for bytes, got %T", val)
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			// Not base64; take the literal bytes.
			raw = []byte(s)
		}
		return protoreflect.ValueOfBytes(raw), nil

	case protoreflect.EnumKind:
		switch v := val.(type) {
		case string:
			if ev := fd.Enum().Values().ByName(protoreflect.Name(v)); ev != nil {
				return protoreflect.ValueOfEnum(ev.Number()), nil
			}
			return protoreflect.Value{}, fmt.Errorf("unknown value %q for enum %s", v, fd.Enum().FullName())
		default:
			n, err := asInt64(val)
			if err != nil {
				return protoreflect.Value{}, err
			}
			return protoreflect.ValueOfEnum(protoreflect.EnumNumber(n)), nil
		}
	}

	return protoreflect.Value{}, fmt.Errorf("cannot coerce %T to %s", val, fd.Kind())
}

// mapKey parses a JSON object key, which is always a string, into the map
// field's declared key kind.
func mapKey(fd protoreflect.FieldDescriptor, key string) (protoreflect.MapKey, error) {
	switch fd.Kind() {
	case protoreflect.StringKind:
		return protoreflect.ValueOfString(key).MapKey(), nil
	case protoreflect.BoolKind:
		b, err := strconv.ParseBool(key)
		if err != nil {
			return protoreflect.MapKey{}, fmt.Errorf("invalid bool map key %q", key)
		}
		return protoreflect.ValueOfBool(b).MapKey(), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, err := strconv.ParseInt(key, 10, 32)
		if err != nil {
			return protoreflect.MapKey{}, fmt.Errorf("invalid int32 map key %q", key)
		}
		return protoreflect.ValueOfInt32(int32(n)).MapKey(), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return protoreflect.MapKey{}, fmt.Errorf("invalid int64 map key %q", key)
		}
		return protoreflect.ValueOfInt64(n).MapKey(), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return protoreflect.MapKey{}, fmt.Errorf("invalid uint32 map key %q", key)
		}
		return protoreflect.ValueOfUint32(uint32(n)).MapKey(), nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return protoreflect.MapKey{}, fmt.Errorf("invalid uint64 map key %q", key)
		}
		return protoreflect.ValueOfUint64(n).MapKey(), nil
	}
	return protoreflect.MapKey{}, fmt.Errorf("unsupported map key kind %s", fd.Kind())
}

func asInt64(val any) (int64, error) {
	switch v := val.(type) {
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("cannot coerce %T to integer", val)
}

func asUint64(val any) (uint64, error) {
	switch v := val.(type) {
	case float64:
		if v < 0 {
			return 0, fmt.Errorf("negative value %v for unsigned field", v)
		}
		return uint64(v), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("negative value %d for unsigned field", v)
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid unsigned integer %q", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("cannot coerce %T to unsigned integer", val)
}

func asFloat64(val any) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot coerce %T to number", val)
}
