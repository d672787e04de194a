// Package serializer encodes stored values as a fixed binary frame:
// one type-tag byte, a little-endian uint32 payload length, then the payload.
// Arrays and maps carry a JSON rendering of the structured value; byte
// buffers nested inside them are written as {"$bytes": "<base64>"} objects.
// A nested Absent has no JSON spelling and round-trips as Null.
package serializer

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"durakv/internal/common"
)

const (
	// HeaderSize is the fixed prefix of every encoded record.
	HeaderSize = 5

	// maxNestingDepth bounds array/map recursion. Cyclic values cannot be
	// built without exceeding it, so encoding them fails instead of looping.
	maxNestingDepth = 64

	bytesMarkerField = "$bytes"
)

var (
	ErrUnsupportedKind = errors.New("unsupported value kind")
	ErrTooDeep         = errors.New("value nesting exceeds maximum depth")
	ErrCorruptRecord   = errors.New("corrupt record")
)

// Encode renders a value into the framed binary form.
func Encode(value common.Value) ([]byte, error) {
	payload, err := encodePayload(value)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = byte(value.Kind)
	binary.LittleEndian.PutUint32(buf[1:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

func encodePayload(value common.Value) ([]byte, error) {
	switch value.Kind {
	case common.KindNull, common.KindAbsent:
		return nil, nil
	case common.KindBool:
		if value.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case common.KindNumber:
		payload := make([]byte, 8)
		binary.LittleEndian.PutUint64(payload, math.Float64bits(value.Number))
		return payload, nil
	case common.KindString:
		return []byte(value.Str), nil
	case common.KindBytes:
		return value.Bytes, nil
	case common.KindArray, common.KindMap:
		plain, err := toPlain(value, 0)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(plain)
		if err != nil {
			return nil, fmt.Errorf("encode structured value: %w", err)
		}
		return payload, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedKind, value.Kind)
}

// Decode inverts Encode. The buffer must contain exactly one framed record.
func Decode(buf []byte) (common.Value, error) {
	if len(buf) < HeaderSize {
		return common.Value{}, fmt.Errorf("%w: %d bytes is below the frame header", ErrCorruptRecord, len(buf))
	}

	kind := common.ValueKind(buf[0])
	if !kind.Valid() {
		return common.Value{}, fmt.Errorf("%w: unknown type tag %d", ErrCorruptRecord, buf[0])
	}

	declared := int(binary.LittleEndian.Uint32(buf[1:HeaderSize]))
	if declared > len(buf)-HeaderSize {
		return common.Value{}, fmt.Errorf("%w: declared length %d exceeds %d available bytes",
			ErrCorruptRecord, declared, len(buf)-HeaderSize)
	}
	payload := buf[HeaderSize : HeaderSize+declared]

	switch kind {
	case common.KindNull:
		return common.Null(), nil
	case common.KindAbsent:
		return common.Absent(), nil
	case common.KindBool:
		if len(payload) != 1 {
			return common.Value{}, fmt.Errorf("%w: bool payload of %d bytes", ErrCorruptRecord, len(payload))
		}
		return common.BoolValue(payload[0] == 1), nil
	case common.KindNumber:
		if len(payload) != 8 {
			return common.Value{}, fmt.Errorf("%w: number payload of %d bytes", ErrCorruptRecord, len(payload))
		}
		return common.NumberValue(math.Float64frombits(binary.LittleEndian.Uint64(payload))), nil
	case common.KindString:
		return common.StringValue(string(payload)), nil
	case common.KindBytes:
		out := make([]byte, len(payload))
		copy(out, payload)
		return common.BytesValue(out), nil
	}

	var plain interface{}
	if err := json.Unmarshal(payload, &plain); err != nil {
		return common.Value{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	value, err := fromPlain(plain)
	if err != nil {
		return common.Value{}, err
	}
	if value.Kind != kind {
		return common.Value{}, fmt.Errorf("%w: payload decodes to %s but tag says %s",
			ErrCorruptRecord, value.Kind, kind)
	}
	return value, nil
}

func toPlain(value common.Value, depth int) (interface{}, error) {
	if depth > maxNestingDepth {
		return nil, ErrTooDeep
	}

	switch value.Kind {
	case common.KindNull, common.KindAbsent:
		return nil, nil
	case common.KindBool:
		return value.Bool, nil
	case common.KindNumber:
		return value.Number, nil
	case common.KindString:
		return value.Str, nil
	case common.KindBytes:
		return map[string]interface{}{
			bytesMarkerField: base64.StdEncoding.EncodeToString(value.Bytes),
		}, nil
	case common.KindArray:
		items := make([]interface{}, len(value.Items))
		for i, item := range value.Items {
			plain, err := toPlain(item, depth+1)
			if err != nil {
				return nil, err
			}
			items[i] = plain
		}
		return items, nil
	case common.KindMap:
		fields := make(map[string]interface{}, len(value.Fields))
		for key, field := range value.Fields {
			plain, err := toPlain(field, depth+1)
			if err != nil {
				return nil, err
			}
			fields[key] = plain
		}
		return fields, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedKind, value.Kind)
}

func fromPlain(plain interface{}) (common.Value, error) {
	switch v := plain.(type) {
	case nil:
		return common.Null(), nil
	case bool:
		return common.BoolValue(v), nil
	case float64:
		return common.NumberValue(v), nil
	case string:
		return common.StringValue(v), nil
	case []interface{}:
		items := make([]common.Value, len(v))
		for i, item := range v {
			decoded, err := fromPlain(item)
			if err != nil {
				return common.Value{}, err
			}
			items[i] = decoded
		}
		return common.ArrayValue(items...), nil
	case map[string]interface{}:
		if encoded, ok := bytesMarker(v); ok {
			raw, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return common.Value{}, fmt.Errorf("%w: bad base64 in byte buffer: %v", ErrCorruptRecord, err)
			}
			return common.BytesValue(raw), nil
		}
		fields := make(map[string]common.Value, len(v))
		for key, field := range v {
			decoded, err := fromPlain(field)
			if err != nil {
				return common.Value{}, err
			}
			fields[key] = decoded
		}
		return common.MapValue(fields), nil
	}
	return common.Value{}, fmt.Errorf("%w: unexpected JSON node %T", ErrCorruptRecord, plain)
}

func bytesMarker(fields map[string]interface{}) (string, bool) {
	if len(fields) != 1 {
		return "", false
	}
	encoded, ok := fields[bytesMarkerField].(string)
	return encoded, ok
}
