package xbroker

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec is the Strategy for encoding header values that are not plain text.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// JSONCodec is the default JSON implementation.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) Name() string                    { return "json" }

// MsgpackCodec encodes values as MessagePack. Binary output is base64 encoded
// when rendered as a header string.
type MsgpackCodec struct{}

func (MsgpackCodec) Marshal(v any) ([]byte, error)   { return msgpack.Marshal(v) }
func (MsgpackCodec) Unmarshal(b []byte, v any) error { return msgpack.Unmarshal(b, v) }
func (MsgpackCodec) Name() string                    { return "msgpack" }

// HeaderString renders a header value for backends whose headers are text.
// Strings, numbers, booleans and durations are formatted directly; anything
// else goes through c.
func HeaderString(c Codec, v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case time.Duration:
		return x.String(), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	if c == nil {
		c = JSONCodec{}
	}
	b, err := c.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode header value with %s: %w", c.Name(), err)
	}
	if _, ok := c.(MsgpackCodec); ok {
		return base64.StdEncoding.EncodeToString(b), nil
	}
	return string(b), nil
}

// HeaderStrings renders every header with HeaderString.
func HeaderStrings(c Codec, h Headers) (map[string]string, error) {
	out := make(map[string]string, len(h))
	for k, v := range h {
		s, err := HeaderString(c, v)
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}
