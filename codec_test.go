package xbroker

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestHeaderString(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "v", "v"},
		{"bytes", []byte("b"), "b"},
		{"duration", 90 * time.Second, "1m30s"},
		{"time", ts, "2024-03-01T12:00:00Z"},
		{"bool", true, "true"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"float", 1.5, "1.5"},
		{"map", map[string]int{"a": 1}, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HeaderString(JSONCodec{}, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHeaderString_Msgpack(t *testing.T) {
	in := map[string]int{"a": 1}
	got, err := HeaderString(MsgpackCodec{}, in)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(got)
	require.NoError(t, err)
	var out map[string]int
	require.NoError(t, msgpack.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}

func TestHeaderStrings_ReportsKey(t *testing.T) {
	_, err := HeaderStrings(JSONCodec{}, Headers{"bad": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"bad"`)

	out, err := HeaderStrings(nil, Headers{"ttl": time.Minute})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ttl": "1m0s"}, out)
}

func TestCodecRegistry(t *testing.T) {
	c, err := NewCodec("msgpack")
	require.NoError(t, err)
	assert.Equal(t, "msgpack", c.Name())

	_, err = NewCodec("xml")
	assert.Error(t, err)
	assert.Error(t, RegisterCodec("", func() Codec { return JSONCodec{} }))
}
