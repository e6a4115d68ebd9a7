package codec

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomcast/pkg/types"
)

func TestCodec_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data any
		want any
	}{
		{name: "object", data: map[string]any{"text": "hi", "n": 3.0}, want: map[string]any{"text": "hi", "n": 3.0}},
		{name: "array", data: []any{"a", 1.0, true}, want: []any{"a", 1.0, true}},
		{name: "string", data: "plain", want: "plain"},
		{name: "number", data: 42.5, want: 42.5},
		{name: "bool", data: false, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Encode("update", tt.data)
			require.NoError(t, err)

			env, err := Decode(payload)
			require.NoError(t, err)
			assert.Equal(t, "update", env.Event)

			var got any
			require.NoError(t, json.Unmarshal(env.Data, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCodec_EncodeNilDataOmitted(t *testing.T) {
	payload, err := Encode("ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ping"}`, string(payload))

	env, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "ping", env.Event)
	assert.Nil(t, env.Data)
}

func TestCodec_EncodeRejectsEmptyEvent(t *testing.T) {
	_, err := Encode("", "x")
	assert.Equal(t, types.ErrEmptyEvent, err)
}

func TestCodec_EncodeUnmarshalableData(t *testing.T) {
	_, err := Encode("bad", map[string]any{"fn": func() {}})
	require.Error(t, err)
}

func TestCodec_DecodeRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{name: "not json", payload: `hello there`, want: types.ErrMalformedEnvelope},
		{name: "array", payload: `["event","data"]`, want: types.ErrMalformedEnvelope},
		{name: "string", payload: `"event"`, want: types.ErrMalformedEnvelope},
		{name: "null", payload: `null`, want: types.ErrMissingEvent},
		{name: "no event", payload: `{"data":1}`, want: types.ErrMissingEvent},
		{name: "numeric event", payload: `{"event":7}`, want: types.ErrMissingEvent},
		{name: "null event", payload: `{"event":null}`, want: types.ErrMissingEvent},
		{name: "empty event", payload: `{"event":""}`, want: types.ErrMissingEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload))
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.Cause(err))
		})
	}
}

func TestCodec_DecodeKeepsExplicitNull(t *testing.T) {
	env, err := Decode([]byte(`{"event":"e","data":null}`))
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), env.Data)
}
