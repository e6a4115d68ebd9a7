// Package codec converts opaque transport payloads to and from envelopes.
package codec

import (
	"encoding/json"

	"github.com/pkg/errors"

	"roomcast/pkg/types"
)

// outgoing keeps Data as an arbitrary value so callers never pre-marshal.
type outgoing struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Encode marshals {event, data}. A nil data is omitted from the frame.
func Encode(event string, data any) ([]byte, error) {
	if !types.IsValidEventName(event) {
		return nil, types.ErrEmptyEvent
	}
	payload, err := json.Marshal(outgoing{Event: event, Data: data})
	if err != nil {
		return nil, errors.Wrapf(err, "encode event %q", event)
	}
	return payload, nil
}

// Decode parses a payload into an Envelope. Anything that is not a JSON
// object carrying a non-empty string "event" field is rejected; callers drop
// such frames.
func Decode(payload []byte) (types.Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return types.Envelope{}, errors.Wrap(types.ErrMalformedEnvelope, err.Error())
	}

	rawEvent, ok := fields["event"]
	if !ok {
		return types.Envelope{}, types.ErrMissingEvent
	}

	var event string
	if err := json.Unmarshal(rawEvent, &event); err != nil || !types.IsValidEventName(event) {
		return types.Envelope{}, types.ErrMissingEvent
	}

	return types.Envelope{Event: event, Data: fields["data"]}, nil
}
