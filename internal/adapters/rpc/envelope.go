package rpc

import "encoding/json"

// Envelope is the frame exchanged in both directions. Requests leave OK and
// Error unset.
type Envelope struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Command is an outbound request.
type Command struct {
	Kind    Kind
	Payload any
}

// Response is a decoded, validated reply.
type Response struct {
	ID    string
	Kind  Kind
	Value any
}

// Reply builds a response envelope for req. It is used by peers and tests.
func Reply(req Envelope, payload any, errText string) (Envelope, error) {
	ok := errText == ""
	env := Envelope{ID: req.ID, Kind: req.Kind, OK: &ok, Error: errText}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = raw
	}
	return env, nil
}
