// Package codec turns broker payloads into envelopes and envelopes back into payloads.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"mqtt-call/message"
)

var (
	ErrInvalidUTF8 = errors.New("payload is not valid UTF-8")
	ErrNotObject   = errors.New("payload is not a JSON object")
)

// DecodeRequest decodes a payload as UTF-8 text holding a JSON object.
// Field types are not checked here: once the client id is known, a badly typed
// field is answered with an error reply instead of being dropped.
func DecodeRequest(payload []byte) (message.Envelope, error) {
	if !utf8.Valid(payload) {
		return nil, ErrInvalidUTF8
	}
	// null would decode into a nil map without error.
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	var env message.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return env, nil
}

// EncodeResponse serializes a response envelope.
func EncodeResponse(resp *message.Response) ([]byte, error) {
	return json.Marshal(resp)
}

// EncodeRequest serializes a request envelope.
func EncodeRequest(req *message.Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeResponse decodes a reply published on a response topic.
func DecodeResponse(payload []byte) (*message.Response, error) {
	resp := &message.Response{}
	if err := json.Unmarshal(payload, resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
