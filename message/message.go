// Package message defines the JSON envelopes exchanged between callers and the server.
//
// A caller publishes a Request to call/request/{server}; the server answers with a
// Response on call/response/{client.id}. The Request's client.request token is
// echoed back verbatim so a caller can match replies on a shared response topic.
package message

import (
	"bytes"
	"encoding/json"
)

// Request is the inbound call envelope.
//
// Every field is optional at decode time. A missing service or params is reported
// back to the caller as an error response; a missing client makes the request
// unanswerable because the response topic is derived from client.id.
type Request struct {
	Service *string                    `json:"service,omitempty"`
	Params  map[string]json.RawMessage `json:"params,omitempty"`
	Client  *ClientInfo                `json:"client,omitempty"`
}

// ClientInfo identifies the caller and its correlation token.
type ClientInfo struct {
	ID      string          `json:"id"`
	Request json.RawMessage `json:"request"` // Opaque token, any JSON value
}

// ErrorBody is the error payload of a failed call.
type ErrorBody struct {
	Message string `json:"message"`
}

// Response is the outbound reply envelope. Exactly one of Result or Error is set.
type Response struct {
	Result  json.RawMessage // Encoded result value
	Error   *ErrorBody
	Request json.RawMessage // Echoed correlation token
}

var null = json.RawMessage("null")

// Token returns the correlation token of the request, or JSON null when absent.
func (r *Request) Token() json.RawMessage {
	if r == nil || r.Client == nil || len(r.Client.Request) == 0 {
		return null
	}
	return r.Client.Request
}

// ClientID returns the caller id, or "" when the request carries none.
func (r *Request) ClientID() string {
	if r == nil || r.Client == nil {
		return ""
	}
	return r.Client.ID
}

// ServiceName returns the requested service name, or "" when absent.
func (r *Request) ServiceName() string {
	if r == nil || r.Service == nil {
		return ""
	}
	return *r.Service
}

// Result builds a successful response carrying an already encoded value.
func Result(value json.RawMessage) *Response {
	if len(value) == 0 {
		value = null
	}
	return &Response{Result: value}
}

// Error builds a failed response with the given message.
func Error(msg string) *Response {
	return &Response{Error: &ErrorBody{Message: msg}}
}

// Failed reports whether the response carries an error.
func (r *Response) Failed() bool {
	return r.Error != nil
}

// MarshalJSON writes {"result":…,"request":…} or {"error":{…},"request":…}.
// The result key is always present on success, even for a null result.
func (r Response) MarshalJSON() ([]byte, error) {
	token := r.Request
	if len(token) == 0 {
		token = null
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	if r.Error != nil {
		body, err := json.Marshal(r.Error)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`"error":`)
		buf.Write(body)
	} else {
		result := r.Result
		if len(result) == 0 {
			result = null
		}
		if !json.Valid(result) {
			return nil, &json.UnsupportedValueError{Str: string(result)}
		}
		buf.WriteString(`"result":`)
		buf.Write(result)
	}
	buf.WriteString(`,"request":`)
	buf.Write(token)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON is used by callers reading replies.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw struct {
		Result  json.RawMessage `json:"result"`
		Error   *ErrorBody      `json:"error"`
		Request json.RawMessage `json:"request"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Result = raw.Result
	r.Error = raw.Error
	r.Request = raw.Request
	return nil
}
