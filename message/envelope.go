package message

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is a request object as received, before its fields are type-checked.
// The client id and token are read from it first so that a badly typed service
// or params can still be answered.
type Envelope map[string]json.RawMessage

// FieldError reports an envelope field holding the wrong JSON type.
type FieldError struct {
	Field string
	Want  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("Field '%s' must be %s", e.Field, e.Want)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), null)
}

func (e Envelope) client() map[string]json.RawMessage {
	var client map[string]json.RawMessage
	if raw, ok := e["client"]; ok {
		// Anything but an object leaves client nil.
		_ = json.Unmarshal(raw, &client)
	}
	return client
}

// ClientID returns client.id and whether it can address a response topic.
// Strings are used as is and numbers in their literal form; any other type,
// or an empty string, makes the request unanswerable.
func (e Envelope) ClientID() (string, bool) {
	raw, ok := e.client()["id"]
	if !ok {
		return "", false
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, id != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// Token returns client.request verbatim, or JSON null when absent.
func (e Envelope) Token() json.RawMessage {
	if raw, ok := e.client()["request"]; ok && len(raw) > 0 {
		return raw
	}
	return null
}

// Request type-checks service and params. Absent or null fields stay nil and
// are reported later as missing.
func (e Envelope) Request() (*Request, error) {
	id, _ := e.ClientID()
	req := &Request{Client: &ClientInfo{ID: id, Request: e.Token()}}
	if raw, ok := e["service"]; ok && !isNull(raw) {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, &FieldError{Field: "service", Want: "a string"}
		}
		req.Service = &name
	}
	if raw, ok := e["params"]; ok && !isNull(raw) {
		var params map[string]json.RawMessage
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &FieldError{Field: "params", Want: "an object"}
		}
		req.Params = params
	}
	return req, nil
}
