// Package protocol holds the topic naming convention and QoS levels of the call protocol.
//
// Topic layout:
//
//	call/request/{serverName}   caller → server, subscribed at QoS 1
//	call/response/{clientId}    server → caller
//
// The response topic is derived only from the request payload's client.id,
// never from the sender's own connection.
package protocol

import (
	"fmt"
	"strings"
)

const (
	RequestPrefix  = "call/request/"
	ResponsePrefix = "call/response/"
)

// QoS is the MQTT delivery quality level.
type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2
)

// RequestQoS is the level the server subscribes to its request topic with.
const RequestQoS = AtLeastOnce

// RequestTopic returns the inbound topic of the named server.
func RequestTopic(serverName string) string {
	return RequestPrefix + serverName
}

// ResponseTopic returns the outbound topic for a caller id.
func ResponseTopic(clientID string) string {
	return ResponsePrefix + clientID
}

// ValidateName checks that s can be used as a single topic level.
// MQTT wildcards and level separators would let a name address other topics.
func ValidateName(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%s must not be empty", kind)
	}
	if strings.ContainsAny(s, "/+#\x00") {
		return fmt.Errorf("%s %q must not contain '/', '+', '#' or NUL", kind, s)
	}
	return nil
}
