package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopics(t *testing.T) {
	assert.Equal(t, "call/request/kitchen", RequestTopic("kitchen"))
	assert.Equal(t, "call/response/abc", ResponseTopic("abc"))
	assert.Equal(t, QoS(1), RequestQoS)
}

func TestValidateName(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"kitchen", true},
		{"sensor-01", true},
		{"", false},
		{"a/b", false},
		{"a+", false},
		{"#", false},
	}
	for _, tc := range cases {
		err := ValidateName("server name", tc.name)
		if tc.ok {
			assert.NoError(t, err, tc.name)
		} else {
			assert.Error(t, err, tc.name)
		}
	}
}
