package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalEdge(t *testing.T) {
	s := NewSignal()
	assert.False(t, s.Pending())

	s.Raise()
	s.Raise() // coalesces
	assert.True(t, s.Pending())

	<-s.C()
	assert.False(t, s.Pending())

	select {
	case <-s.C():
		t.Fatal("observed an edge twice")
	default:
	}

	s.Raise()
	assert.True(t, s.Pending())
}
