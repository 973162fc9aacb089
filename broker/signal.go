package broker

// Signal is an edge-triggered event. Raise sets it, a receive from C clears it.
// Raising an already pending signal coalesces into the pending edge; raising
// after it was observed always produces a new edge.
type Signal struct {
	ch chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Raise sets the signal without blocking.
func (s *Signal) Raise() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C returns the channel that yields one value per observed edge.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}
