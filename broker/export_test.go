package broker

// Pending reports whether an edge is raised and not yet observed.
func (s *Signal) Pending() bool {
	return len(s.ch) > 0
}
