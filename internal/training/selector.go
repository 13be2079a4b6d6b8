package training

// Candidate is an evaluated checkpoint.
type Candidate struct {
	Step       int
	WER        float64
	Checkpoint string
}

// Selector keeps the lowest-WER candidate. On ties the earlier one wins.
// It is not safe for concurrent use.
type Selector struct {
	best *Candidate
	seen int
}

// Observe records a candidate and reports whether it became the best.
func (s *Selector) Observe(c Candidate) bool {
	s.seen++
	if s.best != nil && c.WER >= s.best.WER {
		return false
	}
	cp := c
	s.best = &cp
	return true
}

// Best returns the best candidate so far.
func (s *Selector) Best() (Candidate, bool) {
	if s.best == nil {
		return Candidate{}, false
	}
	return *s.best, true
}

// Seen returns how many candidates were observed.
func (s *Selector) Seen() int {
	return s.seen
}
