package presence

// Smoother exponentially smooths a face box so an overlay can follow the
// face without jitter: new = old + alpha*(target-old).
type Smoother struct {
	alpha float64
	value Box
	set   bool
}

// NewSmoother creates a smoother with the given factor in (0, 1].
func NewSmoother(alpha float64) *Smoother {
	return &Smoother{alpha: alpha}
}

// Update moves the smoothed box toward target. The first sample is taken as is.
func (s *Smoother) Update(target Box) Box {
	if !s.set {
		s.value = target
		s.set = true
		return s.value
	}
	s.value.X += s.alpha * (target.X - s.value.X)
	s.value.Y += s.alpha * (target.Y - s.value.Y)
	s.value.Width += s.alpha * (target.Width - s.value.Width)
	s.value.Height += s.alpha * (target.Height - s.value.Height)
	return s.value
}

// Value returns the current box and whether any sample was seen.
func (s *Smoother) Value() (Box, bool) {
	return s.value, s.set
}

// Reset forgets the current position.
func (s *Smoother) Reset() {
	s.value = Box{}
	s.set = false
}
