package loop

// Threshold is how far before the effective end a crossing is reported, in
// seconds. Position updates arrive coarsely so the end itself may be skipped.
const Threshold = 0.1

// Monitor turns a stream of position samples into single boundary events.
// It is not safe for concurrent use; the engine calls it under its lock.
type Monitor struct {
	fired bool
}

// Observe reports true exactly once per crossing of end-Threshold. It re-arms
// when the position drops back below the threshold.
func (m *Monitor) Observe(position, end float64) bool {
	if position >= end-Threshold {
		if m.fired {
			return false
		}
		m.fired = true
		return true
	}
	m.fired = false
	return false
}

// Reset re-arms the monitor, e.g. after a rewind that the next sample may not
// observe.
func (m *Monitor) Reset() {
	m.fired = false
}
