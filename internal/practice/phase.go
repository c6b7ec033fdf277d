package practice

import "fmt"

// PhaseKey identifies one of the four training phases.
type PhaseKey int

const (
	PhaseA PhaseKey = iota
	PhaseB
	PhaseC
	PhaseD
)

// NumPhases is the number of phases in a cycle.
const NumPhases = 4

const (
	MinSpeedPercent = 50
	MaxSpeedPercent = 150
	// DestinationSpeed is the fixed speed of phase D.
	DestinationSpeed = 100
)

var phaseNames = [NumPhases]string{"Attention", "Base", "Challenge", "Destination"}

func (k PhaseKey) String() string {
	if k < PhaseA || k > PhaseD {
		return fmt.Sprintf("PhaseKey(%d)", int(k))
	}
	return string(rune('A' + int(k)))
}

// Name returns the display name of the phase.
func (k PhaseKey) Name() string {
	if k < PhaseA || k > PhaseD {
		return k.String()
	}
	return phaseNames[k]
}

// Next returns the successor phase, or false for D.
func (k PhaseKey) Next() (PhaseKey, bool) {
	if k >= PhaseD {
		return k, false
	}
	return k + 1, true
}

// ParsePhaseKey accepts "A".."D" in either case.
func ParsePhaseKey(s string) (PhaseKey, error) {
	if len(s) == 1 {
		c := s[0] | 0x20
		if c >= 'a' && c <= 'd' {
			return PhaseKey(c - 'a'), nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// PhaseConfig is the plan for one phase.
type PhaseConfig struct {
	Key          PhaseKey
	Repetitions  int
	SpeedPercent int
}

// Rate returns the playback speed ratio.
func (c PhaseConfig) Rate() float64 {
	return float64(c.SpeedPercent) / 100
}

// Phases is the full plan, indexed by PhaseKey.
type Phases [NumPhases]PhaseConfig

// DefaultPhases returns three repetitions at 70%, 85%, 105% and 100%.
func DefaultPhases() Phases {
	return Phases{
		{Key: PhaseA, Repetitions: 3, SpeedPercent: 70},
		{Key: PhaseB, Repetitions: 3, SpeedPercent: 85},
		{Key: PhaseC, Repetitions: 3, SpeedPercent: 105},
		{Key: PhaseD, Repetitions: 3, SpeedPercent: DestinationSpeed},
	}
}

// normalize clamps a config into its valid range.
func (c PhaseConfig) normalize() PhaseConfig {
	if c.Repetitions < 1 {
		c.Repetitions = 1
	}
	switch {
	case c.Key == PhaseD:
		c.SpeedPercent = DestinationSpeed
	case c.SpeedPercent < MinSpeedPercent:
		c.SpeedPercent = MinSpeedPercent
	case c.SpeedPercent > MaxSpeedPercent:
		c.SpeedPercent = MaxSpeedPercent
	}
	return c
}

// Normalize returns p with every phase clamped and keyed by position.
func (p Phases) Normalize() Phases {
	for i := range p {
		p[i].Key = PhaseKey(i)
		p[i] = p[i].normalize()
	}
	return p
}

// TotalRepetitions sums the repetitions of every phase.
func (p Phases) TotalRepetitions() int {
	n := 0
	for _, c := range p {
		n += c.Repetitions
	}
	return n
}

// repetitionsBefore sums the repetitions of the phases preceding k.
func (p Phases) repetitionsBefore(k PhaseKey) int {
	n := 0
	for i := PhaseA; i < k; i++ {
		n += p[i].Repetitions
	}
	return n
}
