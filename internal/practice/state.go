package practice

// Mode is the kind of the current session state.
type Mode int

const (
	ModeIdle Mode = iota
	ModeBreak
	ModeActive
	ModePaused
	ModeFocused
)

func (m Mode) String() string {
	switch m {
	case ModeBreak:
		return "break"
	case ModeActive:
		return "active"
	case ModePaused:
		return "paused"
	case ModeFocused:
		return "focused"
	default:
		return "idle"
	}
}

// State is the session state. It is one of Idle, BreakCountdown, Active,
// Paused or Focused.
type State interface {
	Mode() Mode
	isState()
}

// Idle means no training cycle is running.
type Idle struct{}

// BreakCountdown is the rest before Target starts. Beat counts the cues
// played so far, 1 through 6.
type BreakCountdown struct {
	Target PhaseKey
	Beat   int
}

// Active is a repetition in progress.
type Active struct {
	Phase      PhaseKey
	Repetition int
}

// Paused holds the state to resume: an Active or a BreakCountdown.
type Paused struct {
	Prior State
}

// Focused loops the current segment without counting repetitions.
type Focused struct {
	Phase      PhaseKey
	Repetition int
}

func (Idle) Mode() Mode           { return ModeIdle }
func (BreakCountdown) Mode() Mode { return ModeBreak }
func (Active) Mode() Mode         { return ModeActive }
func (Paused) Mode() Mode         { return ModePaused }
func (Focused) Mode() Mode        { return ModeFocused }

func (Idle) isState()           {}
func (BreakCountdown) isState() {}
func (Active) isState()         {}
func (Paused) isState()         {}
func (Focused) isState()        {}

// pausedActive reports whether s is Paused with an Active prior.
func pausedActive(s State) (Active, bool) {
	if p, ok := s.(Paused); ok {
		a, ok := p.Prior.(Active)
		return a, ok
	}
	return Active{}, false
}
