package importing

// State is a phase of the import state machine.
type State string

const (
	StateIdle               State = "idle"
	StateParsing            State = "parsing"
	StateReviewing          State = "reviewing"
	StateCheckingDuplicates State = "checking-duplicates"
	StateImporting          State = "importing"
	StateComplete           State = "complete"
	StateError              State = "error"
)

// transitions lists the legal successors of each state.  Every non-terminal
// state may also fail into StateError.
var transitions = map[State][]State{
	StateIdle:               {StateParsing},
	StateParsing:            {StateReviewing},
	StateReviewing:          {StateCheckingDuplicates},
	StateCheckingDuplicates: {StateImporting},
	StateImporting:          {StateComplete},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateError {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateError
}

// IsValid checks if the State is known.
func (s State) IsValid() bool {
	switch s {
	case StateIdle, StateParsing, StateReviewing, StateCheckingDuplicates,
		StateImporting, StateComplete, StateError:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// Progress percentages reported on entering each state.  Parsing moves from
// ProgressParsing to ProgressParsed as classification and extraction finish;
// importing moves from ProgressImporting to ProgressComplete per record.
const (
	ProgressIdle       = 0
	ProgressParsing    = 10
	ProgressClassified = 20
	ProgressParsed     = 60
	ProgressReviewing  = 70
	ProgressChecking   = 80
	ProgressImporting  = 90
	ProgressComplete   = 100
)

//Personal.AI order the ending
