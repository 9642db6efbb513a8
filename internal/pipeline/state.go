package pipeline

import "fmt"

// State is the pipeline's position in the job lifecycle. Transitions are
// strictly forward along the operation's stage order; the only lateral move
// is into Failed, which every state may take.
type State string

const (
	StateInitialized State = "initialized"
	StateDumping     State = "dumping"
	StateArchiving   State = "archiving"
	StateUploading   State = "uploading"
	StateVerifying   State = "verifying"
	StateReporting   State = "reporting"

	StateDownloading State = "downloading"
	StateExtracting  State = "extracting"
	StateRestoring   State = "restoring"

	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// validTransitions covers both the backup and the restore stage orders.
var validTransitions = map[State][]State{
	StateInitialized: {StateDumping, StateDownloading},
	StateDumping:     {StateArchiving},
	StateArchiving:   {StateUploading},
	StateUploading:   {StateVerifying},
	StateVerifying:   {StateReporting},
	StateReporting:   {StateCompleted},

	StateDownloading: {StateExtracting},
	StateExtracting:  {StateRestoring},
	StateRestoring:   {StateReporting},
}

// canTransition reports whether from→to is a legal move.
func canTransition(from, to State) bool {
	if to == StateFailed {
		return from != StateCompleted && from != StateFailed
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s is an end state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func (s State) String() string { return string(s) }

// invalidTransitionError marks a pipeline programming error, not a job
// failure.
func invalidTransitionError(from, to State) error {
	return fmt.Errorf("invalid pipeline transition %s -> %s", from, to)
}
