package hydration

import "fmt"

// State is a step of the hydration state machine.
type State uint8

const (
	// StateIdle means no wallet is hydrated.
	StateIdle State = iota

	// StateChecking means the metadata record is being fetched.
	StateChecking

	// StateFastPath means the wallet is being restored from a complete
	// record without prompting the user.
	StateFastPath

	// StateFullPath means a signature is requested (unless cached) and
	// the wallet is loaded, restored or created.
	StateFullPath

	// StateReady means the privacy wallet is loaded.
	StateReady

	// StateFailed means the last hydration failed.
	StateFailed
)

// String returns a human readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateChecking:
		return "Checking"
	case StateFastPath:
		return "FastPath"
	case StateFullPath:
		return "FullPath"
	case StateReady:
		return "Ready"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}
