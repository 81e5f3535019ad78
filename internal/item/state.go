package item

// State is the position of an item in the per-item state machine.
type State string

// Item states, in pipeline order. StateFailed is terminal and may follow any other state.
const (
	StateClaimed        State = "claimed"
	StateSanityChecked  State = "sanity_checked"
	StateWorkspaceReady State = "workspace_ready"
	StateFetched        State = "fetched"
	StateFinalized      State = "finalized"
	StateAnnotated      State = "annotated"
	StateDelivered      State = "delivered"
	StateReported       State = "reported"
	StateReleased       State = "released"
	StateFailed         State = "failed"
)

var sequence = []State{
	StateClaimed,
	StateSanityChecked,
	StateWorkspaceReady,
	StateFetched,
	StateFinalized,
	StateAnnotated,
	StateDelivered,
	StateReported,
	StateReleased,
}

// Next returns the state that follows s, or "" when s is terminal.
func (s State) Next() State {
	for i, st := range sequence[:len(sequence)-1] {
		if st == s {
			return sequence[i+1]
		}
	}
	return ""
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateReleased || s == StateFailed
}

// CanAdvance reports whether moving from s to next is a legal transition.
func (s State) CanAdvance(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	return s.Next() == next
}
