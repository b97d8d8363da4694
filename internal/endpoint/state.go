package endpoint

// State describes where the Resolver got its current endpoint from.
type State int

const (
	// StateUnresolved means no endpoint has been applied yet. The
	// Resolver leaves this state during construction.
	StateUnresolved State = iota

	// StateDefaultSet means the hardcoded fallback is current.
	StateDefaultSet

	// StateDiscovering means a discovery session is browsing but has not
	// resolved a peer yet; the previous endpoint remains current.
	StateDiscovering

	// StateResolved means the endpoint came from a discovery resolution.
	StateResolved

	// StateManualOverride means an operator set the endpoint explicitly.
	StateManualOverride
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateDefaultSet:
		return "default"
	case StateDiscovering:
		return "discovering"
	case StateResolved:
		return "resolved"
	case StateManualOverride:
		return "manual"
	default:
		return "unknown"
	}
}

// Event drives resolver state transitions.
type Event int

const (
	// EventDefaultApplied fires once at construction when the fallback
	// endpoint is installed.
	EventDefaultApplied Event = iota

	// EventDiscoveryStarted fires when a browse session begins.
	EventDiscoveryStarted

	// EventServiceResolved fires on each successful discovery resolution.
	EventServiceResolved

	// EventManualUpdate fires on an explicit operator update.
	EventManualUpdate
)

func (e Event) String() string {
	switch e {
	case EventDefaultApplied:
		return "default-applied"
	case EventDiscoveryStarted:
		return "discovery-started"
	case EventServiceResolved:
		return "service-resolved"
	case EventManualUpdate:
		return "manual-update"
	default:
		return "unknown"
	}
}

// transition is the pure state function. Side effects (replacing the
// endpoint, logging) live in the Resolver, which makes the state machine
// testable without a network.
//
// Manual updates take effect from any state. A discovery resolution also
// applies after a manual override: resolutions are not suppressed, so a
// later-completing resolution overwrites an override. That mirrors the
// receiver pairing behavior this agent talks to and is deliberately not
// "fixed" here.
func transition(s State, e Event) State {
	switch e {
	case EventManualUpdate:
		return StateManualOverride
	case EventServiceResolved:
		return StateResolved
	case EventDiscoveryStarted:
		if s == StateDefaultSet || s == StateUnresolved {
			return StateDiscovering
		}
		// Already resolved or overridden: keep the stronger state, the
		// session still runs and may resolve later.
		return s
	case EventDefaultApplied:
		if s == StateUnresolved {
			return StateDefaultSet
		}
		return s
	default:
		return s
	}
}
