// Package podstate implements the pod's operational state machine: the
// enumeration of states a pod may occupy, the legal transition graph
// between them, and the pure decision function the UDP session uses to
// classify an operator's requested transition.
package podstate

import "fmt"

// PodState is the pod's current operating mode, as announced on the CAN
// bus and mirrored to the operator. Each value has a single-byte wire
// encoding equal to its numeric value.
type PodState uint8

const (
	Startup PodState = iota
	LowVoltage
	Armed
	AutoPilot
	Braking
	EmergencyBrake
	SystemFailure
)

var stateNames = map[PodState]string{
	Startup:        "STARTUP",
	LowVoltage:     "LOW_VOLTAGE",
	Armed:          "ARMED",
	AutoPilot:      "AUTOPILOT",
	Braking:        "BRAKING",
	EmergencyBrake: "EMERGENCY_BRAKE",
	SystemFailure:  "SYSTEM_FAILURE",
}

func (s PodState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// ToByte returns the wire encoding of a PodState.
func (s PodState) ToByte() byte { return byte(s) }

// FromByte decodes a wire byte into a PodState. Any byte outside the
// defined domain decodes to SystemFailure, the safest assumption for an
// unrecognized state code coming off the bus.
func FromByte(b byte) PodState {
	s := PodState(b)
	if _, ok := stateNames[s]; ok {
		return s
	}
	return SystemFailure
}

// IsErrorState reports whether s is one of the two terminal fault states.
func (s PodState) IsErrorState() bool {
	return s == EmergencyBrake || s == SystemFailure
}

// transitions is the fixed directed transition graph the device expects.
// Self-transitions are deliberately absent: they are handled as no-op
// heartbeats by the decision table in Decide, never as a move.
var transitions = map[PodState]map[PodState]bool{
	Startup:        {LowVoltage: true},
	LowVoltage:     {Armed: true},
	Armed:          {LowVoltage: true, AutoPilot: true},
	AutoPilot:      {Braking: true},
	Braking:        {LowVoltage: true, Armed: true},
	EmergencyBrake: {},
	SystemFailure:  {},
}

// CanTransitionTo reports whether the device graph allows a direct move
// from s to next. Self-transitions are never legal moves under this
// predicate; they are handled upstream as heartbeats.
func (s PodState) CanTransitionTo(next PodState) bool {
	return transitions[s][next]
}

// Action is the outcome of evaluating an operator's requested transition
// against the current/pending state pair, per spec §4.2's decision table.
type Action int

const (
	// ActionIgnore means the request was silently dropped (pod is in an
	// error state and only emits recovery telemetry).
	ActionIgnore Action = iota
	// ActionHeartbeat means the request matches the in-flight or settled
	// state and merely advances the telemetry watermark.
	ActionHeartbeat
	// ActionBegin means a new transition should be kicked off: send
	// ChangeState(target) to the CAN task.
	ActionBegin
	// ActionInvalid means the request is illegal and must force Recovery.
	ActionInvalid
)

// InvalidReason explains why Decide returned ActionInvalid, for the
// errno the UDP session reports to the operator.
type InvalidReason int

const (
	ReasonNone InvalidReason = iota
	ReasonTransitionAlreadyInFlight
	ReasonIllegalTransition
	ReasonConflictingTarget
)

func (r InvalidReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonTransitionAlreadyInFlight:
		return "transition_already_in_flight"
	case ReasonIllegalTransition:
		return "illegal_transition"
	case ReasonConflictingTarget:
		return "conflicting_target"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Decide implements the transition decision table from spec §4.2. current
// is the committed PodState, pending is the in-flight target (equal to
// current when no transition is outstanding), and requested is the
// operator's DesktopStateMessage.requested_state.
//
// Decide is pure: no I/O, so it can be exhaustively table-tested.
func Decide(current, pending, requested PodState) (Action, PodState, InvalidReason) {
	if current.IsErrorState() {
		return ActionIgnore, pending, ReasonNone
	}

	switch {
	case requested == current && pending == current:
		return ActionHeartbeat, pending, ReasonNone

	case requested == current && pending != current:
		return ActionInvalid, pending, ReasonTransitionAlreadyInFlight

	case requested != current && !current.CanTransitionTo(requested):
		return ActionInvalid, pending, ReasonIllegalTransition

	case requested != current && requested == pending:
		return ActionHeartbeat, pending, ReasonNone

	case requested != current && pending == current:
		return ActionBegin, requested, ReasonNone

	default:
		// requested != current && pending != current && requested != pending
		return ActionInvalid, pending, ReasonConflictingTarget
	}
}

// SessionState is the server's view of the operator link.
type SessionState int

const (
	SessionStartup SessionState = iota
	SessionDisconnected
	SessionConnected
	SessionRecovery
)

func (s SessionState) String() string {
	switch s {
	case SessionStartup:
		return "STARTUP"
	case SessionDisconnected:
		return "DISCONNECTED"
	case SessionConnected:
		return "CONNECTED"
	case SessionRecovery:
		return "RECOVERY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Errno is the wire value reported to the operator describing why a
// session is in (or headed to) Recovery.
type Errno uint8

const (
	NoError Errno = iota
	GeneralPodFailure
	InvalidTransitionRequest
	ControllerTimeout
)
