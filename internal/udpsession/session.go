// Package udpsession implements the UDP Session task (spec §4.3): the
// pod-state machine's owner, and the operator's telemetry/command
// dialog. The decision logic in this file is kept free of socket I/O so
// it can be driven directly by tests, per the "worker-state threading"
// design note — each tick threads a single Session value through a pure
// step function, mirroring internal/podstate.Decide.
package udpsession

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/waterloop/podserver/internal/cancodec"
	"github.com/waterloop/podserver/internal/messages"
	"github.com/waterloop/podserver/internal/podstate"
)

// DefaultReadTimeout is T_udp from spec §4.3.
const DefaultReadTimeout = 6 * time.Second

// DefaultMaxTimeouts is max_udp_timeouts from spec §4.3.
const DefaultMaxTimeouts = 10

// Effects is what a Session step wants the I/O loop to do besides
// updating its own state: at most one CAN ChangeState request, and at
// most one recovery announcement to the TCP Acceptor.
type Effects struct {
	ChangeStateTo   *podstate.PodState
	EnteredRecovery bool
}

func (e *Effects) setChangeState(target podstate.PodState) { e.ChangeStateTo = &target }

// Session is the UDP task's per-tick state.
type Session struct {
	log *logrus.Entry

	State podstate.SessionState

	Current podstate.PodState
	Next    podstate.PodState
	Errno   podstate.Errno

	PeerAddr string

	MaxTimeouts  int
	timeoutCount int

	lastSentTelemetryTS time.Time
	currentTelemetryTS  time.Time
	currentTelemetry    cancodec.PodData
	haveTelemetry       bool
}

// NewSession constructs a Session in its initial Startup state, pod
// state LowVoltage (spec §3).
func NewSession(maxTimeouts int) *Session {
	if maxTimeouts <= 0 {
		maxTimeouts = DefaultMaxTimeouts
	}
	return &Session{
		log:         logrus.WithField("service", "udpsession"),
		State:       podstate.SessionStartup,
		Current:     podstate.LowVoltage,
		Next:        podstate.LowVoltage,
		Errno:       podstate.NoError,
		MaxTimeouts: maxTimeouts,
	}
}

// enterRecovery moves the session into Recovery without dropping the
// bound peer: §7 requires the operator to keep receiving
// PodStateMessages (with errno/recovery set) so the failure can be
// reported. Only an explicit DISCONNECT clears PeerAddr.
func (s *Session) enterRecovery(errno podstate.Errno, reason string) Effects {
	s.log.WithField("reason", reason).Warn("entering recovery")
	s.State = podstate.SessionRecovery
	s.Errno = errno
	return Effects{EnteredRecovery: true}
}

// ApplyDesktopMessage implements spec §4.2's decision table for one
// operator request, and records the operator's echoed timestamp as the
// new telemetry watermark (§4.3 "Telemetry attachment").
func (s *Session) ApplyDesktopMessage(msg DesktopStateMessage) Effects {
	s.timeoutCount = 0
	s.lastSentTelemetryTS = time.Time(msg.MostRecentTimestamp)

	if s.State != podstate.SessionConnected {
		return Effects{}
	}

	requested := podstate.FromByte(msg.RequestedState)
	action, next, reason := podstate.Decide(s.Current, s.Next, requested)
	s.Next = next

	switch action {
	case podstate.ActionHeartbeat, podstate.ActionIgnore:
		return Effects{}
	case podstate.ActionBegin:
		eff := Effects{}
		eff.setChangeState(next)
		return eff
	case podstate.ActionInvalid:
		return s.enterRecovery(podstate.InvalidTransitionRequest, reason.String())
	default:
		return Effects{}
	}
}

// ApplyTimeout implements spec §4.3's tick policy on a UDP read timeout.
func (s *Session) ApplyTimeout() Effects {
	if s.State != podstate.SessionConnected {
		return Effects{}
	}
	s.timeoutCount++
	if s.timeoutCount >= s.MaxTimeouts {
		return s.enterRecovery(podstate.ControllerTimeout, "operator silence")
	}
	return Effects{}
}

// ApplyInboundEvent implements spec §4.3's inbound fan-in.
func (s *Session) ApplyInboundEvent(event messages.UDPInboundEvent) Effects {
	switch e := event.(type) {
	case messages.StartupComplete:
		if s.State == podstate.SessionStartup {
			s.State = podstate.SessionDisconnected
		}
		return Effects{}

	case messages.ConnectToHost:
		if s.State == podstate.SessionDisconnected {
			s.PeerAddr = e.Addr
			s.State = podstate.SessionConnected
			s.timeoutCount = 0
		}
		return Effects{}

	case messages.DisconnectFromHost:
		s.PeerAddr = ""
		s.State = podstate.SessionRecovery
		return Effects{}

	case messages.PodStateChanged:
		s.Current = e.State
		if e.State.IsErrorState() {
			return s.enterRecovery(podstate.GeneralPodFailure, "pod-reported error state")
		}
		return Effects{}

	case messages.StateChangeNacked:
		return s.enterRecovery(podstate.GeneralPodFailure, "state-change nacked")

	case messages.TelemetryDataAvailable:
		s.currentTelemetry = e.Data
		// Held in UTC at the wire's microsecond precision, so the
		// operator's echo of this timestamp compares equal to it.
		s.currentTelemetryTS = e.Timestamp.UTC().Truncate(time.Microsecond)
		s.haveTelemetry = true
		return Effects{}

	default:
		return Effects{}
	}
}

// BuildOutboundMessage constructs the per-tick PodStateMessage, applying
// the telemetry-suppression rule from spec §4.3: telemetry is attached
// iff a strictly newer snapshot has arrived than the one the operator
// last acked.
func (s *Session) BuildOutboundMessage() PodStateMessage {
	msg := PodStateMessage{
		CurrentState:       s.Current.ToByte(),
		NextState:          s.Next.ToByte(),
		Errno:              uint8(s.Errno),
		Recovery:           s.State == podstate.SessionRecovery,
		TelemetryTimestamp: NaiveTimestamp(s.currentTelemetryTS),
	}
	if s.haveTelemetry && s.currentTelemetryTS.After(s.lastSentTelemetryTS) {
		telemetry := toTelemetryJSON(s.currentTelemetry)
		msg.Telemetry = &telemetry
	}
	return msg
}
