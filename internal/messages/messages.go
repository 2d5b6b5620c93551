// Package messages defines the typed messages passed between the
// server's concurrent tasks (TCP Acceptor, UDP Session, CAN Bus,
// Telemetry Aggregator) over Go channels. Each message family is a
// tagged union expressed as a marker-method interface, the idiomatic Go
// analogue of the original program's enum-based channel messages. Every
// channel in the server is single-producer/single-consumer; this
// package only defines the payloads, not the wiring (see
// internal/server).
package messages

import (
	"time"

	"github.com/waterloop/podserver/internal/cancodec"
	"github.com/waterloop/podserver/internal/podstate"
)

// UDPInboundEvent is the UDP Session task's single inbox, fed by the TCP
// Acceptor, the CAN Bus task, the Telemetry Aggregator, and the
// server's own startup sequencing. Drained non-blockingly after every
// UDP read per spec §4.3.
type UDPInboundEvent interface{ isUDPInboundEvent() }

// ConnectToHost is sent by the TCP Acceptor on a successful CONNECT
// handshake; while SessionState is Disconnected this binds the UDP peer.
type ConnectToHost struct{ Addr string }

// DisconnectFromHost is sent by the TCP Acceptor on DISCONNECT; drops
// the bound peer and moves SessionState to Recovery.
type DisconnectFromHost struct{}

// StartupComplete advances SessionState from Startup to Disconnected.
// Sent once by the server's task runner after all tasks are up.
type StartupComplete struct{}

// PodStateChanged is sent by the CAN Bus task to report a PodState the
// UDP Session should reflect as current: either a committed BMS ack
// (State is the newly-committed target), or an observed pod-level fault
// report, in which case State.IsErrorState() is true and the session
// must force Recovery per spec §7.
type PodStateChanged struct{ State podstate.PodState }

// StateChangeNacked is sent by the CAN Bus task when the BMS nacks an
// outstanding ChangeState request. Distinct from PodStateChanged
// because a Nack carries no valid PodState of its own (spec §4.2 "Ack
// application"); the session forces Recovery with GeneralPodFailure.
type StateChangeNacked struct{}

// TelemetryDataAvailable is sent by the Telemetry Aggregator whenever
// new sensor data replaces the live PodData snapshot.
type TelemetryDataAvailable struct {
	Data      cancodec.PodData
	Timestamp time.Time
}

func (ConnectToHost) isUDPInboundEvent()          {}
func (DisconnectFromHost) isUDPInboundEvent()     {}
func (StartupComplete) isUDPInboundEvent()        {}
func (PodStateChanged) isUDPInboundEvent()        {}
func (StateChangeNacked) isUDPInboundEvent()      {}
func (TelemetryDataAvailable) isUDPInboundEvent() {}

// TCPInboundEvent is the TCP Acceptor's cross-task inbox, drained before
// every accept per spec §4.6.
type TCPInboundEvent interface{ isTCPInboundEvent() }

// EnteringRecovery is sent when the UDP session trips into Recovery on
// its own (operator silence, an invalid request, a nack or a pod fault),
// so the acceptor refuses further CONNECT attempts. A Recovery caused by
// DisconnectFromHost is not echoed back: the acceptor has already moved
// itself to Recovery.
type EnteringRecovery struct{}

// RecoveryComplete would move the acceptor back to accepting CONNECT
// attempts; per spec §9(b) Recovery is session-terminal in this
// implementation, so nothing currently sends this, but the task inbox
// honors it as forward-compatible wire protocol.
type RecoveryComplete struct{}

func (EnteringRecovery) isTCPInboundEvent() {}
func (RecoveryComplete) isTCPInboundEvent() {}

// StartupComplete also satisfies TCPInboundEvent: the server's task
// runner sends the same message to both the UDP Session and the TCP
// Acceptor so neither accepts operator traffic before startup finishes
// (spec §4.6 "CONNECT in Startup ⇒ fatal").
func (StartupComplete) isTCPInboundEvent() {}

// ChangeState is sent by the UDP Session to the CAN Bus task to begin a
// pod state transition (spec §4.2 "Begin" action).
type ChangeState struct{ Target podstate.PodState }

// CANEvent flows from the CAN Bus task to the Telemetry Aggregator:
// every decoded frame, tagged with the wall-clock time it was read.
type CANEvent struct {
	Command   cancodec.CanCommand
	Timestamp time.Time
}
