package canbus

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/waterloop/podserver/internal/cancodec"
	"github.com/waterloop/podserver/internal/messages"
	"github.com/waterloop/podserver/internal/podstate"
)

// DefaultReadTimeout is T_can from spec §4.3/§4.4: a tick with no frame
// observed is logged, not fatal.
const DefaultReadTimeout = 10 * time.Second

// frameQueueDepth bounds the internal queue fed by the Bus's receive
// callback; a full queue drops the oldest-pending frame rather than
// blocking the Bus's own goroutine.
const frameQueueDepth = 64

// Task owns the CAN socket: it runs the outbound heartbeat, mirrors
// BMS/MC acks, and fans decoded frames out to the Telemetry Aggregator
// and the UDP Session, per spec §4.4.
type Task struct {
	bus         Bus
	readTimeout time.Duration
	log         *logrus.Entry

	changeStateCh <-chan messages.ChangeState
	udpOutCh      chan<- messages.UDPInboundEvent
	aggOutCh      chan<- messages.CANEvent

	frameCh chan Frame

	bmsState          podstate.PodState
	mcState           podstate.PodState
	requestedPodState podstate.PodState
}

// NewTask constructs a CAN Bus task. bmsState/mcState/requestedPodState
// all start at LowVoltage, the pod's initial state (spec §3).
func NewTask(
	bus Bus,
	readTimeout time.Duration,
	changeStateCh <-chan messages.ChangeState,
	udpOutCh chan<- messages.UDPInboundEvent,
	aggOutCh chan<- messages.CANEvent,
) *Task {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &Task{
		bus:               bus,
		readTimeout:       readTimeout,
		log:               logrus.WithField("service", "canbus"),
		changeStateCh:     changeStateCh,
		udpOutCh:          udpOutCh,
		aggOutCh:          aggOutCh,
		frameCh:           make(chan Frame, frameQueueDepth),
		bmsState:          podstate.LowVoltage,
		mcState:           podstate.LowVoltage,
		requestedPodState: podstate.LowVoltage,
	}
}

// Handle implements FrameListener; it is called from the Bus's own
// receive goroutine and must not block.
func (t *Task) Handle(frame Frame) {
	select {
	case t.frameCh <- frame:
	default:
		t.log.Warn("frame queue full, dropping oldest-pending frame")
		select {
		case <-t.frameCh:
		default:
		}
		select {
		case t.frameCh <- frame:
		default:
		}
	}
}

// Run connects the bus and drives the per-tick loop described in spec
// §4.4 until ctx is cancelled. A send failure on either outbound
// channel is treated as infrastructure failure per spec §7 and returns
// immediately so the caller can terminate the process.
func (t *Task) Run(ctx context.Context, wg *sync.WaitGroup) error {
	defer wg.Done()

	if err := t.bus.Connect(); err != nil {
		return err
	}
	defer t.bus.Disconnect()
	if err := t.bus.Subscribe(t); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-t.frameCh:
			if err := t.handleFrame(frame); err != nil {
				return err
			}
		case <-time.After(t.readTimeout):
			t.log.Debug("no CAN frame observed within read timeout")
		}

		t.drainChangeState()

		if err := t.emitHeartbeat(); err != nil {
			return err
		}
	}
}

func (t *Task) handleFrame(raw Frame) error {
	f := cancodec.Frame{ID: uint16(raw.ID), Data: raw.Data[:raw.DLC]}
	cmd, err := cancodec.Decode(f)
	if err != nil {
		t.log.WithError(err).Warn("dropping undecodable CAN frame")
		return nil
	}

	switch c := cmd.(type) {
	case cancodec.BmsStateChange:
		if err := t.applyBmsAck(c.Ack); err != nil {
			return err
		}
	case cancodec.McStateChange:
		if err := t.applyMcAck(c.Ack); err != nil {
			return err
		}
	case cancodec.BmsFault:
		t.log.WithField("flags", c.Report.Flags()).Warn("BMS fault report")
		if err := t.sendUDP(messages.PodStateChanged{State: podstate.EmergencyBrake}); err != nil {
			return err
		}
	case cancodec.McFault:
		t.log.WithField("flags", c.Report.Flags()).Warn("MC fault report")
		if err := t.sendUDP(messages.PodStateChanged{State: podstate.EmergencyBrake}); err != nil {
			return err
		}
	}

	select {
	case t.aggOutCh <- messages.CANEvent{Command: cmd, Timestamp: time.Now()}:
		return nil
	default:
		return errQueueClosedOrFull("aggregator")
	}
}

// applyBmsAck implements spec §4.2's ack-application rule for the BMS,
// the primary acknowledger: Ack commits bmsState to the requested target
// and notifies the UDP Session, which is what actually advances
// current/next (DESIGN.md, SPEC_FULL §9(a)). Nack forces recovery;
// Unknown is a no-op, relying on the session's own timeout.
func (t *Task) applyBmsAck(ack cancodec.AckNack) error {
	switch ack {
	case cancodec.Ack:
		t.bmsState = t.requestedPodState
		return t.sendUDP(messages.PodStateChanged{State: t.bmsState})
	case cancodec.Nack:
		return t.sendUDP(messages.StateChangeNacked{})
	default:
		return nil
	}
}

// applyMcAck mirrors the MC's ack into mcState only. The MC is observed
// and mirrored but never gates the commit (DESIGN.md, SPEC_FULL §9(a)):
// only the BMS ack reaches the UDP Session as PodStateChanged, so a
// spurious or early MC ack cannot advance current ahead of the BMS's
// confirmation. A Nack still forces recovery, since either
// acknowledger refusing the transition is a real fault.
func (t *Task) applyMcAck(ack cancodec.AckNack) error {
	switch ack {
	case cancodec.Ack:
		t.mcState = t.requestedPodState
		return nil
	case cancodec.Nack:
		return t.sendUDP(messages.StateChangeNacked{})
	default:
		return nil
	}
}

func (t *Task) sendUDP(event messages.UDPInboundEvent) error {
	select {
	case t.udpOutCh <- event:
		return nil
	default:
		return errQueueClosedOrFull("udp session")
	}
}

// drainChangeState non-blockingly applies every pending ChangeState
// request from the UDP Session (spec §4.4 step 3).
func (t *Task) drainChangeState() {
	for {
		select {
		case req := <-t.changeStateCh:
			t.requestedPodState = req.Target
		default:
			return
		}
	}
}

// emitHeartbeat implements spec §4.4 step 4 / §8 scenario S6: a
// Roboteq throttle frame when autopilot has been both requested and
// confirmed by the BMS, otherwise a PodState announcement heartbeat.
func (t *Task) emitHeartbeat() error {
	if t.requestedPodState == podstate.AutoPilot && t.bmsState == podstate.AutoPilot {
		return t.bus.Send(encodeThrottleFrame())
	}
	codecFrame := cancodec.EncodePodState(t.requestedPodState.ToByte())
	var data [8]byte
	copy(data[:], codecFrame.Data)
	return t.bus.Send(Frame{ID: uint32(codecFrame.ID), DLC: uint8(len(codecFrame.Data)), Data: data})
}

// encodeThrottleFrame builds the Roboteq throttle frame. The vendor
// wire format is out of scope (spec §1); this emits a zeroed 8-byte
// frame on the conventional Roboteq command identifier as a placeholder
// that downstream Roboteq integration replaces.
func encodeThrottleFrame() Frame {
	const roboteqThrottleID = 0x0C0
	return Frame{ID: roboteqThrottleID, DLC: 8}
}

type queueError struct{ queue string }

func (e queueError) Error() string { return "canbus: " + e.queue + " queue closed or full" }

func errQueueClosedOrFull(queue string) error { return queueError{queue: queue} }
