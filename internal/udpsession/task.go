package udpsession

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/waterloop/podserver/internal/messages"
	"github.com/waterloop/podserver/internal/podstate"
)

// readBufferSize bounds a single UDP datagram; DesktopStateMessage JSON
// never approaches this.
const readBufferSize = 4096

// Snapshot is a point-in-time, race-free view of session state for
// callers outside this package (the diagnostics HTTP endpoint, spec
// §4.8).
type Snapshot struct {
	SessionState podstate.SessionState
	Current      podstate.PodState
	Next         podstate.PodState
	Errno        podstate.Errno
}

// Task wraps a Session with the actual UDP socket I/O and the channels
// connecting it to the other three tasks.
type Task struct {
	session *Session
	conn    *net.UDPConn
	log     *logrus.Entry

	readTimeout time.Duration

	inboxCh       <-chan messages.UDPInboundEvent
	changeStateCh chan<- messages.ChangeState
	tcpOutCh      chan<- messages.TCPInboundEvent

	snapshotMu sync.RWMutex
	snapshot   Snapshot
}

// NewTask binds the UDP listen socket (spec §6: 0.0.0.0:8888) and
// constructs the session state machine.
func NewTask(
	listenAddr string,
	readTimeout time.Duration,
	maxTimeouts int,
	inboxCh <-chan messages.UDPInboundEvent,
	changeStateCh chan<- messages.ChangeState,
	tcpOutCh chan<- messages.TCPInboundEvent,
) (*Task, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &Task{
		session:       NewSession(maxTimeouts),
		conn:          conn,
		log:           logrus.WithField("service", "udpsession"),
		readTimeout:   readTimeout,
		inboxCh:       inboxCh,
		changeStateCh: changeStateCh,
		tcpOutCh:      tcpOutCh,
	}, nil
}

// Snapshot returns a race-free copy of the session's current view for
// the diagnostics HTTP endpoint.
func (t *Task) Snapshot() Snapshot {
	t.snapshotMu.RLock()
	defer t.snapshotMu.RUnlock()
	return t.snapshot
}

func (t *Task) refreshSnapshot() {
	t.snapshotMu.Lock()
	t.snapshot = Snapshot{
		SessionState: t.session.State,
		Current:      t.session.Current,
		Next:         t.session.Next,
		Errno:        t.session.Errno,
	}
	t.snapshotMu.Unlock()
}

// Run drives the per-tick loop until ctx is cancelled. A queue-send
// failure is infrastructure-fatal per spec §7 and returns an error so
// the caller can terminate the process.
func (t *Task) Run(ctx context.Context, wg *sync.WaitGroup) error {
	defer wg.Done()
	defer t.conn.Close()

	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if t.session.State == podstate.SessionStartup {
			select {
			case <-ctx.Done():
				return nil
			case event := <-t.inboxCh:
				if err := t.applyEffects(t.session.ApplyInboundEvent(event)); err != nil {
					return err
				}
				t.refreshSnapshot()
			}
			continue
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		n, _, err := t.conn.ReadFromUDP(buf)

		var eff Effects
		switch {
		case isTimeout(err):
			eff = t.session.ApplyTimeout()
		case err != nil:
			t.log.WithError(err).Warn("UDP read error")
		default:
			var msg DesktopStateMessage
			if jsonErr := json.Unmarshal(buf[:n], &msg); jsonErr != nil {
				t.log.WithError(jsonErr).Warn("dropping malformed DesktopStateMessage")
				// Still a successful receive per §4.3: reset the
				// operator-silence counter even though the payload
				// itself is discarded.
				t.session.timeoutCount = 0
			} else {
				eff = t.session.ApplyDesktopMessage(msg)
			}
		}
		if err := t.applyEffects(eff); err != nil {
			return err
		}

		if err := t.drainInbox(); err != nil {
			return err
		}

		if err := t.sendOutbound(); err != nil {
			t.log.WithError(err).Warn("failed to send PodStateMessage to operator")
		}
		t.refreshSnapshot()
	}
}

func (t *Task) drainInbox() error {
	for {
		select {
		case event := <-t.inboxCh:
			if err := t.applyEffects(t.session.ApplyInboundEvent(event)); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (t *Task) sendOutbound() error {
	if t.session.PeerAddr == "" {
		return nil
	}
	peer, err := net.ResolveUDPAddr("udp", t.session.PeerAddr)
	if err != nil {
		return err
	}
	data, err := json.Marshal(t.session.BuildOutboundMessage())
	if err != nil {
		return err
	}
	_, err = t.conn.WriteToUDP(data, peer)
	return err
}

func (t *Task) applyEffects(eff Effects) error {
	if eff.ChangeStateTo != nil {
		select {
		case t.changeStateCh <- messages.ChangeState{Target: *eff.ChangeStateTo}:
		default:
			return errors.New("udpsession: CAN task queue closed or full")
		}
	}
	if eff.EnteredRecovery {
		select {
		case t.tcpOutCh <- messages.EnteringRecovery{}:
		default:
			return errors.New("udpsession: TCP acceptor queue closed or full")
		}
	}
	return nil
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
