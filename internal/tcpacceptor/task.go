// Package tcpacceptor implements the TCP Acceptor task (spec §4.6): it
// serializes operator handshakes one connection at a time and forwards
// CONNECT/DISCONNECT to the UDP Session.
package tcpacceptor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/waterloop/podserver/internal/messages"
	"github.com/waterloop/podserver/internal/podstate"
)

// DefaultBufferSize is used when the CLI does not override -b.
const DefaultBufferSize = 1024

// acceptPollInterval bounds how long Accept blocks before the loop
// rechecks ctx and drains the cross-task inbox, matching the
// ticker/select shape the teacher uses for its long-running loops.
const acceptPollInterval = 500 * time.Millisecond

// ErrStartupViolation is returned (infrastructure-fatal, spec §4.6) when
// a CONNECT request arrives before StartupComplete has been observed.
var ErrStartupViolation = errors.New("tcpacceptor: CONNECT received before startup completed")

// Task owns the TCP listen socket.
type Task struct {
	listener   *net.TCPListener
	bufferSize int
	log        *logrus.Entry

	state podstate.SessionState

	inboxCh  <-chan messages.TCPInboundEvent
	udpOutCh chan<- messages.UDPInboundEvent
}

// NewTask binds the TCP listen address (spec §6 default port 8080,
// overridable by CLI -a).
func NewTask(
	bindAddr string,
	bufferSize int,
	inboxCh <-chan messages.TCPInboundEvent,
	udpOutCh chan<- messages.UDPInboundEvent,
) (*Task, error) {
	addr, err := net.ResolveTCPAddr("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, err
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Task{
		listener:   listener,
		bufferSize: bufferSize,
		log:        logrus.WithField("service", "tcpacceptor"),
		state:      podstate.SessionStartup,
		inboxCh:    inboxCh,
		udpOutCh:   udpOutCh,
	}, nil
}

// Run accepts one connection at a time until ctx is cancelled.
func (t *Task) Run(ctx context.Context, wg *sync.WaitGroup) error {
	defer wg.Done()
	defer t.listener.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		t.drainInbox()

		_ = t.listener.SetDeadline(time.Now().Add(acceptPollInterval))
		conn, err := t.listener.Accept()
		if isTimeout(err) {
			continue
		}
		if err != nil {
			t.log.WithError(err).Warn("accept error")
			continue
		}

		if err := t.handleConnection(conn); err != nil {
			return err
		}
	}
}

func (t *Task) drainInbox() {
	for {
		select {
		case event := <-t.inboxCh:
			switch event.(type) {
			case messages.EnteringRecovery:
				t.state = podstate.SessionRecovery
			case messages.RecoveryComplete:
				t.state = podstate.SessionDisconnected
			case messages.StartupComplete:
				if t.state == podstate.SessionStartup {
					t.state = podstate.SessionDisconnected
				}
			}
		default:
			return
		}
	}
}

func (t *Task) handleConnection(conn net.Conn) error {
	defer conn.Close()

	buf := make([]byte, t.bufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		t.log.WithError(err).Warn("failed reading handshake request")
		return nil
	}
	line := strings.TrimRight(string(buf[:n]), "\r\n")

	switch line {
	case "CONNECT":
		return t.handleConnect(conn)
	case "DISCONNECT":
		return t.handleDisconnect(conn)
	default:
		t.log.WithField("request", line).Warn("malformed or unknown handshake request")
		return nil
	}
}

func (t *Task) handleConnect(conn net.Conn) error {
	switch t.state {
	case podstate.SessionStartup:
		return ErrStartupViolation

	case podstate.SessionDisconnected:
		host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil {
			host = conn.RemoteAddr().String()
		}
		addr := fmt.Sprintf("%s:8888", host)
		select {
		case t.udpOutCh <- messages.ConnectToHost{Addr: addr}:
		default:
			return errors.New("tcpacceptor: UDP session queue closed or full")
		}
		if _, err := conn.Write([]byte("OK 8888")); err != nil {
			t.log.WithError(err).Warn("failed writing CONNECT response")
		}
		t.state = podstate.SessionConnected

	case podstate.SessionConnected:
		if _, err := conn.Write([]byte("ERROR POD Already Connected to Controller")); err != nil {
			t.log.WithError(err).Warn("failed writing CONNECT response")
		}

	case podstate.SessionRecovery:
		if _, err := conn.Write([]byte("ERROR Unable to Connect to Pod while recovering. Please Wait for recovery to finish")); err != nil {
			t.log.WithError(err).Warn("failed writing CONNECT response")
		}
	}
	return nil
}

func (t *Task) handleDisconnect(conn net.Conn) error {
	if t.state == podstate.SessionConnected {
		select {
		case t.udpOutCh <- messages.DisconnectFromHost{}:
		default:
			return errors.New("tcpacceptor: UDP session queue closed or full")
		}
		t.state = podstate.SessionRecovery
	}
	if _, err := conn.Write([]byte("DISCONNECTED")); err != nil {
		t.log.WithError(err).Warn("failed writing DISCONNECT response")
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
