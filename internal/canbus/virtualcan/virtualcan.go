// Package virtualcan implements canbus.Bus over a plain TCP loopback,
// primarily for tests and for running the server without real hardware.
// Adapted from the teacher's pkg/can/virtual bus: a peer dials a
// broker, frames are length-prefixed and binary-encoded.
package virtualcan

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/waterloop/podserver/internal/canbus"
)

func init() {
	canbus.RegisterInterface("virtualcan", NewBus)
}

// Bus is a TCP-loopback CAN bus used for tests and local development. It
// expects a broker at the given channel address and, once subscribed,
// relays every frame sent there to the registered listener.
type Bus struct {
	log *logrus.Entry

	mu         sync.Mutex
	channel    string
	conn       net.Conn
	receiveOwn bool
	listener   canbus.FrameListener
	stopCh     chan struct{}
	wg         sync.WaitGroup
	running    bool
}

// NewBus constructs a virtual bus that will dial channel (e.g.
// "127.0.0.1:18000") on Connect.
func NewBus(channel string) (canbus.Bus, error) {
	return &Bus{
		channel: channel,
		stopCh:  make(chan struct{}),
		log:     logrus.WithField("service", "canbus.virtual"),
	}, nil
}

// SetReceiveOwn enables local loopback of sent frames directly to the
// registered listener, bypassing the network round-trip. Useful in
// tests that want to observe what the CAN Bus task transmits.
func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.receiveOwn = receiveOwn
}

func serializeFrame(frame canbus.Frame) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, frame); err != nil {
		return nil, err
	}
	body := buf.Bytes()
	out := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...), nil
}

func deserializeFrame(body []byte) (*canbus.Frame, error) {
	var frame canbus.Frame
	if err := binary.Read(bytes.NewReader(body), binary.BigEndian, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

func (b *Bus) Connect(...any) error {
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return fmt.Errorf("virtualcan: dial %s: %w", b.channel, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	b.conn = conn
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()
	if running {
		close(b.stopCh)
		b.wg.Wait()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

func (b *Bus) Send(frame canbus.Frame) error {
	if b.receiveOwn && b.listener != nil {
		b.listener.Handle(frame)
	}
	if b.conn == nil {
		return errors.New("virtualcan: send with no active connection")
	}
	payload, err := serializeFrame(frame)
	if err != nil {
		return err
	}
	_ = b.conn.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
	_, err = b.conn.Write(payload)
	return err
}

func (b *Bus) Subscribe(listener canbus.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	if b.running {
		return nil
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.wg.Add(1)
	go b.receiveLoop()
	return nil
}

func (b *Bus) recv() (*canbus.Frame, error) {
	if b.conn == nil {
		return nil, errors.New("virtualcan: recv with no active connection")
	}
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	header := make([]byte, 4)
	if _, err := b.conn.Read(header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	body := make([]byte, length)
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := b.conn.Read(body); err != nil {
		return nil, err
	}
	return deserializeFrame(body)
}

func (b *Bus) receiveLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}
		frame, err := b.recv()
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			continue
		}
		if err != nil {
			b.log.WithError(err).Warn("virtual bus receive loop stopping")
			return
		}
		if b.listener != nil {
			b.listener.Handle(*frame)
		}
	}
}
