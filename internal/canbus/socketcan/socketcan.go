// Package socketcan wraps github.com/brutella/can to implement
// canbus.Bus against a real Linux SocketCAN interface. Adapted from the
// teacher's pkg/can/socketcan wrapper.
package socketcan

import (
	sockcan "github.com/brutella/can"
	"github.com/sirupsen/logrus"

	"github.com/waterloop/podserver/internal/canbus"
)

func init() {
	canbus.RegisterInterface("socketcan", NewBus)
}

// Bus wraps a brutella/can bus bound to a named SocketCAN interface
// (e.g. "can0").
type Bus struct {
	bus      *sockcan.Bus
	log      *logrus.Entry
	listener canbus.FrameListener
}

// NewBus opens (but does not yet connect) the named SocketCAN interface.
func NewBus(name string) (canbus.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, err
	}
	return &Bus{bus: bus, log: logrus.WithField("interface", name)}, nil
}

// Connect starts the brutella/can receive loop in the background.
func (b *Bus) Connect(...any) error {
	b.log.Debug("connecting socketcan bus")
	go b.bus.ConnectAndPublish()
	return nil
}

func (b *Bus) Disconnect() error {
	b.log.Debug("disconnecting socketcan bus")
	return b.bus.Disconnect()
}

func (b *Bus) Send(frame canbus.Frame) error {
	return b.bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Flags:  frame.Flags,
		Data:   frame.Data,
	})
}

func (b *Bus) Subscribe(listener canbus.FrameListener) error {
	b.listener = listener
	b.bus.Subscribe(b)
	return nil
}

// Handle implements brutella/can's Handler interface, translating its
// frame type into canbus.Frame before forwarding to our listener.
func (b *Bus) Handle(frame sockcan.Frame) {
	if b.listener == nil {
		return
	}
	b.listener.Handle(canbus.Frame{
		ID:    frame.ID,
		DLC:   frame.Length,
		Flags: frame.Flags,
		Data:  frame.Data,
	})
}
