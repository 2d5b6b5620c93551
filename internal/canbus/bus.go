// Package canbus provides the CAN transport abstraction used by the CAN
// Bus task: a Bus interface with pluggable interface-type registration,
// grounded on the teacher's pkg/can registry pattern. Concrete
// transports live in subpackages (socketcan, virtualcan) and register
// themselves via init().
package canbus

import "fmt"

// Frame is a raw CAN frame at the transport level, the 8-byte-padded
// form socketcan and virtualcan both speak. internal/cancodec.Frame is
// the narrower, already-trimmed view the decoder consumes.
type Frame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [8]byte
}

// FrameListener receives frames pushed by a Bus's receive loop.
type FrameListener interface {
	Handle(frame Frame)
}

// Bus is a CAN transport: connect, disconnect, send a frame, and
// subscribe a listener for received frames. Implementations own their
// own goroutine for reception; Subscribe must not block.
type Bus interface {
	Connect(...any) error
	Disconnect() error
	Send(frame Frame) error
	Subscribe(listener FrameListener) error
}

// NewInterfaceFunc constructs a Bus for a given channel name (e.g. a
// socketcan interface name or a host:port for virtualcan).
type NewInterfaceFunc func(channel string) (Bus, error)

var interfaceRegistry = make(map[string]NewInterfaceFunc)

// RegisterInterface registers a new CAN bus interface type. Transport
// subpackages call this from their own init().
func RegisterInterface(interfaceType string, newInterface NewInterfaceFunc) {
	interfaceRegistry[interfaceType] = newInterface
}

// NewBus constructs a Bus for the named interface type ("socketcan",
// "virtualcan", ...), failing if nothing registered that name.
func NewBus(interfaceType string, channel string) (Bus, error) {
	newInterface, ok := interfaceRegistry[interfaceType]
	if !ok {
		return nil, fmt.Errorf("canbus: unsupported interface type %q", interfaceType)
	}
	return newInterface(channel)
}
