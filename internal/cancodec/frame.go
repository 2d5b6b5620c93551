// Package cancodec decodes raw CAN frames into the pod's CanCommand
// protocol and encodes the outbound PodState announcement (spec §4.1,
// §6), independent of any particular CAN transport. CanCommand values
// are not encoded back into frames. internal/canbus adapts this codec
// to the wire (github.com/brutella/can via the canbus.Bus abstraction).
package cancodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Frame is a raw CAN frame: an 11-bit identifier and 0-8 payload bytes.
type Frame struct {
	ID   uint16
	Data []byte
}

// ErrShortFrame is returned by Decode when a known identifier's payload
// is smaller than the frame requires. Per spec §7 this is a Decode-class
// error: the offending frame is dropped and the task continues.
var ErrShortFrame = errors.New("cancodec: frame payload shorter than required")

// Outbound CAN identifiers.
const (
	IDPodStateAnnounce uint16 = 0x000
)

// Inbound CAN identifiers, bit-exact per spec §6.
const (
	idBMSHealth       uint16 = 0x001
	idMCHealth        uint16 = 0x002
	idBMSFaultReport  uint16 = 0x00A
	idBMSStateChange  uint16 = 0x00B
	idBMSData1        uint16 = 0x00C
	idBMSData2        uint16 = 0x00D
	idBMSData3        uint16 = 0x00E
	idMCFaultReport   uint16 = 0x014
	idMCStateChange   uint16 = 0x015
	idMCData1         uint16 = 0x016
	idMCData2         uint16 = 0x017
	idPodSpeed        uint16 = 0x01F
	idPressureHigh    uint16 = 0x020
	idPressureLow1    uint16 = 0x021
	idPressureLow2    uint16 = 0x022
	idCurrent5V       uint16 = 0x030
	idCurrent12V      uint16 = 0x031
	idCurrent24V      uint16 = 0x032
	idTorchic1        uint16 = 0x040
	idTorchic2        uint16 = 0x041
)

func readFloat32(data []byte, offset int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(data[offset : offset+4]))
}

func writeFloat32(data []byte, offset int, v float32) {
	binary.LittleEndian.PutUint32(data[offset:offset+4], math.Float32bits(v))
}

// CanCommand is a decoded CAN frame, discriminated by its identifier.
// Implementations are value types; the concrete type IS the tag.
type CanCommand interface {
	isCanCommand()
}

type BmsHealthCheck struct{ BatteryPackCurrent, CellTemperature float32 }
type McHealthCheck struct{ IgbtTemp, MotorVoltage float32 }
type BmsFault struct{ Report BMSFaultReport }
type McFault struct{ Report MCFaultReport }
type BmsStateChange struct{ Ack AckNack }
type McStateChange struct{ Ack AckNack }
type BmsData1 struct{ BatteryPackVoltage, StateOfCharge float32 }
type BmsData2 struct{ BuckTemperature, BmsCurrent float32 }
type BmsData3 struct{ LinkCapVoltage float32 }
type McData1 struct{ McPodSpeed, MotorCurrent float32 }
type McData2 struct{ BatteryCurrent, BatteryVoltage float32 }
type PodSpeed struct{ Value float32 }
type PressureHigh struct{ Value float32 }
type PressureLow1 struct{ Value float32 }
type PressureLow2 struct{ Value float32 }
type Current5V struct{ Value float32 }
type Current12V struct{ Value float32 }
type Current24V struct{ Value float32 }
type Torchic1 struct{ A, B float32 }
type Torchic2 struct{ A, B float32 }
type UnknownCommand struct{ ID uint16 }

func (BmsHealthCheck) isCanCommand()  {}
func (McHealthCheck) isCanCommand()   {}
func (BmsFault) isCanCommand()        {}
func (McFault) isCanCommand()         {}
func (BmsStateChange) isCanCommand()  {}
func (McStateChange) isCanCommand()   {}
func (BmsData1) isCanCommand()        {}
func (BmsData2) isCanCommand()        {}
func (BmsData3) isCanCommand()        {}
func (McData1) isCanCommand()         {}
func (McData2) isCanCommand()         {}
func (PodSpeed) isCanCommand()        {}
func (PressureHigh) isCanCommand()    {}
func (PressureLow1) isCanCommand()    {}
func (PressureLow2) isCanCommand()    {}
func (Current5V) isCanCommand()       {}
func (Current12V) isCanCommand()      {}
func (Current24V) isCanCommand()      {}
func (Torchic1) isCanCommand()        {}
func (Torchic2) isCanCommand()        {}
func (UnknownCommand) isCanCommand()  {}

// twoFloatIDs consume bytes [0..4) and [4..8); oneFloatIDs consume [0..4).
var twoFloatIDs = map[uint16]bool{
	idBMSHealth: true, idMCHealth: true, idBMSData1: true, idBMSData2: true,
	idMCData1: true, idMCData2: true, idTorchic1: true, idTorchic2: true,
}

var oneFloatIDs = map[uint16]bool{
	idBMSData3: true, idPodSpeed: true,
	idPressureHigh: true, idPressureLow1: true, idPressureLow2: true,
	idCurrent5V: true, idCurrent12V: true, idCurrent24V: true,
}

// Decode maps a raw CAN frame to a CanCommand per spec §4.1. An unknown
// identifier always decodes successfully to UnknownCommand — never a
// fatal error. A known identifier with a too-short payload returns
// ErrShortFrame; the caller should log and drop the frame.
func Decode(f Frame) (CanCommand, error) {
	id := f.ID
	data := f.Data

	if twoFloatIDs[id] {
		if len(data) < 8 {
			return nil, fmt.Errorf("cancodec: id 0x%03X: %w", id, ErrShortFrame)
		}
		a, b := readFloat32(data, 0), readFloat32(data, 4)
		switch id {
		case idBMSHealth:
			return BmsHealthCheck{BatteryPackCurrent: a, CellTemperature: b}, nil
		case idMCHealth:
			return McHealthCheck{IgbtTemp: a, MotorVoltage: b}, nil
		case idBMSData1:
			return BmsData1{BatteryPackVoltage: a, StateOfCharge: b}, nil
		case idBMSData2:
			return BmsData2{BuckTemperature: a, BmsCurrent: b}, nil
		case idMCData1:
			return McData1{McPodSpeed: a, MotorCurrent: b}, nil
		case idMCData2:
			return McData2{BatteryCurrent: a, BatteryVoltage: b}, nil
		case idTorchic1:
			return Torchic1{A: a, B: b}, nil
		case idTorchic2:
			return Torchic2{A: a, B: b}, nil
		}
	}

	if oneFloatIDs[id] {
		if len(data) < 4 {
			return nil, fmt.Errorf("cancodec: id 0x%03X: %w", id, ErrShortFrame)
		}
		v := readFloat32(data, 0)
		switch id {
		case idBMSData3:
			return BmsData3{LinkCapVoltage: v}, nil
		case idPodSpeed:
			return PodSpeed{Value: v}, nil
		case idPressureHigh:
			return PressureHigh{Value: v}, nil
		case idPressureLow1:
			return PressureLow1{Value: v}, nil
		case idPressureLow2:
			return PressureLow2{Value: v}, nil
		case idCurrent5V:
			return Current5V{Value: v}, nil
		case idCurrent12V:
			return Current12V{Value: v}, nil
		case idCurrent24V:
			return Current24V{Value: v}, nil
		}
	}

	switch id {
	case idBMSStateChange:
		return BmsStateChange{Ack: DecodeAckNack(data)}, nil
	case idMCStateChange:
		return McStateChange{Ack: DecodeAckNack(data)}, nil
	case idBMSFaultReport:
		return BmsFault{Report: DecodeBMSFaultReport(data)}, nil
	case idMCFaultReport:
		return McFault{Report: DecodeMCFaultReport(data)}, nil
	}

	return UnknownCommand{ID: id}, nil
}

// EncodePodState builds the outbound PodState announcement frame: id
// 0x000, single-byte payload, non-extended, non-RTR.
func EncodePodState(stateByte byte) Frame {
	return Frame{ID: IDPodStateAnnounce, Data: []byte{stateByte}}
}
