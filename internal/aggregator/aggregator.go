// Package aggregator implements the Telemetry Aggregator task (spec
// §4.5): it folds decoded CAN commands into a running PodData snapshot
// and pushes the snapshot to the UDP Session whenever new sensor data
// arrives.
package aggregator

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/waterloop/podserver/internal/cancodec"
	"github.com/waterloop/podserver/internal/messages"
)

// Task owns the live PodData snapshot. It is the sole writer of its
// working copy; everything it publishes downstream is a value copy.
type Task struct {
	log *logrus.Entry

	inCh  <-chan messages.CANEvent
	outCh chan<- messages.UDPInboundEvent

	snapshot cancodec.PodData
}

// NewTask constructs a Telemetry Aggregator reading decoded frames from
// inCh and publishing snapshots to outCh.
func NewTask(inCh <-chan messages.CANEvent, outCh chan<- messages.UDPInboundEvent) *Task {
	return &Task{
		log:   logrus.WithField("service", "aggregator"),
		inCh:  inCh,
		outCh: outCh,
	}
}

// Run folds CanCommands into the snapshot until ctx is cancelled. A
// send failure on outCh is infrastructure-fatal per spec §7.
func (t *Task) Run(ctx context.Context, wg *sync.WaitGroup) error {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-t.inCh:
			if !t.apply(event.Command) {
				continue
			}
			select {
			case t.outCh <- messages.TelemetryDataAvailable{Data: t.snapshot, Timestamp: event.Timestamp}:
			default:
				return errAggregatorQueueFull
			}
		}
	}
}

// apply folds a single decoded command into the working snapshot,
// returning true iff the command constitutes "new data" per spec §4.5
// (sensor/pressure/torchic/current frames do; health checks and fault
// reports update diagnostics only and are not reported as new data).
func (t *Task) apply(cmd cancodec.CanCommand) bool {
	switch c := cmd.(type) {
	case cancodec.BmsData1:
		t.snapshot.BatteryVoltage = cancodec.Some(c.BatteryPackVoltage)
		t.snapshot.StateOfCharge = cancodec.Some(c.StateOfCharge)
		return true
	case cancodec.BmsData2:
		t.snapshot.BuckTemperature = cancodec.Some(c.BuckTemperature)
		t.snapshot.BmsCurrent = cancodec.Some(c.BmsCurrent)
		return true
	case cancodec.BmsData3:
		t.snapshot.LinkCapVoltage = cancodec.Some(c.LinkCapVoltage)
		return true
	case cancodec.McData1:
		t.snapshot.McPodSpeed = cancodec.Some(c.McPodSpeed)
		t.snapshot.MotorCurrent = cancodec.Some(c.MotorCurrent)
		return true
	case cancodec.McData2:
		t.snapshot.BatteryCurrent = cancodec.Some(c.BatteryCurrent)
		t.snapshot.BatteryVoltage = cancodec.Some(c.BatteryVoltage)
		return true
	case cancodec.PodSpeed:
		t.snapshot.PodSpeed = cancodec.Some(c.Value)
		return true
	case cancodec.PressureHigh:
		t.snapshot.PressureHigh = cancodec.Some(c.Value)
		return true
	case cancodec.PressureLow1:
		t.snapshot.PressureLow1 = cancodec.Some(c.Value)
		return true
	case cancodec.PressureLow2:
		t.snapshot.PressureLow2 = cancodec.Some(c.Value)
		return true
	case cancodec.Current5V:
		t.snapshot.Current5V = cancodec.Some(c.Value)
		return true
	case cancodec.Current12V:
		t.snapshot.Current12V = cancodec.Some(c.Value)
		return true
	case cancodec.Current24V:
		t.snapshot.Current24V = cancodec.Some(c.Value)
		return true
	case cancodec.Torchic1:
		t.snapshot.Torchic1 = [2]cancodec.OptionalFloat{cancodec.Some(c.A), cancodec.Some(c.B)}
		return true
	case cancodec.Torchic2:
		t.snapshot.Torchic2 = [2]cancodec.OptionalFloat{cancodec.Some(c.A), cancodec.Some(c.B)}
		return true
	case cancodec.BmsHealthCheck:
		t.snapshot.BatteryPackCurrent = cancodec.Some(c.BatteryPackCurrent)
		t.snapshot.CellTemperature = cancodec.Some(c.CellTemperature)
		return false
	case cancodec.McHealthCheck:
		t.snapshot.IgbtTemp = cancodec.Some(c.IgbtTemp)
		t.snapshot.MotorVoltage = cancodec.Some(c.MotorVoltage)
		return false
	case cancodec.BmsFault, cancodec.McFault:
		return false
	default:
		return false
	}
}

var errAggregatorQueueFull = aggregatorQueueError{}

type aggregatorQueueError struct{}

func (aggregatorQueueError) Error() string { return "aggregator: UDP session queue closed or full" }
