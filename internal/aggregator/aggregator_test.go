package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/waterloop/podserver/internal/cancodec"
	"github.com/waterloop/podserver/internal/messages"
)

func TestTask_SensorFrameProducesSnapshot(t *testing.T) {
	inCh := make(chan messages.CANEvent, 1)
	outCh := make(chan messages.UDPInboundEvent, 1)
	task := NewTask(inCh, outCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go task.Run(ctx, &wg)

	ts := time.Now()
	inCh <- messages.CANEvent{Command: cancodec.PodSpeed{Value: 12.5}, Timestamp: ts}

	select {
	case ev := <-outCh:
		snap, ok := ev.(messages.TelemetryDataAvailable)
		if !ok {
			t.Fatalf("got %T, want TelemetryDataAvailable", ev)
		}
		if !snap.Data.PodSpeed.Valid || snap.Data.PodSpeed.Value != 12.5 {
			t.Errorf("got %+v, want PodSpeed=12.5", snap.Data.PodSpeed)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
}

func TestTask_HealthCheckUpdatesDiagnosticsWithoutPublishing(t *testing.T) {
	inCh := make(chan messages.CANEvent, 2)
	outCh := make(chan messages.UDPInboundEvent, 2)
	task := NewTask(inCh, outCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go task.Run(ctx, &wg)

	inCh <- messages.CANEvent{Command: cancodec.BmsHealthCheck{BatteryPackCurrent: 1, CellTemperature: 2}, Timestamp: time.Now()}
	// Follow with a real sensor frame; if the health check had wrongly
	// published, this select would instead observe a stale/partial
	// snapshot with only diagnostics fields set.
	inCh <- messages.CANEvent{Command: cancodec.PodSpeed{Value: 7}, Timestamp: time.Now()}

	select {
	case ev := <-outCh:
		snap := ev.(messages.TelemetryDataAvailable)
		if !snap.Data.BatteryPackCurrent.Valid {
			t.Error("expected health-check diagnostics to still be folded into the snapshot")
		}
		if snap.Data.PodSpeed.Value != 7 {
			t.Errorf("got PodSpeed=%v, want 7", snap.Data.PodSpeed.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}

	select {
	case ev := <-outCh:
		t.Fatalf("unexpected second publish: %+v", ev)
	default:
	}
}
