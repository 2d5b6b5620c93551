package canbus

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/waterloop/podserver/internal/messages"
	"github.com/waterloop/podserver/internal/podstate"
)

type fakeBus struct {
	mu       sync.Mutex
	sent     []Frame
	listener FrameListener
}

func (f *fakeBus) Connect(...any) error { return nil }
func (f *fakeBus) Disconnect() error    { return nil }
func (f *fakeBus) Send(frame Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
	return nil
}
func (f *fakeBus) Subscribe(listener FrameListener) error {
	f.listener = listener
	return nil
}
func (f *fakeBus) lastSent() (Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return Frame{}, false
	}
	return f.sent[len(f.sent)-1], true
}

func stateChangeFrame(id uint32, ack byte) Frame {
	var data [8]byte
	data[0] = ack
	return Frame{ID: id, DLC: 1, Data: data}
}

func TestTask_HeartbeatsRequestedState(t *testing.T) {
	bus := &fakeBus{}
	changeCh := make(chan messages.ChangeState, 1)
	udpCh := make(chan messages.UDPInboundEvent, 4)
	aggCh := make(chan messages.CANEvent, 4)

	task := NewTask(bus, 30*time.Millisecond, changeCh, udpCh, aggCh)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go task.Run(ctx, &wg)

	changeCh <- messages.ChangeState{Target: podstate.Armed}

	time.Sleep(80 * time.Millisecond)
	cancel()
	wg.Wait()

	frame, ok := bus.lastSent()
	if !ok {
		t.Fatal("expected at least one frame sent")
	}
	if frame.ID != 0x000 || frame.Data[0] != podstate.Armed.ToByte() {
		t.Errorf("got frame %+v, want PodState announcement for Armed", frame)
	}
}

func TestTask_BmsAckCommitsAndNotifiesUDP(t *testing.T) {
	bus := &fakeBus{}
	changeCh := make(chan messages.ChangeState, 1)
	udpCh := make(chan messages.UDPInboundEvent, 4)
	aggCh := make(chan messages.CANEvent, 4)

	task := NewTask(bus, 30*time.Millisecond, changeCh, udpCh, aggCh)
	changeCh <- messages.ChangeState{Target: podstate.Armed}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go task.Run(ctx, &wg)

	// Let one 30ms read tick pass so the queued ChangeState is drained
	// before the ack arrives.
	time.Sleep(60 * time.Millisecond)
	task.Handle(stateChangeFrame(0x00B, 1))

	var got messages.PodStateChanged
	select {
	case ev := <-udpCh:
		var ok bool
		got, ok = ev.(messages.PodStateChanged)
		if !ok {
			t.Fatalf("got %T, want PodStateChanged", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PodStateChanged")
	}
	cancel()
	wg.Wait()

	if got.State != podstate.Armed {
		t.Errorf("got state %v, want Armed", got.State)
	}
}

func TestTask_BmsNackNotifiesUDP(t *testing.T) {
	bus := &fakeBus{}
	changeCh := make(chan messages.ChangeState, 1)
	udpCh := make(chan messages.UDPInboundEvent, 4)
	aggCh := make(chan messages.CANEvent, 4)

	task := NewTask(bus, 30*time.Millisecond, changeCh, udpCh, aggCh)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go task.Run(ctx, &wg)

	task.Handle(stateChangeFrame(0x00B, 0))

	select {
	case ev := <-udpCh:
		if _, ok := ev.(messages.StateChangeNacked); !ok {
			t.Fatalf("got %T, want StateChangeNacked", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for StateChangeNacked")
	}
	cancel()
	wg.Wait()
}

func TestTask_McAckDoesNotCommitOrNotifyUDP(t *testing.T) {
	bus := &fakeBus{}
	changeCh := make(chan messages.ChangeState, 1)
	udpCh := make(chan messages.UDPInboundEvent, 4)
	aggCh := make(chan messages.CANEvent, 4)

	task := NewTask(bus, 30*time.Millisecond, changeCh, udpCh, aggCh)
	changeCh <- messages.ChangeState{Target: podstate.Armed}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go task.Run(ctx, &wg)

	// Let one 30ms read tick pass so the queued ChangeState is drained
	// before the ack arrives.
	time.Sleep(60 * time.Millisecond)
	task.Handle(stateChangeFrame(0x015, 1))

	select {
	case ev := <-udpCh:
		t.Fatalf("expected no UDP notification for a lone MC ack, got %T", ev)
	case <-time.After(100 * time.Millisecond):
	}
	cancel()
	wg.Wait()

	if task.mcState != podstate.Armed {
		t.Errorf("expected mcState mirror to update to Armed, got %v", task.mcState)
	}
	if task.bmsState != podstate.LowVoltage {
		t.Errorf("expected bmsState to remain LowVoltage, got %v", task.bmsState)
	}
}

func TestTask_ForwardsDecodedFrameToAggregator(t *testing.T) {
	bus := &fakeBus{}
	changeCh := make(chan messages.ChangeState, 1)
	udpCh := make(chan messages.UDPInboundEvent, 4)
	aggCh := make(chan messages.CANEvent, 4)

	task := NewTask(bus, 30*time.Millisecond, changeCh, udpCh, aggCh)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go task.Run(ctx, &wg)

	var data [8]byte
	binary.LittleEndian.PutUint32(data[0:4], math.Float32bits(99.5))
	task.Handle(Frame{ID: 0x01F, DLC: 4, Data: data})

	select {
	case ev := <-aggCh:
		if ev.Command == nil {
			t.Fatal("expected a decoded command")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for aggregator event")
	}
	cancel()
	wg.Wait()
}
