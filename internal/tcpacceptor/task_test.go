package tcpacceptor

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/waterloop/podserver/internal/messages"
)

func newTestTask(t *testing.T) (*Task, chan messages.TCPInboundEvent, chan messages.UDPInboundEvent) {
	t.Helper()
	inboxCh := make(chan messages.TCPInboundEvent, 4)
	udpOutCh := make(chan messages.UDPInboundEvent, 4)
	task, err := NewTask("127.0.0.1:0", DefaultBufferSize, inboxCh, udpOutCh)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	return task, inboxCh, udpOutCh
}

func dialAndSend(t *testing.T, addr string, request string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(request)); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(reply)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return string(reply[:n])
}

func runTask(t *testing.T, task *Task) (context.CancelFunc, *sync.WaitGroup) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		if err := task.Run(ctx, &wg); err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	}()
	return cancel, &wg
}

func TestTask_ConnectWhileDisconnected(t *testing.T) {
	task, inboxCh, udpOutCh := newTestTask(t)
	inboxCh <- messages.StartupComplete{}
	cancel, wg := runTask(t, task)
	defer func() { cancel(); wg.Wait() }()

	time.Sleep(50 * time.Millisecond)
	reply := dialAndSend(t, task.listener.Addr().String(), "CONNECT\r\n")
	if reply != "OK 8888" {
		t.Errorf("got reply %q, want %q", reply, "OK 8888")
	}

	select {
	case ev := <-udpOutCh:
		if _, ok := ev.(messages.ConnectToHost); !ok {
			t.Errorf("got %T, want ConnectToHost", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ConnectToHost")
	}
}

func TestTask_ConnectWhileAlreadyConnected(t *testing.T) {
	task, inboxCh, _ := newTestTask(t)
	inboxCh <- messages.StartupComplete{}
	cancel, wg := runTask(t, task)
	defer func() { cancel(); wg.Wait() }()

	time.Sleep(50 * time.Millisecond)
	addr := task.listener.Addr().String()
	_ = dialAndSend(t, addr, "CONNECT\r\n")
	time.Sleep(50 * time.Millisecond)
	reply := dialAndSend(t, addr, "CONNECT\r\n")
	if reply != "ERROR POD Already Connected to Controller" {
		t.Errorf("got reply %q", reply)
	}
}

func TestTask_DisconnectIdempotentWhenNotConnected(t *testing.T) {
	task, inboxCh, _ := newTestTask(t)
	inboxCh <- messages.StartupComplete{}
	cancel, wg := runTask(t, task)
	defer func() { cancel(); wg.Wait() }()

	time.Sleep(50 * time.Millisecond)
	reply := dialAndSend(t, task.listener.Addr().String(), "DISCONNECT\r\n")
	if reply != "DISCONNECTED" {
		t.Errorf("got reply %q, want DISCONNECTED", reply)
	}
}

func TestTask_ConnectDuringStartupIsFatal(t *testing.T) {
	inboxCh := make(chan messages.TCPInboundEvent, 4)
	udpOutCh := make(chan messages.UDPInboundEvent, 4)
	task, err := NewTask("127.0.0.1:0", DefaultBufferSize, inboxCh, udpOutCh)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(ctx, &wg) }()

	time.Sleep(50 * time.Millisecond)
	conn, err := net.Dial("tcp", task.listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_, _ = conn.Write([]byte("CONNECT\r\n"))
	conn.Close()

	select {
	case gotErr := <-errCh:
		if gotErr != ErrStartupViolation {
			t.Errorf("got err %v, want ErrStartupViolation", gotErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task to terminate")
	}
	wg.Wait()
}
