// Package server wires the four cooperating tasks (TCP Acceptor, UDP
// Session, CAN Bus, Telemetry Aggregator) into one running process,
// grounded on the teacher's Network/NodeProcessor pair: a single
// context.Context plus sync.WaitGroup owns every task's lifetime, and
// Start/Wait mirror NodeProcessor's own lifecycle methods.
package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/waterloop/podserver/internal/aggregator"
	"github.com/waterloop/podserver/internal/canbus"
	_ "github.com/waterloop/podserver/internal/canbus/socketcan"
	_ "github.com/waterloop/podserver/internal/canbus/virtualcan"
	"github.com/waterloop/podserver/internal/config"
	"github.com/waterloop/podserver/internal/messages"
	"github.com/waterloop/podserver/internal/tcpacceptor"
	"github.com/waterloop/podserver/internal/udpsession"
)

// queueDepth bounds every cross-task channel. A full queue is treated
// as infrastructure failure by the sending task (spec §7), so this only
// needs to absorb ordinary scheduling jitter between goroutines.
const queueDepth = 32

// udpBindAddr is the fixed UDP listen address from spec §6; unlike the
// TCP bind address it is not CLI-configurable.
const udpBindAddr = "0.0.0.0:8888"

// Server owns every task and the channels between them.
type Server struct {
	log *logrus.Entry

	tcpTask *tcpacceptor.Task
	udpTask *udpsession.Task
	canTask *canbus.Task
	aggTask *aggregator.Task

	tcpInboxCh chan messages.TCPInboundEvent
	udpInboxCh chan messages.UDPInboundEvent

	diagnostics *diagnosticsServer

	wg    sync.WaitGroup
	errCh chan error
}

// New constructs every task from cfg without starting any goroutines.
func New(cfg config.Config) (*Server, error) {
	tcpInboxCh := make(chan messages.TCPInboundEvent, queueDepth)
	udpInboxCh := make(chan messages.UDPInboundEvent, queueDepth)
	changeStateCh := make(chan messages.ChangeState, queueDepth)
	canEventCh := make(chan messages.CANEvent, queueDepth)

	tcpTask, err := tcpacceptor.NewTask(cfg.TCPAddress, cfg.BufferSize, tcpInboxCh, udpInboxCh)
	if err != nil {
		return nil, fmt.Errorf("server: starting TCP acceptor: %w", err)
	}

	udpTask, err := udpsession.NewTask(udpBindAddr, cfg.UDPReadTimeout, cfg.MaxUDPTimeouts, udpInboxCh, changeStateCh, tcpInboxCh)
	if err != nil {
		return nil, fmt.Errorf("server: starting UDP session: %w", err)
	}

	bus, err := canbus.NewBus(cfg.CANInterface, cfg.CANChannel)
	if err != nil {
		return nil, fmt.Errorf("server: constructing CAN bus %q: %w", cfg.CANInterface, err)
	}
	canTask := canbus.NewTask(bus, cfg.CANReadTimeout, changeStateCh, udpInboxCh, canEventCh)

	aggTask := aggregator.NewTask(canEventCh, udpInboxCh)

	return &Server{
		log:         logrus.WithField("service", "server"),
		tcpTask:     tcpTask,
		udpTask:     udpTask,
		canTask:     canTask,
		aggTask:     aggTask,
		tcpInboxCh:  tcpInboxCh,
		udpInboxCh:  udpInboxCh,
		diagnostics: newDiagnosticsServer(cfg.DiagnosticsAddr, udpTask),
		errCh:       make(chan error, 4),
	}, nil
}

// Start launches all four tasks and the diagnostics HTTP endpoint as
// goroutines, then queues StartupComplete on the TCP and UDP inboxes
// (spec §4.6 "must not accept before startup completes").
func (s *Server) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.wg.Add(4)
	go s.run("tcp", cancel, func() error { return s.tcpTask.Run(ctx, &s.wg) })
	go s.run("udp", cancel, func() error { return s.udpTask.Run(ctx, &s.wg) })
	go s.run("can", cancel, func() error { return s.canTask.Run(ctx, &s.wg) })
	go s.run("agg", cancel, func() error { return s.aggTask.Run(ctx, &s.wg) })

	s.diagnostics.Start(ctx)

	// Both the TCP and UDP tasks gate on StartupComplete before they
	// will process operator traffic; sending it to each task's own
	// inbox advances both exactly once.
	select {
	case s.tcpInboxCh <- messages.StartupComplete{}:
	default:
	}
	select {
	case s.udpInboxCh <- messages.StartupComplete{}:
	default:
	}
}

// run executes one task. A task that returns an error cancels every
// other task, so Wait returns and the process exits.
func (s *Server) run(name string, cancel context.CancelFunc, fn func() error) {
	if err := fn(); err != nil {
		s.log.WithField("task", name).WithError(err).Error("task terminated with error")
		select {
		case s.errCh <- fmt.Errorf("%s: %w", name, err):
		default:
		}
		cancel()
	}
}

// Wait blocks until every task has returned, either because ctx was
// cancelled or because a failed task cancelled the rest. It returns the first task-reported infrastructure error,
// if any, per spec §7's "queue closed or thread spawn failure is
// fatal".
func (s *Server) Wait() error {
	s.wg.Wait()
	s.diagnostics.Stop()
	select {
	case err := <-s.errCh:
		return err
	default:
		return nil
	}
}
