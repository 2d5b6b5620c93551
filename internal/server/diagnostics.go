package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/waterloop/podserver/internal/udpsession"
)

// diagnosticsStatus is the JSON body served at /status (spec §4.8).
type diagnosticsStatus struct {
	SessionState string `json:"session_state"`
	PodState     string `json:"pod_state"`
	NextPodState string `json:"next_pod_state"`
	Errno        uint8  `json:"errno"`
}

// diagnosticsServer is the small read-only HTTP endpoint grounded on
// the teacher's gateway_http_server.go: bare net/http, no router
// library, JSON responses. Unauthenticated per spec.md's non-goal of
// operator-link authentication.
type diagnosticsServer struct {
	addr    string
	udpTask *udpsession.Task
	log     *logrus.Entry
	srv     *http.Server
}

func newDiagnosticsServer(addr string, udpTask *udpsession.Task) *diagnosticsServer {
	return &diagnosticsServer{
		addr:    addr,
		udpTask: udpTask,
		log:     logrus.WithField("service", "diagnostics"),
	}
}

func (d *diagnosticsServer) Start(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", d.handleStatus)
	d.srv = &http.Server{Addr: d.addr, Handler: mux}

	go func() {
		if err := d.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.WithError(err).Error("diagnostics server stopped unexpectedly")
		}
	}()

	go func() {
		<-ctx.Done()
		d.Stop()
	}()
}

func (d *diagnosticsServer) Stop() {
	if d.srv != nil {
		_ = d.srv.Close()
	}
}

func (d *diagnosticsServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := d.udpTask.Snapshot()
	status := diagnosticsStatus{
		SessionState: snapshot.SessionState.String(),
		PodState:     snapshot.Current.String(),
		NextPodState: snapshot.Next.String(),
		Errno:        uint8(snapshot.Errno),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		d.log.WithError(err).Warn("failed encoding /status response")
	}
}
