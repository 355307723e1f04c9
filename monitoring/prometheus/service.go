// Package prometheus serves the node's observability endpoints: Prometheus
// metrics from the default registerer, a healthz roll-up of every registered
// service, and goroutine dumps for debugging stuck nodes.
package prometheus

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"runtime/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/EojEdred/Etrid-Infra-sub001/runtime"
)

var log = logrus.WithField("prefix", "prometheus")

// Service exposes /metrics, /healthz and /goroutinez on one listener.
type Service struct {
	server      *http.Server
	svcRegistry *runtime.ServiceRegistry
	failStatus  error
}

// NewService sets up the observability server for host:port. An empty host
// binds every interface, so ":8080" is acceptable.
func NewService(addr string, svcRegistry *runtime.ServiceRegistry) *Service {
	s := &Service{svcRegistry: svcRegistry}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.healthzHandler)
	mux.HandleFunc("/goroutinez", s.goroutinezHandler)

	s.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

func (s *Service) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	statuses := s.svcRegistry.Statuses()
	hasError := false
	var buf bytes.Buffer
	for kind, status := range statuses {
		text := "OK"
		if status != nil {
			hasError = true
			text = "ERROR " + status.Error()
		}
		fmt.Fprintf(&buf, "%s: %s\n", kind, text)
	}

	if hasError {
		w.WriteHeader(http.StatusInternalServerError)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.WithError(err).Error("Could not write healthz body")
	}
}

func (s *Service) goroutinezHandler(w http.ResponseWriter, _ *http.Request) {
	w.Write(debug.Stack())                  //nolint:errcheck
	pprof.Lookup("goroutine").WriteTo(w, 2) //nolint:errcheck
}

// Start begins serving in the background.
func (s *Service) Start() {
	log.WithField("endpoint", s.server.Addr).Info("Starting service")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Errorf("Could not listen on %s", s.server.Addr)
			s.failStatus = err
		}
	}()
}

// Stop shuts the listener down gracefully.
func (s *Service) Stop() error {
	log.Info("Stopping service")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status reports a listener failure, if any.
func (s *Service) Status() error {
	return s.failStatus
}
