// Package rpc exposes the attester's HTTP API: attestation lookups for
// relayers, readiness listings, and the health and status surfaces operators
// poll. All responses are JSON except the Prometheus text endpoint.
package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter"
	"github.com/EojEdred/Etrid-Infra-sub001/attester/store"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

var log = logrus.WithField("prefix", "rpc")

// shutdownGrace is how long in-flight responses get to drain on stop.
const shutdownGrace = 30 * time.Second

// AdapterReporter is the view of one adapter the API exposes.
type AdapterReporter interface {
	Status() error
	OperationalStatus() adapter.Status
}

// Config parameterizes the HTTP service.
type Config struct {
	Host      string
	Port      int
	Store     *store.Store
	Threshold func(types.Domain) int
	Adapters  []AdapterReporter
}

// Service is the attester HTTP server.
type Service struct {
	cfg     Config
	server  *http.Server
	started time.Time
	failure error
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Threshold == nil {
		return nil, errors.New("rpc service requires a store and a threshold policy")
	}
	s := &Service{cfg: cfg}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/attestation/{id}", s.handleAttestationByID).Methods(http.MethodGet)
	router.HandleFunc("/attestation/{source}/{nonce}", s.handleAttestationByNonce).Methods(http.MethodGet)
	router.HandleFunc("/attestations/ready", s.handleReady).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start begins serving in the background.
func (s *Service) Start() {
	s.started = time.Now()
	log.WithField("addr", s.server.Addr).Info("Serving attestation API")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.failure = err
			log.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Stop drains in-flight requests and closes the listener.
func (s *Service) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status reports a listener failure, if any.
func (s *Service) Status() error {
	return s.failure
}
