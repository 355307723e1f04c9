// Package fetcher polls attester HTTP APIs for threshold-complete
// attestations and feeds them to the submitter exactly once per process
// lifetime. Emission order is first-cross-threshold as observed by this
// fetcher; replicas polling the same attesters may disagree and the
// destination contracts are the arbiter.
package fetcher

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/EojEdred/Etrid-Infra-sub001/bridge/canonical"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

var log = logrus.WithField("prefix", "fetcher")

const (
	// DefaultPollInterval is how often ready attestations are pulled.
	DefaultPollInterval = 30 * time.Second
	// DefaultHTTPTimeout bounds one API call.
	DefaultHTTPTimeout = 10 * time.Second
	// DefaultDedupeSize is how many emitted message ids are remembered.
	DefaultDedupeSize = 10_000
)

// ErrNotFound is returned by lookups for unknown attestations.
var ErrNotFound = errors.New("attestation not found")

// attestationDoc mirrors the attester API's attestation shape.
type attestationDoc struct {
	MessageHash    string `json:"messageHash"`
	Message        string `json:"message"`
	SignatureCount int    `json:"signatureCount"`
	ThresholdMet   bool   `json:"thresholdMet"`
	Status         string `json:"status"`
	Signatures     []struct {
		AttesterID uint8  `json:"attesterId"`
		Signature  string `json:"signature"`
		SignedAt   uint64 `json:"signedAt"`
	} `json:"signatures"`
}

// Config parameterizes the fetcher.
type Config struct {
	// Endpoints is the attester API base URL list. One healthy endpoint is
	// enough; the fleet serves identical ready sets once converged.
	Endpoints []string
	// Out receives each ready attestation exactly once.
	Out          chan<- *types.ReadyAttestation
	PollInterval time.Duration
	HTTPTimeout  time.Duration
	DedupeSize   int
}

// Service is the polling fetcher.
type Service struct {
	cfg    Config
	client *http.Client
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	emitted *lru.Cache

	mu       sync.Mutex
	failures map[string]error
}

func NewService(ctx context.Context, cfg Config) (*Service, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("fetcher requires at least one attester endpoint")
	}
	if cfg.Out == nil {
		return nil, errors.New("fetcher requires an output channel")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}
	if cfg.DedupeSize == 0 {
		cfg.DedupeSize = DefaultDedupeSize
	}
	emitted, err := lru.New(cfg.DedupeSize)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		emitted:  emitted,
		failures: make(map[string]error),
	}, nil
}

// Start launches the polling loop.
func (s *Service) Start() {
	go s.run()
}

// Stop halts polling.
func (s *Service) Stop() error {
	s.cancel()
	<-s.done
	return nil
}

// Status errors when every configured attester endpoint is failing.
func (s *Service) Status() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failures) < len(s.cfg.Endpoints) {
		return nil
	}
	for endpoint, err := range s.failures {
		return errors.Wrapf(err, "all attester endpoints failing, e.g. %s", endpoint)
	}
	return nil
}

func (s *Service) run() {
	defer close(s.done)
	log.WithField("endpoints", len(s.cfg.Endpoints)).Info("Fetcher started")
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	s.poll()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Service) poll() {
	for _, endpoint := range s.cfg.Endpoints {
		docs, err := s.fetchReady(endpoint)
		s.recordHealth(endpoint, err)
		if err != nil {
			fetcherPolls.WithLabelValues(endpoint, "error").Inc()
			fetchErrors.Inc()
			log.WithError(err).WithField("endpoint", endpoint).Warn("Ready poll failed")
			continue
		}
		fetcherPolls.WithLabelValues(endpoint, "ok").Inc()
		for _, doc := range docs {
			s.emit(doc)
		}
	}
}

func (s *Service) recordHealth(endpoint string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failures[endpoint] = err
	} else {
		delete(s.failures, endpoint)
	}
}

func (s *Service) fetchReady(endpoint string) ([]attestationDoc, error) {
	var resp struct {
		Count        int              `json:"count"`
		Attestations []attestationDoc `json:"attestations"`
	}
	if err := s.getJSON(endpoint+"/attestations/ready", &resp); err != nil {
		return nil, err
	}
	return resp.Attestations, nil
}

func (s *Service) emit(doc attestationDoc) {
	ready, err := decodeAttestation(doc)
	if err != nil {
		fetchErrors.Inc()
		log.WithError(err).WithField("messageHash", doc.MessageHash).Error("Discarding undecodable attestation")
		return
	}
	if _, seen := s.emitted.Get(ready.MessageID); seen {
		return
	}
	select {
	case s.cfg.Out <- ready:
		s.emitted.Add(ready.MessageID, struct{}{})
		readyFetched.Inc()
		log.WithFields(logrus.Fields{
			"messageId":   ready.MessageID.String(),
			"destination": ready.DestinationDomain.String(),
			"signatures":  len(ready.Signatures),
		}).Info("Ready attestation fetched")
	case <-s.ctx.Done():
	}
}

// ByHash fetches one attestation by message id, trying endpoints in order.
func (s *Service) ByHash(id types.MessageID) (*types.ReadyAttestation, error) {
	return s.lookup("/attestation/" + id.String())
}

// ByNonce fetches one attestation by source domain and nonce.
func (s *Service) ByNonce(source types.Domain, nonce uint64) (*types.ReadyAttestation, error) {
	return s.lookup(fmt.Sprintf("/attestation/%d/%d", uint32(source), nonce))
}

func (s *Service) lookup(path string) (*types.ReadyAttestation, error) {
	var lastErr error = ErrNotFound
	for _, endpoint := range s.cfg.Endpoints {
		var doc attestationDoc
		err := s.getJSON(endpoint+path, &doc)
		if err != nil {
			lastErr = err
			continue
		}
		return decodeAttestation(doc)
	}
	return nil, lastErr
}

func (s *Service) getJSON(url string, out interface{}) error {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "executing request")
	}
	defer func() {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()              //nolint:errcheck
	}()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decoding response")
}

// decodeAttestation converts an API document into the internal form. The
// destination domain is recovered from the canonical bytes.
func decodeAttestation(doc attestationDoc) (*types.ReadyAttestation, error) {
	id, err := types.MessageIDFromHex(doc.MessageHash)
	if err != nil {
		return nil, errors.Wrap(err, "bad message hash")
	}
	messageBytes, err := hex.DecodeString(strings.TrimPrefix(doc.Message, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "bad message bytes")
	}
	msg, err := canonical.Parse(messageBytes)
	if err != nil {
		return nil, errors.Wrap(err, "bad canonical message")
	}
	ready := &types.ReadyAttestation{
		MessageID:         id,
		MessageBytes:      messageBytes,
		DestinationDomain: msg.DestinationDomain,
	}
	for _, sig := range doc.Signatures {
		raw, err := hex.DecodeString(strings.TrimPrefix(sig.Signature, "0x"))
		if err != nil {
			return nil, errors.Wrap(err, "bad signature encoding")
		}
		ready.Signatures = append(ready.Signatures, types.PartialSignature{
			AttesterID: sig.AttesterID,
			Signature:  raw,
			SignedAtMs: sig.SignedAt,
		})
	}
	return ready, nil
}
