// Package submitter relays threshold-complete attestations to their
// destination chains. Each attestation moves through a small state machine:
// queued, then in flight, then confirmed on success or back to queued on a
// retryable failure, or rejected on a terminal one. A message already relayed
// on chain counts as rejected and is not an error; another relayer simply got
// there first.
package submitter

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

var log = logrus.WithField("prefix", "submitter")

const (
	// DefaultMaxAttempts bounds retries for one attestation.
	DefaultMaxAttempts = 3
	// DefaultRetryDelay is the backoff base between attempts.
	DefaultRetryDelay = 60 * time.Second
)

var (
	// ErrAlreadyRelayed is returned by destinations when the chain reports
	// the message id as spent. Terminal and expected under fleet operation.
	ErrAlreadyRelayed = errors.New("message already relayed on destination")
	// ErrFeeTooHigh is returned by destinations when the current network fee
	// estimate exceeds the configured cap. Retryable; fees come back down.
	ErrFeeTooHigh = errors.New("network fee exceeds configured cap")
)

// Destination submits one attestation to one chain. Implementations must be
// safe for concurrent Submit calls for distinct message ids.
type Destination interface {
	Domain() types.Domain
	Submit(ctx context.Context, ready *types.ReadyAttestation) error
}

// Config parameterizes the submitter.
type Config struct {
	// In delivers ready attestations, deduped upstream by the fetcher.
	In <-chan *types.ReadyAttestation
	// Destinations, one per relayable domain. Attestations for domains with
	// no destination are dropped with a warning.
	Destinations []Destination
	// Notify is called after a confirmed or rejected transition so the
	// attester fleet can mark the attestation relayed. Best-effort; may be
	// nil.
	Notify      func(types.MessageID)
	MaxAttempts uint
	RetryDelay  time.Duration
}

// Service consumes ready attestations until stopped.
type Service struct {
	cfg          Config
	destinations map[types.Domain]Destination
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	wg           sync.WaitGroup

	mu       sync.Mutex
	inFlight map[types.MessageID]struct{}
}

func NewService(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.In == nil {
		return nil, errors.New("submitter requires an input channel")
	}
	if len(cfg.Destinations) == 0 {
		return nil, errors.New("submitter requires at least one destination")
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	destinations := make(map[types.Domain]Destination, len(cfg.Destinations))
	for _, dst := range cfg.Destinations {
		if _, dup := destinations[dst.Domain()]; dup {
			return nil, errors.Errorf("duplicate destination for domain %s", dst.Domain())
		}
		destinations[dst.Domain()] = dst
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		cfg:          cfg,
		destinations: destinations,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		inFlight:     make(map[types.MessageID]struct{}),
	}, nil
}

// Start launches the dispatch loop.
func (s *Service) Start() {
	go s.run()
}

// Stop cancels in-flight submissions and waits for workers to exit.
func (s *Service) Stop() error {
	s.cancel()
	<-s.done
	s.wg.Wait()
	return nil
}

// Status always reports healthy; submission failures surface through metrics
// and are retried from the attester fleet's ready set on restart.
func (s *Service) Status() error {
	return nil
}

func (s *Service) run() {
	defer close(s.done)
	log.WithField("destinations", len(s.destinations)).Info("Submitter started")
	for {
		select {
		case <-s.ctx.Done():
			return
		case ready := <-s.cfg.In:
			if ready == nil {
				continue
			}
			s.dispatch(ready)
		}
	}
}

// dispatch moves one attestation from queued to in flight. At most one
// submission per message id is active at any time.
func (s *Service) dispatch(ready *types.ReadyAttestation) {
	dst, ok := s.destinations[ready.DestinationDomain]
	if !ok {
		submitterAttempts.WithLabelValues(ready.DestinationDomain.String(), "unroutable").Inc()
		log.WithFields(logrus.Fields{
			"messageId":   ready.MessageID.String(),
			"destination": ready.DestinationDomain.String(),
		}).Warn("No destination configured; dropping attestation")
		return
	}

	s.mu.Lock()
	if _, active := s.inFlight[ready.MessageID]; active {
		s.mu.Unlock()
		return
	}
	s.inFlight[ready.MessageID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	submitterInFlight.Inc()
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, ready.MessageID)
			s.mu.Unlock()
			submitterInFlight.Dec()
		}()
		s.submit(dst, ready)
	}()
}

func (s *Service) submit(dst Destination, ready *types.ReadyAttestation) {
	fields := logrus.Fields{
		"messageId":   ready.MessageID.String(),
		"destination": ready.DestinationDomain.String(),
		"signatures":  len(ready.Signatures),
	}
	started := time.Now()

	err := retry.Do(
		func() error {
			return dst.Submit(s.ctx, ready)
		},
		retry.Context(s.ctx),
		retry.Attempts(s.cfg.MaxAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(s.cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrAlreadyRelayed)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			submitterAttempts.WithLabelValues(ready.DestinationDomain.String(), "retry").Inc()
			log.WithError(err).WithFields(fields).WithField("attempt", attempt+1).Warn("Submission failed; will retry")
		}),
	)

	domain := ready.DestinationDomain.String()
	switch {
	case err == nil:
		submitterAttempts.WithLabelValues(domain, "confirmed").Inc()
		submissionLatency.Observe(time.Since(started).Seconds())
		log.WithFields(fields).Info("Relay confirmed")
		s.notify(ready.MessageID)
	case errors.Is(err, ErrAlreadyRelayed):
		submitterAttempts.WithLabelValues(domain, "rejected").Inc()
		log.WithFields(fields).Info("Message already relayed; nothing to do")
		s.notify(ready.MessageID)
	case errors.Is(err, context.Canceled):
		// Shutdown mid-submission; the attestation stays ready on the
		// attesters and is picked up after restart.
	default:
		submitterAttempts.WithLabelValues(domain, "failed").Inc()
		log.WithError(err).WithFields(fields).Error("Relay abandoned after retries")
	}
}

func (s *Service) notify(id types.MessageID) {
	if s.cfg.Notify != nil {
		s.cfg.Notify(id)
	}
}
