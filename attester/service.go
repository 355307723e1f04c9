// Package attester implements the attester service: the single consumer of
// every adapter's observed messages. Each message is canonicalized, recorded
// in the attestation store and signed with the scheme its destination domain
// demands. One signing worker serializes all store writes.
package attester

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/store"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/canonical"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/signer"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

var log = logrus.WithField("prefix", "attester")

// Config parameterizes the attester service.
type Config struct {
	Signer *signer.Signer
	Store  *store.Store
	// In is the merged adapter output. The service is its only consumer.
	In <-chan *types.ObservedMessage
	// Fatal is invoked when the signer fails self-verification. An attester
	// that cannot trust its own signatures must stop contributing; the
	// default handler logs and exits the process.
	Fatal func(error)
}

// Service consumes observed messages until stopped.
type Service struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Signer == nil || cfg.Store == nil || cfg.In == nil {
		return nil, errors.New("attester service requires signer, store and input channel")
	}
	if cfg.Fatal == nil {
		cfg.Fatal = func(err error) {
			log.WithError(err).Fatal("Signer self-verification failed")
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

// Start launches the signing worker.
func (s *Service) Start() {
	go s.run()
}

// Stop halts consumption. Messages already buffered in the input channel stay
// there and are lost with the process; adapters re-observe after restart.
func (s *Service) Stop() error {
	s.cancel()
	<-s.done
	return nil
}

// Status always reports healthy while the worker runs; a wedged signer
// surfaces through the signing error counters instead.
func (s *Service) Status() error {
	return nil
}

func (s *Service) run() {
	defer close(s.done)
	id := s.cfg.Signer.Identity().ID
	log.WithField("attesterId", id).Info("Attester service started")
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.cfg.In:
			if msg == nil {
				continue
			}
			s.process(msg)
		}
	}
}

func (s *Service) process(msg *types.ObservedMessage) {
	messagesProcessed.Inc()

	messageBytes, id, err := canonical.Encode(msg)
	if err != nil {
		signingErrors.WithLabelValues("canonicalize").Inc()
		log.WithError(err).WithFields(logrus.Fields{
			"sourceDomain": msg.SourceDomain.String(),
			"nonce":        msg.Nonce,
		}).Error("Dropping message that cannot be canonicalized")
		return
	}

	fields := logrus.Fields{
		"messageId":    id.String(),
		"sourceDomain": msg.SourceDomain.String(),
		"destination":  msg.DestinationDomain.String(),
		"nonce":        msg.Nonce,
	}

	if _, err := s.cfg.Store.Ensure(id, messageBytes, msg.SourceDomain, msg.DestinationDomain, msg.Nonce); err != nil {
		signingErrors.WithLabelValues("store").Inc()
		log.WithError(err).WithFields(fields).Error("Refusing to attest conflicting message bytes")
		return
	}

	sig, err := s.cfg.Signer.Sign(id, msg.DestinationDomain)
	switch {
	case errors.Is(err, signer.ErrSelfVerify):
		s.cfg.Fatal(err)
		return
	case errors.Is(err, signer.ErrUnsupportedDestination), errors.Is(err, signer.ErrNoKey):
		signingErrors.WithLabelValues("unsupported").Inc()
		log.WithError(err).WithFields(fields).Warn("Cannot sign for destination; attestation left unsigned")
		return
	case err != nil:
		signingErrors.WithLabelValues("sign").Inc()
		log.WithError(err).WithFields(fields).Error("Signing failed")
		return
	}

	switch result := s.cfg.Store.AddSignature(id, *sig); result {
	case store.Accepted:
		messagesSigned.WithLabelValues(msg.DestinationDomain.String()).Inc()
		log.WithFields(fields).Debug("Signed observed message")
	case store.DuplicateAttester:
		log.WithFields(fields).Info("Already signed this message")
	default:
		signingErrors.WithLabelValues("store").Inc()
		log.WithFields(fields).WithField("result", result.String()).Warn("Signature not recorded")
	}
}
