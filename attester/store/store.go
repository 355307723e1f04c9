// Package store implements the per-attester attestation store: a
// single-writer mapping from message id to attestation with one-signature-
// per-attester enforcement and the threshold-driven pending -> ready
// transition. All mutations serialize behind one mutex; readers get deep
// copies and never observe a mutation in flight.
package store

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// DefaultTTL is how long an attestation is retained after creation.
const DefaultTTL = time.Hour

// ErrMessageBytesMismatch means a message id was ensured with bytes that
// differ from the stored copy. That indicates a canonicalization bug
// somewhere in the fleet and is never silently reconciled.
var ErrMessageBytesMismatch = errors.New("message bytes differ from stored copy for same id")

// AddResult classifies the outcome of AddSignature.
type AddResult int

const (
	Accepted AddResult = iota
	DuplicateAttester
	NotFound
	Expired
)

func (r AddResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case DuplicateAttester:
		return "duplicate_attester"
	case NotFound:
		return "not_found"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("add-result-%d", int(r))
	}
}

// Counts is a point-in-time census of the store by derived status.
type Counts struct {
	Pending int `json:"pending"`
	Ready   int `json:"ready"`
	Relayed int `json:"relayed"`
	Expired int `json:"expired"`
}

// Config parameterizes a store.
type Config struct {
	// Threshold returns the signature count required for the destination
	// domain. Required.
	Threshold func(types.Domain) int
	// TTL is the retention window; DefaultTTL when zero.
	TTL time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store is the attestation store. One instance is owned by exactly one
// attester service; there is no cross-process sharing.
type Store struct {
	mu      sync.RWMutex
	atts    map[types.MessageID]*types.Attestation
	byNonce *gocache.Cache
	cfg     Config
}

// New creates an empty store.
func New(cfg Config) *Store {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		atts:    make(map[types.MessageID]*types.Attestation),
		byNonce: gocache.New(cfg.TTL, cfg.TTL),
		cfg:     cfg,
	}
}

func nonceKey(source types.Domain, nonce uint64) string {
	return fmt.Sprintf("%d/%d", uint32(source), nonce)
}

// Ensure creates the attestation for id if absent and returns a snapshot.
// Message bytes of an existing entry are never overwritten: differing bytes
// fail with ErrMessageBytesMismatch. Repeated calls with equal arguments are
// idempotent and do not alter signature counts.
func (s *Store) Ensure(id types.MessageID, messageBytes []byte, src, dst types.Domain, nonce uint64) (*types.Attestation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.atts[id]; ok {
		if !bytes.Equal(existing.MessageBytes, messageBytes) {
			canonicalizationConflicts.Inc()
			return nil, ErrMessageBytesMismatch
		}
		return s.snapshotLocked(existing), nil
	}

	now := uint64(s.cfg.Now().UnixMilli())
	att := &types.Attestation{
		MessageID:         id,
		MessageBytes:      append([]byte(nil), messageBytes...),
		SourceDomain:      src,
		DestinationDomain: dst,
		Nonce:             nonce,
		Status:            types.StatusPending,
		CreatedAtMs:       now,
		ExpiresAtMs:       now + uint64(s.cfg.TTL.Milliseconds()),
	}
	s.atts[id] = att
	s.byNonce.Set(nonceKey(src, nonce), id, gocache.DefaultExpiration)
	s.updateGaugesLocked()
	return s.snapshotLocked(att), nil
}

// AddSignature appends a partial signature. On acceptance the attestation
// transitions pending -> ready atomically once the destination threshold is
// met.
func (s *Store) AddSignature(id types.MessageID, sig types.PartialSignature) AddResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	att, ok := s.atts[id]
	if !ok {
		return NotFound
	}
	now := uint64(s.cfg.Now().UnixMilli())
	if now >= att.ExpiresAtMs {
		return Expired
	}
	if _, dup := att.SignatureFor(sig.AttesterID); dup {
		duplicateSignatures.Inc()
		return DuplicateAttester
	}

	sig.Signature = append([]byte(nil), sig.Signature...)
	att.Signatures = append(att.Signatures, sig)
	sort.Slice(att.Signatures, func(i, j int) bool {
		return att.Signatures[i].AttesterID < att.Signatures[j].AttesterID
	})
	signaturesAdded.Inc()

	if att.Status == types.StatusPending && len(att.Signatures) >= s.cfg.Threshold(att.DestinationDomain) {
		att.Status = types.StatusReady
	}
	s.updateGaugesLocked()
	return Accepted
}

// Get returns a snapshot of the attestation for id, with expiry derived
// against the current clock.
func (s *Store) Get(id types.MessageID) (*types.Attestation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	att, ok := s.atts[id]
	if !ok {
		return nil, false
	}
	return s.snapshotLocked(att), true
}

// GetByNonce looks an attestation up by its source domain and nonce.
func (s *Store) GetByNonce(source types.Domain, nonce uint64) (*types.Attestation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byNonce.Get(nonceKey(source, nonce))
	if !ok {
		return nil, false
	}
	att, ok := s.atts[v.(types.MessageID)]
	if !ok {
		return nil, false
	}
	return s.snapshotLocked(att), true
}

// ListReady returns snapshots of every attestation whose derived status is
// ready.
func (s *Store) ListReady() []*types.Attestation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Attestation
	for _, att := range s.atts {
		snap := s.snapshotLocked(att)
		if snap.Status == types.StatusReady {
			out = append(out, snap)
		}
	}
	return out
}

// MarkRelayed transitions ready -> relayed. Idempotent: marking an already
// relayed attestation is a no-op, as is marking one that never reached
// threshold.
func (s *Store) MarkRelayed(id types.MessageID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.atts[id]
	if !ok {
		return
	}
	if att.Status == types.StatusReady {
		att.Status = types.StatusRelayed
		attestationsRelayed.Inc()
		s.updateGaugesLocked()
	}
}

// Sweep removes exactly those entries with now >= expires_at and returns how
// many were removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	nowMs := uint64(now.UnixMilli())
	removed := 0
	for id, att := range s.atts {
		if nowMs >= att.ExpiresAtMs {
			delete(s.atts, id)
			s.byNonce.Delete(nonceKey(att.SourceDomain, att.Nonce))
			removed++
		}
	}
	if removed > 0 {
		sweepRemoved.Add(float64(removed))
		s.updateGaugesLocked()
	}
	return removed
}

// Census counts attestations by derived status.
func (s *Store) Census() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c Counts
	for _, att := range s.atts {
		switch s.deriveStatusLocked(att) {
		case types.StatusPending:
			c.Pending++
		case types.StatusReady:
			c.Ready++
		case types.StatusRelayed:
			c.Relayed++
		case types.StatusExpired:
			c.Expired++
		}
	}
	return c
}

// Len returns the number of stored attestations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.atts)
}

// deriveStatusLocked projects the stored status against the clock. Expiry is
// a timeout derivation, not a stored mutation: an entry past its deadline
// reports expired even before the sweeper removes it, and a ready entry is
// only ready while it is still alive.
func (s *Store) deriveStatusLocked(att *types.Attestation) types.AttestationStatus {
	if att.Status == types.StatusRelayed {
		return types.StatusRelayed
	}
	if uint64(s.cfg.Now().UnixMilli()) >= att.ExpiresAtMs {
		return types.StatusExpired
	}
	return att.Status
}

func (s *Store) snapshotLocked(att *types.Attestation) *types.Attestation {
	snap := &types.Attestation{
		MessageID:         att.MessageID,
		MessageBytes:      append([]byte(nil), att.MessageBytes...),
		SourceDomain:      att.SourceDomain,
		DestinationDomain: att.DestinationDomain,
		Nonce:             att.Nonce,
		Status:            s.deriveStatusLocked(att),
		CreatedAtMs:       att.CreatedAtMs,
		ExpiresAtMs:       att.ExpiresAtMs,
	}
	snap.Signatures = make([]types.PartialSignature, len(att.Signatures))
	for i, sig := range att.Signatures {
		snap.Signatures[i] = types.PartialSignature{
			AttesterID: sig.AttesterID,
			Signature:  append([]byte(nil), sig.Signature...),
			SignedAtMs: sig.SignedAtMs,
		}
	}
	return snap
}

func (s *Store) updateGaugesLocked() {
	var pending, ready float64
	for _, att := range s.atts {
		switch s.deriveStatusLocked(att) {
		case types.StatusPending:
			pending++
		case types.StatusReady:
			ready++
		}
	}
	attestationsPending.Set(pending)
	attestationsReady.Set(ready)
}
