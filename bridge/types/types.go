// Package types holds the shared data model of the Etrid bridge coordination
// plane: chain domains, observed messages, attestations and partial
// signatures. Everything here is plain data; behavior lives in the packages
// that own each stage of the pipeline.
package types

import (
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Domain identifies a chain's role in the bridge. The tags are stable across
// adapters, attesters and the on-chain verifiers; they must never be
// renumbered.
type Domain uint32

const (
	DomainEthereum  Domain = 0
	DomainSolana    Domain = 1
	DomainSubstrate Domain = 2
	DomainPolygon   Domain = 3
	DomainArbitrum  Domain = 4
	DomainBNB       Domain = 5
	DomainBase      Domain = 6
	DomainBitcoin   Domain = 7
	DomainTron      Domain = 8
	DomainXRPL      Domain = 9
	DomainCardano   Domain = 10
	DomainStellar   Domain = 11
)

var domainNames = map[Domain]string{
	DomainEthereum:  "ethereum",
	DomainSolana:    "solana",
	DomainSubstrate: "substrate",
	DomainPolygon:   "polygon",
	DomainArbitrum:  "arbitrum",
	DomainBNB:       "bnb",
	DomainBase:      "base",
	DomainBitcoin:   "bitcoin",
	DomainTron:      "tron",
	DomainXRPL:      "xrpl",
	DomainCardano:   "cardano",
	DomainStellar:   "stellar",
}

func (d Domain) String() string {
	if name, ok := domainNames[d]; ok {
		return name
	}
	return fmt.Sprintf("domain-%d", uint32(d))
}

// IsEVM reports whether the domain is an Ethereum-family chain. EVM domains
// share the CCTP message format, Keccak-256 message ids and ECDSA signatures.
func (d Domain) IsEVM() bool {
	switch d {
	case DomainEthereum, DomainPolygon, DomainArbitrum, DomainBNB, DomainBase:
		return true
	default:
		return false
	}
}

// Known reports whether the tag is assigned.
func (d Domain) Known() bool {
	_, ok := domainNames[d]
	return ok
}

// DomainFromName resolves a lowercase chain name to its domain tag.
func DomainFromName(name string) (Domain, bool) {
	for domain, candidate := range domainNames {
		if candidate == name {
			return domain, true
		}
	}
	return 0, false
}

// MessageID is the 32-byte digest of a canonically encoded message. It is the
// only cross-attester identity of a transfer.
type MessageID [32]byte

func (id MessageID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// MessageIDFromHex parses a 0x-prefixed 64-hex-character message id.
func MessageIDFromHex(s string) (MessageID, error) {
	var id MessageID
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s) != 64 {
		return id, errors.Errorf("message id must be 64 hex characters, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, errors.Wrap(err, "malformed message id")
	}
	copy(id[:], b)
	return id, nil
}

// TokenRef identifies the token burned on the source chain. The zero value
// means the chain's native asset.
type TokenRef [32]byte

// IsNative reports whether the reference names the source chain's native
// asset.
func (t TokenRef) IsNative() bool {
	return t == TokenRef{}
}

// ObservedMessage is a finality-confirmed bridge event in normalized form.
// Adapters emit these; everything downstream is chain-agnostic.
type ObservedMessage struct {
	SourceDomain      Domain
	DestinationDomain Domain
	Nonce             uint64
	Sender            [32]byte
	Recipient         [32]byte
	Amount            *uint256.Int // bounded to 128 bits by the emitting adapter
	Token             TokenRef
	SourceTx          []byte // chain-native transaction identifier, variable length
	SourceBlock       uint64
	SourceTimestampMs uint64
	ConfirmationsSeen uint32
}

// AttesterIdentity is the stable identity of one attester in the fleet.
type AttesterIdentity struct {
	ID            uint8
	ECDSAAddress  [20]byte
	Sr25519Public [32]byte
}

// PartialSignature is one attester's signature over a MessageID. The scheme
// is dictated by the message's destination domain: 65-byte ECDSA (r,s,v) for
// EVM destinations, 64-byte sr25519 for the Substrate destination.
type PartialSignature struct {
	AttesterID uint8
	Signature  []byte
	SignedAtMs uint64
}

// AttestationStatus is the lifecycle state of an attestation.
type AttestationStatus uint8

const (
	StatusPending AttestationStatus = iota
	StatusReady
	StatusRelayed
	StatusExpired
)

func (s AttestationStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusRelayed:
		return "relayed"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("status-%d", uint8(s))
	}
}

// Attestation is a canonical message plus the partial signatures collected
// for it. Mutated only by the owning attestation store: the signature set is
// grow-only and the status moves pending -> ready -> relayed. Expiry is
// derived from the clock, never written.
type Attestation struct {
	MessageID         MessageID
	MessageBytes      []byte
	SourceDomain      Domain
	DestinationDomain Domain
	Nonce             uint64
	Signatures        []PartialSignature
	Status            AttestationStatus
	CreatedAtMs       uint64
	ExpiresAtMs       uint64
}

// SignatureFor returns the signature contributed by the given attester, if
// any.
func (a *Attestation) SignatureFor(attesterID uint8) (PartialSignature, bool) {
	for _, sig := range a.Signatures {
		if sig.AttesterID == attesterID {
			return sig, true
		}
	}
	return PartialSignature{}, false
}

// ReadyAttestation is the outward projection of an attestation that has
// crossed its threshold. Signatures are ordered by attester id ascending so
// destination-chain verification is deterministic.
type ReadyAttestation struct {
	MessageID         MessageID
	MessageBytes      []byte
	Signatures        []PartialSignature
	DestinationDomain Domain
}

// ConcatenatedSignatures returns the signature bytes joined in attester-id
// order, the layout destination contracts verify against.
func (r *ReadyAttestation) ConcatenatedSignatures() []byte {
	var out []byte
	for _, sig := range r.Signatures {
		out = append(out, sig.Signature...)
	}
	return out
}
