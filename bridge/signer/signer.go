// Package signer holds one attester's key material and produces partial
// signatures over message ids. The destination domain dictates the scheme:
// ECDSA over secp256k1 for EVM destinations, sr25519 for the Substrate relay.
// Scheme selection never leaks above this package.
package signer

import (
	"crypto/ecdsa"
	"strings"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// substrateNetworkID is the generic substrate SS58 network prefix.
const substrateNetworkID = 42

var (
	// ErrUnsupportedDestination is returned for destination domains with no
	// off-chain signature scheme.
	ErrUnsupportedDestination = errors.New("no signature scheme for destination domain")
	// ErrNoKey is returned when the signer holds no key for the requested
	// scheme.
	ErrNoKey = errors.New("signer holds no key for this scheme")
	// ErrSelfVerify is returned when a freshly produced signature fails
	// verification against the signer's own key. This is fatal: an attester
	// that cannot trust its signatures must not keep running.
	ErrSelfVerify = errors.New("self-verification of produced signature failed")
)

// Signer owns one attester's private key material. Keys never leave the
// process; signing is single-flight per attester by construction (the
// attester service drives one signing worker).
type Signer struct {
	identity     types.AttesterIdentity
	ecdsaKey     *ecdsa.PrivateKey
	ecdsaAddress common.Address
	srPair       signature.KeyringPair
	hasSr        bool
	now          func() time.Time
}

// New constructs a signer from hex-encoded ECDSA key material and/or an
// sr25519 SURI. Either may be empty; signing for the corresponding
// destination then fails with ErrNoKey. At least one key is required.
func New(id uint8, ecdsaHex, sr25519SURI string) (*Signer, error) {
	if ecdsaHex == "" && sr25519SURI == "" {
		return nil, errors.New("signer requires at least one key")
	}
	s := &Signer{
		identity: types.AttesterIdentity{ID: id},
		now:      time.Now,
	}
	if ecdsaHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(ecdsaHex, "0x"))
		if err != nil {
			return nil, errors.Wrap(err, "invalid ECDSA key material")
		}
		s.ecdsaKey = key
		s.ecdsaAddress = crypto.PubkeyToAddress(key.PublicKey)
		copy(s.identity.ECDSAAddress[:], s.ecdsaAddress.Bytes())
	}
	if sr25519SURI != "" {
		pair, err := signature.KeyringPairFromSecret(sr25519SURI, substrateNetworkID)
		if err != nil {
			return nil, errors.Wrap(err, "invalid sr25519 key material")
		}
		s.srPair = pair
		s.hasSr = true
		copy(s.identity.Sr25519Public[:], pair.PublicKey)
	}
	return s, nil
}

// Identity returns the attester identity derived from the held keys.
func (s *Signer) Identity() types.AttesterIdentity {
	return s.identity
}

// ECDSAAddress returns the 20-byte address of the ECDSA key, or the zero
// address if none is held.
func (s *Signer) ECDSAAddress() common.Address {
	return s.ecdsaAddress
}

// Sign produces a partial signature over the message id using the scheme the
// destination domain demands. The output is verified against the signer's
// own key before release; a mismatch returns ErrSelfVerify and the caller
// must treat the process as broken.
func (s *Signer) Sign(id types.MessageID, destination types.Domain) (*types.PartialSignature, error) {
	var sig []byte
	var err error
	switch {
	case destination.IsEVM():
		sig, err = s.signECDSA(id)
	case destination == types.DomainSubstrate:
		sig, err = s.signSr25519(id)
	default:
		return nil, ErrUnsupportedDestination
	}
	if err != nil {
		return nil, err
	}
	return &types.PartialSignature{
		AttesterID: s.identity.ID,
		Signature:  sig,
		SignedAtMs: uint64(s.now().UnixMilli()),
	}, nil
}

// signECDSA signs the Ethereum-signed-message prefix of the id, producing the
// 65-byte (r, s, v) form with v in {27, 28} that EVM contracts expect from
// ecrecover.
func (s *Signer) signECDSA(id types.MessageID) ([]byte, error) {
	if s.ecdsaKey == nil {
		return nil, ErrNoKey
	}
	digest := accounts.TextHash(id[:])
	sig, err := crypto.Sign(digest, s.ecdsaKey)
	if err != nil {
		return nil, errors.Wrap(err, "ecdsa signing")
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil || crypto.PubkeyToAddress(*pub) != s.ecdsaAddress {
		return nil, ErrSelfVerify
	}
	sig[64] += 27
	return sig, nil
}

// signSr25519 signs the id directly; Substrate verifiers hash internally.
func (s *Signer) signSr25519(id types.MessageID) ([]byte, error) {
	if !s.hasSr {
		return nil, ErrNoKey
	}
	sig, err := signature.Sign(id[:], s.srPair.URI)
	if err != nil {
		return nil, errors.Wrap(err, "sr25519 signing")
	}
	ok, err := signature.Verify(id[:], sig, s.srPair.URI)
	if err != nil || !ok {
		return nil, ErrSelfVerify
	}
	return sig, nil
}

// VerifyECDSA checks a 65-byte (r, s, v) partial signature against the
// expected signer address. Used by tests and by operators debugging a fleet;
// the authoritative verification happens on chain.
func VerifyECDSA(id types.MessageID, sig []byte, address common.Address) bool {
	if len(sig) != crypto.SignatureLength {
		return false
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(id[:]), normalized)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == address
}
