// Package canonical implements the deterministic wire encoding every attester
// signs. The 128-byte layout and the dual hash are load bearing: the
// destination chain recomputes the message id with its native hasher, so any
// divergence here forks the bridge.
package canonical

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// EncodedLength is the fixed size of a canonically encoded message.
const EncodedLength = 128

// Field offsets within the canonical encoding. Integers are little-endian.
const (
	offSourceDomain      = 0
	offDestinationDomain = 4
	offNonce             = 8
	offSender            = 16
	offRecipient         = 48
	offToken             = 80
	offAmount            = 112
)

var (
	// ErrAmountOverflow marks an amount that does not fit the 128-bit
	// canonical word.
	ErrAmountOverflow = errors.New("amount exceeds 128 bits")
	// ErrUnknownDomain marks a message naming an unassigned domain tag.
	ErrUnknownDomain = errors.New("unknown domain tag")
	// ErrBadLength marks a byte slice that is not a canonical encoding.
	ErrBadLength = errors.Errorf("canonical message must be %d bytes", EncodedLength)
)

// Encode produces the canonical 128-byte encoding of a message and its id.
// The encoding covers only the fields that identify the logical transfer;
// source transaction and block metadata are deliberately excluded so the same
// transfer hashes identically no matter which re-org history the adapter saw.
func Encode(m *types.ObservedMessage) ([]byte, types.MessageID, error) {
	if !m.SourceDomain.Known() || !m.DestinationDomain.Known() {
		return nil, types.MessageID{}, ErrUnknownDomain
	}
	if m.Amount == nil || m.Amount.BitLen() > 128 {
		return nil, types.MessageID{}, ErrAmountOverflow
	}

	buf := make([]byte, EncodedLength)
	binary.LittleEndian.PutUint32(buf[offSourceDomain:], uint32(m.SourceDomain))
	binary.LittleEndian.PutUint32(buf[offDestinationDomain:], uint32(m.DestinationDomain))
	binary.LittleEndian.PutUint64(buf[offNonce:], m.Nonce)
	copy(buf[offSender:], m.Sender[:])
	copy(buf[offRecipient:], m.Recipient[:])
	copy(buf[offToken:], m.Token[:])
	binary.LittleEndian.PutUint64(buf[offAmount:], m.Amount.Uint64())
	binary.LittleEndian.PutUint64(buf[offAmount+8:], hi64(m.Amount))

	return buf, Hash(m.DestinationDomain, buf), nil
}

// Parse is the inverse of Encode for the canonical fields. Block metadata is
// not part of the encoding and comes back zero.
func Parse(buf []byte) (*types.ObservedMessage, error) {
	if len(buf) != EncodedLength {
		return nil, ErrBadLength
	}
	m := &types.ObservedMessage{
		SourceDomain:      types.Domain(binary.LittleEndian.Uint32(buf[offSourceDomain:])),
		DestinationDomain: types.Domain(binary.LittleEndian.Uint32(buf[offDestinationDomain:])),
		Nonce:             binary.LittleEndian.Uint64(buf[offNonce:]),
	}
	if !m.SourceDomain.Known() || !m.DestinationDomain.Known() {
		return nil, ErrUnknownDomain
	}
	copy(m.Sender[:], buf[offSender:offSender+32])
	copy(m.Recipient[:], buf[offRecipient:offRecipient+32])
	copy(m.Token[:], buf[offToken:offToken+32])

	lo := binary.LittleEndian.Uint64(buf[offAmount:])
	hi := binary.LittleEndian.Uint64(buf[offAmount+8:])
	m.Amount = new(uint256.Int)
	m.Amount[0] = lo
	m.Amount[1] = hi
	return m, nil
}

// Hash computes the message id for the given canonical bytes. The hasher is
// the destination chain's native one: Blake2b-256 for the Substrate relay,
// Keccak-256 everywhere else.
func Hash(destination types.Domain, messageBytes []byte) types.MessageID {
	var id types.MessageID
	if destination == types.DomainSubstrate {
		sum := blake2b.Sum256(messageBytes)
		copy(id[:], sum[:])
		return id
	}
	copy(id[:], crypto.Keccak256(messageBytes))
	return id
}

func hi64(v *uint256.Int) uint64 {
	return v[1]
}
