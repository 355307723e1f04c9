// Package evm implements the adapter Source and Parser for Ethereum-family
// chains. One package serves Ethereum, Polygon, Arbitrum, BNB and Base; the
// chains differ only in endpoint, contract address and confirmation depth.
package evm

import (
	"encoding/binary"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// Wire layout of a cross-chain message as emitted by MessageSent and accepted
// by receiveMessage. All integers big-endian.
const (
	headerLength  = 4 + 4 + 4 + 8 + 32 + 32 + 32
	bodyLength    = 4 + 32 + 32 + 32 + 32
	messageLength = headerLength + bodyLength

	offSourceDomain      = 4
	offDestinationDomain = 8
	offNonce             = 12
	offHeaderSender      = 20
	offHeaderRecipient   = 52
	offDestinationCaller = 84
	offBodyVersion       = headerLength
	offBurnToken         = headerLength + 4
	offMintRecipient     = headerLength + 36
	offAmount            = headerLength + 68
	offMessageSender     = headerLength + 100
)

var (
	// ErrBadMessageLength rejects messages that are not exactly one header
	// plus one burn body.
	ErrBadMessageLength = errors.New("message is not header plus burn body")
	// ErrAmountTooLarge rejects burn amounts above 2^128-1; downstream
	// encodings carry amounts as u128.
	ErrAmountTooLarge = errors.New("burn amount exceeds 128 bits")
)

// Message is the decoded form of the on-chain wire message. The header
// addresses the messenger contracts; the burn body carries the transfer.
type Message struct {
	Version           uint32
	SourceDomain      types.Domain
	DestinationDomain types.Domain
	Nonce             uint64
	Sender            [32]byte
	Recipient         [32]byte
	DestinationCaller [32]byte
	BodyVersion       uint32
	BurnToken         types.TokenRef
	MintRecipient     [32]byte
	Amount            *uint256.Int
	MessageSender     [32]byte
}

// ParseMessage decodes the wire bytes. The amount is validated against the
// u128 bound but may be zero; callers that forbid zero transfers check
// separately.
func ParseMessage(b []byte) (*Message, error) {
	if len(b) != messageLength {
		return nil, errors.Wrapf(ErrBadMessageLength, "got %d bytes, want %d", len(b), messageLength)
	}
	m := &Message{
		Version:           binary.BigEndian.Uint32(b[0:4]),
		SourceDomain:      types.Domain(binary.BigEndian.Uint32(b[offSourceDomain:])),
		DestinationDomain: types.Domain(binary.BigEndian.Uint32(b[offDestinationDomain:])),
		Nonce:             binary.BigEndian.Uint64(b[offNonce:]),
		BodyVersion:       binary.BigEndian.Uint32(b[offBodyVersion:]),
		Amount:            new(uint256.Int).SetBytes(b[offAmount : offAmount+32]),
	}
	copy(m.Sender[:], b[offHeaderSender:])
	copy(m.Recipient[:], b[offHeaderRecipient:])
	copy(m.DestinationCaller[:], b[offDestinationCaller:])
	copy(m.BurnToken[:], b[offBurnToken:])
	copy(m.MintRecipient[:], b[offMintRecipient:])
	copy(m.MessageSender[:], b[offMessageSender:])
	if m.Amount.BitLen() > 128 {
		return nil, ErrAmountTooLarge
	}
	return m, nil
}

// MarshalBinary encodes the message into its wire form.
func (m *Message) MarshalBinary() ([]byte, error) {
	if m.Amount == nil || m.Amount.BitLen() > 128 {
		return nil, ErrAmountTooLarge
	}
	b := make([]byte, messageLength)
	binary.BigEndian.PutUint32(b[0:4], m.Version)
	binary.BigEndian.PutUint32(b[offSourceDomain:], uint32(m.SourceDomain))
	binary.BigEndian.PutUint32(b[offDestinationDomain:], uint32(m.DestinationDomain))
	binary.BigEndian.PutUint64(b[offNonce:], m.Nonce)
	copy(b[offHeaderSender:], m.Sender[:])
	copy(b[offHeaderRecipient:], m.Recipient[:])
	copy(b[offDestinationCaller:], m.DestinationCaller[:])
	binary.BigEndian.PutUint32(b[offBodyVersion:], m.BodyVersion)
	copy(b[offBurnToken:], m.BurnToken[:])
	copy(b[offMintRecipient:], m.MintRecipient[:])
	amount := m.Amount.Bytes32()
	copy(b[offAmount:], amount[:])
	copy(b[offMessageSender:], m.MessageSender[:])
	return b, nil
}
