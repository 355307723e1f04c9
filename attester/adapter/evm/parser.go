package evm

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// messageSentTopic is the signature hash of `MessageSent(bytes)`, the single
// log every outbound transfer emits.
var messageSentTopic = crypto.Keccak256Hash([]byte("MessageSent(bytes)"))

// Parser normalizes MessageSent logs into observed messages. It is bound to
// one source domain and rejects events claiming any other origin; a messenger
// contract emitting foreign domain tags is misconfigured or hostile.
type Parser struct {
	domain types.Domain
}

func NewParser(domain types.Domain) *Parser {
	return &Parser{domain: domain}
}

// Parse unwraps the ABI-encoded `bytes` argument from the log data, then
// decodes the wire message inside it.
func (p *Parser) Parse(raw adapter.RawEvent) (*types.ObservedMessage, error) {
	wire, err := unwrapABIBytes(raw.Payload)
	if err != nil {
		return nil, err
	}
	msg, err := ParseMessage(wire)
	if err != nil {
		return nil, err
	}
	if msg.SourceDomain != p.domain {
		return nil, errors.Errorf("event claims source domain %d, adapter observes %d", msg.SourceDomain, p.domain)
	}
	if !msg.DestinationDomain.Known() {
		return nil, errors.Errorf("unknown destination domain %d", msg.DestinationDomain)
	}
	if msg.Amount.IsZero() {
		return nil, adapter.ErrZeroAmount
	}
	return &types.ObservedMessage{
		SourceDomain:      msg.SourceDomain,
		DestinationDomain: msg.DestinationDomain,
		Nonce:             msg.Nonce,
		Sender:            msg.MessageSender,
		Recipient:         msg.MintRecipient,
		Amount:            msg.Amount,
		Token:             msg.BurnToken,
		SourceTx:          raw.TxID,
		SourceBlock:       raw.Block,
		SourceTimestampMs: raw.TimestampMs,
	}, nil
}

// unwrapABIBytes extracts the payload of a single dynamic `bytes` argument:
// a 32-byte offset word, a 32-byte length word, then the padded content.
func unwrapABIBytes(data []byte) ([]byte, error) {
	if len(data) < 64 {
		return nil, errors.Errorf("log data too short for abi bytes: %d", len(data))
	}
	offset := binary.BigEndian.Uint64(data[24:32])
	if offset != 32 {
		return nil, errors.Errorf("unexpected abi offset %d", offset)
	}
	length := binary.BigEndian.Uint64(data[56:64])
	if uint64(len(data)) < 64+length {
		return nil, errors.Errorf("abi bytes truncated: want %d content bytes, have %d", length, len(data)-64)
	}
	return data[64 : 64+length], nil
}
