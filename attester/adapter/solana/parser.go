package solana

import (
	"encoding/binary"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/canonical"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// Deposit instruction data layout, little-endian like all Solana instruction
// encodings: <tag:u8><destination:u32><nonce:u64><amount:u64><sender:32>.
// The recipient travels separately in the paired memo instruction.
const (
	depositTag        = 0x01
	depositDataLength = 1 + 4 + 8 + 8 + 32
)

var (
	// ErrNotDeposit marks a bridge-program instruction that is not a deposit;
	// the program has other entrypoints and the source cannot tell them apart,
	// so the runner skips these without counting an error.
	ErrNotDeposit = errors.Wrap(adapter.ErrNotBridgeEvent, "instruction is not a deposit")
	// ErrMissingMemo marks a deposit without its paired recipient memo.
	ErrMissingMemo = errors.New("deposit has no paired memo instruction")
)

type Parser struct{}

func NewParser() *Parser { return &Parser{} }

func (*Parser) Parse(raw adapter.RawEvent) (*types.ObservedMessage, error) {
	data := raw.Payload
	if len(data) != depositDataLength || data[0] != depositTag {
		return nil, ErrNotDeposit
	}
	if len(raw.Topics) == 0 {
		return nil, ErrMissingMemo
	}
	recipient, err := canonical.ParseSolanaMemo(string(raw.Topics[0]))
	if err != nil {
		return nil, err
	}

	destination := types.Domain(binary.LittleEndian.Uint32(data[1:5]))
	if !destination.Known() || destination == types.DomainSolana {
		return nil, errors.Errorf("invalid destination domain %d", destination)
	}
	amount := binary.LittleEndian.Uint64(data[13:21])
	if amount == 0 {
		return nil, adapter.ErrZeroAmount
	}

	msg := &types.ObservedMessage{
		SourceDomain:      types.DomainSolana,
		DestinationDomain: destination,
		Nonce:             binary.LittleEndian.Uint64(data[5:13]),
		Amount:            uint256.NewInt(amount),
		Recipient:         recipient,
		SourceTx:          raw.TxID,
		SourceBlock:       raw.Block,
		SourceTimestampMs: raw.TimestampMs,
	}
	copy(msg.Sender[:], data[21:53])
	return msg, nil
}
