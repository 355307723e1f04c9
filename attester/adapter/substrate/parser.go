package substrate

import (
	gsrpctypes "github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// burnEvent is the SCALE tuple carried in a RawEvent payload: the
// BurnMessageSent event data without its phase and topics.
type burnEvent struct {
	Nonce             gsrpctypes.U64
	DestinationDomain gsrpctypes.U32
	Sender            [32]byte
	Amount            gsrpctypes.U128
	Recipient         [32]byte
}

// Parser decodes the SCALE payloads the substrate Source produces.
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

func (*Parser) Parse(raw adapter.RawEvent) (*types.ObservedMessage, error) {
	var ev burnEvent
	if err := codec.Decode(raw.Payload, &ev); err != nil {
		return nil, errors.Wrap(err, "decoding burn event")
	}
	destination := types.Domain(ev.DestinationDomain)
	if !destination.Known() {
		return nil, errors.Errorf("unknown destination domain %d", destination)
	}
	amount, overflow := uint256.FromBig(ev.Amount.Int)
	if overflow || amount.BitLen() > 128 {
		return nil, errors.New("burn amount exceeds 128 bits")
	}
	if amount.IsZero() {
		return nil, adapter.ErrZeroAmount
	}
	msg := &types.ObservedMessage{
		SourceDomain:      types.DomainSubstrate,
		DestinationDomain: destination,
		Nonce:             uint64(ev.Nonce),
		Amount:            amount,
		SourceTx:          raw.TxID,
		SourceBlock:       raw.Block,
		SourceTimestampMs: raw.TimestampMs,
	}
	msg.Sender = ev.Sender
	msg.Recipient = ev.Recipient
	return msg, nil
}
