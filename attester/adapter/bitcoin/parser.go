package bitcoin

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/canonical"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// ErrNotDeposit marks a transaction that carries OP_RETURN data but does not
// pay the bridge's deposit address or does not carry a valid bridge payload.
// OP_RETURN is shared chain real estate, so the runner skips these without
// counting an error.
var ErrNotDeposit = errors.Wrap(adapter.ErrNotBridgeEvent, "transaction is not a bridge deposit")

// Parser extracts deposits from serialized transactions. Bitcoin has no
// native message nonce or sender account, so both are derived
// deterministically from the transaction itself: the nonce from the txid and
// the sender from the first input's previous outpoint. Every attester
// observes the same transaction and derives identical values.
type Parser struct {
	depositScript []byte
}

func NewParser(deposit btcutil.Address) (*Parser, error) {
	script, err := txscript.PayToAddrScript(deposit)
	if err != nil {
		return nil, errors.Wrap(err, "building deposit script")
	}
	return &Parser{depositScript: script}, nil
}

func (p *Parser) Parse(raw adapter.RawEvent) (*types.ObservedMessage, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw.Payload)); err != nil {
		return nil, errors.Wrap(err, "deserializing transaction")
	}

	var carrier []byte
	var paid int64
	for _, txOut := range tx.TxOut {
		switch {
		case len(txOut.PkScript) > 0 && txOut.PkScript[0] == txscript.OP_RETURN:
			pushes, err := txscript.PushedData(txOut.PkScript)
			if err != nil || len(pushes) == 0 {
				continue
			}
			carrier = pushes[0]
		case bytes.Equal(txOut.PkScript, p.depositScript):
			paid += txOut.Value
		}
	}
	if carrier == nil || paid == 0 {
		return nil, ErrNotDeposit
	}
	destination, recipient, err := canonical.ParseCarrierPayload(carrier)
	if err != nil {
		return nil, err
	}
	if destination == types.DomainBitcoin {
		return nil, errors.Errorf("invalid destination domain %d", destination)
	}
	if paid < 0 {
		return nil, errors.New("negative output value")
	}
	if len(tx.TxIn) == 0 || len(raw.TxID) < 8 {
		return nil, ErrNotDeposit
	}

	msg := &types.ObservedMessage{
		SourceDomain:      types.DomainBitcoin,
		DestinationDomain: destination,
		Nonce:             binary.LittleEndian.Uint64(raw.TxID[:8]),
		Amount:            uint256.NewInt(uint64(paid)),
		Recipient:         recipient,
		SourceTx:          raw.TxID,
		SourceBlock:       raw.Block,
		SourceTimestampMs: raw.TimestampMs,
	}
	copy(msg.Sender[:], tx.TxIn[0].PreviousOutPoint.Hash[:])
	return msg, nil
}
