package rest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// metadataLabel is the transaction-metadata label bridge deposits use, the
// CIP-20 message label. The carrier payload is the first msg entry, hex
// encoded.
const metadataLabel = "674"

// CardanoDriver observes ada payments to the bridge address through a
// Blockfrost-compatible API. The project key, if any, travels in the source's
// header set. Bech32 addresses have no 32-byte form; the sender field is the
// SHA-256 of the first input's address text.
type CardanoDriver struct {
	// Deposit is the bridge's bech32 payment address.
	Deposit string
}

var _ Driver = (*CardanoDriver)(nil)

func (*CardanoDriver) Domain() types.Domain { return types.DomainCardano }

func (*CardanoDriver) Head(ctx context.Context, c *Client) (uint64, error) {
	var latest struct {
		Height uint64 `json:"height"`
	}
	if err := c.GetJSON(ctx, "/blocks/latest", &latest); err != nil {
		return 0, err
	}
	return latest.Height, nil
}

type cardanoUTXOs struct {
	Inputs []struct {
		Address string `json:"address"`
	} `json:"inputs"`
	Outputs []struct {
		Address string `json:"address"`
		Amount  []struct {
			Unit     string `json:"unit"`
			Quantity string `json:"quantity"`
		} `json:"amount"`
	} `json:"outputs"`
}

func (d *CardanoDriver) Events(ctx context.Context, c *Client, from, to uint64) ([]adapter.RawEvent, error) {
	var out []adapter.RawEvent
	for height := from; height <= to; height++ {
		var block struct {
			Hash     string `json:"hash"`
			TimeSecs uint64 `json:"time"`
		}
		if err := c.GetJSON(ctx, fmt.Sprintf("/blocks/%d", height), &block); err != nil {
			return out, errors.Wrapf(err, "block %d", height)
		}
		var txHashes []string
		if err := c.GetJSON(ctx, "/blocks/"+block.Hash+"/txs", &txHashes); err != nil {
			return out, errors.Wrapf(err, "block %d transactions", height)
		}
		for _, txHash := range txHashes {
			ev, err := d.deposit(ctx, c, txHash)
			if err != nil {
				return out, errors.Wrapf(err, "transaction %s", txHash)
			}
			if ev == nil {
				continue
			}
			ev.Block = height
			ev.BlockID = block.Hash
			ev.TimestampMs = block.TimeSecs * 1000
			out = append(out, *ev)
		}
	}
	return out, nil
}

// deposit inspects one transaction and returns its raw event, or nil when it
// is not a bridge deposit.
func (d *CardanoDriver) deposit(ctx context.Context, c *Client, txHash string) (*adapter.RawEvent, error) {
	var metadata []struct {
		Label        string          `json:"label"`
		JSONMetadata json.RawMessage `json:"json_metadata"`
	}
	if err := c.GetJSON(ctx, "/txs/"+txHash+"/metadata", &metadata); err != nil {
		return nil, err
	}
	var carrier []byte
	for _, entry := range metadata {
		if entry.Label != metadataLabel {
			continue
		}
		var body struct {
			Msg []string `json:"msg"`
		}
		if err := json.Unmarshal(entry.JSONMetadata, &body); err != nil || len(body.Msg) == 0 {
			continue
		}
		decoded, err := hex.DecodeString(body.Msg[0])
		if err != nil {
			continue
		}
		carrier = decoded
	}
	if carrier == nil {
		return nil, nil
	}

	var utxos cardanoUTXOs
	if err := c.GetJSON(ctx, "/txs/"+txHash+"/utxos", &utxos); err != nil {
		return nil, err
	}
	paid := new(big.Int)
	for _, output := range utxos.Outputs {
		if output.Address != d.Deposit {
			continue
		}
		for _, amount := range output.Amount {
			if amount.Unit != "lovelace" {
				continue
			}
			quantity, ok := new(big.Int).SetString(amount.Quantity, 10)
			if !ok {
				return nil, errors.Errorf("bad quantity %q", amount.Quantity)
			}
			paid.Add(paid, quantity)
		}
	}
	if paid.Sign() == 0 || len(utxos.Inputs) == 0 {
		return nil, nil
	}

	txid, err := hex.DecodeString(txHash)
	if err != nil || len(txid) < 8 {
		return nil, errors.Errorf("bad transaction hash %q", txHash)
	}
	sender := sha256.Sum256([]byte(utxos.Inputs[0].Address))
	payload, err := json.Marshal(Record{
		Carrier: carrier,
		Amount:  paid.String(),
		Sender:  sender[:],
		Nonce:   binary.LittleEndian.Uint64(txid[:8]),
	})
	if err != nil {
		return nil, errors.Wrap(err, "encoding record")
	}
	return &adapter.RawEvent{TxID: txid, Payload: payload}, nil
}
