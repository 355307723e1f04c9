package rest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// XRPLDriver observes XRP payments to the bridge account through the rippled
// JSON-RPC API. One validated ledger is final; the confirmation depth is 1.
//
// The carrier payload rides in the first memo. Classic account addresses have
// no 32-byte form, so the sender field is the SHA-256 of the address text;
// every attester derives the same value.
type XRPLDriver struct {
	// Deposit is the bridge's classic address, e.g. "rN7n...".
	Deposit string
}

var _ Driver = (*XRPLDriver)(nil)

func (*XRPLDriver) Domain() types.Domain { return types.DomainXRPL }

type xrplRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type xrplLedgerResult struct {
	Result struct {
		LedgerIndex uint64 `json:"ledger_index"`
		Ledger      struct {
			CloseTime    int64             `json:"close_time"`
			Transactions []json.RawMessage `json:"transactions"`
		} `json:"ledger"`
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"result"`
}

type xrplTransaction struct {
	Hash            string          `json:"hash"`
	TransactionType string          `json:"TransactionType"`
	Account         string          `json:"Account"`
	Destination     string          `json:"Destination"`
	Sequence        uint64          `json:"Sequence"`
	Amount          json.RawMessage `json:"Amount"`
	Memos           []struct {
		Memo struct {
			MemoData string `json:"MemoData"`
		} `json:"Memo"`
	} `json:"Memos"`
}

// rippleEpochOffset converts Ripple epoch seconds (2000-01-01) to Unix.
const rippleEpochOffset = 946684800

func (d *XRPLDriver) ledger(ctx context.Context, c *Client, params map[string]interface{}) (*xrplLedgerResult, error) {
	var res xrplLedgerResult
	if err := c.PostJSON(ctx, "/", xrplRequest{Method: "ledger", Params: []interface{}{params}}, &res); err != nil {
		return nil, err
	}
	if res.Result.Status != "success" {
		return nil, errors.Errorf("ledger call failed: %s", res.Result.Error)
	}
	return &res, nil
}

func (d *XRPLDriver) Head(ctx context.Context, c *Client) (uint64, error) {
	res, err := d.ledger(ctx, c, map[string]interface{}{"ledger_index": "validated"})
	if err != nil {
		return 0, err
	}
	return res.Result.LedgerIndex, nil
}

func (d *XRPLDriver) Events(ctx context.Context, c *Client, from, to uint64) ([]adapter.RawEvent, error) {
	var out []adapter.RawEvent
	for seq := from; seq <= to; seq++ {
		res, err := d.ledger(ctx, c, map[string]interface{}{
			"ledger_index": seq,
			"transactions": true,
			"expand":       true,
		})
		if err != nil {
			return out, errors.Wrapf(err, "ledger %d", seq)
		}
		closedMs := uint64(res.Result.Ledger.CloseTime+rippleEpochOffset) * 1000
		for _, rawTx := range res.Result.Ledger.Transactions {
			var tx xrplTransaction
			if err := json.Unmarshal(rawTx, &tx); err != nil {
				continue
			}
			if tx.TransactionType != "Payment" || tx.Destination != d.Deposit || len(tx.Memos) == 0 {
				continue
			}
			// Native XRP amounts are JSON strings of drops; issued-currency
			// objects are not bridge deposits.
			var drops string
			if err := json.Unmarshal(tx.Amount, &drops); err != nil {
				continue
			}
			carrier, err := hex.DecodeString(tx.Memos[0].Memo.MemoData)
			if err != nil {
				continue
			}
			txid, err := hex.DecodeString(tx.Hash)
			if err != nil || len(txid) < 8 {
				continue
			}
			sender := sha256.Sum256([]byte(tx.Account))
			payload, err := json.Marshal(Record{
				Carrier: carrier,
				Amount:  drops,
				Sender:  sender[:],
				Nonce:   tx.Sequence,
			})
			if err != nil {
				return out, errors.Wrap(err, "encoding record")
			}
			out = append(out, adapter.RawEvent{
				Block:       seq,
				TxID:        txid,
				TimestampMs: closedMs,
				Payload:     payload,
			})
		}
	}
	return out, nil
}
