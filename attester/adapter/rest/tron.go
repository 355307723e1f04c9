package rest

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// TronDriver observes TRX transfers to the bridge's deposit account through a
// TRON full node's wallet API. The carrier payload rides in the transaction's
// data field; addresses are the node's 21-byte hex form (0x41 prefix plus the
// 20-byte account hash).
type TronDriver struct {
	// Deposit is the deposit account in lowercase hex, e.g. "41a614f8...".
	Deposit string
}

var _ Driver = (*TronDriver)(nil)

func (*TronDriver) Domain() types.Domain { return types.DomainTron }

type tronBlock struct {
	BlockID string `json:"blockID"`
	Header  struct {
		RawData struct {
			Number      uint64 `json:"number"`
			TimestampMs uint64 `json:"timestamp"`
		} `json:"raw_data"`
	} `json:"block_header"`
	Transactions []struct {
		TxID    string `json:"txID"`
		RawData struct {
			Data     string `json:"data"`
			Contract []struct {
				Type      string `json:"type"`
				Parameter struct {
					Value struct {
						OwnerAddress string `json:"owner_address"`
						ToAddress    string `json:"to_address"`
						Amount       int64  `json:"amount"`
					} `json:"value"`
				} `json:"parameter"`
			} `json:"contract"`
		} `json:"raw_data"`
	} `json:"transactions"`
}

func (*TronDriver) Head(ctx context.Context, c *Client) (uint64, error) {
	var block tronBlock
	if err := c.PostJSON(ctx, "/wallet/getnowblock", struct{}{}, &block); err != nil {
		return 0, err
	}
	return block.Header.RawData.Number, nil
}

func (d *TronDriver) Events(ctx context.Context, c *Client, from, to uint64) ([]adapter.RawEvent, error) {
	var out []adapter.RawEvent
	for height := from; height <= to; height++ {
		var block tronBlock
		if err := c.PostJSON(ctx, "/wallet/getblockbynum", map[string]uint64{"num": height}, &block); err != nil {
			return out, errors.Wrapf(err, "block %d", height)
		}
		for _, tx := range block.Transactions {
			if len(tx.RawData.Contract) == 0 || tx.RawData.Data == "" {
				continue
			}
			transfer := tx.RawData.Contract[0]
			if transfer.Type != "TransferContract" || transfer.Parameter.Value.ToAddress != d.Deposit {
				continue
			}
			txid, err := hex.DecodeString(tx.TxID)
			if err != nil || len(txid) < 8 {
				continue
			}
			carrier, err := hex.DecodeString(tx.RawData.Data)
			if err != nil {
				continue
			}
			sender, err := hex.DecodeString(transfer.Parameter.Value.OwnerAddress)
			if err != nil {
				continue
			}
			payload, err := json.Marshal(Record{
				Carrier: carrier,
				Amount:  strconv.FormatInt(transfer.Parameter.Value.Amount, 10),
				Sender:  sender,
				Nonce:   binary.LittleEndian.Uint64(txid[:8]),
			})
			if err != nil {
				return out, errors.Wrap(err, "encoding record")
			}
			out = append(out, adapter.RawEvent{
				Block:       height,
				BlockID:     block.BlockID,
				TxID:        txid,
				TimestampMs: block.Header.RawData.TimestampMs,
				Payload:     payload,
			})
		}
	}
	return out, nil
}
