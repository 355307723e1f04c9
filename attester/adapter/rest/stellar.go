package rest

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// StellarDriver observes native-asset payments to the bridge account through
// Horizon. The carrier payload travels as a hex text memo; Horizon reports
// amounts as 7-decimal strings, converted here to integer stroops. Account
// addresses have no 32-byte form; the sender field is the SHA-256 of the
// address text.
type StellarDriver struct {
	// Deposit is the bridge's account id, e.g. "GA7Q...".
	Deposit string
}

var _ Driver = (*StellarDriver)(nil)

func (*StellarDriver) Domain() types.Domain { return types.DomainStellar }

func (*StellarDriver) Head(ctx context.Context, c *Client) (uint64, error) {
	var page struct {
		Embedded struct {
			Records []struct {
				Sequence uint64 `json:"sequence"`
			} `json:"records"`
		} `json:"_embedded"`
	}
	if err := c.GetJSON(ctx, "/ledgers?order=desc&limit=1", &page); err != nil {
		return 0, err
	}
	if len(page.Embedded.Records) == 0 {
		return 0, errors.New("horizon returned no ledgers")
	}
	return page.Embedded.Records[0].Sequence, nil
}

type stellarPayment struct {
	Type            string `json:"type"`
	To              string `json:"to"`
	Amount          string `json:"amount"`
	AssetType       string `json:"asset_type"`
	TransactionHash string `json:"transaction_hash"`
	CreatedAt       string `json:"created_at"`
	Transaction     struct {
		Memo          string `json:"memo"`
		MemoType      string `json:"memo_type"`
		SourceAccount string `json:"source_account"`
	} `json:"transaction"`
}

func (d *StellarDriver) Events(ctx context.Context, c *Client, from, to uint64) ([]adapter.RawEvent, error) {
	var out []adapter.RawEvent
	for seq := from; seq <= to; seq++ {
		var page struct {
			Embedded struct {
				Records []stellarPayment `json:"records"`
			} `json:"_embedded"`
		}
		path := fmt.Sprintf("/ledgers/%d/payments?limit=200&join=transactions", seq)
		if err := c.GetJSON(ctx, path, &page); err != nil {
			return out, errors.Wrapf(err, "ledger %d", seq)
		}
		for _, payment := range page.Embedded.Records {
			if payment.Type != "payment" || payment.AssetType != "native" || payment.To != d.Deposit {
				continue
			}
			carrier, ok := decodeMemo(payment.Transaction.Memo, payment.Transaction.MemoType)
			if !ok {
				continue
			}
			stroops, err := amountToStroops(payment.Amount)
			if err != nil {
				continue
			}
			txid, err := hex.DecodeString(payment.TransactionHash)
			if err != nil || len(txid) < 8 {
				continue
			}
			var timestampMs uint64
			if created, err := time.Parse(time.RFC3339, payment.CreatedAt); err == nil {
				timestampMs = uint64(created.UnixMilli())
			}
			sender := sha256.Sum256([]byte(payment.Transaction.SourceAccount))
			payload, err := json.Marshal(Record{
				Carrier: carrier,
				Amount:  stroops,
				Sender:  sender[:],
				Nonce:   binary.LittleEndian.Uint64(txid[:8]),
			})
			if err != nil {
				return out, errors.Wrap(err, "encoding record")
			}
			out = append(out, adapter.RawEvent{
				Block:       seq,
				TxID:        txid,
				TimestampMs: timestampMs,
				Payload:     payload,
			})
		}
	}
	return out, nil
}

// decodeMemo recovers carrier bytes from a Horizon memo: hex in text memos,
// base64 elsewhere.
func decodeMemo(memo, memoType string) ([]byte, bool) {
	switch memoType {
	case "text":
		b, err := hex.DecodeString(memo)
		return b, err == nil
	case "hash", "return":
		b, err := base64.StdEncoding.DecodeString(memo)
		return b, err == nil
	default:
		return nil, false
	}
}

// amountToStroops converts Horizon's 7-decimal amount string to an integer
// stroop count, e.g. "12.5" -> "125000000".
func amountToStroops(amount string) (string, error) {
	whole, frac, _ := strings.Cut(amount, ".")
	if whole == "" || len(frac) > 7 {
		return "", errors.Errorf("bad amount %q", amount)
	}
	frac += strings.Repeat("0", 7-len(frac))
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return "", errors.Errorf("bad amount %q", amount)
		}
	}
	out := strings.TrimLeft(whole+frac, "0")
	if out == "" {
		out = "0"
	}
	return out, nil
}
