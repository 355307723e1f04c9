// Package bitcoin implements the adapter Source and Parser for Bitcoin. A
// deposit is a transaction paying the bridge's deposit address with an
// OP_RETURN output carrying the destination domain and recipient. Six
// confirmations make proof-of-work rewrites economically unreasonable.
package bitcoin

import (
	"bytes"
	"context"
	"sync"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// SourceConfig describes the bitcoind node to observe. The btcd RPC client
// speaks HTTP POST to bitcoind directly.
type SourceConfig struct {
	Name string
	Host string
	User string
	Pass string
}

type Source struct {
	cfg SourceConfig

	mu     sync.Mutex
	client *rpcclient.Client
}

var _ adapter.Source = (*Source)(nil)

func NewSource(cfg SourceConfig) (*Source, error) {
	if cfg.Host == "" {
		return nil, errors.New("no RPC host configured")
	}
	if cfg.Name == "" {
		cfg.Name = "bitcoin"
	}
	return &Source{cfg: cfg}, nil
}

func (s *Source) Name() string         { return s.cfg.Name }
func (s *Source) Domain() types.Domain { return types.DomainBitcoin }

func (s *Source) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         s.cfg.Host,
		User:         s.cfg.User,
		Pass:         s.cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return errors.Wrapf(err, "dialing %s", s.cfg.Host)
	}
	if _, err := client.GetBlockCount(); err != nil {
		client.Shutdown()
		return errors.Wrapf(err, "checking %s", s.cfg.Host)
	}
	if s.client != nil {
		s.client.Shutdown()
	}
	s.client = client
	return nil
}

func (s *Source) Head(_ context.Context) (uint64, error) {
	count, err := s.conn().GetBlockCount()
	if err != nil {
		return 0, errors.Wrap(err, "block count")
	}
	return uint64(count), nil
}

func (s *Source) BlockID(_ context.Context, height uint64) (string, error) {
	hash, err := s.conn().GetBlockHash(int64(height))
	if err != nil {
		return "", errors.Wrapf(err, "block hash at %d", height)
	}
	return hash.String(), nil
}

// FetchRange scans full blocks and emits one raw event per transaction that
// carries an OP_RETURN output. The parser decides whether it is a deposit.
func (s *Source) FetchRange(_ context.Context, from, to uint64) ([]adapter.RawEvent, error) {
	client := s.conn()
	var out []adapter.RawEvent
	for height := from; height <= to; height++ {
		hash, err := client.GetBlockHash(int64(height))
		if err != nil {
			return out, errors.Wrapf(err, "block hash at %d", height)
		}
		block, err := client.GetBlock(hash)
		if err != nil {
			return out, errors.Wrapf(err, "block at %d", height)
		}
		timestampMs := uint64(block.Header.Timestamp.UnixMilli())
		for _, tx := range block.Transactions {
			if !hasNullData(tx) {
				continue
			}
			var buf bytes.Buffer
			if err := tx.Serialize(&buf); err != nil {
				return out, errors.Wrap(err, "serializing transaction")
			}
			txid := tx.TxHash()
			out = append(out, adapter.RawEvent{
				Block:       height,
				BlockID:     hash.String(),
				TxID:        txid[:],
				TimestampMs: timestampMs,
				Payload:     buf.Bytes(),
			})
		}
	}
	return out, nil
}

func hasNullData(tx *wire.MsgTx) bool {
	for _, txOut := range tx.TxOut {
		if len(txOut.PkScript) > 0 && txOut.PkScript[0] == txscript.OP_RETURN {
			return true
		}
	}
	return false
}

func (s *Source) conn() *rpcclient.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}
