// Package solana implements the adapter Source and Parser for Solana. The
// source lists finalized signatures touching the bridge program, fetches each
// transaction and pairs the program's deposit instruction with its memo
// instruction; the parser decodes the pair into an observed message.
//
// Discovery runs at finalized commitment, so slots below the reported head
// cannot be orphaned and BlockID returns no re-org handle.
package solana

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// signatureListLimit bounds one getSignaturesForAddress page. The poll window
// is seconds wide; a full page means the backlog exceeds one tick and the
// remainder is picked up next tick via the slot filter.
const signatureListLimit = 1000

// SourceConfig describes the Solana cluster to observe.
type SourceConfig struct {
	Name      string
	Endpoints []string
	// Program is the bridge program whose deposit instructions carry
	// transfers.
	Program solana.PublicKey
}

type Source struct {
	cfg SourceConfig

	mu     sync.Mutex
	client *rpc.Client
	next   int
}

var _ adapter.Source = (*Source)(nil)

func NewSource(cfg SourceConfig) (*Source, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("no RPC endpoints configured")
	}
	if cfg.Program.IsZero() {
		return nil, errors.New("no bridge program configured")
	}
	if cfg.Name == "" {
		cfg.Name = "solana"
	}
	return &Source{cfg: cfg}, nil
}

func (s *Source) Name() string         { return s.cfg.Name }
func (s *Source) Domain() types.Domain { return types.DomainSolana }

func (s *Source) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	endpoint := s.cfg.Endpoints[s.next%len(s.cfg.Endpoints)]
	s.next++

	client := rpc.New(endpoint)
	if _, err := client.GetHealth(ctx); err != nil {
		return errors.Wrapf(err, "checking %s", endpoint)
	}
	s.client = client
	return nil
}

func (s *Source) Head(ctx context.Context) (uint64, error) {
	return s.conn().GetSlot(ctx, rpc.CommitmentFinalized)
}

// BlockID reports no identifier: finalized slots cannot leave the chain.
func (s *Source) BlockID(_ context.Context, _ uint64) (string, error) {
	return "", nil
}

// FetchRange lists finalized signatures for the bridge program and extracts
// deposit instructions from transactions landing in [from, to].
func (s *Source) FetchRange(ctx context.Context, from, to uint64) ([]adapter.RawEvent, error) {
	client := s.conn()
	limit := signatureListLimit
	sigs, err := client.GetSignaturesForAddressWithOpts(ctx, s.cfg.Program, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing signatures")
	}

	var out []adapter.RawEvent
	// Newest first from the RPC; walk backwards for ascending slot order.
	for i := len(sigs) - 1; i >= 0; i-- {
		entry := sigs[i]
		if entry.Slot < from || entry.Slot > to || entry.Err != nil {
			continue
		}
		events, err := s.fetchDeposits(ctx, entry)
		if err != nil {
			return out, err
		}
		out = append(out, events...)
	}
	return out, nil
}

func (s *Source) fetchDeposits(ctx context.Context, entry *rpc.TransactionSignature) ([]adapter.RawEvent, error) {
	maxVersion := uint64(0)
	result, err := s.conn().GetTransaction(ctx, entry.Signature, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetching transaction %s", entry.Signature)
	}
	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, errors.Wrapf(err, "decoding transaction %s", entry.Signature)
	}

	var timestampMs uint64
	if entry.BlockTime != nil {
		timestampMs = uint64(entry.BlockTime.Time().UnixMilli())
	}

	// One pass for the memo, one for deposit instructions. A transaction may
	// batch several deposits; they share the memo.
	var memo []byte
	keys := tx.Message.AccountKeys
	for _, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(keys) {
			continue
		}
		if keys[ix.ProgramIDIndex].Equals(solana.MemoProgramID) {
			memo = []byte(ix.Data)
		}
	}
	var out []adapter.RawEvent
	for idx, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(keys) || !keys[ix.ProgramIDIndex].Equals(s.cfg.Program) {
			continue
		}
		ev := adapter.RawEvent{
			Block:       entry.Slot,
			TxID:        entry.Signature[:],
			Index:       uint32(idx),
			TimestampMs: timestampMs,
			Payload:     []byte(ix.Data),
		}
		if memo != nil {
			ev.Topics = [][]byte{memo}
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Source) conn() *rpc.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}
