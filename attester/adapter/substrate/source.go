// Package substrate implements the adapter Source and Parser for the FlareChain
// Substrate network. Discovery follows the finalized chain only: GRANDPA
// finality is absolute, so the runner's re-org machinery stays dormant and the
// confirmation depth is a small safety margin.
package substrate

import (
	"context"
	"sync"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/rpc/chain"
	gsrpctypes "github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// burnEventRecord is the decoded form of tokenMessenger::BurnMessageSent as it
// appears in the System.Events storage vector.
type burnEventRecord struct {
	Phase             gsrpctypes.Phase
	Nonce             gsrpctypes.U64
	DestinationDomain gsrpctypes.U32
	Sender            [32]byte
	Amount            gsrpctypes.U128
	Recipient         [32]byte
	Topics            []gsrpctypes.Hash
}

// chainEvents extends the standard event catalogue with the bridge pallet's
// events so DecodeEventRecords can route them.
type chainEvents struct {
	gsrpctypes.EventRecords
	TokenMessenger_BurnMessageSent []burnEventRecord //nolint:revive // field name must match pallet::event
}

// SourceConfig describes the Substrate node to observe.
type SourceConfig struct {
	Name      string
	Endpoints []string
}

// Source discovers burn events on the finalized Substrate chain.
type Source struct {
	cfg  SourceConfig
	wake chan struct{}

	mu       sync.Mutex
	api      *gsrpc.SubstrateAPI
	meta     *gsrpctypes.Metadata
	eventKey gsrpctypes.StorageKey
	next     int
}

var _ adapter.Source = (*Source)(nil)
var _ adapter.Waker = (*Source)(nil)

func NewSource(cfg SourceConfig) (*Source, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("no RPC endpoints configured")
	}
	if cfg.Name == "" {
		cfg.Name = "substrate"
	}
	return &Source{cfg: cfg, wake: make(chan struct{}, 1)}, nil
}

func (s *Source) Name() string          { return s.cfg.Name }
func (s *Source) Domain() types.Domain  { return types.DomainSubstrate }
func (s *Source) Wake() <-chan struct{} { return s.wake }

// Connect dials the next endpoint, refreshes runtime metadata and subscribes
// to finalized heads for wake-ups.
func (s *Source) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	endpoint := s.cfg.Endpoints[s.next%len(s.cfg.Endpoints)]
	s.next++

	api, err := gsrpc.NewSubstrateAPI(endpoint)
	if err != nil {
		return errors.Wrapf(err, "dialing %s", endpoint)
	}
	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return errors.Wrap(err, "fetching metadata")
	}
	key, err := gsrpctypes.CreateStorageKey(meta, "System", "Events")
	if err != nil {
		return errors.Wrap(err, "building events storage key")
	}
	s.api = api
	s.meta = meta
	s.eventKey = key

	if sub, err := api.RPC.Chain.SubscribeFinalizedHeads(); err == nil {
		go s.forwardHeads(sub)
	}
	return nil
}

func (s *Source) forwardHeads(sub *chain.FinalizedHeadsSubscription) {
	defer sub.Unsubscribe()
	for {
		select {
		case _, ok := <-sub.Chan():
			if !ok {
				return
			}
			select {
			case s.wake <- struct{}{}:
			default:
			}
		case <-sub.Err():
			return
		}
	}
}

// Head returns the finalized head number; blocks above it are invisible to
// this adapter.
func (s *Source) Head(_ context.Context) (uint64, error) {
	api, _, _ := s.conn()
	hash, err := api.RPC.Chain.GetFinalizedHead()
	if err != nil {
		return 0, errors.Wrap(err, "finalized head")
	}
	header, err := api.RPC.Chain.GetHeader(hash)
	if err != nil {
		return 0, errors.Wrap(err, "finalized header")
	}
	return uint64(header.Number), nil
}

func (s *Source) BlockID(_ context.Context, height uint64) (string, error) {
	api, _, _ := s.conn()
	hash, err := api.RPC.Chain.GetBlockHash(height)
	if err != nil {
		return "", errors.Wrapf(err, "block hash at %d", height)
	}
	return hash.Hex(), nil
}

// FetchRange reads System.Events at each finalized block in [from, to] and
// re-encodes every burn event into a standalone SCALE payload for the parser.
func (s *Source) FetchRange(_ context.Context, from, to uint64) ([]adapter.RawEvent, error) {
	api, meta, key := s.conn()
	var out []adapter.RawEvent
	for height := from; height <= to; height++ {
		hash, err := api.RPC.Chain.GetBlockHash(height)
		if err != nil {
			return out, errors.Wrapf(err, "block hash at %d", height)
		}
		raw, err := api.RPC.State.GetStorageRaw(key, hash)
		if err != nil {
			return out, errors.Wrapf(err, "events at %d", height)
		}
		if raw == nil || len(*raw) == 0 {
			continue
		}
		var events chainEvents
		if err := gsrpctypes.EventRecordsRaw(*raw).DecodeEventRecords(meta, &events); err != nil {
			return out, errors.Wrapf(err, "decoding events at %d", height)
		}
		for _, ev := range events.TokenMessenger_BurnMessageSent {
			payload, err := codec.Encode(burnEvent{
				Nonce:             ev.Nonce,
				DestinationDomain: ev.DestinationDomain,
				Sender:            ev.Sender,
				Amount:            ev.Amount,
				Recipient:         ev.Recipient,
			})
			if err != nil {
				return out, errors.Wrap(err, "re-encoding burn event")
			}
			index := uint32(0)
			if ev.Phase.IsApplyExtrinsic {
				index = ev.Phase.AsApplyExtrinsic
			}
			out = append(out, adapter.RawEvent{
				Block:   height,
				BlockID: hash.Hex(),
				TxID:    hash[:],
				Index:   index,
				Payload: payload,
			})
		}
	}
	return out, nil
}

func (s *Source) conn() (*gsrpc.SubstrateAPI, *gsrpctypes.Metadata, gsrpctypes.StorageKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.api, s.meta, s.eventKey
}
