package evm

import (
	"context"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// SourceConfig describes one EVM chain to observe.
type SourceConfig struct {
	// Name labels the adapter in logs and metrics, e.g. "evm-ethereum".
	Name string
	// Domain is the chain's domain tag; must be an EVM-family domain.
	Domain types.Domain
	// Endpoints is the RPC endpoint list, rotated on reconnect. Websocket
	// endpoints additionally enable new-head wake-ups.
	Endpoints []string
	// Messenger is the message transmitter contract whose logs carry
	// outbound transfers.
	Messenger common.Address
}

// Source discovers MessageSent logs on one EVM chain. It implements
// adapter.Source and, when the endpoint supports subscriptions,
// adapter.Waker.
type Source struct {
	cfg  SourceConfig
	wake chan struct{}

	mu     sync.Mutex
	client *ethclient.Client
	sub    ethereum.Subscription
	next   int
}

var _ adapter.Source = (*Source)(nil)
var _ adapter.Waker = (*Source)(nil)

func NewSource(cfg SourceConfig) (*Source, error) {
	if !cfg.Domain.IsEVM() {
		return nil, errors.Errorf("domain %s is not an EVM chain", cfg.Domain)
	}
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("no RPC endpoints configured")
	}
	return &Source{cfg: cfg, wake: make(chan struct{}, 1)}, nil
}

func (s *Source) Name() string          { return s.cfg.Name }
func (s *Source) Domain() types.Domain  { return s.cfg.Domain }
func (s *Source) Wake() <-chan struct{} { return s.wake }

// Connect dials the next endpoint in the rotation, replacing any previous
// connection. A new-head subscription is attempted opportunistically; HTTP
// endpoints reject it and the adapter falls back to pure polling.
func (s *Source) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	endpoint := s.cfg.Endpoints[s.next%len(s.cfg.Endpoints)]
	s.next++

	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return errors.Wrapf(err, "dialing %s", endpoint)
	}
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
	if s.client != nil {
		s.client.Close()
	}
	s.client = client

	heads := make(chan *gethtypes.Header, 8)
	if sub, err := client.SubscribeNewHead(ctx, heads); err == nil {
		s.sub = sub
		go s.forwardHeads(sub, heads)
	}
	return nil
}

func (s *Source) forwardHeads(sub ethereum.Subscription, heads <-chan *gethtypes.Header) {
	for {
		select {
		case <-heads:
			select {
			case s.wake <- struct{}{}:
			default:
			}
		case <-sub.Err():
			return
		}
	}
}

func (s *Source) Head(ctx context.Context) (uint64, error) {
	return s.conn().BlockNumber(ctx)
}

func (s *Source) BlockID(ctx context.Context, height uint64) (string, error) {
	header, err := s.conn().HeaderByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		return "", errors.Wrapf(err, "header at %d", height)
	}
	return header.Hash().Hex(), nil
}

// FetchRange filters the messenger's MessageSent logs over [from, to].
func (s *Source) FetchRange(ctx context.Context, from, to uint64) ([]adapter.RawEvent, error) {
	logs, err := s.conn().FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.cfg.Messenger},
		Topics:    [][]common.Hash{{messageSentTopic}},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "filtering logs [%d, %d]", from, to)
	}
	events := make([]adapter.RawEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		topics := make([][]byte, 0, len(lg.Topics))
		for _, t := range lg.Topics {
			topics = append(topics, t.Bytes())
		}
		events = append(events, adapter.RawEvent{
			Block:   lg.BlockNumber,
			BlockID: lg.BlockHash.Hex(),
			TxID:    lg.TxHash.Bytes(),
			Index:   uint32(lg.Index),
			Payload: lg.Data,
			Topics:  topics,
		})
	}
	return events, nil
}

func (s *Source) conn() *ethclient.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}
