// Package adapter contains the chain-agnostic half of every chain adapter:
// the Source/Parser contracts, the runner that drives discovery through
// finality into emission, block checkpointing and failure accounting. The
// chain-specific packages underneath implement Source and Parser only; all
// bookkeeping (pending deposits, re-org drops, session dedupe, back-scan,
// backpressure) lives here once.
package adapter

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// Defaults for runner configuration.
const (
	DefaultPollInterval    = 10 * time.Second
	DefaultRPCTimeout      = 10 * time.Second
	DefaultBackscanBlocks  = 100
	DefaultMaxBatchBlocks  = 256
	DefaultConnectAttempts = 5
)

// ErrAdapterStartup means the source endpoint was unreachable for the whole
// connect retry budget. The runner keeps retrying in the background; the
// error is surfaced through Status until a connection succeeds.
var ErrAdapterStartup = errors.New("adapter could not reach its RPC endpoint")

// RawEvent is one candidate bridge event as discovered on a source chain,
// before normalization. The payload layout is chain-specific and only the
// paired Parser understands it.
type RawEvent struct {
	// Block is the height (block, slot or ledger index) containing the event.
	Block uint64
	// BlockID identifies the containing block for re-org detection. Empty on
	// chains whose sources only report finalized data.
	BlockID string
	// TxID is the chain-native transaction identifier.
	TxID []byte
	// Index disambiguates multiple events within one transaction (log index,
	// output index, instruction index).
	Index uint32
	// TimestampMs is the block timestamp in milliseconds, zero if unknown.
	TimestampMs uint64
	// Payload carries the chain-specific event bytes for the Parser.
	Payload []byte
	// Topics carries auxiliary event data: EVM log topics, or the paired
	// memo text on Solana. Empty elsewhere.
	Topics [][]byte
}

// Source is the narrow per-chain discovery interface: how to reach the chain
// and pull raw candidate events. Implementations own their RPC connections;
// nothing is shared across adapters.
type Source interface {
	// Name is a short label for logs and metrics, e.g. "evm-ethereum".
	Name() string
	// Domain is the source chain's domain tag.
	Domain() types.Domain
	// Connect establishes the RPC connection. Called repeatedly until it
	// succeeds; implementations with an endpoint list should rotate on each
	// call.
	Connect(ctx context.Context) error
	// Head returns the latest observed height.
	Head(ctx context.Context) (uint64, error)
	// BlockID returns the canonical block identifier at the given height,
	// or "" if the chain cannot re-org below its reporting horizon.
	BlockID(ctx context.Context, height uint64) (string, error)
	// FetchRange returns all candidate events in [from, to], ordered by
	// block, then transaction, then index.
	FetchRange(ctx context.Context, from, to uint64) ([]RawEvent, error)
}

// Waker is an optional Source capability: a channel that fires when new data
// is likely available, letting the runner poll ahead of its ticker.
// Subscription-capable sources (EVM websockets, Substrate heads, Horizon
// streams) implement this; pure polling sources do not.
type Waker interface {
	Wake() <-chan struct{}
}

// Parser turns one raw event into a normalized observed message. A parser
// rejects malformed events with an error; the runner logs and skips them
// without advancing the emitted count.
type Parser interface {
	Parse(raw RawEvent) (*types.ObservedMessage, error)
}

// ErrZeroAmount rejects deposits carrying no value; bridges must not
// transport zero amounts. Parsers return it so the runner classifies the
// event as a protocol violation.
var ErrZeroAmount = errors.New("deposit amount is zero")

// ErrNotBridgeEvent marks a candidate event that turned out to be ordinary
// third-party traffic: an unrelated OP_RETURN, a non-deposit program
// instruction. The runner skips these silently; the error counter is reserved
// for genuinely malformed bridge events.
var ErrNotBridgeEvent = errors.New("event is not bridge traffic")

// Status is the operational snapshot of one adapter.
type Status struct {
	Name            string `json:"name"`
	Domain          string `json:"domain"`
	Running         bool   `json:"running"`
	LastSourceBlock uint64 `json:"lastSourceBlock"`
	EventsEmitted   uint64 `json:"eventsEmitted"`
	Errors          uint64 `json:"errors"`
	LastError       string `json:"lastError,omitempty"`
}
