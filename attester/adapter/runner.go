package adapter

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

var log = logrus.WithField("prefix", "adapter")

// sessionDedupeSize bounds the per-session (tx, index) dedupe set.
const sessionDedupeSize = 1 << 16

// reconnectThreshold is how many consecutive failed observation rounds drop
// the connection and redial. Sources with endpoint lists rotate on each dial.
const reconnectThreshold = 3

// Config parameterizes a runner.
type Config struct {
	Source Source
	Parser Parser
	// Out receives finality-confirmed messages. The channel is bounded by
	// the caller; a full channel blocks promotion, which in turn stops the
	// fetch loop from pulling new blocks. That is the backpressure path.
	Out chan<- *types.ObservedMessage
	// RequiredConfirmations is the finality depth for this source domain,
	// counted as blocks observed on top of the containing block.
	RequiredConfirmations uint32
	// PollInterval is how often the head is re-checked.
	PollInterval time.Duration
	// RPCTimeout bounds each individual source call.
	RPCTimeout time.Duration
	// BackscanBlocks widens the initial scan window when no checkpoint
	// exists. Replaying events already seen before a restart is by design;
	// downstream dedupes on message id.
	BackscanBlocks uint64
	// MaxBatchBlocks caps one FetchRange span.
	MaxBatchBlocks uint64
	// ConnectAttempts is the startup retry budget before the adapter
	// degrades to background reconnection.
	ConnectAttempts uint
	// Checkpoint persists the promotion watermark; nil disables.
	Checkpoint *Checkpoint
}

func (c *Config) applyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RPCTimeout == 0 {
		c.RPCTimeout = DefaultRPCTimeout
	}
	if c.BackscanBlocks == 0 {
		c.BackscanBlocks = DefaultBackscanBlocks
	}
	if c.MaxBatchBlocks == 0 {
		c.MaxBatchBlocks = DefaultMaxBatchBlocks
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = DefaultConnectAttempts
	}
	if c.Checkpoint == nil {
		c.Checkpoint = NewCheckpoint("")
	}
}

// pendingDeposit is a discovered event waiting out its confirmation depth.
// Owned exclusively by the runner.
type pendingDeposit struct {
	msg     *types.ObservedMessage
	block   uint64
	blockID string
	key     string
}

// Runner drives one Source/Parser pair: discovery, finality tracking,
// re-org handling, session dedupe and ordered emission. It satisfies the
// runtime service registry contract.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
	m      *metrics
	logger *logrus.Entry

	mu            sync.Mutex
	connected     bool
	running       bool
	lastBlock     uint64
	eventsEmitted uint64
	errorCount    uint64
	lastError     error

	// scan state, touched only by the run goroutine
	scanned uint64
	faults  uint
	pending []pendingDeposit
	seen    *lru.Cache
	done    chan struct{}
}

// NewRunner builds a runner around a source and parser.
func NewRunner(ctx context.Context, cfg Config) (*Runner, error) {
	cfg.applyDefaults()
	if cfg.Source == nil || cfg.Parser == nil || cfg.Out == nil {
		return nil, fmt.Errorf("adapter runner requires source, parser and output channel")
	}
	seen, err := lru.New(sessionDedupeSize)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		m:      newMetrics(cfg.Source.Domain().String()),
		logger: log.WithField("source", cfg.Source.Name()),
		seen:   seen,
		done:   make(chan struct{}),
	}, nil
}

// Start begins observation. Idempotent: a second call on a running adapter
// is a no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"domain":        r.cfg.Source.Domain().String(),
		"confirmations": r.cfg.RequiredConfirmations,
	}).Info("Starting chain adapter")
	go r.run()
}

// Stop ceases observation. In-flight source calls are cancelled through the
// context; Stop returns once the run loop has exited.
func (r *Runner) Stop() error {
	r.cancel()
	<-r.done
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	return nil
}

// Status reports the adapter's health for the service registry: nil while
// connected, an error while the endpoint has never been reached or has gone
// unresponsive past the reconnect threshold.
func (r *Runner) Status() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running && !r.connected {
		return ErrAdapterStartup
	}
	return nil
}

// OperationalStatus returns the detailed adapter snapshot served by the
// attester API.
func (r *Runner) OperationalStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		Name:            r.cfg.Source.Name(),
		Domain:          r.cfg.Source.Domain().String(),
		Running:         r.running,
		LastSourceBlock: r.lastBlock,
		EventsEmitted:   r.eventsEmitted,
		Errors:          r.errorCount,
	}
	if r.lastError != nil {
		st.LastError = r.lastError.Error()
	}
	return st
}

func (r *Runner) run() {
	defer close(r.done)

	if err := r.connect(); err != nil {
		if r.ctx.Err() != nil {
			return
		}
		// Startup budget exhausted. Surface the failure and keep retrying
		// forever in the background; an adapter never self-terminates.
		r.recordError("transport", err)
		for r.ctx.Err() == nil {
			if err := r.connect(); err == nil {
				break
			}
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(r.cfg.PollInterval):
			}
		}
	}
	if r.ctx.Err() != nil {
		return
	}

	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()

	if err := r.initCursor(); err != nil {
		r.recordError("transport", err)
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	var wake <-chan struct{}
	if w, ok := r.cfg.Source.(Waker); ok {
		wake = w.Wake()
	}

	// First pass immediately; afterwards on ticker or wake.
	r.tick()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		case <-wake:
			r.tick()
		}
	}
}

// connect dials the source within the configured attempt budget, rotating
// endpoints on each attempt where the source supports failover.
func (r *Runner) connect() error {
	err := retry.Do(
		func() error {
			ctx, cancel := context.WithTimeout(r.ctx, r.cfg.RPCTimeout)
			defer cancel()
			return r.cfg.Source.Connect(ctx)
		},
		retry.Context(r.ctx),
		retry.Attempts(r.cfg.ConnectAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdapterStartup, err)
	}
	return nil
}

// initCursor decides where scanning begins: the persisted checkpoint when
// one exists, otherwise head minus the confirmation depth minus the
// back-scan window.
func (r *Runner) initCursor() error {
	if block, ok, err := r.cfg.Checkpoint.Load(); err != nil {
		r.logger.WithError(err).Warn("Could not load checkpoint, falling back to back-scan")
	} else if ok {
		r.scanned = block
		r.logger.WithField("block", block).Info("Resuming from checkpoint")
		return nil
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.RPCTimeout)
	defer cancel()
	head, err := r.cfg.Source.Head(ctx)
	if err != nil {
		return err
	}
	rewind := uint64(r.cfg.RequiredConfirmations) + r.cfg.BackscanBlocks
	if head > rewind {
		r.scanned = head - rewind
	} else {
		r.scanned = 0
	}
	r.logger.WithField("block", r.scanned).Info("Starting scan with back-scan window")
	return nil
}

// tick performs one observation round: advance discovery to the current
// head, then promote every pending deposit that has cleared its
// confirmation depth. Consecutive failed rounds trigger a reconnect.
func (r *Runner) tick() {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.RPCTimeout)
	head, err := r.cfg.Source.Head(ctx)
	cancel()
	if err != nil {
		r.recordError("transport", err)
		r.transportFault()
		return
	}

	if err := r.discover(head); err != nil {
		r.recordError("transport", err)
		r.transportFault()
		return
	}
	r.faults = 0
	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()
	r.promote(head)

	r.mu.Lock()
	r.lastBlock = head
	r.mu.Unlock()
	r.m.pending.Set(float64(len(r.pending)))

	// The checkpoint is the highest block known to be fully promoted:
	// everything at or below it has either been emitted or dropped.
	watermark := uint64(0)
	if head > uint64(r.cfg.RequiredConfirmations) {
		watermark = head - uint64(r.cfg.RequiredConfirmations)
	}
	if watermark > r.scanned {
		watermark = r.scanned
	}
	if len(r.pending) > 0 && r.pending[0].block <= watermark && r.pending[0].block > 0 {
		watermark = r.pending[0].block - 1
	}
	if err := r.cfg.Checkpoint.Save(watermark); err != nil {
		r.logger.WithError(err).Warn("Could not persist checkpoint")
	}
}

// transportFault counts consecutive failed observation rounds. Past the
// threshold the connection is dropped and redialed; Status degrades until a
// round succeeds again.
func (r *Runner) transportFault() {
	r.faults++
	if r.faults < reconnectThreshold {
		return
	}
	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()
	r.logger.Warn("Endpoint unresponsive, reconnecting")
	if err := r.connect(); err != nil {
		// Budget exhausted; the next failed rounds keep redialing.
		return
	}
	r.faults = 0
}

// discover fetches raw events from the scan cursor up to head, in bounded
// batches, parsing and queueing them as pending deposits. Scan progress made
// before a transport error is kept.
func (r *Runner) discover(head uint64) error {
	for r.scanned < head {
		if r.ctx.Err() != nil {
			return nil
		}
		from := r.scanned + 1
		to := from + r.cfg.MaxBatchBlocks - 1
		if to > head {
			to = head
		}

		ctx, cancel := context.WithTimeout(r.ctx, r.cfg.RPCTimeout)
		raws, err := r.cfg.Source.FetchRange(ctx, from, to)
		cancel()
		if err != nil {
			return err
		}

		for _, raw := range raws {
			key := sessionKey(raw)
			if r.seen.Contains(key) {
				continue
			}
			r.seen.Add(key, struct{}{})

			msg, err := r.cfg.Parser.Parse(raw)
			if errors.Is(err, ErrNotBridgeEvent) {
				// Third-party traffic on a shared address or program.
				continue
			}
			if err != nil {
				// Malformed events are skipped, never retried, and do not
				// advance the emitted count.
				r.recordError("chain_protocol", err)
				r.logger.WithError(err).WithFields(logrus.Fields{
					"block": raw.Block,
					"tx":    fmt.Sprintf("%#x", raw.TxID),
				}).Warn("Skipping malformed bridge event")
				continue
			}
			msg.SourceBlock = raw.Block
			msg.SourceTimestampMs = raw.TimestampMs
			r.pending = append(r.pending, pendingDeposit{msg: msg, block: raw.Block, blockID: raw.BlockID, key: key})
		}
		r.scanned = to
	}
	return nil
}

// promote emits every pending deposit whose block has accrued the required
// confirmations and is still canonical. Emission order is block order, then
// discovery order within a block. Once emitted a message is final and never
// retracted.
func (r *Runner) promote(head uint64) {
	for len(r.pending) > 0 {
		p := r.pending[0]
		if head < p.block || head-p.block < uint64(r.cfg.RequiredConfirmations) {
			return
		}

		if p.blockID != "" {
			ctx, cancel := context.WithTimeout(r.ctx, r.cfg.RPCTimeout)
			id, err := r.cfg.Source.BlockID(ctx, p.block)
			cancel()
			if err != nil {
				r.recordError("transport", err)
				return
			}
			if id != p.blockID {
				// The block left the canonical chain below the confirmation
				// threshold: drop silently and rescan the height range so
				// replacement events are discovered.
				r.m.reorgs.Inc()
				r.logger.WithField("block", p.block).Warn("Dropping pending deposits from re-orged block")
				r.dropFromBlock(p.block)
				continue
			}
		}

		p.msg.ConfirmationsSeen = uint32(head - p.block)
		select {
		case r.cfg.Out <- p.msg:
		case <-r.ctx.Done():
			return
		}
		r.pending = r.pending[1:]
		r.m.observed.Inc()
		r.mu.Lock()
		r.eventsEmitted++
		r.mu.Unlock()
	}
}

// dropFromBlock discards all pending deposits at or above the given height
// and rewinds the scan cursor so the replacing canonical blocks are fetched
// again.
func (r *Runner) dropFromBlock(block uint64) {
	kept := r.pending[:0]
	for _, p := range r.pending {
		if p.block < block {
			kept = append(kept, p)
		} else {
			// Forget the session key: the same transaction may be re-mined
			// into a canonical block and must then be discovered again.
			r.seen.Remove(p.key)
		}
	}
	r.pending = kept
	if r.scanned >= block {
		r.scanned = block - 1
	}
}

func (r *Runner) recordError(kind string, err error) {
	r.m.errors.WithLabelValues(kind).Inc()
	r.mu.Lock()
	r.errorCount++
	r.lastError = err
	r.mu.Unlock()
	if kind == "transport" {
		r.logger.WithError(err).Debug("Transient source failure")
	}
}

func sessionKey(raw RawEvent) string {
	return hex.EncodeToString(raw.TxID) + "/" + fmt.Sprint(raw.Index)
}
