package submitter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter/evm"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/canonical"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// fakeDestination scripts Submit outcomes per call and records invocations.
type fakeDestination struct {
	domain types.Domain

	mu      sync.Mutex
	calls   int
	active  int
	maxSeen int
	script  []error
	block   chan struct{}
}

func (f *fakeDestination) Domain() types.Domain {
	return f.domain
}

func (f *fakeDestination) Submit(ctx context.Context, _ *types.ReadyAttestation) error {
	f.mu.Lock()
	f.calls++
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	var err error
	if len(f.script) > 0 {
		err = f.script[0]
		f.script = f.script[1:]
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return err
}

func (f *fakeDestination) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func readyFor(t *testing.T, dst types.Domain, nonce uint64, sigs int) *types.ReadyAttestation {
	t.Helper()
	msg := &types.ObservedMessage{
		SourceDomain:      types.DomainEthereum,
		DestinationDomain: dst,
		Nonce:             nonce,
		Amount:            uint256.NewInt(5_000_000),
	}
	msg.Sender[0] = 0xaa
	msg.Recipient[0] = 0xbb
	messageBytes, id, err := canonical.Encode(msg)
	require.NoError(t, err)

	ready := &types.ReadyAttestation{
		MessageID:         id,
		MessageBytes:      messageBytes,
		DestinationDomain: dst,
	}
	for i := 0; i < sigs; i++ {
		sig := make([]byte, 65)
		sig[0] = byte(i + 1)
		ready.Signatures = append(ready.Signatures, types.PartialSignature{
			AttesterID: uint8(i + 1),
			Signature:  sig,
		})
	}
	return ready
}

type notifyRecorder struct {
	mu  sync.Mutex
	ids []types.MessageID
}

func (n *notifyRecorder) record(id types.MessageID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, id)
}

func (n *notifyRecorder) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.ids)
}

func startService(t *testing.T, in chan *types.ReadyAttestation, dst Destination, notify func(types.MessageID)) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), Config{
		In:           in,
		Destinations: []Destination{dst},
		Notify:       notify,
		RetryDelay:   5 * time.Millisecond,
	})
	require.NoError(t, err)
	svc.Start()
	t.Cleanup(func() { require.NoError(t, svc.Stop()) })
	return svc
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitterConfirmsAndNotifies(t *testing.T) {
	dst := &fakeDestination{domain: types.DomainEthereum}
	notified := &notifyRecorder{}
	in := make(chan *types.ReadyAttestation, 1)
	startService(t, in, dst, notified.record)

	ready := readyFor(t, types.DomainEthereum, 1, 5)
	in <- ready

	waitFor(t, func() bool { return notified.count() == 1 }, "relay never confirmed")
	assert.Equal(t, ready.MessageID, notified.ids[0])
	assert.Equal(t, 1, dst.callCount())
}

func TestSubmitterRetriesThenConfirms(t *testing.T) {
	dst := &fakeDestination{
		domain: types.DomainEthereum,
		script: []error{errors.New("rpc timeout"), ErrFeeTooHigh, nil},
	}
	notified := &notifyRecorder{}
	in := make(chan *types.ReadyAttestation, 1)
	startService(t, in, dst, notified.record)

	in <- readyFor(t, types.DomainEthereum, 2, 5)

	waitFor(t, func() bool { return notified.count() == 1 }, "relay never confirmed")
	assert.Equal(t, 3, dst.callCount())
}

func TestSubmitterAlreadyRelayedIsTerminalSuccess(t *testing.T) {
	dst := &fakeDestination{
		domain: types.DomainEthereum,
		script: []error{ErrAlreadyRelayed},
	}
	notified := &notifyRecorder{}
	in := make(chan *types.ReadyAttestation, 1)
	startService(t, in, dst, notified.record)

	in <- readyFor(t, types.DomainEthereum, 3, 5)

	waitFor(t, func() bool { return notified.count() == 1 }, "rejection never notified")
	// Terminal: no retry after the chain reports the nonce spent.
	assert.Equal(t, 1, dst.callCount())
}

func TestSubmitterAbandonsAfterMaxAttempts(t *testing.T) {
	dst := &fakeDestination{
		domain: types.DomainEthereum,
		script: []error{errors.New("down"), errors.New("down"), errors.New("down")},
	}
	notified := &notifyRecorder{}
	in := make(chan *types.ReadyAttestation, 1)
	startService(t, in, dst, notified.record)

	in <- readyFor(t, types.DomainEthereum, 4, 5)

	waitFor(t, func() bool { return dst.callCount() == DefaultMaxAttempts }, "retries never exhausted")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, DefaultMaxAttempts, dst.callCount())
	assert.Equal(t, 0, notified.count())
}

func TestSubmitterSingleFlightPerMessage(t *testing.T) {
	block := make(chan struct{})
	dst := &fakeDestination{domain: types.DomainEthereum, block: block}
	in := make(chan *types.ReadyAttestation, 4)
	startService(t, in, dst, nil)

	ready := readyFor(t, types.DomainEthereum, 5, 5)
	in <- ready
	in <- ready
	in <- ready

	waitFor(t, func() bool { return dst.callCount() >= 1 }, "submission never started")
	time.Sleep(50 * time.Millisecond)
	dst.mu.Lock()
	calls, maxSeen := dst.calls, dst.maxSeen
	dst.mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, maxSeen)
	close(block)
}

func TestSubmitterDropsUnroutableDestination(t *testing.T) {
	dst := &fakeDestination{domain: types.DomainEthereum}
	notified := &notifyRecorder{}
	in := make(chan *types.ReadyAttestation, 1)
	startService(t, in, dst, notified.record)

	in <- readyFor(t, types.DomainBitcoin, 6, 5)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, dst.callCount())
	assert.Equal(t, 0, notified.count())
}

func TestNewServiceRejectsDuplicateDestinations(t *testing.T) {
	in := make(chan *types.ReadyAttestation)
	_, err := NewService(context.Background(), Config{
		In: in,
		Destinations: []Destination{
			&fakeDestination{domain: types.DomainEthereum},
			&fakeDestination{domain: types.DomainEthereum},
		},
	})
	assert.ErrorContains(t, err, "duplicate destination")
}

func TestBuildReceiveCalldata(t *testing.T) {
	ready := readyFor(t, types.DomainPolygon, 7, 5)

	calldata, err := buildReceiveCalldata(ready)
	require.NoError(t, err)
	assert.Equal(t, receiveMessageID, calldata[:4])

	unpacked, err := receiveMessageArgs.Unpack(calldata[4:])
	require.NoError(t, err)
	wireBytes := unpacked[0].([]byte)
	sigBytes := unpacked[1].([]byte)

	wire, err := evm.ParseMessage(wireBytes)
	require.NoError(t, err)
	assert.Equal(t, types.DomainEthereum, wire.SourceDomain)
	assert.Equal(t, types.DomainPolygon, wire.DestinationDomain)
	assert.Equal(t, uint64(7), wire.Nonce)
	assert.Equal(t, byte(0xaa), wire.MessageSender[0])
	assert.Equal(t, byte(0xbb), wire.MintRecipient[0])
	assert.Equal(t, uint64(5_000_000), wire.Amount.Uint64())

	assert.Len(t, sigBytes, 5*65)
	assert.Equal(t, byte(1), sigBytes[0])
	assert.Equal(t, byte(5), sigBytes[4*65])
}

func TestBuildReceiveCalldataRejectsGarbage(t *testing.T) {
	_, err := buildReceiveCalldata(&types.ReadyAttestation{MessageBytes: []byte{1, 2, 3}})
	assert.ErrorIs(t, err, canonical.ErrBadLength)
}
