package attester

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/store"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/canonical"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/signer"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

const testECDSAKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func testService(t *testing.T, threshold int) (*Service, *store.Store, chan *types.ObservedMessage) {
	t.Helper()
	sgn, err := signer.New(3, testECDSAKey, "//Alice")
	require.NoError(t, err)
	st := store.New(store.Config{Threshold: func(types.Domain) int { return threshold }})
	in := make(chan *types.ObservedMessage, 8)
	svc, err := NewService(context.Background(), Config{Signer: sgn, Store: st, In: in})
	require.NoError(t, err)
	return svc, st, in
}

func observed(destination types.Domain, nonce uint64) *types.ObservedMessage {
	return &types.ObservedMessage{
		SourceDomain:      types.DomainEthereum,
		DestinationDomain: destination,
		Nonce:             nonce,
		Amount:            uint256.NewInt(1_000_000),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServiceSignsObservedMessages(t *testing.T) {
	svc, st, in := testService(t, 1)
	svc.Start()
	defer func() { require.NoError(t, svc.Stop()) }()

	msg := observed(types.DomainSubstrate, 42)
	_, id, err := canonical.Encode(msg)
	require.NoError(t, err)

	in <- msg
	waitFor(t, func() bool {
		att, ok := st.Get(id)
		return ok && len(att.Signatures) == 1
	})

	att, ok := st.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.StatusReady, att.Status, "threshold 1 means one signature is enough")
	assert.Equal(t, uint8(3), att.Signatures[0].AttesterID)
	assert.Len(t, att.Signatures[0].Signature, 64, "substrate destinations take sr25519 signatures")
}

func TestServiceSignsForEVMDestination(t *testing.T) {
	svc, st, in := testService(t, 5)
	svc.Start()
	defer func() { require.NoError(t, svc.Stop()) }()

	msg := observed(types.DomainPolygon, 7)
	_, id, err := canonical.Encode(msg)
	require.NoError(t, err)

	in <- msg
	waitFor(t, func() bool {
		att, ok := st.Get(id)
		return ok && len(att.Signatures) == 1
	})

	att, _ := st.Get(id)
	assert.Equal(t, types.StatusPending, att.Status, "one of five signatures is not ready")
	assert.Len(t, att.Signatures[0].Signature, 65, "EVM destinations take (r,s,v) signatures")
	assert.True(t, att.Signatures[0].Signature[64] == 27 || att.Signatures[0].Signature[64] == 28)
}

func TestServiceRedeliveryIsIdempotent(t *testing.T) {
	svc, st, in := testService(t, 2)
	svc.Start()
	defer func() { require.NoError(t, svc.Stop()) }()

	msg := observed(types.DomainSubstrate, 9)
	_, id, err := canonical.Encode(msg)
	require.NoError(t, err)

	in <- msg
	in <- msg // back-scan replay after restart
	waitFor(t, func() bool {
		att, ok := st.Get(id)
		return ok && len(att.Signatures) == 1
	})
	time.Sleep(50 * time.Millisecond)

	att, _ := st.Get(id)
	assert.Len(t, att.Signatures, 1, "redelivery must not double-sign")
	assert.Equal(t, 1, st.Len())
}

func TestServiceLeavesUnsignableDestinationsPending(t *testing.T) {
	svc, st, in := testService(t, 1)
	svc.Start()
	defer func() { require.NoError(t, svc.Stop()) }()

	msg := observed(types.DomainBitcoin, 11)
	_, id, err := canonical.Encode(msg)
	require.NoError(t, err)

	in <- msg
	waitFor(t, func() bool {
		_, ok := st.Get(id)
		return ok
	})

	att, _ := st.Get(id)
	assert.Equal(t, types.StatusPending, att.Status)
	assert.Empty(t, att.Signatures, "no off-chain scheme exists for this destination")
}

func TestServiceSkipsUncanonicalizableMessages(t *testing.T) {
	svc, st, in := testService(t, 1)
	svc.Start()
	defer func() { require.NoError(t, svc.Stop()) }()

	bad := observed(types.DomainSubstrate, 1)
	bad.Amount = new(uint256.Int).Lsh(uint256.NewInt(1), 129)
	in <- bad
	in <- observed(types.DomainSubstrate, 2)

	waitFor(t, func() bool { return st.Len() == 1 })
	assert.Equal(t, 1, st.Len(), "the oversized message is dropped, the next one processed")
}

func TestServiceMissingKeyIsNotFatal(t *testing.T) {
	// A signer without an sr25519 key cannot serve Substrate destinations;
	// that is an unsupported-destination skip, not a self-verify fatal.
	hook := logtest.NewGlobal()
	defer hook.Reset()

	sgn, err := signer.New(1, testECDSAKey, "")
	require.NoError(t, err)
	st := store.New(store.Config{Threshold: func(types.Domain) int { return 1 }})
	in := make(chan *types.ObservedMessage, 1)

	fatalCalled := false
	svc, err := NewService(context.Background(), Config{
		Signer: sgn,
		Store:  st,
		In:     in,
		Fatal:  func(error) { fatalCalled = true },
	})
	require.NoError(t, err)
	svc.Start()
	defer func() { require.NoError(t, svc.Stop()) }()

	msg := observed(types.DomainSubstrate, 1)
	_, id, err := canonical.Encode(msg)
	require.NoError(t, err)

	in <- msg
	waitFor(t, func() bool {
		att, ok := st.Get(id)
		return ok && len(att.Signatures) == 0
	})
	assert.False(t, fatalCalled, "a missing key is unsupported, not fatal")

	waitFor(t, func() bool {
		for _, entry := range hook.AllEntries() {
			if entry.Level == logrus.WarnLevel && entry.Message == "Cannot sign for destination; attestation left unsigned" {
				return true
			}
		}
		return false
	})
}
