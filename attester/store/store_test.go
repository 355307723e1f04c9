package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

const testThreshold = 5

// fakeClock is a manually advanced clock shared with the store under test.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore() (*Store, *fakeClock) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	s := New(Config{
		Threshold: func(types.Domain) int { return testThreshold },
		Now:       clock.Now,
	})
	return s, clock
}

func testMessageID(b byte) types.MessageID {
	var id types.MessageID
	id[0] = b
	return id
}

func testSig(attester uint8) types.PartialSignature {
	return types.PartialSignature{AttesterID: attester, Signature: []byte{attester, 0xff}, SignedAtMs: 1}
}

func mustEnsure(t *testing.T, s *Store, id types.MessageID) *types.Attestation {
	t.Helper()
	att, err := s.Ensure(id, []byte("canonical-bytes"), types.DomainEthereum, types.DomainSubstrate, 42)
	require.NoError(t, err)
	return att
}

func TestEnsure_Idempotent(t *testing.T) {
	s, _ := newTestStore()
	id := testMessageID(1)

	first := mustEnsure(t, s, id)
	assert.Equal(t, types.StatusPending, first.Status)
	assert.Equal(t, first.CreatedAtMs+uint64(DefaultTTL.Milliseconds()), first.ExpiresAtMs)

	require.Equal(t, Accepted, s.AddSignature(id, testSig(1)))

	second := mustEnsure(t, s, id)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Len(t, second.Signatures, 1, "re-ensure must not alter signature counts")
	assert.Equal(t, 1, s.Len())
}

func TestEnsure_MessageBytesMismatch(t *testing.T) {
	s, _ := newTestStore()
	id := testMessageID(1)
	mustEnsure(t, s, id)

	_, err := s.Ensure(id, []byte("different-bytes"), types.DomainEthereum, types.DomainSubstrate, 42)
	assert.ErrorIs(t, err, ErrMessageBytesMismatch)

	// The store keeps serving the original entry.
	att, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, []byte("canonical-bytes"), att.MessageBytes)
}

func TestAddSignature_DuplicateAttester(t *testing.T) {
	s, _ := newTestStore()
	id := testMessageID(1)
	mustEnsure(t, s, id)

	assert.Equal(t, Accepted, s.AddSignature(id, testSig(3)))
	assert.Equal(t, DuplicateAttester, s.AddSignature(id, testSig(3)))

	att, ok := s.Get(id)
	require.True(t, ok)
	assert.Len(t, att.Signatures, 1)
}

func TestAddSignature_NotFound(t *testing.T) {
	s, _ := newTestStore()
	assert.Equal(t, NotFound, s.AddSignature(testMessageID(9), testSig(1)))
}

func TestAddSignature_ThresholdTransition(t *testing.T) {
	s, _ := newTestStore()
	id := testMessageID(1)
	mustEnsure(t, s, id)

	// Exactly k signatures flips the status, not k-1 and not k+1.
	for i := uint8(1); i < testThreshold; i++ {
		require.Equal(t, Accepted, s.AddSignature(id, testSig(i)))
		att, _ := s.Get(id)
		assert.Equal(t, types.StatusPending, att.Status, "below threshold at %d signatures", i)
	}

	require.Equal(t, Accepted, s.AddSignature(id, testSig(testThreshold)))
	att, _ := s.Get(id)
	assert.Equal(t, types.StatusReady, att.Status)

	require.Equal(t, Accepted, s.AddSignature(id, testSig(testThreshold+1)))
	att, _ = s.Get(id)
	assert.Equal(t, types.StatusReady, att.Status)
	assert.Len(t, att.Signatures, testThreshold+1)
}

func TestAddSignature_OrderedByAttesterID(t *testing.T) {
	s, _ := newTestStore()
	id := testMessageID(1)
	mustEnsure(t, s, id)

	for _, attester := range []uint8{7, 2, 9, 1, 5} {
		require.Equal(t, Accepted, s.AddSignature(id, testSig(attester)))
	}

	att, _ := s.Get(id)
	var ids []uint8
	for _, sig := range att.Signatures {
		ids = append(ids, sig.AttesterID)
	}
	assert.Equal(t, []uint8{1, 2, 5, 7, 9}, ids)
}

func TestGetByNonce(t *testing.T) {
	s, _ := newTestStore()
	id := testMessageID(1)
	mustEnsure(t, s, id)

	att, ok := s.GetByNonce(types.DomainEthereum, 42)
	require.True(t, ok)
	assert.Equal(t, id, att.MessageID)

	_, ok = s.GetByNonce(types.DomainEthereum, 43)
	assert.False(t, ok)
	_, ok = s.GetByNonce(types.DomainSolana, 42)
	assert.False(t, ok)
}

func TestListReady(t *testing.T) {
	s, _ := newTestStore()
	ready := testMessageID(1)
	pending := testMessageID(2)
	mustEnsure(t, s, ready)
	_, err := s.Ensure(pending, []byte("canonical-bytes"), types.DomainEthereum, types.DomainSubstrate, 43)
	require.NoError(t, err)

	for i := uint8(1); i <= testThreshold; i++ {
		require.Equal(t, Accepted, s.AddSignature(ready, testSig(i)))
	}

	listed := s.ListReady()
	require.Len(t, listed, 1)
	assert.Equal(t, ready, listed[0].MessageID)
}

func TestMarkRelayed_Idempotent(t *testing.T) {
	s, _ := newTestStore()
	id := testMessageID(1)
	mustEnsure(t, s, id)
	for i := uint8(1); i <= testThreshold; i++ {
		require.Equal(t, Accepted, s.AddSignature(id, testSig(i)))
	}

	s.MarkRelayed(id)
	att, _ := s.Get(id)
	assert.Equal(t, types.StatusRelayed, att.Status)

	s.MarkRelayed(id) // second call has the same effect as one
	att, _ = s.Get(id)
	assert.Equal(t, types.StatusRelayed, att.Status)
	assert.Empty(t, s.ListReady())
}

func TestMarkRelayed_BelowThresholdIsNoop(t *testing.T) {
	s, _ := newTestStore()
	id := testMessageID(1)
	mustEnsure(t, s, id)
	require.Equal(t, Accepted, s.AddSignature(id, testSig(1)))

	s.MarkRelayed(id)
	att, _ := s.Get(id)
	assert.Equal(t, types.StatusPending, att.Status)
}

func TestExpiry(t *testing.T) {
	s, clock := newTestStore()
	id := testMessageID(1)
	mustEnsure(t, s, id)

	// One millisecond past the deadline the derived status flips.
	clock.Advance(DefaultTTL + time.Millisecond)
	att, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.StatusExpired, att.Status)

	assert.Equal(t, Expired, s.AddSignature(id, testSig(1)))
}

func TestExpiry_ReadyEntryStopsAdvertising(t *testing.T) {
	s, clock := newTestStore()
	id := testMessageID(1)
	mustEnsure(t, s, id)
	for i := uint8(1); i <= testThreshold; i++ {
		require.Equal(t, Accepted, s.AddSignature(id, testSig(i)))
	}
	require.Len(t, s.ListReady(), 1)

	clock.Advance(DefaultTTL)
	assert.Empty(t, s.ListReady(), "expired entries must not report ready")
}

func TestSweep(t *testing.T) {
	s, clock := newTestStore()
	old := testMessageID(1)
	fresh := testMessageID(2)
	mustEnsure(t, s, old)

	clock.Advance(30 * time.Minute)
	_, err := s.Ensure(fresh, []byte("canonical-bytes"), types.DomainEthereum, types.DomainSubstrate, 43)
	require.NoError(t, err)

	// Nothing has expired yet.
	clock.Advance(29 * time.Minute)
	assert.Equal(t, 0, s.Sweep(clock.Now()))

	// Only the older entry crosses its deadline.
	clock.Advance(time.Minute)
	assert.Equal(t, 1, s.Sweep(clock.Now()))
	_, ok := s.Get(old)
	assert.False(t, ok)
	_, ok = s.Get(fresh)
	assert.True(t, ok)
	_, ok = s.GetByNonce(types.DomainEthereum, 42)
	assert.False(t, ok, "nonce index entry must go with the attestation")
}

func TestCensus(t *testing.T) {
	s, clock := newTestStore()
	a, b, c := testMessageID(1), testMessageID(2), testMessageID(3)
	mustEnsure(t, s, a)
	_, err := s.Ensure(b, []byte("x"), types.DomainSolana, types.DomainEthereum, 7)
	require.NoError(t, err)
	_, err = s.Ensure(c, []byte("y"), types.DomainSubstrate, types.DomainEthereum, 8)
	require.NoError(t, err)

	for i := uint8(1); i <= testThreshold; i++ {
		require.Equal(t, Accepted, s.AddSignature(b, testSig(i)))
		require.Equal(t, Accepted, s.AddSignature(c, testSig(i)))
	}
	s.MarkRelayed(c)

	counts := s.Census()
	assert.Equal(t, Counts{Pending: 1, Ready: 1, Relayed: 1}, counts)

	clock.Advance(DefaultTTL)
	counts = s.Census()
	assert.Equal(t, Counts{Expired: 2, Relayed: 1}, counts)
}

func TestSnapshotIsolation(t *testing.T) {
	s, _ := newTestStore()
	id := testMessageID(1)
	mustEnsure(t, s, id)
	require.Equal(t, Accepted, s.AddSignature(id, testSig(1)))

	snap, _ := s.Get(id)
	snap.Signatures[0].Signature[0] = 0xde
	snap.MessageBytes[0] = 0xad

	att, _ := s.Get(id)
	assert.Equal(t, byte(1), att.Signatures[0].Signature[0])
	assert.Equal(t, []byte("canonical-bytes"), att.MessageBytes)
}
