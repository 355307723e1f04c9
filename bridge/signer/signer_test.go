package signer

import (
	"testing"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// Well-known throwaway dev key, never funded.
const testECDSAKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

const testSURI = "//Alice"

func testID() types.MessageID {
	var id types.MessageID
	for i := range id {
		id[i] = byte(i)
	}
	return id
}

func TestSign_EVMDestination(t *testing.T) {
	s, err := New(3, testECDSAKey, "")
	require.NoError(t, err)

	sig, err := s.Sign(testID(), types.DomainEthereum)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), sig.AttesterID)
	require.Len(t, sig.Signature, 65)
	assert.Contains(t, []byte{27, 28}, sig.Signature[64])

	assert.True(t, VerifyECDSA(testID(), sig.Signature, s.ECDSAAddress()))

	// Any EVM-family destination selects the same scheme.
	sig2, err := s.Sign(testID(), types.DomainArbitrum)
	require.NoError(t, err)
	assert.True(t, VerifyECDSA(testID(), sig2.Signature, s.ECDSAAddress()))
}

func TestSign_SubstrateDestination(t *testing.T) {
	s, err := New(1, "", testSURI)
	require.NoError(t, err)

	sig, err := s.Sign(testID(), types.DomainSubstrate)
	require.NoError(t, err)
	require.Len(t, sig.Signature, 64)

	id := testID()
	ok, err := signature.Verify(id[:], sig.Signature, testSURI)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSign_UnsupportedDestination(t *testing.T) {
	s, err := New(1, testECDSAKey, testSURI)
	require.NoError(t, err)

	for _, domain := range []types.Domain{types.DomainSolana, types.DomainBitcoin, types.DomainStellar} {
		_, err := s.Sign(testID(), domain)
		assert.ErrorIs(t, err, ErrUnsupportedDestination, "domain %s", domain)
	}
}

func TestSign_MissingKey(t *testing.T) {
	evmOnly, err := New(1, testECDSAKey, "")
	require.NoError(t, err)
	_, err = evmOnly.Sign(testID(), types.DomainSubstrate)
	assert.ErrorIs(t, err, ErrNoKey)

	srOnly, err := New(1, "", testSURI)
	require.NoError(t, err)
	_, err = srOnly.Sign(testID(), types.DomainEthereum)
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(1, "", "")
	assert.Error(t, err)

	_, err = New(1, "zznothex", "")
	assert.Error(t, err)
}

func TestIdentity(t *testing.T) {
	s, err := New(7, testECDSAKey, testSURI)
	require.NoError(t, err)

	ident := s.Identity()
	assert.Equal(t, uint8(7), ident.ID)

	key, err := crypto.HexToECDSA(testECDSAKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Bytes(), ident.ECDSAAddress[:])
	assert.NotEqual(t, [32]byte{}, ident.Sr25519Public)
}

func TestVerifyECDSA_RejectsWrongSigner(t *testing.T) {
	a, err := New(1, testECDSAKey, "")
	require.NoError(t, err)
	b, err := New(2, "8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a", "")
	require.NoError(t, err)

	sig, err := a.Sign(testID(), types.DomainEthereum)
	require.NoError(t, err)

	assert.False(t, VerifyECDSA(testID(), sig.Signature, b.ECDSAAddress()))
	assert.False(t, VerifyECDSA(testID(), sig.Signature[:64], a.ECDSAAddress()))
}
