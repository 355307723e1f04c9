package node

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
	"github.com/EojEdred/Etrid-Infra-sub001/cmd/flags"
)

const testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func cliContext(t *testing.T, values map[string]string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.Uint(flags.AttesterIDFlag.Name, 0, "")
	set.Int(flags.MinSignaturesFlag.Name, 5, "")
	set.Int(flags.TotalAttestersFlag.Name, 9, "")
	set.Int(flags.HTTPPortFlag.Name, 8080, "")
	set.Int(flags.MonitoringPortFlag.Name, 9090, "")
	for _, name := range []string{
		flags.AttesterKeyFlag.Name,
		flags.AttesterSubstrateKeyFlag.Name,
		flags.AttesterAddressFlag.Name,
		flags.ConfirmationsFlag.Name,
		flags.EthereumRPCFlag.Name,
		flags.SolanaRPCFlag.Name,
		flags.SolanaProgramFlag.Name,
		flags.SubstrateWSFlag.Name,
		flags.TokenMessengerFlag.Name,
		flags.HTTPHostFlag.Name,
		flags.MonitoringHostFlag.Name,
		flags.CheckpointDirFlag.Name,
	} {
		set.String(name, "", "")
	}
	for name, value := range values {
		require.NoError(t, set.Set(name, value))
	}
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestNewRejectsBadAttesterID(t *testing.T) {
	_, err := New(cliContext(t, map[string]string{
		flags.AttesterKeyFlag.Name: testKeyHex,
	}))
	assert.ErrorContains(t, err, "attester id")
}

func TestNewRejectsUnsatisfiableThreshold(t *testing.T) {
	_, err := New(cliContext(t, map[string]string{
		flags.AttesterIDFlag.Name:     "3",
		flags.AttesterKeyFlag.Name:    testKeyHex,
		flags.MinSignaturesFlag.Name:  "10",
		flags.TotalAttestersFlag.Name: "9",
	}))
	assert.ErrorContains(t, err, "not satisfiable")
}

func TestNewRejectsAddressMismatch(t *testing.T) {
	_, err := New(cliContext(t, map[string]string{
		flags.AttesterIDFlag.Name:      "3",
		flags.AttesterKeyFlag.Name:     testKeyHex,
		flags.AttesterAddressFlag.Name: "0x0000000000000000000000000000000000000001",
	}))
	assert.ErrorContains(t, err, "derives")
}

func TestNewRequiresEndpoints(t *testing.T) {
	_, err := New(cliContext(t, map[string]string{
		flags.AttesterIDFlag.Name:  "3",
		flags.AttesterKeyFlag.Name: testKeyHex,
	}))
	assert.ErrorContains(t, err, "no chain endpoints")
}

func TestNewRejectsEVMChainWithoutMessenger(t *testing.T) {
	_, err := New(cliContext(t, map[string]string{
		flags.AttesterIDFlag.Name:  "3",
		flags.AttesterKeyFlag.Name: testKeyHex,
		flags.EthereumRPCFlag.Name: "ws://localhost:8546",
	}))
	assert.ErrorContains(t, err, "token messenger")
}

func TestNewRejectsMalformedSolanaProgram(t *testing.T) {
	_, err := New(cliContext(t, map[string]string{
		flags.AttesterIDFlag.Name:    "3",
		flags.AttesterKeyFlag.Name:   testKeyHex,
		flags.SolanaRPCFlag.Name:     "http://localhost:8899",
		flags.SolanaProgramFlag.Name: "not-base58!",
	}))
	assert.ErrorContains(t, err, "program id")
}

func TestNewBuildsNodeWithSubstrateAdapter(t *testing.T) {
	// Substrate needs no contract address, so the node assembles fully
	// without touching the network; connection happens at Start.
	n, err := New(cliContext(t, map[string]string{
		flags.AttesterIDFlag.Name:  "3",
		flags.AttesterKeyFlag.Name: testKeyHex,
		flags.SubstrateWSFlag.Name: "ws://localhost:9944",
	}))
	require.NoError(t, err)
	require.NotNil(t, n)
	n.cancel()
}

func TestBridgeConfigAppliesConfirmationOverrides(t *testing.T) {
	cfg, err := bridgeConfig(cliContext(t, map[string]string{
		flags.ConfirmationsFlag.Name: "ethereum=20,polygon=64",
	}))
	require.NoError(t, err)
	assert.Equal(t, uint32(20), cfg.RequiredConfirmations(types.DomainEthereum))
	assert.Equal(t, uint32(64), cfg.RequiredConfirmations(types.DomainPolygon))
	assert.Equal(t, uint32(31), cfg.RequiredConfirmations(types.DomainSolana))
}
