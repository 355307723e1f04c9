package node

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/EojEdred/Etrid-Infra-sub001/cmd/flags"
)

func cliContext(t *testing.T, values map[string]string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.Int(flags.PollIntervalFlag.Name, 30_000, "")
	set.Uint(flags.MaxRetriesFlag.Name, 3, "")
	set.Int(flags.RetryDelayFlag.Name, 60_000, "")
	set.Uint64(flags.GasLimitFlag.Name, 0, "")
	set.Int(flags.MonitoringPortFlag.Name, 9090, "")
	for _, name := range []string{
		flags.AttesterAPIsFlag.Name,
		flags.RelayerKeyFlag.Name,
		flags.RelayerSubstrateKeyFlag.Name,
		flags.EthereumRPCFlag.Name,
		flags.SubstrateWSFlag.Name,
		flags.TokenMessengerFlag.Name,
		flags.MaxFeePerGasFlag.Name,
		flags.MaxPriorityFeePerGasFlag.Name,
		flags.MonitoringHostFlag.Name,
	} {
		set.String(name, "", "")
	}
	for name, value := range values {
		require.NoError(t, set.Set(name, value))
	}
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestNewRequiresAttesterEndpoints(t *testing.T) {
	_, err := New(cliContext(t, nil))
	assert.ErrorContains(t, err, "no attester API endpoints")
}

func TestNewRequiresDestinations(t *testing.T) {
	_, err := New(cliContext(t, map[string]string{
		flags.AttesterAPIsFlag.Name: "http://localhost:8080",
	}))
	assert.ErrorContains(t, err, "no destinations configured")
}

func TestNewRejectsBadRelayerKey(t *testing.T) {
	_, err := New(cliContext(t, map[string]string{
		flags.AttesterAPIsFlag.Name: "http://localhost:8080",
		flags.RelayerKeyFlag.Name:   "zz",
	}))
	assert.ErrorContains(t, err, "relayer key")
}

func TestNewRejectsSubstrateKeyWithoutEndpoint(t *testing.T) {
	_, err := New(cliContext(t, map[string]string{
		flags.AttesterAPIsFlag.Name:        "http://localhost:8080",
		flags.RelayerSubstrateKeyFlag.Name: "//Alice",
	}))
	assert.ErrorContains(t, err, "without an endpoint")
}

func TestWeiFlag(t *testing.T) {
	ctx := cliContext(t, map[string]string{
		flags.MaxFeePerGasFlag.Name: "30000000000",
	})
	value, err := weiFlag(ctx, flags.MaxFeePerGasFlag.Name)
	require.NoError(t, err)
	assert.Equal(t, "30000000000", value.String())

	empty, err := weiFlag(ctx, flags.MaxPriorityFeePerGasFlag.Name)
	require.NoError(t, err)
	assert.Nil(t, empty)

	bad := cliContext(t, map[string]string{flags.MaxFeePerGasFlag.Name: "-5"})
	_, err = weiFlag(bad, flags.MaxFeePerGasFlag.Name)
	assert.ErrorContains(t, err, "non-negative")
}
