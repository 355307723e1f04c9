package flags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitEndpoints(t *testing.T) {
	assert.Nil(t, SplitEndpoints(""))
	assert.Equal(t, []string{"ws://a"}, SplitEndpoints("ws://a"))
	assert.Equal(t, []string{"ws://a", "ws://b"}, SplitEndpoints(" ws://a , ws://b ,"))
}

func TestEnvironmentBacking(t *testing.T) {
	assert.Contains(t, AttesterIDFlag.EnvVars, "ATTESTER_ID")
	assert.Contains(t, AttesterKeyFlag.EnvVars, "ATTESTER_PRIVATE_KEY")
	assert.Contains(t, HTTPPortFlag.EnvVars, "PORT")
	assert.Contains(t, VerbosityFlag.EnvVars, "LOG_LEVEL")
	assert.Contains(t, EthereumRPCFlag.EnvVars, "ETHEREUM_RPC_URL")
	assert.Contains(t, TokenMessengerFlag.EnvVars, "TOKEN_MESSENGER_ADDRESS")
	assert.Contains(t, PollIntervalFlag.EnvVars, "POLL_INTERVAL_MS")
	assert.Contains(t, MaxRetriesFlag.EnvVars, "MAX_RETRIES")
	assert.Contains(t, RetryDelayFlag.EnvVars, "RETRY_DELAY_MS")
	assert.Contains(t, GasLimitFlag.EnvVars, "GAS_LIMIT")
	assert.Contains(t, MaxFeePerGasFlag.EnvVars, "MAX_FEE_PER_GAS")
	assert.Contains(t, MaxPriorityFeePerGasFlag.EnvVars, "MAX_PRIORITY_FEE_PER_GAS")
}
