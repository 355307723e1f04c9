// Package flags defines the command-line surface shared by the attester and
// relayer binaries. Every flag is backed by an environment variable so fleet
// deployments can stay file-free; comma-separated endpoint lists provide
// failover.
package flags

import (
	"strings"

	"github.com/urfave/cli/v2"
)

// Identity and fleet shape.
var (
	AttesterIDFlag = &cli.UintFlag{
		Name:    "attester-id",
		Usage:   "Numeric identity of this attester within the fleet (1..n)",
		EnvVars: []string{"ATTESTER_ID"},
	}
	AttesterKeyFlag = &cli.StringFlag{
		Name:    "attester-private-key",
		Usage:   "Hex-encoded secp256k1 key used for EVM destinations",
		EnvVars: []string{"ATTESTER_PRIVATE_KEY"},
	}
	AttesterSubstrateKeyFlag = &cli.StringFlag{
		Name:    "attester-substrate-key",
		Usage:   "sr25519 SURI used for the Substrate destination",
		EnvVars: []string{"ATTESTER_SUBSTRATE_KEY"},
	}
	AttesterAddressFlag = &cli.StringFlag{
		Name:    "attester-address",
		Usage:   "Expected EVM address of the attester key; startup fails on mismatch",
		EnvVars: []string{"ATTESTER_ADDRESS"},
	}
	MinSignaturesFlag = &cli.IntFlag{
		Name:    "min-signatures",
		Usage:   "Signature threshold k for a ready attestation",
		EnvVars: []string{"MIN_SIGNATURES"},
		Value:   5,
	}
	TotalAttestersFlag = &cli.IntFlag{
		Name:    "total-attesters",
		Usage:   "Fleet size n",
		EnvVars: []string{"TOTAL_ATTESTERS"},
		Value:   9,
	}
	ConfirmationsFlag = &cli.StringFlag{
		Name: "confirmations-required",
		Usage: "Finality depth overrides as chain=depth pairs, " +
			"e.g. ethereum=12,polygon=64; a bare integer applies everywhere",
		EnvVars: []string{"CONFIRMATIONS_REQUIRED"},
	}
)

// Chain endpoints. RPC/WS variables accept comma-separated lists; the first
// reachable endpoint wins and the rest are failover.
var (
	EthereumRPCFlag = &cli.StringFlag{
		Name:    "ethereum-rpc-url",
		Usage:   "Ethereum execution endpoints",
		EnvVars: []string{"ETHEREUM_RPC_URL", "ETHEREUM_WS_URL"},
	}
	PolygonRPCFlag = &cli.StringFlag{
		Name:    "polygon-rpc-url",
		Usage:   "Polygon endpoints",
		EnvVars: []string{"POLYGON_RPC_URL", "POLYGON_WS_URL"},
	}
	ArbitrumRPCFlag = &cli.StringFlag{
		Name:    "arbitrum-rpc-url",
		Usage:   "Arbitrum endpoints",
		EnvVars: []string{"ARBITRUM_RPC_URL", "ARBITRUM_WS_URL"},
	}
	BNBRPCFlag = &cli.StringFlag{
		Name:    "bnb-rpc-url",
		Usage:   "BNB Smart Chain endpoints",
		EnvVars: []string{"BNB_RPC_URL", "BNB_WS_URL"},
	}
	BaseRPCFlag = &cli.StringFlag{
		Name:    "base-rpc-url",
		Usage:   "Base endpoints",
		EnvVars: []string{"BASE_RPC_URL", "BASE_WS_URL"},
	}
	SolanaRPCFlag = &cli.StringFlag{
		Name:    "solana-rpc-url",
		Usage:   "Solana JSON-RPC endpoints",
		EnvVars: []string{"SOLANA_RPC_URL"},
	}
	SubstrateWSFlag = &cli.StringFlag{
		Name:    "substrate-ws-url",
		Usage:   "FlareChain websocket endpoints",
		EnvVars: []string{"SUBSTRATE_WS_URL", "SUBSTRATE_RPC_URL"},
	}
	BitcoinRPCFlag = &cli.StringFlag{
		Name:    "bitcoin-rpc-url",
		Usage:   "Bitcoin Core host:port",
		EnvVars: []string{"BITCOIN_RPC_URL"},
	}
	BitcoinRPCUserFlag = &cli.StringFlag{
		Name:    "bitcoin-rpc-user",
		Usage:   "Bitcoin Core RPC username",
		EnvVars: []string{"BITCOIN_RPC_USER"},
	}
	BitcoinRPCPassFlag = &cli.StringFlag{
		Name:    "bitcoin-rpc-password",
		Usage:   "Bitcoin Core RPC password",
		EnvVars: []string{"BITCOIN_RPC_PASSWORD"},
	}
	TronRPCFlag = &cli.StringFlag{
		Name:    "tron-rpc-url",
		Usage:   "TRON wallet API base URLs",
		EnvVars: []string{"TRON_RPC_URL"},
	}
	XRPLRPCFlag = &cli.StringFlag{
		Name:    "xrpl-rpc-url",
		Usage:   "XRPL JSON-RPC endpoints",
		EnvVars: []string{"XRPL_RPC_URL"},
	}
	CardanoRPCFlag = &cli.StringFlag{
		Name:    "cardano-rpc-url",
		Usage:   "Blockfrost-compatible API base URLs",
		EnvVars: []string{"CARDANO_RPC_URL"},
	}
	CardanoProjectIDFlag = &cli.StringFlag{
		Name:    "cardano-project-id",
		Usage:   "Blockfrost project id header",
		EnvVars: []string{"CARDANO_PROJECT_ID"},
	}
	StellarRPCFlag = &cli.StringFlag{
		Name:    "stellar-rpc-url",
		Usage:   "Horizon API base URLs",
		EnvVars: []string{"STELLAR_RPC_URL"},
	}
)

// Contract and deposit addresses per chain family.
var (
	TokenMessengerFlag = &cli.StringFlag{
		Name:    "token-messenger-address",
		Usage:   "Messenger contract address on EVM chains",
		EnvVars: []string{"TOKEN_MESSENGER_ADDRESS"},
	}
	SolanaProgramFlag = &cli.StringFlag{
		Name:    "solana-program-id",
		Usage:   "Bridge program id on Solana",
		EnvVars: []string{"SOLANA_PROGRAM_ID"},
	}
	BitcoinDepositFlag = &cli.StringFlag{
		Name:    "bitcoin-deposit-address",
		Usage:   "Bitcoin deposit address observed for burns",
		EnvVars: []string{"BITCOIN_DEPOSIT_ADDRESS"},
	}
	TronDepositFlag = &cli.StringFlag{
		Name:    "tron-deposit-address",
		Usage:   "TRON deposit address in 41-prefixed hex",
		EnvVars: []string{"TRON_DEPOSIT_ADDRESS"},
	}
	XRPLDepositFlag = &cli.StringFlag{
		Name:    "xrpl-deposit-address",
		Usage:   "XRPL deposit account",
		EnvVars: []string{"XRPL_DEPOSIT_ADDRESS"},
	}
	CardanoDepositFlag = &cli.StringFlag{
		Name:    "cardano-deposit-address",
		Usage:   "Cardano deposit address",
		EnvVars: []string{"CARDANO_DEPOSIT_ADDRESS"},
	}
	StellarDepositFlag = &cli.StringFlag{
		Name:    "stellar-deposit-address",
		Usage:   "Stellar deposit account",
		EnvVars: []string{"STELLAR_DEPOSIT_ADDRESS"},
	}
)

// Serving and observability.
var (
	HTTPHostFlag = &cli.StringFlag{
		Name:    "http-host",
		Usage:   "Attestation API listen host",
		EnvVars: []string{"HTTP_HOST"},
		Value:   "0.0.0.0",
	}
	HTTPPortFlag = &cli.IntFlag{
		Name:    "http-port",
		Usage:   "Attestation API listen port",
		EnvVars: []string{"PORT"},
		Value:   8080,
	}
	MonitoringHostFlag = &cli.StringFlag{
		Name:    "monitoring-host",
		Usage:   "Prometheus and healthz listen host",
		EnvVars: []string{"MONITORING_HOST"},
		Value:   "127.0.0.1",
	}
	MonitoringPortFlag = &cli.IntFlag{
		Name:    "monitoring-port",
		Usage:   "Prometheus and healthz listen port",
		EnvVars: []string{"MONITORING_PORT"},
		Value:   9090,
	}
	VerbosityFlag = &cli.StringFlag{
		Name:    "verbosity",
		Usage:   "Logging verbosity: debug, info, warn or error",
		EnvVars: []string{"LOG_LEVEL"},
		Value:   "info",
	}
	LogFormatFlag = &cli.StringFlag{
		Name:    "log-format",
		Usage:   "Log encoding: text, json or fluentd",
		EnvVars: []string{"LOG_FORMAT"},
		Value:   "text",
	}
	CheckpointDirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "Directory for adapter scan watermarks; empty disables persistence",
		EnvVars: []string{"DATADIR", "CHECKPOINT_DIR"},
	}
)

// Relayer policy.
var (
	AttesterAPIsFlag = &cli.StringFlag{
		Name:    "attester-api-urls",
		Usage:   "Comma-separated attester API base URLs to poll",
		EnvVars: []string{"ATTESTER_API_URLS"},
	}
	RelayerKeyFlag = &cli.StringFlag{
		Name:    "relayer-private-key",
		Usage:   "Hex-encoded secp256k1 key of the EVM relayer account",
		EnvVars: []string{"RELAYER_PRIVATE_KEY"},
	}
	RelayerSubstrateKeyFlag = &cli.StringFlag{
		Name:    "relayer-substrate-key",
		Usage:   "sr25519 SURI of the Substrate relayer account",
		EnvVars: []string{"RELAYER_SUBSTRATE_KEY"},
	}
	PollIntervalFlag = &cli.IntFlag{
		Name:    "poll-interval-ms",
		Usage:   "Ready-attestation poll cadence in milliseconds",
		EnvVars: []string{"POLL_INTERVAL_MS"},
		Value:   30_000,
	}
	MaxRetriesFlag = &cli.UintFlag{
		Name:    "max-retries",
		Usage:   "Submission attempts per attestation",
		EnvVars: []string{"MAX_RETRIES"},
		Value:   3,
	}
	RetryDelayFlag = &cli.IntFlag{
		Name:    "retry-delay-ms",
		Usage:   "Backoff base between submission attempts in milliseconds",
		EnvVars: []string{"RETRY_DELAY_MS"},
		Value:   60_000,
	}
	GasLimitFlag = &cli.Uint64Flag{
		Name:    "gas-limit",
		Usage:   "Gas cap per relay transaction; 0 trusts the node estimate",
		EnvVars: []string{"GAS_LIMIT"},
	}
	MaxFeePerGasFlag = &cli.StringFlag{
		Name:    "max-fee-per-gas",
		Usage:   "EIP-1559 max fee cap in wei; submission defers when exceeded",
		EnvVars: []string{"MAX_FEE_PER_GAS"},
	}
	MaxPriorityFeePerGasFlag = &cli.StringFlag{
		Name:    "max-priority-fee-per-gas",
		Usage:   "EIP-1559 priority fee cap in wei",
		EnvVars: []string{"MAX_PRIORITY_FEE_PER_GAS"},
	}
)

// SplitEndpoints turns a comma-separated endpoint list into a slice, dropping
// empty entries.
func SplitEndpoints(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
