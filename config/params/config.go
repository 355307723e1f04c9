// Package params centralizes the bridge's operating parameters: the attester
// fleet shape, the signature threshold and the per-chain finality depths.
// Values here are compile-time defaults; processes override them through
// their environment-backed flags.
package params

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// BridgeConfig is the shared parameter set of one bridge deployment. Every
// attester and relayer in a fleet must run with identical values; a threshold
// or confirmation mismatch forks attestation behavior.
type BridgeConfig struct {
	// TotalAttesters is the fleet size n.
	TotalAttesters int
	// MinSignatures is the threshold k: an attestation is ready at exactly k
	// signatures for every destination domain.
	MinSignatures int
	// AttestationTTL is how long attestations are retained after creation.
	AttestationTTL time.Duration
	// SweepInterval is the store cleanup cadence.
	SweepInterval time.Duration
	// Confirmations is the required finality depth per source domain,
	// counted as blocks on top of the containing block.
	Confirmations map[types.Domain]uint32
	// PollInterval is the adapter polling cadence.
	PollInterval time.Duration
	// RPCTimeout bounds one chain RPC request.
	RPCTimeout time.Duration
}

var defaultConfig = BridgeConfig{
	TotalAttesters: 9,
	MinSignatures:  5,
	AttestationTTL: time.Hour,
	SweepInterval:  time.Minute,
	Confirmations: map[types.Domain]uint32{
		types.DomainEthereum:  12,
		types.DomainSolana:    31,
		types.DomainSubstrate: 2,
		types.DomainPolygon:   128,
		types.DomainArbitrum:  20,
		types.DomainBNB:       15,
		types.DomainBase:      20,
		types.DomainBitcoin:   6,
		types.DomainTron:      19,
		types.DomainXRPL:      1,
		types.DomainCardano:   15,
		types.DomainStellar:   3,
	},
	PollInterval: 10 * time.Second,
	RPCTimeout:   10 * time.Second,
}

// BridgeDefaults returns a copy of the default parameter set.
func BridgeDefaults() *BridgeConfig {
	cfg := defaultConfig
	cfg.Confirmations = make(map[types.Domain]uint32, len(defaultConfig.Confirmations))
	for domain, depth := range defaultConfig.Confirmations {
		cfg.Confirmations[domain] = depth
	}
	return &cfg
}

// RequiredConfirmations returns the finality depth for a source domain. An
// unlisted domain gets the Ethereum default as the conservative choice.
func (c *BridgeConfig) RequiredConfirmations(domain types.Domain) uint32 {
	if depth, ok := c.Confirmations[domain]; ok {
		return depth
	}
	return c.Confirmations[types.DomainEthereum]
}

// Threshold returns the ready threshold for a destination domain. All
// destinations share one k; the parameter exists so per-destination policies
// stay a config change.
func (c *BridgeConfig) Threshold(types.Domain) int {
	return c.MinSignatures
}

// ApplyConfirmationOverrides parses a finality depth override spec into the
// config. The spec is either a bare integer applied to every chain or a
// comma-separated chain=depth list, e.g. "ethereum=12,polygon=64".
func ApplyConfirmationOverrides(cfg *BridgeConfig, spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	if depth, err := strconv.ParseUint(spec, 10, 32); err == nil {
		for domain := range cfg.Confirmations {
			cfg.Confirmations[domain] = uint32(depth)
		}
		return nil
	}
	for _, pair := range strings.Split(spec, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			return errors.Errorf("malformed confirmation override %q", pair)
		}
		domain, ok := types.DomainFromName(strings.ToLower(strings.TrimSpace(name)))
		if !ok {
			return errors.Errorf("unknown chain %q in confirmation override", name)
		}
		depth, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
		if err != nil {
			return errors.Wrapf(err, "bad depth for chain %q", name)
		}
		cfg.Confirmations[domain] = uint32(depth)
	}
	return nil
}
