package submitter

import (
	"context"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	gsrpctypes "github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// SubstrateConfig parameterizes the Substrate destination.
type SubstrateConfig struct {
	Endpoint string
	// SURI is the relayer account secret, e.g. a mnemonic or //-style dev
	// path.
	SURI string
	// NetworkID selects the SS58 address prefix of the target network.
	NetworkID uint16
}

// SubstrateDestination relays attestations by submitting a
// TokenMessenger.receive_message extrinsic signed with the relayer's sr25519
// account. The submission is watched until the extrinsic lands in a block.
type SubstrateDestination struct {
	api  *gsrpc.SubstrateAPI
	pair signature.KeyringPair
}

// NewSubstrateDestination connects to the node and derives the relayer
// keypair.
func NewSubstrateDestination(cfg SubstrateConfig) (*SubstrateDestination, error) {
	pair, err := signature.KeyringPairFromSecret(cfg.SURI, cfg.NetworkID)
	if err != nil {
		return nil, errors.Wrap(err, "deriving relayer keypair")
	}
	api, err := gsrpc.NewSubstrateAPI(cfg.Endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", cfg.Endpoint)
	}
	log.WithFields(logrus.Fields{
		"domain":  types.DomainSubstrate.String(),
		"relayer": pair.Address,
	}).Info("Substrate destination ready")
	return &SubstrateDestination{api: api, pair: pair}, nil
}

func (d *SubstrateDestination) Domain() types.Domain {
	return types.DomainSubstrate
}

// Submit builds, signs and watches one receive_message extrinsic. The pallet
// records received message ids; a hit there short-circuits to
// ErrAlreadyRelayed without paying fees.
func (d *SubstrateDestination) Submit(ctx context.Context, ready *types.ReadyAttestation) error {
	meta, err := d.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return errors.Wrap(err, "fetching metadata")
	}

	relayed, err := d.alreadyRelayed(meta, ready.MessageID)
	if err != nil {
		return err
	}
	if relayed {
		return ErrAlreadyRelayed
	}

	sigs := make([]gsrpctypes.Bytes, 0, len(ready.Signatures))
	for _, sig := range ready.Signatures {
		sigs = append(sigs, gsrpctypes.NewBytes(sig.Signature))
	}
	call, err := gsrpctypes.NewCall(meta, "TokenMessenger.receive_message",
		gsrpctypes.NewBytes(ready.MessageBytes), sigs)
	if err != nil {
		return errors.Wrap(err, "building call")
	}
	ext := gsrpctypes.NewExtrinsic(call)

	opts, err := d.signatureOptions(meta)
	if err != nil {
		return err
	}
	if err := ext.Sign(d.pair, *opts); err != nil {
		return errors.Wrap(err, "signing extrinsic")
	}

	sub, err := d.api.RPC.Author.SubmitAndWatchExtrinsic(ext)
	if err != nil {
		return errors.Wrap(err, "submitting extrinsic")
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return errors.Wrap(err, "watching extrinsic")
		case status := <-sub.Chan():
			switch {
			case status.IsInBlock, status.IsFinalized:
				return nil
			case status.IsDropped, status.IsInvalid, status.IsUsurped:
				return errors.Errorf("extrinsic not included: %v", status)
			}
		}
	}
}

// alreadyRelayed checks the pallet's received-message map for the id.
func (d *SubstrateDestination) alreadyRelayed(meta *gsrpctypes.Metadata, id types.MessageID) (bool, error) {
	key, err := gsrpctypes.CreateStorageKey(meta, "TokenMessenger", "ReceivedMessages", id[:])
	if err != nil {
		return false, errors.Wrap(err, "building storage key")
	}
	var marker gsrpctypes.Bool
	ok, err := d.api.RPC.State.GetStorageLatest(key, &marker)
	if err != nil {
		return false, errors.Wrap(err, "querying received messages")
	}
	return ok && bool(marker), nil
}

func (d *SubstrateDestination) signatureOptions(meta *gsrpctypes.Metadata) (*gsrpctypes.SignatureOptions, error) {
	genesisHash, err := d.api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		return nil, errors.Wrap(err, "fetching genesis hash")
	}
	rv, err := d.api.RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return nil, errors.Wrap(err, "fetching runtime version")
	}
	key, err := gsrpctypes.CreateStorageKey(meta, "System", "Account", d.pair.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "building account key")
	}
	var account gsrpctypes.AccountInfo
	if _, err := d.api.RPC.State.GetStorageLatest(key, &account); err != nil {
		return nil, errors.Wrap(err, "querying relayer account")
	}
	return &gsrpctypes.SignatureOptions{
		BlockHash:          genesisHash,
		Era:                gsrpctypes.ExtrinsicEra{IsImmortalEra: true},
		GenesisHash:        genesisHash,
		Nonce:              gsrpctypes.NewUCompactFromUInt(uint64(account.Nonce)),
		SpecVersion:        rv.SpecVersion,
		Tip:                gsrpctypes.NewUCompactFromUInt(0),
		TransactionVersion: rv.TransactionVersion,
	}, nil
}
