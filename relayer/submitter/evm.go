package submitter

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter/evm"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/canonical"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

const defaultConfirmTimeout = 5 * time.Minute

// receiveMessageID is the 4-byte selector of receiveMessage(bytes,bytes) on
// the destination message transmitter.
var receiveMessageID = crypto.Keccak256([]byte("receiveMessage(bytes,bytes)"))[:4]

var receiveMessageArgs = func() abi.Arguments {
	bytesTy, err := abi.NewType("bytes", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: bytesTy}, {Type: bytesTy}}
}()

// ethBackend is the slice of the go-ethereum client the destination uses.
type ethBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// EVMConfig parameterizes one Ethereum-family destination.
type EVMConfig struct {
	Domain      types.Domain
	Endpoint    string
	Transmitter common.Address
	Key         *ecdsa.PrivateKey
	// GasLimit caps the gas of one relay transaction. Zero means trust the
	// node's estimate.
	GasLimit uint64
	// MaxFeePerGas and MaxPriorityFeePerGas cap EIP-1559 fees in wei. When
	// the network estimate exceeds a cap, submission is deferred rather than
	// overpaid.
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	ConfirmTimeout       time.Duration
}

// EVMDestination relays attestations to one EVM-family message transmitter
// from a single relayer account. The account nonce is tracked locally and
// resynced from the chain on startup and on nonce conflicts.
type EVMDestination struct {
	cfg     EVMConfig
	client  ethBackend
	chainID *big.Int
	from    common.Address

	mu    sync.Mutex
	nonce uint64
}

// NewEVMDestination dials the endpoint and syncs the relayer account nonce.
func NewEVMDestination(ctx context.Context, cfg EVMConfig) (*EVMDestination, error) {
	if !cfg.Domain.IsEVM() {
		return nil, errors.Errorf("domain %s is not EVM-family", cfg.Domain)
	}
	if cfg.Key == nil {
		return nil, errors.New("relayer key required")
	}
	client, err := ethclient.DialContext(ctx, cfg.Endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", cfg.Endpoint)
	}
	return newEVMDestination(ctx, client, cfg)
}

func newEVMDestination(ctx context.Context, client ethBackend, cfg EVMConfig) (*EVMDestination, error) {
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetching chain id")
	}
	d := &EVMDestination{
		cfg:     cfg,
		client:  client,
		chainID: chainID,
		from:    crypto.PubkeyToAddress(cfg.Key.PublicKey),
	}
	if err := d.resyncNonce(ctx); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"domain":  cfg.Domain.String(),
		"relayer": d.from.Hex(),
		"chainId": chainID.String(),
	}).Info("EVM destination ready")
	return d, nil
}

func (d *EVMDestination) Domain() types.Domain {
	return d.cfg.Domain
}

func (d *EVMDestination) resyncNonce(ctx context.Context) error {
	nonce, err := d.client.PendingNonceAt(ctx, d.from)
	if err != nil {
		return errors.Wrap(err, "syncing account nonce")
	}
	d.mu.Lock()
	d.nonce = nonce
	d.mu.Unlock()
	return nil
}

// Submit relays one attestation. Fee caps are enforced before signing; a
// simulated call catches already-relayed messages without spending gas.
func (d *EVMDestination) Submit(ctx context.Context, ready *types.ReadyAttestation) error {
	calldata, err := buildReceiveCalldata(ready)
	if err != nil {
		return err
	}
	call := ethereum.CallMsg{From: d.from, To: &d.cfg.Transmitter, Data: calldata}

	if _, err := d.client.CallContract(ctx, call, nil); err != nil {
		if isAlreadyRelayedRevert(err) {
			return ErrAlreadyRelayed
		}
		return errors.Wrap(err, "simulating relay")
	}

	gasLimit, err := d.client.EstimateGas(ctx, call)
	if err != nil {
		return errors.Wrap(err, "estimating gas")
	}
	if d.cfg.GasLimit != 0 && gasLimit > d.cfg.GasLimit {
		return errors.Errorf("gas estimate %d exceeds limit %d", gasLimit, d.cfg.GasLimit)
	}

	tipCap, feeCap, err := d.feeCaps(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	nonce := d.nonce
	d.mu.Unlock()

	tx, err := ethtypes.SignNewTx(d.cfg.Key, ethtypes.LatestSignerForChainID(d.chainID), &ethtypes.DynamicFeeTx{
		ChainID:   d.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &d.cfg.Transmitter,
		Data:      calldata,
	})
	if err != nil {
		return errors.Wrap(err, "signing transaction")
	}

	if err := d.client.SendTransaction(ctx, tx); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "nonce too low") {
			if syncErr := d.resyncNonce(ctx); syncErr != nil {
				return syncErr
			}
			return errors.Wrap(err, "account nonce conflicted, resynced")
		}
		return errors.Wrap(err, "sending transaction")
	}
	d.mu.Lock()
	d.nonce = nonce + 1
	d.mu.Unlock()

	return d.awaitReceipt(ctx, tx.Hash())
}

// feeCaps derives EIP-1559 fee fields and enforces the configured ceilings.
func (d *EVMDestination) feeCaps(ctx context.Context) (tipCap, feeCap *big.Int, err error) {
	tipCap, err = d.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "suggesting tip cap")
	}
	head, err := d.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "fetching head for base fee")
	}
	feeCap = new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	if d.cfg.MaxPriorityFeePerGas != nil && tipCap.Cmp(d.cfg.MaxPriorityFeePerGas) > 0 {
		return nil, nil, errors.Wrapf(ErrFeeTooHigh, "tip cap %s > %s", tipCap, d.cfg.MaxPriorityFeePerGas)
	}
	if d.cfg.MaxFeePerGas != nil && feeCap.Cmp(d.cfg.MaxFeePerGas) > 0 {
		return nil, nil, errors.Wrapf(ErrFeeTooHigh, "fee cap %s > %s", feeCap, d.cfg.MaxFeePerGas)
	}
	return tipCap, feeCap, nil
}

func (d *EVMDestination) awaitReceipt(ctx context.Context, txHash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		receipt, err := d.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status != ethtypes.ReceiptStatusSuccessful {
				return errors.Errorf("relay transaction %s reverted", txHash.Hex())
			}
			return nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return errors.Wrap(err, "fetching receipt")
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "awaiting receipt for %s", txHash.Hex())
		case <-ticker.C:
		}
	}
}

// buildReceiveCalldata converts the canonical message into the EVM wire form
// and packs it with the concatenated signatures.
func buildReceiveCalldata(ready *types.ReadyAttestation) ([]byte, error) {
	msg, err := canonical.Parse(ready.MessageBytes)
	if err != nil {
		return nil, errors.Wrap(err, "parsing canonical message")
	}
	wire := &evm.Message{
		SourceDomain:      msg.SourceDomain,
		DestinationDomain: msg.DestinationDomain,
		Nonce:             msg.Nonce,
		Sender:            msg.Sender,
		Recipient:         msg.Recipient,
		BurnToken:         msg.Token,
		MintRecipient:     msg.Recipient,
		Amount:            msg.Amount,
		MessageSender:     msg.Sender,
	}
	wireBytes, err := wire.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "encoding wire message")
	}
	packed, err := receiveMessageArgs.Pack(wireBytes, ready.ConcatenatedSignatures())
	if err != nil {
		return nil, errors.Wrap(err, "packing calldata")
	}
	return append(append([]byte{}, receiveMessageID...), packed...), nil
}

// isAlreadyRelayedRevert matches the revert reasons transmitter contracts use
// for a spent message nonce.
func isAlreadyRelayedRevert(err error) bool {
	reason := strings.ToLower(err.Error())
	return strings.Contains(reason, "nonce already used") ||
		strings.Contains(reason, "already relayed") ||
		strings.Contains(reason, "already received")
}
