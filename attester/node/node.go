// Package node assembles a full attester process: one chain adapter per
// configured source, the attestation store with its sweeper, the signing
// service and the HTTP API, all driven through the service registry.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/EojEdred/Etrid-Infra-sub001/attester"
	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter"
	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter/bitcoin"
	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter/evm"
	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter/rest"
	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter/solana"
	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter/substrate"
	"github.com/EojEdred/Etrid-Infra-sub001/attester/rpc"
	"github.com/EojEdred/Etrid-Infra-sub001/attester/store"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/signer"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
	"github.com/EojEdred/Etrid-Infra-sub001/cmd/flags"
	"github.com/EojEdred/Etrid-Infra-sub001/config/params"
	"github.com/EojEdred/Etrid-Infra-sub001/monitoring/prometheus"
	"github.com/EojEdred/Etrid-Infra-sub001/runtime"
)

var log = logrus.WithField("prefix", "node")

// adapterOutBuffer bounds the merged observation channel. A full buffer
// blocks adapter promotion, which is the intended backpressure path.
const adapterOutBuffer = 1024

// adapterGroup runs every chain adapter as one registry service.
type adapterGroup struct {
	runners []*adapter.Runner
}

func (g *adapterGroup) Start() {
	for _, r := range g.runners {
		r.Start()
	}
}

func (g *adapterGroup) Stop() error {
	var firstErr error
	for _, r := range g.runners {
		if err := r.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (g *adapterGroup) Status() error {
	for _, r := range g.runners {
		if err := r.Status(); err != nil {
			return errors.Wrap(err, r.OperationalStatus().Name)
		}
	}
	return nil
}

// AttesterNode is one member of the attestation fleet.
type AttesterNode struct {
	cliCtx   *cli.Context
	ctx      context.Context
	cancel   context.CancelFunc
	services *runtime.ServiceRegistry
	lock     sync.Mutex
	stop     chan struct{}
}

// New builds the node from CLI context. Configuration errors surface here;
// connectivity problems are left to the adapters' retry loops.
func New(cliCtx *cli.Context) (*AttesterNode, error) {
	cfg, err := bridgeConfig(cliCtx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(cliCtx.Context)
	n := &AttesterNode{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
	}

	sig, err := buildSigner(cliCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	st := store.New(store.Config{Threshold: cfg.Threshold, TTL: cfg.AttestationTTL})
	sweeper := store.NewService(ctx, st, cfg.SweepInterval)
	if err := n.services.RegisterService(sweeper); err != nil {
		cancel()
		return nil, err
	}

	out := make(chan *types.ObservedMessage, adapterOutBuffer)
	runners, err := buildAdapters(ctx, cliCtx, cfg, out)
	if err != nil {
		cancel()
		return nil, err
	}
	if len(runners) == 0 {
		cancel()
		return nil, errors.New("no chain endpoints configured; nothing to observe")
	}
	// The registry keys services by concrete type, so the per-chain runners
	// register as one group.
	if err := n.services.RegisterService(&adapterGroup{runners: runners}); err != nil {
		cancel()
		return nil, err
	}
	reporters := make([]rpc.AdapterReporter, 0, len(runners))
	for _, r := range runners {
		reporters = append(reporters, r)
	}

	attSvc, err := attester.NewService(ctx, attester.Config{
		Signer: sig,
		Store:  st,
		In:     out,
		Fatal: func(err error) {
			log.WithError(err).Error("Unrecoverable signing fault; terminating")
			os.Exit(2)
		},
	})
	if err != nil {
		cancel()
		return nil, err
	}
	if err := n.services.RegisterService(attSvc); err != nil {
		cancel()
		return nil, err
	}

	api, err := rpc.NewService(rpc.Config{
		Host:      cliCtx.String(flags.HTTPHostFlag.Name),
		Port:      cliCtx.Int(flags.HTTPPortFlag.Name),
		Store:     st,
		Threshold: cfg.Threshold,
		Adapters:  reporters,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	if err := n.services.RegisterService(api); err != nil {
		cancel()
		return nil, err
	}

	monitoringAddr := fmt.Sprintf("%s:%d",
		cliCtx.String(flags.MonitoringHostFlag.Name), cliCtx.Int(flags.MonitoringPortFlag.Name))
	if err := n.services.RegisterService(prometheus.NewService(monitoringAddr, n.services)); err != nil {
		cancel()
		return nil, err
	}

	return n, nil
}

// Start launches every registered service and blocks until shutdown.
func (n *AttesterNode) Start() {
	n.lock.Lock()
	log.WithField("attesterId", n.cliCtx.Uint(flags.AttesterIDFlag.Name)).Info("Starting attester node")
	n.services.StartAll()
	stop := n.stop
	n.lock.Unlock()

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the attester node")
	}()

	<-stop
}

// Close stops services in reverse registration order.
func (n *AttesterNode) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping attester node")
	n.services.StopAll()
	n.cancel()
	close(n.stop)
}

func bridgeConfig(cliCtx *cli.Context) (*params.BridgeConfig, error) {
	cfg := params.BridgeDefaults()
	cfg.MinSignatures = cliCtx.Int(flags.MinSignaturesFlag.Name)
	cfg.TotalAttesters = cliCtx.Int(flags.TotalAttestersFlag.Name)
	if cfg.MinSignatures < 1 || cfg.MinSignatures > cfg.TotalAttesters {
		return nil, errors.Errorf("threshold %d of %d is not satisfiable",
			cfg.MinSignatures, cfg.TotalAttesters)
	}
	if raw := cliCtx.String(flags.ConfirmationsFlag.Name); raw != "" {
		if err := params.ApplyConfirmationOverrides(cfg, raw); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func buildSigner(cliCtx *cli.Context) (*signer.Signer, error) {
	id := cliCtx.Uint(flags.AttesterIDFlag.Name)
	if id == 0 || id > 255 {
		return nil, errors.New("attester id must be in 1..255")
	}
	sig, err := signer.New(uint8(id),
		cliCtx.String(flags.AttesterKeyFlag.Name),
		cliCtx.String(flags.AttesterSubstrateKeyFlag.Name))
	if err != nil {
		return nil, err
	}
	if expected := cliCtx.String(flags.AttesterAddressFlag.Name); expected != "" {
		if !common.IsHexAddress(expected) {
			return nil, errors.Errorf("malformed attester address %q", expected)
		}
		if common.HexToAddress(expected) != sig.ECDSAAddress() {
			return nil, errors.Errorf("attester key derives %s, expected %s",
				sig.ECDSAAddress().Hex(), expected)
		}
	}
	return sig, nil
}

// buildAdapters constructs a runner for every chain with a configured
// endpoint. Unconfigured chains are simply not observed.
func buildAdapters(ctx context.Context, cliCtx *cli.Context, cfg *params.BridgeConfig, out chan<- *types.ObservedMessage) ([]*adapter.Runner, error) {
	var runners []*adapter.Runner
	add := func(source adapter.Source, parser adapter.Parser) error {
		runner, err := adapter.NewRunner(ctx, adapter.Config{
			Source:                source,
			Parser:                parser,
			Out:                   out,
			RequiredConfirmations: cfg.RequiredConfirmations(source.Domain()),
			PollInterval:          cfg.PollInterval,
			RPCTimeout:            cfg.RPCTimeout,
			Checkpoint:            checkpointFor(cliCtx, source.Name()),
		})
		if err != nil {
			return err
		}
		runners = append(runners, runner)
		return nil
	}

	evmChains := []struct {
		domain types.Domain
		flag   *cli.StringFlag
	}{
		{types.DomainEthereum, flags.EthereumRPCFlag},
		{types.DomainPolygon, flags.PolygonRPCFlag},
		{types.DomainArbitrum, flags.ArbitrumRPCFlag},
		{types.DomainBNB, flags.BNBRPCFlag},
		{types.DomainBase, flags.BaseRPCFlag},
	}
	for _, chain := range evmChains {
		endpoints := flags.SplitEndpoints(cliCtx.String(chain.flag.Name))
		if len(endpoints) == 0 {
			continue
		}
		messenger := cliCtx.String(flags.TokenMessengerFlag.Name)
		if !common.IsHexAddress(messenger) {
			return nil, errors.Errorf("%s configured but token messenger address %q is malformed",
				chain.domain, messenger)
		}
		source, err := evm.NewSource(evm.SourceConfig{
			Name:      "evm-" + chain.domain.String(),
			Domain:    chain.domain,
			Endpoints: endpoints,
			Messenger: common.HexToAddress(messenger),
		})
		if err != nil {
			return nil, err
		}
		if err := add(source, evm.NewParser(chain.domain)); err != nil {
			return nil, err
		}
	}

	if endpoints := flags.SplitEndpoints(cliCtx.String(flags.SubstrateWSFlag.Name)); len(endpoints) > 0 {
		source, err := substrate.NewSource(substrate.SourceConfig{
			Name:      "substrate-flarechain",
			Endpoints: endpoints,
		})
		if err != nil {
			return nil, err
		}
		if err := add(source, substrate.NewParser()); err != nil {
			return nil, err
		}
	}

	if endpoints := flags.SplitEndpoints(cliCtx.String(flags.SolanaRPCFlag.Name)); len(endpoints) > 0 {
		program, err := solanago.PublicKeyFromBase58(cliCtx.String(flags.SolanaProgramFlag.Name))
		if err != nil {
			return nil, errors.Wrap(err, "solana endpoint configured but program id is malformed")
		}
		source, err := solana.NewSource(solana.SourceConfig{
			Name:      "solana",
			Endpoints: endpoints,
			Program:   program,
		})
		if err != nil {
			return nil, err
		}
		if err := add(source, solana.NewParser()); err != nil {
			return nil, err
		}
	}

	if host := cliCtx.String(flags.BitcoinRPCFlag.Name); host != "" {
		deposit, err := btcutil.DecodeAddress(cliCtx.String(flags.BitcoinDepositFlag.Name), &chaincfg.MainNetParams)
		if err != nil {
			return nil, errors.Wrap(err, "bitcoin endpoint configured but deposit address is malformed")
		}
		source, err := bitcoin.NewSource(bitcoin.SourceConfig{
			Name: "bitcoin",
			Host: host,
			User: cliCtx.String(flags.BitcoinRPCUserFlag.Name),
			Pass: cliCtx.String(flags.BitcoinRPCPassFlag.Name),
		})
		if err != nil {
			return nil, err
		}
		parser, err := bitcoin.NewParser(deposit)
		if err != nil {
			return nil, err
		}
		if err := add(source, parser); err != nil {
			return nil, err
		}
	}

	restChains := []struct {
		domain      types.Domain
		urlFlag     *cli.StringFlag
		depositFlag *cli.StringFlag
		driver      func(deposit string) rest.Driver
		headers     map[string]string
	}{
		{types.DomainTron, flags.TronRPCFlag, flags.TronDepositFlag, func(deposit string) rest.Driver {
			return &rest.TronDriver{Deposit: deposit}
		}, nil},
		{types.DomainXRPL, flags.XRPLRPCFlag, flags.XRPLDepositFlag, func(deposit string) rest.Driver {
			return &rest.XRPLDriver{Deposit: deposit}
		}, nil},
		{types.DomainCardano, flags.CardanoRPCFlag, flags.CardanoDepositFlag, func(deposit string) rest.Driver {
			return &rest.CardanoDriver{Deposit: deposit}
		}, map[string]string{"project_id": cliCtx.String(flags.CardanoProjectIDFlag.Name)}},
		{types.DomainStellar, flags.StellarRPCFlag, flags.StellarDepositFlag, func(deposit string) rest.Driver {
			return &rest.StellarDriver{Deposit: deposit}
		}, nil},
	}
	for _, chain := range restChains {
		endpoints := flags.SplitEndpoints(cliCtx.String(chain.urlFlag.Name))
		if len(endpoints) == 0 {
			continue
		}
		deposit := cliCtx.String(chain.depositFlag.Name)
		if deposit == "" {
			return nil, errors.Errorf("%s configured without a deposit address", chain.domain)
		}
		source, err := rest.NewSource(rest.SourceConfig{
			Endpoints: endpoints,
			Driver:    chain.driver(deposit),
			Headers:   chain.headers,
		})
		if err != nil {
			return nil, err
		}
		if err := add(source, rest.NewParser(chain.domain)); err != nil {
			return nil, err
		}
	}

	return runners, nil
}

func checkpointFor(cliCtx *cli.Context, name string) *adapter.Checkpoint {
	dir := cliCtx.String(flags.CheckpointDirFlag.Name)
	if dir == "" {
		return nil
	}
	return adapter.NewCheckpoint(filepath.Join(dir, name+".json"))
}
