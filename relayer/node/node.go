// Package node assembles a full relayer process: the fetcher polling the
// attester fleet, one destination per relayable chain and the submitter
// driving the relay state machine.
package node

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
	"github.com/EojEdred/Etrid-Infra-sub001/cmd/flags"
	"github.com/EojEdred/Etrid-Infra-sub001/monitoring/prometheus"
	"github.com/EojEdred/Etrid-Infra-sub001/relayer/fetcher"
	"github.com/EojEdred/Etrid-Infra-sub001/relayer/submitter"
	"github.com/EojEdred/Etrid-Infra-sub001/runtime"
)

var log = logrus.WithField("prefix", "node")

// readyBuffer bounds the fetcher-to-submitter channel.
const readyBuffer = 256

// dialTimeout bounds destination construction at startup.
const dialTimeout = 30 * time.Second

// RelayerNode consumes ready attestations and relays them.
type RelayerNode struct {
	cliCtx   *cli.Context
	ctx      context.Context
	cancel   context.CancelFunc
	services *runtime.ServiceRegistry
	lock     sync.Mutex
	stop     chan struct{}
}

// New builds the node from CLI context. Destination chains without a
// configured endpoint or key are simply not relayed to.
func New(cliCtx *cli.Context) (*RelayerNode, error) {
	endpoints := flags.SplitEndpoints(cliCtx.String(flags.AttesterAPIsFlag.Name))
	if len(endpoints) == 0 {
		return nil, errors.New("no attester API endpoints configured")
	}

	ctx, cancel := context.WithCancel(cliCtx.Context)
	n := &RelayerNode{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
	}

	ready := make(chan *types.ReadyAttestation, readyBuffer)
	fetchSvc, err := fetcher.NewService(ctx, fetcher.Config{
		Endpoints:    endpoints,
		Out:          ready,
		PollInterval: time.Duration(cliCtx.Int(flags.PollIntervalFlag.Name)) * time.Millisecond,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	if err := n.services.RegisterService(fetchSvc); err != nil {
		cancel()
		return nil, err
	}

	destinations, err := buildDestinations(ctx, cliCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	submitSvc, err := submitter.NewService(ctx, submitter.Config{
		In:           ready,
		Destinations: destinations,
		MaxAttempts:  cliCtx.Uint(flags.MaxRetriesFlag.Name),
		RetryDelay:   time.Duration(cliCtx.Int(flags.RetryDelayFlag.Name)) * time.Millisecond,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	if err := n.services.RegisterService(submitSvc); err != nil {
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
func (n *RelayerNode) Start() {
	n.lock.Lock()
	log.Info("Starting relayer node")
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
		panic("Panic closing the relayer node")
	}()

	<-stop
}

// Close stops services in reverse registration order.
func (n *RelayerNode) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping relayer node")
	n.services.StopAll()
	n.cancel()
	close(n.stop)
}

// buildDestinations constructs one destination per chain that has both an
// endpoint and relayer key material configured.
func buildDestinations(ctx context.Context, cliCtx *cli.Context) ([]submitter.Destination, error) {
	var destinations []submitter.Destination

	if keyHex := cliCtx.String(flags.RelayerKeyFlag.Name); keyHex != "" {
		key, err := crypto.HexToECDSA(trimHexPrefix(keyHex))
		if err != nil {
			return nil, errors.Wrap(err, "invalid relayer key material")
		}
		transmitter := cliCtx.String(flags.TokenMessengerFlag.Name)
		maxFee, err := weiFlag(cliCtx, flags.MaxFeePerGasFlag.Name)
		if err != nil {
			return nil, err
		}
		maxPriority, err := weiFlag(cliCtx, flags.MaxPriorityFeePerGasFlag.Name)
		if err != nil {
			return nil, err
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
			if !common.IsHexAddress(transmitter) {
				return nil, errors.Errorf("%s configured but token messenger address %q is malformed",
					chain.domain, transmitter)
			}
			dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
			dst, err := submitter.NewEVMDestination(dialCtx, submitter.EVMConfig{
				Domain:               chain.domain,
				Endpoint:             endpoints[0],
				Transmitter:          common.HexToAddress(transmitter),
				Key:                  key,
				GasLimit:             cliCtx.Uint64(flags.GasLimitFlag.Name),
				MaxFeePerGas:         maxFee,
				MaxPriorityFeePerGas: maxPriority,
			})
			cancel()
			if err != nil {
				return nil, errors.Wrapf(err, "building %s destination", chain.domain)
			}
			destinations = append(destinations, dst)
		}
	}

	if suri := cliCtx.String(flags.RelayerSubstrateKeyFlag.Name); suri != "" {
		endpoints := flags.SplitEndpoints(cliCtx.String(flags.SubstrateWSFlag.Name))
		if len(endpoints) == 0 {
			return nil, errors.New("substrate relayer key configured without an endpoint")
		}
		dst, err := submitter.NewSubstrateDestination(submitter.SubstrateConfig{
			Endpoint:  endpoints[0],
			SURI:      suri,
			NetworkID: 42,
		})
		if err != nil {
			return nil, errors.Wrap(err, "building substrate destination")
		}
		destinations = append(destinations, dst)
	}

	if len(destinations) == 0 {
		return nil, errors.New("no destinations configured; set relayer keys and endpoints")
	}
	return destinations, nil
}

func weiFlag(cliCtx *cli.Context, name string) (*big.Int, error) {
	raw := cliCtx.String(name)
	if raw == "" {
		return nil, nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, errors.Errorf("flag %s: %q is not a non-negative integer", name, raw)
	}
	return value, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
