// Package main launches a relayer node: it polls the attester fleet for
// threshold-complete attestations and submits them to destination chains.
package main

import (
	"fmt"
	"os"
	"runtime"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/EojEdred/Etrid-Infra-sub001/cmd/flags"
	"github.com/EojEdred/Etrid-Infra-sub001/relayer/node"
)

var log = logrus.WithField("prefix", "main")

var appFlags = []cli.Flag{
	flags.AttesterAPIsFlag,
	flags.RelayerKeyFlag,
	flags.RelayerSubstrateKeyFlag,
	flags.EthereumRPCFlag,
	flags.PolygonRPCFlag,
	flags.ArbitrumRPCFlag,
	flags.BNBRPCFlag,
	flags.BaseRPCFlag,
	flags.SubstrateWSFlag,
	flags.TokenMessengerFlag,
	flags.PollIntervalFlag,
	flags.MaxRetriesFlag,
	flags.RetryDelayFlag,
	flags.GasLimitFlag,
	flags.MaxFeePerGasFlag,
	flags.MaxPriorityFeePerGasFlag,
	flags.MonitoringHostFlag,
	flags.MonitoringPortFlag,
	flags.VerbosityFlag,
	flags.LogFormatFlag,
}

func startNode(cliCtx *cli.Context) error {
	relayerNode, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	relayerNode.Start()
	return nil
}

func main() {
	app := cli.App{}
	app.Name = "relayer"
	app.Usage = "relays attested bridge messages to their destination chains"
	app.Flags = appFlags
	app.Action = startNode
	app.Before = func(ctx *cli.Context) error {
		switch format := ctx.String(flags.LogFormatFlag.Name); format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			logrus.SetFormatter(formatter)
		case "fluentd":
			logrus.SetFormatter(joonix.NewFormatter())
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %s", format)
		}

		level, err := logrus.ParseLevel(ctx.String(flags.VerbosityFlag.Name))
		if err != nil {
			return err
		}
		logrus.SetLevel(level)

		runtime.GOMAXPROCS(runtime.NumCPU())
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
