// Package main launches an attester node: one member of the bridge's
// attestation fleet, observing configured source chains and serving signed
// attestations over HTTP.
package main

import (
	"fmt"
	"os"
	"runtime"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/node"
	"github.com/EojEdred/Etrid-Infra-sub001/cmd/flags"
)

var log = logrus.WithField("prefix", "main")

var appFlags = []cli.Flag{
	flags.AttesterIDFlag,
	flags.AttesterKeyFlag,
	flags.AttesterSubstrateKeyFlag,
	flags.AttesterAddressFlag,
	flags.MinSignaturesFlag,
	flags.TotalAttestersFlag,
	flags.ConfirmationsFlag,
	flags.EthereumRPCFlag,
	flags.PolygonRPCFlag,
	flags.ArbitrumRPCFlag,
	flags.BNBRPCFlag,
	flags.BaseRPCFlag,
	flags.SolanaRPCFlag,
	flags.SubstrateWSFlag,
	flags.BitcoinRPCFlag,
	flags.BitcoinRPCUserFlag,
	flags.BitcoinRPCPassFlag,
	flags.TronRPCFlag,
	flags.XRPLRPCFlag,
	flags.CardanoRPCFlag,
	flags.CardanoProjectIDFlag,
	flags.StellarRPCFlag,
	flags.TokenMessengerFlag,
	flags.SolanaProgramFlag,
	flags.BitcoinDepositFlag,
	flags.TronDepositFlag,
	flags.XRPLDepositFlag,
	flags.CardanoDepositFlag,
	flags.StellarDepositFlag,
	flags.HTTPHostFlag,
	flags.HTTPPortFlag,
	flags.MonitoringHostFlag,
	flags.MonitoringPortFlag,
	flags.VerbosityFlag,
	flags.LogFormatFlag,
	flags.CheckpointDirFlag,
}

func startNode(cliCtx *cli.Context) error {
	attesterNode, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	attesterNode.Start()
	return nil
}

func main() {
	app := cli.App{}
	app.Name = "attester"
	app.Usage = "observes bridge burns across chains and serves signed attestations"
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
