// Package main launches an ambrosus node: a hermes node that ingests signed
// entities and commits bundles on chain, or an atlas node that competes for
// sheltering peers' bundles.
package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/kindomxu/ambrosus-node/config/params"
	"github.com/kindomxu/ambrosus-node/node"
)

var log = logrus.WithField("prefix", "main")

var (
	roleFlag = &cli.StringFlag{
		Name:  "role",
		Usage: "node role, hermes or atlas",
	}
	mongoURIFlag = &cli.StringFlag{
		Name:  "mongodb-uri",
		Usage: "mongodb connection uri, or \"memory\" for the in-process dev store",
	}
	dbNameFlag = &cli.StringFlag{
		Name:  "db-name",
		Usage: "mongodb database name",
	}
	rpcEndpointFlag = &cli.StringFlag{
		Name:  "rpc-endpoint",
		Usage: "chain RPC endpoint",
	}
	contractAddressFlag = &cli.StringFlag{
		Name:  "contract-address",
		Usage: "registry contract address",
	}
	keyFileFlag = &cli.StringFlag{
		Name:  "keyfile",
		Usage: "path to the node's private key file",
	}
	configFileFlag = &cli.StringFlag{
		Name:  "config-file",
		Usage: "path to a yaml config file",
	}
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "logging level (trace, debug, info, warn, error, fatal, panic)",
		Value: "info",
	}
)

func main() {
	app := &cli.App{
		Name:  "ambrosus-node",
		Usage: "runs a node of the ambrosus content-addressed ledger network",
		Flags: []cli.Flag{
			roleFlag,
			mongoURIFlag,
			dbNameFlag,
			rpcEndpointFlag,
			contractAddressFlag,
			keyFileFlag,
			configFileFlag,
			verbosityFlag,
		},
		Before: func(cliCtx *cli.Context) error {
			logrus.SetFormatter(new(prefixed.TextFormatter))
			level, err := logrus.ParseLevel(cliCtx.String(verbosityFlag.Name))
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
		Action: startNode,
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("Node exited with an error")
	}
}

func startNode(cliCtx *cli.Context) error {
	cfg, err := loadConfig(cliCtx)
	if err != nil {
		return err
	}
	n, err := node.New(context.Background(), cfg)
	if err != nil {
		return err
	}
	return n.Start()
}

// loadConfig layers the config file over the defaults and the command line
// over both.
func loadConfig(cliCtx *cli.Context) (*params.Config, error) {
	cfg := params.DefaultConfig()
	if cliCtx.IsSet(configFileFlag.Name) {
		loaded, err := params.LoadFile(cliCtx.String(configFileFlag.Name))
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cliCtx.IsSet(roleFlag.Name) {
		cfg.Role = cliCtx.String(roleFlag.Name)
	}
	if cliCtx.IsSet(mongoURIFlag.Name) {
		cfg.MongoURI = cliCtx.String(mongoURIFlag.Name)
	}
	if cliCtx.IsSet(dbNameFlag.Name) {
		cfg.DatabaseName = cliCtx.String(dbNameFlag.Name)
	}
	if cliCtx.IsSet(rpcEndpointFlag.Name) {
		cfg.RPCEndpoint = cliCtx.String(rpcEndpointFlag.Name)
	}
	if cliCtx.IsSet(contractAddressFlag.Name) {
		cfg.ContractAddress = cliCtx.String(contractAddressFlag.Name)
	}
	if cliCtx.IsSet(keyFileFlag.Name) {
		cfg.KeyFilePath = cliCtx.String(keyFileFlag.Name)
	}
	if err := cfg.LoadNodeSecret(); err != nil {
		return nil, err
	}
	return cfg, nil
}
