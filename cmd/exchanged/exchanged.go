package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	log "github.com/helinwang/log15"
	"github.com/urfave/cli"

	"github.com/shiravi433/Cryp006/pkg/config"
	"github.com/shiravi433/Cryp006/pkg/exchange"
)

var configPath string

// openExchange loads the config, opens the state database and
// registers the configured tokens. The caller owns the database.
func openExchange() (*config.Config, ethdb.Database, *exchange.Exchange, *exchange.VaultCustodian, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	lvl, err := log.LvlFromString(cfg.Logging.Level)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StdoutHandler))

	if cfg.Exchange.FeeToken == "" {
		return nil, nil, nil, nil, errors.New("exchange.fee_token must be configured")
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0700); err != nil {
		return nil, nil, nil, nil, err
	}

	db, err := ethdb.NewLDBDatabase(filepath.Join(cfg.Storage.DataDir, "state"), 16, 16)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	vault := exchange.NewVaultCustodian()
	ex := exchange.NewExchange(exchange.NewState(db), vault, exchange.Params{
		FeeDenominator: cfg.Exchange.FeeDenominator,
		MaxTokens:      cfg.Exchange.MaxTokens,
		FeeTokenAddr:   common.HexToAddress(cfg.Exchange.FeeToken),
	})

	for _, t := range cfg.Exchange.Tokens {
		_, err := ex.AddToken(common.HexToAddress(t))
		if err != nil && !errors.Is(err, exchange.ErrTokenAlreadyRegistered) {
			db.Close()
			return nil, nil, nil, nil, err
		}
	}

	if err := ex.Flush(); err != nil {
		db.Close()
		return nil, nil, nil, nil, err
	}

	return cfg, db, ex, vault, nil
}

// initState writes the genesis state (fee token plus configured
// tokens) without starting the server.
func initState(_ *cli.Context) error {
	_, db, ex, _, err := openExchange()
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("genesis state written", "tokens", len(ex.Tokens()), "state", ex.Hash().Hex())
	return nil
}

func run(_ *cli.Context) error {
	cfg, db, ex, vault, err := openExchange()
	if err != nil {
		return err
	}
	defer db.Close()

	server := exchange.NewRPCServer(ex, vault)
	if err := server.Start(cfg.Server.Addr); err != nil {
		return err
	}

	log.Info("exchange daemon started", "addr", cfg.Server.Addr, "epoch", ex.CurrentEpoch(), "state", ex.Hash().Hex())
	select {}
}

func main() {
	app := cli.NewApp()
	app.Name = "exchanged"
	app.Usage = "batch auction exchange daemon"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "config, c",
			Usage:       "path to the YAML configuration file",
			Destination: &configPath,
		},
	}
	app.Action = run
	app.Commands = []cli.Command{
		{Name: "init", Usage: "Write the genesis state and exit", Action: initState},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Printf("command failed with error: %v\n", err)
		os.Exit(1)
	}
}
