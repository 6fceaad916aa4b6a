// Command bw-node runs the node's core loop (§6 "a single server
// process reading config from a TOML-like file"): load config, open
// BlockDB, construct the Chain, TxPool, and SyncEngine, register the
// JSON-RPC method table, and idle until a signal arrives.
//
// Grounded on the teacher's cmd/rubin-node/main.go's flag-parse ->
// open-store -> construct-engines -> print-status -> wait-for-signal
// shape, with flag.FlagSet upgraded to github.com/jessevdk/go-flags and
// the logger/config/chain layers now going through config.Load,
// config.NewLogger, and internal/chain.New instead of the teacher's
// bespoke node.Config/node.LoadChainState.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"wimble.dev/node/config"
	"wimble.dev/node/internal/blockdb"
	"wimble.dev/node/internal/chain"
	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/consensus"
	"wimble.dev/node/internal/mmr"
	"wimble.dev/node/internal/rpc"
	"wimble.dev/node/internal/sync"
	"wimble.dev/node/internal/txpool"
)

type cliOptions struct {
	ConfigPath string `long:"config" description:"path to the node's TOML config file" default:"node.toml"`
	DryRun     bool   `long:"dry-run" description:"print effective config and exit"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

// run returns the process exit code per §6: 0 normal, 1 configuration
// error, 2 database-open failure, 3 unrecoverable consensus corruption.
// It blocks until ctx is canceled once boot succeeds, so tests pass an
// already-canceled or short-lived context to exercise boot without
// hanging.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	var opts cliOptions
	if _, err := flags.ParseArgs(&opts, args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return 0
		}
		fmt.Fprintf(stderr, "flag parse error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 1
	}

	log, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	if opts.DryRun {
		log.Info("effective config",
			zap.String("network", cfg.Network),
			zap.String("data_dir", cfg.DataDir),
			zap.String("bind_addr", cfg.BindAddr),
			zap.String("rpc_addr", cfg.RPCAddr),
			zap.String("log_level", cfg.LogLevel),
			zap.Int("max_peers", cfg.MaxPeers),
		)
		return 0
	}

	dataDir, err := config.DataSubdir(cfg, ".")
	if err != nil {
		log.Error("data directory create failed", zap.Error(err))
		return 2
	}
	db, err := blockdb.Open(dataDir+"/blocks.bolt", log)
	if err != nil {
		log.Error("blockdb open failed", zap.Error(err))
		return 2
	}
	defer func() { _ = db.Close() }()

	genesis := genesisBlock()
	ch, err := chain.New(db, log, genesis)
	if err != nil {
		log.Error("chain init from genesis failed", zap.Error(err))
		return 3
	}

	pool := txpool.New(log, ch)
	engine := sync.New(log, ch, sync.DefaultConfig())

	rpcSvc := rpc.Services{
		Chain:       ch,
		Pool:        pool,
		GenesisHash: genesis.Header.Hash(),
	}
	rpcTable := rpc.NewTable(rpcSvc)

	head := ch.Head()
	log.Info("node started",
		zap.String("network", cfg.Network),
		zap.Uint64("head_height", head.Height),
		zap.Uint64("head_total_difficulty", head.TotalDifficulty),
		zap.Int("rpc_methods", len(rpcTable)),
		zap.Int("pool_len", pool.Len()),
		zap.String("sync_state", engine.State().String()),
	)

	<-ctx.Done()

	log.Info("node stopped")
	return 0
}

// genesisBlock builds the height-0 block every fresh data directory
// starts from: no coinbase, no transactions, total_difficulty pinned at
// GENESIS_DIFFICULTY (§8 E1). A real deployment would pin this to a
// network-specific constant; devnet mints its own for every fresh
// data_dir, matching the teacher's own "no persisted genesis file" stance.
func genesisBlock() chaintypes.FullBlock {
	header := chaintypes.BlockHeader{
		Version:         1,
		Height:          0,
		TotalDifficulty: consensus.GenesisDifficulty,
		OutputRoot:      mmr.New().Root(),
		RangeProofRoot:  mmr.New().Root(),
		KernelRoot:      mmr.New().Root(),
	}
	return chaintypes.FullBlock{Header: header}
}
