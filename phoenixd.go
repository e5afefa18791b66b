// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"

	"github.com/rs/zerolog"

	"gitlab.com/phoenix-network/phoenixd/blockchain"
	"gitlab.com/phoenix-network/phoenixd/blockdb"
	"gitlab.com/phoenix-network/phoenixd/config"
	"gitlab.com/phoenix-network/phoenixd/corelog"
	"gitlab.com/phoenix-network/phoenixd/mempool"
	"gitlab.com/phoenix-network/phoenixd/mining"
	"gitlab.com/phoenix-network/phoenixd/p2p"
	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/txscript"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
	"gitlab.com/phoenix-network/phoenixd/version"
)

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Block and transaction processing can cause bursty allocations.  This
	// limits the garbage collector from excessively overallocating during
	// bursts.
	debug.SetGCPercent(10)

	// Work around defer not working after os.Exit().
	if err := phoenixdMain(); err != nil {
		fmt.Println("FATAL:", err)
		os.Exit(1)
	}
}

// phoenixdMain is the real main function for phoenixd.  It is necessary to
// work around the fact that deferred functions do not run when os.Exit() is
// called.
func phoenixdMain() error {
	// Load configuration and parse command line.
	cfg, chainParams, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.ShowVersion {
		fmt.Println("phoenixd version", version.String())
		return nil
	}

	level, err := zerolog.ParseLevel(cfg.DebugLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := corelog.New("node", level, cfg.Log)

	// Get a channel that will be closed when a shutdown signal has been
	// triggered either from an OS signal such as SIGINT (Ctrl+C) or from
	// another subsystem.
	interrupt := interruptListener(log)

	log.Info().Str("network", chainParams.Name).Msg("phoenixd starting")

	// Open the block store: the flat block files plus the key-value
	// index.  Failure here means a corrupt or inaccessible database and
	// is fatal before the engine starts.
	store, err := blockdb.Open(cfg.DataDir, chainParams.Net)
	if err != nil {
		return err
	}
	defer store.Close()

	timeSource := blockchain.NewMedianTime(corelog.New("time", level, cfg.Log))

	// The script interpreter is pluggable; the engine itself ships the
	// permissive verifier and relies on checkpoints plus external
	// verification deployments for full script enforcement.
	var verifier txscript.Verifier = txscript.NopVerifier{}

	server := &nodeServer{}

	chain, err := blockchain.New(&blockchain.Config{
		Store:          store,
		ChainParams:    chainParams,
		TimeSource:     timeSource,
		ScriptVerifier: verifier,
		CheckpointMode: cfg.CheckpointModeValue(),
		Notifications:  server.onChainNotification,
		Logger:         corelog.New("chain", level, cfg.Log),
	})
	if err != nil {
		return err
	}

	txPool := mempool.New(&mempool.Config{
		Chain:            chain,
		RelayNonStd:      cfg.RelayNonStd,
		FreeTxRelayLimit: cfg.FreeTxRelayLimit,
		MaxOrphanTxs:     cfg.MaxOrphanTxs,
		Logger:           corelog.New("mempool", level, cfg.Log),
	})
	chain.SetTxPool(txPool)

	var externalIP *wire.NetAddress
	if cfg.ExternalIP != "" {
		externalIP = parseExternalIP(cfg.ExternalIP, chainParams.DefaultPort)
	}

	peerServer := p2p.NewServer(&p2p.Config{
		ChainParams:    chainParams,
		Chain:          chain,
		TxPool:         txPool,
		TimeSource:     timeSource,
		Listeners:      cfg.Listeners,
		ConnectPeers:   cfg.ConnectPeers,
		Proxy:          cfg.Proxy,
		ExternalIP:     externalIP,
		MaxPeers:       cfg.MaxPeers,
		TargetOutbound: cfg.TargetOutbound,
		BanThreshold:   cfg.BanThreshold,
		BanDuration:    cfg.BanDuration,
		Logger:         corelog.New("p2p", level, cfg.Log),
	})
	server.peers = peerServer
	server.notify = p2p.NotificationHandler(peerServer)

	if err := peerServer.Start(); err != nil {
		// A port bind failure without an operator peer override is
		// fatal.
		if len(cfg.ConnectPeers) == 0 {
			return err
		}
		log.Warn().Err(err).Msg("listen failed, continuing with connect peers only")
	}
	defer peerServer.Stop()

	// Start the CPU miner when requested.
	if cfg.Generate {
		payScript, err := hex.DecodeString(cfg.MiningScript)
		if err != nil || len(payScript) == 0 {
			return fmt.Errorf("generation requires a valid --miningscript")
		}
		miner := mining.NewCPUMiner(&mining.CPUMinerConfig{
			ChainParams: chainParams,
			Chain:       chain,
			TxPool:      txPool,
			PayToScript: payScript,
			NumWorkers:  cfg.MiningWorkers,
			ProcessBlock: func(block *phxutil.Block,
				flags blockchain.BehaviorFlags) (bool, error) {
				isMain, _, err := chain.ProcessBlock(block, nil, flags)
				return isMain, err
			},
			ConnectedCount: peerServer.ConnectedCount,
			Logger:         corelog.New("miner", level, cfg.Log),
		})
		miner.Start()
		defer miner.Stop()
	}

	// Wait until the interrupt signal is received from an OS signal or
	// shutdown is requested through one of the subsystems.
	<-interrupt
	log.Info().Msg("phoenixd shutting down")
	return nil
}

// nodeServer glues the chain notifications to the peer engine once both
// exist; the chain is constructed first and the callback indirects through
// this struct.
type nodeServer struct {
	peers  *p2p.Server
	notify blockchain.NotificationCallback
}

func (s *nodeServer) onChainNotification(n *blockchain.Notification) {
	if s.notify != nil {
		s.notify(n)
	}
}

// parseExternalIP converts a host[:port] string into a network address.
func parseExternalIP(addr, defaultPort string) *wire.NetAddress {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		portStr = defaultPort
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil
	}
	return wire.NewNetAddressIPPort(ip, uint16(port), wire.SFNodeNetwork)
}
