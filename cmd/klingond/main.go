// Package main provides rfc003d, the COMIT RFC003 swap daemon: a P2P node
// that negotiates, accepts, and drives Bitcoin/Ethereum atomic swaps end to
// end (internal/dispatch), exposing a JSON-RPC control surface (internal/rpc)
// and a read-only operator view (internal/opui).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/comit-node/rfc003/internal/backend"
	"github.com/comit-node/rfc003/internal/chain"
	comm "github.com/comit-node/rfc003/internal/comm"
	"github.com/comit-node/rfc003/internal/config"
	contracthtlc "github.com/comit-node/rfc003/internal/contracts/htlc"
	"github.com/comit-node/rfc003/internal/dispatch"
	"github.com/comit-node/rfc003/internal/events"
	"github.com/comit-node/rfc003/internal/keystore"
	"github.com/comit-node/rfc003/internal/node"
	"github.com/comit-node/rfc003/internal/opui"
	"github.com/comit-node/rfc003/internal/rpc"
	"github.com/comit-node/rfc003/internal/storage"
	"github.com/comit-node/rfc003/internal/store"
	"github.com/comit-node/rfc003/internal/wallet"
	"github.com/comit-node/rfc003/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir        = flag.String("data-dir", "~/.comit-rfc003", "Data directory")
		configFile     = flag.String("config", "", "Config file path; only its directory is used, and config.yaml in that directory is read (default: <data-dir>/config.yaml)")
		listenAddr     = flag.String("listen", "", "Listen address (multiaddr), overrides config")
		apiAddr        = flag.String("api", "127.0.0.1:8080", "JSON-RPC API address")
		enableMDNS     = flag.Bool("mdns", true, "Enable mDNS discovery")
		enableDHT      = flag.Bool("dht", true, "Enable DHT discovery")
		testnet        = flag.Bool("testnet", false, "Run on testnet (separate network and data)")
		bootstrapPeers = flag.String("bootstrap", "", "Bootstrap peers (comma-separated multiaddrs)")
		logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		walletPassword = flag.String("wallet-password", "", "Wallet seed passphrase (env WALLET_PASSWORD if unset)")
		ethereumRPCURL = flag.String("ethereum-rpc", "", "Ethereum JSON-RPC endpoint, overrides swap.yaml")
		ethereumChain  = flag.Uint64("ethereum-chain-id", 0, "Ethereum chain ID, overrides swap.yaml")
		showVersion    = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("rfc003d %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	var cfg *node.Config
	var err error
	if *configFile != "" {
		cfg, err = node.LoadConfig(filepath.Dir(*configFile))
	} else {
		cfg, err = node.LoadConfig(effectiveDataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	if *listenAddr != "" {
		cfg.Network.ListenAddrs = []string{*listenAddr}
	}
	cfg.Network.EnableMDNS = *enableMDNS
	cfg.Network.EnableDHT = *enableDHT
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = effectiveDataDir

	if *testnet {
		cfg.NetworkType = node.NetworkTestnet
	} else {
		cfg.NetworkType = node.NetworkMainnet
	}
	if *bootstrapPeers != "" {
		cfg.Network.BootstrapPeers = parseBootstrapPeers(*bootstrapPeers)
	}

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("Config loaded", "path", node.ConfigPath(effectiveDataDir))

	swapCfg, err := config.LoadSwapConfig(expandPath(effectiveDataDir))
	if err != nil {
		log.Fatal("Failed to load swap config", "error", err)
	}
	if *ethereumRPCURL != "" {
		swapCfg.EthereumRPCURL = *ethereumRPCURL
	}
	if *ethereumChain != 0 {
		swapCfg.EthereumChainID = *ethereumChain
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataPath := expandPath(cfg.Storage.DataDir)
	db, err := storage.New(&storage.Config{DataDir: dataPath})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer db.Close()
	log.Info("Storage initialized", "path", dataPath)

	walletNetwork := chain.Mainnet
	if *testnet {
		walletNetwork = chain.Testnet
	}

	password := *walletPassword
	if password == "" {
		password = os.Getenv("WALLET_PASSWORD")
	}
	w, err := loadOrCreateWallet(dataPath, password, walletNetwork)
	if err != nil {
		log.Fatal("Failed to load wallet", "error", err)
	}
	log.Info("Wallet loaded", "network", walletNetwork)
	keys := keystore.New(w)

	backendRegistry := backend.NewDefaultRegistry(walletNetwork)
	log.Info("Backend registry initialized", "network", walletNetwork, "backends", backendRegistry.List())
	bitcoinBackend, ok := backendRegistry.Get("BTC")
	if !ok {
		log.Fatal("No Bitcoin backend registered for network", "network", walletNetwork)
	}
	if err := bitcoinBackend.Connect(ctx); err != nil {
		log.Fatal("Failed to connect Bitcoin backend", "error", err)
	}

	if swapCfg.EthereumRPCURL == "" {
		log.Fatal("Ethereum RPC endpoint not configured; pass -ethereum-rpc or set it in swap.yaml")
	}
	htlcAddr := config.GetHTLCContract(swapCfg.EthereumChainID)
	if !config.IsHTLCDeployed(swapCfg.EthereumChainID) {
		log.Fatal("No SwapHTLC contract registered for chain", "chain_id", swapCfg.EthereumChainID)
	}
	htlcClient, err := contracthtlc.NewClient(swapCfg.EthereumRPCURL, htlcAddr)
	if err != nil {
		log.Fatal("Failed to connect to Ethereum HTLC contract", "error", err)
	}

	alphaSource := events.NewBitcoinSource(bitcoinBackend, swapCfg.BitcoinConfirmations, swapCfg.BitcoinPollInterval)
	betaSource := events.NewEthereumSource(htlcClient, swapCfg.EthereumPollInterval)

	checkpoints, err := store.New(db)
	if err != nil {
		log.Fatal("Failed to initialize swap checkpoint store", "error", err)
	}

	log.Info("Starting P2P node...")
	n, err := node.New(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to create node", "error", err)
	}

	peerStoreAdapter := node.NewPeerStoreAdapter(db)
	n.SetPeerStoreAdapter(peerStoreAdapter)

	if err := n.LoadPersistedPeers(); err != nil {
		log.Warn("Failed to load persisted peers", "error", err)
	}
	if err := n.SetupDirectMessaging(db); err != nil {
		log.Warn("Failed to setup direct messaging", "error", err)
	} else {
		log.Info("Direct P2P messaging initialized")
	}
	if err := n.Start(); err != nil {
		log.Fatal("Failed to start node", "error", err)
	}

	c := comm.New(n)
	c.Start()

	hub := opui.NewHub()
	go hub.Run()

	disp := dispatch.New(alphaSource, betaSource, checkpoints, c, keys, hub, swapCfg.AlphaRefundBlocks)
	go disp.ServeInbound(ctx)
	log.Info("Swap dispatcher listening for inbound RFC003 requests")

	rpcServer := rpc.NewServer(n, disp, hub)
	if err := rpcServer.Start(*apiAddr); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	printBanner(log, n, cfg, *apiAddr)

	nodeLog := log.Component("p2p")
	n.OnPeerConnected(func(p peer.ID) {
		nodeLog.Info("Peer connected", "peer", shortID(p), "total", n.PeerCount())
	})
	n.OnPeerDisconnected(func(p peer.ID) {
		nodeLog.Info("Peer disconnected", "peer", shortID(p), "total", n.PeerCount())
	})

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info("Status", "peers", n.PeerCount(), "uptime", n.Uptime().Round(time.Second))
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down...")

	if err := n.SavePeerCache(); err != nil {
		log.Error("Error saving peer cache", "error", err)
	}

	cancel()
	bitcoinBackend.Close()

	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}
	if err := n.Stop(); err != nil {
		log.Error("Error during shutdown", "error", err)
	}

	log.Info("Goodbye!")
}

// loadOrCreateWallet bootstraps this node's signing wallet the same way
// internal/node.LoadConfig bootstraps the node's own config: an encrypted
// seed file in dataDir is loaded if present, else a fresh mnemonic is
// generated, encrypted under password, and written out for next time.
func loadOrCreateWallet(dataDir, password string, network chain.Network) (*wallet.Wallet, error) {
	if password == "" {
		return nil, fmt.Errorf("wallet passphrase required (-wallet-password or WALLET_PASSWORD)")
	}
	seedPath := filepath.Join(dataDir, "wallet.seed")

	if _, err := os.Stat(seedPath); os.IsNotExist(err) {
		mnemonic, err := wallet.GenerateMnemonic()
		if err != nil {
			return nil, fmt.Errorf("generate mnemonic: %w", err)
		}
		encrypted, err := wallet.EncryptMnemonic(mnemonic, password)
		if err != nil {
			return nil, fmt.Errorf("encrypt mnemonic: %w", err)
		}
		if err := wallet.SaveEncryptedSeed(encrypted, seedPath); err != nil {
			return nil, fmt.Errorf("save encrypted seed: %w", err)
		}
		return wallet.NewFromMnemonic(mnemonic, "", network)
	}

	encrypted, err := wallet.LoadEncryptedSeed(seedPath)
	if err != nil {
		return nil, fmt.Errorf("load encrypted seed: %w", err)
	}
	mnemonic, err := wallet.DecryptMnemonic(encrypted, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt seed (wrong password?): %w", err)
	}
	return wallet.NewFromMnemonic(mnemonic, "", network)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, n *node.Node, cfg *node.Config, apiAddr string) {
	networkLabel := "mainnet"
	if cfg.IsTestnet() {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  COMIT RFC003 Node (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Peer ID: %s", n.ID().String())
	log.Info("")
	log.Info("  Listening on:")
	for _, addr := range n.Addrs() {
		log.Infof("    %s/p2p/%s", addr.String(), n.ID().String())
	}
	log.Info("")
	log.Infof("  API: http://%s", apiAddr)
	log.Infof("  WS:  ws://%s/ws", apiAddr)
	log.Info("")
	log.Infof("  Network: %s | mDNS: %v | DHT: %v", networkLabel, cfg.Network.EnableMDNS, cfg.Network.EnableDHT)
	log.Infof("  Data dir: %s", expandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}

func parseBootstrapPeers(s string) []string {
	if s == "" {
		return nil
	}
	var peers []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
