// Command consensusd starts a DAG-chain consensus node: it loads config and the
// validator keystore, opens the on-disk store, builds the DAG/epoch/
// permissions/mempool/verify stack, and drives node.Engine's per-second
// step loop against a P2P transport and a JSON-RPC query endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dagchain/consensus/conflict"
	"github.com/dagchain/consensus/config"
	"github.com/dagchain/consensus/crypto/certgen"
	"github.com/dagchain/consensus/dag"
	"github.com/dagchain/consensus/epoch"
	"github.com/dagchain/consensus/events"
	"github.com/dagchain/consensus/indexer"
	"github.com/dagchain/consensus/mempool"
	"github.com/dagchain/consensus/network"
	"github.com/dagchain/consensus/node"
	"github.com/dagchain/consensus/permissions"
	"github.com/dagchain/consensus/rpc"
	"github.com/dagchain/consensus/storage"
	"github.com/dagchain/consensus/verify"
	"github.com/dagchain/consensus/wallet"
)

const snapshotInterval = 30 * time.Second

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "validator.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit (requires node ID from config)")
	flag.Parse()

	// Read keystore password from environment (not CLI flags — they leak via ps).
	password := os.Getenv("DAGCHAIN_PASSWORD")
	if password == "" {
		log.Println("WARNING: DAGCHAIN_PASSWORD not set — keystore will use an empty password")
	}

	// ---- generate key mode ----
	if *genKey {
		w, err := wallet.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Public key (validator identity): %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	// ---- generate certs mode ----
	if *genCerts != "" {
		cfgForCerts, err := loadConfig(*cfgPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if err := certgen.GenerateAll(*genCerts, cfgForCerts.NodeID, nil); err != nil {
			log.Fatalf("gencerts: %v", err)
		}
		fmt.Printf("Certificates generated in %s for node %q\n", *genCerts, cfgForCerts.NodeID)
		return
	}

	// ---- load config ----
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- load validator key ----
	privKey, err := wallet.LoadKey(*keyPath, password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}

	validators, err := cfg.ActiveValidators()
	if err != nil {
		log.Fatalf("validators: %v", err)
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()
	dagStore := storage.NewDAGStore(db)

	// ---- DAG + epoch state ----
	d, err := loadOrInitDAG(dagStore, cfg)
	if err != nil {
		log.Fatalf("init dag: %v", err)
	}
	tracker := epoch.NewTracker(d, cfg.EpochParams())
	watcher := conflict.New()
	pool := mempool.New()
	if persisted, err := dagStore.LoadSystemic(); err != nil {
		log.Printf("load persisted mempool: %v", err)
	} else {
		for _, tx := range persisted {
			_ = pool.AddSystemic(tx)
		}
	}

	// ---- events / indexer ----
	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)

	// ---- TLS ----
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Println("mTLS enabled for P2P")
	}

	// node.Engine and network.Node each need the other at construction time
	// (Engine.Broadcast needs the transport, network.Node's Receiver needs
	// the engine); both adapters below defer the forwarding call until
	// after both sides exist.
	recv := &engineReceiver{}
	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	netNode := network.NewNode(cfg.NodeID, p2pAddr, recv, d, tlsCfg)

	seedSrc := &engineSeedSource{}
	schedule := permissions.New(seedSrc, cfg.EpochParams())

	verifier, err := verify.New(schedule, watcher, pool, tracker)
	if err != nil {
		log.Fatalf("build verifier: %v", err)
	}

	engine := node.New(node.Config{
		DAG:              d,
		Tracker:          tracker,
		Schedule:         schedule,
		Watcher:          watcher,
		Pool:             pool,
		Verifier:         verifier,
		Emitter:          emitter,
		Broadcast:        netNode,
		PrivKey:          privKey,
		GenesisTimestamp: cfg.Genesis.GenesisTimestamp,
		BlockTimeSeconds: cfg.Epoch.BlockTimeSeconds,
		Validators:       validators,
	})
	recv.engine = engine
	seedSrc.engine = engine

	if err := netNode.Start(); err != nil {
		log.Fatalf("p2p start: %v", err)
	}
	defer netNode.Stop()
	log.Printf("P2P listening on %s", p2pAddr)

	// ---- connect to seed peers ----
	for _, sp := range cfg.SeedPeers {
		if err := netNode.AddPeer(sp.ID, sp.Addr); err != nil {
			log.Printf("seed peer %s (%s): %v", sp.ID, sp.Addr, err)
			continue
		}
		log.Printf("Connected to seed peer %s (%s)", sp.ID, sp.Addr)
	}

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(d, tracker, schedule, watcher, pool, engine, netNode).WithIndexer(idx)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken)
	if err := rpcServer.Start(); err != nil {
		log.Fatalf("rpc start: %v", err)
	}
	defer rpcServer.Stop()
	log.Printf("RPC listening on %s", rpcAddr)
	if cfg.RPCAuthToken != "" {
		log.Println("RPC Bearer token authentication enabled")
	}

	// ---- consensus step loop ----
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx, time.Second, done)
	}()
	log.Printf("Consensus running (validator: %s)", privKey.Public().Hex())

	// ---- periodic DAG/mempool snapshot ----
	snapDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		runSnapshotLoop(dagStore, d, pool, snapDone)
	}()

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	close(done)
	close(snapDone)
	cancel()
	wg.Wait()

	if err := dagStore.SnapshotDAG(d); err != nil {
		log.Printf("final DAG snapshot: %v", err)
	}
	if err := dagStore.SnapshotMempool(pool); err != nil {
		log.Printf("final mempool snapshot: %v", err)
	}

	// Deferred calls run in LIFO: rpcServer.Stop → netNode.Stop → db.Close
	log.Println("Shutdown complete.")
}

// engineReceiver forwards inbound P2P frames to the step-loop Engine. Built
// before the Engine exists (network.Node's constructor needs a Receiver
// up front) and pointed at it immediately after.
type engineReceiver struct {
	engine *node.Engine
}

func (r *engineReceiver) EnqueueBlock(sb *dag.SignedBlock)            { r.engine.EnqueueBlock(sb) }
func (r *engineReceiver) EnqueueConflictingBlock(sb *dag.SignedBlock) { r.engine.EnqueueConflictingBlock(sb) }
func (r *engineReceiver) EnqueueSystemic(tx dag.SystemicTx)           { r.engine.EnqueueSystemic(tx) }

// engineSeedSource forwards permissions.Schedule's seed lookups to the
// Engine, resolving the same construction-order cycle as engineReceiver.
type engineSeedSource struct {
	engine *node.Engine
}

func (s *engineSeedSource) SeedFor(epochHash dag.Hash) ([32]byte, []permissions.Validator, error) {
	return s.engine.SeedFor(epochHash)
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults.", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// loadOrInitDAG rebuilds a *dag.DAG from persisted blocks, retrying in
// repeated passes so blocks can be re-added regardless of storage order
// (mirrors how blocks arrive live, parent before child). Falls back to a
// fresh genesis-only DAG when nothing is persisted yet.
func loadOrInitDAG(store *storage.DAGStore, cfg *config.Config) (*dag.DAG, error) {
	persisted, err := store.LoadBlocks()
	if err != nil {
		return nil, fmt.Errorf("load persisted blocks: %w", err)
	}

	genesis := config.GenesisBlock(cfg)
	d := dag.New(genesis)
	if len(persisted) == 0 {
		return d, nil
	}

	remaining := persisted
	for len(remaining) > 0 {
		var next []dag.SignedBlock
		progressed := false
		for _, sb := range remaining {
			if d.Has(sb.Block.Hash()) {
				continue
			}
			if _, err := d.Add(sb); err != nil {
				next = append(next, sb)
				continue
			}
			progressed = true
		}
		if !progressed {
			log.Printf("dropped %d persisted block(s) with unresolvable parents", len(next))
			break
		}
		remaining = next
	}
	return d, nil
}

func runSnapshotLoop(store *storage.DAGStore, d *dag.DAG, pool *mempool.Pool, done <-chan struct{}) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := store.SnapshotDAG(d); err != nil {
				log.Printf("[snapshot] dag: %v", err)
			}
			if err := store.SnapshotMempool(pool); err != nil {
				log.Printf("[snapshot] mempool: %v", err)
			}
		}
	}
}
