package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	nodeconfig "factorpool/config"
	"factorpool/native/pool"
	"factorpool/observability/logging"
	"factorpool/observability/metrics"
	"factorpool/services/poold/config"
	"factorpool/services/poold/server"
	"factorpool/storage"
	"factorpool/storage/poolstore"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/poold/config.yaml", "path to poold config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	env := cfg.Environment
	if env == "" {
		env = strings.TrimSpace(os.Getenv("POOL_ENV"))
	}
	logger := logging.Setup("poold", env)

	nodeCfg, err := nodeconfig.Load(cfg.NodeConfigPath)
	if err != nil {
		log.Fatalf("load node config: %v", err)
	}
	oracle, err := nodeCfg.Oracle(os.Getenv("POOL_ORACLE_PASSPHRASE"))
	if err != nil {
		log.Fatalf("resolve oracle: %v", err)
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = nodeCfg.DataDir
	}
	db, err := storage.NewLevelDB(filepath.Join(dataDir, "poolstate"))
	if err != nil {
		log.Fatalf("open state database: %v", err)
	}
	defer db.Close()

	store := poolstore.New(db)
	poolMetrics := metrics.Pool()

	engine := pool.NewEngine(nodeCfg.PoolID, oracle)
	engine.SetState(store)
	engine.SetVerifier(pool.Secp256k1Verifier{})
	engine.SetEmitter(server.NewEventBridge(logger, poolMetrics))

	existing, err := store.PoolGet()
	if err != nil {
		log.Fatalf("read pool state: %v", err)
	}
	if existing == nil {
		if err := engine.InitializePool(nodeCfg.MaxUtilizationBps, nodeCfg.ProtocolFeeBps); err != nil {
			log.Fatalf("initialize pool: %v", err)
		}
		logger.Info("initialized pool",
			"poolId", nodeCfg.PoolID,
			"maxUtilizationBps", nodeCfg.MaxUtilizationBps,
			"protocolFeeBps", nodeCfg.ProtocolFeeBps,
		)
	}

	srv := server.New(engine, logger, poolMetrics)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("poold listening", "address", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}
