package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"crowdsale/config"
	"crowdsale/core"
	"crowdsale/core/genesis"
	"crowdsale/core/state"
	nativecommon "crowdsale/native/common"
	"crowdsale/observability/logging"
	"crowdsale/rpc"
	"crowdsale/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const genesisPathEnv = "CRW_GENESIS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file (overrides CRW_GENESIS and config GenesisFile)")
	allowMigrateFlag := flag.Bool("allow-migrate", false, "Allow starting with a mismatched state schema (manual migrations only)")
	metricsAddr := flag.String("metrics", "", "Optional listen address for the Prometheus metrics endpoint (e.g. :9091)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CRW_ENV"))
	logger := logging.Setup("crowdsaled", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := config.ValidateConfig(cfg.Global); err != nil {
		logger.Error("Invalid global config", slog.Any("error", err))
		os.Exit(1)
	}

	campaignCfg, err := cfg.Campaign.SaleConfig()
	if err != nil {
		logger.Error("Invalid campaign terms", slog.Any("error", err))
		os.Exit(1)
	}

	genesisPath := resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := state.EnsureStateVersion(db, *allowMigrateFlag); err != nil {
		logger.Error("State schema check failed", slog.Any("error", err))
		os.Exit(1)
	}

	var allocations []core.GenesisAllocation
	if trimmed := strings.TrimSpace(genesisPath); trimmed != "" {
		spec, err := genesis.LoadGenesisSpec(trimmed)
		if err != nil {
			logger.Error("Failed to load genesis spec", slog.Any("error", err))
			os.Exit(1)
		}
		if chainID, ok := spec.ChainIDValue(); ok && chainID != core.OrderChainID {
			logger.Error("Genesis chain id does not match the order domain",
				slog.Uint64("genesis", chainID),
				slog.Uint64("expected", core.OrderChainID))
			os.Exit(1)
		}
		for _, alloc := range spec.Allocations() {
			allocations = append(allocations, core.GenesisAllocation{Account: alloc.Account, USDQ: alloc.Amount})
		}
	}

	node, err := core.NewNode(db, campaignCfg, allocations)
	if err != nil {
		logger.Error("Failed to create node", slog.Any("error", err))
		os.Exit(1)
	}

	saleQuota := cfg.Global.Quotas.Sale
	node.SetQuota(nativecommon.Quota{
		MaxRequestsPerMin: saleQuota.MaxRequestsPerMin,
		MaxUSDQPerEpoch:   saleQuota.MaxUSDQPerEpoch,
		EpochSeconds:      saleQuota.EpochSeconds,
	})
	node.SetModulePaused("sale", cfg.Global.Pauses.Sale)
	node.SetModulePaused("token", cfg.Global.Pauses.Token)
	node.SetModulePaused("funds", cfg.Global.Pauses.Funds)

	if addr := strings.TrimSpace(*metricsAddr); addr != "" {
		go serveMetrics(addr, logger)
	}

	if strings.TrimSpace(cfg.RPCAuthToken) != "" {
		logger.Info("RPC admin authentication enabled",
			logging.MaskField("auth_token", cfg.RPCAuthToken))
	}

	rpcServer := rpc.NewServer(node, rpc.ServerConfig{AuthToken: cfg.RPCAuthToken})
	rpcErrCh := make(chan error, 1)
	go func() {
		rpcErrCh <- rpcServer.Start(cfg.RPCAddress)
		close(rpcErrCh)
	}()

	if err := waitForRPCStartup(cfg.RPCAddress, rpcErrCh, 5*time.Second); err != nil {
		logger.Error("RPC server failed to start", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("Crowdsale node initialised and running",
		slog.String("rpc", cfg.RPCAddress),
		slog.String("network", cfg.NetworkName))

	if err, ok := <-rpcErrCh; ok && err != nil {
		logger.Error("RPC server terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

type envLookupFunc func(string) (string, bool)

// resolveGenesisPath picks the genesis source in priority order: CLI flag,
// environment, config file. An empty result means no pre-funded accounts are
// seeded, which is a valid first boot.
func resolveGenesisPath(cliPath string, cfgPath string, lookup envLookupFunc) string {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(cfgPath)
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics endpoint terminated", slog.Any("error", err))
	}
}

func waitForRPCStartup(addr string, errCh <-chan error, timeout time.Duration) error {
	dialAddr := dialAddressFor(addr)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("RPC server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("RPC server exited before startup confirmation")
		default:
		}

		conn, err := net.DialTimeout("tcp", dialAddr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("RPC server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("RPC server exited before startup confirmation")
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for RPC server to start on %s", addr)
		}
	}
}

func dialAddressFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
