package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relayfox/interceptproxy/internal/certs"
	"github.com/relayfox/interceptproxy/internal/config"
	"github.com/relayfox/interceptproxy/internal/enhance"
	"github.com/relayfox/interceptproxy/internal/logging"
	"github.com/relayfox/interceptproxy/internal/metrics"
	"github.com/relayfox/interceptproxy/internal/proxyhttp"
)

func newRunCommand() *cobra.Command {
	var (
		llmFlag         bool
		listenAddrFlag  string
		enhanceAddrFlag string
		metricsAddrFlag string
		logLevelFlag    string
	)

	cmd := &cobra.Command{
		Use:   "run <port> <ca_cert_path> <ca_key_path> [llm=true|llm=false]",
		Short: "Run the proxy in the foreground",
		Long: `Run starts the accept loop and serves connections until the process
receives an interrupt or termination signal. The positional arguments
preserve the original tool's invocation: a listen port, a CA certificate
path, and a CA private key path. An optional fourth positional argument
"llm=true" or "llm=false" is accepted for compatibility with that original
form; prefer --llm for new invocations.`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Initialize the logger first: until Init runs, the default
			// logger discards everything, including the warning below.
			if err := logging.Init(logLevelFlag); err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			log := logging.Named("cmd.run")

			llm := llmFlag
			if len(args) == 4 {
				legacy, ok := parseLegacyLLMArg(args[3])
				if !ok {
					log.Warn("unrecognized legacy llm argument, disabling LLM mode",
						zap.String("argument", args[3]))
					legacy = false
				}
				llm = legacy
			}

			port := args[0]
			listenAddr := listenAddrFlag
			if listenAddr == "" {
				listenAddr = config.NormalizeAddr(port)
			}

			cfg := config.Config{
				ListenAddr:  listenAddr,
				CACertPath:  args[1],
				CAKeyPath:   args[2],
				LLMEnabled:  llm,
				EnhanceAddr: enhanceAddrFlag,
				MetricsAddr: metricsAddrFlag,
				LogLevel:    logLevelFlag,
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			return runProxy(cmd.Context(), cfg)
		},
	}

	cmd.Flags().BoolVar(&llmFlag, "llm", false, "enable buffered HTML enhancement mode")
	cmd.Flags().StringVar(&listenAddrFlag, "listen-addr", "", "address to listen on (default :<port>)")
	cmd.Flags().StringVar(&enhanceAddrFlag, "enhance-addr", "127.0.0.1:5000", "enhancement backend address")
	cmd.Flags().StringVar(&metricsAddrFlag, "metrics-addr", "", "address for the metrics endpoint (disabled if empty)")
	cmd.Flags().StringVar(&logLevelFlag, "log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}

// parseLegacyLLMArg tolerates the original CLI's "llm=true"/"llm=false"
// positional form.
func parseLegacyLLMArg(arg string) (enabled bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "llm=true":
		return true, true
	case "llm=false":
		return false, true
	default:
		return false, false
	}
}

func runProxy(ctx context.Context, cfg config.Config) error {
	if err := logging.Init(cfg.LogLevel); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logging.Sync() }()
	log := logging.Named("proxy")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authority, err := certs.Load(cfg.CACertPath, cfg.CAKeyPath)
	if err != nil {
		return fmt.Errorf("loading CA material: %w", err)
	}
	minter := certs.NewMinter(authority, time.Now())

	var collectors *metrics.Collectors
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		collectors = metrics.New(reg)
		go func() {
			if err := metrics.Serve(ctx, config.NormalizeAddr(cfg.MetricsAddr), reg); err != nil {
				log.Error("metrics server exited", zap.Error(err))
			}
		}()
	}

	enhanceClient := enhance.NewClient(cfg.EnhanceAddr, logging.Named("enhance"), collectors)

	handler := &proxyhttp.Handler{
		Minter:     minter,
		Enhance:    enhanceClient,
		LLMEnabled: cfg.LLMEnabled,
		Log:        logging.Named("proxyhttp"),
		Metrics:    collectors,
	}

	log.Info("starting proxy",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.Bool("llm_enabled", cfg.LLMEnabled),
		zap.String("enhance_addr", cfg.EnhanceAddr))

	return handler.ListenAndServe(ctx, config.NormalizeAddr(cfg.ListenAddr))
}
