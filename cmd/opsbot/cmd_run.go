package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"opsbot/cache"
	"opsbot/config"
	"opsbot/gateway"
	awsprovider "opsbot/providers/aws"
	"opsbot/registry"
	"opsbot/router"
	"opsbot/sched"
	"opsbot/telemetry"
)

var runConfigPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot",
	Long: `Connect to Discord and serve operator commands.

The bot token is read from the DISCORD_BOT_TOKEN environment variable; AWS
credentials come from the default chain (instance role first, then keys).
Prometheus metrics are exposed on the configured metrics address.`,
	Example: `  opsbot run --config opsbot.yaml
  DISCORD_BOT_TOKEN=... opsbot run --config /etc/opsbot/opsbot.yaml`,
	RunE: runBot,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runConfigPath, "config", "opsbot.yaml", "Configuration file path")
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}

	token := os.Getenv("DISCORD_BOT_TOKEN")
	if token == "" {
		return errors.New("DISCORD_BOT_TOKEN is not set")
	}

	logger := telemetry.NewLogger("opsbot")

	// OTEL metrics through the Prometheus exporter.
	promExporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExporter)))

	botMetrics, err := telemetry.NewBotMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	ctx := context.Background()
	awsCfg, err := awsprovider.LoadClientConfig(ctx, cfg.Region)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	awsCallHook := func(service, operation, outcome string) {
		botMetrics.RecordAWSCall(context.Background(), service, operation, outcome)
	}
	control := awsprovider.NewControl(
		awsprovider.NewEC2Client(awsCfg),
		awsprovider.NewRDSClient(awsCfg),
		logger.Logger,
		awsprovider.WithCallHook(awsCallHook),
	)
	metrics := awsprovider.NewMetrics(
		awsprovider.NewCloudWatchClient(awsCfg),
		awsprovider.NewRDSClient(awsCfg),
		logger.Logger,
		awsprovider.WithCallHook(awsCallHook),
	)

	var nodegroups router.NodegroupAPI
	if cfg.EKS.Cluster != "" {
		nodegroups = awsprovider.NewNodegroups(awsprovider.NewEKSClient(awsCfg), cfg.EKS.Cluster, logger.Logger,
			awsprovider.WithCallHook(awsCallHook))
	}

	callCache := cache.New(logger.Logger, cache.WithLookupHook(func(hit bool) {
		botMetrics.RecordCacheLookup(context.Background(), hit)
	}))

	store, err := sched.OpenStore(cfg.Schedules.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	scheduler := sched.New(store, control, callCache, sched.Options{
		DefaultStart:  cfg.Schedules.DefaultStart,
		DefaultStop:   cfg.Schedules.DefaultStop,
		RetentionDays: cfg.Schedules.RetentionDays,
	}, logger.Logger)

	reg := registry.New(cfg)
	rt := router.New(router.Options{
		Registry:   reg,
		Control:    control,
		Metrics:    metrics,
		Cache:      callCache,
		Nodegroups: nodegroups,
		Scheduler:  scheduler,
		Logger:     logger.Logger,
		BotMetrics: botMetrics,
		StateTTL:   cfg.Cache.StateTTL,
		MetricsTTL: cfg.Cache.MetricsTTL,
	})

	discord, err := gateway.NewDiscord(token, logger.Logger)
	if err != nil {
		return err
	}
	gw := gateway.New(rt, discord, cfg.Workers, cfg.QueueSize, logger.Logger, botMetrics)
	discord.Attach(gw)

	logger.Info().
		Str("region", cfg.Region).
		Int("aliases", reg.Len()).
		Int("workers", cfg.Workers).
		Str("metrics_addr", cfg.MetricsAddr).
		Msg("starting opsbot")

	var group run.Group

	// SIGINT/SIGTERM stop everything.
	group.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	// Worker pool.
	{
		workerCtx, cancel := context.WithCancel(ctx)
		group.Add(func() error {
			return gw.Run(workerCtx)
		}, func(error) {
			cancel()
		})
	}

	// Scheduler loop.
	{
		schedCtx, cancel := context.WithCancel(ctx)
		group.Add(func() error {
			return scheduler.Run(schedCtx)
		}, func(error) {
			cancel()
		})
	}

	// Discord connection. discordgo runs its own receive loop; this actor
	// just holds the connection open until the group winds down.
	{
		quit := make(chan struct{})
		group.Add(func() error {
			if err := discord.Open(); err != nil {
				return err
			}
			<-quit
			return nil
		}, func(error) {
			close(quit)
			_ = discord.Close()
		})
	}

	// Metrics server.
	{
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		server := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Add(func() error {
			return server.ListenAndServe()
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		})
	}

	err = group.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		logger.Info().Str("signal", sigErr.Signal.String()).Msg("shutting down")
		return nil
	}
	return err
}
