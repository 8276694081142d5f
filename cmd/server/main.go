package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/devicegate/devicegate/pkg/api"
	"github.com/devicegate/devicegate/pkg/common"
	"github.com/devicegate/devicegate/pkg/config"
	"github.com/devicegate/devicegate/pkg/db"
	"github.com/devicegate/devicegate/pkg/downloads"
	"github.com/devicegate/devicegate/pkg/fingerprint"
	"github.com/devicegate/devicegate/pkg/gate"
	"github.com/devicegate/devicegate/pkg/maintenance"
	"github.com/devicegate/devicegate/pkg/monitoring"
	"github.com/devicegate/devicegate/pkg/registry"
	"github.com/devicegate/devicegate/pkg/signature"
	"github.com/devicegate/devicegate/web"
)

const (
	modeRun      = "run"
	modeMigrate  = "migrate"
	modeRollback = "rollback"
	// the document is tiny, a handful of entries covers every key we use
	documentCacheSize = 16
)

var (
	GitCommit   string
	flagMode    = flag.String("mode", "", "run | migrate | rollback")
	envFileFlag = flag.String("env", "", "Path to .env file, 'stdin' or empty")
	errNoSecret = errors.New("GATE_SECRET is not set")
	errNoSource = errors.New("GATE_DOWNLOADS_URL is not set")
)

func newGate(cfg common.ConfigStore, store registry.Store, metrics monitoring.Metrics) (*gate.Gate, *downloads.Resolver, error) {
	secret := []byte(cfg.Get(common.SecretKey).Value())
	if len(secret) == 0 {
		return nil, nil, errNoSecret
	}

	documentURL := cfg.Get(common.DownloadsURLKey).Value()
	if len(documentURL) == 0 {
		return nil, nil, errNoSource
	}

	strategy, err := fingerprint.New(cfg.Get(common.FingerprintStrategyKey).Value(), cfg.Get(common.DeviceIDHeaderKey).Value())
	if err != nil {
		return nil, nil, err
	}

	reg, err := registry.NewRegistry(store, registry.Policy{
		MaxDevices:  config.AsInt(cfg.Get(common.MaxDevicesKey), 3),
		DeviceTTL:   config.AsDuration(cfg.Get(common.DeviceTTLKey), 0),
		Concurrency: cfg.Get(common.ConcurrencyKey).Value(),
		MaxRetries:  config.AsInt(cfg.Get(common.CASRetriesKey), 5),
	}, metrics)
	if err != nil {
		return nil, nil, err
	}

	cache, err := db.NewMemoryCache[string, *downloads.Document](config.AsDuration(cfg.Get(common.DownloadsTTLKey), 5*time.Minute), documentCacheSize)
	if err != nil {
		return nil, nil, err
	}

	resolver := downloads.NewResolver(documentURL, cache, nil /*client*/)
	tokens := signature.NewTransferTokens(secret, config.AsDuration(cfg.Get(common.TransferTTLKey), 10*time.Minute))

	g := gate.New(gate.Options{
		Secret:            secret,
		ConflictURL:       cfg.Get(common.ConflictURLKey).Value(),
		TransferMode:      cfg.Get(common.TransferModeKey).Value(),
		ValidateZoneFirst: config.AsBool(cfg.Get(common.ValidateZoneFirstKey)),
	}, strategy, reg, resolver, tokens)

	slog.Info("Configured gate", "strategy", strategy.Name(), "maxDevices", reg.Policy().MaxDevices,
		"concurrency", reg.Policy().Concurrency, "transfer", cfg.Get(common.TransferModeKey).Value())

	return g, resolver, nil
}

func run(ctx context.Context, cfg common.ConfigStore, stderr io.Writer) error {
	stage := cfg.Get(common.StageKey).Value()
	common.SetupLogs(stage, config.AsBool(cfg.Get(common.VerboseKey)))

	backends, err := db.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	metrics := monitoring.NewService()
	store := backends.BindingStore()

	g, resolver, err := newGate(cfg, store, metrics)
	if err != nil {
		return err
	}

	pages, err := web.NewPages(ctx)
	if err != nil {
		return err
	}

	var accessLog api.AccessLogWriter
	timeSeries := backends.TimeSeries()
	if timeSeries != nil {
		accessLog = timeSeries
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	apiServer := api.NewServer(g, downloads.NewTransfer(nil /*client*/), metrics, pages, accessLog, cfg)

	router := http.NewServeMux()
	apiServer.Setup(router)

	_, withSystemd := os.LookupEnv("NOTIFY_SOCKET")
	healthCheck := maintenance.NewHealthCheckJob(router, cfg.Get(common.HealthCheckIntervalKey), withSystemd)
	healthCheck.AddCheck("bindings", store)
	if timeSeries != nil {
		healthCheck.AddCheck("clickhouse", timeSeries)
	}

	router.HandleFunc(http.MethodGet+" /"+common.HealthEndpoint, healthCheck.HandlerFunc)
	router.HandleFunc(http.MethodGet+" /"+common.LiveEndpoint, healthCheck.LiveHandler)

	jobs := maintenance.NewJobs()
	jobs.Add(healthCheck)
	jobs.Add(&maintenance.DocumentRefreshJob{
		Fetcher:       resolver,
		RefreshPeriod: config.AsDuration(cfg.Get(common.DownloadsTTLKey), 5*time.Minute) / 2,
	})
	jobs.Run()

	httpServer := &http.Server{
		Addr:              config.ListenAddress(cfg),
		Handler:           router,
		ReadHeaderTimeout: 4 * time.Second,
		ReadTimeout:       10 * time.Second,
		MaxHeaderBytes:    64 * 1024,
		// proxied transfers stream large artifacts
		WriteTimeout: 30 * time.Minute,
	}

	go func() {
		slog.Info("Listening", "address", httpServer.Addr, "version", GitCommit, "stage", stage)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Error listening and serving", common.ErrAttr(err))
		}
	}()

	var localServer *http.Server
	if localAddress := cfg.Get(common.LocalAddressKey).Value(); len(localAddress) > 0 {
		localRouter := http.NewServeMux()
		metrics.Setup(localRouter)
		jobs.Setup(localRouter)
		localServer = &http.Server{
			Addr:              localAddress,
			Handler:           localRouter,
			ReadHeaderTimeout: 4 * time.Second,
		}

		go func() {
			slog.Info("Listening for internal requests", "address", localAddress)
			if err := localServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Error serving internal requests", common.ErrAttr(err))
			}
		}()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				cfg.Update(context.WithValue(ctx, common.TraceIDContextKey, "config_reload"))
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		slog.Debug("Shutting down gracefully...")
		healthCheck.Shutdown(ctx)
		jobs.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(stderr, "error shutting down http server: %s\n", err)
		}
		if localServer != nil {
			_ = localServer.Shutdown(shutdownCtx)
		}
		apiServer.Shutdown()
		slog.Debug("Shutdown finished")
	}()

	wg.Wait()
	return nil
}

func migrate(ctx context.Context, cfg common.ConfigStore, up bool) error {
	common.SetupLogs(cfg.Get(common.StageKey).Value(), config.AsBool(cfg.Get(common.VerboseKey)))

	ctx = context.WithValue(ctx, common.TraceIDContextKey, "migration")
	return db.Migrate(ctx, cfg, up)
}

func main() {
	flag.Parse()

	envMap, err := common.NewEnvMap(*envFileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}

	cfg := config.NewEnvConfig(envMap)

	switch *flagMode {
	case modeRun:
		err = run(context.Background(), cfg, os.Stderr)
	case modeMigrate:
		err = migrate(context.Background(), cfg, true /*up*/)
	case modeRollback:
		err = migrate(context.Background(), cfg, false /*up*/)
	default:
		err = fmt.Errorf("unknown mode: '%s'", *flagMode)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
