package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/common/fsutil"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/config"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/httpapi"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/plugins/histogram"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/plugins/localloader"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/plugins/remotevision"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/registry"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/resources"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/solution"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/store"
)

func main() {
	// Flags with environment variable defaults
	defaultAddr := ":8080"
	if v := os.Getenv("SOLUTIOND_ADDR"); v != "" {
		defaultAddr = v
	}
	addr := flag.String("addr", defaultAddr, "HTTP listen address, e.g. :8080")
	configPath := flag.String("config", os.Getenv("SOLUTIOND_CONFIG"), "Path to config file (.yaml/.json/.toml)")
	dataDir := flag.String("data-dir", "data", "Directory for locally stored resource payloads")
	dbType := flag.String("db-type", "sqlite", "Storage backend: sqlite or postgres")
	dbDSN := flag.String("db-dsn", "", "Storage DSN (file path for sqlite, connection string for postgres)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	cfg := config.Config{}
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fatalLog := zerolog.New(os.Stderr)
			fatalLog.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
		}
	}
	// Flags win over the config file, the config file over defaults.
	if cfg.Addr == "" {
		cfg.Addr = *addr
	}
	if cfg.DataDir == "" {
		cfg.DataDir = *dataDir
	}
	if cfg.DB.Type == "" {
		cfg.DB.Type = *dbType
	}
	if cfg.DB.DSN == "" {
		cfg.DB.DSN = *dbDSN
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = *logLevel
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Str("svc", "solutiond").Logger()
	httpapi.SetLogger(log)

	if cfg.DataDir, err = fsutil.ExpandHome(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Msg("failed to resolve data dir")
	}
	if err := fsutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("failed to create data dir")
	}

	st, err := store.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}
	for _, ns := range []string{store.NamespaceModels, store.NamespaceResources} {
		if err := st.EnsureNamespace(ctx, ns); err != nil {
			log.Fatal().Err(err).Str("namespace", ns).Msg("failed to provision id namespace")
		}
	}

	reg := registry.New(st, log)
	if err := reg.RegisterLoader(ctx, localloader.New(cfg.DataDir)); err != nil {
		log.Fatal().Err(err).Msg("failed to register local photo loader")
	}
	resMgr := resources.NewManager(st, reg, log)

	if err := reg.RegisterSolution(ctx, histogram.New(resMgr)); err != nil {
		log.Fatal().Err(err).Msg("failed to register histogram classifier")
	}
	if cfg.RemoteVision.Endpoint != "" {
		if err := reg.RegisterSolution(ctx, remotevision.New(cfg.RemoteVision, resMgr)); err != nil {
			log.Fatal().Err(err).Msg("failed to register remote vision classifier")
		}
	}

	solMgr := solution.NewManager(st, reg, log)

	if cfg.MaxBodyBytes > 0 {
		httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	}
	if cfg.MaxUploadBytes > 0 {
		httpapi.SetMaxUploadBytes(cfg.MaxUploadBytes)
	}
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	mux := httpapi.NewMux(solMgr, resMgr, st)
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("db", cfg.DB.Type).Msg("solutiond listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
}
