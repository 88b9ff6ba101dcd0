package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/stepdash/backend/internal/api"
	"github.com/stepdash/backend/internal/config"
	"github.com/stepdash/backend/internal/inference"
	"github.com/stepdash/backend/internal/parser"
	"github.com/stepdash/backend/internal/session"
	"github.com/stepdash/backend/internal/storage"
	"github.com/stepdash/backend/internal/upload"
	"github.com/stepdash/backend/internal/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	v := config.NewViper()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadConfig(configPath, v)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			log, err := newLogger(cfg.Advanced.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, configPath, log)
		},
	}

	flags := cmd.Flags()
	flags.Int(config.KeyPort, 0, "Listen port (overrides the config file)")
	flags.String(config.KeyBind, "", "Bind address")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("data-dir", "", "Data directory for uploads and grid tables")
	flags.String("default-flow", "", "Flow used when a wizard is created without one")

	_ = v.BindPFlag(config.KeyPort, flags.Lookup(config.KeyPort))
	_ = v.BindPFlag(config.KeyBind, flags.Lookup(config.KeyBind))
	_ = v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	_ = v.BindPFlag(config.KeyDataDir, flags.Lookup("data-dir"))
	_ = v.BindPFlag(config.KeyDefaultFlow, flags.Lookup("default-flow"))
	return cmd
}

// runServe wires the components and blocks until ctx is cancelled or a
// component fails.
func runServe(ctx context.Context, cfg *config.AppConfig, configPath string, log *zap.Logger) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	maxUpload, err := cfg.MaxUploadBytes()
	if err != nil {
		return err
	}
	fileStore, err := storage.NewLocalStore(cfg.Storage.UploadsDirectory, maxUpload)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	sessionMgr, err := session.NewManager(catalog, session.Options{
		TempDir:     cfg.Storage.TempDirectory,
		MaxSessions: cfg.Processing.MaxSessions,
		Duck: parser.DuckOptions{
			Threads:     cfg.Advanced.DuckDBThreads,
			MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
		},
	}, log)
	if err != nil {
		return err
	}
	defer sessionMgr.Close()

	uploadMgr := upload.NewManager(fileStore, parser.GetGlobalRegistry(), log)
	defer uploadMgr.Close()

	hf := inference.New(inference.Options{
		APIKey:       cfg.Inference.APIKey,
		InferenceURL: cfg.Inference.InferenceURL,
		ChatURL:      cfg.Inference.ChatURL,
		HubURL:       cfg.Inference.HubURL,
		Timeout:      time.Duration(cfg.Inference.TimeoutSeconds) * time.Second,
	}, log)
	if !hf.HasAPIKey() {
		log.Warn("HUGGINGFACE_API_KEY is not set; inference requests will fail")
	}

	e := newEcho(cfg, log)
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:       fileStore,
		Sessions:    sessionMgr,
		Jobs:        uploadMgr,
		Inference:   hf,
		DefaultFlow: cfg.Wizard.DefaultFlow,
		AllowedExts: cfg.AllowedExtensions(),
		WSReadLimit: int64(cfg.Advanced.WebSocketMaxMessageSize) * 1024,
		Version:     Version,
		Logger:      log,
	}))

	frontend := "disabled"
	if dir := cfg.Server.StaticDirectory; dir != "" {
		if err := web.RegisterStaticRoutes(e, os.DirFS(dir)); err != nil {
			log.Warn("front end not served", zap.String("dir", dir), zap.Error(err))
		} else {
			frontend = dir
		}
	}

	srv := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	printBanner(configPath, cfg, frontend)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := e.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return e.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sessionMgr.RunCleanup(gctx, cfg.CleanupInterval(), cfg.SessionTimeout())
	})
	g.Go(func() error {
		return uploadMgr.RunPruner(gctx, cfg.CleanupInterval(), cfg.JobRetention())
	})
	return g.Wait()
}

// newEcho creates the echo instance with the middleware stack.
func newEcho(cfg *config.AppConfig, log *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = api.NewErrorHandler(log, cfg.Advanced.LogLevel == "debug")

	e.Use(requestLogger(log.Named("http"), cfg.Advanced.EnableRequestLogging))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Error("panic recovered", zap.Error(err), zap.ByteString("stack", stack))
			return err
		},
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/ws") ||
				strings.HasSuffix(path, "/files") ||
				path == "/api/huggingface"
		},
		ErrorMessage: "Request timeout - query took too long",
	}))

	// Compression middleware
	if cfg.Processing.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.Processing.CompressionLevel,
			Skipper: func(c echo.Context) bool {
				return strings.HasSuffix(c.Request().URL.Path, "/ws")
			},
		}))
	}

	// Body limit middleware
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 1 && origins[0] == "" {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, api.HeaderHuggingFaceKey},
		}))
	}
	return e
}

func printBanner(configPath string, cfg *config.AppConfig, frontend string) {
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           stepdash wizard server                          ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Flow:       %-45s║\n", cfg.Wizard.DefaultFlow)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.Storage.DataDirectory)
	fmt.Printf("║  Front end: %-46s║\n", frontend)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
}
